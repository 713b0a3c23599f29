// Package config loads process-wide configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SandboxMode selects how foreground shell-tool calls run: as host processes
// (local) or each inside a disposable container (docker). The workspace,
// background children, and the dev server always run on the host.
type SandboxMode string

const (
	SandboxModeLocal  SandboxMode = "local"
	SandboxModeDocker SandboxMode = "docker"
)

// Config is the process-wide configuration for the runtime. Per-session
// values (workspace paths, allocated ports) live on the Session, never here.
type Config struct {
	// Port is the HTTP listen port for the control surface and WS upgrade.
	Port string

	// ReasoningModelAPIKey authenticates the reasoning-model subprocess.
	ReasoningModelAPIKey string

	// ReasoningModelCommand is the binary (plus args) used to spawn the
	// reasoning-model subprocess transport. When empty, every session fails
	// to initialize its transport; there is no in-process fallback.
	ReasoningModelCommand []string

	SandboxMode SandboxMode

	// WorkspaceRoot is the parent directory under which every session's
	// workspace subtree is created.
	WorkspaceRoot string

	// PreviewPortRangeStart/End bound the per-session preview port pool.
	PreviewPortRangeStart int
	PreviewPortRangeEnd   int

	// PreviewPublicBase is the scheme+host prefix used to build preview URLs,
	// e.g. "http://localhost" — the allocated port is appended.
	PreviewPublicBase string

	// TurnTimeout bounds one chat turn end-to-end.
	TurnTimeout time.Duration

	// DisconnectGracePeriod is how long a session survives after a clean
	// disconnect before its Agent Session and workspace are torn down.
	DisconnectGracePeriod time.Duration

	// ChildProcessGrace is how long a terminated child process is given to
	// exit before the supervisor escalates to a kill signal.
	ChildProcessGrace time.Duration

	// MaxConsecutiveBuildFailures bounds the self-correction loop before the
	// build-failure hook gives up and reports a terminal error.
	MaxConsecutiveBuildFailures int

	// SubAgentRegistryPath optionally overrides the built-in sub-agent
	// registry with a YAML file (see internal/subagents).
	SubAgentRegistryPath string

	// RemoveWorkspaceOnTeardown enables deleting the workspace directory
	// when a session is destroyed, instead of retaining it for inspection.
	RemoveWorkspaceOnTeardown bool

	DockerHost string

	Environment string

	// PreviewCredentials are external-service credentials consumed only by
	// the running preview, never by the core itself (spec §6). Sourced from
	// process environment variables prefixed PREVIEW_ENV_, with the prefix
	// stripped, e.g. PREVIEW_ENV_STRIPE_KEY=sk_test_... becomes STRIPE_KEY.
	PreviewCredentials map[string]string
}

// Load reads configuration from the process environment, optionally after
// loading a local .env file (ignored if absent).
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using process environment")
	}

	return &Config{
		Port:                        envOr("PORT", "8080"),
		ReasoningModelAPIKey:        os.Getenv("REASONING_MODEL_API_KEY"),
		ReasoningModelCommand:       envCommand("REASONING_MODEL_COMMAND"),
		SandboxMode:                 SandboxMode(envOr("SANDBOX_MODE", string(SandboxModeLocal))),
		WorkspaceRoot:               envOr("WORKSPACE_ROOT", "/tmp/agentforge-workspaces"),
		PreviewPortRangeStart:       envInt("PREVIEW_PORT_RANGE_START", 9000),
		PreviewPortRangeEnd:         envInt("PREVIEW_PORT_RANGE_END", 9999),
		PreviewPublicBase:           envOr("PREVIEW_PUBLIC_BASE", "http://localhost"),
		TurnTimeout:                 envDuration("TURN_TIMEOUT", 5*time.Minute),
		DisconnectGracePeriod:       envDuration("DISCONNECT_GRACE_PERIOD", 60*time.Second),
		ChildProcessGrace:           envDuration("CHILD_PROCESS_GRACE", 5*time.Second),
		MaxConsecutiveBuildFailures: envInt("MAX_CONSECUTIVE_BUILD_FAILURES", 3),
		SubAgentRegistryPath:        os.Getenv("SUBAGENT_REGISTRY_PATH"),
		RemoveWorkspaceOnTeardown:   envBool("REMOVE_WORKSPACE_ON_TEARDOWN", false),
		DockerHost:                  envOr("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Environment:                 envOr("ENVIRONMENT", "development"),
		PreviewCredentials:          envMapWithPrefix("PREVIEW_ENV_"),
	}
}

// Validate reports a configuration error suitable for a non-zero startup exit.
func (c *Config) Validate() error {
	if c.ReasoningModelAPIKey == "" && len(c.ReasoningModelCommand) == 0 {
		return errMissingModelConfig
	}
	if c.PreviewPortRangeStart <= 0 || c.PreviewPortRangeEnd <= c.PreviewPortRangeStart {
		return errBadPortRange
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envMapWithPrefix collects every process environment variable whose name
// starts with prefix into a map keyed by the name with prefix stripped.
// Returns nil (not an empty map) when nothing matches, so callers can treat
// "no credentials configured" as a simple zero value.
func envMapWithPrefix(prefix string) map[string]string {
	var out map[string]string
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[strings.TrimPrefix(key, prefix)] = value
	}
	return out
}

func envCommand(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return splitFields(v)
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
