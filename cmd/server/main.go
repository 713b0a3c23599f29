// Command server runs the agent runtime: session creation, the streaming
// websocket channel, health, and metrics.
//
// Grounded on backend/main.go's initDB/initAI/setupRouter/getPort helper
// split and graceful-shutdown signal handling, with the root command itself
// taken from billm-baaaht's cmd/orchestrator/main.go cobra.Command{RunE: ...}
// pattern.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/internal/audit"
	"github.com/agentforge/core/internal/config"
	"github.com/agentforge/core/internal/hooks"
	"github.com/agentforge/core/internal/httpapi"
	"github.com/agentforge/core/internal/logging"
	"github.com/agentforge/core/internal/sandbox"
	"github.com/agentforge/core/internal/session"
	"github.com/agentforge/core/internal/state"
	"github.com/agentforge/core/internal/subagents"
	"github.com/agentforge/core/internal/tools"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "agentforge-core runtime server",
	Long: `server is the session orchestration runtime: it spawns one sandboxed
workspace and reasoning-model conversation per session, streams the turn
protocol over a websocket, and supervises the dev server and build loop
inside each sandbox.`,
	RunE: runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	registry, err := subagents.LoadOverrides(cfg.SubAgentRegistryPath)
	if err != nil {
		return fmt.Errorf("load sub-agent registry: %w", err)
	}

	manager := session.NewManager(newSessionFactory(cfg, registry), session.Config{
		DisconnectGrace:           cfg.DisconnectGracePeriod,
		RemoveWorkspaceOnTeardown: cfg.RemoveWorkspaceOnTeardown,
		ChildProcessGrace:         cfg.ChildProcessGrace,
		TurnTimeout:               cfg.TurnTimeout,
		Logger:                    log,
	})

	router := httpapi.NewRouter(manager, cfg.Environment)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the websocket handler owns its own deadlines
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("shut down gracefully")
	return nil
}

// newSessionFactory builds the session.Factory that wires a fresh sandbox,
// Agent Session, and Hook Pipeline for each new session ID (spec §9: no
// process-global sandbox or agent state).
func newSessionFactory(cfg *config.Config, registry subagents.Registry) session.Factory {
	return func(ctx context.Context, sessionID string) (*session.Session, error) {
		sup, err := sandbox.NewSupervisor(sandbox.Config{
			WorkspaceRoot:      cfg.WorkspaceRoot,
			SessionID:          sessionID,
			PortRangeStart:     cfg.PreviewPortRangeStart,
			PortRangeEnd:       cfg.PreviewPortRangeEnd,
			PublicBase:         cfg.PreviewPublicBase,
			PreviewCredentials: cfg.PreviewCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("create sandbox: %w", err)
		}

		reviewState := state.ReviewNone
		planningState := state.PlanningNotStarted

		auditLogger, err := audit.NewLogger(filepath.Join(sup.Workspace.Root, ".agentforge", "audit.jsonl"))
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}

		hookPipeline := hooks.New(&reviewState, &planningState, cfg.MaxConsecutiveBuildFailures, auditLogger, logging.ForSession(sessionID))
		hookPipeline.Resolve = sup.Workspace.Resolve

		toolsCtx := tools.Context{Supervisor: sup, ReviewState: &reviewState}
		if cfg.SandboxMode == config.SandboxModeDocker {
			runner, runnerErr := sandbox.NewContainerRunner(cfg.DockerHost, "")
			if runnerErr != nil {
				logging.ForSession(sessionID).Warn("docker sandbox isolation unavailable, falling back to host process execution", zap.Error(runnerErr))
			} else {
				toolsCtx.ContainerRunner = runner
			}
		}
		toolsCtx.Dispatch = agent.NewDelegate(registry, func() agent.Transport {
			return newTransport(cfg, sessionID)
		}, toolsCtx, hookPipeline)

		buildAgent := func(ctx context.Context) (*agent.Session, error) {
			ag := agent.New(sessionID, newTransport(cfg, sessionID), toolsCtx, hookPipeline)
			if err := ag.Initialize(ctx); err != nil {
				return nil, fmt.Errorf("initialize agent session: %w", err)
			}
			return ag, nil
		}

		agentSession, err := buildAgent(ctx)
		if err != nil {
			return nil, err
		}

		return &session.Session{
			Supervisor:    sup,
			Agent:         agentSession,
			ReviewState:   &reviewState,
			PlanningState: &planningState,
			RebuildAgent:  buildAgent,
		}, nil
	}
}

// newTransport builds the reasoning-model transport for one conversation.
// A configured REASONING_MODEL_COMMAND spawns the real subprocess; absent
// that, the process refuses to start sessions rather than silently falling
// back to a stub (config.Validate already requires one or the other).
func newTransport(cfg *config.Config, sessionID string) agent.Transport {
	return agent.NewSubprocessTransport(cfg.ReasoningModelCommand, cfg.ReasoningModelAPIKey, logging.ForSession(sessionID))
}
