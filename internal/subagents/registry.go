// Package subagents implements the Sub-agent Registry (C7): a fixed map
// from sub-agent name to its description, system prompt, permitted tool
// subset, and model tier hint (spec §4.7).
//
// Names and roles are grounded on original_source/backend/app/agent.py's
// AgentDefinition list (code-reviewer, error-fixer, component-generator,
// data-explorer) plus the names spec §4.5/§4.7 require hooks be able to
// address (planner, security-reviewer, plan-validator, requirements-analyzer).
package subagents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelTier hints which underlying model size a sub-agent should run on.
type ModelTier string

const (
	TierSmall ModelTier = "small"
	TierLarge ModelTier = "large"
)

// Definition is one named, restricted reasoning profile.
type Definition struct {
	Name         string    `yaml:"name"`
	Description  string    `yaml:"description"`
	SystemPrompt string    `yaml:"system_prompt"`
	AllowedTools []string  `yaml:"allowed_tools"`
	Tier         ModelTier `yaml:"tier"`
}

// Registry is the fixed map consulted by the delegation tool and by hooks.
type Registry map[string]Definition

// Get returns the named definition, or false if it is not registered.
func (r Registry) Get(name string) (Definition, bool) {
	d, ok := r[name]
	return d, ok
}

// Default returns the built-in registry every runtime ships with.
func Default() Registry {
	defs := []Definition{
		{
			Name:         "code-reviewer",
			Description:  "Reviews a failed or risky change and identifies the root cause.",
			SystemPrompt: "You review code for correctness after a build or test failure. Identify the root cause precisely; do not fix it yourself.",
			AllowedTools: []string{"Read", "Grep", "Glob"},
			Tier:         TierSmall,
		},
		{
			Name:         "error-fixer",
			Description:  "Applies a targeted fix for an error identified by code-reviewer.",
			SystemPrompt: "You fix a specific, already-diagnosed error using the smallest possible edit.",
			AllowedTools: []string{"Read", "Edit", "Bash"},
			Tier:         TierLarge,
		},
		{
			Name:         "security-reviewer",
			Description:  "Reviews the workspace for security issues before the preview server may start.",
			SystemPrompt: "You audit the current workspace for secrets, injection risks, and unsafe shell usage. Call mark-security-review-passed only if the workspace is clean.",
			AllowedTools: []string{"Read", "Grep", "Glob", "mark-security-review-passed"},
			Tier:         TierLarge,
		},
		{
			Name:         "planner",
			Description:  "Produces an implementation plan from the clarified requirements.",
			SystemPrompt: "You turn clarified requirements into a concrete, ordered implementation plan.",
			AllowedTools: []string{"Read", "Grep", "Glob"},
			Tier:         TierLarge,
		},
		{
			Name:         "requirements-analyzer",
			Description:  "Extracts concrete requirements and open questions from the user's request.",
			SystemPrompt: "You extract concrete, testable requirements from a natural-language app description and list any ambiguities that need clarification.",
			AllowedTools: []string{"Read"},
			Tier:         TierSmall,
		},
		{
			Name:         "plan-validator",
			Description:  "Checks a proposed plan against the curated component catalogue and project scaffold.",
			SystemPrompt: "You check whether a proposed plan is buildable with the available scaffold and curated components, flagging any step that is not.",
			AllowedTools: []string{"Read", "Glob"},
			Tier:         TierSmall,
		},
		{
			Name:         "component-generator",
			Description:  "Generates a new UI component matching the project's conventions.",
			SystemPrompt: "You generate a single new component file consistent with the existing project conventions and curated component catalogue.",
			AllowedTools: []string{"Read", "Write", "Glob"},
			Tier:         TierLarge,
		},
		{
			Name:         "data-explorer",
			Description:  "Discovers available external data sources before a data-driven build.",
			SystemPrompt: "You discover what data is available from the configured external data platform and summarize it concisely.",
			AllowedTools: []string{"mcp__data__list_tables", "mcp__data__query_tables"},
			Tier:         TierSmall,
		},
	}

	reg := make(Registry, len(defs))
	for _, d := range defs {
		reg[d.Name] = d
	}
	return reg
}

// LoadOverrides merges a YAML file of Definitions on top of the default
// registry (SPEC_FULL DOMAIN STACK: gopkg.in/yaml.v3). Entries in the file
// override the built-in entry of the same name; new names are added.
func LoadOverrides(path string) (Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subagents: read registry override: %w", err)
	}
	var overrides []Definition
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("subagents: parse registry override: %w", err)
	}
	for _, d := range overrides {
		reg[d.Name] = d
	}
	return reg, nil
}
