// Package metrics exposes Prometheus counters for the agent runtime,
// mirroring the teacher's internal/metrics collector/middleware split but
// scoped to the concerns this core actually owns: sessions, tool calls,
// policy denials, and build self-correction cycles.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActiveSessions tracks live Session entries in the session table.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agentforge_active_sessions",
		Help: "Number of sessions currently tracked by the connection manager.",
	})

	// ToolCallsTotal counts every tool invocation attempt by tool and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_tool_calls_total",
		Help: "Total tool calls by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// PolicyDenialsTotal counts Policy Gate denials by rule.
	PolicyDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_policy_denials_total",
		Help: "Total Policy Gate denials by rule.",
	}, []string{"rule"})

	// BuildFailureCyclesTotal counts self-correction cycles triggered by the
	// build-failure hook, by whether the bound was hit.
	BuildFailureCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_build_failure_cycles_total",
		Help: "Self-correction cycles triggered by failed builds.",
	}, []string{"result"})

	// TurnDurationSeconds observes end-to-end turn latency.
	TurnDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentforge_turn_duration_seconds",
		Help:    "Duration of a single chat turn.",
		Buckets: prometheus.DefBuckets,
	})
)

// Registry is the process-wide Prometheus registry, exposed separately from
// prometheus.DefaultRegisterer so tests can build a private one.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(ActiveSessions, ToolCallsTotal, PolicyDenialsTotal, BuildFailureCyclesTotal, TurnDurationSeconds)
}
