// Package telemetry exposes Prometheus metrics and the LLM cost tracker.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prospector-io/prospector/models"
)

var (
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_scans_total",
		Help: "Completed scan cycles.",
	})
	PostsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_posts_scanned_total",
		Help: "Posts fetched and considered by Layer-1.",
	})
	InvestigationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospector_investigations_total",
		Help: "Layer-2 investigations by terminal outcome.",
	}, []string{"terminal"})
	ZeroToolCallSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_zero_tool_call_skips_total",
		Help: "Investigations where the model returned no tool calls.",
	})
	GuardrailViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospector_guardrail_violations_total",
		Help: "Guardrail violations by rule and action.",
	}, []string{"rule", "action"})
	OpportunitiesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_opportunities_total",
		Help: "Opportunities persisted by the pipeline.",
	})
	AdAutoPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_ad_auto_pauses_total",
		Help: "Campaigns auto-paused by the performance sync.",
	})
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prospector_llm_tokens_total",
		Help: "LLM tokens by direction.",
	}, []string{"direction"})
	LLMCostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_llm_cost_usd_total",
		Help: "Estimated cumulative LLM spend in USD.",
	})
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prospector_rate_limit_waits_total",
		Help: "Times an outbound call blocked on the shared budget.",
	})
)

// Tracker implements the agent recorder and accumulates LLM cost.
type Tracker struct {
	mu           sync.Mutex
	costPerKIn   float64
	costPerKOut  float64
	inputTokens  int64
	outputTokens int64
	costUSD      float64
	costTracking bool
}

func NewTracker(costPer1KInput, costPer1KOutput float64, costTracking bool) *Tracker {
	return &Tracker{
		costPerKIn:   costPer1KInput,
		costPerKOut:  costPer1KOutput,
		costTracking: costTracking,
	}
}

func (t *Tracker) RecordInvestigation(terminal string) {
	InvestigationsTotal.WithLabelValues(terminal).Inc()
}

func (t *Tracker) RecordZeroToolCallSkip() {
	ZeroToolCallSkips.Inc()
}

func (t *Tracker) RecordLLMUsage(in, out int64) {
	LLMTokens.WithLabelValues("input").Add(float64(in))
	LLMTokens.WithLabelValues("output").Add(float64(out))
	if !t.costTracking {
		return
	}
	cost := float64(in)/1000*t.costPerKIn + float64(out)/1000*t.costPerKOut
	LLMCostUSD.Add(cost)

	t.mu.Lock()
	t.inputTokens += in
	t.outputTokens += out
	t.costUSD += cost
	t.mu.Unlock()
}

// RecordViolations counts each guardrail violation by rule and action.
func RecordViolations(violations []models.Violation) {
	for _, v := range violations {
		GuardrailViolations.WithLabelValues(v.Rule, string(v.Action)).Inc()
	}
}

// Totals returns the accumulated usage for the diagnostics endpoint.
func (t *Tracker) Totals() (inputTokens, outputTokens int64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens, t.costUSD
}
