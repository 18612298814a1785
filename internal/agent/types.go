// Package agent implements the bounded tool-calling investigation loop and
// its fixed capability registry.
package agent

import (
	"encoding/json"
	"math"
)

// Message is one turn in the model conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested capability invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDef declares a capability to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Decision is one model turn: free text plus zero or more tool calls.
type Decision struct {
	Content      string
	ToolCalls    []ToolCall
	InputTokens  int64
	OutputTokens int64
}

// Terminal outcome kinds for an investigation.
const (
	TerminalSubmitted = "submitted"
	TerminalSkipped   = "skipped"
	TerminalForced    = "forced-termination"
)

// Forced-termination reasons. Zero-tool-call turns are logged distinctly
// from genuine budget exhaustion for observability.
const (
	ReasonNoToolCalls     = "model returned no tool calls"
	ReasonToolBudget      = "tool-call budget exhausted"
	ReasonWallClockBudget = "wall-clock budget exhausted"
)

// Layer2Scores are the five weighted sub-dimensions of the Layer-2 score.
// The weights are fixed business policy and sum to 100.
type Layer2Scores struct {
	Intent     int `json:"intent"`
	Urgency    int `json:"urgency"`
	Fit        int `json:"fit"`
	Authority  int `json:"authority"`
	Engagement int `json:"engagement"`
}

// Weighted collapses the sub-dimensions into a 0-100 score:
// intent 30, urgency 20, fit 20, authority 15, engagement 15.
func (s Layer2Scores) Weighted() int {
	total := float64(s.Intent)*0.30 +
		float64(s.Urgency)*0.20 +
		float64(s.Fit)*0.20 +
		float64(s.Authority)*0.15 +
		float64(s.Engagement)*0.15
	v := int(math.Round(total))
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v
}

// Submission is the payload of a submit_opportunity terminal call.
type Submission struct {
	Classification   string                 `json:"classification"`
	Scores           Layer2Scores           `json:"scores"`
	IntentAnalysis   string                 `json:"intent_analysis"`
	Signals          map[string]interface{} `json:"signals,omitempty"`
	DraftResponse    string                 `json:"draft_response,omitempty"`
	ResponseStyle    string                 `json:"response_style,omitempty"`
	PromotionalScore float64                `json:"promotional_score,omitempty"`
	Summary          string                 `json:"investigation_summary"`
}

// Outcome is the single terminal result of one investigation. The loop
// always produces exactly one: submitted, skipped, or forced-termination
// (treated identically to skip with a distinguishing reason).
type Outcome struct {
	Terminal   string      `json:"terminal"`
	Submission *Submission `json:"submission,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Summary    string      `json:"investigation_summary,omitempty"`
	Iterations int         `json:"iterations"`
	ToolsUsed  []string    `json:"tools_used,omitempty"`
}
