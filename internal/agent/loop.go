package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prospector-io/prospector/models"
)

// Budget bounds one loop invocation. Exhaustion is a designed terminal
// state, not an error.
type Budget struct {
	MaxToolCalls int
	MaxWallClock time.Duration
}

// Recorder receives loop telemetry. Implementations must tolerate being
// called from the single goroutine driving the loop.
type Recorder interface {
	RecordInvestigation(terminal string)
	RecordZeroToolCallSkip()
	RecordLLMUsage(inputTokens, outputTokens int64)
}

// Loop is the Layer-2 investigation state machine: investigating → rounds
// of tool calls → exactly one terminal outcome. Budget checks wrap every
// round so the loop can never hang open.
type Loop struct {
	provider Provider
	registry *Registry
	budget   Budget
	logger   *log.Logger
	recorder Recorder

	now func() time.Time
}

// NewLoop builds an investigation loop over the given provider and registry.
func NewLoop(provider Provider, registry *Registry, budget Budget, logger *log.Logger, recorder Recorder) *Loop {
	if budget.MaxToolCalls <= 0 {
		budget.MaxToolCalls = 8
	}
	if budget.MaxWallClock <= 0 {
		budget.MaxWallClock = 45 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return &Loop{
		provider: provider,
		registry: registry,
		budget:   budget,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Investigate runs the bounded conversation for one candidate. It always
// returns exactly one terminal Outcome; an error return means the model
// backend itself failed and the caller should record a failed
// investigation.
func (l *Loop) Investigate(ctx context.Context, candidate models.Candidate) (Outcome, error) {
	start := l.now()
	deadline := start.Add(l.budget.MaxWallClock)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conv := []Message{{Role: "user", Content: renderCandidate(candidate)}}
	system := investigationSystemPrompt(l.budget.MaxToolCalls)
	defs := l.registry.Defs()

	toolCalls := 0
	toolsUsed := make([]string, 0, l.budget.MaxToolCalls)
	seen := make(map[string]bool)

	finish := func(o Outcome) Outcome {
		o.Iterations = toolCalls
		o.ToolsUsed = toolsUsed
		if l.recorder != nil {
			l.recorder.RecordInvestigation(o.Terminal)
		}
		return o
	}

	for {
		if l.now().After(deadline) {
			return finish(Outcome{Terminal: TerminalForced, SkipReason: ReasonWallClockBudget}), nil
		}

		decision, err := l.provider.Decide(ctx, system, conv, defs)
		if err != nil {
			if ctx.Err() != nil {
				// Deadline hit mid-call: bounded-cost guarantee, not an error.
				return finish(Outcome{Terminal: TerminalForced, SkipReason: ReasonWallClockBudget}), nil
			}
			return Outcome{}, fmt.Errorf("model decision: %w", err)
		}
		if l.recorder != nil {
			l.recorder.RecordLLMUsage(decision.InputTokens, decision.OutputTokens)
		}

		if len(decision.ToolCalls) == 0 {
			// Logged distinctly from budget exhaustion: may indicate a
			// prompting bug rather than a decision not to act.
			l.logger.Printf("post %s: model ended turn with zero tool calls", candidate.Post.ID)
			if l.recorder != nil {
				l.recorder.RecordZeroToolCallSkip()
			}
			return finish(Outcome{Terminal: TerminalForced, SkipReason: ReasonNoToolCalls, Summary: decision.Content}), nil
		}

		conv = append(conv, Message{Role: "assistant", Content: decision.Content, ToolCalls: decision.ToolCalls})

		for _, call := range decision.ToolCalls {
			tool, known := l.registry.Get(call.Name)
			if known && tool.Terminal {
				// Terminal recognized: everything after it in this round
				// is ignored.
				return finish(l.terminalOutcome(call)), nil
			}

			if toolCalls >= l.budget.MaxToolCalls {
				return finish(Outcome{Terminal: TerminalForced, SkipReason: ReasonToolBudget}), nil
			}
			if l.now().After(deadline) {
				return finish(Outcome{Terminal: TerminalForced, SkipReason: ReasonWallClockBudget}), nil
			}

			result, err := l.registry.Execute(ctx, call)
			if err != nil {
				// Tool failures are surfaced to the model, which may still
				// reach a terminal decision on remaining evidence.
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			toolCalls++
			if !seen[call.Name] {
				seen[call.Name] = true
				toolsUsed = append(toolsUsed, call.Name)
			}
			conv = append(conv, Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: result})
		}
	}
}

func (l *Loop) terminalOutcome(call ToolCall) Outcome {
	switch call.Name {
	case ToolSubmit:
		sub, err := parseSubmission(call.Arguments)
		if err != nil {
			l.logger.Printf("malformed submission, treating as skip: %v", err)
			return Outcome{Terminal: TerminalSkipped, SkipReason: "malformed submission payload"}
		}
		return Outcome{Terminal: TerminalSubmitted, Submission: sub, Summary: sub.Summary}
	case ToolSkip:
		reason, summary, err := parseSkip(call.Arguments)
		if err != nil {
			reason = "malformed skip payload"
		}
		return Outcome{Terminal: TerminalSkipped, SkipReason: reason, Summary: summary}
	default:
		return Outcome{Terminal: TerminalSkipped, SkipReason: "unknown terminal tool " + call.Name}
	}
}
