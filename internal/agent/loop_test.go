package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prospector-io/prospector/models"
)

// scriptedProvider returns queued decisions in order, repeating the last
// one when the script runs out.
type scriptedProvider struct {
	decisions []Decision
	calls     int
}

func (s *scriptedProvider) Decide(ctx context.Context, system string, conv []Message, tools []ToolDef) (Decision, error) {
	i := s.calls
	s.calls++
	if i >= len(s.decisions) {
		i = len(s.decisions) - 1
	}
	return s.decisions[i], nil
}

type countingRecorder struct {
	investigations map[string]int
	zeroSkips      int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{investigations: make(map[string]int)}
}
func (r *countingRecorder) RecordInvestigation(terminal string) { r.investigations[terminal]++ }
func (r *countingRecorder) RecordZeroToolCallSkip()             { r.zeroSkips++ }
func (r *countingRecorder) RecordLLMUsage(in, out int64)        {}

func noopRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.Register(Tool{
		Def: ToolDef{Name: ToolReadComments, Parameters: schema(`{}`)},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return `{"count":0}`, nil
		},
	})
	r.Register(Tool{Def: ToolDef{Name: ToolSubmit, Parameters: schema(`{}`)}, Terminal: true})
	r.Register(Tool{Def: ToolDef{Name: ToolSkip, Parameters: schema(`{}`)}, Terminal: true})
	return r
}

func testCandidate() models.Candidate {
	return models.Candidate{
		Post:        models.Post{ID: "t3_abc", Subreddit: "smallbusiness", Title: "Looking for ERP recs"},
		Tier:        models.TierHigh,
		Layer1Score: 90,
	}
}

func call(name, args string) ToolCall {
	return ToolCall{ID: "c-" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestLoopForcesSkipAfterToolBudget(t *testing.T) {
	// Model never calls a terminal tool: the loop must return a forced
	// skip after exactly 8 executed tool calls.
	p := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{call(ToolReadComments, `{"post_id":"t3_abc"}`)}},
	}}
	rec := newCountingRecorder()
	l := NewLoop(p, noopRegistry(t), Budget{MaxToolCalls: 8, MaxWallClock: time.Hour}, nil, rec)

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if out.Terminal != TerminalForced {
		t.Fatalf("terminal = %s, want forced-termination", out.Terminal)
	}
	if out.SkipReason != ReasonToolBudget {
		t.Fatalf("reason = %q, want %q", out.SkipReason, ReasonToolBudget)
	}
	if out.Iterations != 8 {
		t.Fatalf("iterations = %d, want exactly 8", out.Iterations)
	}
	if rec.investigations[TerminalForced] != 1 {
		t.Fatalf("recorder saw %d forced terminations, want 1", rec.investigations[TerminalForced])
	}
}

func TestLoopForcesSkipOnWallClock(t *testing.T) {
	p := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{call(ToolReadComments, `{"post_id":"t3_abc"}`)}},
	}}
	l := NewLoop(p, noopRegistry(t), Budget{MaxToolCalls: 100, MaxWallClock: 45 * time.Second}, nil, nil)
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		// Each observation advances simulated time past the budget after
		// a few rounds.
		now = now.Add(20 * time.Second)
		return now
	}

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if out.Terminal != TerminalForced || out.SkipReason != ReasonWallClockBudget {
		t.Fatalf("got %s/%q, want forced wall-clock skip", out.Terminal, out.SkipReason)
	}
}

func TestLoopZeroToolCallsDistinctReason(t *testing.T) {
	p := &scriptedProvider{decisions: []Decision{{Content: "hmm, not sure"}}}
	rec := newCountingRecorder()
	l := NewLoop(p, noopRegistry(t), Budget{}, nil, rec)

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if out.Terminal != TerminalForced || out.SkipReason != ReasonNoToolCalls {
		t.Fatalf("got %s/%q, want forced no-tool-calls skip", out.Terminal, out.SkipReason)
	}
	if rec.zeroSkips != 1 {
		t.Fatalf("zero-tool-call counter = %d, want 1", rec.zeroSkips)
	}
}

func TestLoopSubmitTerminal(t *testing.T) {
	sub := `{"classification":"hot_lead","scores":{"intent":90,"urgency":80,"fit":85,"authority":70,"engagement":60},"intent_analysis":"actively evaluating vendors","draft_response":"a helpful reply","promotional_score":0.1,"investigation_summary":"author is a plant manager comparing ERPs"}`
	p := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{call(ToolReadComments, `{"post_id":"t3_abc"}`)}},
		{ToolCalls: []ToolCall{call(ToolSubmit, sub)}},
	}}
	l := NewLoop(p, noopRegistry(t), Budget{}, nil, nil)

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if out.Terminal != TerminalSubmitted || out.Submission == nil {
		t.Fatalf("expected submission, got %+v", out)
	}
	if out.Submission.Classification != "hot_lead" {
		t.Fatalf("classification = %q", out.Submission.Classification)
	}
	// intent 90*0.30 + urgency 80*0.20 + fit 85*0.20 + authority 70*0.15 + engagement 60*0.15 = 79.5 -> 80
	if got := out.Submission.Scores.Weighted(); got != 80 {
		t.Fatalf("weighted layer-2 score = %d, want 80", got)
	}
	if out.Iterations != 1 || len(out.ToolsUsed) != 1 || out.ToolsUsed[0] != ToolReadComments {
		t.Fatalf("iterations/tools wrong: %d %v", out.Iterations, out.ToolsUsed)
	}
}

func TestLoopTerminalWinsWithinRound(t *testing.T) {
	// A terminal call ends the loop immediately; later calls requested in
	// the same round are ignored, not executed.
	executed := 0
	r := NewRegistry()
	r.Register(Tool{
		Def: ToolDef{Name: ToolReadComments, Parameters: schema(`{}`)},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			executed++
			return "{}", nil
		},
	})
	r.Register(Tool{Def: ToolDef{Name: ToolSkip, Parameters: schema(`{}`)}, Terminal: true})
	p := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{
			call(ToolSkip, `{"reason":"vendor astroturf"}`),
			call(ToolReadComments, `{"post_id":"t3_abc"}`),
		}},
	}}
	l := NewLoop(p, r, Budget{}, nil, nil)

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if out.Terminal != TerminalSkipped || out.SkipReason != "vendor astroturf" {
		t.Fatalf("got %+v, want skip with reason", out)
	}
	if executed != 0 {
		t.Fatalf("tool after terminal was executed %d times, want 0", executed)
	}
}

func TestLoopToolErrorSurfacesToModel(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Def: ToolDef{Name: ToolReadComments, Parameters: schema(`{}`)},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("upstream 503")
		},
	})
	r.Register(Tool{Def: ToolDef{Name: ToolSkip, Parameters: schema(`{}`)}, Terminal: true})
	p := &scriptedProvider{decisions: []Decision{
		{ToolCalls: []ToolCall{call(ToolReadComments, `{"post_id":"t3_abc"}`)}},
		{ToolCalls: []ToolCall{call(ToolSkip, `{"reason":"could not verify"}`)}},
	}}
	l := NewLoop(p, r, Budget{}, nil, nil)

	out, err := l.Investigate(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("tool errors must not abort the loop: %v", err)
	}
	if out.Terminal != TerminalSkipped {
		t.Fatalf("terminal = %s, want skipped", out.Terminal)
	}
}

func TestLayer2WeightsSumToHundred(t *testing.T) {
	full := Layer2Scores{Intent: 100, Urgency: 100, Fit: 100, Authority: 100, Engagement: 100}
	if got := full.Weighted(); got != 100 {
		t.Fatalf("weights do not sum to 100: full score = %d", got)
	}
	if got := (Layer2Scores{}).Weighted(); got != 0 {
		t.Fatalf("zero scores = %d, want 0", got)
	}
}
