package guardrails

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/models"
)

type fakeRules struct {
	rows  []models.Guardrail
	calls int
}

func (f *fakeRules) ListActiveGuardrails(ctx context.Context) ([]models.Guardrail, error) {
	f.calls++
	return f.rows, nil
}

type fakeHistory struct {
	global    int
	sub       int
	last      *time.Time
	campaigns int
	spend     int64
}

func (f *fakeHistory) CountResponsesSince(ctx context.Context, since time.Time) (int, error) {
	return f.global, nil
}
func (f *fakeHistory) CountSubredditResponsesSince(ctx context.Context, subreddit string, since time.Time) (int, error) {
	return f.sub, nil
}
func (f *fakeHistory) LastResponseAt(ctx context.Context, subreddit string) (*time.Time, error) {
	return f.last, nil
}
func (f *fakeHistory) CountCampaignsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	return f.campaigns, nil
}
func (f *fakeHistory) ActiveDailySpendCents(ctx context.Context) (int64, error) {
	return f.spend, nil
}

func newTestEngine(rules *fakeRules, hist *fakeHistory) *Engine {
	return NewEngine(rules, hist, config.GuardrailsConfig{
		MinResponseLength: 50,
		MaxResponseLength: 1500,
	}, "AcmeERP")
}

func okDraft() Draft {
	return Draft{Text: strings.Repeat("a helpful sentence. ", 5), PromotionalScore: 0.1}
}

func TestValidateDraftBrandMention(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	d := okDraft()
	d.Text += " You should try acmeerp for this."
	res, err := e.ValidateDraft(context.Background(), d)
	if err != nil {
		t.Fatalf("ValidateDraft: %v", err)
	}
	if res.Passed {
		t.Fatalf("brand mention must block, got %+v", res)
	}
}

func TestValidateDraftBrandSubstringDoesNotBlock(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	d := okDraft()
	d.Text += " The acmeerpish ecosystem is crowded."
	res, err := e.ValidateDraft(context.Background(), d)
	if err != nil {
		t.Fatalf("ValidateDraft: %v", err)
	}
	if !res.Passed {
		t.Fatalf("whole-word match required, got violations %+v", res.Violations)
	}
}

func TestValidateDraftURL(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	for _, u := range []string{"https://example.com/x", "www.example.org", "check example.io for details"} {
		d := okDraft()
		d.Text += " " + u
		res, _ := e.ValidateDraft(context.Background(), d)
		if res.Passed {
			t.Errorf("url %q must block", u)
		}
	}
}

func TestValidateDraftProhibitedPhrase(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	d := okDraft()
	d.Text += " There is a free trial available."
	res, _ := e.ValidateDraft(context.Background(), d)
	if res.Passed {
		t.Fatalf("prohibited phrase must block")
	}
}

func TestValidateDraftLengthBoundary(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})

	exact := Draft{Text: strings.Repeat("x", 50)}
	res, _ := e.ValidateDraft(context.Background(), exact)
	if !res.Passed {
		t.Fatalf("draft of exactly minLength must pass, got %+v", res.Violations)
	}
	for _, v := range res.Violations {
		if v.Rule == RuleMinResponseLength {
			t.Fatalf("exact minLength flagged: %+v", v)
		}
	}

	short := Draft{Text: strings.Repeat("x", 49)}
	res, _ = e.ValidateDraft(context.Background(), short)
	if !res.Passed {
		t.Fatalf("one char under min is warn-level, must not veto: %+v", res.Violations)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == RuleMinResponseLength && v.Action == models.ActionWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected warn-level min-length violation, got %+v", res.Violations)
	}
}

func TestValidateDraftPromotionalScore(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	d := okDraft()
	d.PromotionalScore = 0.9
	res, _ := e.ValidateDraft(context.Background(), d)
	if res.Passed {
		t.Fatalf("promotional score above threshold must block")
	}
}

func TestRuleRowsOverrideDefaults(t *testing.T) {
	thr := 200.0
	rules := &fakeRules{rows: []models.Guardrail{{
		RuleName:  RuleMinResponseLength,
		Type:      models.GuardrailThreshold,
		Threshold: &thr,
		Action:    models.ActionBlock,
		IsActive:  true,
	}}}
	e := newTestEngine(rules, &fakeHistory{})
	res, _ := e.ValidateDraft(context.Background(), okDraft())
	if res.Passed {
		t.Fatalf("store row raised min length to 200 and escalated to block; draft must fail")
	}
}

func TestRuleCacheTTL(t *testing.T) {
	rules := &fakeRules{}
	e := newTestEngine(rules, &fakeHistory{})
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, _ = e.ValidateDraft(context.Background(), okDraft())
	_, _ = e.ValidateDraft(context.Background(), okDraft())
	if rules.calls != 1 {
		t.Fatalf("rule store hit %d times within TTL, want 1", rules.calls)
	}
	now = now.Add(6 * time.Minute)
	_, _ = e.ValidateDraft(context.Background(), okDraft())
	if rules.calls != 2 {
		t.Fatalf("rule store hit %d times after TTL, want 2", rules.calls)
	}
}

func TestCheckResponseFrequency(t *testing.T) {
	recent := time.Now().Add(-2 * time.Hour)
	hist := &fakeHistory{sub: 2, global: 3, last: &recent}
	e := newTestEngine(&fakeRules{}, hist)
	res, err := e.CheckResponseFrequency(context.Background(), "smallbusiness")
	if err != nil {
		t.Fatalf("CheckResponseFrequency: %v", err)
	}
	if res.Passed {
		t.Fatalf("subreddit cap and min-gap both violated, must block")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations (sub cap, min gap), got %+v", res.Violations)
	}
}

func TestCheckResponseFrequencyClean(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{})
	res, err := e.CheckResponseFrequency(context.Background(), "smallbusiness")
	if err != nil || !res.Passed {
		t.Fatalf("clean history must pass: res=%+v err=%v", res, err)
	}
}

func TestCheckAdBudget(t *testing.T) {
	e := newTestEngine(&fakeRules{}, &fakeHistory{campaigns: 0, spend: 49000})
	res, err := e.CheckAdBudget(context.Background(), 2000)
	if err != nil {
		t.Fatalf("CheckAdBudget: %v", err)
	}
	if res.Passed {
		t.Fatalf("spend cap exceeded, must block")
	}

	e2 := newTestEngine(&fakeRules{}, &fakeHistory{})
	res, _ = e2.CheckAdBudget(context.Background(), 100)
	if res.Passed {
		t.Fatalf("budget below minimum must block")
	}
	res, _ = e2.CheckAdBudget(context.Background(), 2000)
	if !res.Passed {
		t.Fatalf("valid budget must pass, got %+v", res.Violations)
	}
}
