// Package guardrails implements the data-driven rule engine that gates
// every pipeline output. Rules are rows, not code branches: the engine
// reads thresholds from the rule store and applies defaults only when a
// named rule is absent.
package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/models"
)

// Named rules the engine understands. Operators add rows under these names
// to override the built-in defaults.
const (
	RuleNoBrandMention      = "no_brand_mention"
	RuleNoURLs              = "no_urls"
	RuleProhibitedPhrases   = "prohibited_phrases"
	RuleMinResponseLength   = "min_response_length"
	RuleMaxResponseLength   = "max_response_length"
	RuleMaxPromotionalScore = "max_promotional_score"
	RuleSubredditDailyCap   = "subreddit_daily_cap"
	RuleGlobalDailyCap      = "global_daily_cap"
	RuleMinHoursBetween     = "min_hours_between_responses"
	RuleDailyCampaignCap    = "daily_campaign_cap"
	RuleDailySpendCap       = "daily_spend_cap"
	RuleMinCampaignBudget   = "min_campaign_budget"
)

var defaultProhibitedPhrases = []string{
	"buy now", "limited time", "discount code", "special offer",
	"sign up today", "free trial", "dm me",
}

// urlPattern flags URL-like substrings: schemes, www prefixes and bare
// domains on common TLDs.
var urlPattern = regexp.MustCompile(`(?i)(https?://|www\.|\b[a-z0-9-]+\.(com|io|net|org|co|ai)\b)`)

// RuleStore loads guardrail rows.
type RuleStore interface {
	ListActiveGuardrails(ctx context.Context) ([]models.Guardrail, error)
}

// History reads recent activity for frequency/budget checks.
type History interface {
	CountResponsesSince(ctx context.Context, since time.Time) (int, error)
	CountSubredditResponsesSince(ctx context.Context, subreddit string, since time.Time) (int, error)
	LastResponseAt(ctx context.Context, subreddit string) (*time.Time, error)
	CountCampaignsCreatedSince(ctx context.Context, since time.Time) (int, error)
	ActiveDailySpendCents(ctx context.Context) (int64, error)
}

// Result is the uniform evaluation outcome. Passed is false only when a
// block-level violation is present; warn and alert violations are recorded
// but non-vetoing.
type Result struct {
	Passed     bool               `json:"passed"`
	Violations []models.Violation `json:"violations,omitempty"`
}

func finish(violations []models.Violation) Result {
	r := Result{Passed: true, Violations: violations}
	for _, v := range violations {
		if v.Action == models.ActionBlock {
			r.Passed = false
		}
	}
	return r
}

// Draft is a response candidate under content validation.
type Draft struct {
	Text             string
	PromotionalScore float64
}

// Engine evaluates drafts and frequency/budget guardrails. Rule rows are
// cached with a bounded TTL; staleness inside the window is expected.
type Engine struct {
	store   RuleStore
	history History
	cfg     config.GuardrailsConfig
	brand   string

	mu        sync.Mutex
	rules     map[string]models.Guardrail
	fetchedAt time.Time

	now func() time.Time
}

// NewEngine builds a guardrail engine over the given rule store and history.
func NewEngine(store RuleStore, history History, cfg config.GuardrailsConfig, brand string) *Engine {
	return &Engine{
		store:   store,
		history: history,
		cfg:     cfg.Normalize(),
		brand:   brand,
		now:     time.Now,
	}
}

// load returns the cached rule map, refetching past the TTL. A refresh
// failure falls back to the previous snapshot when one exists.
func (e *Engine) load(ctx context.Context) (map[string]models.Guardrail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules != nil && e.now().Sub(e.fetchedAt) < e.cfg.CacheTTL {
		return e.rules, nil
	}
	rows, err := e.store.ListActiveGuardrails(ctx)
	if err != nil {
		if e.rules != nil {
			return e.rules, nil
		}
		return nil, fmt.Errorf("loading guardrails: %w", err)
	}
	m := make(map[string]models.Guardrail, len(rows))
	for _, g := range rows {
		if g.IsActive {
			m[g.RuleName] = g
		}
	}
	e.rules = m
	e.fetchedAt = e.now()
	return e.rules, nil
}

// Invalidate drops the cached rules, forcing the next check to refetch.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
}

// action returns the configured violation action for a rule, or the given
// default when no row overrides it.
func action(rules map[string]models.Guardrail, name string, def models.ViolationAction) models.ViolationAction {
	if g, ok := rules[name]; ok && g.Action != "" {
		return g.Action
	}
	return def
}

// threshold returns the configured numeric threshold for a rule, or the
// default when the row is absent or carries none.
func threshold(rules map[string]models.Guardrail, name string, def float64) float64 {
	if g, ok := rules[name]; ok && g.Threshold != nil {
		return *g.Threshold
	}
	return def
}

// ValidateDraft checks a drafted response against content/safety rules.
func (e *Engine) ValidateDraft(ctx context.Context, d Draft) (Result, error) {
	rules, err := e.load(ctx)
	if err != nil {
		return Result{}, err
	}

	var violations []models.Violation
	text := d.Text
	lower := strings.ToLower(text)

	if e.brand != "" && containsWord(lower, strings.ToLower(e.brand)) {
		violations = append(violations, models.Violation{
			Rule:    RuleNoBrandMention,
			Action:  action(rules, RuleNoBrandMention, models.ActionBlock),
			Message: "draft mentions the protected brand name",
		})
	}

	if urlPattern.MatchString(text) {
		violations = append(violations, models.Violation{
			Rule:    RuleNoURLs,
			Action:  action(rules, RuleNoURLs, models.ActionBlock),
			Message: "draft contains a URL-like substring",
		})
	}

	for _, phrase := range prohibitedPhrases(rules) {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			violations = append(violations, models.Violation{
				Rule:    RuleProhibitedPhrases,
				Action:  action(rules, RuleProhibitedPhrases, models.ActionBlock),
				Message: fmt.Sprintf("draft contains prohibited phrase %q", phrase),
			})
			break
		}
	}

	minLen := int(threshold(rules, RuleMinResponseLength, float64(e.cfg.MinResponseLength)))
	if len(text) < minLen {
		violations = append(violations, models.Violation{
			Rule:    RuleMinResponseLength,
			Action:  action(rules, RuleMinResponseLength, models.ActionWarn),
			Message: fmt.Sprintf("draft is %d chars, minimum is %d", len(text), minLen),
		})
	}
	maxLen := int(threshold(rules, RuleMaxResponseLength, float64(e.cfg.MaxResponseLength)))
	if len(text) > maxLen {
		violations = append(violations, models.Violation{
			Rule:    RuleMaxResponseLength,
			Action:  action(rules, RuleMaxResponseLength, models.ActionBlock),
			Message: fmt.Sprintf("draft is %d chars, maximum is %d", len(text), maxLen),
		})
	}

	maxPromo := threshold(rules, RuleMaxPromotionalScore, e.cfg.MaxPromotionalScore)
	if d.PromotionalScore > maxPromo {
		violations = append(violations, models.Violation{
			Rule:    RuleMaxPromotionalScore,
			Action:  action(rules, RuleMaxPromotionalScore, models.ActionBlock),
			Message: fmt.Sprintf("promotional score %.2f exceeds %.2f", d.PromotionalScore, maxPromo),
		})
	}

	return finish(violations), nil
}

func prohibitedPhrases(rules map[string]models.Guardrail) []string {
	g, ok := rules[RuleProhibitedPhrases]
	if !ok || g.Config == nil {
		return defaultProhibitedPhrases
	}
	raw, ok := g.Config["phrases"].([]interface{})
	if !ok {
		return defaultProhibitedPhrases
	}
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultProhibitedPhrases
	}
	return out
}

// containsWord does a case-insensitive whole-word match.
func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(haystack)
}

// CheckResponseFrequency validates per-subreddit and global response caps
// plus the minimum gap between responses in the same community.
func (e *Engine) CheckResponseFrequency(ctx context.Context, subreddit string) (Result, error) {
	rules, err := e.load(ctx)
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	dayStart := now.Add(-24 * time.Hour)

	var violations []models.Violation

	subCap := int(threshold(rules, RuleSubredditDailyCap, 2))
	subCount, err := e.history.CountSubredditResponsesSince(ctx, subreddit, dayStart)
	if err != nil {
		return Result{}, fmt.Errorf("subreddit response count: %w", err)
	}
	if subCount >= subCap {
		violations = append(violations, models.Violation{
			Rule:    RuleSubredditDailyCap,
			Action:  action(rules, RuleSubredditDailyCap, models.ActionBlock),
			Message: fmt.Sprintf("r/%s already has %d responses today (cap %d)", subreddit, subCount, subCap),
		})
	}

	globalCap := int(threshold(rules, RuleGlobalDailyCap, 10))
	globalCount, err := e.history.CountResponsesSince(ctx, dayStart)
	if err != nil {
		return Result{}, fmt.Errorf("global response count: %w", err)
	}
	if globalCount >= globalCap {
		violations = append(violations, models.Violation{
			Rule:    RuleGlobalDailyCap,
			Action:  action(rules, RuleGlobalDailyCap, models.ActionBlock),
			Message: fmt.Sprintf("global daily response cap reached (%d/%d)", globalCount, globalCap),
		})
	}

	minHours := threshold(rules, RuleMinHoursBetween, 6)
	last, err := e.history.LastResponseAt(ctx, subreddit)
	if err != nil {
		return Result{}, fmt.Errorf("last response time: %w", err)
	}
	if last != nil {
		gap := now.Sub(*last)
		if gap < time.Duration(minHours*float64(time.Hour)) {
			violations = append(violations, models.Violation{
				Rule:    RuleMinHoursBetween,
				Action:  action(rules, RuleMinHoursBetween, models.ActionBlock),
				Message: fmt.Sprintf("last response in r/%s was %.1fh ago, minimum gap is %.0fh", subreddit, gap.Hours(), minHours),
			})
		}
	}

	return finish(violations), nil
}

// CheckAdBudget validates campaign-creation guardrails for a proposed
// daily budget in minor units.
func (e *Engine) CheckAdBudget(ctx context.Context, proposedDailyCents int64) (Result, error) {
	rules, err := e.load(ctx)
	if err != nil {
		return Result{}, err
	}
	dayStart := e.now().Add(-24 * time.Hour)

	var violations []models.Violation

	campaignCap := int(threshold(rules, RuleDailyCampaignCap, 3))
	created, err := e.history.CountCampaignsCreatedSince(ctx, dayStart)
	if err != nil {
		return Result{}, fmt.Errorf("campaign count: %w", err)
	}
	if created >= campaignCap {
		violations = append(violations, models.Violation{
			Rule:    RuleDailyCampaignCap,
			Action:  action(rules, RuleDailyCampaignCap, models.ActionBlock),
			Message: fmt.Sprintf("daily new-campaign cap reached (%d/%d)", created, campaignCap),
		})
	}

	spendCap := int64(threshold(rules, RuleDailySpendCap, 50000))
	spend, err := e.history.ActiveDailySpendCents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("active spend: %w", err)
	}
	if spend+proposedDailyCents > spendCap {
		violations = append(violations, models.Violation{
			Rule:    RuleDailySpendCap,
			Action:  action(rules, RuleDailySpendCap, models.ActionBlock),
			Message: fmt.Sprintf("proposed budget pushes daily spend to %d, cap is %d", spend+proposedDailyCents, spendCap),
		})
	}

	minBudget := int64(threshold(rules, RuleMinCampaignBudget, 500))
	if proposedDailyCents < minBudget {
		violations = append(violations, models.Violation{
			Rule:    RuleMinCampaignBudget,
			Action:  action(rules, RuleMinCampaignBudget, models.ActionBlock),
			Message: fmt.Sprintf("proposed budget %d below minimum %d", proposedDailyCents, minBudget),
		})
	}

	return finish(violations), nil
}

// AutoPauseCPCThresholdCents returns the auto-pause CPC guardrail used by
// performance sync, defaulting to 500 minor units.
func (e *Engine) AutoPauseCPCThresholdCents(ctx context.Context) (int64, error) {
	rules, err := e.load(ctx)
	if err != nil {
		return 0, err
	}
	return int64(threshold(rules, "auto_pause_cpc", 500)), nil
}
