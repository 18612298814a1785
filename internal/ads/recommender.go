// Package ads implements the bounded ad-recommendation loop and the daily
// performance sync. Recommendations never touch the ads platform directly:
// they land in the decision queue and campaigns are only created after a
// human approval.
package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prospector-io/prospector/internal/agent"
	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/internal/telemetry"
	"github.com/prospector-io/prospector/models"
)

// Recommendation tool names. submit/skip are terminal.
const (
	ToolPerformanceHistory  = "review_performance_history"
	ToolRecentOpportunities = "review_recent_opportunities"
	ToolBudgetHeadroom      = "check_budget_headroom"
	ToolSubmitRecs          = "submit_recommendations"
	ToolSkipRecs            = "skip_recommendations"
)

const (
	opportunityWindow = 7 * 24 * time.Hour
	opportunityLimit  = 20
)

// RecStore is the storage surface the recommendation loop reads and writes.
type RecStore interface {
	SignalTypeROAS(ctx context.Context) (map[string]float64, error)
	ActiveCampaigns(ctx context.Context, subreddit string) ([]models.AdCampaign, error)
	ListRecentOpportunities(ctx context.Context, since time.Time, limit int) ([]models.Opportunity, error)
	CreateAdCampaign(ctx context.Context, c models.AdCampaign) (string, error)
	EnqueueDecision(ctx context.Context, item models.DecisionQueueItem) (string, error)
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// BudgetChecker gates proposed budgets through the guardrail engine.
type BudgetChecker interface {
	CheckAdBudget(ctx context.Context, proposedDailyCents int64) (guardrails.Result, error)
}

// Publisher emits signal bus events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Recommendation is one proposed campaign from the loop. SourceSignalType is
// mandatory: every campaign traces back to an organic signal or is tagged
// evergreen explicitly.
type Recommendation struct {
	Name             string  `json:"name"`
	TargetSubreddit  string  `json:"target_subreddit"`
	Headline         string  `json:"headline"`
	DailyBudgetCents int64   `json:"daily_budget_cents"`
	SourceSignalType string  `json:"source_signal_type"`
	OpportunityID    *string `json:"opportunity_id,omitempty"`
	Rationale        string  `json:"rationale"`
}

// RecResult summarizes one recommendation run.
type RecResult struct {
	Proposed  int `json:"proposed"`
	Enqueued  int `json:"enqueued"`
	Rejected  int `json:"rejected"`
	ToolCalls int `json:"tool_calls"`
}

// Recommender drives the bounded recommendation conversation.
type Recommender struct {
	provider agent.Provider
	store    RecStore
	budgets  BudgetChecker
	bus      Publisher
	budget   agent.Budget
	logger   *log.Logger

	now func() time.Time
}

func NewRecommender(provider agent.Provider, store RecStore, budgets BudgetChecker, bus Publisher, budget agent.Budget, logger *log.Logger) *Recommender {
	if budget.MaxToolCalls <= 0 {
		budget.MaxToolCalls = 4
	}
	if budget.MaxWallClock <= 0 {
		budget.MaxWallClock = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ADS] ", log.LstdFlags)
	}
	return &Recommender{
		provider: provider,
		store:    store,
		budgets:  budgets,
		bus:      bus,
		budget:   budget,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Recommender) registry() *agent.Registry {
	reg := agent.NewRegistry()

	reg.Register(agent.Tool{
		Def: agent.ToolDef{
			Name:        ToolPerformanceHistory,
			Description: "Review historical ROAS per source signal type and the currently active campaigns.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			roas, err := r.store.SignalTypeROAS(ctx)
			if err != nil {
				return "", err
			}
			active, err := r.store.ActiveCampaigns(ctx, "")
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(map[string]interface{}{
				"roas_by_signal_type": roas,
				"active_campaigns":    active,
			})
			return string(b), err
		},
	})

	reg.Register(agent.Tool{
		Def: agent.ToolDef{
			Name:        ToolRecentOpportunities,
			Description: "List the strongest organic opportunities from the last 7 days as potential campaign signals.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			opps, err := r.store.ListRecentOpportunities(ctx, r.now().Add(-opportunityWindow), opportunityLimit)
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(map[string]interface{}{"count": len(opps), "opportunities": opps})
			return string(b), err
		},
	})

	reg.Register(agent.Tool{
		Def: agent.ToolDef{
			Name:        ToolBudgetHeadroom,
			Description: "Check whether a proposed daily budget in minor units clears the spend guardrails.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"daily_budget_cents":{"type":"integer"}},"required":["daily_budget_cents"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				DailyBudgetCents int64 `json:"daily_budget_cents"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("check_budget_headroom args: %w", err)
			}
			res, err := r.budgets.CheckAdBudget(ctx, in.DailyBudgetCents)
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(res)
			return string(b), err
		},
	})

	reg.Register(agent.Tool{
		Def: agent.ToolDef{
			Name: ToolSubmitRecs,
			Description: "Terminal: submit zero or more campaign recommendations. Each must name a source_signal_type or be tagged evergreen.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"recommendations":{"type":"array","items":{"type":"object","properties":{
					"name":{"type":"string"},
					"target_subreddit":{"type":"string"},
					"headline":{"type":"string"},
					"daily_budget_cents":{"type":"integer"},
					"source_signal_type":{"type":"string"},
					"opportunity_id":{"type":"string"},
					"rationale":{"type":"string"}
				},"required":["name","daily_budget_cents","source_signal_type"]}},
				"summary":{"type":"string"}
			},"required":["recommendations"]}`),
		},
		Terminal: true,
	})

	reg.Register(agent.Tool{
		Def: agent.ToolDef{
			Name:        ToolSkipRecs,
			Description: "Terminal: recommend no new campaigns this cycle, with a reason.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string"}},"required":["reason"]}`),
		},
		Terminal: true,
	})

	return reg
}

const recommenderPrompt = `You are an ads strategist for a B2B product. Review recent organic
opportunities and historical signal performance, then recommend at most 3 new
ad campaigns. Budgets are integer minor units. Every recommendation must name
the source_signal_type it traces back to (opportunity_found,
trending_topic, competitor_mention, ...) or "evergreen" when it has no
organic source. You have at most %d tool calls; finish with
submit_recommendations or skip_recommendations.`

// Run executes one bounded recommendation cycle.
func (r *Recommender) Run(ctx context.Context) (RecResult, error) {
	var res RecResult
	start := r.now()
	deadline := start.Add(r.budget.MaxWallClock)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	reg := r.registry()
	defs := reg.Defs()
	system := fmt.Sprintf(recommenderPrompt, r.budget.MaxToolCalls)
	conv := []agent.Message{{Role: "user", Content: "Propose ad campaigns for this cycle."}}

	for {
		if r.now().After(deadline) {
			r.logger.Printf("recommendation cycle hit wall-clock budget after %d tool calls", res.ToolCalls)
			return res, nil
		}
		decision, err := r.provider.Decide(ctx, system, conv, defs)
		if err != nil {
			if ctx.Err() != nil {
				return res, nil
			}
			return res, fmt.Errorf("model decision: %w", err)
		}
		if len(decision.ToolCalls) == 0 {
			r.logger.Printf("model ended recommendation turn with zero tool calls")
			return res, nil
		}
		conv = append(conv, agent.Message{Role: "assistant", Content: decision.Content, ToolCalls: decision.ToolCalls})

		for _, call := range decision.ToolCalls {
			if tool, ok := reg.Get(call.Name); ok && tool.Terminal {
				if call.Name == ToolSubmitRecs {
					return r.accept(ctx, call.Arguments, res)
				}
				r.logger.Printf("recommendation cycle skipped: %s", string(call.Arguments))
				return res, nil
			}
			if res.ToolCalls >= r.budget.MaxToolCalls {
				r.logger.Printf("recommendation cycle hit tool budget")
				return res, nil
			}
			out, err := reg.Execute(ctx, call)
			if err != nil {
				out = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			res.ToolCalls++
			conv = append(conv, agent.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: out})
		}
	}
}

// accept validates submitted recommendations, persists the survivors and
// enqueues one decision item each.
func (r *Recommender) accept(ctx context.Context, args json.RawMessage, res RecResult) (RecResult, error) {
	var in struct {
		Recommendations []Recommendation `json:"recommendations"`
		Summary         string           `json:"summary"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return res, fmt.Errorf("submit_recommendations args: %w", err)
	}
	res.Proposed = len(in.Recommendations)

	for _, rec := range in.Recommendations {
		if strings.TrimSpace(rec.SourceSignalType) == "" {
			res.Rejected++
			r.audit(ctx, "ad_recommendation", "rejected", map[string]interface{}{
				"name":   rec.Name,
				"reason": "missing source signal type",
			})
			continue
		}
		verdict, err := r.budgets.CheckAdBudget(ctx, rec.DailyBudgetCents)
		if err != nil {
			return res, fmt.Errorf("budget check: %w", err)
		}
		if len(verdict.Violations) > 0 {
			telemetry.RecordViolations(verdict.Violations)
			r.audit(ctx, "guardrail_check", "violation", map[string]interface{}{
				"check":      "ad_budget",
				"name":       rec.Name,
				"violations": verdict.Violations,
			})
		}
		if !verdict.Passed {
			res.Rejected++
			r.audit(ctx, "ad_recommendation", "blocked", map[string]interface{}{
				"name":       rec.Name,
				"violations": verdict.Violations,
			})
			continue
		}

		campaignID, err := r.store.CreateAdCampaign(ctx, models.AdCampaign{
			Name:             rec.Name,
			Status:           models.CampaignRecommended,
			SourceSignalType: rec.SourceSignalType,
			OpportunityID:    rec.OpportunityID,
			DailyBudgetCents: rec.DailyBudgetCents,
			Headline:         rec.Headline,
			TargetSubreddit:  rec.TargetSubreddit,
		})
		if err != nil {
			return res, fmt.Errorf("persist recommendation: %w", err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"campaign_id":        campaignID,
			"name":               rec.Name,
			"daily_budget_cents": rec.DailyBudgetCents,
			"source_signal_type": rec.SourceSignalType,
			"rationale":          rec.Rationale,
		})
		if _, err := r.store.EnqueueDecision(ctx, models.DecisionQueueItem{
			Type:      models.DecisionAdRecommendation,
			Payload:   payload,
			Priority:  5,
			RiskLevel: "medium",
		}); err != nil {
			return res, fmt.Errorf("enqueue recommendation: %w", err)
		}
		res.Enqueued++

		r.audit(ctx, "ad_recommendation", "enqueued", map[string]interface{}{
			"campaign_id":        campaignID,
			"source_signal_type": rec.SourceSignalType,
		})
		if r.bus != nil {
			if err := r.bus.Publish(ctx, models.EventAdRecommended, map[string]interface{}{
				"campaign_id":        campaignID,
				"source_signal_type": rec.SourceSignalType,
			}); err != nil {
				r.logger.Printf("ad_recommended signal: %v", err)
			}
		}
	}

	r.logger.Printf("recommendation cycle: %d proposed, %d enqueued, %d rejected", res.Proposed, res.Enqueued, res.Rejected)
	return res, nil
}

func (r *Recommender) audit(ctx context.Context, action, outcome string, detail map[string]interface{}) {
	raw, _ := json.Marshal(detail)
	if err := r.store.AppendAudit(ctx, models.AuditEntry{
		Actor:   "ads_recommender",
		Action:  action,
		Outcome: outcome,
		Detail:  raw,
	}); err != nil {
		r.logger.Printf("audit append: %v", err)
	}
}
