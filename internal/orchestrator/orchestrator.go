// Package orchestrator drives the scheduled scan cycle: fetch new posts per
// subreddit, dedupe against the scanned registry, score with Layer-1, hand
// the best candidates to the Layer-2 loop and persist the outcomes. It is
// the only writer of opportunities and decision items during a scan.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/agent"
	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/internal/keywords"
	"github.com/prospector-io/prospector/internal/scoring"
	"github.com/prospector-io/prospector/internal/telemetry"
	"github.com/prospector-io/prospector/models"
)

// Source fetches new posts for one subreddit.
type Source interface {
	NewPosts(ctx context.Context, subreddit string, limit int) ([]models.Post, error)
}

// Investigator runs the bounded Layer-2 loop for one candidate.
type Investigator interface {
	Investigate(ctx context.Context, candidate models.Candidate) (agent.Outcome, error)
}

// Publisher emits signal bus events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Store is the persistence surface the scan cycle needs.
type Store interface {
	ListActiveSubreddits(ctx context.Context) ([]models.Subreddit, error)
	RegisterScannedPost(ctx context.Context, post models.Post, layer1Score int) (bool, error)
	MarkPostAnalyzed(ctx context.Context, postID string) error
	CreateOpportunity(ctx context.Context, o models.Opportunity) (string, error)
	EnqueueDecision(ctx context.Context, item models.DecisionQueueItem) (string, error)
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// ScanResult summarizes one cycle for logs and the job endpoint response.
type ScanResult struct {
	SubredditsScanned int       `json:"subreddits_scanned"`
	PostsFetched      int       `json:"posts_fetched"`
	NewPosts          int       `json:"new_posts"`
	Candidates        int       `json:"candidates"`
	Investigated      int       `json:"investigated"`
	Opportunities     int       `json:"opportunities"`
	Errors            int       `json:"errors"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Orchestrator wires the scan pipeline together.
type Orchestrator struct {
	source  Source
	store   Store
	kwCache *keywords.Cache
	engine  *guardrails.Engine
	agent   Investigator
	bus     Publisher
	cfg     config.ScanConfig
	logger  *log.Logger

	now func() time.Time
}

func New(source Source, store Store, kwCache *keywords.Cache, engine *guardrails.Engine, investigator Investigator, bus Publisher, cfg config.ScanConfig, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		source:  source,
		store:   store,
		kwCache: kwCache,
		engine:  engine,
		agent:   investigator,
		bus:     bus,
		cfg:     cfg.Normalize(),
		logger:  logger,
		now:     time.Now,
	}
}

// RunScan executes one full cycle. Failures are contained per subreddit and
// per candidate: a broken community or a failed investigation never aborts
// the rest of the cycle.
func (o *Orchestrator) RunScan(ctx context.Context) (ScanResult, error) {
	res := ScanResult{StartedAt: o.now()}

	subs, err := o.store.ListActiveSubreddits(ctx)
	if err != nil {
		return res, fmt.Errorf("listing subreddits: %w", err)
	}
	kws, err := o.kwCache.Get(ctx)
	if err != nil {
		return res, fmt.Errorf("loading keywords: %w", err)
	}

	var candidates []models.Candidate
	for _, sub := range subs {
		res.SubredditsScanned++
		posts, err := o.source.NewPosts(ctx, sub.Name, o.cfg.PostsPerPage)
		if err != nil {
			res.Errors++
			o.logger.Printf("r/%s: fetch failed: %v", sub.Name, err)
			continue
		}
		res.PostsFetched += len(posts)
		telemetry.PostsScanned.Add(float64(len(posts)))

		for _, post := range posts {
			if post.NSFW {
				continue
			}
			match := keywords.Match(post.Title, post.Body, kws)
			score, breakdown := scoring.Layer1(post, match.Highest, sub.Tier, o.now())

			inserted, err := o.store.RegisterScannedPost(ctx, post, score)
			if err != nil {
				res.Errors++
				o.logger.Printf("r/%s: registering %s: %v", sub.Name, post.ID, err)
				continue
			}
			if !inserted {
				// Already seen in a previous cycle.
				continue
			}
			res.NewPosts++

			if match.Highest == nil || score < o.cfg.Layer2Threshold {
				continue
			}
			candidates = append(candidates, models.Candidate{
				Post:        post,
				Tier:        sub.Tier,
				Layer1Score: score,
				Breakdown:   breakdown,
				Matched:     match.Matched,
				Highest:     match.Highest,
			})
		}
	}
	res.Candidates = len(candidates)

	// Highest Layer-1 score first; only the top N earn a Layer-2 pass.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Layer1Score > candidates[j].Layer1Score
	})
	if len(candidates) > o.cfg.Layer2TopN {
		candidates = candidates[:o.cfg.Layer2TopN]
	}

	for _, c := range candidates {
		res.Investigated++
		created, err := o.investigate(ctx, c)
		if err != nil {
			res.Errors++
			o.logger.Printf("post %s: investigation failed: %v", c.Post.ID, err)
			continue
		}
		if created {
			res.Opportunities++
		}
	}

	res.FinishedAt = o.now()
	telemetry.ScansTotal.Inc()
	o.logger.Printf("scan complete: %d subreddits, %d posts, %d new, %d investigated, %d opportunities, %d errors",
		res.SubredditsScanned, res.PostsFetched, res.NewPosts, res.Investigated, res.Opportunities, res.Errors)

	if o.bus != nil {
		if err := o.bus.Publish(ctx, models.EventScanComplete, res); err != nil {
			o.logger.Printf("scan_complete signal: %v", err)
		}
	}
	return res, nil
}

// investigate runs one candidate through Layer-2 and persists the result.
// The analyzed flag is set exactly once regardless of how the investigation
// ends, so a failed candidate is never retried forever.
func (o *Orchestrator) investigate(ctx context.Context, c models.Candidate) (created bool, err error) {
	defer func() {
		if markErr := o.store.MarkPostAnalyzed(context.WithoutCancel(ctx), c.Post.ID); markErr != nil {
			o.logger.Printf("post %s: mark analyzed: %v", c.Post.ID, markErr)
		}
	}()

	outcome, err := o.agent.Investigate(ctx, c)
	if err != nil {
		o.audit(ctx, c.Post.ID, "layer2_investigation", "failed", map[string]interface{}{"error": err.Error()})
		return false, err
	}

	detail := map[string]interface{}{
		"terminal":   outcome.Terminal,
		"iterations": outcome.Iterations,
		"tools_used": outcome.ToolsUsed,
	}
	if outcome.SkipReason != "" {
		detail["skip_reason"] = outcome.SkipReason
	}
	o.audit(ctx, c.Post.ID, "layer2_investigation", outcome.Terminal, detail)

	if outcome.Terminal != agent.TerminalSubmitted || outcome.Submission == nil {
		// Skips are persisted too: the scanned registry only says a post was
		// seen, the skipped opportunity says why it went nowhere.
		skipped := models.Opportunity{
			PostID:      c.Post.ID,
			Subreddit:   c.Post.Subreddit,
			Title:       c.Post.Title,
			Permalink:   c.Post.Permalink,
			Layer1Score: c.Layer1Score,
			Status:      models.OpportunitySkipped,
			SkipReason:  outcome.SkipReason,
			Iterations:  outcome.Iterations,
			ToolsUsed:   outcome.ToolsUsed,
			Summary:     outcome.Summary,
		}
		if _, err := o.store.CreateOpportunity(ctx, skipped); err != nil {
			return false, fmt.Errorf("persist skipped opportunity: %w", err)
		}
		return false, nil
	}
	sub := outcome.Submission

	layer2 := sub.Scores.Weighted()
	combined := scoring.Combined(c.Layer1Score, layer2)

	opp := models.Opportunity{
		PostID:         c.Post.ID,
		Subreddit:      c.Post.Subreddit,
		Title:          c.Post.Title,
		Permalink:      c.Post.Permalink,
		Layer1Score:    c.Layer1Score,
		Layer2Score:    &layer2,
		CombinedScore:  combined,
		Classification: sub.Classification,
		Status:         models.OpportunityNew,
		IntentAnalysis: sub.IntentAnalysis,
		Iterations:     outcome.Iterations,
		ToolsUsed:      outcome.ToolsUsed,
		Summary:        sub.Summary,
	}

	// Safety net: the agent already ran evaluate_draft, but a draft that
	// reaches persistence is validated again and discarded on any block.
	if sub.DraftResponse != "" {
		verdict, verr := o.engine.ValidateDraft(ctx, guardrails.Draft{
			Text:             sub.DraftResponse,
			PromotionalScore: sub.PromotionalScore,
		})
		if verr != nil {
			return false, fmt.Errorf("draft validation: %w", verr)
		}
		o.recordViolations(ctx, c.Post.ID, "draft_validation", verdict.Violations)
		if verdict.Passed {
			freq, ferr := o.engine.CheckResponseFrequency(ctx, c.Post.Subreddit)
			if ferr != nil {
				return false, fmt.Errorf("frequency check: %w", ferr)
			}
			o.recordViolations(ctx, c.Post.ID, "response_frequency", freq.Violations)
			if freq.Passed {
				opp.DraftResponse = sub.DraftResponse
				opp.ResponseStyle = sub.ResponseStyle
				opp.Status = models.OpportunityDrafted
			} else {
				opp.QualityNote = violationNote("frequency guardrail blocked draft", freq.Violations)
			}
		} else {
			opp.QualityNote = violationNote("draft discarded by guardrails", verdict.Violations)
			o.logger.Printf("post %s: draft discarded: %s", c.Post.ID, opp.QualityNote)
		}
	}

	id, err := o.store.CreateOpportunity(ctx, opp)
	if err != nil {
		return false, fmt.Errorf("persist opportunity: %w", err)
	}
	telemetry.OpportunitiesCreated.Inc()

	// Only a submission that kept its draft reaches the review queue; a
	// discarded or absent draft leaves the opportunity visible but queues
	// nothing for a human to approve.
	if opp.Status == models.OpportunityDrafted {
		payload, _ := json.Marshal(map[string]interface{}{
			"opportunity_id": id,
			"post_id":        c.Post.ID,
			"subreddit":      c.Post.Subreddit,
			"combined_score": combined,
			"classification": sub.Classification,
		})
		item := models.DecisionQueueItem{
			OpportunityID: &id,
			Type:          models.DecisionDraftResponse,
			Payload:       payload,
			Priority:      scoring.Priority(combined),
			RiskLevel:     scoring.RiskLevel(combined),
		}
		if _, err := o.store.EnqueueDecision(ctx, item); err != nil {
			return false, fmt.Errorf("enqueue decision: %w", err)
		}
	}

	if o.bus != nil {
		event := models.EventOpportunityFound
		if opp.Status == models.OpportunityDrafted {
			event = models.EventResponseDrafted
		}
		if err := o.bus.Publish(ctx, event, map[string]interface{}{
			"opportunity_id": id,
			"subreddit":      c.Post.Subreddit,
			"combined_score": combined,
		}); err != nil {
			o.logger.Printf("signal publish: %v", err)
		}
	}
	return true, nil
}

// recordViolations writes every guardrail violation to the audit trail and
// the violations counter, whether or not the check ultimately blocked.
func (o *Orchestrator) recordViolations(ctx context.Context, postID, check string, violations []models.Violation) {
	if len(violations) == 0 {
		return
	}
	telemetry.RecordViolations(violations)
	o.audit(ctx, postID, "guardrail_check", "violation", map[string]interface{}{
		"check":      check,
		"violations": violations,
	})
}

func (o *Orchestrator) audit(ctx context.Context, postID, action, outcome string, detail map[string]interface{}) {
	raw, _ := json.Marshal(detail)
	if err := o.store.AppendAudit(ctx, models.AuditEntry{
		PostID:  postID,
		Actor:   "orchestrator",
		Action:  action,
		Outcome: outcome,
		Detail:  raw,
	}); err != nil {
		o.logger.Printf("audit append: %v", err)
	}
}

func violationNote(prefix string, violations []models.Violation) string {
	note := prefix
	for _, v := range violations {
		note += "; " + v.Rule + ": " + v.Message
	}
	return note
}
