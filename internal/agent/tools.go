package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/internal/telemetry"
	"github.com/prospector-io/prospector/models"
)

// Tool names. The last two are terminal: invoking them ends the loop.
const (
	ToolReadComments       = "read_comments"
	ToolUserHistory        = "check_user_history"
	ToolRelatedPosts       = "search_related_posts"
	ToolCompetitorMentions = "check_competitor_mentions"
	ToolActiveCampaigns    = "check_active_campaigns"
	ToolSignalBus          = "check_signal_bus"
	ToolEvaluateDraft      = "evaluate_draft"
	ToolSubmit             = "submit_opportunity"
	ToolSkip               = "skip_opportunity"
)

const (
	maxComments        = 10
	commentTruncateLen = 400
	maxCompetitorNames = 5
	relatedPostsWindow = 30 * 24 * time.Hour
	signalBusWindow    = 7 * 24 * time.Hour
	userHistoryLimit   = 10
	relatedPostsLimit  = 10
)

// ContentReader is the external content-platform surface the tools need.
type ContentReader interface {
	Comments(ctx context.Context, postID string) ([]models.Comment, error)
	UserHistory(ctx context.Context, username string) ([]models.Post, error)
}

// ToolStore is the storage surface the read-only tools query.
type ToolStore interface {
	SearchRelatedPosts(ctx context.Context, query string, since time.Time, limit int) ([]models.Post, error)
	ActiveCampaigns(ctx context.Context, subreddit string) ([]models.AdCampaign, error)
	SignalEvents(ctx context.Context, topicSubstring string, since time.Time, limit int) ([]models.SignalEvent, error)
}

// DraftValidator delegates evaluate_draft to the guardrail engine.
type DraftValidator interface {
	ValidateDraft(ctx context.Context, d guardrails.Draft) (guardrails.Result, error)
}

// ToolDeps wires the registry's collaborators.
type ToolDeps struct {
	Reader      ContentReader
	Store       ToolStore
	Validator   DraftValidator
	Competitors []string
	Now         func() time.Time
}

// NewInvestigationRegistry builds the fixed capability set for the Layer-2
// loop: seven read-only tools plus the two terminals.
func NewInvestigationRegistry(deps ToolDeps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := NewRegistry()

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolReadComments,
			Description: "Read the comment thread on the post under investigation. Returns up to 10 comments, bodies truncated.",
			Parameters:  schema(`{"type":"object","properties":{"post_id":{"type":"string"}},"required":["post_id"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				PostID string `json:"post_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("read_comments args: %w", err)
			}
			comments, err := deps.Reader.Comments(ctx, in.PostID)
			if err != nil {
				return "", err
			}
			if len(comments) > maxComments {
				comments = comments[:maxComments]
			}
			for i := range comments {
				comments[i].Body = truncate(comments[i].Body, commentTruncateLen)
				comments[i].Replies = nil
			}
			return marshalResult(map[string]interface{}{"count": len(comments), "comments": comments})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolUserHistory,
			Description: "Fetch the author's recent submissions to judge whether they are a genuine prospect.",
			Parameters:  schema(`{"type":"object","properties":{"username":{"type":"string"}},"required":["username"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Username string `json:"username"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("check_user_history args: %w", err)
			}
			posts, err := deps.Reader.UserHistory(ctx, in.Username)
			if errors.Is(err, models.ErrUserUnavailable) {
				// Private/suspended accounts are a signal, not a failure.
				return marshalResult(map[string]interface{}{"available": false, "note": "user history is private or suspended"})
			}
			if err != nil {
				return "", err
			}
			if len(posts) > userHistoryLimit {
				posts = posts[:userHistoryLimit]
			}
			return marshalResult(map[string]interface{}{"available": true, "count": len(posts), "posts": posts})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolRelatedPosts,
			Description: "Search previously scanned posts for related discussions within the last 30 days.",
			Parameters:  schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("search_related_posts args: %w", err)
			}
			since := deps.Now().Add(-relatedPostsWindow)
			posts, err := deps.Store.SearchRelatedPosts(ctx, in.Query, since, relatedPostsLimit)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]interface{}{"count": len(posts), "posts": posts})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolCompetitorMentions,
			Description: "Check recent scanned posts for mentions of known competitors. At most 5 names per call.",
			Parameters:  schema(`{"type":"object","properties":{"names":{"type":"array","items":{"type":"string"}}}}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Names []string `json:"names"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("check_competitor_mentions args: %w", err)
			}
			names := in.Names
			if len(names) == 0 {
				names = deps.Competitors
			}
			if len(names) > maxCompetitorNames {
				names = names[:maxCompetitorNames]
			}
			since := deps.Now().Add(-relatedPostsWindow)
			mentions := make(map[string]int, len(names))
			for _, name := range names {
				posts, err := deps.Store.SearchRelatedPosts(ctx, name, since, relatedPostsLimit)
				if err != nil {
					return "", err
				}
				mentions[name] = len(posts)
			}
			return marshalResult(map[string]interface{}{"mentions": mentions})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolActiveCampaigns,
			Description: "List currently active ad campaigns, optionally filtered by target subreddit.",
			Parameters:  schema(`{"type":"object","properties":{"subreddit":{"type":"string"}}}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Subreddit string `json:"subreddit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("check_active_campaigns args: %w", err)
			}
			campaigns, err := deps.Store.ActiveCampaigns(ctx, in.Subreddit)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]interface{}{"count": len(campaigns), "campaigns": campaigns})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolSignalBus,
			Description: "Read the cross-agent signal bus for recent events matching a topic substring.",
			Parameters:  schema(`{"type":"object","properties":{"topic":{"type":"string"}},"required":["topic"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Topic string `json:"topic"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("check_signal_bus args: %w", err)
			}
			since := deps.Now().Add(-signalBusWindow)
			events, err := deps.Store.SignalEvents(ctx, in.Topic, since, 20)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]interface{}{"count": len(events), "events": events})
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolEvaluateDraft,
			Description: "Validate a draft response against the content guardrails before submitting it.",
			Parameters:  schema(`{"type":"object","properties":{"draft":{"type":"string"},"promotional_score":{"type":"number"}},"required":["draft"]}`),
		},
		Run: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Draft            string  `json:"draft"`
				PromotionalScore float64 `json:"promotional_score"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("evaluate_draft args: %w", err)
			}
			res, err := deps.Validator.ValidateDraft(ctx, guardrails.Draft{
				Text:             in.Draft,
				PromotionalScore: in.PromotionalScore,
			})
			if err != nil {
				return "", err
			}
			telemetry.RecordViolations(res.Violations)
			return marshalResult(res)
		},
	})

	r.Register(Tool{
		Def: ToolDef{
			Name: ToolSubmit,
			Description: "Terminal: submit the investigated opportunity with scores, classification and an optional draft response.",
			Parameters: schema(`{"type":"object","properties":{
				"classification":{"type":"string"},
				"scores":{"type":"object","properties":{"intent":{"type":"integer"},"urgency":{"type":"integer"},"fit":{"type":"integer"},"authority":{"type":"integer"},"engagement":{"type":"integer"}}},
				"intent_analysis":{"type":"string"},
				"signals":{"type":"object"},
				"draft_response":{"type":"string"},
				"response_style":{"type":"string"},
				"promotional_score":{"type":"number"},
				"investigation_summary":{"type":"string"}
			},"required":["classification","scores","intent_analysis","investigation_summary"]}`),
		},
		Terminal: true,
	})

	r.Register(Tool{
		Def: ToolDef{
			Name:        ToolSkip,
			Description: "Terminal: skip this post with a reason when it is not a genuine opportunity.",
			Parameters:  schema(`{"type":"object","properties":{"reason":{"type":"string"},"investigation_summary":{"type":"string"}},"required":["reason"]}`),
		},
		Terminal: true,
	})

	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func marshalResult(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(b), nil
}

// parseSubmission decodes submit_opportunity arguments.
func parseSubmission(args json.RawMessage) (*Submission, error) {
	var s Submission
	if err := json.Unmarshal(args, &s); err != nil {
		return nil, fmt.Errorf("submit_opportunity args: %w", err)
	}
	if strings.TrimSpace(s.Classification) == "" {
		s.Classification = "unclassified"
	}
	return &s, nil
}

// parseSkip decodes skip_opportunity arguments.
func parseSkip(args json.RawMessage) (reason, summary string, err error) {
	var in struct {
		Reason  string `json:"reason"`
		Summary string `json:"investigation_summary"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", "", fmt.Errorf("skip_opportunity args: %w", err)
	}
	if in.Reason == "" {
		in.Reason = "no reason given"
	}
	return in.Reason, in.Summary, nil
}
