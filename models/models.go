package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrAlreadyResolved is returned when a decision queue item is resolved twice.
var ErrAlreadyResolved = errors.New("decision is not pending")

// ErrUserUnavailable is returned when a platform user is private or suspended.
var ErrUserUnavailable = errors.New("user history unavailable")

// KeywordWeight orders keyword matches by business priority.
// high > competitor > medium > low is a deliberate rule: competitor mentions
// are more actionable than generic medium-weight hits.
type KeywordWeight string

const (
	WeightHigh       KeywordWeight = "high"
	WeightCompetitor KeywordWeight = "competitor"
	WeightMedium     KeywordWeight = "medium"
	WeightLow        KeywordWeight = "low"
)

// Rank returns the priority rank of a weight, higher wins.
func (w KeywordWeight) Rank() int {
	switch w {
	case WeightHigh:
		return 4
	case WeightCompetitor:
		return 3
	case WeightMedium:
		return 2
	case WeightLow:
		return 1
	default:
		return 0
	}
}

type Keyword struct {
	ID       int64         `json:"id"`
	Term     string        `json:"term"`
	Weight   KeywordWeight `json:"weight"`
	IsActive bool          `json:"is_active"`
}

type SubredditTier string

const (
	TierHigh   SubredditTier = "high"
	TierMedium SubredditTier = "medium"
	TierLow    SubredditTier = "low"
)

type Subreddit struct {
	Name     string        `json:"name"`
	Tier     SubredditTier `json:"tier"`
	Priority int           `json:"priority"`
	IsActive bool          `json:"is_active"`
}

// Post is a content-platform submission as returned by the reader.
type Post struct {
	ID          string    `json:"id"`
	Subreddit   string    `json:"subreddit"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	CreatedAt   time.Time `json:"created_at"`
	Permalink   string    `json:"permalink"`
	URL         string    `json:"url"`
	Flair       string    `json:"flair"`
	NSFW        bool      `json:"nsfw"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	Replies   []Comment `json:"replies,omitempty"`
}

// ScoreBreakdown itemizes the five Layer-1 dimensions.
type ScoreBreakdown struct {
	Keyword    int `json:"keyword"`
	Tier       int `json:"tier"`
	Freshness  int `json:"freshness"`
	Engagement int `json:"engagement"`
	Quality    int `json:"quality"`
}

// Candidate is an ephemeral scored post awaiting Layer-2 investigation.
type Candidate struct {
	Post        Post           `json:"post"`
	Tier        SubredditTier  `json:"tier"`
	Layer1Score int            `json:"layer1_score"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
	Matched     []Keyword      `json:"matched"`
	Highest     *Keyword       `json:"highest,omitempty"`
}

type OpportunityStatus string

const (
	OpportunityNew      OpportunityStatus = "new"
	OpportunityDrafted  OpportunityStatus = "response_drafted"
	OpportunityApproved OpportunityStatus = "approved"
	OpportunityPosted   OpportunityStatus = "posted"
	OpportunityExpired  OpportunityStatus = "expired"
	OpportunitySkipped  OpportunityStatus = "skipped"
)

// Opportunity is the durable result of the two-layer pipeline for one post.
// Layer2Score is nil when the agent loop skipped without scoring. Readers
// must treat items past ExpiresAt as expired; no background sweep runs.
type Opportunity struct {
	ID             string            `json:"id"`
	PostID         string            `json:"post_id"`
	Subreddit      string            `json:"subreddit"`
	Title          string            `json:"title"`
	Permalink      string            `json:"permalink"`
	Layer1Score    int               `json:"layer1_score"`
	Layer2Score    *int              `json:"layer2_score,omitempty"`
	CombinedScore  int               `json:"combined_score"`
	Classification string            `json:"classification"`
	Status         OpportunityStatus `json:"status"`
	SkipReason     string            `json:"skip_reason,omitempty"`
	IntentAnalysis string            `json:"intent_analysis,omitempty"`
	DraftResponse  string            `json:"draft_response,omitempty"`
	ResponseStyle  string            `json:"response_style,omitempty"`
	QualityNote    string            `json:"quality_note,omitempty"`
	Iterations     int               `json:"iterations"`
	ToolsUsed      []string          `json:"tools_used,omitempty"`
	Summary        string            `json:"investigation_summary,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Expired reports whether the opportunity is past its review window while
// still awaiting a decision.
func (o Opportunity) Expired(now time.Time) bool {
	if o.Status != OpportunityNew && o.Status != OpportunityDrafted {
		return false
	}
	return now.After(o.ExpiresAt)
}

type DecisionItemType string

const (
	DecisionDraftResponse    DecisionItemType = "draft_response"
	DecisionAdRecommendation DecisionItemType = "ad_recommendation"
	DecisionAdPause          DecisionItemType = "ad_pause"
	DecisionAdResume         DecisionItemType = "ad_resume"
	DecisionTrendAlert       DecisionItemType = "trend_alert"
)

type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
	DecisionExpired  DecisionStatus = "expired"
)

// DecisionQueueItem is a pending human-reviewable action. An item can be
// resolved at most once; resolution is only valid from pending.
type DecisionQueueItem struct {
	ID            string           `json:"id"`
	OpportunityID *string          `json:"opportunity_id,omitempty"`
	Type          DecisionItemType `json:"type"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Priority      int              `json:"priority"`
	RiskLevel     string           `json:"risk_level"`
	Status        DecisionStatus   `json:"status"`
	ResolvedBy    string           `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type GuardrailType string

const (
	GuardrailThreshold GuardrailType = "threshold"
	GuardrailRule      GuardrailType = "rule"
	GuardrailTrend     GuardrailType = "trend"
)

type ViolationAction string

const (
	ActionWarn  ViolationAction = "warn"
	ActionBlock ViolationAction = "block"
	ActionAlert ViolationAction = "alert"
)

// Guardrail is an operator-configured rule row. Thresholds are data, not
// code: the engine reads them from the rule store and falls back to
// defaults only when a named rule is absent.
type Guardrail struct {
	RuleName  string                 `json:"rule_name"`
	Type      GuardrailType          `json:"type"`
	Category  string                 `json:"category"`
	Threshold *float64               `json:"threshold,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Action    ViolationAction        `json:"violation_action"`
	AppliesTo []string               `json:"applies_to,omitempty"`
	IsActive  bool                   `json:"is_active"`
	CreatedAt time.Time              `json:"created_at"`
}

// Violation is a first-class validation result, not an exception.
type Violation struct {
	Rule    string          `json:"rule"`
	Action  ViolationAction `json:"action"`
	Message string          `json:"message"`
}

type CampaignStatus string

const (
	CampaignRecommended CampaignStatus = "recommended"
	CampaignApproved    CampaignStatus = "approved"
	CampaignCreating    CampaignStatus = "creating"
	CampaignActive      CampaignStatus = "active"
	CampaignPaused      CampaignStatus = "paused"
	CampaignCompleted   CampaignStatus = "completed"
	CampaignFailed      CampaignStatus = "failed"
)

// SignalTypeEvergreen tags campaigns with no originating organic signal.
const SignalTypeEvergreen = "evergreen"

// AdCampaign links an ads-platform campaign back to the organic signal that
// inspired it. Every campaign must carry a source-signal type or be tagged
// evergreen. Monetary values are integer minor units.
type AdCampaign struct {
	ID                 string         `json:"id"`
	PlatformCampaignID string         `json:"platform_campaign_id,omitempty"`
	Name               string         `json:"name"`
	Status             CampaignStatus `json:"status"`
	SourceSignalType   string         `json:"source_signal_type"`
	OpportunityID      *string        `json:"opportunity_id,omitempty"`
	TrendSnapshotID    *string        `json:"trend_snapshot_id,omitempty"`
	DailyBudgetCents   int64          `json:"daily_budget_cents"`
	Headline           string         `json:"headline,omitempty"`
	TargetSubreddit    string         `json:"target_subreddit,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// AdPerformance is one append-only daily metrics row for a campaign.
type AdPerformance struct {
	ID                   int64     `json:"id"`
	CampaignID           string    `json:"campaign_id"`
	Date                 time.Time `json:"date"`
	Impressions          int64     `json:"impressions"`
	Clicks               int64     `json:"clicks"`
	CTR                  float64   `json:"ctr"`
	CPCCents             int64     `json:"cpc_cents"`
	CPMCents             int64     `json:"cpm_cents"`
	SpendCents           int64     `json:"spend_cents"`
	Conversions          int64     `json:"conversions"`
	ConversionValueCents int64     `json:"conversion_value_cents"`
}

// AdSignalCorrelation is the upserted per-campaign rollup used to bias
// future recommendations toward historically high-ROI signal types.
type AdSignalCorrelation struct {
	CampaignID      string    `json:"campaign_id"`
	SignalType      string    `json:"signal_type"`
	TotalSpendCents int64     `json:"total_spend_cents"`
	Impressions     int64     `json:"impressions"`
	Clicks          int64     `json:"clicks"`
	Conversions     int64     `json:"conversions"`
	ROAS            float64   `json:"roas"`
	Rating          string    `json:"rating"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CorrelationRating buckets ROAS into a coarse rating.
func CorrelationRating(roas float64) string {
	switch {
	case roas >= 2:
		return "high"
	case roas >= 1:
		return "medium"
	default:
		return "low"
	}
}

// SignalEvent is one entry in the append-only cross-agent signal bus.
type SignalEvent struct {
	ID        int64           `json:"id"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Signal bus event types emitted by the pipeline.
const (
	EventOpportunityFound  = "opportunity_found"
	EventResponseDrafted   = "response_drafted"
	EventTrendingTopic     = "trending_topic"
	EventCompetitorMention = "competitor_mention"
	EventScanComplete      = "scan_complete"
	EventDigestComplete    = "digest_complete"
	EventAdRecommended     = "ad_recommended"
	EventAdPerformance     = "ad_performance"
	EventAdCreated         = "ad_created"
	EventAdAutoPaused      = "ad_auto_paused"
)

// AuditEntry records every agent outcome, guardrail violation and ads
// mutation for after-the-fact review.
type AuditEntry struct {
	ID        int64           `json:"id"`
	PostID    string          `json:"post_id,omitempty"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Outcome   string          `json:"outcome"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
