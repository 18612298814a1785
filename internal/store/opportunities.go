package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prospector-io/prospector/models"
)

// OpportunityTTL is the review window set at creation. Items still new or
// response_drafted past it are logically expired; readers check ExpiresAt,
// no background sweep runs.
const OpportunityTTL = 48 * time.Hour

// CreateOpportunity persists a pipeline result and returns its id.
func (s *Store) CreateOpportunity(ctx context.Context, o models.Opportunity) (string, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	expires := o.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(OpportunityTTL)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO opportunities (id, post_id, subreddit, title, permalink, layer1_score, layer2_score,
  combined_score, classification, status, skip_reason, intent_analysis, draft_response,
  response_style, quality_note, iterations, tools_used, investigation_summary, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW())
`, o.ID, o.PostID, o.Subreddit, o.Title, o.Permalink, o.Layer1Score, o.Layer2Score,
		o.CombinedScore, o.Classification, o.Status, nullStr(o.SkipReason), nullStr(o.IntentAnalysis),
		nullStr(o.DraftResponse), nullStr(o.ResponseStyle), nullStr(o.QualityNote),
		o.Iterations, pq.Array(o.ToolsUsed), nullStr(o.Summary), expires)
	if err != nil {
		return "", fmt.Errorf("create opportunity: %w", err)
	}
	return o.ID, nil
}

// GetOpportunity loads one opportunity by id.
func (s *Store) GetOpportunity(ctx context.Context, id string) (models.Opportunity, error) {
	var o models.Opportunity
	var skip, intent, draft, style, note, summary sql.NullString
	var l2 sql.NullInt64
	var tools pq.StringArray
	err := s.DB.QueryRowContext(ctx, `
SELECT id, post_id, subreddit, title, permalink, layer1_score, layer2_score, combined_score,
  classification, status, skip_reason, intent_analysis, draft_response, response_style,
  quality_note, iterations, tools_used, investigation_summary, expires_at, created_at
FROM opportunities WHERE id = $1
`, id).Scan(&o.ID, &o.PostID, &o.Subreddit, &o.Title, &o.Permalink, &o.Layer1Score, &l2,
		&o.CombinedScore, &o.Classification, &o.Status, &skip, &intent, &draft, &style,
		&note, &o.Iterations, &tools, &summary, &o.ExpiresAt, &o.CreatedAt)
	if err != nil {
		return models.Opportunity{}, fmt.Errorf("get opportunity %s: %w", id, err)
	}
	if l2.Valid {
		v := int(l2.Int64)
		o.Layer2Score = &v
	}
	o.SkipReason = skip.String
	o.IntentAnalysis = intent.String
	o.DraftResponse = draft.String
	o.ResponseStyle = style.String
	o.QualityNote = note.String
	o.Summary = summary.String
	o.ToolsUsed = tools
	return o, nil
}

// UpdateOpportunityStatus moves an opportunity forward through review.
func (s *Store) UpdateOpportunityStatus(ctx context.Context, id string, status models.OpportunityStatus) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE opportunities SET status = $2 WHERE id = $1
`, id, status)
	if err != nil {
		return fmt.Errorf("update opportunity status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("opportunity %s not found", id)
	}
	return nil
}

// EnqueueDecision appends a pending human-review item.
func (s *Store) EnqueueDecision(ctx context.Context, item models.DecisionQueueItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	payload := item.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO decision_queue (id, opportunity_id, item_type, payload, priority, risk_level, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,'pending',NOW())
`, item.ID, item.OpportunityID, item.Type, []byte(payload), item.Priority, item.RiskLevel)
	if err != nil {
		return "", fmt.Errorf("enqueue decision: %w", err)
	}
	return item.ID, nil
}

// ResolveDecision transitions a pending item to approved or rejected.
// Resolution is single-use: a second attempt returns ErrAlreadyResolved,
// never a silent no-op.
func (s *Store) ResolveDecision(ctx context.Context, id string, status models.DecisionStatus, resolvedBy string) error {
	if status != models.DecisionApproved && status != models.DecisionRejected {
		return fmt.Errorf("invalid resolution status %q", status)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE decision_queue SET status = $2, resolved_by = $3, resolved_at = NOW()
WHERE id = $1 AND status = 'pending'
`, id, status, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve decision rows: %w", err)
	}
	if n == 0 {
		return models.ErrAlreadyResolved
	}
	return nil
}

// GetDecision loads one decision queue item.
func (s *Store) GetDecision(ctx context.Context, id string) (models.DecisionQueueItem, error) {
	var item models.DecisionQueueItem
	var opp sql.NullString
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, opportunity_id, item_type, payload, priority, risk_level, status, resolved_by, resolved_at, created_at
FROM decision_queue WHERE id = $1
`, id).Scan(&item.ID, &opp, &item.Type, &payload, &item.Priority, &item.RiskLevel,
		&item.Status, &resolvedBy, &resolvedAt, &item.CreatedAt)
	if err != nil {
		return models.DecisionQueueItem{}, fmt.Errorf("get decision %s: %w", id, err)
	}
	if opp.Valid {
		item.OpportunityID = &opp.String
	}
	item.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		item.ResolvedAt = &resolvedAt.Time
	}
	item.Payload = json.RawMessage(payload)
	return item, nil
}

// ListPendingDecisions returns the review inbox, highest priority first.
func (s *Store) ListPendingDecisions(ctx context.Context, limit int) ([]models.DecisionQueueItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, opportunity_id, item_type, payload, priority, risk_level, status, created_at
FROM decision_queue
WHERE status = 'pending'
ORDER BY priority DESC, created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	defer rows.Close()

	var items []models.DecisionQueueItem
	for rows.Next() {
		var item models.DecisionQueueItem
		var opp sql.NullString
		var payload []byte
		if err := rows.Scan(&item.ID, &opp, &item.Type, &payload, &item.Priority,
			&item.RiskLevel, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if opp.Valid {
			item.OpportunityID = &opp.String
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListRecentOpportunities returns opportunities created after since, best
// combined score first. The ad recommender reads these as organic signals.
func (s *Store) ListRecentOpportunities(ctx context.Context, since time.Time, limit int) ([]models.Opportunity, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, post_id, subreddit, title, permalink, layer1_score, layer2_score, combined_score,
  classification, status, expires_at, created_at
FROM opportunities
WHERE created_at >= $1
ORDER BY combined_score DESC, created_at DESC
LIMIT $2
`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", err)
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		var o models.Opportunity
		var l2 sql.NullInt64
		if err := rows.Scan(&o.ID, &o.PostID, &o.Subreddit, &o.Title, &o.Permalink,
			&o.Layer1Score, &l2, &o.CombinedScore, &o.Classification, &o.Status,
			&o.ExpiresAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		if l2.Valid {
			v := int(l2.Int64)
			o.Layer2Score = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
