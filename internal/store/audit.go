package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prospector-io/prospector/models"
)

// AppendAudit records one agent action. Every investigated candidate, ads
// mutation and guardrail block lands here exactly once.
func (s *Store) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	detail := e.Detail
	if detail == nil {
		detail = json.RawMessage(`{}`)
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO audit_log (post_id, actor, action, outcome, detail, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
`, nullStr(e.PostID), e.Actor, e.Action, e.Outcome, []byte(detail))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit rows for the review UI.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, COALESCE(post_id,''), actor, action, outcome, detail, created_at
FROM audit_log ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.PostID, &e.Actor, &e.Action, &e.Outcome, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Detail = json.RawMessage(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
