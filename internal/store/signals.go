package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prospector-io/prospector/models"
)

// AppendSignalEvent writes one entry to the append-only signal bus log.
func (s *Store) AppendSignalEvent(ctx context.Context, e models.SignalEvent) (int64, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO signal_events (source, event_type, payload, created_at)
VALUES ($1,$2,$3,NOW())
RETURNING id
`, e.Source, e.EventType, []byte(payload)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append signal event: %w", err)
	}
	return id, nil
}

// SignalEvents returns recent bus entries matching a topic substring within a
// trailing window, newest first. An empty topic matches everything.
func (s *Store) SignalEvents(ctx context.Context, topic string, since time.Time, limit int) ([]models.SignalEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source, event_type, payload, created_at
FROM signal_events
WHERE created_at >= $1
  AND ($2 = '' OR event_type ILIKE '%' || $2 || '%' OR payload::text ILIKE '%' || $2 || '%')
ORDER BY created_at DESC
LIMIT $3
`, since, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("signal events: %w", err)
	}
	defer rows.Close()

	var out []models.SignalEvent
	for rows.Next() {
		var e models.SignalEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountPostsMatchingSince counts scanned posts whose title matches a topic
// within a window. The trend detector compares a recent window against a
// 30-day baseline with this.
func (s *Store) CountPostsMatchingSince(ctx context.Context, topic string, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM scanned_posts
WHERE title ILIKE '%' || $1 || '%' AND scanned_at >= $2
`, topic, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts matching: %w", err)
	}
	return n, nil
}
