package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/prospector-io/prospector/models"
)

// ListActiveGuardrails loads the active rule rows for the engine cache.
func (s *Store) ListActiveGuardrails(ctx context.Context) ([]models.Guardrail, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT rule_name, rule_type, category, threshold, config, violation_action, applies_to, created_at
FROM guardrails WHERE is_active = TRUE
`)
	if err != nil {
		return nil, fmt.Errorf("list guardrails: %w", err)
	}
	defer rows.Close()

	var out []models.Guardrail
	for rows.Next() {
		var g models.Guardrail
		var threshold sql.NullFloat64
		var cfg []byte
		var applies pq.StringArray
		if err := rows.Scan(&g.RuleName, &g.Type, &g.Category, &threshold, &cfg, &g.Action, &applies, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan guardrail: %w", err)
		}
		if threshold.Valid {
			v := threshold.Float64
			g.Threshold = &v
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &g.Config); err != nil {
				return nil, fmt.Errorf("guardrail %s config: %w", g.RuleName, err)
			}
		}
		g.AppliesTo = applies
		g.IsActive = true
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertGuardrail writes an operator-configured rule row. rule_name is
// globally unique.
func (s *Store) UpsertGuardrail(ctx context.Context, g models.Guardrail) error {
	var cfg []byte
	if g.Config != nil {
		b, err := json.Marshal(g.Config)
		if err != nil {
			return fmt.Errorf("marshal guardrail config: %w", err)
		}
		cfg = b
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO guardrails (rule_name, rule_type, category, threshold, config, violation_action, applies_to, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (rule_name) DO UPDATE SET
  rule_type = EXCLUDED.rule_type,
  category = EXCLUDED.category,
  threshold = EXCLUDED.threshold,
  config = EXCLUDED.config,
  violation_action = EXCLUDED.violation_action,
  applies_to = EXCLUDED.applies_to,
  is_active = EXCLUDED.is_active
`, g.RuleName, g.Type, g.Category, g.Threshold, cfg, g.Action, pq.Array(g.AppliesTo), g.IsActive)
	if err != nil {
		return fmt.Errorf("upsert guardrail: %w", err)
	}
	return nil
}

// Frequency/budget history reads used by the guardrail engine. A response
// counts once its opportunity reaches response_drafted or later.

func (s *Store) CountResponsesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM opportunities
WHERE status IN ('response_drafted','approved','posted') AND created_at >= $1
`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

func (s *Store) CountSubredditResponsesSince(ctx context.Context, subreddit string, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM opportunities
WHERE subreddit = $1 AND status IN ('response_drafted','approved','posted') AND created_at >= $2
`, subreddit, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subreddit responses: %w", err)
	}
	return n, nil
}

func (s *Store) LastResponseAt(ctx context.Context, subreddit string) (*time.Time, error) {
	var t sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT MAX(created_at) FROM opportunities
WHERE subreddit = $1 AND status IN ('response_drafted','approved','posted')
`, subreddit).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("last response at: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

func (s *Store) CountCampaignsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM ad_campaigns WHERE created_at >= $1
`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count campaigns: %w", err)
	}
	return n, nil
}

func (s *Store) ActiveDailySpendCents(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(daily_budget_cents),0) FROM ad_campaigns
WHERE status IN ('approved','creating','active')
`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("active daily spend: %w", err)
	}
	return total.Int64, nil
}
