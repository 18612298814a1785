// Package store implements Postgres persistence for the pipeline. The
// orchestrator exclusively owns writes to opportunities, scanned posts and
// the decision queue during a scan cycle; the review boundary owns decision
// transitions; performance sync owns ad metrics and correlations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/prospector-io/prospector/models"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// RegisterScannedPost inserts the dedup-registry row for a post. It returns
// false when the post identifier was already registered: the registry is
// the sole dedup mechanism across scan cycles, so callers must treat a
// false return as "already seen, do not rescore".
func (s *Store) RegisterScannedPost(ctx context.Context, post models.Post, layer1Score int) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO scanned_posts (post_id, subreddit, title, layer1_score, layer2_analyzed, scanned_at)
VALUES ($1,$2,$3,$4,FALSE,NOW())
ON CONFLICT (post_id) DO NOTHING
`, post.ID, post.Subreddit, post.Title, layer1Score)
	if err != nil {
		return false, fmt.Errorf("register scanned post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register scanned post rows: %w", err)
	}
	return n == 1, nil
}

// MarkPostAnalyzed flips the monotonic layer2_analyzed flag. The transition
// is false→true only and is never reversed.
func (s *Store) MarkPostAnalyzed(ctx context.Context, postID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE scanned_posts SET layer2_analyzed = TRUE WHERE post_id = $1
`, postID)
	if err != nil {
		return fmt.Errorf("mark post analyzed: %w", err)
	}
	return nil
}

// SearchRelatedPosts does a bounded case-insensitive text search over the
// scanned registry within a trailing time window.
func (s *Store) SearchRelatedPosts(ctx context.Context, query string, since time.Time, limit int) ([]models.Post, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT post_id, subreddit, title, layer1_score, scanned_at
FROM scanned_posts
WHERE title ILIKE '%' || $1 || '%' AND scanned_at >= $2
ORDER BY scanned_at DESC
LIMIT $3
`, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("search related posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var score int
		if err := rows.Scan(&p.ID, &p.Subreddit, &p.Title, &score, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan related post: %w", err)
		}
		p.Score = score
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ListActiveSubreddits returns the scan targets in fixed priority order.
func (s *Store) ListActiveSubreddits(ctx context.Context) ([]models.Subreddit, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT name, tier, priority FROM subreddits
WHERE is_active = TRUE
ORDER BY priority ASC, name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list subreddits: %w", err)
	}
	defer rows.Close()

	var subs []models.Subreddit
	for rows.Next() {
		var sr models.Subreddit
		if err := rows.Scan(&sr.Name, &sr.Tier, &sr.Priority); err != nil {
			return nil, fmt.Errorf("scan subreddit: %w", err)
		}
		sr.IsActive = true
		subs = append(subs, sr)
	}
	return subs, rows.Err()
}

// ListActiveKeywords returns the active keyword rows for the matcher cache.
func (s *Store) ListActiveKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, term, weight FROM keywords WHERE is_active = TRUE ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var kws []models.Keyword
	for rows.Next() {
		var k models.Keyword
		if err := rows.Scan(&k.ID, &k.Term, &k.Weight); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.IsActive = true
		kws = append(kws, k)
	}
	return kws, rows.Err()
}
