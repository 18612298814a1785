// Package trends computes the keyword frequency digest and flags emerging
// topics from the scanned-post registry.
package trends

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prospector-io/prospector/models"
)

const (
	currentWindow  = 24 * time.Hour
	baselineWindow = 30 * 24 * time.Hour
	baselineDays   = 30
)

// Store is the read surface of the detector.
type Store interface {
	ListActiveKeywords(ctx context.Context) ([]models.Keyword, error)
	CountPostsMatchingSince(ctx context.Context, topic string, since time.Time) (int, error)
}

// Publisher emits signal bus events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Topic is one keyword's digest entry.
type Topic struct {
	Term          string  `json:"term"`
	CurrentCount  int     `json:"current_count"`
	DailyBaseline float64 `json:"daily_baseline"`
	Emerging      bool    `json:"emerging"`
}

// Digest is one detection run over all active keywords.
type Digest struct {
	Topics      []Topic   `json:"topics"`
	Emerging    int       `json:"emerging"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Detector flags keywords whose last-day frequency exceeds twice their
// 30-day daily baseline. There is deliberately no minimum absolute floor:
// a topic going from near-zero to a handful of posts is exactly the early
// signal worth surfacing.
type Detector struct {
	store  Store
	bus    Publisher
	logger *log.Logger

	now func() time.Time
}

func NewDetector(store Store, bus Publisher, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(log.Writer(), "[TRENDS] ", log.LstdFlags)
	}
	return &Detector{store: store, bus: bus, logger: logger, now: time.Now}
}

// Run computes the digest and publishes a trending_topic event for each
// emerging keyword plus one digest_complete summary.
func (d *Detector) Run(ctx context.Context) (Digest, error) {
	now := d.now()
	digest := Digest{GeneratedAt: now}

	kws, err := d.store.ListActiveKeywords(ctx)
	if err != nil {
		return digest, fmt.Errorf("listing keywords: %w", err)
	}

	for _, kw := range kws {
		current, err := d.store.CountPostsMatchingSince(ctx, kw.Term, now.Add(-currentWindow))
		if err != nil {
			return digest, fmt.Errorf("counting %q: %w", kw.Term, err)
		}
		total, err := d.store.CountPostsMatchingSince(ctx, kw.Term, now.Add(-baselineWindow))
		if err != nil {
			return digest, fmt.Errorf("baseline for %q: %w", kw.Term, err)
		}
		baseline := float64(total) / baselineDays

		topic := Topic{
			Term:          kw.Term,
			CurrentCount:  current,
			DailyBaseline: baseline,
			Emerging:      float64(current) > 2*baseline,
		}
		digest.Topics = append(digest.Topics, topic)
		if !topic.Emerging {
			continue
		}
		digest.Emerging++
		d.logger.Printf("emerging topic %q: %d posts today vs %.2f/day baseline", kw.Term, current, baseline)
		if d.bus != nil {
			if err := d.bus.Publish(ctx, models.EventTrendingTopic, topic); err != nil {
				d.logger.Printf("trending_topic signal: %v", err)
			}
		}
	}

	if d.bus != nil {
		if err := d.bus.Publish(ctx, models.EventDigestComplete, map[string]interface{}{
			"topics":   len(digest.Topics),
			"emerging": digest.Emerging,
		}); err != nil {
			d.logger.Printf("digest_complete signal: %v", err)
		}
	}
	return digest, nil
}
