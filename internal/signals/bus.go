// Package signals implements the append-only cross-agent signal bus. Events
// are durably logged in Postgres and mirrored to a Redis stream so other
// agents can tail them; the mirror is best-effort and never fails a publish.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prospector-io/prospector/models"
)

const stream = "prospector:signals"

// maxStreamLen bounds the Redis mirror; the Postgres log is the durable copy.
const maxStreamLen = 10000

// Log is the durable event store. The store package satisfies it.
type Log interface {
	AppendSignalEvent(ctx context.Context, e models.SignalEvent) (int64, error)
	SignalEvents(ctx context.Context, topic string, since time.Time, limit int) ([]models.SignalEvent, error)
}

// Bus publishes and queries signal events.
type Bus struct {
	log    Log
	redis  *redis.Client
	source string
}

// New creates a Bus. rdb may be nil, in which case only the durable log is
// written.
func New(logStore Log, rdb *redis.Client, source string) *Bus {
	return &Bus{log: logStore, redis: rdb, source: source}
}

// Publish appends one event to the durable log and mirrors it to the stream.
func (b *Bus) Publish(ctx context.Context, eventType string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal signal payload: %w", err)
		}
		raw = data
	}
	id, err := b.log.AppendSignalEvent(ctx, models.SignalEvent{
		Source:    b.source,
		EventType: eventType,
		Payload:   raw,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	if b.redis != nil {
		if err := b.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: maxStreamLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":         id,
				"source":     b.source,
				"event_type": eventType,
				"payload":    string(raw),
			},
		}).Err(); err != nil {
			log.Printf("[SIGNALS] stream mirror failed for %s: %v", eventType, err)
		}
	}
	return nil
}

// Recent returns events matching a topic substring within a trailing window.
func (b *Bus) Recent(ctx context.Context, topic string, window time.Duration, limit int) ([]models.SignalEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return b.log.SignalEvents(ctx, topic, time.Now().Add(-window), limit)
}
