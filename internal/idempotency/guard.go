// Package idempotency makes at-least-once delivery safe: a guard remembers
// which event ids a consumer group has processed and skips repeats.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/metrics"
)

// Outcome is what a handler leaves behind for a processed event.
type Outcome struct {
	Status     string    `json:"status"`
	Reference  string    `json:"reference,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
	// Replayed is set when the outcome came from the store instead of the handler.
	Replayed bool `json:"-"`
}

// Store is the durable record of processed event ids, scoped per group.
type Store interface {
	Seen(ctx context.Context, group, eventID string) (Outcome, bool, error)
	MarkSeen(ctx context.Context, group, eventID string, o Outcome) error
}

type Guard struct {
	store Store
	group string
	now   func() time.Time
}

func NewGuard(store Store, group string) *Guard {
	return &Guard{store: store, group: group, now: time.Now}
}

func (g *Guard) Group() string { return g.group }

// Handle runs f at most once per eventID for this guard's group. A repeat
// returns the recorded outcome without calling f. The context logger is
// expected to carry eventId already.
func (g *Guard) Handle(ctx context.Context, eventID string, f func(ctx context.Context) (Outcome, error)) (Outcome, error) {
	if eventID == "" {
		return Outcome{}, apperr.Malformed("idempotency", "event id is required")
	}
	prev, seen, err := g.store.Seen(ctx, g.group, eventID)
	if err != nil {
		return Outcome{}, apperr.Transient("idempotency.seen", err)
	}
	if seen {
		metrics.Duplicates.WithLabelValues(g.group).Inc()
		log.Ctx(ctx).Info().Str("group", g.group).Msg("duplicate event skipped")
		prev.Replayed = true
		return prev, nil
	}

	out, err := f(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if out.Status == "" {
		out.Status = "processed"
	}
	out.RecordedAt = g.now().UTC()
	if err := g.store.MarkSeen(ctx, g.group, eventID, out); err != nil {
		return Outcome{}, apperr.Transient("idempotency.mark", fmt.Errorf("record %s: %w", eventID, err))
	}
	return out, nil
}
