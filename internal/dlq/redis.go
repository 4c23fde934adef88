package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/broker"
	imetrics "github.com/example/order-choreography/internal/metrics"
)

// Parked is a malformed message kept for manual inspection.
type Parked struct {
	At          time.Time       `json:"at"`
	Destination string          `json:"destination"`
	MessageID   string          `json:"messageId,omitempty"`
	Error       string          `json:"error"`
	Payload     json.RawMessage `json:"payload"`
}

// Quarantine parks messages that can never be processed on a Redis list.
// They are not retried and do not go to a dead-letter destination.
type Quarantine struct {
	cli *redis.Client
	key string
}

func NewQuarantine(cli *redis.Client, key string) *Quarantine {
	if key == "" {
		key = "quarantine"
	}
	return &Quarantine{cli: cli, key: key}
}

func (q *Quarantine) Push(ctx context.Context, msg broker.Message, cause error) error {
	payload := json.RawMessage(msg.Body)
	if !json.Valid(msg.Body) {
		payload, _ = json.Marshal(string(msg.Body))
	}
	b, err := json.Marshal(Parked{
		At:          time.Now().UTC(),
		Destination: msg.Destination,
		MessageID:   msg.ID,
		Error:       cause.Error(),
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	if _, rerr := q.cli.LPush(ctx, q.key, b).Result(); rerr != nil {
		log.Ctx(ctx).Error().Err(rerr).Msg("redis quarantine push failed")
		return fmt.Errorf("quarantine push: %w", rerr)
	}
	imetrics.Quarantined.Inc()
	return nil
}

// List returns up to n parked messages, newest first.
func (q *Quarantine) List(ctx context.Context, n int64) ([]Parked, error) {
	raw, err := q.cli.LRange(ctx, q.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Parked, 0, len(raw))
	for _, r := range raw {
		var p Parked
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
