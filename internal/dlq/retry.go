// Package dlq wraps consumer handlers with a fixed retry budget and moves
// messages that exhaust it to a dead-letter destination.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	imetrics "github.com/example/order-choreography/internal/metrics"
)

// Policy is a fixed-count, fixed-delay retry budget.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultPolicy() Policy { return Policy{MaxAttempts: 3, Backoff: time.Second} }

// Failure is attached to every dead-lettered message under the "error" key.
type Failure struct {
	Message        string    `json:"message"`
	ExceptionClass string    `json:"exceptionClass"`
	RetryCount     int       `json:"retryCount"`
	FailedAt       time.Time `json:"failedAt"`
}

// Quarantiner parks malformed messages.
type Quarantiner interface {
	Push(ctx context.Context, msg broker.Message, cause error) error
}

// Sink is where failed messages go.
type Sink struct {
	Publisher broker.Publisher
	// DeadLetter names the DLQ of a live destination.
	DeadLetter func(destination string) string
	// Quarantine is optional; without it malformed messages are only logged.
	Quarantine Quarantiner
}

// WithRetry runs h up to p.MaxAttempts times. Retryable failures wait
// p.Backoff between attempts; fatal ones stop immediately. A message that
// still fails is published to its dead-letter destination and then
// acknowledged; malformed messages are quarantined and acknowledged.
// The returned handler only fails when the dead-letter publish fails.
func WithRetry(h broker.Handler, p Policy, sink Sink) broker.Handler {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return func(ctx context.Context, msg broker.Message) error {
		attempts := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempts++
			if attempts > 1 {
				imetrics.Retries.WithLabelValues(msg.Destination).Inc()
			}
			herr := h(ctx, msg)
			if herr != nil && !apperr.Retryable(herr) {
				return struct{}{}, backoff.Permanent(herr)
			}
			return struct{}{}, herr
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
			backoff.WithMaxTries(uint(p.MaxAttempts)),
		)
		if err == nil {
			return nil
		}

		l := log.Ctx(ctx).With().Str("destination", msg.Destination).Str("messageId", msg.ID).Int("attempts", attempts).Logger()
		if apperr.Is(err, apperr.KindMalformed) {
			l.Error().Err(err).Msg("malformed message dropped")
			if sink.Quarantine != nil {
				if qerr := sink.Quarantine.Push(ctx, msg, err); qerr != nil {
					l.Error().Err(qerr).Msg("quarantine failed")
				}
			}
			return nil
		}

		dest := sink.DeadLetter(msg.Destination)
		dead := deadLetter(msg, dest, Failure{
			Message:        err.Error(),
			ExceptionClass: exceptionClass(err),
			RetryCount:     attempts,
			FailedAt:       time.Now().UTC(),
		})
		if perr := sink.Publisher.Publish(ctx, dead); perr != nil {
			l.Error().Err(perr).Msg("dead-letter publish failed, leaving message for redelivery")
			return fmt.Errorf("publish to %s: %w", dest, perr)
		}
		imetrics.DLQCount.WithLabelValues(dest).Inc()
		l.Error().Err(err).Str("dlq", dest).Msg("message dead-lettered")
		return nil
	}
}

func exceptionClass(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return fmt.Sprintf("%T", err)
}

func deadLetter(msg broker.Message, dest string, f Failure) broker.Message {
	out := msg.Clone()
	out.Destination = dest
	out.Body = Annotate(msg.Body, f)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	out.Headers["x-original-destination"] = msg.Destination
	out.Headers["x-error-message"] = f.Message
	out.Headers["x-error-class"] = f.ExceptionClass
	out.Headers["x-retry-count"] = strconv.Itoa(f.RetryCount)
	out.Headers["x-failed-at"] = f.FailedAt.Format(time.RFC3339Nano)
	return out
}

// Annotate returns body with an "error" member added. Bodies that are not
// JSON objects are kept verbatim under "raw".
func Annotate(body []byte, f Failure) []byte {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		raw, _ := json.Marshal(string(body))
		fields = map[string]json.RawMessage{"raw": raw}
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fb, _ := json.Marshal(f)
	fields["error"] = fb
	out, _ := json.Marshal(fields)
	return out
}

// FailureOf extracts the failure metadata from a dead-lettered body.
func FailureOf(body []byte) (Failure, bool) {
	var wrapper struct {
		Error *Failure `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error == nil {
		return Failure{}, false
	}
	return *wrapper.Error, true
}
