// Package paymentclient is the synchronous Order -> Payment hop. Calls go
// through a circuit breaker and a bounded retry; when neither gets a
// payment through, callers receive a FAILED result, never an error.
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/breaker"
	"github.com/example/order-choreography/internal/domain"
	imetrics "github.com/example/order-choreography/internal/metrics"
	"github.com/example/order-choreography/internal/models"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// Request is the body of POST /payments.
type Request struct {
	OrderID string       `json:"orderId"`
	Amount  domain.Money `json:"amount"`
}

// Result mirrors the payment service response.
type Result struct {
	ID          string       `json:"id"`
	OrderID     string       `json:"orderId"`
	Status      string       `json:"status"`
	Amount      domain.Money `json:"amount"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt"`
}

func (r Result) Completed() bool { return r.Status == string(domain.PaymentCompleted) }

// Fallback is the deterministic answer when the payment service cannot be
// reached. It is shaped exactly like a declined payment.
func Fallback(orderID domain.OrderID, amount domain.Money, now time.Time) Result {
	at := now.UTC()
	return Result{
		ID:          "fallback-" + string(orderID),
		OrderID:     string(orderID),
		Status:      string(domain.PaymentFailed),
		Amount:      amount,
		CreatedAt:   at,
		CompletedAt: &at,
	}
}

// NewBreaker builds the breaker guarding the payment hop. State changes are
// logged and exported on the circuit_breaker_state gauge.
func NewBreaker(cfg breaker.Config) *breaker.Breaker {
	user := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to breaker.State) {
		imetrics.BreakerState.WithLabelValues(name).Set(float64(to))
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		if user != nil {
			user(name, from, to)
		}
	}
	b := breaker.New(cfg)
	imetrics.BreakerState.WithLabelValues(b.Name()).Set(float64(breaker.Closed))
	return b
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *breaker.Breaker
	now     func() time.Time
}

func New(cfg Config, b *breaker.Breaker) *Client {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: b,
		now:     time.Now,
	}
}

// Pay requests a payment for orderID. Validation errors are returned
// as-is; every other failure yields Fallback with a nil error. A 2xx body
// that does not decode is not retried: the order stays pending and the
// order.created path settles it.
func (c *Client) Pay(ctx context.Context, orderID domain.OrderID, amount domain.Money) (Result, error) {
	if strings.TrimSpace(string(orderID)) == "" {
		return Result{}, apperr.Validation("payment.pay", "order id is blank")
	}
	if !amount.IsPositive() {
		return Result{}, apperr.Validation("payment.pay", "amount must be positive, got %s", amount)
	}

	attempt := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempt++
		var out Result
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var cerr error
			out, cerr = c.call(ctx, Request{OrderID: string(orderID), Amount: amount})
			return cerr
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, breaker.ErrOpen), !apperr.Is(err, apperr.KindTransient):
			return Result{}, backoff.Permanent(err)
		default:
			return Result{}, err
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(c.cfg.RetryAttempts)),
	)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("orderId", string(orderID)).Int("attempts", attempt).
			Str("breaker", c.breaker.State().String()).Msg("payment call failed, using fallback")
		return Fallback(orderID, amount, c.now()), nil
	}
	return res, nil
}

func (c *Client) call(ctx context.Context, body Request) (Result, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "payment.call", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/payments", bytes.NewReader(b))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "payment.call", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := models.CorrelationIDFrom(ctx); id != "" {
		req.Header.Set(models.HeaderCorrelationID, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, classify(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, apperr.Transient("payment.call", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return Result{}, apperr.Transient("payment.call", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, apperr.New(apperr.KindInternal, "payment.call", fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)), nil)
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "payment.call", fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return apperr.Transient("payment.call", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindInternal, "payment.call", err)
	}
	// connection refused and DNS failures surface as *url.Error wrapping *net.OpError
	return apperr.Transient("payment.call", err)
}
