package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/dlq"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/idempotency"
	"github.com/example/order-choreography/internal/models"
)

type fakeQuarantine struct{ n atomic.Int32 }

func (q *fakeQuarantine) Push(context.Context, broker.Message, error) error {
	q.n.Add(1)
	return nil
}

func newRouter(tr broker.Transport, q dlq.Quarantiner) *Router {
	return New(Deps{
		Service:    "payment-service",
		Transport:  tr,
		Store:      idempotency.NewMemoryStore(time.Hour),
		Policy:     dlq.Policy{MaxAttempts: 3, Backoff: time.Millisecond},
		Quarantine: q,
	})
}

func orderCreated(t *testing.T, ctx context.Context, orderID string) broker.Message {
	t.Helper()
	msg, err := NewEvent(ctx, "order-service", models.TypeOrderCreated, orderID, models.OrderCreated{
		OrderID: orderID, CustomerID: "cust-1", ProductID: "prod-1", Quantity: 2,
		TotalAmount: domain.MustMoney("59.98", "USD"),
	})
	require.NoError(t, err)
	return msg
}

func TestDuplicateDeliveryRunsHandlerOnce(t *testing.T) {
	tr := broker.NewMemory()
	r := newRouter(tr, nil)
	var calls atomic.Int32
	r.Handle(models.TopicOrderCreated, func(ctx context.Context, in Inbound) (Result, error) {
		calls.Add(1)
		var oc models.OrderCreated
		require.NoError(t, in.Envelope.Into(&oc))
		out, err := NewEvent(ctx, "payment-service", models.TypePaymentCompleted, oc.OrderID, models.PaymentCompleted{
			PaymentID: "pay-1", OrderID: oc.OrderID, Amount: oc.TotalAmount, Status: "COMPLETED",
		})
		return Result{Reference: "pay-1", Publish: []broker.Message{out}}, err
	})

	h := r.Handler(models.TopicOrderCreated)
	require.NotNil(t, h)
	msg := orderCreated(t, t.Context(), "ord-1")
	for range 3 {
		require.NoError(t, h(t.Context(), msg))
	}
	assert.Equal(t, int32(1), calls.Load())

	out := tr.Messages(models.TopicPaymentCompleted)
	require.Len(t, out, 1)
	assert.Equal(t, "ord-1", out[0].Key)
	assert.Equal(t, msg.CorrelationID, out[0].CorrelationID, "correlation id is propagated")
}

func TestMalformedIsQuarantinedNotRetried(t *testing.T) {
	tr := broker.NewMemory()
	q := &fakeQuarantine{}
	r := newRouter(tr, q)
	var calls atomic.Int32
	r.Handle(models.TopicOrderCreated, func(context.Context, Inbound) (Result, error) {
		calls.Add(1)
		return Result{}, nil
	})

	err := r.Handler(models.TopicOrderCreated)(t.Context(), broker.Message{Destination: models.TopicOrderCreated, Body: []byte(`{not json`)})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
	assert.Equal(t, int32(1), q.n.Load())
	assert.Empty(t, tr.Messages(models.TopicOrderCreated+broker.DeadLetterSuffix))
}

func TestExhaustedRetriesGoToDLQ(t *testing.T) {
	tr := broker.NewMemory()
	r := newRouter(tr, nil)
	var calls atomic.Int32
	r.Handle(models.TopicOrderCreated, func(context.Context, Inbound) (Result, error) {
		calls.Add(1)
		return Result{}, errors.New("db down")
	})

	msg := orderCreated(t, t.Context(), "ord-2")
	require.NoError(t, r.Handler(models.TopicOrderCreated)(t.Context(), msg))
	assert.Equal(t, int32(3), calls.Load())

	dead := tr.Messages(models.TopicOrderCreated + broker.DeadLetterSuffix)
	require.Len(t, dead, 1)
	f, ok := dlq.FailureOf(dead[0].Body)
	require.True(t, ok)
	assert.Equal(t, 3, f.RetryCount)
}

func TestIllegalTransitionDeadLetteredOnce(t *testing.T) {
	tr := broker.NewMemory()
	r := newRouter(tr, nil)
	var calls atomic.Int32
	r.Handle(models.TopicOrderCreated, func(context.Context, Inbound) (Result, error) {
		calls.Add(1)
		return Result{}, apperr.IllegalTransition("order", "SHIPPED", "PAID")
	})

	require.NoError(t, r.Handler(models.TopicOrderCreated)(t.Context(), orderCreated(t, t.Context(), "ord-3")))
	assert.Equal(t, int32(1), calls.Load())
	dead := tr.Messages(models.TopicOrderCreated + broker.DeadLetterSuffix)
	require.Len(t, dead, 1)
	f, _ := dlq.FailureOf(dead[0].Body)
	assert.Equal(t, 1, f.RetryCount)
	assert.Equal(t, string(apperr.KindIllegalTransition), f.ExceptionClass)
}

func TestRawRouteKeysOnMessageID(t *testing.T) {
	tr := broker.NewMemory()
	r := newRouter(tr, nil)
	var seen []string
	r.HandleRaw(models.QueueShippingNotification, func(_ context.Context, in Inbound) (Result, error) {
		req, err := models.DecodeShippingRequest(in.Message.Body)
		if err != nil {
			return Result{}, err
		}
		seen = append(seen, req.OrderID)
		return Result{}, nil
	})

	ctx := models.ContextWithCorrelationID(t.Context(), "corr-9")
	msg, err := NewQueueMessage(ctx, models.QueueShippingNotification, "ord-4", "ntf-1", models.ShippingRequest{OrderID: "ord-4", Action: models.ActionArrangeShipment})
	require.NoError(t, err)
	assert.Equal(t, "corr-9", msg.CorrelationID)

	h := r.Handler(models.QueueShippingNotification)
	require.NoError(t, h(t.Context(), msg))
	require.NoError(t, h(t.Context(), msg))
	assert.Equal(t, []string{"ord-4"}, seen)
}

func TestRunDeliversThroughTransport(t *testing.T) {
	tr := broker.NewMemory(broker.WithRedeliveryDelay(time.Millisecond))
	r := newRouter(tr, nil)
	got := make(chan string, 4)
	r.Handle(models.TopicOrderCreated, func(_ context.Context, in Inbound) (Result, error) {
		got <- in.Message.Key
		return Result{}, nil
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, tr.Publish(t.Context(), orderCreated(t, t.Context(), "ord-5")))
	select {
	case k := <-got:
		assert.Equal(t, "ord-5", k)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, []string{models.TopicOrderCreated}, r.Destinations())
}

func TestRunWithoutRoutesFails(t *testing.T) {
	assert.Error(t, newRouter(broker.NewMemory(), nil).Run(t.Context()))
}
