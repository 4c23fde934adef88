package order

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/httpx"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/paymentclient"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	status string
	calls  int
}

func (g *fakeGateway) Pay(_ context.Context, id domain.OrderID, amount domain.Money) (paymentclient.Result, error) {
	g.calls++
	if g.status == "FAILED" {
		return paymentclient.Fallback(id, amount, fixed), nil
	}
	return paymentclient.Result{ID: "pay-1", OrderID: string(id), Status: g.status, Amount: amount}, nil
}

func setup(status string) (*Service, *storage.Memory, *broker.Memory, *fakeGateway) {
	repo := storage.NewMemory()
	tr := broker.NewMemory()
	gw := &fakeGateway{status: status}
	return NewService(repo, tr, gw, WithClock(func() time.Time { return fixed })), repo, tr, gw
}

func placeReq() PlaceOrder {
	return PlaceOrder{OrderID: "ord-1", CustomerID: "cust-1", ProductID: "prod-1", Quantity: 2, UnitPrice: domain.MustMoney("29.99", "USD")}
}

func TestPlacePaysSynchronously(t *testing.T) {
	svc, repo, tr, gw := setup("COMPLETED")
	o, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.True(t, o.Total.Equal(domain.MustMoney("59.98", "USD")))
	assert.Equal(t, 1, gw.calls)

	stored, err := repo.FindOrder(t.Context(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, stored.Status)

	created := tr.Messages(models.TopicOrderCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "ord-1", created[0].Key)
	assert.Equal(t, domain.DeriveID(models.TypeOrderCreated, "ord-1"), created[0].ID)
	env, err := models.Decode(created[0].Body)
	require.NoError(t, err)
	var ev models.OrderCreated
	require.NoError(t, env.Into(&ev))
	assert.Equal(t, 2, ev.Quantity)
	assert.True(t, ev.TotalAmount.Equal(domain.MustMoney("59.98", "USD")))
}

func TestPlaceFallbackLeavesOrderPending(t *testing.T) {
	svc, _, _, _ := setup("FAILED")
	o, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaymentPending, o.Status)
}

func TestPlaceIsIdempotentOnOrderID(t *testing.T) {
	svc, _, tr, gw := setup("COMPLETED")
	_, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)
	again, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, again.Status)
	assert.Equal(t, 1, gw.calls)
	assert.Len(t, tr.Messages(models.TopicOrderCreated), 1)
}

func TestPlaceRejectsInvalidInput(t *testing.T) {
	svc, repo, _, gw := setup("COMPLETED")
	req := placeReq()
	req.Quantity = 0
	_, err := svc.Place(t.Context(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	req = placeReq()
	req.CustomerID = " "
	_, err = svc.Place(t.Context(), req)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = repo.FindOrder(t.Context(), "ord-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, gw.calls)
}

func TestPlaceRejectsWhitespaceOrderID(t *testing.T) {
	svc, repo, tr, gw := setup("COMPLETED")
	req := placeReq()
	req.OrderID = "   "
	_, err := svc.Place(t.Context(), req)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = repo.FindOrder(t.Context(), "   ")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, gw.calls)
	assert.Empty(t, tr.Messages(models.TopicOrderCreated))

	req.OrderID = " ord-2 "
	o, err := svc.Place(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderID("ord-2"), o.ID)
}

func inbound(t *testing.T, eventType string, payload models.Payload) router.Inbound {
	t.Helper()
	env, _, err := models.Encode(eventType, "test", payload)
	require.NoError(t, err)
	return router.Inbound{Envelope: env, EventID: env.EventID}
}

func TestShipmentArrangedCatchesUpPayment(t *testing.T) {
	svc, repo, _, _ := setup("FAILED")
	_, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)

	_, err = svc.HandleShipmentArranged(t.Context(), inbound(t, models.TypeShipmentArranged, models.ShipmentArranged{
		ShipmentID: "shp-1", OrderID: "ord-1", TrackingNumber: "TRK-1", Status: "IN_TRANSIT",
	}))
	require.NoError(t, err)
	o, err := repo.FindOrder(t.Context(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, o.Status)
}

func TestPaymentCompletedOnPaidOrderIsNoop(t *testing.T) {
	svc, repo, _, _ := setup("COMPLETED")
	_, err := svc.Place(t.Context(), placeReq())
	require.NoError(t, err)
	before, _ := repo.FindOrder(t.Context(), "ord-1")

	_, err = svc.HandlePaymentCompleted(t.Context(), inbound(t, models.TypePaymentCompleted, models.PaymentCompleted{
		PaymentID: "pay-1", OrderID: "ord-1", Amount: domain.MustMoney("59.98", "USD"), Status: "COMPLETED",
	}))
	require.NoError(t, err)
	after, _ := repo.FindOrder(t.Context(), "ord-1")
	assert.Equal(t, before, after)
}

func TestEventForUnknownOrderIsNotFound(t *testing.T) {
	svc, _, _, _ := setup("COMPLETED")
	_, err := svc.HandlePaymentCompleted(t.Context(), inbound(t, models.TypePaymentCompleted, models.PaymentCompleted{
		PaymentID: "pay-9", OrderID: "ord-9", Amount: domain.MustMoney("1", "USD"), Status: "COMPLETED",
	}))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, apperr.Retryable(err))
}

func TestHTTP(t *testing.T) {
	svc, _, _, _ := setup("COMPLETED")
	r := httpx.NewRouter(Source)
	svc.Routes(r)

	body, _ := json.Marshal(placeReq())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, "PAID", v.Status)
	assert.Equal(t, "ord-1", v.ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{"customerId":"c","productId":"p","quantity":-1,"unitPrice":{"amount":1,"currency":"USD"}}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
