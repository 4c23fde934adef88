package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleOrder(t *testing.T) domain.Order {
	t.Helper()
	o, err := domain.NewOrder("ord-1", "cust-1", []domain.LineItem{
		{ProductID: "prod-1", Quantity: 2, UnitPrice: domain.MustMoney("29.99", "USD")},
	}, now)
	require.NoError(t, err)
	return o
}

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &DB{SQL: db}, mock
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.FindOrder(ctx, "ord-1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	o := sampleOrder(t)
	require.NoError(t, m.SaveOrder(ctx, o))
	got, err := m.FindOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	p, err := domain.NewPayment(domain.PaymentIDFor("ord-1"), "ord-1", o.Total, now)
	require.NoError(t, err)
	require.NoError(t, m.SavePayment(ctx, p))
	byOrder, err := m.FindPaymentByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byOrder.ID)

	s, err := domain.NewShipment(domain.ShipmentIDFor("ord-1"), "ord-1", now)
	require.NoError(t, err)
	require.NoError(t, m.SaveShipment(ctx, s))
	gs, err := m.FindShipmentByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentPending, gs.Status)

	n, err := domain.NewNotification("ntf-1", "ord-1", p.ID, "paid", now)
	require.NoError(t, err)
	require.NoError(t, m.SaveNotification(ctx, n))
	gn, err := m.FindNotification(ctx, "ntf-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", gn.Message)
}

func TestSaveOrderMerges(t *testing.T) {
	db, mock := newMock(t)
	o := sampleOrder(t)
	mock.ExpectExec(`MERGE dbo\.orders`).
		WithArgs("ord-1", "cust-1", sqlmock.AnyArg(), "59.98", "USD", "CREATED", o.CreatedAt, o.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.SaveOrder(context.Background(), o))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrderScansRow(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"order_id", "customer_id", "items", "total_amount", "currency", "status", "created_at", "updated_at"}).
		AddRow("ord-1", "cust-1", `[{"productId":"prod-1","quantity":2,"unitPrice":{"amount":29.99,"currency":"USD"}}]`, "59.9800", "USD", "PAID", now, now)
	mock.ExpectQuery(`SELECT .* FROM dbo\.orders WHERE order_id=@p1`).WithArgs("ord-1").WillReturnRows(rows)

	o, err := db.FindOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.Equal(t, "59.98", o.Total.Amount.String())
	require.Len(t, o.Items, 1)
	assert.Equal(t, domain.ProductID("prod-1"), o.Items[0].ProductID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOrderMissingIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM dbo\.orders`).WithArgs("ord-x").WillReturnError(sql.ErrNoRows)

	_, err := db.FindOrder(context.Background(), "ord-x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDriverErrorsAreTransient(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`MERGE dbo\.shipments`).WillReturnError(sql.ErrConnDone)

	s, err := domain.NewShipment("shp-1", "ord-1", now)
	require.NoError(t, err)
	err = db.SaveShipment(context.Background(), s)
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestPaymentCompletedAtNullable(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"payment_id", "order_id", "amount", "currency", "status", "created_at", "completed_at", "announced_at"}).
		AddRow("pay-1", "ord-1", "10.0000", "EUR", "PENDING", now, nil, nil)
	mock.ExpectQuery(`FROM dbo\.payments WHERE order_id=@p1`).WithArgs("ord-1").WillReturnRows(rows)

	p, err := db.FindPaymentByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Nil(t, p.CompletedAt)
	assert.Nil(t, p.AnnouncedAt)
	assert.True(t, p.Amount.Equal(domain.MustMoney("10", "EUR")))

	done, err := p.Complete(now)
	require.NoError(t, err)
	mock.ExpectExec(`MERGE dbo\.payments`).
		WithArgs("pay-1", "ord-1", "10.00", "EUR", "COMPLETED", now, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.SavePayment(context.Background(), done))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPaymentReadsAnnouncedAt(t *testing.T) {
	db, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"payment_id", "order_id", "amount", "currency", "status", "created_at", "completed_at", "announced_at"}).
		AddRow("pay-1", "ord-1", "10.0000", "EUR", "COMPLETED", now, now, now)
	mock.ExpectQuery(`FROM dbo\.payments WHERE payment_id=@p1`).WithArgs("pay-1").WillReturnRows(rows)

	p, err := db.FindPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	require.NotNil(t, p.AnnouncedAt)
	assert.True(t, p.AnnouncedAt.Equal(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationMergeAndScan(t *testing.T) {
	db, mock := newMock(t)
	n, err := domain.NewNotification("ntf-1", "ord-1", "pay-1", "order ord-1 paid", now)
	require.NoError(t, err)
	failed, err := n.MarkFailed("smtp down", now)
	require.NoError(t, err)

	mock.ExpectExec(`MERGE dbo\.notifications`).
		WithArgs("ntf-1", "ord-1", "pay-1", "order ord-1 paid", "FAILED", "smtp down", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.SaveNotification(context.Background(), failed))

	rows := sqlmock.NewRows([]string{"notification_id", "order_id", "payment_id", "message", "status", "failure_reason", "created_at", "updated_at"}).
		AddRow("ntf-1", "ord-1", "pay-1", "order ord-1 paid", "FAILED", "smtp down", now, now)
	mock.ExpectQuery(`SELECT .* FROM dbo\.notifications WHERE notification_id=@p1`).WithArgs("ntf-1").WillReturnRows(rows)

	got, err := db.FindNotification(context.Background(), "ntf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, got.Status)
	assert.Equal(t, "smtp down", got.FailureReason)
	assert.Equal(t, domain.PaymentID("pay-1"), got.PaymentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNotificationMissingIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM dbo\.notifications`).WithArgs("ntf-x").WillReturnError(sql.ErrNoRows)

	_, err := db.FindNotification(context.Background(), "ntf-x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestShipmentMergeAndScan(t *testing.T) {
	db, mock := newMock(t)
	s, err := domain.NewShipment("shp-1", "ord-1", now)
	require.NoError(t, err)
	shipped, err := s.Ship("TRK-1", now)
	require.NoError(t, err)

	mock.ExpectExec(`MERGE dbo\.shipments`).
		WithArgs("shp-1", "ord-1", "TRK-1", "IN_TRANSIT", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.SaveShipment(context.Background(), shipped))

	cols := []string{"shipment_id", "order_id", "tracking_number", "status", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT .* FROM dbo\.shipments WHERE shipment_id=@p1`).WithArgs("shp-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("shp-1", "ord-1", "TRK-1", "IN_TRANSIT", now, now))
	got, err := db.FindShipment(context.Background(), "shp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentInTransit, got.Status)
	assert.Equal(t, "TRK-1", got.TrackingNumber)

	mock.ExpectQuery(`SELECT .* FROM dbo\.shipments WHERE order_id=@p1`).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("shp-1", "ord-1", "", "PENDING", now, now))
	byOrder, err := db.FindShipmentByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentID("shp-1"), byOrder.ID)
	assert.Equal(t, domain.ShipmentPending, byOrder.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindShipmentByOrderMissingIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM dbo\.shipments WHERE order_id`).WithArgs("ord-x").WillReturnError(sql.ErrNoRows)

	_, err := db.FindShipmentByOrder(context.Background(), "ord-x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
