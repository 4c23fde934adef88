package domain

import (
	"time"

	"github.com/example/order-choreography/internal/apperr"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment invariant: CompletedAt is nil exactly while the payment is PENDING.
// AnnouncedAt is set once payment.completed is known to be on the log.
type Payment struct {
	ID          PaymentID
	OrderID     OrderID
	Amount      Money
	Status      PaymentStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	AnnouncedAt *time.Time
}

func NewPayment(id PaymentID, order OrderID, amount Money, now time.Time) (Payment, error) {
	if blank(string(id)) {
		return Payment{}, apperr.Validation("payment", "payment id is blank")
	}
	if blank(string(order)) {
		return Payment{}, apperr.Validation("payment", "order id is blank")
	}
	if !amount.IsPositive() {
		return Payment{}, apperr.Validation("payment", "amount must be strictly positive, got %s", amount)
	}
	return Payment{
		ID:        id,
		OrderID:   order,
		Amount:    amount,
		Status:    PaymentPending,
		CreatedAt: now.UTC(),
	}, nil
}

func (p Payment) settle(to PaymentStatus, now time.Time) (Payment, error) {
	if p.Status != PaymentPending {
		return p, apperr.IllegalTransition("payment", string(p.Status), string(to))
	}
	at := now.UTC()
	next := p
	next.Status = to
	next.CompletedAt = &at
	return next, nil
}

func (p Payment) Complete(now time.Time) (Payment, error) { return p.settle(PaymentCompleted, now) }

func (p Payment) Fail(now time.Time) (Payment, error) { return p.settle(PaymentFailed, now) }

// MarkAnnounced records that payment.completed went out. Only completed
// payments are announced; repeating it keeps the first timestamp.
func (p Payment) MarkAnnounced(now time.Time) (Payment, error) {
	if p.Status != PaymentCompleted {
		return p, apperr.IllegalTransition("payment", string(p.Status), "ANNOUNCED")
	}
	if p.AnnouncedAt != nil {
		return p, nil
	}
	at := now.UTC()
	next := p
	next.AnnouncedAt = &at
	return next, nil
}
