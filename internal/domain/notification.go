package domain

import (
	"strings"
	"time"

	"github.com/example/order-choreography/internal/apperr"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

type Notification struct {
	ID            NotificationID
	OrderID       OrderID
	PaymentID     PaymentID
	Message       string
	Status        NotificationStatus
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewNotification(id NotificationID, order OrderID, payment PaymentID, message string, now time.Time) (Notification, error) {
	if blank(string(id)) {
		return Notification{}, apperr.Validation("notification", "notification id is blank")
	}
	if blank(string(order)) {
		return Notification{}, apperr.Validation("notification", "order id is blank")
	}
	if strings.TrimSpace(message) == "" {
		return Notification{}, apperr.Validation("notification", "message is blank")
	}
	now = now.UTC()
	return Notification{
		ID:        id,
		OrderID:   order,
		PaymentID: payment,
		Message:   message,
		Status:    NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (n Notification) MarkSent(now time.Time) (Notification, error) {
	if n.Status != NotificationPending {
		return n, apperr.IllegalTransition("notification", string(n.Status), string(NotificationSent))
	}
	next := n
	next.Status = NotificationSent
	next.UpdatedAt = now.UTC()
	return next, nil
}

func (n Notification) MarkFailed(reason string, now time.Time) (Notification, error) {
	if n.Status != NotificationPending {
		return n, apperr.IllegalTransition("notification", string(n.Status), string(NotificationFailed))
	}
	next := n
	next.Status = NotificationFailed
	next.FailureReason = reason
	next.UpdatedAt = now.UTC()
	return next, nil
}
