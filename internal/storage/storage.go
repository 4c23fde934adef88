// Package storage persists the aggregates each service owns. Saves are
// upserts keyed by aggregate id, so replaying a step rewrites the same row.
package storage

import (
	"context"

	"github.com/example/order-choreography/internal/domain"
)

type Orders interface {
	SaveOrder(ctx context.Context, o domain.Order) error
	FindOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)
}

type Payments interface {
	SavePayment(ctx context.Context, p domain.Payment) error
	FindPayment(ctx context.Context, id domain.PaymentID) (domain.Payment, error)
	FindPaymentByOrder(ctx context.Context, id domain.OrderID) (domain.Payment, error)
}

type Notifications interface {
	SaveNotification(ctx context.Context, n domain.Notification) error
	FindNotification(ctx context.Context, id domain.NotificationID) (domain.Notification, error)
}

type Shipments interface {
	SaveShipment(ctx context.Context, s domain.Shipment) error
	FindShipment(ctx context.Context, id domain.ShipmentID) (domain.Shipment, error)
	FindShipmentByOrder(ctx context.Context, id domain.OrderID) (domain.Shipment, error)
}

// Store is every repository; both backends implement it.
type Store interface {
	Orders
	Payments
	Notifications
	Shipments
	Close() error
}
