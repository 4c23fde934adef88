package storage

import (
	"context"
	"sync"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/domain"
)

// Memory keeps aggregates in maps, for local runs and tests.
type Memory struct {
	mu            sync.RWMutex
	orders        map[domain.OrderID]domain.Order
	payments      map[domain.PaymentID]domain.Payment
	notifications map[domain.NotificationID]domain.Notification
	shipments     map[domain.ShipmentID]domain.Shipment
}

func NewMemory() *Memory {
	return &Memory{
		orders:        map[domain.OrderID]domain.Order{},
		payments:      map[domain.PaymentID]domain.Payment{},
		notifications: map[domain.NotificationID]domain.Notification{},
		shipments:     map[domain.ShipmentID]domain.Shipment{},
	}
}

func (m *Memory) SaveOrder(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Items = append([]domain.LineItem(nil), o.Items...)
	m.orders[o.ID] = o
	return nil
}

func (m *Memory) FindOrder(_ context.Context, id domain.OrderID) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, apperr.NotFound("orders", "order %s not found", id)
	}
	o.Items = append([]domain.LineItem(nil), o.Items...)
	return o, nil
}

func (m *Memory) SavePayment(_ context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) FindPayment(_ context.Context, id domain.PaymentID) (domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.Payment{}, apperr.NotFound("payments", "payment %s not found", id)
	}
	return p, nil
}

func (m *Memory) FindPaymentByOrder(_ context.Context, id domain.OrderID) (domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.OrderID == id {
			return p, nil
		}
	}
	return domain.Payment{}, apperr.NotFound("payments", "no payment for order %s", id)
}

func (m *Memory) SaveNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) FindNotification(_ context.Context, id domain.NotificationID) (domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.Notification{}, apperr.NotFound("notifications", "notification %s not found", id)
	}
	return n, nil
}

func (m *Memory) SaveShipment(_ context.Context, s domain.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[s.ID] = s
	return nil
}

func (m *Memory) FindShipment(_ context.Context, id domain.ShipmentID) (domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[id]
	if !ok {
		return domain.Shipment{}, apperr.NotFound("shipments", "shipment %s not found", id)
	}
	return s, nil
}

func (m *Memory) FindShipmentByOrder(_ context.Context, id domain.OrderID) (domain.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.shipments {
		if s.OrderID == id {
			return s, nil
		}
	}
	return domain.Shipment{}, apperr.NotFound("shipments", "no shipment for order %s", id)
}

func (m *Memory) Close() error { return nil }
