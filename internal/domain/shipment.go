package domain

import (
	"strings"
	"time"

	"github.com/example/order-choreography/internal/apperr"
)

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "PENDING"
	ShipmentInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentDelivered ShipmentStatus = "DELIVERED"
)

// Shipment carries a tracking number from IN_TRANSIT onwards.
type Shipment struct {
	ID             ShipmentID
	OrderID        OrderID
	TrackingNumber string
	Status         ShipmentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewShipment(id ShipmentID, order OrderID, now time.Time) (Shipment, error) {
	if blank(string(id)) {
		return Shipment{}, apperr.Validation("shipment", "shipment id is blank")
	}
	if blank(string(order)) {
		return Shipment{}, apperr.Validation("shipment", "order id is blank")
	}
	now = now.UTC()
	return Shipment{ID: id, OrderID: order, Status: ShipmentPending, CreatedAt: now, UpdatedAt: now}, nil
}

func (s Shipment) Ship(trackingNumber string, now time.Time) (Shipment, error) {
	if s.Status != ShipmentPending {
		return s, apperr.IllegalTransition("shipment", string(s.Status), string(ShipmentInTransit))
	}
	tn := strings.TrimSpace(trackingNumber)
	if tn == "" {
		return s, apperr.Validation("shipment", "tracking number is required to ship")
	}
	next := s
	next.TrackingNumber = tn
	next.Status = ShipmentInTransit
	next.UpdatedAt = now.UTC()
	return next, nil
}

func (s Shipment) Deliver(now time.Time) (Shipment, error) {
	if s.Status != ShipmentInTransit {
		return s, apperr.IllegalTransition("shipment", string(s.Status), string(ShipmentDelivered))
	}
	next := s
	next.Status = ShipmentDelivered
	next.UpdatedAt = now.UTC()
	return next, nil
}
