package domain

import (
	"strings"

	"github.com/google/uuid"

	"github.com/example/order-choreography/internal/apperr"
)

type (
	OrderID        string
	PaymentID      string
	ShipmentID     string
	NotificationID string
	CustomerID     string
	ProductID      string
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func parseID(kind, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", apperr.Validation(kind, "identifier is blank")
	}
	return v, nil
}

func ParseOrderID(s string) (OrderID, error) {
	v, err := parseID("order id", s)
	return OrderID(v), err
}

func ParsePaymentID(s string) (PaymentID, error) {
	v, err := parseID("payment id", s)
	return PaymentID(v), err
}

func ParseShipmentID(s string) (ShipmentID, error) {
	v, err := parseID("shipment id", s)
	return ShipmentID(v), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	v, err := parseID("notification id", s)
	return NotificationID(v), err
}

func ParseCustomerID(s string) (CustomerID, error) {
	v, err := parseID("customer id", s)
	return CustomerID(v), err
}

func ParseProductID(s string) (ProductID, error) {
	v, err := parseID("product id", s)
	return ProductID(v), err
}

// Namespace for name-based identifiers. Deriving ids from their causes makes
// redelivered events land on the same aggregate.
var idNamespace = uuid.MustParse("6f1c2a8e-3d4b-5c6d-8e9f-0a1b2c3d4e5f")

// DeriveID returns a stable UUIDv5 for the given parts.
func DeriveID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

func NewOrderID() OrderID { return OrderID(uuid.NewString()) }

// PaymentIDFor is the one payment identity an order can ever have.
func PaymentIDFor(o OrderID) PaymentID { return PaymentID(DeriveID("payment", string(o))) }

// NotificationIDFor keys a notification on the payment-completed event that caused it.
func NotificationIDFor(eventID string) NotificationID {
	return NotificationID(DeriveID("notification", eventID))
}

func ShipmentIDFor(o OrderID) ShipmentID { return ShipmentID(DeriveID("shipment", string(o))) }
