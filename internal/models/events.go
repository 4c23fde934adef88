package models

import (
	"encoding/json"
	"strings"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/domain"
)

const (
	TypeOrderCreated     = "order.created"
	TypePaymentCompleted = "payment.completed"
	TypeShipmentArranged = "shipment.arranged"
)

// Log-broker topics share their names with the event types they carry.
const (
	TopicOrderCreated     = TypeOrderCreated
	TopicPaymentCompleted = TypePaymentCompleted
	TopicShipmentArranged = TypeShipmentArranged
)

// QueueShippingNotification is the queue-broker destination for shipping requests.
const QueueShippingNotification = "shipping.notification"

const ActionArrangeShipment = "ARRANGE_SHIPMENT"

// Payload is implemented by every event body so the codec can reject
// envelopes whose payload does not match their type.
type Payload interface {
	Validate() error
}

type OrderCreated struct {
	OrderID     string       `json:"orderId"`
	CustomerID  string       `json:"customerId"`
	ProductID   string       `json:"productId"`
	Quantity    int          `json:"quantity"`
	TotalAmount domain.Money `json:"totalAmount"`
}

func (e OrderCreated) Validate() error {
	if err := required("orderId", e.OrderID, "customerId", e.CustomerID, "productId", e.ProductID); err != nil {
		return err
	}
	if e.Quantity <= 0 {
		return apperr.Malformed(TypeOrderCreated, "quantity must be positive")
	}
	if e.TotalAmount.Currency == "" {
		return apperr.Malformed(TypeOrderCreated, "totalAmount is required")
	}
	return nil
}

type PaymentCompleted struct {
	PaymentID string       `json:"paymentId"`
	OrderID   string       `json:"orderId"`
	Amount    domain.Money `json:"amount"`
	Status    string       `json:"status"`
}

func (e PaymentCompleted) Validate() error {
	if err := required("paymentId", e.PaymentID, "orderId", e.OrderID, "status", e.Status); err != nil {
		return err
	}
	if e.Amount.Currency == "" {
		return apperr.Malformed(TypePaymentCompleted, "amount is required")
	}
	return nil
}

type ShipmentArranged struct {
	ShipmentID     string `json:"shipmentId"`
	OrderID        string `json:"orderId"`
	TrackingNumber string `json:"trackingNumber"`
	Status         string `json:"status"`
}

func (e ShipmentArranged) Validate() error {
	return required("shipmentId", e.ShipmentID, "orderId", e.OrderID, "trackingNumber", e.TrackingNumber, "status", e.Status)
}

// ShippingRequest is the queue message body; it travels without an envelope.
type ShippingRequest struct {
	OrderID string `json:"orderId"`
	Action  string `json:"action"`
}

func (r ShippingRequest) Validate() error {
	return required("orderId", r.OrderID, "action", r.Action)
}

// DecodeShippingRequest parses a queue body.
func DecodeShippingRequest(b []byte) (ShippingRequest, error) {
	var r ShippingRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return r, apperr.Malformed(QueueShippingNotification, "decode body: %v", err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

// required takes name/value pairs and reports the first blank value.
func required(kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			return apperr.Malformed("payload", "%s is required", kv[i])
		}
	}
	return nil
}

var payloadTypes = map[string]func() Payload{
	TypeOrderCreated:     func() Payload { return &OrderCreated{} },
	TypePaymentCompleted: func() Payload { return &PaymentCompleted{} },
	TypeShipmentArranged: func() Payload { return &ShipmentArranged{} },
}
