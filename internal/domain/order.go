package domain

import (
	"time"

	"github.com/example/order-choreography/internal/apperr"
)

type OrderStatus string

const (
	OrderCreated        OrderStatus = "CREATED"
	OrderPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderPaid           OrderStatus = "PAID"
	OrderShipped        OrderStatus = "SHIPPED"
)

type LineItem struct {
	ProductID ProductID
	Quantity  int
	UnitPrice Money
}

func (l LineItem) Total() (Money, error) { return l.UnitPrice.Multiply(l.Quantity) }

// Order is a value: transitions return a new Order and never modify the receiver.
type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Items      []LineItem
	Total      Money
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewOrder(id OrderID, customer CustomerID, items []LineItem, now time.Time) (Order, error) {
	if blank(string(id)) {
		return Order{}, apperr.Validation("order", "order id is blank")
	}
	if blank(string(customer)) {
		return Order{}, apperr.Validation("order", "customer id is blank")
	}
	if len(items) == 0 {
		return Order{}, apperr.Validation("order", "order has no line items")
	}
	var total Money
	for i, it := range items {
		if blank(string(it.ProductID)) {
			return Order{}, apperr.Validation("order", "line %d: product id is blank", i)
		}
		lt, err := it.Total()
		if err != nil {
			return Order{}, err
		}
		if i == 0 {
			total = lt
			continue
		}
		if total, err = total.Add(lt); err != nil {
			return Order{}, err
		}
	}
	now = now.UTC()
	return Order{
		ID:         id,
		CustomerID: customer,
		Items:      append([]LineItem(nil), items...),
		Total:      total,
		Status:     OrderCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (o Order) transition(from, to OrderStatus, now time.Time) (Order, error) {
	if o.Status != from {
		return o, apperr.IllegalTransition("order", string(o.Status), string(to))
	}
	next := o
	next.Items = append([]LineItem(nil), o.Items...)
	next.Status = to
	next.UpdatedAt = now.UTC()
	return next, nil
}

func (o Order) MarkPaymentPending(now time.Time) (Order, error) {
	return o.transition(OrderCreated, OrderPaymentPending, now)
}

func (o Order) MarkPaid(now time.Time) (Order, error) {
	return o.transition(OrderPaymentPending, OrderPaid, now)
}

func (o Order) MarkShipped(now time.Time) (Order, error) {
	return o.transition(OrderPaid, OrderShipped, now)
}
