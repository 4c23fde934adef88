// Package order owns the Order aggregate: it takes orders over REST, asks
// Payment to charge them and follows payment and shipping events to move
// each order forward.
package order

import (
	"context"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/paymentclient"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

const Source = "order-service"

// PaymentGateway is the synchronous payment hop.
type PaymentGateway interface {
	Pay(ctx context.Context, orderID domain.OrderID, amount domain.Money) (paymentclient.Result, error)
}

type Service struct {
	repo     storage.Orders
	pub      broker.Publisher
	payments PaymentGateway
	locks    *locker.Locker
	// publishCreated emits order.created so Payment can also charge asynchronously.
	publishCreated bool
	now            func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPublishCreated toggles the order.created event (default on).
func WithPublishCreated(on bool) Option { return func(s *Service) { s.publishCreated = on } }

func NewService(repo storage.Orders, pub broker.Publisher, payments PaymentGateway, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		pub:            pub,
		payments:       payments,
		locks:          locker.New(),
		publishCreated: true,
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type PlaceOrder struct {
	OrderID    string       `json:"orderId,omitempty"`
	CustomerID string       `json:"customerId"`
	ProductID  string       `json:"productId"`
	Quantity   int          `json:"quantity"`
	UnitPrice  domain.Money `json:"unitPrice"`
}

// Place creates an order and drives it as far as payment allows. Payment
// trouble never fails the call: the order is returned PAYMENT_PENDING.
// Re-placing a known order id returns the stored order.
func (s *Service) Place(ctx context.Context, req PlaceOrder) (domain.Order, error) {
	id := domain.NewOrderID()
	if req.OrderID != "" {
		parsed, err := domain.ParseOrderID(req.OrderID)
		if err != nil {
			return domain.Order{}, err
		}
		id = parsed
	}
	customer, err := domain.ParseCustomerID(req.CustomerID)
	if err != nil {
		return domain.Order{}, err
	}
	product, err := domain.ParseProductID(req.ProductID)
	if err != nil {
		return domain.Order{}, err
	}
	if !req.UnitPrice.IsPositive() {
		return domain.Order{}, apperr.Validation("order", "unit price must be positive")
	}

	s.locks.Lock(string(id))
	defer s.locks.Unlock(string(id))

	if existing, err := s.repo.FindOrder(ctx, id); err == nil {
		return existing, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return domain.Order{}, err
	}

	o, err := domain.NewOrder(id, customer, []domain.LineItem{{ProductID: product, Quantity: req.Quantity, UnitPrice: req.UnitPrice}}, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.SaveOrder(ctx, o); err != nil {
		return domain.Order{}, err
	}
	l := log.Ctx(ctx).With().Str("orderId", string(o.ID)).Logger()
	l.Info().Str("total", o.Total.String()).Msg("order created")

	if s.publishCreated {
		if err := s.publishOrderCreated(ctx, o); err != nil {
			l.Error().Err(err).Msg("order.created publish failed, continuing with sync payment")
		}
	}

	if o, err = o.MarkPaymentPending(s.now()); err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.SaveOrder(ctx, o); err != nil {
		return domain.Order{}, err
	}

	res, err := s.payments.Pay(ctx, o.ID, o.Total)
	if err != nil {
		l.Warn().Err(err).Msg("payment rejected, order stays pending")
		return o, nil
	}
	if !res.Completed() {
		l.Warn().Str("paymentId", res.ID).Str("status", res.Status).Msg("payment not completed, order stays pending")
		return o, nil
	}
	paid, err := o.MarkPaid(s.now())
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.SaveOrder(ctx, paid); err != nil {
		return domain.Order{}, err
	}
	l.Info().Str("paymentId", res.ID).Msg("order paid")
	return paid, nil
}

func (s *Service) publishOrderCreated(ctx context.Context, o domain.Order) error {
	first := o.Items[0]
	qty := 0
	for _, it := range o.Items {
		qty += it.Quantity
	}
	msg, err := router.NewEvent(ctx, Source, models.TypeOrderCreated, string(o.ID), models.OrderCreated{
		OrderID:     string(o.ID),
		CustomerID:  string(o.CustomerID),
		ProductID:   string(first.ProductID),
		Quantity:    qty,
		TotalAmount: o.Total,
	}, models.WithEventID(domain.DeriveID(models.TypeOrderCreated, string(o.ID))))
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, msg)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	oid, err := domain.ParseOrderID(id)
	if err != nil {
		return domain.Order{}, err
	}
	return s.repo.FindOrder(ctx, oid)
}

// HandlePaymentCompleted marks the order paid when payment finished on the
// asynchronous path. Orders already past PAYMENT_PENDING are left alone.
func (s *Service) HandlePaymentCompleted(ctx context.Context, in router.Inbound) (router.Result, error) {
	var ev models.PaymentCompleted
	if err := in.Envelope.Into(&ev); err != nil {
		return router.Result{}, err
	}
	if ev.Status != string(domain.PaymentCompleted) {
		return router.Result{Reference: ev.OrderID}, nil
	}
	err := s.advance(ctx, domain.OrderID(ev.OrderID), domain.OrderPaid)
	return router.Result{Reference: ev.OrderID}, err
}

// HandleShipmentArranged marks the order shipped, catching up on payment
// first when that event has not been applied yet.
func (s *Service) HandleShipmentArranged(ctx context.Context, in router.Inbound) (router.Result, error) {
	var ev models.ShipmentArranged
	if err := in.Envelope.Into(&ev); err != nil {
		return router.Result{}, err
	}
	err := s.advance(ctx, domain.OrderID(ev.OrderID), domain.OrderShipped)
	return router.Result{Reference: ev.OrderID}, err
}

var rank = map[domain.OrderStatus]int{
	domain.OrderCreated:        0,
	domain.OrderPaymentPending: 1,
	domain.OrderPaid:           2,
	domain.OrderShipped:        3,
}

// advance walks the order forward one legal transition at a time until it
// reaches target, persisting once at the end.
func (s *Service) advance(ctx context.Context, id domain.OrderID, target domain.OrderStatus) error {
	s.locks.Lock(string(id))
	defer s.locks.Unlock(string(id))

	o, err := s.repo.FindOrder(ctx, id)
	if err != nil {
		return err
	}
	if rank[o.Status] >= rank[target] {
		log.Ctx(ctx).Debug().Str("orderId", string(id)).Str("status", string(o.Status)).Msg("order already advanced")
		return nil
	}
	from := o.Status
	for o.Status != target {
		now := s.now()
		switch o.Status {
		case domain.OrderCreated:
			o, err = o.MarkPaymentPending(now)
		case domain.OrderPaymentPending:
			o, err = o.MarkPaid(now)
		case domain.OrderPaid:
			o, err = o.MarkShipped(now)
		default:
			err = apperr.IllegalTransition("order", string(o.Status), string(target))
		}
		if err != nil {
			return err
		}
	}
	if err := s.repo.SaveOrder(ctx, o); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("orderId", string(id)).Str("from", string(from)).Str("to", string(o.Status)).Msg("order advanced")
	return nil
}

// Register binds the order consumers.
func (s *Service) Register(r *router.Router) {
	r.Handle(models.TopicPaymentCompleted, s.HandlePaymentCompleted)
	r.Handle(models.TopicShipmentArranged, s.HandleShipmentArranged)
}
