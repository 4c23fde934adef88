// Package payment owns the Payment aggregate. Orders are charged either
// over POST /payments or by consuming order.created; both paths converge on
// one payment per order.
package payment

import (
	"context"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

const Source = "payment-service"

type Service struct {
	repo  storage.Payments
	pub   broker.Publisher
	locks *locker.Locker
	now   func() time.Time
}

func NewService(repo storage.Payments, pub broker.Publisher) *Service {
	return &Service{repo: repo, pub: pub, locks: locker.New(), now: time.Now}
}

// Process charges orderID once. The payment id is derived from the order
// id, so a second request for the same order returns the first payment.
// The returned message is the payment.completed event to publish; it is
// rebuilt identically on every call.
func (s *Service) Process(ctx context.Context, orderID domain.OrderID, amount domain.Money) (domain.Payment, broker.Message, error) {
	orderID, err := domain.ParseOrderID(string(orderID))
	if err != nil {
		return domain.Payment{}, broker.Message{}, err
	}
	s.locks.Lock(string(orderID))
	defer s.locks.Unlock(string(orderID))

	l := log.Ctx(ctx).With().Str("orderId", string(orderID)).Logger()
	p, err := s.repo.FindPaymentByOrder(ctx, orderID)
	switch {
	case err == nil:
		l.Debug().Str("paymentId", string(p.ID)).Str("status", string(p.Status)).Msg("payment exists for order")
	case apperr.Is(err, apperr.KindNotFound):
		if p, err = domain.NewPayment(domain.PaymentIDFor(orderID), orderID, amount, s.now()); err != nil {
			return domain.Payment{}, broker.Message{}, err
		}
		if err := s.repo.SavePayment(ctx, p); err != nil {
			return domain.Payment{}, broker.Message{}, err
		}
	default:
		return domain.Payment{}, broker.Message{}, err
	}

	if p.Status == domain.PaymentPending {
		if p, err = p.Complete(s.now()); err != nil {
			return domain.Payment{}, broker.Message{}, err
		}
		if err := s.repo.SavePayment(ctx, p); err != nil {
			return domain.Payment{}, broker.Message{}, err
		}
		l.Info().Str("paymentId", string(p.ID)).Str("amount", p.Amount.String()).Msg("payment completed")
	}
	if p.Status != domain.PaymentCompleted {
		return p, broker.Message{}, nil
	}

	msg, err := router.NewEvent(ctx, Source, models.TypePaymentCompleted, string(orderID), models.PaymentCompleted{
		PaymentID: string(p.ID),
		OrderID:   string(p.OrderID),
		Amount:    p.Amount,
		Status:    string(p.Status),
	}, models.WithEventID(domain.DeriveID(models.TypePaymentCompleted, string(p.ID))))
	if err != nil {
		return domain.Payment{}, broker.Message{}, err
	}
	return p, msg, nil
}

// Pay is the synchronous path: process, then publish payment.completed
// unless an earlier call already did. A successful publish is recorded on
// the payment so the order.created consumer does not repeat it.
func (s *Service) Pay(ctx context.Context, orderID domain.OrderID, amount domain.Money) (domain.Payment, error) {
	p, msg, err := s.Process(ctx, orderID, amount)
	if err != nil {
		return domain.Payment{}, err
	}
	if msg.Destination == "" || p.AnnouncedAt != nil {
		return p, nil
	}
	if err := s.pub.Publish(ctx, msg); err != nil {
		return domain.Payment{}, apperr.Transient("payment.publish", err)
	}
	return s.markAnnounced(ctx, p), nil
}

// markAnnounced persists the announcement. Failing to store it only costs a
// duplicate event later, so the error is logged and the payment returned.
func (s *Service) markAnnounced(ctx context.Context, p domain.Payment) domain.Payment {
	s.locks.Lock(string(p.OrderID))
	defer s.locks.Unlock(string(p.OrderID))
	announced, err := p.MarkAnnounced(s.now())
	if err == nil {
		err = s.repo.SavePayment(ctx, announced)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("paymentId", string(p.ID)).Msg("could not record payment.completed announcement")
		return p
	}
	return announced
}

func (s *Service) Get(ctx context.Context, id string) (domain.Payment, error) {
	pid, err := domain.ParsePaymentID(id)
	if err != nil {
		return domain.Payment{}, err
	}
	return s.repo.FindPayment(ctx, pid)
}

// HandleOrderCreated is the asynchronous path.
func (s *Service) HandleOrderCreated(ctx context.Context, in router.Inbound) (router.Result, error) {
	var ev models.OrderCreated
	if err := in.Envelope.Into(&ev); err != nil {
		return router.Result{}, err
	}
	p, msg, err := s.Process(ctx, domain.OrderID(ev.OrderID), ev.TotalAmount)
	if err != nil {
		return router.Result{}, err
	}
	res := router.Result{Reference: string(p.ID)}
	switch {
	case msg.Destination == "":
	case p.AnnouncedAt != nil:
		log.Ctx(ctx).Debug().Str("paymentId", string(p.ID)).Msg("payment.completed already published by the sync path")
	default:
		res.Publish = []broker.Message{msg}
	}
	return res, nil
}

func (s *Service) Register(r *router.Router) {
	r.Handle(models.TopicOrderCreated, s.HandleOrderCreated)
}
