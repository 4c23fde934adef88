// Package notification tells customers their payment went through and
// hands the order to shipping over the queue.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

const Source = "notification-service"

// Sender delivers a notification to the customer.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// LogSender writes notifications to the log instead of a real channel.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n domain.Notification) error {
	log.Ctx(ctx).Info().Str("notificationId", string(n.ID)).Str("orderId", string(n.OrderID)).Msg(n.Message)
	return nil
}

type Service struct {
	repo   storage.Notifications
	sender Sender
	now    func() time.Time
}

func NewService(repo storage.Notifications, sender Sender) *Service {
	if sender == nil {
		sender = LogSender{}
	}
	return &Service{repo: repo, sender: sender, now: time.Now}
}

// HandlePaymentCompleted creates one notification per event, sends it and
// emits the shipping request. A failed send is recorded on the
// notification but does not hold back shipping.
func (s *Service) HandlePaymentCompleted(ctx context.Context, in router.Inbound) (router.Result, error) {
	var ev models.PaymentCompleted
	if err := in.Envelope.Into(&ev); err != nil {
		return router.Result{}, err
	}
	if ev.Status != string(domain.PaymentCompleted) {
		log.Ctx(ctx).Info().Str("orderId", ev.OrderID).Str("status", ev.Status).Msg("payment not completed, nothing to notify")
		return router.Result{}, nil
	}

	id := domain.NotificationIDFor(in.EventID)
	n, err := s.repo.FindNotification(ctx, id)
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindNotFound):
		msg := fmt.Sprintf("Payment %s of %s received for order %s", ev.PaymentID, ev.Amount, ev.OrderID)
		if n, err = domain.NewNotification(id, domain.OrderID(ev.OrderID), domain.PaymentID(ev.PaymentID), msg, s.now()); err != nil {
			return router.Result{}, err
		}
		if err := s.repo.SaveNotification(ctx, n); err != nil {
			return router.Result{}, err
		}
	default:
		return router.Result{}, err
	}

	if n.Status == domain.NotificationPending {
		if serr := s.sender.Send(ctx, n); serr != nil {
			log.Ctx(ctx).Warn().Err(serr).Str("notificationId", string(id)).Msg("notification send failed")
			n, err = n.MarkFailed(serr.Error(), s.now())
		} else {
			n, err = n.MarkSent(s.now())
		}
		if err != nil {
			return router.Result{}, err
		}
		if err := s.repo.SaveNotification(ctx, n); err != nil {
			return router.Result{}, err
		}
	}

	req, err := router.NewQueueMessage(ctx, models.QueueShippingNotification, ev.OrderID, string(n.ID), models.ShippingRequest{
		OrderID: ev.OrderID,
		Action:  models.ActionArrangeShipment,
	})
	if err != nil {
		return router.Result{}, err
	}
	return router.Result{Reference: string(n.ID), Publish: []broker.Message{req}}, nil
}

func (s *Service) Register(r *router.Router) {
	r.Handle(models.TopicPaymentCompleted, s.HandlePaymentCompleted)
}
