// Package shipping owns the Shipment aggregate. It consumes shipping
// requests from the queue and announces arranged shipments on the log.
package shipping

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moby/locker"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

const Source = "shipping-service"

// NewTrackingNumber returns a carrier-style tracking number.
func NewTrackingNumber() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

type Service struct {
	repo     storage.Shipments
	locks    *locker.Locker
	tracking func() string
	now      func() time.Time
}

func NewService(repo storage.Shipments) *Service {
	return &Service{repo: repo, locks: locker.New(), tracking: NewTrackingNumber, now: time.Now}
}

// HandleShippingRequest arranges the one shipment an order gets and
// publishes shipment.arranged. Redelivery finds the existing shipment and
// republishes the same event.
func (s *Service) HandleShippingRequest(ctx context.Context, in router.Inbound) (router.Result, error) {
	req, err := models.DecodeShippingRequest(in.Message.Body)
	if err != nil {
		return router.Result{}, err
	}
	if req.Action != models.ActionArrangeShipment {
		return router.Result{}, apperr.Malformed(models.QueueShippingNotification, "unknown action %q", req.Action)
	}
	orderID := domain.OrderID(req.OrderID)

	s.locks.Lock(req.OrderID)
	defer s.locks.Unlock(req.OrderID)

	sh, err := s.repo.FindShipmentByOrder(ctx, orderID)
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindNotFound):
		if sh, err = domain.NewShipment(domain.ShipmentIDFor(orderID), orderID, s.now()); err != nil {
			return router.Result{}, err
		}
		if err := s.repo.SaveShipment(ctx, sh); err != nil {
			return router.Result{}, err
		}
	default:
		return router.Result{}, err
	}

	if sh.Status == domain.ShipmentPending {
		if sh, err = sh.Ship(s.tracking(), s.now()); err != nil {
			return router.Result{}, err
		}
		if err := s.repo.SaveShipment(ctx, sh); err != nil {
			return router.Result{}, err
		}
		log.Ctx(ctx).Info().Str("orderId", req.OrderID).Str("shipmentId", string(sh.ID)).Str("trackingNumber", sh.TrackingNumber).Msg("shipment arranged")
	}

	msg, err := router.NewEvent(ctx, Source, models.TypeShipmentArranged, req.OrderID, models.ShipmentArranged{
		ShipmentID:     string(sh.ID),
		OrderID:        req.OrderID,
		TrackingNumber: sh.TrackingNumber,
		Status:         string(sh.Status),
	}, models.WithEventID(domain.DeriveID(models.TypeShipmentArranged, string(sh.ID))))
	if err != nil {
		return router.Result{}, err
	}
	return router.Result{Reference: string(sh.ID), Publish: []broker.Message{msg}}, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Shipment, error) {
	sid, err := domain.ParseShipmentID(id)
	if err != nil {
		return domain.Shipment{}, err
	}
	return s.repo.FindShipment(ctx, sid)
}

// Deliver records the carrier's delivery confirmation.
func (s *Service) Deliver(ctx context.Context, id string) (domain.Shipment, error) {
	sid, err := domain.ParseShipmentID(id)
	if err != nil {
		return domain.Shipment{}, err
	}
	sh, err := s.repo.FindShipment(ctx, sid)
	if err != nil {
		return domain.Shipment{}, err
	}
	s.locks.Lock(string(sh.OrderID))
	defer s.locks.Unlock(string(sh.OrderID))
	if sh, err = s.repo.FindShipment(ctx, sid); err != nil {
		return domain.Shipment{}, err
	}
	if sh, err = sh.Deliver(s.now()); err != nil {
		return domain.Shipment{}, err
	}
	if err := s.repo.SaveShipment(ctx, sh); err != nil {
		return domain.Shipment{}, err
	}
	return sh, nil
}

func (s *Service) Register(r *router.Router) {
	r.HandleRaw(models.QueueShippingNotification, s.HandleShippingRequest)
}
