// Package router wires inbound destinations to service handlers. Every
// route runs the same pipeline:
//
//	retry/DLQ -> decode -> idempotency guard -> handler -> publish outbound
//
// so a message is acknowledged only after its outbound events are out and
// its event id is recorded.
package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/example/order-choreography/internal/apperr"
	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/dlq"
	"github.com/example/order-choreography/internal/idempotency"
	"github.com/example/order-choreography/internal/metrics"
	"github.com/example/order-choreography/internal/models"
)

// Inbound is a decoded delivery. Envelope is zero for raw queue routes.
type Inbound struct {
	Message       broker.Message
	Envelope      models.Envelope
	EventID       string
	CorrelationID string
}

// Result is what a handler hands back: outbound messages to publish and an
// optional reference (the aggregate id it touched) kept with the outcome.
type Result struct {
	Reference string
	Publish   []broker.Message
}

type HandlerFunc func(ctx context.Context, in Inbound) (Result, error)

type route struct {
	destination string
	raw         bool
	handler     HandlerFunc
}

type Deps struct {
	Service    string
	Group      string
	Transport  broker.Transport
	Store      idempotency.Store
	Policy     dlq.Policy
	Quarantine dlq.Quarantiner
}

type Router struct {
	service string
	group   string
	tr      broker.Transport
	guard   *idempotency.Guard
	policy  dlq.Policy
	sink    dlq.Sink
	routes  []route
}

func New(d Deps) *Router {
	if d.Group == "" {
		d.Group = d.Service
	}
	return &Router{
		service: d.Service,
		group:   d.Group,
		tr:      d.Transport,
		guard:   idempotency.NewGuard(d.Store, d.Group),
		policy:  d.Policy,
		sink: dlq.Sink{
			Publisher:  d.Transport,
			DeadLetter: d.Transport.DeadLetter,
			Quarantine: d.Quarantine,
		},
	}
}

// Handle registers an enveloped event route.
func (r *Router) Handle(destination string, h HandlerFunc) {
	r.routes = append(r.routes, route{destination: destination, handler: h})
}

// HandleRaw registers a queue route whose body has no envelope; the message
// id is the idempotency key.
func (r *Router) HandleRaw(destination string, h HandlerFunc) {
	r.routes = append(r.routes, route{destination: destination, raw: true, handler: h})
}

// Destinations lists the registered inbound destinations in order.
func (r *Router) Destinations() []string {
	out := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.destination)
	}
	return out
}

// Handler returns the full pipeline for destination, or nil.
func (r *Router) Handler(destination string) broker.Handler {
	for _, rt := range r.routes {
		if rt.destination == destination {
			return r.pipeline(rt)
		}
	}
	return nil
}

// Run subscribes every route and blocks until ctx is done or a
// subscription fails.
func (r *Router) Run(ctx context.Context) error {
	if len(r.routes) == 0 {
		return fmt.Errorf("router %s: no routes", r.service)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range r.routes {
		h := r.pipeline(rt)
		g.Go(func() error {
			log.Info().Str("service", r.service).Str("destination", rt.destination).Str("group", r.group).Msg("subscribing")
			if err := r.tr.Subscribe(gctx, rt.destination, r.group, h); err != nil {
				return fmt.Errorf("subscribe %s: %w", rt.destination, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Router) pipeline(rt route) broker.Handler {
	retried := dlq.WithRetry(func(ctx context.Context, msg broker.Message) error {
		return r.process(ctx, rt, msg)
	}, r.policy, r.sink)

	return func(ctx context.Context, msg broker.Message) error {
		l := log.With().Str("service", r.service).Str("destination", msg.Destination).Str("messageId", msg.ID).Logger()
		return retried(l.WithContext(ctx), msg)
	}
}

func (r *Router) process(ctx context.Context, rt route, msg broker.Message) error {
	in, err := decode(rt, msg)
	if err != nil {
		return err
	}
	ctx = models.ContextWithCorrelationID(ctx, in.CorrelationID)
	l := log.Ctx(ctx).With().Str("eventId", in.EventID).Str("correlationId", in.CorrelationID).Logger()
	ctx = l.WithContext(ctx)

	out, err := r.guard.Handle(ctx, in.EventID, func(ctx context.Context) (idempotency.Outcome, error) {
		res, err := rt.handler(ctx, in)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		for _, m := range res.Publish {
			if err := r.tr.Publish(ctx, m); err != nil {
				return idempotency.Outcome{}, apperr.Transient("publish "+m.Destination, err)
			}
		}
		return idempotency.Outcome{Reference: res.Reference}, nil
	})
	if err != nil {
		l.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("handler failed")
		return err
	}
	if !out.Replayed {
		metrics.Processed.WithLabelValues(r.service, msg.Destination).Inc()
		l.Debug().Str("reference", out.Reference).Msg("event processed")
	}
	return nil
}

func decode(rt route, msg broker.Message) (Inbound, error) {
	if rt.raw {
		if msg.ID == "" {
			return Inbound{}, apperr.Malformed(rt.destination, "message id is required")
		}
		corr := msg.CorrelationID
		if corr == "" {
			corr = msg.ID
		}
		return Inbound{Message: msg, EventID: msg.ID, CorrelationID: corr}, nil
	}
	env, err := models.Decode(msg.Body)
	if err != nil {
		return Inbound{}, err
	}
	if env.EventType != msg.Destination && msg.Destination != "" {
		return Inbound{}, apperr.Malformed(rt.destination, "event type %q does not belong on %q", env.EventType, msg.Destination)
	}
	return Inbound{Message: msg, Envelope: env, EventID: env.EventID, CorrelationID: env.CorrelationID}, nil
}
