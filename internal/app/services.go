package app

import (
	"context"
	"net/http"

	"github.com/example/order-choreography/internal/config"
	"github.com/example/order-choreography/internal/httpx"
	"github.com/example/order-choreography/internal/notification"
	"github.com/example/order-choreography/internal/order"
	"github.com/example/order-choreography/internal/payment"
	"github.com/example/order-choreography/internal/paymentclient"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/shipping"
)

// Wiring is one service's API and consumer routes.
type Wiring struct {
	API    http.Handler
	Router *router.Router
}

func (rt *Runtime) Orders() Wiring {
	client := paymentclient.New(rt.Cfg.Payment, paymentclient.NewBreaker(rt.Cfg.Breaker))
	svc := order.NewService(rt.Store, rt.Transport, client, order.WithPublishCreated(rt.Cfg.PublishOrderCreated))
	api := httpx.NewRouter(order.Source)
	svc.Routes(api)
	r := rt.Router(order.Source)
	svc.Register(r)
	return Wiring{API: api, Router: r}
}

func (rt *Runtime) Payments() Wiring {
	svc := payment.NewService(rt.Store, rt.Transport)
	api := httpx.NewRouter(payment.Source)
	svc.Routes(api)
	r := rt.Router(payment.Source)
	svc.Register(r)
	return Wiring{API: api, Router: r}
}

func (rt *Runtime) Notifications() Wiring {
	svc := notification.NewService(rt.Store, notification.LogSender{})
	r := rt.Router(notification.Source)
	svc.Register(r)
	return Wiring{API: httpx.NewRouter(notification.Source), Router: r}
}

func (rt *Runtime) Shipping() Wiring {
	svc := shipping.NewService(rt.Store)
	api := httpx.NewRouter(shipping.Source)
	svc.Routes(api)
	r := rt.Router(shipping.Source)
	svc.Register(r)
	return Wiring{API: api, Router: r}
}

// Run opens the runtime for cfg, wires one service onto it and serves
// until ctx ends.
func Run(ctx context.Context, cfg config.Config, wire func(*Runtime) Wiring) error {
	rt, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	w := wire(rt)
	return rt.Serve(ctx, w.API, w.Router)
}
