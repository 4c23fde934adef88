// Package app assembles a service process from its configuration: broker
// transport, stores, idempotency, quarantine, router, HTTP and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/config"
	"github.com/example/order-choreography/internal/dlq"
	"github.com/example/order-choreography/internal/idempotency"
	"github.com/example/order-choreography/internal/kafka"
	"github.com/example/order-choreography/internal/metrics"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/rabbit"
	"github.com/example/order-choreography/internal/router"
	"github.com/example/order-choreography/internal/storage"
)

// Runtime holds the infrastructure one service process runs on.
type Runtime struct {
	Cfg        config.Config
	Transport  broker.Transport
	Store      storage.Store
	Dedup      idempotency.Store
	Quarantine dlq.Quarantiner

	closers []func() error
}

// Open connects everything cfg asks for. Memory mode needs nothing external.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{Cfg: cfg}
	if err := rt.open(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg := rt.Cfg
	switch cfg.Broker {
	case "memory":
		mem := broker.NewMemory()
		rt.Transport = mem
		rt.closers = append(rt.closers, mem.Close)
		rt.Dedup = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	default:
		kt, err := kafka.NewTransport(cfg.Kafka)
		if err != nil {
			return err
		}
		comp := broker.NewComposite(kt)
		rt.Transport = comp
		rt.closers = append(rt.closers, comp.Close)
		if needsQueue(cfg.ServiceName) {
			rq, err := rabbit.Dial(rabbit.Config{URL: cfg.AMQPURL, Workers: cfg.AMQPWorkers, Topology: rabbit.DefaultTopology()})
			if err != nil {
				return err
			}
			comp.Route(models.QueueShippingNotification, rq)
		}

		cli := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := cli.Ping(ctx).Err(); err != nil {
			_ = cli.Close()
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		rt.closers = append(rt.closers, cli.Close)
		rt.Dedup = idempotency.NewRedisStore(cli, cfg.IdempotencyTTL)
		rt.Quarantine = dlq.NewQuarantine(cli, cfg.QuarantineList)
	}

	switch cfg.Store {
	case "memory":
		rt.Store = storage.NewMemory()
	default:
		db, err := storage.Connect(ctx, cfg.MSSQLConn)
		if err != nil {
			return fmt.Errorf("mssql connect: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("mssql init: %w", err)
		}
		rt.Store = db
	}
	return nil
}

// needsQueue reports whether service touches the shipping queue.
func needsQueue(service string) bool {
	return service == "notification-service" || service == "shipping-service"
}

// Router builds a router for service bound to this runtime.
func (rt *Runtime) Router(service string) *router.Router {
	return router.New(router.Deps{
		Service:    service,
		Group:      service,
		Transport:  rt.Transport,
		Store:      rt.Dedup,
		Policy:     rt.Cfg.Retry,
		Quarantine: rt.Quarantine,
	})
}

// Serve runs the metrics endpoint, the optional HTTP API and the optional
// router until ctx is cancelled or one of them fails.
func (rt *Runtime) Serve(ctx context.Context, api http.Handler, r *router.Router) error {
	g, gctx := errgroup.WithContext(ctx)
	if rt.Cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, rt.Cfg.MetricsAddr) })
	}
	if api != nil {
		g.Go(func() error { return serveHTTP(gctx, rt.Cfg.HTTPAddr, api) })
	}
	if r != nil {
		g.Go(func() error { return r.Run(gctx) })
	}
	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
