package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	Processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_processed_total",
		Help: "Total number of messages handled successfully",
	}, []string{"service", "destination"})
	DLQCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of messages sent to a dead-letter destination",
	}, []string{"destination"})
	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handler_retries_total",
		Help: "Handler attempts beyond the first",
	}, []string{"destination"})
	Duplicates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_events_total",
		Help: "Deliveries skipped because the event id was already processed",
	}, []string{"group"})
	Quarantined = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quarantined_messages_total",
		Help: "Malformed messages parked without processing",
	})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
	}, []string{"name"})
	DBLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "db_latency_seconds",
		Help:    "Database operation latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Processed, DLQCount, Retries, Duplicates, Quarantined, BreakerState, DBLatency)
}

// ObserveDB records the latency of a storage call started at start.
func ObserveDB(start time.Time) {
	DBLatency.Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr (e.g. :2112) until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
