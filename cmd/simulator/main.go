// Command simulator generates order traffic. In "http" mode it places
// orders through the order service API; in "events" mode it publishes
// order.created straight to Kafka to load the downstream services.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/govalues/decimal"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/broker"
	"github.com/example/order-choreography/internal/config"
	"github.com/example/order-choreography/internal/domain"
	"github.com/example/order-choreography/internal/kafka"
	imetrics "github.com/example/order-choreography/internal/metrics"
	"github.com/example/order-choreography/internal/models"
	"github.com/example/order-choreography/internal/order"
	"github.com/example/order-choreography/internal/router"
)

const source = "order-simulator"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(source)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	config.SetupLogging(cfg)
	go func() {
		if err := imetrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	var send func(context.Context, order.PlaceOrder) error
	switch cfg.Simulator.Mode {
	case "http":
		send = placeVia(&http.Client{Timeout: 10 * time.Second}, cfg.Simulator.OrderURL)
	case "events":
		tr, err := kafka.NewTransport(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka")
		}
		defer tr.Close()
		send = publishVia(tr)
	}
	log.Info().Str("mode", cfg.Simulator.Mode).Int("rate", cfg.Simulator.Rate).Msg("simulator started")

	ticker := time.NewTicker(cfg.Simulator.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		req, err := randomOrder()
		if err != nil {
			log.Error().Err(err).Msg("generate order")
			continue
		}
		if err := send(ctx, req); err != nil {
			log.Error().Err(err).Str("orderId", req.OrderID).Msg("send failed")
			continue
		}
		log.Debug().Str("orderId", req.OrderID).Msg("order sent")
	}
}

func randomOrder() (order.PlaceOrder, error) {
	price, err := decimal.New(int64(100+rand.IntN(9900)), 2)
	if err != nil {
		return order.PlaceOrder{}, err
	}
	unit, err := domain.NewMoney(price, "USD")
	if err != nil {
		return order.PlaceOrder{}, err
	}
	return order.PlaceOrder{
		OrderID:    uuid.NewString(),
		CustomerID: fmt.Sprintf("cust-%d", rand.IntN(1000)),
		ProductID:  fmt.Sprintf("prod-%d", rand.IntN(50)),
		Quantity:   1 + rand.IntN(5),
		UnitPrice:  unit,
	}, nil
}

func placeVia(c *http.Client, baseURL string) func(context.Context, order.PlaceOrder) error {
	return func(ctx context.Context, req order.PlaceOrder) error {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		hr, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/orders", bytes.NewReader(b))
		if err != nil {
			return err
		}
		hr.Header.Set("Content-Type", "application/json")
		hr.Header.Set(models.HeaderCorrelationID, uuid.NewString())
		resp, err := c.Do(hr)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("place order: status %d", resp.StatusCode)
		}
		return nil
	}
}

// publishVia skips the order service; orders it never stored end up in
// its payment.completed dead-letter topic.
func publishVia(pub broker.Publisher) func(context.Context, order.PlaceOrder) error {
	return func(ctx context.Context, req order.PlaceOrder) error {
		total, err := req.UnitPrice.Multiply(req.Quantity)
		if err != nil {
			return err
		}
		msg, err := router.NewEvent(ctx, source, models.TypeOrderCreated, req.OrderID, models.OrderCreated{
			OrderID:     req.OrderID,
			CustomerID:  req.CustomerID,
			ProductID:   req.ProductID,
			Quantity:    req.Quantity,
			TotalAmount: total,
		}, models.WithEventID(domain.DeriveID(models.TypeOrderCreated, req.OrderID)))
		if err != nil {
			return err
		}
		return pub.Publish(ctx, msg)
	}
}
