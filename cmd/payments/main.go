package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/example/order-choreography/internal/app"
	"github.com/example/order-choreography/internal/config"
	"github.com/example/order-choreography/internal/payment"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(payment.Source)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	config.SetupLogging(cfg)

	if err := app.Run(ctx, cfg, (*app.Runtime).Payments); err != nil {
		log.Fatal().Err(err).Msg("payment service stopped")
	}
	log.Info().Msg("shutdown complete")
}
