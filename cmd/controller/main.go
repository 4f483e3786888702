package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkovac/warehouse-controller/internal/app"
	"github.com/mkovac/warehouse-controller/internal/broker"
	"github.com/mkovac/warehouse-controller/internal/config"
	"github.com/mkovac/warehouse-controller/internal/logging"
	"github.com/mkovac/warehouse-controller/internal/metrics"
	"github.com/mkovac/warehouse-controller/internal/store"
	"github.com/mkovac/warehouse-controller/internal/tracing"
)

func main() {
	bootLog := logging.New("warehouse-controller", "INFO")
	cfg := config.Load(bootLog)
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	log.Info("starting controller",
		slog.String("amqp_host", cfg.AMQPHost),
		slog.String("group_id", cfg.GroupID),
		slog.String("db_path", cfg.DBPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	m := metrics.New(cfg.ServiceName)

	b, err := broker.Connect(ctx, cfg.AMQPUser, cfg.AMQPPass, cfg.AMQPHost, cfg.AMQPPort, cfg.GroupID, log)
	if err != nil {
		// A broker that never comes up is fatal at startup (§7): there is
		// no restart discipline inside the core.
		log.Error("failed to connect to broker", slog.Any("error", err))
		os.Exit(1)
	}

	s, err := store.Open(cfg.DBPath, m)
	if err != nil {
		log.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}

	a := app.New(cfg, log, b, s, m)

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("controller stopped with error", slog.Any("error", err))
	}

	log.Info("shutting down")
	a.Shutdown(context.Background())
}
