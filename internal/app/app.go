// Package app wires the controller's components together and supervises
// their lifetime: the three Intake consumers plus a metrics/health HTTP
// server, started together and drained together on shutdown. Grounded on
// the teacher's orders/app.go (metrics server goroutine, consumer
// goroutine, Shutdown sequencing), with the bare `go consumer.Listen(ch)` +
// unsupervised goroutines replaced by golang.org/x/sync/errgroup so a
// failure in any one loop cancels the others instead of leaking them.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mkovac/warehouse-controller/internal/broker"
	"github.com/mkovac/warehouse-controller/internal/config"
	"github.com/mkovac/warehouse-controller/internal/coordinator"
	"github.com/mkovac/warehouse-controller/internal/intake"
	"github.com/mkovac/warehouse-controller/internal/metrics"
	"github.com/mkovac/warehouse-controller/internal/publisher"
	"github.com/mkovac/warehouse-controller/internal/store"
)

// App holds every long-lived component the controller needs to run and
// shut down cleanly.
type App struct {
	cfg           config.Config
	log           *slog.Logger
	broker        *broker.Broker
	store         *store.Store
	metrics       *metrics.Metrics
	clientC       *intake.Consumer
	robotC        *intake.Consumer
	deliveryC     *intake.Consumer
	metricsServer *http.Server
}

// New wires a Broker, Store, Coordinator, Publisher, and the three Intake
// consumers. b and s are assumed already connected/opened by the caller
// (cmd/controller/main.go), since their failure modes are fatal at
// startup (§7) and are handled there.
func New(cfg config.Config, log *slog.Logger, b *broker.Broker, s *store.Store, m *metrics.Metrics) *App {
	pub := publisher.New(b, log, m)
	coord := coordinator.New(s, pub, log, m)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &App{
		cfg:       cfg,
		log:       log,
		broker:    b,
		store:     s,
		metrics:   m,
		clientC:   intake.New(b, coord, pub, log, m),
		robotC:    intake.New(b, coord, pub, log, m),
		deliveryC: intake.New(b, coord, pub, log, m),
		metricsServer: &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: mux,
		},
	}
}

// Run starts all three Intake consumers and the metrics/health server,
// and blocks until ctx is cancelled or one of them fails. On return, every
// in-flight handler has already completed (§5 "in-flight handlers
// complete before shutdown returns") because each consumer's loop only
// exits between messages, never mid-handler.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.clientC.RunClient(ctx) })
	group.Go(func() error { return a.robotC.RunRobot(ctx) })
	group.Go(func() error { return a.deliveryC.RunDelivery(ctx) })

	group.Go(func() error {
		a.log.Info("starting metrics server", slog.String("addr", a.cfg.MetricsAddr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		return a.metricsServer.Shutdown(context.Background())
	})

	return group.Wait()
}

// Shutdown closes the broker and store. Call after Run returns.
func (a *App) Shutdown(_ context.Context) {
	if err := a.broker.Close(); err != nil {
		a.log.Error("error closing broker", slog.Any("error", err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing store", slog.Any("error", err))
	}
}
