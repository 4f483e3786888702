// Package publisher is the thin emit-to-queue surface used by the
// Coordinator (§4.6): every emitted message is persistent, there is no
// outbound retry or buffering beyond what the broker provides, and a
// publish failure is logged but never fails the handler — the state
// transition has already been committed by the time a message is emitted.
package publisher

import (
	"context"
	"log/slog"

	"github.com/mkovac/warehouse-controller/internal/broker"
	"github.com/mkovac/warehouse-controller/internal/metrics"
)

// Publisher emits outbound messages over a shared Broker connection.
type Publisher struct {
	broker  *broker.Broker
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New wraps b for Coordinator use.
func New(b *broker.Broker, log *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{broker: b, log: log, metrics: m}
}

// ToRobot emits a message to the robot queue (X2R).
func (p *Publisher) ToRobot(ctx context.Context, body string) {
	p.emit(ctx, broker.ControllerToRobot, body)
}

// ToDelivery emits a message to the delivery queue (X2D).
func (p *Publisher) ToDelivery(ctx context.Context, body string) {
	p.emit(ctx, broker.ControllerToDelivery, body)
}

// ToClient emits a message to one client's per-client response queue.
func (p *Publisher) ToClient(ctx context.Context, userID, body string) {
	if err := p.broker.PublishToClient(ctx, userID, body); err != nil {
		p.fail(userID, body, err)
	}
}

func (p *Publisher) emit(ctx context.Context, queue, body string) {
	if err := p.broker.Publish(ctx, queue, body); err != nil {
		p.fail(queue, body, err)
	}
}

func (p *Publisher) fail(destination, body string, err error) {
	p.log.Error("failed to publish message",
		slog.String("destination", destination),
		slog.String("body", body),
		slog.Any("error", err),
	)
	if p.metrics != nil {
		p.metrics.PublishFailures.Inc()
	}
}
