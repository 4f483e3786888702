// Package intake hosts the three per-queue consumers (client, robot,
// delivery). Each one pulls one message at a time, decodes it as a
// whitespace-tokenised line, validates the verb and its arity, and
// dispatches to the Coordinator. A message is acknowledged exactly once,
// after the handler returns, whether it succeeded or was rejected — the
// broker never redelivers a message the Coordinator has already seen
// (§4.1). Grounded on the teacher's orders/consumer.go Listen shape, with
// the per-message goroutine and "var forever chan struct{}" blocking
// pattern dropped in favor of a plain for-select loop supervised by an
// errgroup in internal/app.
package intake

import (
	"context"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/mkovac/warehouse-controller/internal/broker"
	"github.com/mkovac/warehouse-controller/internal/metrics"
)

// Coordinator is the subset of coordinator.Coordinator's surface each
// consumer dispatches to.
type Coordinator interface {
	SignUp(ctx context.Context, uid string)
	SignIn(ctx context.Context, uid string)
	SignOut(ctx context.Context, uid string)
	Request(ctx context.Context, uid string, products []string)
	Cancel(ctx context.Context, uid, orderID string)
	View(ctx context.Context, uid string)
	Moved(ctx context.Context, orderID, product string)
	NotFound(ctx context.Context, orderID, product string)
	Delivered(ctx context.Context, orderID string)
	DeliveryFailed(ctx context.Context, orderID string)
}

// Publisher is used only for the protocol-error edge case of §7: a
// malformed CANCEL whose user_id is still known enough to attribute a
// CANCEL_FAILED response, bypassing the Coordinator entirely since there
// is no order_id to look up.
type Publisher interface {
	ToClient(ctx context.Context, userID, body string)
}

// Consumer reads and dispatches one inbound queue.
type Consumer struct {
	broker  *broker.Broker
	coord   Coordinator
	pub     Publisher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Consumer over b, dispatching to coord and using pub only for
// the malformed-CANCEL protocol-error path.
func New(b *broker.Broker, coord Coordinator, pub Publisher, log *slog.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{broker: b, coord: coord, pub: pub, log: log, metrics: m}
}

// RunClient consumes C2X until ctx is cancelled or the queue closes.
func (c *Consumer) RunClient(ctx context.Context) error {
	return c.run(ctx, broker.ClientToController, c.handleClient)
}

// RunRobot consumes R2X until ctx is cancelled or the queue closes.
func (c *Consumer) RunRobot(ctx context.Context) error {
	return c.run(ctx, broker.RobotToController, c.handleRobot)
}

// RunDelivery consumes D2X until ctx is cancelled or the queue closes.
func (c *Consumer) RunDelivery(ctx context.Context) error {
	return c.run(ctx, broker.DeliveryToController, c.handleDelivery)
}

// run drains one queue strictly serially: take a message, run the handler
// to completion (Store transaction and any outbound publishes included),
// ack, then fetch the next. At most one handler is in flight per queue, so
// the three Consumers together give at most three concurrent handlers
// (§5 Scheduling model).
func (c *Consumer) run(ctx context.Context, queue string, handle func(context.Context, amqp.Delivery)) error {
	deliveries, err := c.broker.Consume(queue)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msgCtx := broker.ExtractTraceContext(ctx, d.Headers)
			tracer := otel.Tracer("intake")
			msgCtx, span := tracer.Start(msgCtx, "intake.consume."+queue)
			c.countCommand(queue, d.Body)
			handle(msgCtx, d)
			span.End()
			// Never requeue: a malformed message cannot be fixed by the
			// broker redelivering it (§4.1).
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleClient(ctx context.Context, d amqp.Delivery) {
	fields := strings.Fields(string(d.Body))
	if len(fields) == 0 {
		c.logBadMessage(d)
		return
	}
	verb, rest := fields[0], fields[1:]
	switch verb {
	case "SIGN_UP":
		if len(rest) != 1 {
			c.logBadMessage(d)
			return
		}
		c.coord.SignUp(ctx, rest[0])
	case "SIGN_IN":
		if len(rest) != 1 {
			c.logBadMessage(d)
			return
		}
		c.coord.SignIn(ctx, rest[0])
	case "SIGN_OUT":
		if len(rest) != 1 {
			c.logBadMessage(d)
			return
		}
		c.coord.SignOut(ctx, rest[0])
	case "REQUEST":
		if len(rest) < 2 {
			c.logBadMessage(d)
			return
		}
		c.coord.Request(ctx, rest[0], rest[1:])
	case "CANCEL":
		switch len(rest) {
		case 2:
			c.coord.Cancel(ctx, rest[0], rest[1])
		case 1:
			// uid is known but order_id is missing: attributable enough
			// to respond, per §7's malformed-CANCEL carve-out.
			c.pub.ToClient(ctx, rest[0], "CANCEL_FAILED")
		default:
			c.logBadMessage(d)
		}
	case "VIEW":
		if len(rest) != 1 {
			c.logBadMessage(d)
			return
		}
		c.coord.View(ctx, rest[0])
	default:
		c.logBadMessage(d)
	}
}

func (c *Consumer) handleRobot(ctx context.Context, d amqp.Delivery) {
	fields := strings.Fields(string(d.Body))
	if len(fields) != 3 {
		c.logBadMessage(d)
		return
	}
	verb, orderID, product := fields[0], fields[1], fields[2]
	switch verb {
	case "MOVED":
		c.coord.Moved(ctx, orderID, product)
	case "NOT_FOUND":
		c.coord.NotFound(ctx, orderID, product)
	default:
		c.logBadMessage(d)
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	fields := strings.Fields(string(d.Body))
	if len(fields) != 2 {
		c.logBadMessage(d)
		return
	}
	verb, orderID := fields[0], fields[1]
	switch verb {
	case "DELIVERED":
		c.coord.Delivered(ctx, orderID)
	case "DELIVERY_FAILED":
		c.coord.DeliveryFailed(ctx, orderID)
	default:
		c.logBadMessage(d)
	}
}

func (c *Consumer) logBadMessage(d amqp.Delivery) {
	c.log.Warn("dropping malformed message", slog.String("body", string(d.Body)))
}

// countCommand records one command received, labeled by source queue and
// first token (the verb); an empty body counts as "" and is harmless.
func (c *Consumer) countCommand(queue string, body []byte) {
	if c.metrics == nil {
		return
	}
	verb := ""
	if fields := strings.Fields(string(body)); len(fields) > 0 {
		verb = fields[0]
	}
	c.metrics.CommandsTotal.WithLabelValues(queue, verb).Inc()
}
