// Package broker owns the controller's one connection to the message
// broker: dialing with backoff, declaring the durable queues it owns,
// publishing persistent messages, and consuming from them. Grounded on the
// teacher's common/broker/broker.go (Connect, queue declaration) and
// common/broker/tracing.go (AMQP header trace propagation, wired here for
// real where the teacher left it as a documented-but-unused helper).
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Queue base names, combined with a Broker's GroupID prefix to produce the
// wire queue name (§6). The per-client response queue has no constant
// here and is never declared by the controller — the client declares its
// own `<GID><user_id>` queue at startup (§4.2).
const (
	ClientToController   = "C2X"
	ControllerToRobot    = "X2R"
	RobotToController    = "R2X"
	ControllerToDelivery = "X2D"
	DeliveryToController = "D2X"
)

// Broker wraps a single AMQP channel shared by all three Intake consumers
// and the Publisher, per §9's "three independent broker connections ...
// is not a design requirement" note: this rewrite uses one connection.
type Broker struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	groupID string
	log     *slog.Logger
}

// Connect dials the broker with exponential backoff (addressing §7's
// "infrastructure errors (broker disconnect)"), opens one channel, and
// declares the five controller-owned durable queues.
func Connect(ctx context.Context, user, pass, host, port, groupID string, log *slog.Logger) (*Broker, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(address)
		if err != nil {
			log.Warn("amqp dial failed, retrying", slog.Any("error", err))
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b := &Broker{conn: conn, ch: ch, groupID: groupID, log: log}
	if err := b.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return b, nil
}

// Close shuts down the channel and then the connection.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// queueName applies the group-id prefix (§6, "Group id" in the GLOSSARY).
func (b *Broker) queueName(base string) string {
	return b.groupID + base
}

// declareTopology declares the five queues the controller itself owns.
// The per-client response queues are declared by each client at startup,
// never by the controller.
func (b *Broker) declareTopology() error {
	for _, base := range []string{ClientToController, ControllerToRobot, RobotToController, ControllerToDelivery, DeliveryToController} {
		if _, err := b.declareQueue(base); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) declareQueue(base string) (amqp.Queue, error) {
	name := b.queueName(base)
	q, err := b.ch.QueueDeclare(
		name,
		true,  // durable: survives a broker restart
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return q, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return q, nil
}

// Consume starts delivering messages from the named queue. Manual ack is
// used throughout: Intake acknowledges exactly once, after its handler
// returns (§4.1).
func (b *Broker) Consume(base string) (<-chan amqp.Delivery, error) {
	name := b.queueName(base)
	msgs, err := b.ch.Consume(
		name,
		"",    // consumer tag: auto-generated
		false, // auto-ack: false, Intake acks explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", name, err)
	}
	return msgs, nil
}

// Publish sends a persistent message to one of the controller-owned
// outbound queues (robot or delivery), via the default exchange with the
// queue name as routing key.
func (b *Broker) Publish(ctx context.Context, base, body string) error {
	return b.publish(ctx, b.queueName(base), body)
}

// PublishToClient sends a persistent message to the response queue of one
// specific client. The controller never declares this queue (§4.2).
func (b *Broker) PublishToClient(ctx context.Context, userID, body string) error {
	return b.publish(ctx, b.groupID+userID, body)
}

func (b *Broker) publish(ctx context.Context, routingKey, body string) error {
	headers := injectTraceContext(ctx)
	return b.ch.PublishWithContext(ctx,
		"", // default exchange: routing key addresses the queue directly
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			Body:         []byte(body),
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

// amqpHeadersCarrier adapts amqp.Table to OpenTelemetry's
// propagation.TextMapCarrier, so trace context can ride along in message
// headers the way the teacher's AMQPHeadersCarrier does.
type amqpHeadersCarrier amqp.Table

func (c amqpHeadersCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c amqpHeadersCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func injectTraceContext(ctx context.Context) amqp.Table {
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeadersCarrier(headers))
	return headers
}

// ExtractTraceContext recovers a trace context from inbound AMQP headers,
// so Intake can continue the distributed trace started by whichever actor
// published the message.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	return propagator.Extract(ctx, amqpHeadersCarrier(headers))
}
