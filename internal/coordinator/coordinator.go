// Package coordinator holds the per-command handlers that read/mutate the
// Store and publish outbound messages (§4.2, §4.3, §4.4). It owns the
// business-rule logic; the actual state-machine legality lives one layer
// down in internal/model, invoked through the Store.
package coordinator

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mkovac/warehouse-controller/internal/metrics"
	"github.com/mkovac/warehouse-controller/internal/model"
)

// Store is the subset of internal/store.Store's surface the Coordinator
// depends on; defined here so tests can supply an in-memory fake without
// importing database/sql.
type Store interface {
	GetClientState(ctx context.Context, uid string) (model.ClientState, error)
	RegisterClient(ctx context.Context, uid string) (bool, error)
	UpdateClient(ctx context.Context, uid string, newState model.ClientState) (bool, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	AddOrder(ctx context.Context, order *model.Order) (bool, error)
	UpdateOrder(ctx context.Context, id string, transition model.Transition, owner *string) (*model.Order, error)
	ListClientOrders(ctx context.Context, uid string) ([]*model.Order, error)
}

// Publisher is the subset of internal/publisher.Publisher's surface the
// Coordinator depends on; defined here so tests can supply a recording
// fake instead of a live broker connection.
type Publisher interface {
	ToRobot(ctx context.Context, body string)
	ToDelivery(ctx context.Context, body string)
	ToClient(ctx context.Context, userID, body string)
}

// Coordinator is the stateful orchestrator's business-rule layer.
type Coordinator struct {
	store   Store
	pub     Publisher
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New builds a Coordinator wired to store and pub.
func New(store Store, pub Publisher, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:   store,
		pub:     pub,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer("coordinator"),
	}
}

func (c *Coordinator) outcome(verb, outcome string) {
	if c.metrics != nil {
		c.metrics.OutcomesTotal.WithLabelValues(verb, outcome).Inc()
	}
}

// SignUp attempts NOT_REGISTERED -> SIGNED_OUT.
func (c *Coordinator) SignUp(ctx context.Context, uid string) {
	ctx, span := c.tracer.Start(ctx, "SignUp")
	defer span.End()

	ok, err := c.store.RegisterClient(ctx, uid)
	if err != nil {
		c.log.Error("register_client failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "SIGN_UP_FAILED")
		c.outcome("SIGN_UP", "error")
		return
	}
	if !ok {
		c.pub.ToClient(ctx, uid, "SIGN_UP_FAILED")
		c.outcome("SIGN_UP", "failed")
		return
	}
	c.pub.ToClient(ctx, uid, "SIGNED_UP")
	c.outcome("SIGN_UP", "success")
}

// SignIn attempts SIGNED_OUT -> SIGNED_IN. Failure covers both "unknown
// user" and "already signed in".
func (c *Coordinator) SignIn(ctx context.Context, uid string) {
	ctx, span := c.tracer.Start(ctx, "SignIn")
	defer span.End()

	ok, err := c.store.UpdateClient(ctx, uid, model.ClientSignedIn)
	if err != nil {
		c.log.Error("update_client failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "SIGN_IN_FAILED")
		c.outcome("SIGN_IN", "error")
		return
	}
	if !ok {
		c.pub.ToClient(ctx, uid, "SIGN_IN_FAILED")
		c.outcome("SIGN_IN", "failed")
		return
	}
	c.pub.ToClient(ctx, uid, "SIGNED_IN")
	c.outcome("SIGN_IN", "success")
}

// SignOut attempts SIGNED_IN -> SIGNED_OUT.
func (c *Coordinator) SignOut(ctx context.Context, uid string) {
	ctx, span := c.tracer.Start(ctx, "SignOut")
	defer span.End()

	ok, err := c.store.UpdateClient(ctx, uid, model.ClientSignedOut)
	if err != nil {
		c.log.Error("update_client failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "SIGN_OUT_FAILED")
		c.outcome("SIGN_OUT", "error")
		return
	}
	if !ok {
		c.pub.ToClient(ctx, uid, "SIGN_OUT_FAILED")
		c.outcome("SIGN_OUT", "failed")
		return
	}
	c.pub.ToClient(ctx, uid, "SIGNED_OUT")
	c.outcome("SIGN_OUT", "success")
}

// Request requires SIGNED_IN. On success it persists a fresh order and
// emits REQUEST_CREATED to the client plus one MOVE per product to the
// robot queue; on failure it emits REQUEST_FAILED with no id and nothing
// to robots.
func (c *Coordinator) Request(ctx context.Context, uid string, products []string) {
	ctx, span := c.tracer.Start(ctx, "Request")
	defer span.End()

	state, err := c.store.GetClientState(ctx, uid)
	if err != nil {
		c.log.Error("get_client_state failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "REQUEST_FAILED")
		c.outcome("REQUEST", "error")
		return
	}
	if state != model.ClientSignedIn {
		c.pub.ToClient(ctx, uid, "REQUEST_FAILED")
		c.outcome("REQUEST", "failed")
		return
	}

	order := model.NewOrder(uid, products)
	ok, err := c.store.AddOrder(ctx, order)
	if err != nil {
		c.log.Error("add_order failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "REQUEST_FAILED")
		c.outcome("REQUEST", "error")
		return
	}
	if !ok {
		c.pub.ToClient(ctx, uid, "REQUEST_FAILED")
		c.outcome("REQUEST", "failed")
		return
	}

	c.pub.ToClient(ctx, uid, joinFields("REQUEST_CREATED", order.ID, products))
	for _, p := range products {
		c.pub.ToRobot(ctx, joinFields("MOVE", order.ID, []string{p}))
	}
	c.outcome("REQUEST", "success")
}

// Cancel requires SIGNED_IN, order ownership, and a temporary order state.
// Only IN_STORAGE -> CANCELLED is legal; IN_CONVEYOR cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, uid, orderID string) {
	ctx, span := c.tracer.Start(ctx, "Cancel")
	defer span.End()

	state, err := c.store.GetClientState(ctx, uid)
	if err != nil {
		c.log.Error("get_client_state failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "CANCEL_FAILED "+orderID)
		c.outcome("CANCEL", "error")
		return
	}
	if state != model.ClientSignedIn {
		c.pub.ToClient(ctx, uid, "CANCEL_FAILED "+orderID)
		c.outcome("CANCEL", "failed")
		return
	}

	owner := uid
	order, err := c.store.UpdateOrder(ctx, orderID, model.Transition{Kind: model.TransitionCancel}, &owner)
	if err != nil {
		c.log.Error("update_order failed", slog.String("order_id", orderID), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "CANCEL_FAILED "+orderID)
		c.outcome("CANCEL", "error")
		return
	}
	// On an owner mismatch the Store returns the order unchanged, which may
	// already be CANCELLED by its real owner, so ownership is checked here too.
	if order == nil || order.ClientID != uid || order.State != model.OrderCancelled {
		c.pub.ToClient(ctx, uid, "CANCEL_FAILED "+orderID)
		c.outcome("CANCEL", "failed")
		return
	}

	c.pub.ToClient(ctx, uid, "CANCELLED "+orderID)
	c.outcome("CANCEL", "success")
}

// View requires SIGNED_IN and lists every order of uid.
func (c *Coordinator) View(ctx context.Context, uid string) {
	ctx, span := c.tracer.Start(ctx, "View")
	defer span.End()

	state, err := c.store.GetClientState(ctx, uid)
	if err != nil {
		c.log.Error("get_client_state failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "VIEW_FAILED")
		c.outcome("VIEW", "error")
		return
	}
	if state != model.ClientSignedIn {
		c.pub.ToClient(ctx, uid, "VIEW_FAILED")
		c.outcome("VIEW", "failed")
		return
	}

	orders, err := c.store.ListClientOrders(ctx, uid)
	if err != nil {
		c.log.Error("list_client_orders failed", slog.String("user_id", uid), slog.Any("error", err))
		c.pub.ToClient(ctx, uid, "VIEW_FAILED")
		c.outcome("VIEW", "error")
		return
	}

	var b strings.Builder
	b.WriteString("FOUND_REQUESTS")
	for _, o := range orders {
		b.WriteByte('\n')
		b.WriteString(o.ID)
		for _, name := range o.Names() {
			b.WriteByte(' ')
			b.WriteString(name)
		}
		b.WriteByte(' ')
		b.WriteString(string(o.State))
	}
	c.pub.ToClient(ctx, uid, b.String())
	c.outcome("VIEW", "success")
}

// Moved applies a robot's MOVED report. If the order no longer exists, or
// is no longer temporary, the message is absorbed silently.
func (c *Coordinator) Moved(ctx context.Context, orderID, product string) {
	ctx, span := c.tracer.Start(ctx, "Moved")
	defer span.End()

	order, err := c.store.UpdateOrder(ctx, orderID, model.Transition{Kind: model.TransitionMoved, Product: product}, nil)
	if err != nil {
		c.log.Error("update_order failed", slog.String("order_id", orderID), slog.Any("error", err))
		c.outcome("MOVED", "error")
		return
	}
	if order == nil {
		c.outcome("MOVED", "absorbed")
		return
	}
	if order.State == model.OrderInConveyor {
		c.pub.ToDelivery(ctx, joinFields2("DELIVERY", order.ClientID, order.ID, order.Names()))
		c.outcome("MOVED", "conveyor")
		return
	}
	c.outcome("MOVED", "absorbed")
}

// NotFound applies a robot's NOT_FOUND report. A single NOT_FOUND fails
// the whole order; later MOVED/NOT_FOUND messages for it are absorbed.
func (c *Coordinator) NotFound(ctx context.Context, orderID, product string) {
	ctx, span := c.tracer.Start(ctx, "NotFound")
	defer span.End()

	order, err := c.store.UpdateOrder(ctx, orderID, model.Transition{Kind: model.TransitionNotFound, Product: product}, nil)
	if err != nil {
		c.log.Error("update_order failed", slog.String("order_id", orderID), slog.Any("error", err))
		c.outcome("NOT_FOUND", "error")
		return
	}
	if order == nil {
		c.outcome("NOT_FOUND", "absorbed")
		return
	}
	if order.State == model.OrderFailed {
		c.pub.ToClient(ctx, order.ClientID, "REQUEST_FAILED "+order.ID)
		c.outcome("NOT_FOUND", "failed")
		return
	}
	c.outcome("NOT_FOUND", "absorbed")
}

// Delivered applies a delivery agent's DELIVERED report. The client has
// already been notified directly by delivery (RECEIVE ..., §6); the
// controller emits nothing here.
func (c *Coordinator) Delivered(ctx context.Context, orderID string) {
	ctx, span := c.tracer.Start(ctx, "Delivered")
	defer span.End()

	_, err := c.store.UpdateOrder(ctx, orderID, model.Transition{Kind: model.TransitionDeliver}, nil)
	if err != nil {
		c.log.Error("update_order failed", slog.String("order_id", orderID), slog.Any("error", err))
		c.outcome("DELIVERED", "error")
		return
	}
	c.outcome("DELIVERED", "applied")
}

// DeliveryFailed applies a delivery agent's DELIVERY_FAILED report.
func (c *Coordinator) DeliveryFailed(ctx context.Context, orderID string) {
	ctx, span := c.tracer.Start(ctx, "DeliveryFailed")
	defer span.End()

	order, err := c.store.UpdateOrder(ctx, orderID, model.Transition{Kind: model.TransitionFail}, nil)
	if err != nil {
		c.log.Error("update_order failed", slog.String("order_id", orderID), slog.Any("error", err))
		c.outcome("DELIVERY_FAILED", "error")
		return
	}
	if order == nil {
		c.outcome("DELIVERY_FAILED", "absorbed")
		return
	}
	if order.State == model.OrderFailed {
		c.pub.ToClient(ctx, order.ClientID, "REQUEST_FAILED "+order.ID)
		c.outcome("DELIVERY_FAILED", "failed")
		return
	}
	c.outcome("DELIVERY_FAILED", "absorbed")
}

// joinFields builds "<verb> <id> <p1> [<p2> ...]".
func joinFields(verb, id string, products []string) string {
	parts := make([]string, 0, 2+len(products))
	parts = append(parts, verb, id)
	parts = append(parts, products...)
	return strings.Join(parts, " ")
}

// joinFields2 builds "<verb> <clientID> <id> <p1> [<p2> ...]".
func joinFields2(verb, clientID, id string, products []string) string {
	parts := make([]string, 0, 3+len(products))
	parts = append(parts, verb, clientID, id)
	parts = append(parts, products...)
	return strings.Join(parts, " ")
}
