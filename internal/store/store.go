// Package store is the controller's durable, thread-safe mapping of
// clients to state and orders to (client, state, products). It is the one
// shared mutable resource in the system (§5): every exported method takes
// a single exclusive lock spanning the full read-transition-write
// transaction, so the three concurrent Intake consumers never interleave a
// Store operation. Grounded on the teacher's stock/store_postgres.go and
// stock/store_reservations.go (database/sql transaction idioms), with
// modernc.org/sqlite in place of lib/pq as the embedded SQL engine §4.5
// calls for.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkovac/warehouse-controller/internal/metrics"
	"github.com/mkovac/warehouse-controller/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	user_id      TEXT PRIMARY KEY,
	client_state TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	req_state TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_products (
	order_id   TEXT NOT NULL,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	prod_state TEXT NOT NULL,
	PRIMARY KEY (order_id, position)
);
`

// Store is the embedded-SQL-backed durable state of §4.5.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	metrics *metrics.Metrics
}

// Open creates (or reuses) the sqlite file at path and ensures the schema
// exists. metrics may be nil (tests do not need a registered collector).
func Open(path string, m *metrics.Metrics) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection matches the single-exclusive-lock discipline
	// §5 requires; sqlite itself also only accepts one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, metrics: m}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(start time.Time) {
	if s.metrics != nil {
		s.metrics.StoreTxDuration.Observe(time.Since(start).Seconds())
	}
}

// GetClientState returns NOT_REGISTERED if uid is absent from the store.
func (s *Store) GetClientState(ctx context.Context, uid string) (model.ClientState, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	var state string
	err := s.db.QueryRowContext(ctx, `SELECT client_state FROM clients WHERE user_id = ?`, uid).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClientNotRegistered, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get client state: %w", err)
	}
	return model.ClientState(state), nil
}

// RegisterClient succeeds iff uid is absent, inserting it as SIGNED_OUT.
func (s *Store) RegisterClient(ctx context.Context, uid string) (bool, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT client_state FROM clients WHERE user_id = ?`, uid).Scan(&existing)
	if err == nil {
		return false, nil // already registered
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check existing client: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO clients (user_id, client_state) VALUES (?, ?)`, uid, string(model.ClientSignedOut)); err != nil {
		return false, fmt.Errorf("failed to insert client: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit registration: %w", err)
	}
	return true, nil
}

// UpdateClient succeeds iff (current, newState) is a legal transition
// (§3); sign-in and sign-out both go through here.
func (s *Store) UpdateClient(ctx context.Context, uid string, newState model.ClientState) (bool, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current := model.ClientNotRegistered
	var row string
	err = tx.QueryRowContext(ctx, `SELECT client_state FROM clients WHERE user_id = ?`, uid).Scan(&row)
	switch {
	case err == nil:
		current = model.ClientState(row)
	case errors.Is(err, sql.ErrNoRows):
		// stays NOT_REGISTERED
	default:
		return false, fmt.Errorf("failed to get client state: %w", err)
	}

	if !model.ClientTransitionLegal(current, newState) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE clients SET client_state = ? WHERE user_id = ?`, string(newState), uid); err != nil {
		return false, fmt.Errorf("failed to update client: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit client update: %w", err)
	}
	return true, nil
}

// GetOrder returns nil, nil if id is unknown.
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	return s.getOrder(ctx, s.db, id)
}

// getOrder is the unlocked, tx-agnostic implementation shared by GetOrder
// and the transactional methods below; querier is either *sql.DB or *sql.Tx.
func (s *Store) getOrder(ctx context.Context, querier querier, id string) (*model.Order, error) {
	order := &model.Order{ID: id}
	var state string
	err := querier.QueryRowContext(ctx, `SELECT user_id, req_state FROM orders WHERE order_id = ?`, id).Scan(&order.ClientID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.State = model.OrderState(state)

	rows, err := querier.QueryContext(ctx, `SELECT name, prod_state FROM order_products WHERE order_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Product
		var pstate string
		if err := rows.Scan(&p.Name, &pstate); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.State = model.ProductState(pstate)
		order.Products = append(order.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AddOrder succeeds iff order.ID is unused and order.ClientID is currently
// SIGNED_IN (invariant 1 and 6 of §3).
func (s *Store) AddOrder(ctx context.Context, order *model.Order) (bool, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var clientState string
	err = tx.QueryRowContext(ctx, `SELECT client_state FROM clients WHERE user_id = ?`, order.ClientID).Scan(&clientState)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && model.ClientState(clientState) != model.ClientSignedIn) {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check client state: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE order_id = ?`, order.ID).Scan(&exists)
	if err == nil {
		return false, nil // order_id collision
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check order id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO orders (order_id, user_id, req_state) VALUES (?, ?, ?)`, order.ID, order.ClientID, string(order.State)); err != nil {
		return false, fmt.Errorf("failed to insert order: %w", err)
	}

	for i, p := range order.Products {
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_products (order_id, position, name, prod_state) VALUES (?, ?, ?, ?)`, order.ID, i, p.Name, string(p.State)); err != nil {
			return false, fmt.Errorf("failed to insert product %s: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit new order: %w", err)
	}
	return true, nil
}

// ErrOrderNotFound is never returned directly by UpdateOrder (a missing
// order is absorbed per §4.3/§4.4); it is exposed for callers that want to
// distinguish "absorbed" from other failure modes in logs.
var ErrOrderNotFound = errors.New("order not found")

// UpdateOrder atomically reads the order, invokes transition against the
// in-memory snapshot, and writes back the new order state and (if one
// changed) the one modified product's new state. If owner is non-nil and
// does not match the order's client, the transition is not applied and
// nothing is written; the order is returned as read, with a nil error, so
// the caller sees no state change. Returns (nil, nil) if id is unknown — the caller treats
// that as "absorbed", never as an error.
func (s *Store) UpdateOrder(ctx context.Context, id string, transition model.Transition, owner *string) (*model.Order, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := s.getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	if owner != nil && *owner != order.ClientID {
		// Mismatch fails the whole operation without side effects: don't
		// even apply the transition, just return the order untouched.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit read-only check: %w", err)
		}
		return order, nil
	}

	changed := transition.Apply(order)

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET req_state = ? WHERE order_id = ?`, string(order.State), id); err != nil {
		return nil, fmt.Errorf("failed to update order state: %w", err)
	}

	if changed != nil {
		position := indexOf(order, changed)
		if _, err := tx.ExecContext(ctx, `UPDATE order_products SET prod_state = ? WHERE order_id = ? AND position = ?`, string(changed.State), id, position); err != nil {
			return nil, fmt.Errorf("failed to update product state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order update: %w", err)
	}
	return order, nil
}

// indexOf finds the slice position of a product pointer returned by a
// transition function, so the caller knows which row to write back.
func indexOf(order *model.Order, p *model.Product) int {
	for i := range order.Products {
		if &order.Products[i] == p {
			return i
		}
	}
	return -1
}

// ListClientOrders returns every order owned by uid, in no particular
// cross-order order (VIEW does not require one).
func (s *Store) ListClientOrders(ctx context.Context, uid string) ([]*model.Order, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(start)

	rows, err := s.db.QueryContext(ctx, `SELECT order_id FROM orders WHERE user_id = ?`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	orders := make([]*model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.getOrder(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			orders = append(orders, o)
		}
	}
	return orders, nil
}
