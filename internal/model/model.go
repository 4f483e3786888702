// Package model holds the state-bearing types of the fulfillment pipeline:
// clients, the products inside an order, and orders themselves. It owns the
// legal state transitions (§3 of the spec) but not persistence — that is
// internal/store's job.
package model

import "github.com/google/uuid"

// ClientState is one of the three client lifecycle states. The zero value
// is intentionally NOT a member of this set; absence from the store means
// ClientNotRegistered, which callers must produce explicitly.
type ClientState string

const (
	ClientNotRegistered ClientState = "NOT_REGISTERED"
	ClientSignedOut     ClientState = "SIGNED_OUT"
	ClientSignedIn      ClientState = "SIGNED_IN"
)

// ClientTransitionLegal reports whether (from, to) is one of the legal
// client state transitions: registration (NOT_REGISTERED -> SIGNED_OUT) and
// sign-in/sign-out (SIGNED_OUT <-> SIGNED_IN). There is no path back to
// NOT_REGISTERED.
func ClientTransitionLegal(from, to ClientState) bool {
	switch {
	case from == ClientNotRegistered && to == ClientSignedOut:
		return true
	case from == ClientSignedOut && to == ClientSignedIn:
		return true
	case from == ClientSignedIn && to == ClientSignedOut:
		return true
	default:
		return false
	}
}

// ProductState tracks a single line item inside an order.
type ProductState string

const (
	ProductUndefined ProductState = "UNDEFINED"
	ProductFound     ProductState = "FOUND"
	ProductNotFound  ProductState = "NOT_FOUND"
)

// Product is a named line item owned exclusively by its containing Order.
type Product struct {
	Name  string
	State ProductState
}

// OrderState is one of the five order lifecycle states.
type OrderState string

const (
	OrderInStorage  OrderState = "IN_STORAGE"
	OrderInConveyor OrderState = "IN_CONVEYOR"
	OrderDelivered  OrderState = "DELIVERED"
	OrderCancelled  OrderState = "CANCELLED"
	OrderFailed     OrderState = "FAILED"
)

// Temporary reports whether further transitions are legal from this state.
func (s OrderState) Temporary() bool {
	return s == OrderInStorage || s == OrderInConveyor
}

// Terminal is the complement of Temporary.
func (s OrderState) Terminal() bool {
	return !s.Temporary()
}

// Order is a client's request for a set of products, and the primary
// state-bearing entity of the whole system.
type Order struct {
	ID       string
	ClientID string
	Products []Product
	State    OrderState
}

// NewOrderID generates a fresh 128-bit identifier, rendered in the
// canonical 8-4-4-4-12 hyphenated hex form (uuid.UUID's String method
// already produces this form).
func NewOrderID() string {
	return uuid.NewString()
}

// NewOrder builds a fresh order in IN_STORAGE with every product UNDEFINED,
// preserving the caller's insertion order.
func NewOrder(clientID string, productNames []string) *Order {
	products := make([]Product, len(productNames))
	for i, name := range productNames {
		products[i] = Product{Name: name, State: ProductUndefined}
	}
	return &Order{
		ID:       NewOrderID(),
		ClientID: clientID,
		Products: products,
		State:    OrderInStorage,
	}
}

// AllFound reports whether every product in the order is FOUND.
func (o *Order) AllFound() bool {
	for _, p := range o.Products {
		if p.State != ProductFound {
			return false
		}
	}
	return true
}

// firstUndefined returns a pointer to the first product matching name whose
// state is still UNDEFINED, or nil if none match. A pointer into o.Products
// lets the caller mutate the slice element in place.
func (o *Order) firstUndefined(name string) *Product {
	for i := range o.Products {
		if o.Products[i].Name == name && o.Products[i].State == ProductUndefined {
			return &o.Products[i]
		}
	}
	return nil
}

// Names returns the product names in insertion order, used when rendering
// outbound messages (REQUEST_CREATED, DELIVERY, VIEW lines).
func (o *Order) Names() []string {
	names := make([]string, len(o.Products))
	for i, p := range o.Products {
		names[i] = p.Name
	}
	return names
}
