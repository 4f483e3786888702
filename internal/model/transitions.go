package model

// TransitionKind tags which of the five transition functions a Transition
// invokes. This is the statically-typed rewrite of the source's
// higher-order-function callback: a small tagged union dispatched by the
// Store, in place of passing a closure into the transaction.
type TransitionKind int

const (
	TransitionCancel TransitionKind = iota
	TransitionMoved
	TransitionNotFound
	TransitionDeliver
	TransitionFail
)

// Transition carries a transition kind plus the one argument some kinds
// need (the product name for Moved/NotFound).
type Transition struct {
	Kind    TransitionKind
	Product string
}

// Apply runs the transition function against the order snapshot, mutating
// it in place, and returns the one product that changed, or nil if none
// did. A transition function that finds the order in a state from which
// its transition is illegal leaves the snapshot untouched and returns nil;
// the Store then writes back the (unchanged) order state idempotently.
func (t Transition) Apply(o *Order) *Product {
	switch t.Kind {
	case TransitionCancel:
		return onCancel(o)
	case TransitionMoved:
		return onMoved(o, t.Product)
	case TransitionNotFound:
		return onNotFound(o, t.Product)
	case TransitionDeliver:
		return onDeliver(o)
	case TransitionFail:
		return onFail(o)
	default:
		return nil
	}
}

// onCancel enacts IN_STORAGE -> CANCELLED. IN_CONVEYOR cannot be cancelled;
// the caller's ownership check happens one layer up, in the Store.
func onCancel(o *Order) *Product {
	if o.State != OrderInStorage {
		return nil
	}
	o.State = OrderCancelled
	return nil
}

// onMoved enacts a robot's MOVED report: the first UNDEFINED product
// matching name becomes FOUND, and if every product is now FOUND the order
// advances IN_STORAGE -> IN_CONVEYOR. Absorbed silently if the order is no
// longer temporary (cancelled, or already failed by a sibling NOT_FOUND).
func onMoved(o *Order, name string) *Product {
	if !o.State.Temporary() {
		return nil
	}
	p := o.firstUndefined(name)
	if p == nil {
		return nil
	}
	p.State = ProductFound
	if o.AllFound() {
		o.State = OrderInConveyor
	}
	return p
}

// onNotFound enacts a robot's NOT_FOUND report: the matching UNDEFINED
// product becomes NOT_FOUND and the order fails immediately — a single
// NOT_FOUND is sufficient, the controller does not wait for sibling
// products to resolve.
func onNotFound(o *Order, name string) *Product {
	if !o.State.Temporary() {
		return nil
	}
	p := o.firstUndefined(name)
	if p == nil {
		return nil
	}
	p.State = ProductNotFound
	o.State = OrderFailed
	return p
}

// onDeliver enacts a delivery agent's DELIVERED report: only legal from
// IN_CONVEYOR.
func onDeliver(o *Order) *Product {
	if o.State != OrderInConveyor {
		return nil
	}
	o.State = OrderDelivered
	return nil
}

// onFail enacts a delivery agent's DELIVERY_FAILED report: legal from any
// temporary state.
func onFail(o *Order) *Product {
	if !o.State.Temporary() {
		return nil
	}
	o.State = OrderFailed
	return nil
}
