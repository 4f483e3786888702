package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnMoved_AdvancesToConveyorWhenAllFound(t *testing.T) {
	o := NewOrder("alice", []string{"pen"})

	p := Transition{Kind: TransitionMoved, Product: "pen"}.Apply(o)

	require.NotNil(t, p)
	require.Equal(t, ProductFound, p.State)
	require.Equal(t, OrderInConveyor, o.State)
}

func TestOnMoved_WaitsForAllProducts(t *testing.T) {
	o := NewOrder("alice", []string{"pen", "paper"})

	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(o)

	require.Equal(t, OrderInStorage, o.State)
}

func TestOnNotFound_FailsImmediately(t *testing.T) {
	o := NewOrder("alice", []string{"pen", "paper"})

	p := Transition{Kind: TransitionNotFound, Product: "pen"}.Apply(o)

	require.NotNil(t, p)
	require.Equal(t, ProductNotFound, p.State)
	require.Equal(t, OrderFailed, o.State)

	// a later MOVED for the sibling product is absorbed
	p2 := Transition{Kind: TransitionMoved, Product: "paper"}.Apply(o)
	require.Nil(t, p2)
	require.Equal(t, OrderFailed, o.State)
	require.Equal(t, ProductUndefined, o.Products[1].State)
}

func TestOnCancel_OnlyFromInStorage(t *testing.T) {
	inStorage := NewOrder("alice", []string{"pen"})
	require.Nil(t, Transition{Kind: TransitionCancel}.Apply(inStorage))
	require.Equal(t, OrderCancelled, inStorage.State)

	inConveyor := NewOrder("alice", []string{"pen"})
	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(inConveyor)
	require.Equal(t, OrderInConveyor, inConveyor.State)

	Transition{Kind: TransitionCancel}.Apply(inConveyor)
	require.Equal(t, OrderInConveyor, inConveyor.State, "cancel must not affect an in-conveyor order")
}

func TestOnDeliver_OnlyFromInConveyor(t *testing.T) {
	o := NewOrder("alice", []string{"pen"})

	Transition{Kind: TransitionDeliver}.Apply(o)
	require.Equal(t, OrderInStorage, o.State, "cannot deliver straight from storage")

	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(o)
	Transition{Kind: TransitionDeliver}.Apply(o)
	require.Equal(t, OrderDelivered, o.State)
}

func TestOnFail_OnlyFromTemporaryState(t *testing.T) {
	o := NewOrder("alice", []string{"pen"})
	Transition{Kind: TransitionFail}.Apply(o)
	require.Equal(t, OrderFailed, o.State)

	delivered := NewOrder("alice", []string{"pen"})
	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(delivered)
	Transition{Kind: TransitionDeliver}.Apply(delivered)
	Transition{Kind: TransitionFail}.Apply(delivered)
	require.Equal(t, OrderDelivered, delivered.State, "a terminal order is never mutated again")
}

func TestTerminalStateNeverMutatedAgain(t *testing.T) {
	o := NewOrder("alice", []string{"pen"})
	Transition{Kind: TransitionNotFound, Product: "pen"}.Apply(o)
	require.Equal(t, OrderFailed, o.State)

	before := *o
	before.Products = append([]Product(nil), o.Products...)
	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(o)
	Transition{Kind: TransitionCancel}.Apply(o)
	Transition{Kind: TransitionDeliver}.Apply(o)
	Transition{Kind: TransitionFail}.Apply(o)
	require.Equal(t, before.State, o.State)
	require.Equal(t, before.Products, o.Products)
}

func TestProductTransitionsAtMostOnce(t *testing.T) {
	o := NewOrder("alice", []string{"pen", "pen"})

	Transition{Kind: TransitionMoved, Product: "pen"}.Apply(o)
	require.Equal(t, ProductFound, o.Products[0].State)
	require.Equal(t, ProductUndefined, o.Products[1].State, "only the first UNDEFINED match is touched")
}

func TestClientTransitionLegal(t *testing.T) {
	cases := []struct {
		from, to ClientState
		legal    bool
	}{
		{ClientNotRegistered, ClientSignedOut, true},
		{ClientSignedOut, ClientSignedIn, true},
		{ClientSignedIn, ClientSignedOut, true},
		{ClientNotRegistered, ClientSignedIn, false},
		{ClientSignedIn, ClientNotRegistered, false},
		{ClientSignedOut, ClientNotRegistered, false},
	}
	for _, c := range cases {
		require.Equal(t, c.legal, ClientTransitionLegal(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
