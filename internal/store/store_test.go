package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkovac/warehouse-controller/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetClientState_AbsentIsNotRegistered(t *testing.T) {
	s := newTestStore(t)
	state, err := s.GetClientState(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, model.ClientNotRegistered, state)
}

func TestRegisterClient_IdempotentOnSecondCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.RegisterClient(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RegisterClient(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok, "second registration must fail")

	state, err := s.GetClientState(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, model.ClientSignedOut, state)
}

func TestUpdateClient_SignInSignOutCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.RegisterClient(ctx, "alice")
	require.NoError(t, err)

	ok, err := s.UpdateClient(ctx, "alice", model.ClientSignedIn)
	require.NoError(t, err)
	require.True(t, ok)

	// re-signing in fails: SIGNED_IN -> SIGNED_IN is not a legal transition
	ok, err = s.UpdateClient(ctx, "alice", model.ClientSignedIn)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.UpdateClient(ctx, "alice", model.ClientSignedOut)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpdateClient_UnknownUserFails(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.UpdateClient(context.Background(), "nobody", model.ClientSignedIn)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddOrder_RequiresSignedIn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")

	order := model.NewOrder("alice", []string{"pen"})
	ok, err := s.AddOrder(ctx, order)
	require.NoError(t, err)
	require.False(t, ok, "alice is only SIGNED_OUT so far")

	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)
	ok, err = s.AddOrder(ctx, order)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, order.ID, got.ID)
	require.Equal(t, "alice", got.ClientID)
	require.Equal(t, model.OrderInStorage, got.State)
	require.Equal(t, []model.Product{{Name: "pen", State: model.ProductUndefined}}, got.Products)
}

func TestAddOrder_RejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")
	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)

	order := model.NewOrder("alice", []string{"pen"})
	ok, err := s.AddOrder(ctx, order)
	require.NoError(t, err)
	require.True(t, ok)

	dup := &model.Order{ID: order.ID, ClientID: "alice", State: model.OrderInStorage}
	ok, err = s.AddOrder(ctx, dup)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateOrder_UnknownOrderIsAbsorbed(t *testing.T) {
	s := newTestStore(t)
	got, err := s.UpdateOrder(context.Background(), "does-not-exist", model.Transition{Kind: model.TransitionMoved, Product: "pen"}, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateOrder_OwnerMismatchFailsWithoutSideEffects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")
	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)
	order := model.NewOrder("alice", []string{"pen"})
	_, _ = s.AddOrder(ctx, order)

	bob := "bob"
	got, err := s.UpdateOrder(ctx, order.ID, model.Transition{Kind: model.TransitionCancel}, &bob)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.OrderInStorage, got.State, "mismatched owner must not cancel the order")
}

func TestUpdateOrder_MovedThenConveyorThenDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")
	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)
	order := model.NewOrder("alice", []string{"pen"})
	_, _ = s.AddOrder(ctx, order)

	got, err := s.UpdateOrder(ctx, order.ID, model.Transition{Kind: model.TransitionMoved, Product: "pen"}, nil)
	require.NoError(t, err)
	require.Equal(t, model.OrderInConveyor, got.State)
	require.Equal(t, model.ProductFound, got.Products[0].State)

	got, err = s.UpdateOrder(ctx, order.ID, model.Transition{Kind: model.TransitionDeliver}, nil)
	require.NoError(t, err)
	require.Equal(t, model.OrderDelivered, got.State)

	// replaying DELIVERED again is a no-op (idempotence under at-least-once delivery)
	got, err = s.UpdateOrder(ctx, order.ID, model.Transition{Kind: model.TransitionDeliver}, nil)
	require.NoError(t, err)
	require.Equal(t, model.OrderDelivered, got.State)
}

func TestListClientOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")
	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)

	o1 := model.NewOrder("alice", []string{"pen"})
	o2 := model.NewOrder("alice", []string{"paper", "stapler"})
	_, _ = s.AddOrder(ctx, o1)
	_, _ = s.AddOrder(ctx, o2)

	orders, err := s.ListClientOrders(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, orders, 2)
}

func TestOrderPersistsRoundTripWithDuplicateProductNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.RegisterClient(ctx, "alice")
	_, _ = s.UpdateClient(ctx, "alice", model.ClientSignedIn)

	order := model.NewOrder("alice", []string{"pen", "pen"})
	_, _ = s.AddOrder(ctx, order)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Products, got.Products)

	got, err = s.UpdateOrder(ctx, order.ID, model.Transition{Kind: model.TransitionMoved, Product: "pen"}, nil)
	require.NoError(t, err)
	require.Equal(t, model.ProductFound, got.Products[0].State)
	require.Equal(t, model.ProductUndefined, got.Products[1].State, "only the first UNDEFINED match advances")
}
