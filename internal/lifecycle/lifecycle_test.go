package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/campusmart/internal/model"
)

func TestNextOrderStatus(t *testing.T) {
	tests := []struct {
		name    string
		current model.OrderStatus
		event   OrderEvent
		want    model.OrderStatus
		wantErr error
	}{
		{name: "confirm pending", current: model.OrderStatusPending, event: OrderEventConfirm, want: model.OrderStatusConfirmed},
		{name: "prepare confirmed", current: model.OrderStatusConfirmed, event: OrderEventStartPreparing, want: model.OrderStatusPreparing},
		{name: "ready", current: model.OrderStatusPreparing, event: OrderEventMarkReady, want: model.OrderStatusReadyForDelivery},
		{name: "dispatch", current: model.OrderStatusReadyForDelivery, event: OrderEventDispatch, want: model.OrderStatusOutForDelivery},
		{name: "complete", current: model.OrderStatusOutForDelivery, event: OrderEventComplete, want: model.OrderStatusDelivered},
		{name: "cancel preparing", current: model.OrderStatusPreparing, event: OrderEventCancel, want: model.OrderStatusCancelled},
		{name: "skip step", current: model.OrderStatusPending, event: OrderEventDispatch, want: model.OrderStatusPending, wantErr: ErrInvalidTransition},
		{name: "cancel delivered", current: model.OrderStatusDelivered, event: OrderEventCancel, want: model.OrderStatusDelivered, wantErr: ErrTerminal},
		{name: "confirm cancelled", current: model.OrderStatusCancelled, event: OrderEventConfirm, want: model.OrderStatusCancelled, wantErr: ErrTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOrderStatus(tt.current, tt.event)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderEvents(t *testing.T) {
	assert.Equal(t, []OrderEvent{OrderEventConfirm, OrderEventCancel}, OrderEvents(model.OrderStatusPending))
	assert.Nil(t, OrderEvents(model.OrderStatusDelivered))
}

func TestDeliveryChain_SequentialWalk(t *testing.T) {
	chain := []model.DeliveryStatus{
		model.DeliveryStatusPending,
		model.DeliveryStatusAssigned,
		model.DeliveryStatusPickedUp,
		model.DeliveryStatusInTransit,
		model.DeliveryStatusDelivered,
	}

	current := chain[0]
	for _, next := range chain[1:] {
		actions := DeliveryActions(current)
		require.Len(t, actions, 2)
		require.Equal(t, next, actions[0], "only the adjacent step is offered from %s", current)

		got, err := NextDeliveryStatus(current, next)
		require.NoError(t, err)
		current = got
	}

	assert.Empty(t, DeliveryActions(current))
}

func TestNextDeliveryStatus_RejectsNonAdjacent(t *testing.T) {
	all := []model.DeliveryStatus{
		model.DeliveryStatusPending,
		model.DeliveryStatusAssigned,
		model.DeliveryStatusPickedUp,
		model.DeliveryStatusInTransit,
		model.DeliveryStatusDelivered,
	}

	for i, from := range all[:len(all)-1] {
		for j, to := range all {
			if j == i+1 {
				continue
			}
			_, err := NextDeliveryStatus(from, to)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
}

func TestNextDeliveryStatus_Failure(t *testing.T) {
	got, err := NextDeliveryStatus(model.DeliveryStatusInTransit, model.DeliveryStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, got)

	_, err = NextDeliveryStatus(model.DeliveryStatusDelivered, model.DeliveryStatusFailed)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSyncOrder(t *testing.T) {
	got, changed, err := SyncOrder(model.OrderStatusReadyForDelivery, model.DeliveryStatusPickedUp)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.OrderStatusOutForDelivery, got)

	got, changed, err = SyncOrder(model.OrderStatusOutForDelivery, model.DeliveryStatusInTransit)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.OrderStatusOutForDelivery, got)

	got, changed, err = SyncOrder(model.OrderStatusOutForDelivery, model.DeliveryStatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.OrderStatusDelivered, got)

	_, changed, err = SyncOrder(model.OrderStatusPending, model.DeliveryStatusAssigned)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = SyncOrder(model.OrderStatusCancelled, model.DeliveryStatusPickedUp)
	assert.ErrorIs(t, err, ErrOrderCancelled)
}

func TestSyncOrder_FollowsOrderSteps(t *testing.T) {
	tests := []struct {
		name     string
		order    model.OrderStatus
		delivery model.DeliveryStatus
	}{
		{name: "pick up pending order", order: model.OrderStatusPending, delivery: model.DeliveryStatusPickedUp},
		{name: "pick up confirmed order", order: model.OrderStatusConfirmed, delivery: model.DeliveryStatusPickedUp},
		{name: "in transit before dispatch", order: model.OrderStatusPreparing, delivery: model.DeliveryStatusInTransit},
		{name: "deliver ready order", order: model.OrderStatusReadyForDelivery, delivery: model.DeliveryStatusDelivered},
		{name: "deliver pending order", order: model.OrderStatusPending, delivery: model.DeliveryStatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := SyncOrder(tt.order, tt.delivery)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.False(t, changed)
			assert.Equal(t, tt.order, got)
		})
	}
}

func TestApplyOrderEvent(t *testing.T) {
	t.Run("dispatch and complete follow the delivery", func(t *testing.T) {
		o := &model.Order{Status: model.OrderStatusReadyForDelivery, PaymentMethod: model.PaymentMethodCashOnDelivery}
		d := &model.Delivery{Status: model.DeliveryStatusPending}

		err := ApplyOrderEvent(o, d, OrderEventDispatch)
		assert.ErrorIs(t, err, ErrDeliveryDriven)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, model.OrderStatusReadyForDelivery, o.Status)

		o.Status = model.OrderStatusOutForDelivery
		assert.ErrorIs(t, ApplyOrderEvent(o, d, OrderEventComplete), ErrDeliveryDriven)
		assert.Equal(t, model.DeliveryStatusPending, d.Status)
	})

	t.Run("order without delivery", func(t *testing.T) {
		o := &model.Order{Status: model.OrderStatusReadyForDelivery, PaymentMethod: model.PaymentMethodCashOnDelivery}
		require.NoError(t, ApplyOrderEvent(o, nil, OrderEventDispatch))
		assert.Equal(t, model.OrderStatusOutForDelivery, o.Status)
	})

	t.Run("prepaid order is confirmed by payment", func(t *testing.T) {
		o := &model.Order{Status: model.OrderStatusPending, PaymentMethod: model.PaymentMethodCard, PaymentStatus: model.PaymentStatusPending}
		assert.ErrorIs(t, ApplyOrderEvent(o, nil, OrderEventConfirm), ErrUnpaid)
		assert.Equal(t, model.OrderStatusPending, o.Status)

		cod := &model.Order{Status: model.OrderStatusPending, PaymentMethod: model.PaymentMethodCashOnDelivery, PaymentStatus: model.PaymentStatusPending}
		require.NoError(t, ApplyOrderEvent(cod, nil, OrderEventConfirm))
		assert.Equal(t, model.OrderStatusConfirmed, cod.Status)
	})

	t.Run("cancel fails open delivery", func(t *testing.T) {
		o := &model.Order{Status: model.OrderStatusPreparing, PaymentMethod: model.PaymentMethodMTN}
		d := &model.Delivery{Status: model.DeliveryStatusAssigned}
		require.NoError(t, ApplyOrderEvent(o, d, OrderEventCancel))
		assert.Equal(t, model.OrderStatusCancelled, o.Status)
		assert.Equal(t, model.DeliveryStatusFailed, d.Status)
	})
}

func TestManualOrderEvents(t *testing.T) {
	d := &model.Delivery{Status: model.DeliveryStatusPending}

	ready := model.Order{Status: model.OrderStatusReadyForDelivery, PaymentMethod: model.PaymentMethodCashOnDelivery}
	assert.Equal(t, []OrderEvent{OrderEventCancel}, ManualOrderEvents(ready, d))
	assert.Equal(t, []OrderEvent{OrderEventDispatch, OrderEventCancel}, ManualOrderEvents(ready, nil))

	unpaid := model.Order{Status: model.OrderStatusPending, PaymentMethod: model.PaymentMethodAirtel, PaymentStatus: model.PaymentStatusPending}
	assert.Equal(t, []OrderEvent{OrderEventCancel}, ManualOrderEvents(unpaid, d))
	assert.Equal(t, model.DeliveryStatusPending, d.Status)
}

func TestApplyPaid(t *testing.T) {
	o := &model.Order{Status: model.OrderStatusPending, PaymentStatus: model.PaymentStatusPending}

	changed, err := ApplyPaid(o)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, model.OrderStatusConfirmed, o.Status)

	changed, err = ApplyPaid(o)
	require.NoError(t, err)
	assert.False(t, changed)

	delivered := &model.Order{Status: model.OrderStatusDelivered, PaymentStatus: model.PaymentStatusPending}
	changed, err = ApplyPaid(delivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)

	cancelled := &model.Order{Status: model.OrderStatusCancelled, PaymentStatus: model.PaymentStatusPending}
	_, err = ApplyPaid(cancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNextPaymentStatus(t *testing.T) {
	_, err := NextPaymentStatus(model.PaymentStatusPaid, model.PaymentStatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := NextPaymentStatus(model.PaymentStatusPaid, model.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusRefunded, got)
}
