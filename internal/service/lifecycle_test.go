package service

import (
	"fmt"
	"testing"

	"food_order/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathTo 从 pending 推进到目标状态所需的步骤。
var pathTo = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:   nil,
	model.OrderStatusPreparing: {model.OrderStatusPreparing},
	model.OrderStatusOnTheWay:  {model.OrderStatusPreparing, model.OrderStatusOnTheWay},
	model.OrderStatusDelivered: {model.OrderStatusPreparing, model.OrderStatusOnTheWay, model.OrderStatusDelivered},
	model.OrderStatusCancelled: {model.OrderStatusCancelled},
}

func (f *fixture) orderIn(t *testing.T, userID int64, productID uint, status model.OrderStatus) *model.Order {
	t.Helper()
	order := f.placeOrder(t, userID, map[uint]int{productID: 1})
	for _, s := range pathTo[status] {
		_, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, string(s))
		require.NoError(t, err)
	}
	order.Status = status
	return order
}

func TestCanTransitionTable(t *testing.T) {
	allowed := map[model.OrderStatus]map[model.OrderStatus]bool{
		model.OrderStatusPending:   {model.OrderStatusPreparing: true, model.OrderStatusCancelled: true},
		model.OrderStatusPreparing: {model.OrderStatusOnTheWay: true, model.OrderStatusCancelled: true},
		model.OrderStatusOnTheWay:  {model.OrderStatusDelivered: true, model.OrderStatusCancelled: true},
		model.OrderStatusDelivered: {},
		model.OrderStatusCancelled: {},
	}
	for _, from := range model.OrderStatuses {
		for _, to := range model.OrderStatuses {
			want := from == to || allowed[from][to]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("unknown", model.OrderStatusPending))
	assert.Empty(t, AllowedTransitions(model.OrderStatusDelivered))
}

func TestUpdateStatusMatrix(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Tofu", "3.00", nil)

	var uid int64
	for _, from := range model.OrderStatuses {
		for _, to := range model.OrderStatuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				uid++
				order := f.orderIn(t, uid, p.ID, from)
				before := f.count(t, &model.OrderStatusHistory{}, "order_id = ?", order.ID)

				got, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, string(to))

				after := f.count(t, &model.OrderStatusHistory{}, "order_id = ?", order.ID)
				stored, gerr := f.svc.Orders.GetOrder(f.ctx, order.ID, 0)
				require.NoError(t, gerr)

				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					assert.Equal(t, to, stored.Status)
					if from == to {
						assert.Equal(t, before, after)
					} else {
						assert.Equal(t, before+1, after)
					}
					return
				}
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				assert.Equal(t, fmt.Sprintf("cannot transition from '%s' to '%s'", from, to), err.Error())
				assert.Equal(t, from, stored.Status)
				assert.Equal(t, before, after)
			})
		}
	}
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Tofu", "3.00", nil)
	order := f.placeOrder(t, 1, map[uint]int{p.ID: 1})

	_, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, "shipped")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "pending, preparing, on_the_way, delivered, cancelled")

	_, err = f.svc.Lifecycle.UpdateStatus(f.ctx, 9999, "preparing")
	assert.True(t, IsNotFound(err))
}

func TestDeliveredCannotGoBack(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Tofu", "3.00", nil)
	order := f.orderIn(t, 1, p.ID, model.OrderStatusDelivered)
	events := f.count(t, &model.OrderEvent{}, "order_id = ?", order.ID)

	_, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, "preparing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot transition from 'delivered' to 'preparing'")

	history, err := f.svc.Lifecycle.History(f.ctx, order.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.OrderStatusDelivered, history[3].Status)
	assert.Equal(t, events, f.count(t, &model.OrderEvent{}, "order_id = ?", order.ID))
}

func TestCancelOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, "Pizza", "12.00", intPtr(5))
	b := f.product(t, "Cola", "2.00", nil)
	order := f.placeOrder(t, 1, map[uint]int{a.ID: 3, b.ID: 2})
	for _, s := range pathTo[model.OrderStatusOnTheWay] {
		_, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, string(s))
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.inventoryQty(t, a.ID))

	cancelled, err := f.svc.Lifecycle.CancelOrder(f.ctx, order.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.inventoryQty(t, a.ID))

	history, err := f.svc.Lifecycle.History(f.ctx, order.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.OrderStatusCancelled, history[3].Status)
	assert.EqualValues(t, 1, f.count(t, &model.OrderStatusHistory{}, "order_id = ? AND status = ?", order.ID, model.OrderStatusCancelled))

	entries, err := f.svc.Inventory.Transactions(f.ctx, a.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, model.InventoryTxCancellation, last.Type)
	assert.Equal(t, 3, last.QuantityChange)
	assert.Equal(t, 5, last.QuantityAfter)

	var evt model.OrderEvent
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Order("id DESC").First(&evt).Error)
	assert.Equal(t, model.EventOrderStatusChanged, evt.Type)
	assert.Contains(t, evt.Payload, `"previous_status":"on_the_way"`)
}

func TestCancelOrderDoesNotReenableProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Soup Dumpling", "9.00", intPtr(1))
	order := f.placeOrder(t, 1, map[uint]int{p.ID: 1})
	require.False(t, f.isAvailable(t, p.ID))

	_, err := f.svc.Lifecycle.CancelOrder(f.ctx, order.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.inventoryQty(t, p.ID))
	assert.False(t, f.isAvailable(t, p.ID))
}

func TestCancelOrderRejections(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Rice", "1.00", intPtr(10))

	t.Run("not the owner", func(t *testing.T) {
		order := f.placeOrder(t, 1, map[uint]int{p.ID: 1})
		_, err := f.svc.Lifecycle.CancelOrder(f.ctx, order.ID, 2)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, 9, f.inventoryQty(t, p.ID))
	})

	t.Run("terminal order", func(t *testing.T) {
		order := f.orderIn(t, 3, p.ID, model.OrderStatusDelivered)
		qty := f.inventoryQty(t, p.ID)
		_, err := f.svc.Lifecycle.CancelOrder(f.ctx, order.ID, 3)
		require.Error(t, err)
		assert.Equal(t, "cannot cancel order with status 'delivered'", err.Error())
		assert.Equal(t, qty, f.inventoryQty(t, p.ID))
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := f.svc.Lifecycle.CancelOrder(f.ctx, 4242, 1)
		assert.True(t, IsNotFound(err))
	})
}

func TestAdminCancelDoesNotRestoreStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Wonton", "6.00", intPtr(4))
	order := f.placeOrder(t, 1, map[uint]int{p.ID: 2})

	_, err := f.svc.Lifecycle.UpdateStatus(f.ctx, order.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 2, f.inventoryQty(t, p.ID))
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Tea", "2.00", nil)
	order := f.placeOrder(t, 1, map[uint]int{p.ID: 1})

	_, err := f.svc.Lifecycle.UpdatePaymentStatus(f.ctx, order.ID, "refunded")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	got, err := f.svc.Lifecycle.UpdatePaymentStatus(f.ctx, order.ID, "paid")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, got.Status)
	assert.EqualValues(t, 1, f.count(t, &model.OrderEvent{}, "order_id = ? AND type = ?", order.ID, model.EventOrderPaymentStatusChanged))

	_, err = f.svc.Lifecycle.UpdatePaymentStatus(f.ctx, order.ID, "paid")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.count(t, &model.OrderEvent{}, "order_id = ? AND type = ?", order.ID, model.EventOrderPaymentStatusChanged))
	assert.EqualValues(t, 1, f.count(t, &model.OrderStatusHistory{}, "order_id = ?", order.ID))
}

func TestHistoryIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Tea", "2.00", nil)
	order := f.placeOrder(t, 1, map[uint]int{p.ID: 1})

	_, err := f.svc.Lifecycle.History(f.ctx, order.ID, 2)
	assert.True(t, IsNotFound(err))

	rows, err := f.svc.Lifecycle.History(f.ctx, order.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.OrderStatusPending, rows[0].Status)
}
