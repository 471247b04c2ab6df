package service

import (
	"encoding/json"
	"sync"
	"testing"

	"food_order/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderWithoutCoupon(t *testing.T) {
	f := newFixture(t)
	x := f.product(t, "Dumplings", "10.00", nil)
	y := f.product(t, "Spring Roll", "5.00", nil)
	addr := f.address(t, 1)
	f.addToCart(t, 1, x.ID, 2)
	f.addToCart(t, 1, y.ID, 1)

	order, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "25.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", order.DiscountAmount.StringFixed(2))
	assert.Equal(t, "25.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "", order.CouponCode)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)
	assert.NotEmpty(t, order.OrderNo)
	require.Len(t, order.Items, 2)

	assert.EqualValues(t, 2, f.count(t, &model.OrderItem{}, "order_id = ?", order.ID))
	assert.EqualValues(t, 0, f.count(t, &model.CartItem{}, "user_id = ?", 1))
	assert.EqualValues(t, 1, f.count(t, &model.OrderStatusHistory{}, "order_id = ?", order.ID))

	var evt model.OrderEvent
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&evt).Error)
	assert.Equal(t, model.EventOrderCreated, evt.Type)
	assert.Nil(t, evt.PublishedAt)
	var payload OrderEventPayload
	require.NoError(t, json.Unmarshal([]byte(evt.Payload), &payload))
	assert.Equal(t, order.OrderNo, payload.OrderNo)
	assert.Equal(t, "25.00", payload.TotalPrice.StringFixed(2))

	stored, err := f.svc.Orders.GetOrder(f.ctx, order.ID, 1)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(stored.Subtotal.Sub(stored.DiscountAmount)))
	assert.Equal(t, "Dumplings", stored.Items[0].ProductName)
	assert.Equal(t, "10.00", stored.Items[0].Price.StringFixed(2))
}

func TestCreateOrderWithCoupon(t *testing.T) {
	f := newFixture(t)
	x := f.product(t, "Dumplings", "10.00", nil)
	y := f.product(t, "Spring Roll", "5.00", nil)
	coupon := f.coupon(t, "SAVE10", func(c *model.Coupon) { c.MinimumOrderAmount = dec("20") })
	addr := f.address(t, 1)
	f.addToCart(t, 1, x.ID, 2)
	f.addToCart(t, 1, y.ID, 1)

	order, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, " save10 ")
	require.NoError(t, err)

	assert.Equal(t, "25.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "2.50", order.DiscountAmount.StringFixed(2))
	assert.Equal(t, "22.50", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "SAVE10", order.CouponCode)

	var usage model.CouponUsage
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&usage).Error)
	assert.Equal(t, coupon.ID, usage.CouponID)
	assert.Equal(t, "25.00", usage.OrderAmount.StringFixed(2))
	assert.Equal(t, "2.50", usage.DiscountAmount.StringFixed(2))
	assert.Equal(t, "22.50", usage.FinalAmount.StringFixed(2))

	var reloaded model.Coupon
	require.NoError(t, f.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 1, reloaded.CurrentUsageCount)
}

func TestCreateOrderBelowCouponMinimumHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Noodles", "7.50", intPtr(10))
	coupon := f.coupon(t, "SAVE10", func(c *model.Coupon) { c.MinimumOrderAmount = dec("20") })
	addr := f.address(t, 1)
	f.addToCart(t, 1, p.ID, 2)

	_, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "SAVE10")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "minimum order amount of $20.00")

	assert.EqualValues(t, 0, f.count(t, &model.Order{}))
	assert.EqualValues(t, 0, f.count(t, &model.OrderItem{}))
	assert.EqualValues(t, 0, f.count(t, &model.CouponUsage{}))
	assert.EqualValues(t, 0, f.count(t, &model.OrderEvent{}))
	assert.EqualValues(t, 1, f.count(t, &model.CartItem{}, "user_id = ?", 1))
	assert.Equal(t, 10, f.inventoryQty(t, p.ID))

	var reloaded model.Coupon
	require.NoError(t, f.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 0, reloaded.CurrentUsageCount)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Fried Rice", "8.00", intPtr(3))
	addr := f.address(t, 1)
	// 库存是在加购之后才被其他订单吃掉的，直接写购物车行模拟
	require.NoError(t, f.db.Create(&model.CartItem{UserID: 1, ProductID: p.ID, Quantity: 5, Price: p.Price}).Error)

	_, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "Fried Rice (only 3 available)")

	assert.Equal(t, 3, f.inventoryQty(t, p.ID))
	assert.EqualValues(t, 0, f.count(t, &model.Order{}))
	assert.EqualValues(t, 1, f.count(t, &model.InventoryTransaction{}), "only the opening entry")
}

func TestCreateOrderRejections(t *testing.T) {
	f := newFixture(t)
	soup := f.product(t, "Soup", "4.00", nil)
	tea := f.product(t, "Tea", "2.00", nil)
	addr := f.address(t, 1)

	t.Run("empty cart", func(t *testing.T) {
		_, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, "cart is empty", err.Error())
	})

	t.Run("address of another user", func(t *testing.T) {
		_, err := f.svc.Orders.CreateOrder(f.ctx, 2, addr.ID, "")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("unavailable products are all listed", func(t *testing.T) {
		f.addToCart(t, 1, soup.ID, 1)
		f.addToCart(t, 1, tea.ID, 1)
		require.NoError(t, f.svc.Inventory.SetProductAvailability(f.ctx, soup.ID, false))
		require.NoError(t, f.svc.Inventory.SetProductAvailability(f.ctx, tea.ID, false))

		_, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, "the following products are no longer available: Soup, Tea", err.Error())
		assert.EqualValues(t, 2, f.count(t, &model.CartItem{}, "user_id = ?", 1))
	})

	t.Run("unknown coupon aborts the order", func(t *testing.T) {
		require.NoError(t, f.svc.Inventory.SetProductAvailability(f.ctx, soup.ID, true))
		require.NoError(t, f.svc.Inventory.SetProductAvailability(f.ctx, tea.ID, true))

		_, err := f.svc.Orders.CreateOrder(f.ctx, 1, addr.ID, "NOPE")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.EqualValues(t, 0, f.count(t, &model.Order{}))
	})
}

func TestCreateOrderAutoDisablesAtZero(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Cake", "6.00", intPtr(2))

	order := f.placeOrder(t, 1, map[uint]int{p.ID: 2})

	assert.Equal(t, 0, f.inventoryQty(t, p.ID))
	assert.False(t, f.isAvailable(t, p.ID))

	entries, err := f.svc.Inventory.Transactions(f.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.InventoryTxOrder, entries[1].Type)
	assert.Equal(t, -2, entries[1].QuantityChange)
	assert.Equal(t, 0, entries[1].QuantityAfter)
	require.NotNil(t, entries[1].OrderID)
	assert.Equal(t, order.ID, *entries[1].OrderID)
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Last Pie", "9.00", intPtr(1))

	const buyers = 6
	addrs := make([]uint, buyers)
	for i := 0; i < buyers; i++ {
		uid := int64(100 + i)
		addrs[i] = f.address(t, uid).ID
		f.addToCart(t, uid, p.ID, 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		other   []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Orders.CreateOrder(f.ctx, int64(100+i), addrs[i], "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			other = append(other, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	for _, err := range other {
		assert.True(t, IsValidation(err) || IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 0, f.inventoryQty(t, p.ID))
	assert.EqualValues(t, 1, f.count(t, &model.Order{}))

	check, err := f.svc.Inventory.Reconstruct(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Drift)
}

func TestConcurrentRedemptionRespectsUsageLimit(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Burger", "30.00", nil)
	coupon := f.coupon(t, "ONCE", func(c *model.Coupon) {
		c.DiscountType = model.DiscountFixed
		c.DiscountValue = dec("5")
		c.MaxUsageTotal = intPtr(1)
	})

	const buyers = 5
	addrs := make([]uint, buyers)
	for i := 0; i < buyers; i++ {
		uid := int64(200 + i)
		addrs[i] = f.address(t, uid).ID
		f.addToCart(t, uid, p.ID, 1)
	}

	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Orders.CreateOrder(f.ctx, int64(200+i), addrs[i], "ONCE")
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range results {
		if err == nil {
			success++
			continue
		}
		assert.True(t, IsValidation(err) || IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, success)

	var reloaded model.Coupon
	require.NoError(t, f.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 1, reloaded.CurrentUsageCount)
	assert.EqualValues(t, 1, f.count(t, &model.CouponUsage{}))
}

func TestListOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Bao", "3.00", nil)
	first := f.placeOrder(t, 1, map[uint]int{p.ID: 1})
	second := f.placeOrder(t, 1, map[uint]int{p.ID: 2})
	f.placeOrder(t, 2, map[uint]int{p.ID: 1})

	orders, err := f.svc.Orders.ListOrders(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)
	assert.True(t, orders[0].TotalPrice.Equal(decimal.NewFromInt(6)))

	_, err = f.svc.Orders.GetOrder(f.ctx, first.ID, 2)
	assert.True(t, IsNotFound(err))

	admin, err := f.svc.Orders.GetOrder(f.ctx, first.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, first.OrderNo, admin.OrderNo)
}
