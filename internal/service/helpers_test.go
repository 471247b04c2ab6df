package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"food_order/internal/model"
	"food_order/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db  *gorm.DB
	svc *Services
	ctx context.Context
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := store.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	svc := New(db)
	svc.Coupons.SetClock(func() time.Time { return testNow })
	return &fixture{db: db, svc: svc, ctx: context.Background()}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func (f *fixture) product(t *testing.T, name, price string, stock *int) *model.Product {
	t.Helper()
	in := ProductInput{Name: name, Price: dec(price)}
	if stock != nil {
		in.Inventory = &InventoryInput{Quantity: *stock}
	}
	p, err := f.svc.Catalog.CreateProduct(f.ctx, in)
	require.NoError(t, err)
	return p
}

func (f *fixture) address(t *testing.T, userID int64) *model.Address {
	t.Helper()
	addr, err := f.svc.Catalog.CreateAddress(f.ctx, userID, AddressInput{Label: "home", City: "Shanghai", Street: "1 Nanjing Rd"})
	require.NoError(t, err)
	return addr
}

func (f *fixture) addToCart(t *testing.T, userID int64, productID uint, qty int) {
	t.Helper()
	_, err := f.svc.Cart.AddItem(f.ctx, userID, productID, qty)
	require.NoError(t, err)
}

// coupon 建一张当前有效、每人限一次的券，mutate 用来覆盖个别字段。
func (f *fixture) coupon(t *testing.T, code string, mutate func(c *model.Coupon), allowed ...int64) *model.Coupon {
	t.Helper()
	c := &model.Coupon{
		Code:               code,
		DiscountType:       model.DiscountPercentage,
		DiscountValue:      dec("10"),
		MinimumOrderAmount: decimal.Zero,
		MaxUsagePerUser:    1,
		ValidFrom:          testNow.Add(-24 * time.Hour),
		ValidUntil:         testNow.Add(24 * time.Hour),
		IsActive:           true,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.svc.Coupons.Create(f.ctx, c, allowed))
	return c
}

func (f *fixture) count(t *testing.T, m any, where ...any) int64 {
	t.Helper()
	q := f.db.Model(m)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	var n int64
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (f *fixture) inventoryQty(t *testing.T, productID uint) int {
	t.Helper()
	inv, err := f.svc.Inventory.Get(f.ctx, productID)
	require.NoError(t, err)
	return inv.Quantity
}

func (f *fixture) isAvailable(t *testing.T, productID uint) bool {
	t.Helper()
	var p model.Product
	require.NoError(t, f.db.First(&p, productID).Error)
	return p.IsAvailable
}

// placeOrder 给用户建地址、加购并下单。
func (f *fixture) placeOrder(t *testing.T, userID int64, lines map[uint]int) *model.Order {
	t.Helper()
	addr := f.address(t, userID)
	for pid, qty := range lines {
		f.addToCart(t, userID, pid, qty)
	}
	order, err := f.svc.Orders.CreateOrder(f.ctx, userID, addr.ID, "")
	require.NoError(t, err)
	return order
}
