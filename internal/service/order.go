package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"food_order/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderAssembler 把购物车快照在一个事务里变成订单：订单、明细、扣库存、用券记录、清空购物车。
// 任一步失败整体回滚，不会出现半成品订单。
type OrderAssembler struct {
	db        *gorm.DB
	coupons   *CouponEngine
	inventory *InventoryLedger
}

func NewOrderAssembler(db *gorm.DB, coupons *CouponEngine, inventory *InventoryLedger) *OrderAssembler {
	return &OrderAssembler{db: db, coupons: coupons, inventory: inventory}
}

func newOrderNo() string {
	return "FO" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}

// CreateOrder 下单。couponCode 为空表示不用券；券校验失败直接拒绝下单，不会静默降级为无折扣。
func (a *OrderAssembler) CreateOrder(ctx context.Context, userID int64, addressID uint, couponCode string) (*model.Order, error) {
	var order *model.Order
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := a.assemble(tx, userID, addressID, couponCode)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return order, nil
}

func (a *OrderAssembler) assemble(tx *gorm.DB, userID int64, addressID uint, couponCode string) (*model.Order, error) {
	// 1. 地址必须属于当前用户
	addr, err := lockAddress(tx, userID, addressID)
	if err != nil {
		return nil, err
	}

	// 2. 购物车快照
	var lines []model.CartItem
	if err := tx.Preload("Product").Preload("Product.Inventory").
		Where("user_id = ?", userID).Order("id").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, validationf("cart is empty")
	}

	// 3. 不可售商品一次性全部列出
	var unavailable []string
	for _, l := range lines {
		if l.Product == nil {
			unavailable = append(unavailable, fmt.Sprintf("product #%d", l.ProductID))
		} else if !l.Product.IsAvailable {
			unavailable = append(unavailable, l.Product.Name)
		}
	}
	if len(unavailable) > 0 {
		return nil, validationf("the following products are no longer available: %s", strings.Join(unavailable, ", "))
	}

	// 4. 库存不足同样全部列出；真正的扣减在 7c 里再做一次带锁的条件更新
	var shortfalls []string
	for _, l := range lines {
		if inv := l.Product.Inventory; inv != nil && inv.Quantity < l.Quantity {
			shortfalls = append(shortfalls, fmt.Sprintf("%s (only %d available)", l.Product.Name, inv.Quantity))
		}
	}
	if len(shortfalls) > 0 {
		return nil, validationf("insufficient stock: %s", strings.Join(shortfalls, ", "))
	}

	// 5. 小计按加入购物车时的价格快照计算
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal())
	}

	// 6. 用券
	var discount *DiscountResult
	if NormalizeCode(couponCode) != "" {
		res, err := a.coupons.validate(tx, couponCode, userID, subtotal, true)
		if err != nil {
			return nil, err
		}
		discount = &res
	}

	// 7a. 订单 + 初始状态历史
	order := &model.Order{
		OrderNo:        newOrderNo(),
		UserID:         userID,
		AddressID:      addr.ID,
		Subtotal:       subtotal,
		DiscountAmount: decimal.Zero,
		TotalPrice:     subtotal,
		Status:         model.OrderStatusPending,
		PaymentStatus:  model.PaymentStatusPending,
	}
	if discount != nil {
		order.DiscountAmount = discount.DiscountAmount
		order.TotalPrice = discount.FinalAmount
		order.CouponCode = discount.CouponCode
	}
	if err := tx.Create(order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	initial := model.OrderStatusHistory{OrderID: order.ID, Status: order.Status}
	if err := tx.Create(&initial).Error; err != nil {
		return nil, fmt.Errorf("create order history: %w", err)
	}

	// 7b. 明细快照
	items := make([]model.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, model.OrderItem{
			OrderID:     order.ID,
			ProductID:   l.ProductID,
			ProductName: l.Product.Name,
			Price:       l.Price,
			Quantity:    l.Quantity,
		})
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, fmt.Errorf("create order items: %w", err)
	}

	// 7c. 扣库存
	for _, l := range lines {
		if err := a.inventory.ReserveAndDecrement(tx, l.ProductID, l.Quantity, order.ID); err != nil {
			return nil, err
		}
	}

	// 7d. 用券记录 + 条件自增
	if discount != nil {
		usage := model.CouponUsage{
			CouponID:       discount.Coupon.ID,
			UserID:         userID,
			OrderID:        order.ID,
			UsedAt:         a.coupons.now(),
			OrderAmount:    discount.OrderAmount,
			DiscountAmount: discount.DiscountAmount,
			FinalAmount:    discount.FinalAmount,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return nil, fmt.Errorf("create coupon usage: %w", err)
		}
		if err := a.coupons.IncrementUsage(tx, discount.Coupon.ID); err != nil {
			return nil, err
		}
	}

	// 7e. 清空快照里的购物车行；删除条数对不上说明购物车被并发修改
	ids := make([]uint, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ID)
	}
	res := tx.Where("user_id = ? AND id IN ?", userID, ids).Delete(&model.CartItem{})
	if res.Error != nil {
		return nil, fmt.Errorf("clear cart: %w", res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return nil, conflictf("cart changed during checkout, please retry")
	}

	if err := recordEvent(tx, order, model.EventOrderCreated, ""); err != nil {
		return nil, err
	}

	order.Items = items
	order.History = []model.OrderStatusHistory{initial}
	return order, nil
}

// GetOrder 查询订单（含明细与状态历史）。userID 为 0 表示后台查询，不做归属校验。
func (a *OrderAssembler) GetOrder(ctx context.Context, orderID uint, userID int64) (*model.Order, error) {
	q := a.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", orderID)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}

	var order model.Order
	if err := q.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("order %d not found", orderID)
		}
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// ListOrders 用户的订单列表，新的在前。
func (a *OrderAssembler) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	var orders []model.Order
	err := a.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
