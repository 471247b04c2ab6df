package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"food_order/internal/model"
	"food_order/internal/store"

	"gorm.io/gorm"
)

// transitions 订单状态机：当前状态 → 允许的目标状态。终态没有出边。
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:   {model.OrderStatusPreparing, model.OrderStatusCancelled},
	model.OrderStatusPreparing: {model.OrderStatusOnTheWay, model.OrderStatusCancelled},
	model.OrderStatusOnTheWay:  {model.OrderStatusDelivered, model.OrderStatusCancelled},
	model.OrderStatusDelivered: {},
	model.OrderStatusCancelled: {},
}

// AllowedTransitions 返回 from 可以流转到的状态（不含自身）。
func AllowedTransitions(from model.OrderStatus) []model.OrderStatus {
	return transitions[from]
}

// CanTransition 目标在表内，或与当前状态相同（空操作）时为 true。
func CanTransition(from, to model.OrderStatus) bool {
	if _, ok := transitions[from]; !ok {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus 校验外部传入的目标状态，未知值返回 ValidationError 并列出全部合法值。
func ParseStatus(s string) (model.OrderStatus, error) {
	st, ok := model.ParseOrderStatus(strings.TrimSpace(s))
	if !ok {
		names := make([]string, 0, len(model.OrderStatuses))
		for _, v := range model.OrderStatuses {
			names = append(names, string(v))
		}
		return "", validationf("invalid status %q, must be one of: %s", s, strings.Join(names, ", "))
	}
	return st, nil
}

// OrderLifecycle 负责订单状态流转、取消回补库存以及状态审计历史。
type OrderLifecycle struct {
	db        *gorm.DB
	inventory *InventoryLedger
}

func NewOrderLifecycle(db *gorm.DB, inventory *InventoryLedger) *OrderLifecycle {
	return &OrderLifecycle{db: db, inventory: inventory}
}

func loadOrderForUpdate(tx *gorm.DB, orderID uint) (*model.Order, error) {
	var order model.Order
	if err := store.ForUpdate(tx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("order %d not found", orderID)
		}
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// UpdateStatus 后台/外部系统推进订单状态。
// 目标与当前相同时直接成功，不写库也不追加历史。
// 注意：直接改成 cancelled 不会回补库存，取消请走 CancelOrder。
func (l *OrderLifecycle) UpdateStatus(ctx context.Context, orderID uint, target string) (*model.Order, error) {
	to, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status == to {
			return nil
		}
		if !CanTransition(o.Status, to) {
			return validationf("cannot transition from '%s' to '%s'", o.Status, to)
		}
		return transition(tx, o, to)
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return order, nil
}

// CancelOrder 用户取消自己的订单：回补有库存记录的商品并记为 cancelled，全部在一个事务内。
func (l *OrderLifecycle) CancelOrder(ctx context.Context, orderID uint, userID int64) (*model.Order, error) {
	var order *model.Order
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return validationf("order %d does not belong to you", orderID)
		}
		if o.Status.IsTerminal() {
			return validationf("cannot cancel order with status '%s'", o.Status)
		}

		var items []model.OrderItem
		if err := tx.Where("order_id = ?", o.ID).Order("id").Find(&items).Error; err != nil {
			return fmt.Errorf("load order items: %w", err)
		}
		for _, it := range items {
			if err := l.inventory.Restore(tx, it.ProductID, it.Quantity, o.ID); err != nil {
				return err
			}
		}

		if err := transition(tx, o, model.OrderStatusCancelled); err != nil {
			return err
		}
		o.Items = items
		order = o
		return nil
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return order, nil
}

// transition 条件更新状态（WHERE status = 旧状态），追加一条历史和一条 outbox 事件。
func transition(tx *gorm.DB, order *model.Order, to model.OrderStatus) error {
	from := order.Status
	res := tx.Model(&model.Order{}).
		Where("id = ? AND status = ?", order.ID, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update order %d status: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return conflictf("order %d status changed concurrently, please retry", order.ID)
	}
	order.Status = to

	if err := tx.Create(&model.OrderStatusHistory{OrderID: order.ID, Status: to}).Error; err != nil {
		return fmt.Errorf("append order history: %w", err)
	}
	return recordEvent(tx, order, model.EventOrderStatusChanged, from)
}

// UpdatePaymentStatus 记录支付状态（pending / paid / failed），不对接支付网关。
func (l *OrderLifecycle) UpdatePaymentStatus(ctx context.Context, orderID uint, target string) (*model.Order, error) {
	to, ok := model.ParsePaymentStatus(strings.TrimSpace(target))
	if !ok {
		return nil, validationf("invalid payment status %q, must be one of: pending, paid, failed", target)
	}

	var order *model.Order
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.PaymentStatus == to {
			return nil
		}
		res := tx.Model(&model.Order{}).
			Where("id = ? AND payment_status = ?", o.ID, o.PaymentStatus).
			Update("payment_status", to)
		if res.Error != nil {
			return fmt.Errorf("update order %d payment status: %w", o.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictf("order %d payment status changed concurrently, please retry", o.ID)
		}
		o.PaymentStatus = to
		return recordEvent(tx, o, model.EventOrderPaymentStatusChanged, "")
	})
	if err != nil {
		return nil, translateTxError(err)
	}
	return order, nil
}

// History 订单状态历史，按写入顺序。userID 为 0 表示后台查询。
func (l *OrderLifecycle) History(ctx context.Context, orderID uint, userID int64) ([]model.OrderStatusHistory, error) {
	db := l.db.WithContext(ctx)

	q := db.Model(&model.Order{}).Where("id = ?", orderID)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if n == 0 {
		return nil, notFoundf("order %d not found", orderID)
	}

	var rows []model.OrderStatusHistory
	if err := db.Where("order_id = ?", orderID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load order %d history: %w", orderID, err)
	}
	return rows, nil
}
