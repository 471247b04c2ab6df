package service

import (
	"encoding/json"
	"fmt"
	"time"

	"food_order/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderEventPayload outbox 里存的事件内容，relay 原样作为 Kafka 消息体发出。
type OrderEventPayload struct {
	EventType      model.OrderEventType `json:"event_type"`
	OrderID        uint                 `json:"order_id"`
	OrderNo        string               `json:"order_no"`
	UserID         int64                `json:"user_id"`
	Status         model.OrderStatus    `json:"status"`
	PreviousStatus model.OrderStatus    `json:"previous_status,omitempty"`
	PaymentStatus  model.PaymentStatus  `json:"payment_status"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	TotalPrice     decimal.Decimal      `json:"total_price"`
	CouponCode     string               `json:"coupon_code,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// recordEvent 在当前事务里写一条 outbox 事件，和业务变更同提交同回滚。
func recordEvent(tx *gorm.DB, order *model.Order, typ model.OrderEventType, previous model.OrderStatus) error {
	payload := OrderEventPayload{
		EventType:      typ,
		OrderID:        order.ID,
		OrderNo:        order.OrderNo,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentStatus:  order.PaymentStatus,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TotalPrice:     order.TotalPrice,
		CouponCode:     order.CouponCode,
		OccurredAt:     time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}

	evt := model.OrderEvent{
		OrderID: order.ID,
		OrderNo: order.OrderNo,
		Type:    typ,
		Payload: string(body),
	}
	if err := tx.Create(&evt).Error; err != nil {
		return fmt.Errorf("write %s event: %w", typ, err)
	}
	return nil
}
