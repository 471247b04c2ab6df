package model

import "time"

// OrderEventType 发往 Kafka 的订单事件类型。
type OrderEventType string

const (
	EventOrderCreated              OrderEventType = "order.created"
	EventOrderStatusChanged        OrderEventType = "order.status_changed"
	EventOrderPaymentStatusChanged OrderEventType = "order.payment_status_changed"
)

// OrderEvent outbox 表：和业务变更在同一事务里写入，由 queue.Relay 异步投递到 Kafka。
// PublishedAt 为空表示未投递。
type OrderEvent struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	OrderID     uint           `gorm:"not null;index" json:"order_id"`
	OrderNo     string         `gorm:"size:64;not null" json:"order_no"`
	Type        OrderEventType `gorm:"size:40;not null" json:"type"`
	Payload     string         `gorm:"type:text;not null" json:"payload"`
	PublishedAt *time.Time     `gorm:"index" json:"published_at"`
}

func (OrderEvent) TableName() string { return "order_events" }
