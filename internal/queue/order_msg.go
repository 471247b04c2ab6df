package queue

import (
	"fmt"

	"food_order/internal/model"
)

// StatusCommand 后厨/配送系统通过 Kafka 推送的状态指令。
type StatusCommand struct {
	OrderID uint   `json:"order_id"`
	Status  string `json:"status"`
	// Source 仅用于日志，如 kitchen / courier
	Source string `json:"source,omitempty"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。状态值本身由 OrderLifecycle 校验。
func (m StatusCommand) Validate() error {
	if m.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// validateEvent 发布前检查 outbox 行是否完整。
func validateEvent(evt model.OrderEvent) error {
	if evt.ID == 0 {
		return fmt.Errorf("event id is required")
	}
	if evt.OrderNo == "" {
		return fmt.Errorf("event %d: order_no is required", evt.ID)
	}
	if evt.Type == "" {
		return fmt.Errorf("event %d: type is required", evt.ID)
	}
	if evt.Payload == "" {
		return fmt.Errorf("event %d: payload is required", evt.ID)
	}
	return nil
}
