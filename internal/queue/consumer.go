package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"food_order/internal/model"
	"food_order/internal/service"

	"github.com/segmentio/kafka-go"
)

// StatusUpdater 由 service.OrderLifecycle 实现。
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID uint, target string) (*model.Order, error)
}

// Consumer 消费状态指令并交给订单状态机处理。
type Consumer struct {
	r       *kafka.Reader
	updater StatusUpdater
	logger  *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, updater StatusUpdater, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
		}),
		updater: updater,
		logger:  logger,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 阻塞直到 ctx 取消或 reader 关闭。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := handleStatusCommand(ctx, c.updater, m.Value); err != nil {
			c.logger.Warn("drop status command",
				"partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

const maxCommandAttempts = 3

// handleStatusCommand 解析并执行一条指令。
// 并发冲突重试几次；其余业务拒绝（非法流转、订单不存在）直接返回错误由调用方记录。
// 重复指令是同状态空操作，天然幂等。
func handleStatusCommand(ctx context.Context, updater StatusUpdater, value []byte) error {
	var cmd StatusCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		return fmt.Errorf("unmarshal status command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		_, err := updater.UpdateStatus(ctx, cmd.OrderID, cmd.Status)
		if err == nil {
			return nil
		}
		if service.IsConflict(err) && attempt < maxCommandAttempts && ctx.Err() == nil {
			continue
		}
		return fmt.Errorf("order %d -> %s: %w", cmd.OrderID, cmd.Status, err)
	}
}
