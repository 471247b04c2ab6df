package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"food_order/internal/model"

	"gorm.io/gorm"
)

// Publisher 发布一条订单事件；*Producer 是生产实现。
type Publisher interface {
	Publish(ctx context.Context, evt model.OrderEvent) error
}

// Relay 轮询 outbox 表，把未投递的事件按写入顺序转发到 Kafka。
// 语义：发布成功后才标记 published_at，失败则停在这一条，下一轮重试（至少一次）。
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewRelay(db *gorm.DB, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run 阻塞直到 ctx 取消。
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("relay order events", "error", err, "published", n)
		}
		// 一批发满说明还有积压，不等下一个 tick
		if err == nil && n == r.batchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce 处理一批未投递事件，返回成功发布的条数。
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var events []model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("id").
		Limit(r.batchSize).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}

	published := 0
	for _, evt := range events {
		if err := validateEvent(evt); err != nil {
			// 脏数据直接标记掉，避免阻塞后续事件
			r.logger.Warn("skip malformed order event", "event_id", evt.ID, "error", err)
		} else {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := r.publisher.Publish(pubCtx, evt)
			cancel()
			if err != nil {
				return published, fmt.Errorf("publish event %d: %w", evt.ID, err)
			}
		}

		now := time.Now().UTC()
		if err := r.db.WithContext(ctx).Model(&model.OrderEvent{}).
			Where("id = ? AND published_at IS NULL", evt.ID).
			Update("published_at", now).Error; err != nil {
			return published, fmt.Errorf("mark event %d published: %w", evt.ID, err)
		}
		published++
	}
	return published, nil
}
