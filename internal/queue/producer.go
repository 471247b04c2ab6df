package queue

import (
	"context"
	"strconv"
	"time"

	"food_order/internal/model"

	"github.com/segmentio/kafka-go"
)

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key: 同一订单号落到同一分区，保证单个订单的事件有序。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条订单事件。消息体就是 outbox 里的 payload，key 为订单号。
func (p *Producer) Publish(ctx context.Context, evt model.OrderEvent) error {
	return p.w.WriteMessages(ctx, eventMessage(evt))
}

func eventMessage(evt model.OrderEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(evt.OrderNo),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(strconv.FormatUint(uint64(evt.ID), 10))},
		},
	}
}
