// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"github.com/joeczar/vacay-photo-map-sub003/internal/config"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/tasks"
	"github.com/segmentio/kafka-go"
)

// EventProducer 抽象了事件发布操作，业务层通过它向下游广播
// 照片处理完成与行程发布事件。
type EventProducer interface {
	ProducePhotoProcessed(ctx context.Context, event tasks.PhotoProcessedEvent) error
	ProduceTripPublished(ctx context.Context, event tasks.TripPublishedEvent) error
}

// Producer 是 EventProducer 的 kafka-go 实现。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: writer}
}

// ProducePhotoProcessed 发送一条照片处理完成事件。
func (p *Producer) ProducePhotoProcessed(ctx context.Context, event tasks.PhotoProcessedEvent) error {
	return p.produce(ctx, "photo.processed", event)
}

// ProduceTripPublished 发送一条行程发布事件。
func (p *Producer) ProduceTripPublished(ctx context.Context, event tasks.TripPublishedEvent) error {
	return p.produce(ctx, "trip.published", event)
}

// produce 将事件序列化为 JSON 并写入主题，消息 key 为事件类型。
func (p *Producer) produce(ctx context.Context, eventType string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: value,
	})
}

// Close 关闭底层的 Kafka writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}
