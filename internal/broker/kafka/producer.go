// Package kafka переносит события изменений между экземплярами сервиса через Kafka.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/campusmart/internal/realtime"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer публикует сообщения в Kafka.
type Producer struct {
	w messageWriter
}

// NewProducer создаёт Producer для списка брокеров.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

// Publish записывает одно сообщение в topic.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// Close закрывает writer, если он это поддерживает.
func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// ChangePublisher публикует события изменений в топик с ключом table:id.
type ChangePublisher struct {
	p     *Producer
	topic string
}

// NewChangePublisher создаёт ChangePublisher поверх Producer.
func NewChangePublisher(p *Producer, topic string) *ChangePublisher {
	return &ChangePublisher{p: p, topic: topic}
}

// Publish сериализует событие в JSON и отправляет его.
func (c *ChangePublisher) Publish(ctx context.Context, e realtime.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal change event")
	}
	return c.p.Publish(ctx, c.topic, []byte(e.Table+":"+e.ID), value)
}
