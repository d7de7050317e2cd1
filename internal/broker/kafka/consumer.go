package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/campusmart/internal/realtime"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает сообщения топика и подтверждает их после успешной обработки.
type Consumer struct {
	r      messageReader
	commit bool
}

// NewConsumer создаёт Consumer. С groupID разделы распределяются внутри группы и смещения коммитятся.
// Без groupID читаются новые сообщения всех разделов топика, смещения не коммитятся.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	if groupID == "" {
		return &Consumer{r: newFanInReader(brokers, topic)}
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			GroupTopics:       []string{topic},
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		commit: true,
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, commit: true}
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume обрабатывает сообщения до ошибки чтения или обработчика.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			// без коммита сообщение будет прочитано повторно
			return err
		}
		if !c.commit {
			continue
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// RelayTo возвращает обработчик, который декодирует событие изменения и публикует его в hub.
// Нераспознанные сообщения пропускаются.
func RelayTo(hub *realtime.Hub) func(key, value []byte) error {
	return func(_, value []byte) error {
		var e realtime.Event
		if err := json.Unmarshal(value, &e); err != nil {
			return nil
		}
		return hub.Publish(context.Background(), e)
	}
}
