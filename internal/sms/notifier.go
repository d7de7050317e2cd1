package sms

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// Notifier отправляет уведомления в фоне: сбой отправки логируется и не влияет на вызывающего.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

// NewNotifier создаёт Notifier. При nil sender уведомления не отправляются.
func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, logger: logger}
}

// Notify ставит сообщение в отправку и сразу возвращает управление.
func (n *Notifier) Notify(phone, message string) {
	if n == nil || n.sender == nil || phone == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := n.sender.Send(ctx, phone, message); err != nil {
			n.logger.Warn("sms notification failed", zap.String("phone", phone), zap.Error(err))
			return
		}
		n.logger.Debug("sms notification sent", zap.String("phone", phone))
	}()
}
