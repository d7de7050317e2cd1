package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/campusmart/internal/ids"
	"github.com/mmeshcher/campusmart/internal/model"
)

// MobileMoneyRequest описывает запрос оплаты мобильными деньгами.
type MobileMoneyRequest struct {
	OrderID  string
	Phone    string
	Provider model.PaymentMethod
	Amount   int64
}

// Неподтверждённая транзакция забывается через mmTransactionTTL.
const mmTransactionTTL = 30 * time.Minute

type mmTransaction struct {
	orderID string
	amount  int64
	expires time.Time
}

// MobileMoneySimulator имитирует провайдера мобильных денег: выдаёт ссылки транзакций
// и подтверждает их после фиксированной задержки. Реальных сетевых вызовов нет.
// Подтверждённая или просроченная транзакция удаляется.
type MobileMoneySimulator struct {
	delay time.Duration
	now   func() time.Time

	mu  sync.Mutex
	txs map[string]mmTransaction
}

// NewMobileMoneySimulator создаёт симулятор с задержкой подтверждения delay.
func NewMobileMoneySimulator(delay time.Duration) *MobileMoneySimulator {
	return &MobileMoneySimulator{
		delay: delay,
		now:   time.Now,
		txs:   make(map[string]mmTransaction),
	}
}

// Initiate регистрирует транзакцию и возвращает её ссылку и инструкцию для покупателя.
func (s *MobileMoneySimulator) Initiate(_ context.Context, req MobileMoneyRequest) (string, string, error) {
	if !req.Provider.IsMobileMoney() {
		return "", "", fmt.Errorf("unsupported mobile money provider %q", req.Provider)
	}

	ref := ids.MobileMoneyReference(string(req.Provider))

	now := s.now()

	s.mu.Lock()
	for k, tx := range s.txs {
		if now.After(tx.expires) {
			delete(s.txs, k)
		}
	}
	s.txs[ref] = mmTransaction{orderID: req.OrderID, amount: req.Amount, expires: now.Add(mmTransactionTTL)}
	s.mu.Unlock()

	msg := fmt.Sprintf("Payment request sent to %s. Please check your phone to complete the payment.", req.Phone)
	return ref, msg, nil
}

// Verify запрашивает у провайдера статус транзакции. Симулятор выжидает задержку
// и подтверждает любую выданную им транзакцию.
func (s *MobileMoneySimulator) Verify(ctx context.Context, orderID, reference string) (Verified, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Verified{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[reference]
	if !ok || s.now().After(tx.expires) {
		delete(s.txs, reference)
		return Verified{}, ErrUnknownReference
	}
	if tx.orderID != orderID {
		return Verified{}, ErrReferenceMismatch
	}
	delete(s.txs, reference)

	return Verified{
		provider:  ProviderMobileMoney,
		orderID:   orderID,
		reference: reference,
		amount:    tx.amount,
	}, nil
}

// MobileMoneyCallback описывает тело вебхука провайдера мобильных денег.
type MobileMoneyCallback struct {
	EventID   string `json:"event_id"`
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// SignMobileMoneyCallback вычисляет подпись тела вебхука.
func SignMobileMoneyCallback(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseMobileMoneyWebhook проверяет подпись и разбирает вебхук. Для статуса successful
// возвращает подтверждение оплаты, для failed ошибку ErrPaymentFailed вместе с телом вебхука.
func ParseMobileMoneyWebhook(payload []byte, signature, secret string) (Verified, MobileMoneyCallback, error) {
	if secret == "" {
		return Verified{}, MobileMoneyCallback{}, ErrNotConfigured
	}

	expected := SignMobileMoneyCallback(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Verified{}, MobileMoneyCallback{}, ErrInvalidSignature
	}

	var cb MobileMoneyCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Verified{}, MobileMoneyCallback{}, fmt.Errorf("decode callback: %w", err)
	}
	if cb.EventID == "" || cb.OrderID == "" || cb.Reference == "" {
		return Verified{}, cb, fmt.Errorf("%w: incomplete callback", ErrIgnoredEvent)
	}

	switch cb.Status {
	case "successful":
		return Verified{
			provider:  ProviderMobileMoney,
			orderID:   cb.OrderID,
			reference: cb.Reference,
			amount:    cb.Amount,
			eventID:   cb.EventID,
		}, cb, nil
	case "failed":
		return Verified{}, cb, ErrPaymentFailed
	default:
		return Verified{}, cb, fmt.Errorf("%w: status %s", ErrIgnoredEvent, cb.Status)
	}
}
