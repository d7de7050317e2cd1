// Package payment содержит интеграции с платёжными провайдерами и проверку подтверждений оплаты.
//
// Подтверждённая оплата представлена типом Verified. Его значения создаются только функциями
// этого пакета после проверки у провайдера или проверки подписи вебхука, поэтому отметить заказ
// оплаченным по одному лишь утверждению клиента невозможно.
package payment

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/campusmart/internal/authz"
)

var (
	// ErrReferenceMismatch возвращается, если ссылка платежа не совпадает с сохранённой в заказе.
	ErrReferenceMismatch = errors.New("payment reference does not match order")
	// ErrNotSettled возвращается, если провайдер ещё не подтвердил платёж.
	ErrNotSettled = errors.New("payment is not settled")
	// ErrPaymentFailed возвращается, если провайдер сообщил об отказе в оплате.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrUnknownReference возвращается, если провайдер не знает ссылку платежа.
	ErrUnknownReference = errors.New("unknown payment reference")
	// ErrInvalidSignature возвращается при неверной подписи вебхука.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrIgnoredEvent возвращается для событий вебхука, не влияющих на оплату.
	ErrIgnoredEvent = errors.New("ignored webhook event")
	// ErrNotConfigured возвращается, если провайдер не настроен.
	ErrNotConfigured = errors.New("payment provider not configured")
)

// Provider обозначает источник подтверждения оплаты.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderMobileMoney Provider = "mobile_money"
	ProviderCash        Provider = "cash"
)

// Verified описывает подтверждённую провайдером оплату заказа.
type Verified struct {
	provider  Provider
	orderID   string
	reference string
	amount    int64
	eventID   string
}

// Provider возвращает источник подтверждения.
func (v Verified) Provider() Provider { return v.provider }

// OrderID возвращает идентификатор оплаченного заказа.
func (v Verified) OrderID() string { return v.orderID }

// Reference возвращает ссылку платежа у провайдера.
func (v Verified) Reference() string { return v.reference }

// Amount возвращает подтверждённую сумму.
func (v Verified) Amount() int64 { return v.amount }

// EventID возвращает идентификатор события вебхука, если подтверждение пришло вебхуком.
func (v Verified) EventID() string { return v.eventID }

// IsZero сообщает, что значение не было создано проверкой.
func (v Verified) IsZero() bool { return v.provider == "" }

// CashSettlement фиксирует получение наличных при доставке. Требует права обновления статуса доставки.
func CashSettlement(actor authz.Actor, orderID string, amount int64) (Verified, error) {
	if err := authz.Require(actor, authz.UpdateDeliveryStatus); err != nil {
		return Verified{}, err
	}
	if orderID == "" || amount <= 0 {
		return Verified{}, fmt.Errorf("cash settlement: invalid order or amount")
	}
	return Verified{
		provider:  ProviderCash,
		orderID:   orderID,
		reference: "cash:" + actor.UserID,
		amount:    amount,
	}, nil
}
