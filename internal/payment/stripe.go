package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const metadataOrderID = "orderId"

// SessionRequest описывает запрос платёжной сессии провайдера.
type SessionRequest struct {
	OrderID     string
	OrderNumber string
	UserID      string
	Amount      int64
	Currency    string
}

// Session описывает платёжную сессию, созданную провайдером.
type Session struct {
	ID           string
	ClientSecret string
}

// IntentAPI покрывает методы клиента Stripe для PaymentIntent.
type IntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider создаёт PaymentIntent и проверяет его статус на стороне сервера.
type StripeProvider struct {
	intents IntentAPI
}

// NewStripeProvider создаёт провайдера с секретным ключом Stripe.
func NewStripeProvider(secretKey string) *StripeProvider {
	sc := client.New(secretKey, nil)
	return &StripeProvider{intents: sc.PaymentIntents}
}

// NewStripeProviderWithAPI создаёт провайдера поверх готового клиента PaymentIntent.
func NewStripeProviderWithAPI(api IntentAPI) *StripeProvider {
	return &StripeProvider{intents: api}
}

// CreateSession создаёт PaymentIntent на сумму заказа.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if p == nil || p.intents == nil {
		return Session{}, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, req.OrderID)
	params.AddMetadata("orderNumber", req.OrderNumber)
	params.AddMetadata("userId", req.UserID)

	pi, err := p.intents.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create payment intent: %w", err)
	}

	return Session{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// Verify запрашивает PaymentIntent у Stripe и подтверждает оплату только при статусе succeeded.
func (p *StripeProvider) Verify(ctx context.Context, orderID, intentID string) (Verified, error) {
	if p == nil || p.intents == nil {
		return Verified{}, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.intents.Get(intentID, params)
	if err != nil {
		return Verified{}, fmt.Errorf("get payment intent: %w", err)
	}

	return verifiedFromIntent(pi, orderID, "")
}

func verifiedFromIntent(pi *stripe.PaymentIntent, orderID, eventID string) (Verified, error) {
	if orderID != "" && pi.Metadata[metadataOrderID] != orderID {
		return Verified{}, ErrReferenceMismatch
	}
	if pi.Metadata[metadataOrderID] == "" {
		return Verified{}, fmt.Errorf("%w: intent %s has no order", ErrIgnoredEvent, pi.ID)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Verified{
			provider:  ProviderStripe,
			orderID:   pi.Metadata[metadataOrderID],
			reference: pi.ID,
			amount:    pi.Amount,
			eventID:   eventID,
		}, nil
	case stripe.PaymentIntentStatusCanceled:
		return Verified{}, ErrPaymentFailed
	default:
		return Verified{}, fmt.Errorf("%w: intent status %s", ErrNotSettled, pi.Status)
	}
}

// ParseStripeWebhook проверяет подпись вебхука Stripe и возвращает подтверждение оплаты
// для события payment_intent.succeeded.
func ParseStripeWebhook(payload []byte, signatureHeader, secret string) (Verified, error) {
	if secret == "" {
		return Verified{}, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Verified{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != "payment_intent.succeeded" {
		return Verified{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}
	if event.Data == nil {
		return Verified{}, fmt.Errorf("%w: empty event data", ErrIgnoredEvent)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return Verified{}, fmt.Errorf("decode payment intent: %w", err)
	}

	return verifiedFromIntent(&pi, "", event.ID)
}
