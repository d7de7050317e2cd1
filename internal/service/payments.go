package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/payment"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

// CardPaymentSession содержит данные для завершения оплаты картой на клиенте.
type CardPaymentSession struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// MobileMoneyInput описывает запрос оплаты мобильными деньгами.
type MobileMoneyInput struct {
	OrderID  string              `json:"orderId"`
	Phone    string              `json:"phoneNumber"`
	Provider model.PaymentMethod `json:"provider"`
}

// MobileMoneyInitiation описывает ответ на запрос оплаты мобильными деньгами.
type MobileMoneyInitiation struct {
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

func (s *Service) ownOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (s *Service) allow(ctx context.Context, key string) error {
	if s.opts.Limiter == nil {
		return nil
	}
	ok, _, err := s.opts.Limiter.Allow(ctx, key, paymentRateLimit, paymentRateWindow)
	if err != nil {
		// ограничитель недоступен, запрос пропускается
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// storeReference сохраняет ссылку платёжной сессии в заказе, пока он не оплачен.
func (s *Service) storeReference(ctx context.Context, orderID, reference string) error {
	_, _, err := s.repo.TransitionOrder(ctx, orderID, func(st *repository.OrderState) (bool, error) {
		o := &st.Order
		if o.PaymentStatus == model.PaymentStatusPaid {
			return false, ErrAlreadyPaid
		}
		if o.Status == model.OrderStatusCancelled {
			return false, fmt.Errorf("%w: order cancelled", lifecycle.ErrInvalidTransition)
		}
		if o.PaymentStatus == model.PaymentStatusFailed {
			next, err := lifecycle.NextPaymentStatus(o.PaymentStatus, model.PaymentStatusPending)
			if err != nil {
				return false, err
			}
			o.PaymentStatus = next
		}
		o.PaymentReference = reference
		return true, nil
	})
	return err
}

// CreateCardPayment создаёт платёжную сессию на сумму заказа и запоминает её идентификатор.
func (s *Service) CreateCardPayment(ctx context.Context, userID, orderID string) (*CardPaymentSession, error) {
	if _, err := s.require(ctx, userID, authz.PlaceOrders); err != nil {
		return nil, err
	}
	o, err := s.ownOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != model.PaymentMethodCard {
		return nil, ErrPaymentMethodMismatch
	}
	if o.PaymentStatus == model.PaymentStatusPaid {
		return nil, ErrAlreadyPaid
	}
	if s.opts.Card == nil {
		return nil, payment.ErrNotConfigured
	}

	session, err := s.opts.Card.CreateSession(ctx, payment.SessionRequest{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      userID,
		Amount:      o.Total,
		Currency:    s.opts.Currency,
	})
	if err != nil {
		return nil, err
	}

	if err := s.storeReference(ctx, o.ID, session.ID); err != nil {
		return nil, err
	}

	return &CardPaymentSession{ClientSecret: session.ClientSecret, PaymentIntentID: session.ID}, nil
}

// ConfirmCardPayment подтверждает оплату картой после проверки платежа у провайдера.
// Идентификатор платежа должен совпадать с сохранённым в заказе.
func (s *Service) ConfirmCardPayment(ctx context.Context, userID, orderID, intentID string) (*model.Order, error) {
	if _, err := s.require(ctx, userID, authz.PlaceOrders); err != nil {
		return nil, err
	}
	o, err := s.ownOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != model.PaymentMethodCard {
		return nil, ErrPaymentMethodMismatch
	}
	if o.PaymentStatus == model.PaymentStatusPaid {
		return o, nil
	}
	if intentID == "" || o.PaymentReference != intentID {
		return nil, payment.ErrReferenceMismatch
	}
	if s.opts.Card == nil {
		return nil, payment.ErrNotConfigured
	}

	v, err := s.opts.Card.Verify(ctx, o.ID, intentID)
	if err != nil {
		return nil, err
	}

	paid, _, err := s.applyVerifiedPayment(ctx, v, nil)
	return paid, err
}

// InitiateMobileMoney запрашивает у провайдера оплату мобильными деньгами.
func (s *Service) InitiateMobileMoney(ctx context.Context, userID string, in MobileMoneyInput) (*MobileMoneyInitiation, error) {
	if _, err := s.require(ctx, userID, authz.PlaceOrders); err != nil {
		return nil, err
	}
	if err := validation.ValidatePhone(in.Phone); err != nil {
		return nil, err
	}
	if !in.Provider.IsMobileMoney() {
		return nil, validation.Field("provider", "unsupported mobile money provider")
	}
	if err := s.allow(ctx, "rl:mm:"+userID); err != nil {
		return nil, err
	}

	o, err := s.ownOrder(ctx, userID, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != in.Provider {
		return nil, ErrPaymentMethodMismatch
	}
	if o.PaymentStatus == model.PaymentStatusPaid {
		return nil, ErrAlreadyPaid
	}
	if s.opts.MobileMoney == nil {
		return nil, payment.ErrNotConfigured
	}

	ref, msg, err := s.opts.MobileMoney.Initiate(ctx, payment.MobileMoneyRequest{
		OrderID:  o.ID,
		Phone:    validation.NormalizePhone(in.Phone),
		Provider: in.Provider,
		Amount:   o.Total,
	})
	if err != nil {
		return nil, err
	}

	if err := s.storeReference(ctx, o.ID, ref); err != nil {
		return nil, err
	}

	return &MobileMoneyInitiation{TransactionID: ref, Message: msg}, nil
}

// VerifyMobileMoney запрашивает у провайдера статус транзакции и отмечает заказ оплаченным.
// Повторная проверка оплаченного заказа ничего не меняет.
func (s *Service) VerifyMobileMoney(ctx context.Context, userID, orderID, reference string) (*model.Order, error) {
	if _, err := s.require(ctx, userID, authz.PlaceOrders); err != nil {
		return nil, err
	}
	o, err := s.ownOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.PaymentMethod.IsMobileMoney() {
		return nil, ErrPaymentMethodMismatch
	}
	if o.PaymentStatus == model.PaymentStatusPaid {
		return o, nil
	}
	if reference == "" || o.PaymentReference != reference {
		return nil, payment.ErrReferenceMismatch
	}
	if s.opts.MobileMoney == nil {
		return nil, payment.ErrNotConfigured
	}
	if err := s.allow(ctx, "rl:mm:"+userID); err != nil {
		return nil, err
	}

	if s.opts.Locker != nil {
		lock, ok, err := s.opts.Locker.TryLock(ctx, "lock:mm-verify:"+orderID, verifyLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("verify lock unavailable", zap.Error(err))
		case !ok:
			return nil, ErrVerificationInProgress
		default:
			defer func() {
				if err := s.opts.Locker.Unlock(context.WithoutCancel(ctx), lock); err != nil {
					s.logger.Warn("release verify lock failed", zap.Error(err))
				}
			}()
		}
	}

	v, err := s.opts.MobileMoney.Verify(ctx, o.ID, reference)
	if err != nil {
		return nil, err
	}

	paid, _, err := s.applyVerifiedPayment(ctx, v, nil)
	return paid, err
}

// HandleStripeWebhook обрабатывает подписанное уведомление Stripe.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	v, err := payment.ParseStripeWebhook(payload, signature, s.opts.StripeWebhookSecret)
	if err != nil {
		if errors.Is(err, payment.ErrIgnoredEvent) {
			return nil
		}
		return err
	}

	return s.applyWebhookPayment(ctx, v, string(payment.ProviderStripe))
}

// HandleMobileMoneyWebhook обрабатывает подписанное уведомление провайдера мобильных денег.
func (s *Service) HandleMobileMoneyWebhook(ctx context.Context, payload []byte, signature string) error {
	v, cb, err := payment.ParseMobileMoneyWebhook(payload, signature, s.opts.MobileMoneyWebhookSecret)
	switch {
	case err == nil:
		return s.applyWebhookPayment(ctx, v, string(payment.ProviderMobileMoney))
	case errors.Is(err, payment.ErrPaymentFailed):
		return s.markPaymentFailed(ctx, cb)
	case errors.Is(err, payment.ErrIgnoredEvent):
		return nil
	default:
		return err
	}
}

func (s *Service) applyWebhookPayment(ctx context.Context, v payment.Verified, provider string) error {
	_, _, err := s.applyVerifiedPayment(ctx, v, &repository.PaymentEvent{Provider: provider, EventID: v.EventID()})
	switch {
	case errors.Is(err, repository.ErrDuplicateEvent):
		return nil
	case errors.Is(err, payment.ErrReferenceMismatch), errors.Is(err, repository.ErrNotFound):
		// повтор провайдером не исправит такое событие
		s.logger.Warn("webhook payment rejected",
			zap.String("provider", provider),
			zap.String("order_id", v.OrderID()),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

func (s *Service) markPaymentFailed(ctx context.Context, cb payment.MobileMoneyCallback) error {
	ev := &repository.PaymentEvent{Provider: string(payment.ProviderMobileMoney), EventID: cb.EventID}
	st, changed, err := s.repo.UpdatePayment(ctx, cb.OrderID, ev, func(st *repository.OrderState) (bool, error) {
		o := &st.Order
		if o.PaymentReference != cb.Reference {
			return false, nil
		}
		next, err := lifecycle.NextPaymentStatus(o.PaymentStatus, model.PaymentStatusFailed)
		if err != nil {
			return false, nil
		}
		o.PaymentStatus = next
		return true, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) || errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if changed {
		s.publishState(ctx, st)
		s.logger.Info("payment failed", zap.String("order_id", st.Order.ID))
	}
	return nil
}

// CollectCash фиксирует получение наличных по доставленному заказу с оплатой при получении.
func (s *Service) CollectCash(ctx context.Context, userID, orderID string) (*model.Order, error) {
	actor, err := s.require(ctx, userID, authz.UpdateDeliveryStatus)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != model.PaymentMethodCashOnDelivery {
		return nil, ErrPaymentMethodMismatch
	}
	if o.PaymentStatus == model.PaymentStatusPaid {
		return o, nil
	}
	if o.Status != model.OrderStatusDelivered {
		return nil, fmt.Errorf("%w: cash is collected on delivery", lifecycle.ErrInvalidTransition)
	}
	d, err := s.repo.GetDeliveryByOrder(ctx, o.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if d != nil && d.Status != model.DeliveryStatusDelivered {
		return nil, fmt.Errorf("%w: delivery is %s", lifecycle.ErrInvalidTransition, d.Status)
	}

	v, err := payment.CashSettlement(actor, o.ID, o.Total)
	if err != nil {
		return nil, err
	}

	paid, _, err := s.applyVerifiedPayment(ctx, v, nil)
	return paid, err
}

func methodMatches(m model.PaymentMethod, p payment.Provider) bool {
	switch p {
	case payment.ProviderStripe:
		return m == model.PaymentMethodCard
	case payment.ProviderMobileMoney:
		return m.IsMobileMoney()
	case payment.ProviderCash:
		return m == model.PaymentMethodCashOnDelivery
	}
	return false
}

// applyVerifiedPayment применяет подтверждённую оплату. Других путей к статусу paid нет.
func (s *Service) applyVerifiedPayment(ctx context.Context, v payment.Verified, ev *repository.PaymentEvent) (*model.Order, bool, error) {
	if v.IsZero() {
		return nil, false, fmt.Errorf("unverified payment")
	}

	st, changed, err := s.repo.UpdatePayment(ctx, v.OrderID(), ev, func(st *repository.OrderState) (bool, error) {
		o := &st.Order
		if o.PaymentStatus == model.PaymentStatusPaid {
			return false, nil
		}
		if !methodMatches(o.PaymentMethod, v.Provider()) {
			return false, ErrPaymentMethodMismatch
		}
		if v.Provider() != payment.ProviderCash && o.PaymentReference != "" && o.PaymentReference != v.Reference() {
			return false, payment.ErrReferenceMismatch
		}
		if v.Amount() != o.Total {
			return false, fmt.Errorf("%w: amount %d, order total %d", payment.ErrReferenceMismatch, v.Amount(), o.Total)
		}

		ok, err := lifecycle.ApplyPaid(o)
		if err != nil || !ok {
			return false, err
		}
		if o.PaymentReference == "" {
			o.PaymentReference = v.Reference()
		}
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.publishState(ctx, st)
		s.notifyUser(ctx, st.Order.UserID, fmt.Sprintf("CampusMart: payment of %d %s received for order %s.",
			st.Order.Total, strings.ToUpper(s.opts.Currency), st.Order.OrderNumber))
		s.logger.Info("order paid",
			zap.String("order_id", st.Order.ID),
			zap.String("provider", string(v.Provider())),
		)
	}

	return &st.Order, changed, nil
}
