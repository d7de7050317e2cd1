package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/cache/rediscache"
	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/payment"
	"github.com/mmeshcher/campusmart/internal/repository"
)

// fakeIntents хранит PaymentIntent в памяти вместо обращения к Stripe.
type fakeIntents struct {
	mu      sync.Mutex
	intents map[string]*stripe.PaymentIntent
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{intents: map[string]*stripe.PaymentIntent{}}
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("pi_%d", len(f.intents)+1)
	pi := &stripe.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       *params.Amount,
		Metadata:     params.Metadata,
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}
	f.intents[id] = pi
	return pi, nil
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pi, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent")
	}
	cp := *pi
	return &cp, nil
}

func (f *fakeIntents) succeed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = stripe.PaymentIntentStatusSucceeded
}

type stubLimiter struct {
	allow bool
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int64, _ time.Duration) (bool, int64, error) {
	s.keys = append(s.keys, key)
	return s.allow, 0, nil
}

func TestCardPayment_ConfirmRequiresMatchingIntent(t *testing.T) {
	intents := newFakeIntents()
	f := newFixture(t, Options{Card: payment.NewStripeProviderWithAPI(intents)})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodCard)

	session, err := f.svc.CreateCardPayment(ctx, customerID, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentIntentID+"_secret", session.ClientSecret)

	stored, err := f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentIntentID, stored.PaymentReference)

	intents.succeed(session.PaymentIntentID)

	_, err = f.svc.ConfirmCardPayment(ctx, customerID, res.Order.ID, "pi_someone_else")
	assert.ErrorIs(t, err, payment.ErrReferenceMismatch)

	stored, err = f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, stored.Status)

	paid, err := f.svc.ConfirmCardPayment(ctx, customerID, res.Order.ID, session.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.OrderStatusConfirmed, paid.Status)
}

func TestCardPayment_NotSettled(t *testing.T) {
	intents := newFakeIntents()
	f := newFixture(t, Options{Card: payment.NewStripeProviderWithAPI(intents)})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodCard)

	session, err := f.svc.CreateCardPayment(ctx, customerID, res.Order.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmCardPayment(ctx, customerID, res.Order.ID, session.PaymentIntentID)
	assert.ErrorIs(t, err, payment.ErrNotSettled)

	stored, err := f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
}

func TestCreateCardPayment_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong method", func(t *testing.T) {
		f := newFixture(t, Options{Card: payment.NewStripeProviderWithAPI(newFakeIntents())})
		res := f.placeOrder(t, model.PaymentMethodCashOnDelivery)

		_, err := f.svc.CreateCardPayment(ctx, customerID, res.Order.ID)
		assert.ErrorIs(t, err, ErrPaymentMethodMismatch)
	})

	t.Run("foreign order", func(t *testing.T) {
		f := newFixture(t, Options{Card: payment.NewStripeProviderWithAPI(newFakeIntents())})
		res := f.placeOrder(t, model.PaymentMethodCard)
		f.repo.addProfile("user-other", model.RoleCustomer, "")

		_, err := f.svc.CreateCardPayment(ctx, "user-other", res.Order.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, Options{})
		res := f.placeOrder(t, model.PaymentMethodCard)

		_, err := f.svc.CreateCardPayment(ctx, customerID, res.Order.ID)
		assert.ErrorIs(t, err, payment.ErrNotConfigured)
	})
}

func TestVerifyMobileMoney_AlreadyPaidIsNoop(t *testing.T) {
	f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0)})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodMTN)

	init, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
	})
	require.NoError(t, err)
	assert.Contains(t, init.Message, "+256772000111")

	paid, err := f.svc.VerifyMobileMoney(ctx, customerID, res.Order.ID, init.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.OrderStatusConfirmed, paid.Status)
	require.Eventually(t, func() bool { return f.sms.count("payment of 32000 UGX") == 1 }, time.Second, 10*time.Millisecond)

	writes := f.repo.writeCount()
	again, err := f.svc.VerifyMobileMoney(ctx, customerID, res.Order.ID, init.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, again.PaymentStatus)
	assert.Equal(t, paid.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, writes, f.repo.writeCount())
	assert.Never(t, func() bool { return f.sms.count("payment of") > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestPaymentConfirmation_RequiresCustomerRole(t *testing.T) {
	intents := newFakeIntents()
	sim := payment.NewMobileMoneySimulator(0)
	f := newFixture(t, Options{Card: payment.NewStripeProviderWithAPI(intents), MobileMoney: sim})
	ctx := context.Background()

	card := f.placeOrder(t, model.PaymentMethodCard)
	session, err := f.svc.CreateCardPayment(ctx, customerID, card.Order.ID)
	require.NoError(t, err)
	intents.succeed(session.PaymentIntentID)

	mm := f.placeOrder(t, model.PaymentMethodMTN)
	init, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: mm.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
	})
	require.NoError(t, err)

	// роль сменилась после оформления заказов
	f.repo.addProfile(customerID, model.RoleDeliveryPersonnel, "")
	writes := f.repo.writeCount()

	_, err = f.svc.ConfirmCardPayment(ctx, customerID, card.Order.ID, session.PaymentIntentID)
	assert.ErrorIs(t, err, authz.ErrForbidden)
	_, err = f.svc.VerifyMobileMoney(ctx, customerID, mm.Order.ID, init.TransactionID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	_, err = f.svc.ConfirmCardPayment(ctx, "user-unknown", card.Order.ID, session.PaymentIntentID)
	assert.ErrorIs(t, err, authz.ErrForbidden)
	_, err = f.svc.VerifyMobileMoney(ctx, "user-unknown", mm.Order.ID, init.TransactionID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	assert.Equal(t, writes, f.repo.writeCount())
}

func TestVerifyMobileMoney_ReferenceMismatch(t *testing.T) {
	f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0)})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodAirtel)

	_, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: res.Order.ID, Phone: "0752000111", Provider: model.PaymentMethodAirtel,
	})
	require.NoError(t, err)

	_, err = f.svc.VerifyMobileMoney(ctx, customerID, res.Order.ID, "AIRTEL-FORGED")
	assert.ErrorIs(t, err, payment.ErrReferenceMismatch)

	stored, err := f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
}

func TestVerifyMobileMoney_InFlightLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := rediscache.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	locker := rediscache.NewLocker(client)

	f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0), Locker: locker})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodMTN)

	init, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
	})
	require.NoError(t, err)

	held, ok, err := locker.TryLock(ctx, "lock:mm-verify:"+res.Order.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.VerifyMobileMoney(ctx, customerID, res.Order.ID, init.TransactionID)
	assert.ErrorIs(t, err, ErrVerificationInProgress)

	require.NoError(t, locker.Unlock(ctx, held))

	paid, err := f.svc.VerifyMobileMoney(ctx, customerID, res.Order.ID, init.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.False(t, mr.Exists("lock:mm-verify:"+res.Order.ID))
}

func TestInitiateMobileMoney_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limited", func(t *testing.T) {
		limiter := &stubLimiter{allow: false}
		f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0), Limiter: limiter})
		res := f.placeOrder(t, model.PaymentMethodMTN)

		_, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
			OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
		})
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, []string{"rl:mm:" + customerID}, limiter.keys)
	})

	t.Run("provider differs from order", func(t *testing.T) {
		f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0)})
		res := f.placeOrder(t, model.PaymentMethodMTN)

		_, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
			OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodAirtel,
		})
		assert.ErrorIs(t, err, ErrPaymentMethodMismatch)
	})

	t.Run("bad phone", func(t *testing.T) {
		f := newFixture(t, Options{MobileMoney: payment.NewMobileMoneySimulator(0)})
		res := f.placeOrder(t, model.PaymentMethodMTN)

		_, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
			OrderID: res.Order.ID, Phone: "12", Provider: model.PaymentMethodMTN,
		})
		require.Error(t, err)
	})
}

func signedCallback(t *testing.T, cb payment.MobileMoneyCallback, secret string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(cb)
	require.NoError(t, err)
	return body, payment.SignMobileMoneyCallback(body, secret)
}

func TestHandleMobileMoneyWebhook(t *testing.T) {
	const secret = "mm-secret"
	f := newFixture(t, Options{MobileMoneyWebhookSecret: secret})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodMTN)

	body, sig := signedCallback(t, payment.MobileMoneyCallback{
		EventID: "evt-1", OrderID: res.Order.ID, Reference: "MTN-REF-1", Status: "successful", Amount: 32000,
	}, secret)

	err := f.svc.HandleMobileMoneyWebhook(ctx, body, "deadbeef")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	require.NoError(t, f.svc.HandleMobileMoneyWebhook(ctx, body, sig))

	stored, err := f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "MTN-REF-1", stored.PaymentReference)

	writes := f.repo.writeCount()
	require.NoError(t, f.svc.HandleMobileMoneyWebhook(ctx, body, sig))
	assert.Equal(t, writes, f.repo.writeCount())
}

func TestHandleMobileMoneyWebhook_Failed(t *testing.T) {
	const secret = "mm-secret"
	f := newFixture(t, Options{MobileMoneyWebhookSecret: secret, MobileMoney: payment.NewMobileMoneySimulator(0)})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodMTN)

	init, err := f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
	})
	require.NoError(t, err)

	body, sig := signedCallback(t, payment.MobileMoneyCallback{
		EventID: "evt-2", OrderID: res.Order.ID, Reference: init.TransactionID, Status: "failed",
	}, secret)
	require.NoError(t, f.svc.HandleMobileMoneyWebhook(ctx, body, sig))

	stored, err := f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, stored.PaymentStatus)

	// после неудачи можно запросить оплату снова
	_, err = f.svc.InitiateMobileMoney(ctx, customerID, MobileMoneyInput{
		OrderID: res.Order.ID, Phone: "0772000111", Provider: model.PaymentMethodMTN,
	})
	require.NoError(t, err)

	stored, err = f.repo.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
}

func stripeWebhook(orderID string, amount int64, secret string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2023-10-16",`+
		`"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent",`+
		`"amount":%d,"status":"succeeded","metadata":{"orderId":"%s"}}}}`, amount, orderID))

	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return payload, "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleStripeWebhook(t *testing.T) {
	const secret = "whsec_test"
	ctx := context.Background()

	t.Run("marks order paid once", func(t *testing.T) {
		f := newFixture(t, Options{StripeWebhookSecret: secret})
		res := f.placeOrder(t, model.PaymentMethodCard)

		payload, sig := stripeWebhook(res.Order.ID, 32000, secret)
		require.NoError(t, f.svc.HandleStripeWebhook(ctx, payload, sig))

		stored, err := f.repo.GetOrder(ctx, res.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
		assert.Equal(t, "pi_1", stored.PaymentReference)

		writes := f.repo.writeCount()
		require.NoError(t, f.svc.HandleStripeWebhook(ctx, payload, sig))
		assert.Equal(t, writes, f.repo.writeCount())
	})

	t.Run("amount mismatch is acknowledged without payment", func(t *testing.T) {
		f := newFixture(t, Options{StripeWebhookSecret: secret})
		res := f.placeOrder(t, model.PaymentMethodCard)

		payload, sig := stripeWebhook(res.Order.ID, 100, secret)
		require.NoError(t, f.svc.HandleStripeWebhook(ctx, payload, sig))

		stored, err := f.repo.GetOrder(ctx, res.Order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
	})

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t, Options{StripeWebhookSecret: secret})
		payload, _ := stripeWebhook("o1", 32000, secret)

		err := f.svc.HandleStripeWebhook(ctx, payload, "t=1,v1=00")
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	})
}

func TestCollectCash(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res := f.placeOrder(t, model.PaymentMethodCashOnDelivery)

	_, err := f.svc.CollectCash(ctx, courierID, res.Order.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	f.prepareOrder(t, res.Order.ID)
	token := res.Delivery.TrackingToken
	for _, s := range []model.DeliveryStatus{
		model.DeliveryStatusAssigned,
		model.DeliveryStatusPickedUp,
		model.DeliveryStatusInTransit,
		model.DeliveryStatusDelivered,
	} {
		_, err := f.svc.AdvanceDelivery(ctx, courierID, token, s)
		require.NoError(t, err)
	}

	_, err = f.svc.CollectCash(ctx, customerID, res.Order.ID)
	assert.ErrorIs(t, err, authz.ErrForbidden)

	paid, err := f.svc.CollectCash(ctx, courierID, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, model.OrderStatusDelivered, paid.Status)
	assert.Equal(t, "cash:"+courierID, paid.PaymentReference)
}
