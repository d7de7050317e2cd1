package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/campusmart/internal/service"
)

// Checkout оформляет заказ из корзины.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req service.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.PlaceOrder(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListOrders возвращает заказы текущего пользователя.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListMyOrders(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает заказ с позициями, адресом и доставкой.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	details, err := h.service.GetMyOrder(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// CancelOrder отменяет заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	o, err := h.service.CancelOrder(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type paymentIntentRequest struct {
	OrderID string `json:"orderId"`
}

// CreatePaymentIntent создаёт платёж картой для заказа.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req paymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeMessage(w, http.StatusBadRequest, "orderId is required")
		return
	}

	session, err := h.service.CreateCardPayment(r.Context(), id, req.OrderID)
	if err != nil {
		h.writeError(w, r, "create payment intent", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type confirmPaymentRequest struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// ConfirmPayment подтверждает оплату картой после проверки у провайдера.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.PaymentIntentID == "" {
		writeMessage(w, http.StatusBadRequest, "orderId and paymentIntentId are required")
		return
	}

	o, err := h.service.ConfirmCardPayment(r.Context(), id, req.OrderID, req.PaymentIntentID)
	if err != nil {
		h.writeError(w, r, "confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": o})
}

// InitiateMobileMoney отправляет запрос оплаты на телефон покупателя.
func (h *Handler) InitiateMobileMoney(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req service.MobileMoneyInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeMessage(w, http.StatusBadRequest, "orderId is required")
		return
	}

	res, err := h.service.InitiateMobileMoney(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, "initiate mobile money", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transactionId": res.TransactionID,
		"message":       res.Message,
	})
}

type verifyMobileMoneyRequest struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
}

// VerifyMobileMoney проверяет у провайдера статус транзакции.
func (h *Handler) VerifyMobileMoney(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req verifyMobileMoneyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.TransactionID == "" {
		writeMessage(w, http.StatusBadRequest, "orderId and transactionId are required")
		return
	}

	o, err := h.service.VerifyMobileMoney(r.Context(), id, req.OrderID, req.TransactionID)
	if err != nil {
		h.writeError(w, r, "verify mobile money", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": o.PaymentStatus, "order": o})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request, op, signatureHeader string,
	handle func(r *http.Request, payload []byte, signature string) error) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := handle(r, payload, r.Header.Get(signatureHeader)); err != nil {
		h.writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// StripeWebhook принимает уведомления Stripe.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, "stripe webhook", "Stripe-Signature", func(r *http.Request, payload []byte, sig string) error {
		return h.service.HandleStripeWebhook(r.Context(), payload, sig)
	})
}

// MobileMoneyWebhook принимает уведомления провайдера мобильных денег.
func (h *Handler) MobileMoneyWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, "mobile money webhook", "X-Signature", func(r *http.Request, payload []byte, sig string) error {
		return h.service.HandleMobileMoneyWebhook(r.Context(), payload, sig)
	})
}

type smsRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// SendSMS отправляет SMS через шлюз.
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req smsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SendSMS(r.Context(), id, req.PhoneNumber, req.Message); err != nil {
		h.writeError(w, r, "send sms", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
