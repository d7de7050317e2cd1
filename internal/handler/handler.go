// Package handler содержит HTTP-обработчики API магазина CampusMart.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/campusmart/internal/authz"
	"github.com/mmeshcher/campusmart/internal/cart"
	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/middleware"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/payment"
	"github.com/mmeshcher/campusmart/internal/realtime"
	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/service"
	"github.com/mmeshcher/campusmart/internal/validation"
)

const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	RegisterUser(ctx context.Context, email, password, fullName, phone string) (*model.Profile, error)
	AuthenticateUser(ctx context.Context, email, password string) (string, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	ListCategories(ctx context.Context) ([]model.Category, error)
	ListProducts(ctx context.Context, f repository.ProductFilter) ([]model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	CreateCategory(ctx context.Context, userID, name, description string) (*model.Category, error)
	CreateProduct(ctx context.Context, userID string, in validation.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, userID, productID string, in validation.ProductInput) (*model.Product, error)
	DeleteProduct(ctx context.Context, userID, productID string) error
	UploadProductImage(ctx context.Context, userID, productID, contentType string, r io.Reader) (string, error)

	GetCart(ctx context.Context, userID string) cart.Snapshot
	SetCartItem(ctx context.Context, userID, productID string, quantity int) (cart.Snapshot, error)
	RemoveCartItem(ctx context.Context, userID, productID string) cart.Snapshot
	ClearCart(ctx context.Context, userID string)

	PlaceOrder(ctx context.Context, userID string, req service.CheckoutRequest) (*service.CheckoutResult, error)
	ListMyOrders(ctx context.Context, userID string) ([]model.Order, error)
	GetMyOrder(ctx context.Context, userID, orderID string) (*service.OrderDetails, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)

	CreateCardPayment(ctx context.Context, userID, orderID string) (*service.CardPaymentSession, error)
	ConfirmCardPayment(ctx context.Context, userID, orderID, intentID string) (*model.Order, error)
	InitiateMobileMoney(ctx context.Context, userID string, in service.MobileMoneyInput) (*service.MobileMoneyInitiation, error)
	VerifyMobileMoney(ctx context.Context, userID, orderID, reference string) (*model.Order, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
	HandleMobileMoneyWebhook(ctx context.Context, payload []byte, signature string) error
	SendSMS(ctx context.Context, userID, phone, message string) error

	ScanDelivery(ctx context.Context, userID, token string) (*service.ScanResult, error)
	AdvanceDelivery(ctx context.Context, userID, token string, target model.DeliveryStatus) (*repository.OrderState, error)
	UpdateDeliveryLocation(ctx context.Context, userID, deliveryID string, lat, lng float64) (*model.Delivery, error)
	CollectCash(ctx context.Context, userID, orderID string) (*model.Order, error)

	ListAllOrders(ctx context.Context, userID string, f repository.OrderFilter) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, userID, orderID string, event lifecycle.OrderEvent) (*model.Order, error)
	ListDeliveries(ctx context.Context, userID string, f repository.DeliveryFilter) ([]model.Delivery, error)
	DashboardStats(ctx context.Context, userID string) (*model.DashboardStats, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	hub            *realtime.Hub
	mediaDir       string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// hub и mediaDir необязательны: без них не обслуживаются /api/events и /media.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, hub *realtime.Hub, mediaDir string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		hub:            hub,
		mediaDir:       mediaDir,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет ошибку слоя сервиса с кодом ответа.
func statusFor(err error) int {
	switch {
	case validation.IsValidationError(err), errors.Is(err, service.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, payment.ErrNotSettled), errors.Is(err, payment.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrReferenceMismatch),
		errors.Is(err, payment.ErrUnknownReference),
		errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrNotConfigured), errors.Is(err, service.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrTerminal),
		errors.Is(err, lifecycle.ErrOrderCancelled),
		errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrPaymentMethodMismatch),
		errors.Is(err, service.ErrOrderNotCancellable),
		errors.Is(err, service.ErrVerificationInProgress),
		errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrProductExists),
		errors.Is(err, repository.ErrCategoryExists),
		errors.Is(err, repository.ErrOutOfStock),
		errors.Is(err, repository.ErrProductUnavailable),
		errors.Is(err, repository.ErrDuplicateEvent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError пишет ответ {"error": ...}; неизвестные ошибки логируются и скрываются от клиента.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeMessage(w, status, http.StatusText(status))
		return
	}

	resp := errorResponse{Error: err.Error()}
	var ve *validation.Error
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
