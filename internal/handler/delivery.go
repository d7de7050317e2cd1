package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/campusmart/internal/lifecycle"
	"github.com/mmeshcher/campusmart/internal/model"
	"github.com/mmeshcher/campusmart/internal/repository"
)

// ScanDelivery возвращает доставку по токену из QR-кода и доступные действия.
func (h *Handler) ScanDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	res, err := h.service.ScanDelivery(r.Context(), id, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, "scan delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type deliveryStatusRequest struct {
	Status model.DeliveryStatus `json:"status"`
}

// AdvanceDelivery переводит доставку в следующий статус.
func (h *Handler) AdvanceDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req deliveryStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeMessage(w, http.StatusBadRequest, "status is required")
		return
	}

	st, err := h.service.AdvanceDelivery(r.Context(), id, chi.URLParam(r, "token"), req.Status)
	if err != nil {
		h.writeError(w, r, "advance delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivery": st.Delivery, "order": st.Order})
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// UpdateLocation записывает текущие координаты курьера.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeMessage(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	d, err := h.service.UpdateDeliveryLocation(r.Context(), id, chi.URLParam(r, "id"), *req.Latitude, *req.Longitude)
	if err != nil {
		h.writeError(w, r, "update location", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CashCollected фиксирует получение наличных за доставленный заказ.
func (h *Handler) CashCollected(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	o, err := h.service.CollectCash(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "collect cash", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n >= 0
}

// AdminStats возвращает сводку для панели администратора.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.DashboardStats(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "dashboard stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// AdminOrders возвращает все заказы с фильтром status.
func (h *Handler) AdminOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}

	orders, err := h.service.ListAllOrders(r.Context(), id, repository.OrderFilter{
		Status: model.OrderStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, "list all orders", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type orderEventRequest struct {
	Event lifecycle.OrderEvent `json:"event"`
}

// AdminOrderStatus применяет к заказу событие жизненного цикла.
func (h *Handler) AdminOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req orderEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Event == "" {
		writeMessage(w, http.StatusBadRequest, "event is required")
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), id, chi.URLParam(r, "id"), req.Event)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// AdminDeliveries возвращает доставки с фильтрами status и courier.
func (h *Handler) AdminDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}

	q := r.URL.Query()
	deliveries, err := h.service.ListDeliveries(r.Context(), id, repository.DeliveryFilter{
		Status:           model.DeliveryStatus(q.Get("status")),
		DeliveryPersonID: q.Get("courier"),
		Limit:            limit,
	})
	if err != nil {
		h.writeError(w, r, "list deliveries", err)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}
