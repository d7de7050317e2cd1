package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetCart(r.Context(), id))
}

type cartItemRequest struct {
	Quantity int `json:"quantity"`
}

// SetCartItem устанавливает количество товара в корзине.
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req cartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	snap, err := h.service.SetCartItem(r.Context(), id, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, "set cart item", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RemoveCartItem удаляет товар из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.RemoveCartItem(r.Context(), id, chi.URLParam(r, "productID")))
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	h.service.ClearCart(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
