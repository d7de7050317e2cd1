package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/campusmart/internal/repository"
	"github.com/mmeshcher/campusmart/internal/validation"
)

const maxImageSize = 5 << 20

// ListCategories возвращает категории каталога.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, "list categories", err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// ListProducts возвращает товары с фильтрами category и available.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.ProductFilter{CategoryID: q.Get("category")}

	if v := q.Get("available"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid available flag")
			return
		}
		f.OnlyAvailable = only
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}
	f.Limit = limit

	products, err := h.service.ListProducts(r.Context(), f)
	if err != nil {
		h.writeError(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProduct возвращает товар по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateCategory создаёт категорию.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.CreateCategory(r.Context(), id, req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, "create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// CreateProduct создаёт товар.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var in validation.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := h.service.CreateProduct(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProduct обновляет товар.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	var in validation.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), id, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, "update product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProduct удаляет товар.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadProductImage принимает изображение товара в поле image формы multipart.
func (h *Handler) UploadProductImage(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	url, err := h.service.UploadProductImage(r.Context(), id, chi.URLParam(r, "id"), header.Header.Get("Content-Type"), file)
	if err != nil {
		h.writeError(w, r, "upload product image", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_url": url})
}
