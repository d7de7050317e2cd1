package handler

import (
	"net/http"

	"github.com/mmeshcher/campusmart/internal/model"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string         `json:"token"`
	Profile *model.Profile `json:"profile,omitempty"`
	UserID  string         `json:"user_id"`
}

// Register регистрирует покупателя и сразу выполняет вход.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "email and password are required")
		return
	}

	profile, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.FullName, req.Phone)
	if err != nil {
		h.writeError(w, r, "register user", err)
		return
	}

	token := h.authMiddleware.SetAuthCookie(w, profile.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Profile: profile, UserID: profile.ID})
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "email and password are required")
		return
	}

	id, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, "login user", err)
		return
	}

	token := h.authMiddleware.SetAuthCookie(w, id)
	writeJSON(w, http.StatusOK, authResponse{Token: token, UserID: id})
}

// Profile возвращает профиль текущего пользователя.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	p, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
