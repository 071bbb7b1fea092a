package handler

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/contextkeys"
	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/service"
)

// AuthHandler handles authentication HTTP endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	account, err := h.auth.GetAccount(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, account)
}

func accountID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(contextkeys.AccountID).(string)
	return id, ok && id != ""
}
