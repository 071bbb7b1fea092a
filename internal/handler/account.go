package handler

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/service"
)

// AccountHandler handles account management endpoints (admin only).
type AccountHandler struct {
	auth *service.AuthService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(auth *service.AuthService) *AccountHandler {
	return &AccountHandler{auth: auth}
}

// List handles GET /api/admin/accounts.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.auth.ListAccounts(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, accounts)
}

// Create handles POST /api/admin/accounts. Factory accounts start with a
// trial term.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	account, err := h.auth.CreateAccount(r.Context(), &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusCreated, account)
}
