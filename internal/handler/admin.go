package handler

import (
	"context"
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// AdminHandler serves the manual reconciliation queue and billing stats.
type AdminHandler struct {
	recon    *service.ReconciliationService
	validate *validator.Validate
}

func NewAdminHandler(recon *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{recon: recon, validate: validator.New()}
}

// Pending handles GET /api/admin/payments/pending?method=bank_transfer.
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.recon.ListPending(r.Context(), r.URL.Query().Get("method"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, list)
}

// Get handles GET /api/admin/payments/{id}.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.recon.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, detail)
}

// Confirm handles POST /api/admin/payments/confirm.
func (h *AdminHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.recon.Confirm)
}

// Reject handles POST /api/admin/payments/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.recon.Reject)
}

type reconcileFunc func(ctx context.Context, adminID, id string) (*domain.ReconcileResponse, error)

func (h *AdminHandler) reconcile(w http.ResponseWriter, r *http.Request, action reconcileFunc) {
	adminID, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	var req domain.ReconcileRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		Error(w, domain.ErrBadRequest("payment_id must be a valid id"))
		return
	}

	resp, err := action(r.Context(), adminID, req.PaymentID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.recon.Stats(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}
