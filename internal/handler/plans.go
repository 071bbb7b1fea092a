package handler

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/repository"
)

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	plans repository.PlanStore
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(plans repository.PlanStore) *PlansHandler {
	return &PlansHandler{plans: plans}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context())
	if err != nil {
		Error(w, domain.ErrInternal("failed to list plans", err))
		return
	}
	if plans == nil {
		plans = []*domain.Plan{}
	}
	JSON(w, http.StatusOK, plans)
}
