package handler

import (
	"net/http"
	"strconv"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/service"
)

// SubscriptionHandler exposes the factory's current term and quota answers.
type SubscriptionHandler struct {
	subs *service.SubscriptionService
}

func NewSubscriptionHandler(subs *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

// Current handles GET /api/subscription.
func (h *SubscriptionHandler) Current(w http.ResponseWriter, r *http.Request) {
	factoryID, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	view, err := h.subs.Current(r.Context(), factoryID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// Quota handles GET /api/subscription/quota?open_posts=N&profile_views=M.
func (h *SubscriptionHandler) Quota(w http.ResponseWriter, r *http.Request) {
	factoryID, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	openPosts, err := intParam(r, "open_posts")
	if err != nil {
		Error(w, err)
		return
	}
	viewed, err := intParam(r, "profile_views")
	if err != nil {
		Error(w, err)
		return
	}

	view, err := h.subs.Quota(r.Context(), factoryID, openPosts, viewed)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// intParam reads a non-negative integer query parameter; missing means 0.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.ErrBadRequest(name + " must be an integer")
	}
	return n, nil
}
