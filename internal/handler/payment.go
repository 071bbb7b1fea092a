package handler

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/service"
)

// PaymentHandler serves checkout, bank transfer submission and the gateway
// return.
type PaymentHandler struct {
	checkout    *service.CheckoutService
	returns     *service.ReturnService
	frontendURL string
}

// NewPaymentHandler creates a new PaymentHandler. frontendURL is the billing
// page the browser is sent back to after the gateway.
func NewPaymentHandler(checkout *service.CheckoutService, returns *service.ReturnService, frontendURL string) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, returns: returns, frontendURL: frontendURL}
}

// Checkout handles POST /api/payment/checkout.
func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	factoryID, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.checkout.CreateCheckout(r.Context(), factoryID, ClientIP(r), &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// BankTransfer handles POST /api/payment/bank-transfer.
func (h *PaymentHandler) BankTransfer(w http.ResponseWriter, r *http.Request) {
	factoryID, ok := accountID(r)
	if !ok {
		Error(w, domain.ErrUnauthorized("unauthorized"))
		return
	}

	var req domain.BankTransferRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.checkout.SubmitBankTransfer(r.Context(), factoryID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusCreated, resp)
}

// Return handles GET /api/payment/return. The browser always gets a redirect
// to the billing page; the outcome travels in the query string.
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	outcome := h.returns.HandleReturn(r.Context(), r.URL.Query(), ClientIP(r))
	http.Redirect(w, r, service.RedirectURL(h.frontendURL, outcome), http.StatusFound)
}
