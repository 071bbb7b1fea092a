package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/logging"
	appMiddleware "github.com/Paparusi/labo-sub000/internal/middleware"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/internal/service"
	"github.com/Paparusi/labo-sub000/pkg/payment"
)

const (
	proPlanID   = "9f8e7d6c-5b4a-4321-8fed-cba987654321"
	frontendURL = "https://app.example.com/billing"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	gateway *payment.HMACGateway
}

func newTestServer(t *testing.T, checkoutLimit int) *testServer {
	t.Helper()
	ctx := t.Context()
	store := repository.NewMemoryStore()
	for _, p := range []*domain.Plan{
		{ID: "2b1f6f0e-8a5a-4a8e-9d0b-4c1d2e3f4a5b", Slug: "basic", Name: "Basic", PriceMonthly: 500_000, PriceYearly: 5_000_000, MaxJobPosts: 3, MaxProfileViews: 50, SearchRadiusKm: 10},
		{ID: proPlanID, Slug: "pro", Name: "Pro", PriceMonthly: 2_000_000, PriceYearly: 20_000_000, MaxJobPosts: domain.Unlimited, MaxProfileViews: 500, SearchRadiusKm: 50},
	} {
		if err := store.UpsertPlan(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	gw, err := payment.NewHMACGateway(payment.Config{
		PayURL:     "https://sandbox.example.com/pay",
		TmnCode:    "DEMO1234",
		HashSecret: "test-secret",
		ReturnURL:  "https://api.example.com/api/payment/return",
	})
	if err != nil {
		t.Fatal(err)
	}

	log := logging.Nop()
	subs := service.NewSubscriptionService(store, service.TrialPolicy{Days: 14, PlanSlug: "basic"}, log)
	ledger := service.NewLedger(store, subs, nil, log)
	authSvc := service.NewAuthService("jwt-secret", "admin@example.com", "admin123", store, subs, log)
	if err := authSvc.SeedAdmin(ctx); err != nil {
		t.Fatal(err)
	}

	h := newRouter(routerDeps{
		log:             log,
		corsOrigins:     []string{"http://localhost:3000"},
		frontendURL:     frontendURL,
		plans:           store,
		health:          map[string]repository.Pinger{"database": store},
		auth:            authSvc,
		subs:            subs,
		checkout:        service.NewCheckoutService(store, ledger, gw, domain.BankAccount{BankName: "VCB", AccountName: "LABO", AccountNumber: "0011"}, log),
		returns:         service.NewReturnService(store, gw, ledger, log),
		recon:           service.NewReconciliationService(store, ledger, log),
		checkoutLimiter: appMiddleware.NewWindowLimiter(checkoutLimit, time.Hour),
	})
	return &testServer{t: t, handler: h, gateway: gw}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) decode(rec *httptest.ResponseRecorder, want int, v any) {
	s.t.Helper()
	if rec.Code != want {
		s.t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
	if v != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			s.t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
}

func (s *testServer) login(email, password string) string {
	s.t.Helper()
	var resp domain.LoginResponse
	s.decode(s.do(http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Email: email, Password: password}), http.StatusOK, &resp)
	return resp.Token
}

// gatewayReturn signs the callback the gateway would send for a payment URL.
func (s *testServer) gatewayReturn(paymentURL, code string) *httptest.ResponseRecorder {
	s.t.Helper()
	u, err := url.Parse(paymentURL)
	if err != nil {
		s.t.Fatal(err)
	}
	out := u.Query()
	q := url.Values{}
	q.Set(payment.FieldTmnCode, out.Get(payment.FieldTmnCode))
	q.Set(payment.FieldTxnRef, out.Get(payment.FieldTxnRef))
	q.Set(payment.FieldAmount, out.Get(payment.FieldAmount))
	q.Set(payment.FieldResponseCode, code)
	q.Set(payment.FieldTransactionNo, "14000001")
	q.Set(payment.FieldSecureHash, s.gateway.Signer().Sign(q))
	return s.do(http.MethodGet, "/api/payment/return?"+q.Encode(), "", nil)
}

func TestBillingFlow(t *testing.T) {
	s := newTestServer(t, 5)
	admin := s.login("admin@example.com", "admin123")

	var account domain.AccountResponse
	s.decode(s.do(http.MethodPost, "/api/admin/accounts", admin, domain.CreateAccountRequest{
		Email: "factory@example.com", Password: "secret1", CompanyName: "Acme",
	}), http.StatusCreated, &account)
	if account.Trial == nil {
		t.Fatal("new factory should start on a trial")
	}
	factory := s.login("factory@example.com", "secret1")

	var view domain.SubscriptionView
	s.decode(s.do(http.MethodGet, "/api/subscription", factory, nil), http.StatusOK, &view)
	if view.Status != string(domain.SubscriptionTrial) || !view.IsActive || view.TrialDaysLeft != 14 {
		t.Fatalf("trial view = %+v", view)
	}

	var checkout domain.CheckoutResponse
	s.decode(s.do(http.MethodPost, "/api/payment/checkout", factory, domain.CheckoutRequest{
		PlanID: proPlanID, Interval: "monthly", Amount: 2_000_000,
	}), http.StatusOK, &checkout)

	rec := s.gatewayReturn(checkout.PaymentURL, payment.SuccessCode)
	if rec.Code != http.StatusFound {
		t.Fatalf("return status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != frontendURL+"?success=true" {
		t.Fatalf("Location = %q", loc)
	}
	// The browser may reload the return page.
	if loc := s.gatewayReturn(checkout.PaymentURL, payment.SuccessCode).Header().Get("Location"); loc != frontendURL+"?success=true" {
		t.Fatalf("replayed Location = %q", loc)
	}

	s.decode(s.do(http.MethodGet, "/api/subscription", factory, nil), http.StatusOK, &view)
	if view.Status != string(domain.SubscriptionActive) || view.Plan == nil || view.Plan.Slug != "pro" {
		t.Fatalf("active view = %+v", view)
	}

	var quota domain.QuotaView
	s.decode(s.do(http.MethodGet, "/api/subscription/quota?open_posts=100&profile_views=500", factory, nil), http.StatusOK, &quota)
	if !quota.CanPostJob || quota.CanViewProfile {
		t.Fatalf("quota = %+v", quota)
	}

	var stats service.BillingStats
	s.decode(s.do(http.MethodGet, "/api/admin/stats", admin, nil), http.StatusOK, &stats)
	if stats.Payments[domain.PaymentSuccess] != 1 || stats.Subscriptions[domain.SubscriptionActive] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBankTransferFlow(t *testing.T) {
	s := newTestServer(t, 5)
	admin := s.login("admin@example.com", "admin123")
	s.decode(s.do(http.MethodPost, "/api/admin/accounts", admin, domain.CreateAccountRequest{
		Email: "factory@example.com", Password: "secret1",
	}), http.StatusCreated, nil)
	factory := s.login("factory@example.com", "secret1")

	var bt domain.BankTransferResponse
	s.decode(s.do(http.MethodPost, "/api/payment/bank-transfer", factory, domain.BankTransferRequest{
		PlanID: proPlanID, Interval: "yearly", Amount: 20_000_000,
	}), http.StatusCreated, &bt)
	if bt.TransferNote == "" || bt.BankAccount.AccountNumber != "0011" {
		t.Fatalf("bank transfer = %+v", bt)
	}

	var pending []*domain.PaymentIntent
	s.decode(s.do(http.MethodGet, "/api/admin/payments/pending", admin, nil), http.StatusOK, &pending)
	if len(pending) != 1 || pending[0].ID != bt.PaymentID {
		t.Fatalf("pending = %+v", pending)
	}

	var resp domain.ReconcileResponse
	s.decode(s.do(http.MethodPost, "/api/admin/payments/confirm", admin, domain.ReconcileRequest{PaymentID: bt.PaymentID}), http.StatusOK, &resp)
	if resp.AlreadyResolved || resp.Subscription == nil || resp.Subscription.Status != domain.SubscriptionActive {
		t.Fatalf("confirm = %+v", resp)
	}
	s.decode(s.do(http.MethodPost, "/api/admin/payments/reject", admin, domain.ReconcileRequest{PaymentID: bt.PaymentID}), http.StatusOK, &resp)
	if !resp.AlreadyResolved || resp.Payment.Status != domain.PaymentSuccess {
		t.Fatalf("reject after confirm = %+v", resp)
	}

	s.decode(s.do(http.MethodGet, "/api/admin/payments/"+bt.PaymentID, admin, nil), http.StatusOK, nil)
	s.decode(s.do(http.MethodPost, "/api/admin/payments/confirm", admin, map[string]string{"payment_id": "nope"}), http.StatusBadRequest, nil)
}

func TestGatewayReturnOutcomes(t *testing.T) {
	s := newTestServer(t, 5)
	admin := s.login("admin@example.com", "admin123")
	s.decode(s.do(http.MethodPost, "/api/admin/accounts", admin, domain.CreateAccountRequest{
		Email: "factory@example.com", Password: "secret1",
	}), http.StatusCreated, nil)
	factory := s.login("factory@example.com", "secret1")

	var checkout domain.CheckoutResponse
	s.decode(s.do(http.MethodPost, "/api/payment/checkout", factory, domain.CheckoutRequest{
		PlanID: proPlanID, Interval: "monthly", Amount: 2_000_000,
	}), http.StatusOK, &checkout)

	rec := s.do(http.MethodGet, "/api/payment/return?vnp_TxnRef=x&vnp_SecureHash=00", "", nil)
	if loc := rec.Header().Get("Location"); loc != frontendURL+"?error=invalid" {
		t.Fatalf("forged Location = %q", loc)
	}

	if loc := s.gatewayReturn(checkout.PaymentURL, "24").Header().Get("Location"); loc != frontendURL+"?error=failed" {
		t.Fatalf("cancelled Location = %q", loc)
	}
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t, 2)
	admin := s.login("admin@example.com", "admin123")
	s.decode(s.do(http.MethodPost, "/api/admin/accounts", admin, domain.CreateAccountRequest{
		Email: "factory@example.com", Password: "secret1",
	}), http.StatusCreated, nil)
	factory := s.login("factory@example.com", "secret1")

	for _, tt := range []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/api/subscription", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/admin/stats", factory, http.StatusForbidden},
		{http.MethodGet, "/api/subscription", admin, http.StatusForbidden},
		{http.MethodGet, "/api/plans", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/api/auth/me", factory, http.StatusOK},
	} {
		if rec := s.do(tt.method, tt.path, tt.token, nil); rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}

	body := domain.CheckoutRequest{PlanID: proPlanID, Interval: "monthly", Amount: 2_000_000}
	for i := 0; i < 2; i++ {
		s.decode(s.do(http.MethodPost, "/api/payment/checkout", factory, body), http.StatusOK, nil)
	}
	rec := s.do(http.MethodPost, "/api/payment/checkout", factory, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third checkout status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "rate limit") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
