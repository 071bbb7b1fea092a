package service

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/pkg/crypto"
	"github.com/Paparusi/labo-sub000/pkg/payment"
)

const (
	basicPlanID = "2b1f6f0e-8a5a-4a8e-9d0b-4c1d2e3f4a5b"
	proPlanID   = "9f8e7d6c-5b4a-4321-8fed-cba987654321"
)

var testNow = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	store    *repository.MemoryStore
	gateway  *payment.HMACGateway
	subs     *SubscriptionService
	ledger   *Ledger
	checkout *CheckoutService
	returns  *ReturnService
	recon    *ReconciliationService
	auth     *AuthService
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSealer(t, nil)
}

func newTestEnvWithSealer(t *testing.T, sealer *crypto.Sealer) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := t.Context()
	for _, p := range []*domain.Plan{
		{ID: basicPlanID, Slug: "basic", Name: "Basic", PriceMonthly: 500_000, PriceYearly: 5_000_000, MaxJobPosts: 3, MaxProfileViews: 50, SearchRadiusKm: 10},
		{ID: proPlanID, Slug: "pro", Name: "Pro", PriceMonthly: 2_000_000, PriceYearly: 20_000_000, MaxJobPosts: domain.Unlimited, MaxProfileViews: 500, SearchRadiusKm: 50},
	} {
		if err := store.UpsertPlan(ctx, p); err != nil {
			t.Fatalf("seed plan: %v", err)
		}
	}

	gw, err := payment.NewHMACGateway(payment.Config{
		PayURL:     "https://sandbox.example.com/pay",
		TmnCode:    "DEMO1234",
		HashSecret: "test-secret",
		ReturnURL:  "https://api.example.com/api/payment/return",
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	log := logging.Nop()
	env := &testEnv{store: store, gateway: gw, clock: testNow}
	clock := func() time.Time { return env.clock }

	env.subs = NewSubscriptionService(store, TrialPolicy{Days: 14, PlanSlug: "basic"}, log)
	env.subs.now = clock
	env.ledger = NewLedger(store, env.subs, sealer, log)
	env.ledger.now = clock
	env.checkout = NewCheckoutService(store, env.ledger, gw, domain.BankAccount{BankName: "VCB", AccountName: "LABO", AccountNumber: "0011"}, log)
	env.checkout.now = clock
	env.returns = NewReturnService(store, gw, env.ledger, log)
	env.recon = NewReconciliationService(store, env.ledger, log)
	env.recon.now = clock
	env.auth = NewAuthService("jwt-secret", "admin@example.com", "admin123", store, env.subs, log)
	return env
}

// callback builds a signed gateway return for intent p.
func (e *testEnv) callback(p *domain.PaymentIntent, code string, scaledAmount int64) url.Values {
	q := url.Values{}
	q.Set(payment.FieldTmnCode, "DEMO1234")
	q.Set(payment.FieldTxnRef, p.OrderRef)
	q.Set(payment.FieldAmount, strconv.FormatInt(scaledAmount, 10))
	q.Set(payment.FieldResponseCode, code)
	q.Set(payment.FieldTransactionNo, "14000001")
	q.Set(payment.FieldBankCode, "NCB")
	q.Set(payment.FieldSecureHash, e.gateway.Signer().Sign(q))
	return q
}

func currentTerms(subs []*domain.Subscription) int {
	n := 0
	for _, s := range subs {
		if s.Status.IsCurrent() {
			n++
		}
	}
	return n
}

func wantAppError(t *testing.T, err error, code int) {
	t.Helper()
	appErr, ok := domain.AsAppError(err)
	if !ok {
		t.Fatalf("err = %v, want AppError %d", err, code)
	}
	if appErr.Code != code {
		t.Fatalf("code = %d (%s), want %d", appErr.Code, appErr.Message, code)
	}
}
