package service

import (
	"net/http"
	"sync"
	"testing"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/pkg/payment"
)

func bankIntent(t *testing.T, env *testEnv, factoryID string) *domain.BankTransferResponse {
	t.Helper()
	resp, err := env.checkout.SubmitBankTransfer(t.Context(), factoryID, &domain.BankTransferRequest{
		PlanID: basicPlanID, Interval: "yearly", Amount: 5_000_000,
	})
	if err != nil {
		t.Fatalf("SubmitBankTransfer: %v", err)
	}
	return resp
}

func TestConfirm_ActivatesLikeGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	if _, err := env.subs.StartTrial(ctx, "f1"); err != nil {
		t.Fatal(err)
	}
	bt := bankIntent(t, env, "f1")

	resp, err := env.recon.Confirm(ctx, "admin-1", bt.PaymentID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if resp.AlreadyResolved || resp.Payment.Status != domain.PaymentSuccess {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Subscription == nil || !resp.Subscription.EndAt.Equal(testNow.AddDate(1, 0, 0)) {
		t.Fatalf("subscription = %+v, want a yearly term", resp.Subscription)
	}

	subs := env.store.Subscriptions("f1")
	if currentTerms(subs) != 1 || subs[0].Status != domain.SubscriptionExpired {
		t.Fatalf("subscriptions = %+v", subs)
	}
}

func TestConfirm_DuplicateIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	bt := bankIntent(t, env, "f1")

	if _, err := env.recon.Confirm(ctx, "admin-1", bt.PaymentID); err != nil {
		t.Fatal(err)
	}
	resp, err := env.recon.Confirm(ctx, "admin-2", bt.PaymentID)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if !resp.AlreadyResolved || resp.Subscription != nil {
		t.Fatalf("second confirm = %+v", resp)
	}

	resp, err = env.recon.Reject(ctx, "admin-2", bt.PaymentID)
	if err != nil || !resp.AlreadyResolved || resp.Payment.Status != domain.PaymentSuccess {
		t.Fatalf("reject after confirm = %+v, %v", resp, err)
	}
	if n := len(env.store.Subscriptions("f1")); n != 1 {
		t.Fatalf("got %d subscriptions, want 1", n)
	}
}

func TestConfirm_ConcurrentAdmins(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	bt := bankIntent(t, env, "f1")

	const admins = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
	)
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.recon.Confirm(ctx, "admin", bt.PaymentID)
			if err != nil {
				t.Errorf("Confirm: %v", err)
				return
			}
			if resp.Subscription != nil {
				mu.Lock()
				activated++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if activated != 1 {
		t.Fatalf("%d confirmations activated a term, want 1", activated)
	}
	if n := len(env.store.Subscriptions("f1")); n != 1 {
		t.Fatalf("got %d subscriptions, want 1", n)
	}
}

func TestGatewayAndAdminRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	gw := checkoutIntent(t, env, "f1")
	bt := bankIntent(t, env, "f1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		env.returns.HandleReturn(ctx, env.callback(gw, payment.SuccessCode, 200_000_000), "")
	}()
	go func() {
		defer wg.Done()
		if _, err := env.recon.Confirm(ctx, "admin", bt.PaymentID); err != nil {
			t.Errorf("Confirm: %v", err)
		}
	}()
	wg.Wait()

	subs := env.store.Subscriptions("f1")
	if len(subs) != 2 || currentTerms(subs) != 1 {
		t.Fatalf("subscriptions = %+v, want two terms with one current", subs)
	}
}

func TestReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	bt := bankIntent(t, env, "f1")

	resp, err := env.recon.Reject(ctx, "admin-1", bt.PaymentID)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if resp.Payment.Status != domain.PaymentFailed || resp.Subscription != nil {
		t.Fatalf("resp = %+v", resp)
	}
	if n := len(env.store.Subscriptions("f1")); n != 0 {
		t.Fatalf("reject created %d subscriptions", n)
	}
}

func TestConfirm_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	_, err := env.recon.Confirm(ctx, "admin", "00000000-0000-4000-8000-000000000000")
	wantAppError(t, err, http.StatusNotFound)

	gw := checkoutIntent(t, env, "f1")
	_, err = env.recon.Confirm(ctx, "admin", gw.ID)
	wantAppError(t, err, http.StatusBadRequest)
	intent, _ := env.store.FindIntent(ctx, gw.ID)
	if intent.Status != domain.PaymentPending {
		t.Fatal("admin confirm must not settle a gateway payment")
	}
}

func TestListPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	first := bankIntent(t, env, "f1")
	checkoutIntent(t, env, "f2")
	second := bankIntent(t, env, "f2")
	done := bankIntent(t, env, "f3")
	if _, err := env.recon.Reject(ctx, "admin", done.PaymentID); err != nil {
		t.Fatal(err)
	}

	list, err := env.recon.ListPending(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.PaymentID || list[1].ID != second.PaymentID {
		t.Fatalf("pending transfers = %+v", list)
	}
	for _, p := range list {
		if p.TransferNote == "" {
			t.Error("pending transfer is missing its note")
		}
	}

	all, _ := env.recon.ListPending(ctx, "all")
	if len(all) != 3 {
		t.Fatalf("all pending = %d, want 3", len(all))
	}

	_, err = env.recon.ListPending(ctx, "cash")
	wantAppError(t, err, http.StatusBadRequest)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	bt := bankIntent(t, env, "f1")
	bankIntent(t, env, "f2")
	if _, err := env.recon.Confirm(ctx, "admin", bt.PaymentID); err != nil {
		t.Fatal(err)
	}

	stats, err := env.recon.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Payments[domain.PaymentSuccess] != 1 || stats.Payments[domain.PaymentPending] != 1 {
		t.Errorf("payments = %v", stats.Payments)
	}
	if stats.Subscriptions[domain.SubscriptionActive] != 1 {
		t.Errorf("subscriptions = %v", stats.Subscriptions)
	}
}
