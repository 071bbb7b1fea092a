package service

import (
	"context"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/rs/zerolog"
)

// adminAction is the audit payload stored when an administrator settles a
// transfer by hand.
type adminAction struct {
	Action  string    `json:"action"`
	AdminID string    `json:"admin_id"`
	Note    string    `json:"transfer_note,omitempty"`
	At      time.Time `json:"at"`
}

// ReconciliationService lets administrators settle bank transfers.
type ReconciliationService struct {
	store  repository.Store
	ledger *Ledger
	log    *zerolog.Logger
	now    func() time.Time
}

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(store repository.Store, ledger *Ledger, logger *zerolog.Logger) *ReconciliationService {
	return &ReconciliationService{
		store:  store,
		ledger: ledger,
		log:    logger,
		now:    time.Now,
	}
}

// ListPending returns pending intents, oldest first. An empty method lists
// bank transfers; "all" lists every method.
func (s *ReconciliationService) ListPending(ctx context.Context, method string) ([]*domain.PaymentIntent, error) {
	f := repository.IntentFilter{Status: domain.PaymentPending}
	switch method {
	case "":
		f.Method = domain.MethodBankTransfer
	case "all":
	default:
		m, err := domain.ParsePaymentMethod(method)
		if err != nil {
			return nil, domain.ErrBadRequest(err.Error())
		}
		f.Method = m
	}

	intents, err := s.store.ListIntents(ctx, f)
	if err != nil {
		return nil, domain.ErrInternal("failed to list payments", err)
	}
	if intents == nil {
		intents = []*domain.PaymentIntent{}
	}
	return intents, nil
}

// Get returns one intent with its opened audit payload.
func (s *ReconciliationService) Get(ctx context.Context, id string) (*domain.PaymentDetail, error) {
	p, err := s.store.FindIntent(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find payment", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment not found")
	}
	audit, err := s.ledger.Open(p)
	if err != nil {
		return nil, domain.ErrInternal("failed to open audit payload", err)
	}
	return &domain.PaymentDetail{PaymentIntent: p, GatewayResponse: audit}, nil
}

// Confirm marks a pending transfer paid and activates its term through the
// same path the gateway uses. Confirming a resolved intent is a no-op.
func (s *ReconciliationService) Confirm(ctx context.Context, adminID, id string) (*domain.ReconcileResponse, error) {
	return s.settle(ctx, adminID, id, "confirm", domain.PaymentSuccess)
}

// Reject marks a pending transfer failed. Rejecting a resolved intent is a
// no-op.
func (s *ReconciliationService) Reject(ctx context.Context, adminID, id string) (*domain.ReconcileResponse, error) {
	return s.settle(ctx, adminID, id, "reject", domain.PaymentFailed)
}

func (s *ReconciliationService) settle(ctx context.Context, adminID, id, action string, status domain.PaymentStatus) (*domain.ReconcileResponse, error) {
	p, err := s.store.FindIntent(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find payment", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment not found")
	}
	if p.Method != domain.MethodBankTransfer {
		return nil, domain.ErrBadRequest("only bank transfer payments can be settled manually")
	}

	out, err := s.ledger.Settle(ctx, p, status, adminAction{
		Action:  action,
		AdminID: adminID,
		Note:    p.TransferNote,
		At:      s.now(),
	}, PathAdmin)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("admin_id", adminID).
		Str("payment_id", id).
		Str("action", action).
		Bool("already_resolved", out.AlreadyResolved).
		Msg("bank transfer reconciled")
	return &domain.ReconcileResponse{
		Payment:         out.Intent,
		Subscription:    out.Subscription,
		AlreadyResolved: out.AlreadyResolved,
	}, nil
}

// BillingStats summarizes the billing tables for the admin dashboard.
type BillingStats struct {
	Payments      map[domain.PaymentStatus]int      `json:"payments"`
	Subscriptions map[domain.SubscriptionStatus]int `json:"subscriptions"`
	Accounts      int                               `json:"accounts"`
}

// Stats counts intents and subscriptions by status.
func (s *ReconciliationService) Stats(ctx context.Context) (*BillingStats, error) {
	payments, err := s.store.CountIntentsByStatus(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count payments", err)
	}
	subs, err := s.store.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count subscriptions", err)
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count accounts", err)
	}
	return &BillingStats{Payments: payments, Subscriptions: subs, Accounts: len(accounts)}, nil
}
