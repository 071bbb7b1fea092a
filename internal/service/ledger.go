package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/pkg/crypto"
	"github.com/rs/zerolog"
)

// Settlement is the result of resolving an intent.
type Settlement struct {
	Intent       *domain.PaymentIntent
	Subscription *domain.Subscription
	// AlreadyResolved is set when the intent was not pending; nothing changed.
	AlreadyResolved bool
}

// Ledger owns the payment intent lifecycle: pending -> success | failed.
type Ledger struct {
	store  repository.Store
	subs   *SubscriptionService
	sealer *crypto.Sealer
	log    *zerolog.Logger
	now    func() time.Time
}

// NewLedger creates a new Ledger. sealer may be nil.
func NewLedger(store repository.Store, subs *SubscriptionService, sealer *crypto.Sealer, logger *zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		subs:   subs,
		sealer: sealer,
		log:    logger,
		now:    time.Now,
	}
}

// Create persists a new pending intent.
func (l *Ledger) Create(ctx context.Context, factoryID string, amount int64, method domain.PaymentMethod, planID string, interval domain.BillingInterval) (*domain.PaymentIntent, error) {
	p, err := domain.NewPaymentIntent(factoryID, amount, method, planID, interval, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.CreateIntent(ctx, p); err != nil {
		return nil, domain.ErrInternal("failed to create payment intent", err)
	}
	metrics.IncIntentCreated(string(method))
	l.log.Info().
		Str("factory_id", factoryID).
		Str("payment_id", p.ID).
		Str("order_ref", p.OrderRef).
		Str("method", string(method)).
		Int64("amount", amount).
		Msg("payment intent created")
	return p, nil
}

// Resolve looks an intent up by order reference and settles it.
func (l *Ledger) Resolve(ctx context.Context, orderRef string, status domain.PaymentStatus, raw any, path string) (*Settlement, error) {
	p, err := l.store.FindIntentByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, domain.ErrInternal("failed to find payment intent", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("payment not found")
	}
	return l.Settle(ctx, p, status, raw, path)
}

// Settle moves a pending intent to status, storing raw as the audit payload.
// A successful payment starts its subscription term in the same transaction,
// so either both happen or neither does. Settling an intent that is no longer
// pending changes nothing and returns the stored record.
func (l *Ledger) Settle(ctx context.Context, p *domain.PaymentIntent, status domain.PaymentStatus, raw any, path string) (*Settlement, error) {
	if !status.IsTerminal() {
		return nil, domain.ErrBadRequest("payment can only be resolved to success or failed")
	}
	audit, err := l.seal(raw)
	if err != nil {
		return nil, domain.ErrInternal("failed to encode audit payload", err)
	}

	out := &Settlement{}
	err = l.store.WithFactoryLock(ctx, p.FactoryID, func(ctx context.Context, tx repository.BillingTx) error {
		current, err := tx.LockIntent(ctx, p.ID)
		if err != nil {
			return domain.ErrInternal("failed to lock payment intent", err)
		}
		if current == nil {
			return domain.ErrNotFound("payment not found")
		}
		out.Intent = current
		if current.Status != domain.PaymentPending {
			out.AlreadyResolved = true
			return nil
		}

		now := l.now()
		if err := tx.ResolveIntent(ctx, current.ID, status, audit, now); err != nil {
			if errors.Is(err, repository.ErrIntentNotPending) {
				out.AlreadyResolved = true
				return nil
			}
			return domain.ErrInternal("failed to resolve payment intent", err)
		}
		current.Status = status
		current.ResolvedAt = &now
		current.UpdatedAt = now
		current.GatewayResponse = audit

		if status != domain.PaymentSuccess {
			return nil
		}
		sub, err := l.subs.ActivateTx(ctx, tx, Activation{
			FactoryID: current.FactoryID,
			PlanID:    current.Payload.PlanID,
			Interval:  current.Payload.Interval,
			PaymentID: current.ID,
			Path:      path,
		})
		if err != nil {
			return err
		}
		out.Subscription = sub
		return nil
	})
	if err != nil {
		l.log.Error().Err(err).
			Str("payment_id", p.ID).
			Str("order_ref", p.OrderRef).
			Str("path", path).
			Msg("failed to settle payment")
		return nil, err
	}

	method := string(out.Intent.Method)
	if out.AlreadyResolved {
		metrics.IncResolution(method, "noop")
		l.log.Info().
			Str("payment_id", p.ID).
			Str("status", string(out.Intent.Status)).
			Str("path", path).
			Msg("payment already resolved")
		return out, nil
	}

	metrics.IncResolution(method, string(status))
	if status == domain.PaymentSuccess {
		metrics.AddRevenue(method, out.Intent.Amount)
	}
	l.log.Info().
		Str("factory_id", out.Intent.FactoryID).
		Str("payment_id", out.Intent.ID).
		Str("order_ref", out.Intent.OrderRef).
		Str("status", string(status)).
		Str("path", path).
		Msg("payment resolved")
	return out, nil
}

// Open returns the readable audit payload of an intent.
func (l *Ledger) Open(p *domain.PaymentIntent) (json.RawMessage, error) {
	return l.sealer.Open(p.GatewayResponse)
}

func (l *Ledger) seal(raw any) (json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return l.sealer.Seal(b)
}
