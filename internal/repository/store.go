package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
)

// ErrIntentNotPending is returned when a status transition is attempted on
// an intent that has already been resolved.
var ErrIntentNotPending = errors.New("payment intent is not pending")

// IntentFilter narrows intent listings. Zero values match everything.
type IntentFilter struct {
	Status    domain.PaymentStatus
	Method    domain.PaymentMethod
	FactoryID string
	Limit     int
}

// PlanStore reads and seeds subscription plans. Find methods return nil, nil
// when nothing matches.
type PlanStore interface {
	ListPlans(ctx context.Context) ([]*domain.Plan, error)
	FindPlan(ctx context.Context, id string) (*domain.Plan, error)
	FindPlanBySlug(ctx context.Context, slug string) (*domain.Plan, error)
	UpsertPlan(ctx context.Context, p *domain.Plan) error
}

// AccountStore persists factory and admin logins.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, id string) (*domain.Account, error)
	AccountExists(ctx context.Context, email string) (bool, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
}

// BillingStore persists payment intents and subscriptions. Intents and
// subscriptions are only changed inside WithFactoryLock.
type BillingStore interface {
	CreateIntent(ctx context.Context, p *domain.PaymentIntent) error
	FindIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	FindIntentByOrderRef(ctx context.Context, orderRef string) (*domain.PaymentIntent, error)
	ListIntents(ctx context.Context, f IntentFilter) ([]*domain.PaymentIntent, error)
	CurrentSubscription(ctx context.Context, factoryID string) (*domain.Subscription, error)
	CountIntentsByStatus(ctx context.Context) (map[domain.PaymentStatus]int, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error)

	// WithFactoryLock runs fn in a single transaction that holds an exclusive
	// lock keyed by factoryID. Everything fn writes commits or rolls back
	// together.
	WithFactoryLock(ctx context.Context, factoryID string, fn func(ctx context.Context, tx BillingTx) error) error
}

// BillingTx is the write side available inside WithFactoryLock.
type BillingTx interface {
	// LockIntent re-reads an intent for update; nil, nil when missing.
	LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	// ResolveIntent moves a pending intent to a terminal status. It returns
	// ErrIntentNotPending if the intent was already resolved.
	ResolveIntent(ctx context.Context, id string, status domain.PaymentStatus, raw []byte, at time.Time) error
	// FindPlan reads a plan on the transaction's own connection.
	FindPlan(ctx context.Context, id string) (*domain.Plan, error)
	// CurrentSubscriptions lists the factory's trial/active rows.
	CurrentSubscriptions(ctx context.Context, factoryID string) ([]*domain.Subscription, error)
	// ExpireCurrent marks every trial/active row of the factory expired.
	ExpireCurrent(ctx context.Context, factoryID string, at time.Time) (int64, error)
	InsertSubscription(ctx context.Context, s *domain.Subscription) error
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is everything the service layer needs from persistence.
type Store interface {
	PlanStore
	AccountStore
	BillingStore
	Pinger
}
