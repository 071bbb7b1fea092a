package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/rs/zerolog"
)

// Activation paths, used for logging and metrics.
const (
	PathGateway = "gateway"
	PathAdmin   = "admin"
	PathTrial   = "trial"
)

// TrialPolicy controls the trial granted to new factory accounts.
type TrialPolicy struct {
	Days     int
	PlanSlug string
}

// SubscriptionService is the only writer of subscription rows. Paid terms and
// trials both go through writeTerm under the factory lock.
type SubscriptionService struct {
	store repository.Store
	trial TrialPolicy
	log   *zerolog.Logger
	now   func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store repository.Store, trial TrialPolicy, logger *zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store: store,
		trial: trial,
		log:   logger,
		now:   time.Now,
	}
}

// Activation describes a paid term to start.
type Activation struct {
	FactoryID string
	PlanID    string
	Interval  domain.BillingInterval
	PaymentID string
	Path      string
}

// Activate expires the factory's current term and starts a new active one,
// in its own locked transaction.
func (s *SubscriptionService) Activate(ctx context.Context, a Activation) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.store.WithFactoryLock(ctx, a.FactoryID, func(ctx context.Context, tx repository.BillingTx) error {
		var err error
		sub, err = s.ActivateTx(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivateTx is Activate for a caller that already holds the factory lock,
// so that resolving a payment and starting its term commit together.
func (s *SubscriptionService) ActivateTx(ctx context.Context, tx repository.BillingTx, a Activation) (*domain.Subscription, error) {
	interval, err := domain.ParseInterval(string(a.Interval))
	if err != nil {
		return nil, domain.ErrBadRequest(err.Error())
	}
	plan, err := tx.FindPlan(ctx, a.PlanID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load plan", err)
	}
	if plan == nil {
		return nil, domain.ErrBadRequest(fmt.Sprintf("unknown plan %s", a.PlanID))
	}

	now := s.now()
	sub := &domain.Subscription{
		ID:        domain.NewID(),
		FactoryID: a.FactoryID,
		PlanID:    plan.ID,
		Status:    domain.SubscriptionActive,
		StartAt:   now,
		EndAt:     interval.TermEnd(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.PaymentID != "" {
		paymentID := a.PaymentID
		sub.PaymentID = &paymentID
	}
	if err := s.writeTerm(ctx, tx, sub); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("factory_id", a.FactoryID).
		Str("plan", plan.Slug).
		Str("interval", string(interval)).
		Str("payment_id", a.PaymentID).
		Str("path", a.Path).
		Time("end_at", sub.EndAt).
		Msg("subscription activated")
	return sub, nil
}

// StartTrial gives a factory a trial term on the configured plan, unless it
// already has a current term. It returns nil, nil when no trial was created.
func (s *SubscriptionService) StartTrial(ctx context.Context, factoryID string) (*domain.Subscription, error) {
	if s.trial.Days <= 0 {
		return nil, nil
	}
	plan, err := s.store.FindPlanBySlug(ctx, s.trial.PlanSlug)
	if err != nil {
		return nil, domain.ErrInternal("failed to load trial plan", err)
	}
	if plan == nil {
		s.log.Warn().Str("plan", s.trial.PlanSlug).Msg("trial plan not found, skipping trial")
		return nil, nil
	}

	var sub *domain.Subscription
	err = s.store.WithFactoryLock(ctx, factoryID, func(ctx context.Context, tx repository.BillingTx) error {
		current, err := tx.CurrentSubscriptions(ctx, factoryID)
		if err != nil {
			return domain.ErrInternal("failed to load current term", err)
		}
		if len(current) > 0 {
			return nil
		}

		now := s.now()
		end := now.AddDate(0, 0, s.trial.Days)
		sub = &domain.Subscription{
			ID:         domain.NewID(),
			FactoryID:  factoryID,
			PlanID:     plan.ID,
			Status:     domain.SubscriptionTrial,
			StartAt:    now,
			EndAt:      end,
			TrialEndAt: &end,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return s.writeTerm(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	if sub != nil {
		s.log.Info().Str("factory_id", factoryID).Str("plan", plan.Slug).Int("days", s.trial.Days).Msg("trial started")
	}
	return sub, nil
}

// writeTerm retires every current term of the factory and inserts sub.
func (s *SubscriptionService) writeTerm(ctx context.Context, tx repository.BillingTx, sub *domain.Subscription) error {
	expired, err := tx.ExpireCurrent(ctx, sub.FactoryID, sub.StartAt)
	if err != nil {
		return domain.ErrInternal("failed to expire current term", err)
	}
	if err := tx.InsertSubscription(ctx, sub); err != nil {
		return domain.ErrInternal("failed to create subscription", err)
	}
	metrics.AddSuperseded(expired)
	metrics.IncActivation(string(sub.Status))
	return nil
}

// Current returns the factory's current term with its plan. A term whose end
// has passed is reported as expired even if its row still says otherwise.
func (s *SubscriptionService) Current(ctx context.Context, factoryID string) (*domain.SubscriptionView, error) {
	sub, plan, err := s.load(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	view := &domain.SubscriptionView{
		Status:        "none",
		Subscription:  sub,
		Plan:          plan,
		IsActive:      domain.IsActive(sub, now),
		TrialDaysLeft: domain.TrialDaysLeft(sub, now),
	}
	if sub != nil {
		view.Status = string(sub.Status)
		if !view.IsActive {
			view.Status = string(domain.SubscriptionExpired)
		}
	}
	return view, nil
}

// Quota evaluates the factory's limits against the given usage counts.
func (s *SubscriptionService) Quota(ctx context.Context, factoryID string, openPosts, viewed int) (*domain.QuotaView, error) {
	if openPosts < 0 || viewed < 0 {
		return nil, domain.ErrBadRequest("usage counts must not be negative")
	}
	sub, plan, err := s.load(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	v := domain.EvaluateQuota(sub, plan, openPosts, viewed, s.now())
	return &v, nil
}

func (s *SubscriptionService) load(ctx context.Context, factoryID string) (*domain.Subscription, *domain.Plan, error) {
	sub, err := s.store.CurrentSubscription(ctx, factoryID)
	if err != nil {
		return nil, nil, domain.ErrInternal("failed to load subscription", err)
	}
	if sub == nil {
		return nil, nil, nil
	}
	plan, err := s.store.FindPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, domain.ErrInternal("failed to load plan", err)
	}
	return sub, plan, nil
}
