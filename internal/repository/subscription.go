package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, factory_id, plan_id, status, start_at, end_at, trial_end_at, payment_id, created_at, updated_at`

// CurrentSubscription returns the factory's trial or active term, nil if none.
func (s *PostgresStore) CurrentSubscription(ctx context.Context, factoryID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE factory_id = $1 AND status IN ('trial', 'active')
		ORDER BY created_at DESC LIMIT 1`
	sub, err := scanSubscription(s.db.QueryRow(ctx, query, factoryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No current subscription
		}
		return nil, err
	}
	return sub, nil
}

// CountSubscriptionsByStatus groups subscriptions by status.
func (s *PostgresStore) CountSubscriptionsByStatus(ctx context.Context) (map[domain.SubscriptionStatus]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan subscription count: %w", err)
		}
		out[domain.SubscriptionStatus(status)] = n
	}
	return out, rows.Err()
}

// FindPlan reads a plan inside the billing transaction.
func (t *pgBillingTx) FindPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return scanPlanRow(t.q.QueryRow(ctx, "SELECT "+planColumns+" FROM subscription_plans WHERE id = $1", id))
}

// CurrentSubscriptions lists the factory's trial/active rows under a row lock.
func (t *pgBillingTx) CurrentSubscriptions(ctx context.Context, factoryID string) ([]*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE factory_id = $1 AND status IN ('trial', 'active')
		ORDER BY created_at DESC FOR UPDATE`
	rows, err := t.q.Query(ctx, query, factoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list current subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ExpireCurrent marks every trial/active row of the factory expired.
func (t *pgBillingTx) ExpireCurrent(ctx context.Context, factoryID string, at time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE subscriptions SET status = 'expired', updated_at = $1
		WHERE factory_id = $2 AND status IN ('trial', 'active')
	`, at, factoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertSubscription writes a new term.
func (t *pgBillingTx) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, factory_id, plan_id, status, start_at, end_at, trial_end_at, payment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.q.Exec(ctx, query,
		sub.ID, sub.FactoryID, sub.PlanID, string(sub.Status),
		sub.StartAt, sub.EndAt, sub.TrialEndAt, sub.PaymentID,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub    domain.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.FactoryID, &sub.PlanID, &status,
		&sub.StartAt, &sub.EndAt, &sub.TrialEndAt, &sub.PaymentID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	if sub.Status, err = domain.ParseSubscriptionStatus(status); err != nil {
		return nil, err
	}
	return &sub, nil
}

const planColumns = `id, slug, name, price_monthly, price_yearly, max_job_posts, max_profile_views, search_radius_km, features, created_at`

// ListPlans returns every plan ordered by monthly price.
func (s *PostgresStore) ListPlans(ctx context.Context) ([]*domain.Plan, error) {
	rows, err := s.db.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY price_monthly ASC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// FindPlan returns a plan by id.
func (s *PostgresStore) FindPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return scanPlanRow(s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
}

// FindPlanBySlug returns a plan by slug.
func (s *PostgresStore) FindPlanBySlug(ctx context.Context, slug string) (*domain.Plan, error) {
	return scanPlanRow(s.db.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE slug = $1`, slug))
}

// UpsertPlan inserts or updates a plan by id.
func (s *PostgresStore) UpsertPlan(ctx context.Context, p *domain.Plan) error {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("failed to encode plan features: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO subscription_plans (id, slug, name, price_monthly, price_yearly, max_job_posts, max_profile_views, search_radius_km, features, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug, name = EXCLUDED.name,
			price_monthly = EXCLUDED.price_monthly, price_yearly = EXCLUDED.price_yearly,
			max_job_posts = EXCLUDED.max_job_posts, max_profile_views = EXCLUDED.max_profile_views,
			search_radius_km = EXCLUDED.search_radius_km, features = EXCLUDED.features
	`
	_, err = s.db.Exec(ctx, query,
		p.ID, p.Slug, p.Name, p.PriceMonthly, p.PriceYearly,
		p.MaxJobPosts, p.MaxProfileViews, p.SearchRadiusKm, features, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

func scanPlanRow(row pgx.Row) (*domain.Plan, error) {
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var (
		p        domain.Plan
		features []byte
	)
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.PriceMonthly, &p.PriceYearly,
		&p.MaxJobPosts, &p.MaxProfileViews, &p.SearchRadiusKm, &features, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("failed to decode plan features: %w", err)
		}
	}
	return &p, nil
}
