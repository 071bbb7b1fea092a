package domain

import (
	"fmt"
	"time"
)

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// BillingInterval is the length of one paid term.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// ParseInterval converts a wire value into a BillingInterval.
func ParseInterval(s string) (BillingInterval, error) {
	switch BillingInterval(s) {
	case IntervalMonthly, IntervalYearly:
		return BillingInterval(s), nil
	default:
		return "", fmt.Errorf("unknown billing interval %q", s)
	}
}

// TermEnd returns the end of a term starting at start. Calendar arithmetic is
// used so that months and leap years keep their real length.
func (i BillingInterval) TermEnd(start time.Time) time.Time {
	if i == IntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Plan is read-only reference data describing what a subscription grants.
type Plan struct {
	ID              string          `json:"id" yaml:"id"`
	Slug            string          `json:"slug" yaml:"slug"`
	Name            string          `json:"name" yaml:"name"`
	PriceMonthly    int64           `json:"priceMonthly" yaml:"price_monthly"` // smallest currency unit
	PriceYearly     int64           `json:"priceYearly" yaml:"price_yearly"`
	MaxJobPosts     int             `json:"maxJobPosts" yaml:"max_job_posts"`         // -1 = unlimited
	MaxProfileViews int             `json:"maxProfileViews" yaml:"max_profile_views"` // -1 = unlimited
	SearchRadiusKm  int             `json:"searchRadiusKm" yaml:"search_radius_km"`
	Features        map[string]bool `json:"features" yaml:"features"`
	CreatedAt       time.Time       `json:"createdAt" yaml:"-"`
}

// Price returns the authoritative price of one term of the plan.
func (p *Plan) Price(interval BillingInterval) int64 {
	if interval == IntervalYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// HasFeature reports whether a feature flag is enabled on the plan.
func (p *Plan) HasFeature(name string) bool {
	return p.Features[name]
}
