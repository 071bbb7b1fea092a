package domain

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the closed set of states a term can be in.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// ParseSubscriptionStatus validates a stored status value.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(s) {
	case SubscriptionTrial, SubscriptionActive, SubscriptionExpired, SubscriptionCancelled:
		return SubscriptionStatus(s), nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
}

// IsCurrent reports whether the status counts as the factory's current term.
// At most one row per factory may be current.
func (s SubscriptionStatus) IsCurrent() bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive:
		return true
	case SubscriptionExpired, SubscriptionCancelled:
		return false
	default:
		return false
	}
}

// Subscription is a bounded-duration grant of a plan to one factory account.
type Subscription struct {
	ID         string             `json:"id"`
	FactoryID  string             `json:"factoryId"`
	PlanID     string             `json:"planId"`
	Status     SubscriptionStatus `json:"status"`
	StartAt    time.Time          `json:"startAt"`
	EndAt      time.Time          `json:"endAt"`
	TrialEndAt *time.Time         `json:"trialEndAt,omitempty"`
	PaymentID  *string            `json:"paymentId,omitempty"` // intent that paid for this term
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// SubscriptionView is the factory-facing summary of the current term.
type SubscriptionView struct {
	Status        string        `json:"status"`
	Subscription  *Subscription `json:"subscription,omitempty"`
	Plan          *Plan         `json:"plan,omitempty"`
	IsActive      bool          `json:"isActive"`
	TrialDaysLeft int           `json:"trialDaysLeft"`
}
