package domain

import (
	"math"
	"time"
)

// Quota Gate: pure read-side checks over a term, its plan and a usage count.
// Expiry by wall-clock time wins over the stored status, so a term whose end
// has passed is inactive even if no one has marked it expired yet.

// IsActive reports whether sub currently grants access.
func IsActive(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case SubscriptionTrial, SubscriptionActive:
		return !now.After(sub.EndAt)
	case SubscriptionExpired, SubscriptionCancelled:
		return false
	default:
		return false
	}
}

// CanPostJob reports whether another open job post is allowed.
func CanPostJob(sub *Subscription, plan *Plan, openPosts int, now time.Time) bool {
	if plan == nil || !IsActive(sub, now) {
		return false
	}
	return withinLimit(plan.MaxJobPosts, openPosts)
}

// CanViewProfile reports whether another profile view is allowed.
func CanViewProfile(sub *Subscription, plan *Plan, viewed int, now time.Time) bool {
	if plan == nil || !IsActive(sub, now) {
		return false
	}
	return withinLimit(plan.MaxProfileViews, viewed)
}

// SearchRadiusKm returns the allowed search radius, 0 when inactive.
func SearchRadiusKm(sub *Subscription, plan *Plan, now time.Time) int {
	if plan == nil || !IsActive(sub, now) {
		return 0
	}
	return plan.SearchRadiusKm
}

// TrialDaysLeft is the whole number of days, rounded up, until the trial
// ends. It is 0 for anything that is not a running trial.
func TrialDaysLeft(sub *Subscription, now time.Time) int {
	if sub == nil || sub.Status != SubscriptionTrial {
		return 0
	}
	end := sub.EndAt
	if sub.TrialEndAt != nil {
		end = *sub.TrialEndAt
	}
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

func withinLimit(max, used int) bool {
	if max == Unlimited {
		return true
	}
	return used < max
}

// QuotaView is the factory-facing answer for the current usage.
type QuotaView struct {
	Active          bool `json:"active"`
	MaxJobPosts     int  `json:"maxJobPosts"`
	MaxProfileViews int  `json:"maxProfileViews"`
	SearchRadiusKm  int  `json:"searchRadiusKm"`
	OpenJobPosts    int  `json:"openJobPosts"`
	ProfileViews    int  `json:"profileViews"`
	CanPostJob      bool `json:"canPostJob"`
	CanViewProfile  bool `json:"canViewProfile"`
	TrialDaysLeft   int  `json:"trialDaysLeft"`
}

// EvaluateQuota combines every quota check into one view.
func EvaluateQuota(sub *Subscription, plan *Plan, openPosts, viewed int, now time.Time) QuotaView {
	v := QuotaView{
		Active:         IsActive(sub, now),
		OpenJobPosts:   openPosts,
		ProfileViews:   viewed,
		CanPostJob:     CanPostJob(sub, plan, openPosts, now),
		CanViewProfile: CanViewProfile(sub, plan, viewed, now),
		SearchRadiusKm: SearchRadiusKm(sub, plan, now),
		TrialDaysLeft:  TrialDaysLeft(sub, now),
	}
	if plan != nil {
		v.MaxJobPosts = plan.MaxJobPosts
		v.MaxProfileViews = plan.MaxProfileViews
	}
	return v
}
