package models

import (
	"time"
)

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanFreemium Plan = "freemium"
	PlanSelect   Plan = "select"
	PlanSmarter  Plan = "smarter"
	PlanBusiness Plan = "business"
)

// ParsePlan maps a plan string to a known tier. Unknown values fall back to
// Freemium so a bad billing payload can never grant extra quota.
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanSelect, PlanSmarter, PlanBusiness:
		return Plan(s)
	default:
		return PlanFreemium
	}
}

// PlanLimits holds the generation limits of a tier. Monthly is nil for tiers
// that do not track a monthly allowance.
type PlanLimits struct {
	Daily   int
	Monthly *int
}

// LimitsFor returns the generation limits for a plan.
func LimitsFor(p Plan) PlanLimits {
	switch p {
	case PlanSelect:
		return PlanLimits{Daily: 50, Monthly: intPtr(1000)}
	case PlanSmarter:
		return PlanLimits{Daily: 150, Monthly: intPtr(3500)}
	case PlanBusiness:
		return PlanLimits{Daily: 400, Monthly: intPtr(10000)}
	default:
		// Freemium has no monthly tracking; the daily cap is the only gate.
		return PlanLimits{Daily: 10}
	}
}

func intPtr(v int) *int { return &v }

// UserQuota is the per-user generation counter row.
type UserQuota struct {
	UserID       string `json:"user_id"`
	Plan         Plan   `json:"plan"`
	UsedToday    int    `json:"used_today"`
	DailyLimit   int    `json:"daily_limit"`
	UsedMonthly  int    `json:"used_monthly"`
	MonthlyLimit *int   `json:"monthly_limit,omitempty"`
	// DailyResetAt is a deadline: the next midnight (in the user's timezone)
	// after the last reset. Once now passes it, the daily counter rolls over.
	DailyResetAt *time.Time `json:"daily_reset_at,omitempty"`
	// MonthlyResetAt is the end of the last confirmed paid period, not a
	// calendar month boundary.
	MonthlyResetAt *time.Time `json:"monthly_reset_at,omitempty"`
	Timezone       string     `json:"timezone,omitempty"` // IANA zone, empty = UTC
	Active         bool       `json:"active"`
}
