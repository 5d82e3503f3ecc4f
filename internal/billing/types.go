package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the reconciled state of a subscription. The empty
// value means checkout was initiated but never completed; it grants no
// access.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled" // terminal
)

// GrantsAccess reports whether the status entitles the account to the
// product. Past-due accounts keep access through the processor's dunning
// window; only cancellation (or no completed checkout) locks them out.
func (s Status) GrantsAccess() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

// BillingCycle represents the charge frequency of a plan.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// PlanName identifies a pricing tier.
type PlanName string

const (
	PlanStandard PlanName = "standard"
	PlanFamily   PlanName = "family"
	PlanLegacy   PlanName = "legacy"
)

// Subscription is the local projection of a user's processor-side
// subscription. One row per user; the row is created at first checkout
// initiation (customer id only) and filled in by webhook reconciliation.
type Subscription struct {
	UserID           uuid.UUID    `json:"user_id"`
	CustomerID       string       `json:"-"`
	SubscriptionID   string       `json:"-"`
	PriceID          string       `json:"-"`
	PlanName         PlanName     `json:"plan"`
	BillingCycle     BillingCycle `json:"billing_cycle,omitempty"`
	Status           Status       `json:"status"`
	CurrentPeriodEnd *time.Time   `json:"current_period_end,omitempty"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// CheckoutRecord carries the correlated identifiers from a completed
// checkout into the store upsert.
type CheckoutRecord struct {
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string
	PriceID        string
	PlanName       PlanName
	BillingCycle   BillingCycle
}
