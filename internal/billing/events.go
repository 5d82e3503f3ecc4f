package billing

import (
	"time"

	"github.com/google/uuid"
)

// Event is a verified, decoded webhook event. Each variant carries only
// the fields its reconciliation branch needs; the reconciler switches
// exhaustively over the closed set below.
type Event interface {
	// Kind returns the processor's event name for logging.
	Kind() string
}

// CheckoutCompleted is emitted when a hosted checkout finishes. UserID,
// PlanName and BillingCycle come from the session metadata written at
// session creation; that metadata is the only correlation channel back to
// the local account.
type CheckoutCompleted struct {
	UserID         uuid.UUID
	PlanName       PlanName
	BillingCycle   BillingCycle
	CustomerID     string
	SubscriptionID string
}

func (CheckoutCompleted) Kind() string { return "checkout.session.completed" }

// InvoicePaid confirms a successful charge for a billing period.
type InvoicePaid struct {
	CustomerID string
	PeriodEnd  time.Time
}

func (InvoicePaid) Kind() string { return "invoice.paid" }

// InvoicePaymentFailed marks the start of the processor's dunning window.
type InvoicePaymentFailed struct {
	CustomerID string
}

func (InvoicePaymentFailed) Kind() string { return "invoice.payment_failed" }

// SubscriptionUpdated mirrors a processor-side status change (plan change,
// trial conversion, dunning resolution).
type SubscriptionUpdated struct {
	CustomerID string
	Status     Status
	PeriodEnd  time.Time
}

func (SubscriptionUpdated) Kind() string { return "customer.subscription.updated" }

// SubscriptionDeleted terminates a subscription. Keyed by subscription id
// because deletion payloads carry it even when customer expansion is off.
type SubscriptionDeleted struct {
	SubscriptionID string
}

func (SubscriptionDeleted) Kind() string { return "customer.subscription.deleted" }

// UnhandledEvent is any verified event outside the reconciled set. It is
// acknowledged without a write so the processor does not redeliver it.
type UnhandledEvent struct {
	Type string
}

func (e UnhandledEvent) Kind() string { return e.Type }
