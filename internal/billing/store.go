package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the subscription projection. Every mutation is a single
// atomic statement keyed by a stable id, so concurrent webhook deliveries
// coordinate in the database rather than in process memory.
//
// Mutations keyed by an external id return the user id the write resolved
// to; ErrSubscriptionNotFound signals a correlation miss (no local row for
// that id), which callers treat differently from a write failure.
type Store interface {
	// Get returns the subscription row for a user.
	// Returns ErrSubscriptionNotFound when no row exists.
	Get(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// CustomerID returns the stored processor customer id for a user, or
	// "" when none has been recorded yet.
	CustomerID(ctx context.Context, userID uuid.UUID) (string, error)

	// SetCustomerID records the customer id for a user, creating the row
	// if needed. An already-stored customer id is never overwritten; the
	// persisted id is returned so concurrent checkout attempts converge on
	// one customer.
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)

	// RecordCheckout upserts the row for a completed checkout: trialing
	// status, plan, and external ids. Replays are no-ops and never regress
	// a status that later events already advanced.
	RecordCheckout(ctx context.Context, rec CheckoutRecord) error

	// MarkInvoicePaid activates the subscription for the paid period.
	MarkInvoicePaid(ctx context.Context, customerID string, periodEnd time.Time) (uuid.UUID, error)

	// MarkPaymentFailed moves the subscription to past_due.
	MarkPaymentFailed(ctx context.Context, customerID string) (uuid.UUID, error)

	// SyncProviderState mirrors a processor-side status change. A zero
	// periodEnd leaves the stored period end untouched.
	SyncProviderState(ctx context.Context, customerID string, status Status, periodEnd time.Time) (uuid.UUID, error)

	// MarkCanceled terminates the subscription, cutting entitlement at
	// canceledAt. The row is retained.
	MarkCanceled(ctx context.Context, subscriptionID string, canceledAt time.Time) (uuid.UUID, error)

	// HasActiveAccess reports whether the user's status currently grants
	// product access.
	HasActiveAccess(ctx context.Context, userID uuid.UUID) (bool, error)
}
