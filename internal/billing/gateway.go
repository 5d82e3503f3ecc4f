package billing

import (
	"context"

	"github.com/google/uuid"
)

// PaymentGateway abstracts the payment processor behind the operations the
// service needs. The Stripe implementation lives in stripe.go; tests
// substitute a mock. All payment complexity stays behind hosted checkout
// and the customer portal, so no card data ever touches this service.
type PaymentGateway interface {
	// CreateCustomer registers a processor-side customer tagged with the
	// local user id and returns the customer id.
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)

	// CreateCheckoutSession creates a hosted checkout session and returns
	// its URL. The session metadata must carry the user id, plan, and
	// billing cycle for webhook correlation.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (string, error)

	// CreatePortalSession returns a pre-authenticated customer portal URL
	// where users manage payment methods and cancellation.
	CreatePortalSession(ctx context.Context, customerID string) (string, error)

	// ParseWebhook verifies the payload signature against the raw bytes
	// and decodes the event. ErrInvalidSignature means the payload must be
	// rejected without any state change.
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// CheckoutSessionRequest contains everything needed to create a hosted
// checkout session.
type CheckoutSessionRequest struct {
	UserID       uuid.UUID
	CustomerID   string
	PriceID      string
	PlanName     PlanName
	BillingCycle BillingCycle
}
