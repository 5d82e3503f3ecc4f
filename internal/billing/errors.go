package billing

import "errors"

var (
	ErrInvalidPlanSelection = errors.New("billing: invalid plan selection")
	ErrInvalidBillingCycle  = errors.New("billing: invalid billing cycle")

	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrNoBillingAccount     = errors.New("billing: no billing account for user")

	ErrInvalidSignature     = errors.New("billing: webhook signature verification failed")
	ErrProviderUnavailable  = errors.New("billing: payment provider request failed")
	ErrMissingCorrelationID = errors.New("billing: event missing correlation metadata")
	ErrUndecodablePayload   = errors.New("billing: verified event payload could not be decoded")
)
