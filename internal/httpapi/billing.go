package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ancestorii/ancestorii/internal/auth"
	"github.com/ancestorii/ancestorii/internal/billing"
	"github.com/ancestorii/ancestorii/pkg/logger"
)

type checkoutRequest struct {
	Plan         string `json:"plan"`
	BillingCycle string `json:"billingCycle"`
}

type sessionResponse struct {
	URL string `json:"url"`
}

type entitlementResponse struct {
	Active bool `json:"active"`
}

// handleCheckout creates a hosted checkout session for the authenticated
// user. The identity comes from the verified session token, never from
// the request body.
func (rt *Router) handleCheckout(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	plan, err := billing.ParsePlan(req.Plan)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_plan", "unknown plan selection")
		return
	}
	cycle, err := billing.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_billing_cycle", "billing cycle must be monthly or yearly")
		return
	}

	url, err := rt.svc.StartCheckout(r.Context(), identity.UserID, identity.Email, plan, cycle)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPlanSelection):
			respondError(w, http.StatusBadRequest, "invalid_plan", "unknown plan selection")
		case errors.Is(err, billing.ErrProviderUnavailable):
			rt.log.ErrorContext(r.Context(), "checkout session creation failed upstream",
				logger.UserID(identity.UserID), logger.Error(err))
			respondError(w, http.StatusBadGateway, "provider_unavailable", "payment provider is unavailable, try again")
		default:
			rt.log.ErrorContext(r.Context(), "checkout session creation failed",
				logger.UserID(identity.UserID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal_error", "could not start checkout")
		}
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{URL: url})
}

// handlePortal creates a customer portal session for subscription
// management.
func (rt *Router) handlePortal(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	url, err := rt.svc.PortalURL(r.Context(), identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNoBillingAccount):
			respondError(w, http.StatusNotFound, "no_billing_account", "no billing account for this user")
		case errors.Is(err, billing.ErrProviderUnavailable):
			rt.log.ErrorContext(r.Context(), "portal session creation failed upstream",
				logger.UserID(identity.UserID), logger.Error(err))
			respondError(w, http.StatusBadGateway, "provider_unavailable", "payment provider is unavailable, try again")
		default:
			rt.log.ErrorContext(r.Context(), "portal session creation failed",
				logger.UserID(identity.UserID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal_error", "could not open billing portal")
		}
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{URL: url})
}

// handleSubscription returns the reconciled subscription record for the
// dashboard.
func (rt *Router) handleSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sub, err := rt.svc.Subscription(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "no_subscription", "no subscription for this user")
			return
		}
		rt.log.ErrorContext(r.Context(), "subscription lookup failed",
			logger.UserID(identity.UserID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// handleEntitlement reports whether the user currently has product access.
func (rt *Router) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	respondJSON(w, http.StatusOK, entitlementResponse{
		Active: rt.svc.HasActiveAccess(r.Context(), identity.UserID),
	})
}
