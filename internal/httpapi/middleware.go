package httpapi

import (
	"net/http"

	"github.com/ancestorii/ancestorii/internal/auth"
	"github.com/ancestorii/ancestorii/internal/billing"
)

// RequireActiveAccess guards premium routes behind the entitlement gate.
// The check fails closed: without a verifiable grant the request is
// rejected with 403 and a code the frontend maps to the pricing page.
func RequireActiveAccess(svc *billing.Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			if !svc.HasActiveAccess(r.Context(), identity.UserID) {
				respondError(w, http.StatusForbidden, "subscription_required", "an active subscription is required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
