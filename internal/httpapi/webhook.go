package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/ancestorii/ancestorii/internal/billing"
)

// maxWebhookBody bounds webhook payload reads. Typical Stripe events are
// a few KB, but invoices with large line sets run bigger; 1 MiB leaves
// ample headroom while still capping what an unauthenticated caller can
// make us buffer. Signature verification rejects forged payloads anyway.
const maxWebhookBody = 1 << 20

// handleStripeWebhook receives processor events. The response status is
// the retry contract: 400 rejects a bad signature permanently, 200
// acknowledges (including correlation misses and ignored event types),
// and 5xx asks the processor to redeliver.
func (rt *Router) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", "could not read payload")
		return
	}

	err = rt.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			rt.log.WarnContext(r.Context(), "webhook rejected, bad signature")
			respondError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
			return
		}
		rt.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		respondError(w, http.StatusInternalServerError, "processing_failed", "event processing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
