// Package httpapi exposes the billing service over HTTP: checkout and
// portal session creation, subscription reads, the entitlement endpoint,
// the Stripe webhook receiver, and health probes.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ancestorii/ancestorii/internal/billing"
	"github.com/ancestorii/ancestorii/pkg/requestid"
)

// Router builds the service's HTTP handler.
type Router struct {
	svc    *billing.Service
	authMW func(http.Handler) http.Handler
	checks map[string]func(context.Context) error
	log    *slog.Logger
}

// NewRouter wires the handler tree. authMW authenticates the /api/billing
// routes; checks are named health probes for /healthz.
func NewRouter(svc *billing.Service, authMW func(http.Handler) http.Handler, checks map[string]func(context.Context) error, log *slog.Logger) http.Handler {
	if svc == nil {
		panic("httpapi: billing service is required")
	}
	if authMW == nil {
		panic("httpapi: auth middleware is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rt := &Router{svc: svc, authMW: authMW, checks: checks, log: log}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.handleHealth)
	r.Post("/webhooks/stripe", rt.handleStripeWebhook)

	r.Route("/api/billing", func(r chi.Router) {
		r.Use(rt.authMW)
		r.Post("/checkout", rt.handleCheckout)
		r.Post("/portal", rt.handlePortal)
		r.Get("/subscription", rt.handleSubscription)
		r.Get("/entitlement", rt.handleEntitlement)
	})

	return r
}
