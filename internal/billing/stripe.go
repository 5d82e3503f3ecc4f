package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Session metadata keys. These are the only correlation channel between a
// checkout completion event and the local account, so the names are part
// of the wire contract with already-issued sessions.
const (
	metaUserID       = "user_id"
	metaPlan         = "plan"
	metaBillingCycle = "billing_cycle"
)

// StripeConfig configures the Stripe gateway. Secrets are required so a
// misconfigured deployment refuses to start.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	AppBaseURL    string        `env:"APP_BASE_URL,required"`
	TrialDays     int64         `env:"STRIPE_TRIAL_DAYS" envDefault:"14"`
	HTTPTimeout   time.Duration `env:"STRIPE_HTTP_TIMEOUT" envDefault:"10s"`
}

// StripeGateway implements PaymentGateway on the official Stripe SDK. The
// API client is owned by the gateway rather than the SDK's global
// singleton so tests and future multi-account setups can inject their own.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	trialDays     int64
	successURL    string
	cancelURL     string
}

var _ PaymentGateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a gateway from configuration. The underlying
// HTTP client is bounded by cfg.HTTPTimeout so a degraded Stripe API
// cannot pin checkout requests indefinitely.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	})

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		trialDays:     cfg.TrialDays,
		successURL:    cfg.AppBaseURL + "/account?checkout=success",
		cancelURL:     cfg.AppBaseURL + "/pricing?checkout=canceled",
	}, nil
}

// CreateCustomer registers a Stripe customer tagged with the local user id
// so the mapping survives even if the local row is lost.
func (g *StripeGateway) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	params.AddMetadata(metaUserID, userID.String())

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", wrapStripeError("create customer", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout with
// the trial policy applied. Correlation metadata is attached to both the
// session and the subscription it creates, because completion events
// expose session metadata while later subscription events expose the
// subscription's own.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Customer:   stripe.String(req.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(g.trialDays),
			Metadata: map[string]string{
				metaUserID:       req.UserID.String(),
				metaPlan:         string(req.PlanName),
				metaBillingCycle: string(req.BillingCycle),
			},
		},
	}
	params.AddMetadata(metaUserID, req.UserID.String())
	params.AddMetadata(metaPlan, string(req.PlanName))
	params.AddMetadata(metaBillingCycle, string(req.BillingCycle))

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", wrapStripeError("create checkout session", err)
	}
	if sess.URL == "" {
		return "", errors.Join(ErrProviderUnavailable, errors.New("checkout session has no url"))
	}
	return sess.URL, nil
}

// CreatePortalSession returns a pre-authenticated billing portal URL.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	sess, err := g.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(g.successURL),
	})
	if err != nil {
		return "", wrapStripeError("create portal session", err)
	}
	return sess.URL, nil
}

// ParseWebhook verifies the signature over the exact raw payload bytes
// before any JSON decoding, then maps the event into the reconciler's
// variant set. API version skew between the sending account and the SDK
// is tolerated because the decoded fields are stable across versions.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	if signature == "" {
		return nil, errors.Join(ErrInvalidSignature, errors.New("missing signature header"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (Event, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrUndecodablePayload, fmt.Errorf("decode checkout session: %w", err))
		}
		out := CheckoutCompleted{
			PlanName:     PlanName(sess.Metadata[metaPlan]),
			BillingCycle: BillingCycle(sess.Metadata[metaBillingCycle]),
		}
		// Metadata may be absent on sessions created outside this service;
		// the reconciler treats a nil user id as a terminal decode problem.
		if raw := sess.Metadata[metaUserID]; raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				out.UserID = id
			}
		}
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		return out, nil

	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrUndecodablePayload, fmt.Errorf("decode invoice: %w", err))
		}
		out := InvoicePaid{}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		// The paid-through date lives on the invoice line, not the invoice.
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			out.PeriodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
		}
		return out, nil

	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrUndecodablePayload, fmt.Errorf("decode invoice: %w", err))
		}
		out := InvoicePaymentFailed{}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		return out, nil

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrUndecodablePayload, fmt.Errorf("decode subscription: %w", err))
		}
		status, ok := mapSubscriptionStatus(sub.Status)
		if !ok {
			// Transitional statuses (incomplete, paused) have no local
			// representation; the next definitive event will catch us up.
			return UnhandledEvent{Type: string(event.Type) + ":" + string(sub.Status)}, nil
		}
		out := SubscriptionUpdated{Status: status}
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		return out, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrUndecodablePayload, fmt.Errorf("decode subscription: %w", err))
		}
		return SubscriptionDeleted{SubscriptionID: sub.ID}, nil

	default:
		return UnhandledEvent{Type: string(event.Type)}, nil
	}
}

// mapSubscriptionStatus translates Stripe's status vocabulary into the
// local one. Statuses without a local equivalent report ok=false and are
// acknowledged without a write.
func mapSubscriptionStatus(s stripe.SubscriptionStatus) (Status, bool) {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing, true
	case stripe.SubscriptionStatusActive:
		return StatusActive, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return StatusPastDue, true
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled, true
	default:
		return "", false
	}
}

// wrapStripeError classifies SDK failures. Stripe's own 4xx errors come
// back verbatim for caller inspection; transport failures and 5xx are
// wrapped as ErrProviderUnavailable so handlers map them to 502.
func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode < 500 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("%s: %w", op, err))
}
