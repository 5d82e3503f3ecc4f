package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ancestorii/ancestorii/pkg/logger"
)

// Service orchestrates checkout creation, webhook reconciliation, and
// entitlement checks. It holds no mutable state of its own; all
// coordination happens through the store's atomic writes.
type Service struct {
	catalog            *Catalog
	gateway            PaymentGateway
	store              Store
	log                *slog.Logger
	entitlementTimeout time.Duration
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithLogger supplies an external slog.Logger. If unset, logs are discarded.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEntitlementTimeout bounds entitlement lookups. Entitlement gates sit
// on hot request paths, so the bound stays short and failures deny access.
func WithEntitlementTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.entitlementTimeout = d
		}
	}
}

// NewService creates a Service. Panics if required dependencies are nil to
// fail fast during initialization.
func NewService(catalog *Catalog, gateway PaymentGateway, store Store, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if gateway == nil {
		panic("billing: PaymentGateway is required")
	}
	if store == nil {
		panic("billing: Store is required")
	}

	s := &Service{
		catalog:            catalog,
		gateway:            gateway,
		store:              store,
		log:                slog.New(slog.NewTextHandler(io.Discard, nil)),
		entitlementTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout validates the plan selection, ensures a processor customer
// exists for the user, and returns a hosted checkout URL. Plan validation
// happens before any processor call so an invalid selection never creates
// external state.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, email string, plan PlanName, cycle BillingCycle) (string, error) {
	priceID, err := s.catalog.Resolve(plan, cycle)
	if err != nil {
		return "", err
	}

	customerID, err := s.ensureCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		UserID:       userID,
		CustomerID:   customerID,
		PriceID:      priceID,
		PlanName:     plan,
		BillingCycle: cycle,
	})
	if err != nil {
		return "", err
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.UserID(userID), "plan", plan, "billing_cycle", cycle)
	return url, nil
}

// ensureCustomer returns the user's processor customer id, creating one on
// first checkout. The store upsert keeps the first persisted id, so a
// racing duplicate creation converges on one customer; the extra processor
// customer is orphaned but harmless.
func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	customerID, err := s.store.CustomerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup customer id: %w", err)
	}
	if customerID != "" {
		return customerID, nil
	}

	created, err := s.gateway.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}

	persisted, err := s.store.SetCustomerID(ctx, userID, created)
	if err != nil {
		return "", fmt.Errorf("persist customer id: %w", err)
	}
	if persisted != created {
		s.log.WarnContext(ctx, "concurrent customer creation, reusing persisted id",
			logger.UserID(userID), logger.CustomerID(persisted))
	}
	return persisted, nil
}

// PortalURL returns a customer portal session URL for subscription
// management. Users who never started a checkout have no processor
// customer and get ErrNoBillingAccount.
func (s *Service) PortalURL(ctx context.Context, userID uuid.UUID) (string, error) {
	customerID, err := s.store.CustomerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup customer id: %w", err)
	}
	if customerID == "" {
		return "", ErrNoBillingAccount
	}
	return s.gateway.CreatePortalSession(ctx, customerID)
}

// Subscription returns the user's reconciled subscription record.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, userID)
}

// HasActiveAccess reports whether the user is entitled to the product.
// The lookup runs under a short timeout and fails closed: any error, a
// missing row, or a canceled subscription denies access.
func (s *Service) HasActiveAccess(ctx context.Context, userID uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(ctx, s.entitlementTimeout)
	defer cancel()

	ok, err := s.store.HasActiveAccess(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "entitlement lookup failed, denying access",
			logger.UserID(userID), logger.Error(err))
		return false
	}
	return ok
}

// HandleWebhook verifies and reconciles one processor event. The error
// contract drives the processor's retry behavior: ErrInvalidSignature maps
// to 400, a nil return acknowledges the event, and any other error maps to
// 5xx so the processor redelivers. A verified payload that fails decoding
// is acknowledged: redelivery carries the same bytes, so retrying can
// never succeed.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrUndecodablePayload) {
			s.log.ErrorContext(ctx, "acknowledging undecodable event", "error", err)
			return nil
		}
		return err
	}
	return s.reconcile(ctx, event)
}

// reconcile applies one event to the subscription projection. Correlation
// misses (no local row for the event's external id) are logged and
// acknowledged: redelivery cannot fix an id we never issued. Write
// failures propagate so the delivery is retried.
func (s *Service) reconcile(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case CheckoutCompleted:
		if e.UserID == uuid.Nil || e.SubscriptionID == "" {
			// Metadata is written at session creation; its absence is
			// permanent for this event, so retrying is pointless.
			s.log.ErrorContext(ctx, "checkout event missing correlation metadata",
				logger.Event(e.Kind()), logger.CustomerID(e.CustomerID), logger.SubscriptionID(e.SubscriptionID))
			return nil
		}
		// The price id is derived rather than trusted from the event; an
		// unknown (plan, cycle) pair in metadata leaves it empty.
		priceID, perr := s.catalog.Resolve(e.PlanName, e.BillingCycle)
		if perr != nil {
			s.log.WarnContext(ctx, "checkout metadata names an unknown plan",
				"event", e.Kind(), "plan", e.PlanName, "billing_cycle", e.BillingCycle)
		}
		if err := s.store.RecordCheckout(ctx, CheckoutRecord{
			UserID:         e.UserID,
			CustomerID:     e.CustomerID,
			SubscriptionID: e.SubscriptionID,
			PriceID:        priceID,
			PlanName:       e.PlanName,
			BillingCycle:   e.BillingCycle,
		}); err != nil {
			return fmt.Errorf("record checkout: %w", err)
		}
		s.log.InfoContext(ctx, "checkout completed",
			logger.Event(e.Kind()), logger.UserID(e.UserID), "plan", e.PlanName,
			logger.SubscriptionID(e.SubscriptionID))
		return nil

	case InvoicePaid:
		userID, err := s.store.MarkInvoicePaid(ctx, e.CustomerID, e.PeriodEnd)
		return s.finishTransition(ctx, e, userID, "subscription activated", err,
			logger.CustomerID(e.CustomerID))

	case InvoicePaymentFailed:
		userID, err := s.store.MarkPaymentFailed(ctx, e.CustomerID)
		return s.finishTransition(ctx, e, userID, "subscription past due", err,
			logger.CustomerID(e.CustomerID))

	case SubscriptionUpdated:
		userID, err := s.store.SyncProviderState(ctx, e.CustomerID, e.Status, e.PeriodEnd)
		return s.finishTransition(ctx, e, userID, "subscription state synced", err,
			logger.CustomerID(e.CustomerID), "status", string(e.Status))

	case SubscriptionDeleted:
		userID, err := s.store.MarkCanceled(ctx, e.SubscriptionID, time.Now().UTC())
		return s.finishTransition(ctx, e, userID, "subscription canceled", err,
			logger.SubscriptionID(e.SubscriptionID))

	case UnhandledEvent:
		s.log.DebugContext(ctx, "ignoring event", "event", e.Kind())
		return nil

	default:
		s.log.WarnContext(ctx, "unknown event variant", "event", event.Kind())
		return nil
	}
}

// finishTransition implements the shared tail of every keyed transition:
// acknowledge correlation misses, propagate write failures, log success.
func (s *Service) finishTransition(ctx context.Context, event Event, userID uuid.UUID, msg string, err error, attrs ...any) error {
	if errors.Is(err, ErrSubscriptionNotFound) {
		s.log.WarnContext(ctx, "event does not correlate to a local subscription",
			append([]any{logger.Event(event.Kind())}, attrs...)...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", event.Kind(), err)
	}
	s.log.InfoContext(ctx, msg,
		append([]any{logger.Event(event.Kind()), logger.UserID(userID)}, attrs...)...)
	return nil
}
