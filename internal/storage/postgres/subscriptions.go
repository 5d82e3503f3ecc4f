// Package postgres implements the billing store on pgx. Every mutation is
// a single statement, so concurrent webhook deliveries for the same
// subscription serialize on the row without any in-process locking.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ancestorii/ancestorii/internal/billing"
	"github.com/ancestorii/ancestorii/pkg/pg"
)

// SubscriptionStore is the pgx-backed billing.Store.
type SubscriptionStore struct {
	db *pgxpool.Pool
}

var _ billing.Store = (*SubscriptionStore)(nil)

func NewSubscriptionStore(db *pgxpool.Pool) *SubscriptionStore {
	if db == nil {
		panic("postgres: db pool is required")
	}
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	const q = `
		SELECT user_id, stripe_customer_id, stripe_subscription_id,
		       plan_id, plan_name, billing_cycle, status,
		       current_period_end, started_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1`

	var (
		sub            billing.Subscription
		customerID     *string
		subscriptionID *string
		priceID        *string
		planName       *string
		billingCycle   *string
		status         *string
	)
	err := s.db.QueryRow(ctx, q, userID).Scan(
		&sub.UserID, &customerID, &subscriptionID,
		&priceID, &planName, &billingCycle, &status,
		&sub.CurrentPeriodEnd, &sub.StartedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	if customerID != nil {
		sub.CustomerID = *customerID
	}
	if subscriptionID != nil {
		sub.SubscriptionID = *subscriptionID
	}
	if priceID != nil {
		sub.PriceID = *priceID
	}
	if planName != nil {
		sub.PlanName = billing.PlanName(*planName)
	}
	if billingCycle != nil {
		sub.BillingCycle = billing.BillingCycle(*billingCycle)
	}
	if status != nil {
		sub.Status = billing.Status(*status)
	}
	return &sub, nil
}

func (s *SubscriptionStore) CustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	const q = `SELECT stripe_customer_id FROM subscriptions WHERE user_id = $1`

	var customerID *string
	err := s.db.QueryRow(ctx, q, userID).Scan(&customerID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", nil
		}
		return "", fmt.Errorf("lookup customer id: %w", err)
	}
	if customerID == nil {
		return "", nil
	}
	return *customerID, nil
}

// SetCustomerID creates the row at first checkout initiation. The COALESCE
// keeps whichever customer id was persisted first, so two racing checkout
// requests converge on one customer; RETURNING exposes the winner.
func (s *SubscriptionStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	const q = `
		INSERT INTO subscriptions (user_id, stripe_customer_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = COALESCE(subscriptions.stripe_customer_id, EXCLUDED.stripe_customer_id),
			updated_at = now()
		RETURNING stripe_customer_id`

	var persisted string
	if err := s.db.QueryRow(ctx, q, userID, customerID).Scan(&persisted); err != nil {
		return "", fmt.Errorf("set customer id: %w", err)
	}
	return persisted, nil
}

// RecordCheckout upserts the completed-checkout state. The subscription
// id decides how status is written: the same id (replay) or a NULL id
// (events for this subscription arrived first) never regresses a status a
// later event already advanced, while a different id is a genuinely new
// checkout and restarts the row at trialing, so a canceled user who buys
// again regains access immediately.
func (s *SubscriptionStore) RecordCheckout(ctx context.Context, rec billing.CheckoutRecord) error {
	const q = `
		INSERT INTO subscriptions
			(user_id, stripe_customer_id, stripe_subscription_id, plan_id, plan_name, billing_cycle, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'trialing', now())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id     = COALESCE(subscriptions.stripe_customer_id, EXCLUDED.stripe_customer_id),
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			plan_id                = EXCLUDED.plan_id,
			plan_name              = EXCLUDED.plan_name,
			billing_cycle          = EXCLUDED.billing_cycle,
			status                 = CASE
				WHEN subscriptions.stripe_subscription_id IS NULL
				  OR subscriptions.stripe_subscription_id = EXCLUDED.stripe_subscription_id
					THEN COALESCE(subscriptions.status, 'trialing')
				ELSE 'trialing'
			END,
			started_at             = COALESCE(subscriptions.started_at, now()),
			updated_at             = now()`

	_, err := s.db.Exec(ctx, q,
		rec.UserID, rec.CustomerID, rec.SubscriptionID,
		rec.PriceID, string(rec.PlanName), string(rec.BillingCycle))
	if err != nil {
		return fmt.Errorf("record checkout: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) MarkInvoicePaid(ctx context.Context, customerID string, periodEnd time.Time) (uuid.UUID, error) {
	const q = `
		UPDATE subscriptions
		SET status = 'active',
		    current_period_end = COALESCE($2, current_period_end),
		    updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING user_id`

	return s.keyedUpdate(ctx, q, "mark invoice paid", customerID, nullableTime(periodEnd))
}

func (s *SubscriptionStore) MarkPaymentFailed(ctx context.Context, customerID string) (uuid.UUID, error) {
	const q = `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING user_id`

	return s.keyedUpdate(ctx, q, "mark payment failed", customerID)
}

func (s *SubscriptionStore) SyncProviderState(ctx context.Context, customerID string, status billing.Status, periodEnd time.Time) (uuid.UUID, error) {
	const q = `
		UPDATE subscriptions
		SET status = $2,
		    current_period_end = COALESCE($3, current_period_end),
		    updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING user_id`

	return s.keyedUpdate(ctx, q, "sync provider state", customerID, string(status), nullableTime(periodEnd))
}

func (s *SubscriptionStore) MarkCanceled(ctx context.Context, subscriptionID string, canceledAt time.Time) (uuid.UUID, error) {
	const q = `
		UPDATE subscriptions
		SET status = 'canceled', current_period_end = $2, updated_at = now()
		WHERE stripe_subscription_id = $1
		RETURNING user_id`

	return s.keyedUpdate(ctx, q, "mark canceled", subscriptionID, canceledAt)
}

// HasActiveAccess runs the server-side entitlement predicate, keeping the
// status-to-access policy in one place shared with SQL-level consumers.
func (s *SubscriptionStore) HasActiveAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	var active bool
	if err := s.db.QueryRow(ctx, `SELECT has_active_access($1)`, userID).Scan(&active); err != nil {
		return false, fmt.Errorf("entitlement lookup: %w", err)
	}
	return active, nil
}

// keyedUpdate runs an UPDATE ... RETURNING user_id statement. No matching
// row maps to billing.ErrSubscriptionNotFound, the correlation-miss signal
// the reconciler acknowledges instead of retrying.
func (s *SubscriptionStore) keyedUpdate(ctx context.Context, q, op string, args ...any) (uuid.UUID, error) {
	var userID uuid.UUID
	if err := s.db.QueryRow(ctx, q, args...).Scan(&userID); err != nil {
		if pg.IsNotFoundError(err) {
			return uuid.Nil, billing.ErrSubscriptionNotFound
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}

// nullableTime converts the zero time to SQL NULL so COALESCE in the
// statement can keep the stored value.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
