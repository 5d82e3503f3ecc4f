// Package rediscache decorates the billing store with a short-lived Redis
// cache for entitlement reads. The entitlement gate runs on every
// protected request, so the hot answer is served from Redis; writes from
// the webhook reconciler invalidate the affected user's entry. Cache
// failures degrade to the underlying store, never to a different answer.
package rediscache

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ancestorii/ancestorii/internal/billing"
)

const accessKeyPrefix = "billing:access:"

// SubscriptionStore wraps a billing.Store with cached entitlement reads.
type SubscriptionStore struct {
	next billing.Store
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

var _ billing.Store = (*SubscriptionStore)(nil)

// Option configures the cache decorator.
type Option func(*SubscriptionStore)

// WithTTL sets the entitlement cache lifetime. The TTL bounds how long a
// stale answer can survive a missed invalidation, so it stays short.
func WithTTL(d time.Duration) Option {
	return func(s *SubscriptionStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLogger supplies an external slog.Logger. If unset, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *SubscriptionStore) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates the caching decorator. Panics if dependencies are nil.
func New(next billing.Store, rdb *redis.Client, opts ...Option) *SubscriptionStore {
	if next == nil {
		panic("rediscache: underlying store is required")
	}
	if rdb == nil {
		panic("rediscache: redis client is required")
	}

	s := &SubscriptionStore{
		next: next,
		rdb:  rdb,
		ttl:  30 * time.Second,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func accessKey(userID uuid.UUID) string {
	return accessKeyPrefix + userID.String()
}

// HasActiveAccess serves warm entitlement answers from Redis. Both grants
// and denials are cached; any cache error falls through to the store.
func (s *SubscriptionStore) HasActiveAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := accessKey(userID)

	cached, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached == "1", nil
	case err != redis.Nil:
		s.log.WarnContext(ctx, "entitlement cache read failed", "user_id", userID, "error", err)
	}

	active, err := s.next.HasActiveAccess(ctx, userID)
	if err != nil {
		return false, err
	}

	value := "0"
	if active {
		value = "1"
	}
	if err := s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		s.log.WarnContext(ctx, "entitlement cache write failed", "user_id", userID, "error", err)
	}
	return active, nil
}

// invalidate drops the cached entitlement for a user after a state
// transition. A failed delete is only logged; the TTL caps the staleness.
func (s *SubscriptionStore) invalidate(ctx context.Context, userID uuid.UUID) {
	if userID == uuid.Nil {
		return
	}
	if err := s.rdb.Del(ctx, accessKey(userID)).Err(); err != nil {
		s.log.WarnContext(ctx, "entitlement cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (s *SubscriptionStore) Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	return s.next.Get(ctx, userID)
}

func (s *SubscriptionStore) CustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.next.CustomerID(ctx, userID)
}

func (s *SubscriptionStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	return s.next.SetCustomerID(ctx, userID, customerID)
}

func (s *SubscriptionStore) RecordCheckout(ctx context.Context, rec billing.CheckoutRecord) error {
	if err := s.next.RecordCheckout(ctx, rec); err != nil {
		return err
	}
	s.invalidate(ctx, rec.UserID)
	return nil
}

func (s *SubscriptionStore) MarkInvoicePaid(ctx context.Context, customerID string, periodEnd time.Time) (uuid.UUID, error) {
	userID, err := s.next.MarkInvoicePaid(ctx, customerID, periodEnd)
	if err != nil {
		return userID, err
	}
	s.invalidate(ctx, userID)
	return userID, nil
}

func (s *SubscriptionStore) MarkPaymentFailed(ctx context.Context, customerID string) (uuid.UUID, error) {
	userID, err := s.next.MarkPaymentFailed(ctx, customerID)
	if err != nil {
		return userID, err
	}
	s.invalidate(ctx, userID)
	return userID, nil
}

func (s *SubscriptionStore) SyncProviderState(ctx context.Context, customerID string, status billing.Status, periodEnd time.Time) (uuid.UUID, error) {
	userID, err := s.next.SyncProviderState(ctx, customerID, status, periodEnd)
	if err != nil {
		return userID, err
	}
	s.invalidate(ctx, userID)
	return userID, nil
}

func (s *SubscriptionStore) MarkCanceled(ctx context.Context, subscriptionID string, canceledAt time.Time) (uuid.UUID, error) {
	userID, err := s.next.MarkCanceled(ctx, subscriptionID, canceledAt)
	if err != nil {
		return userID, err
	}
	s.invalidate(ctx, userID)
	return userID, nil
}
