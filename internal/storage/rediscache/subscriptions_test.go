package rediscache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ancestorii/ancestorii/internal/billing"
	"github.com/ancestorii/ancestorii/internal/storage/rediscache"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *mockStore) CustomerID(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	args := m.Called(ctx, userID, customerID)
	return args.String(0), args.Error(1)
}

func (m *mockStore) RecordCheckout(ctx context.Context, rec billing.CheckoutRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockStore) MarkInvoicePaid(ctx context.Context, customerID string, periodEnd time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, customerID, periodEnd)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockStore) MarkPaymentFailed(ctx context.Context, customerID string) (uuid.UUID, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockStore) SyncProviderState(ctx context.Context, customerID string, status billing.Status, periodEnd time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, customerID, status, periodEnd)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockStore) MarkCanceled(ctx context.Context, subscriptionID string, canceledAt time.Time) (uuid.UUID, error) {
	args := m.Called(ctx, subscriptionID, canceledAt)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockStore) HasActiveAccess(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestHasActiveAccessCaching(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("cold read populates cache", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Once()

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)

		// Warm read must not touch the underlying store again.
		active, err = cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)
		next.AssertNumberOfCalls(t, "HasActiveAccess", 1)
	})

	t.Run("denials are cached too", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		next.On("HasActiveAccess", mock.Anything, userID).Return(false, nil).Once()

		for i := 0; i < 3; i++ {
			active, err := cache.HasActiveAccess(context.Background(), userID)
			require.NoError(t, err)
			assert.False(t, active)
		}
		next.AssertNumberOfCalls(t, "HasActiveAccess", 1)
	})

	t.Run("store error propagates and is not cached", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		next.On("HasActiveAccess", mock.Anything, userID).Return(false, errors.New("db down")).Once()
		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Once()

		_, err := cache.HasActiveAccess(context.Background(), userID)
		require.Error(t, err)

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		mr := miniredis.RunT(t)
		cache := rediscache.New(next, redis.NewClient(&redis.Options{Addr: mr.Addr()}),
			rediscache.WithTTL(5*time.Second))

		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Twice()

		_, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)

		mr.FastForward(6 * time.Second)

		_, err = cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		next.AssertNumberOfCalls(t, "HasActiveAccess", 2)
	})

	t.Run("redis outage degrades to store", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache := rediscache.New(next, client)
		mr.Close()

		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil)

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)
	})
}

func TestWriteInvalidation(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("reconciler write drops cached answer", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Once()
		next.On("HasActiveAccess", mock.Anything, userID).Return(false, nil).Once()
		next.On("MarkCanceled", mock.Anything, "sub_1", mock.Anything).Return(userID, nil)

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)

		_, err = cache.MarkCanceled(context.Background(), "sub_1", time.Now())
		require.NoError(t, err)

		active, err = cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("checkout record invalidates by user id", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		rec := billing.CheckoutRecord{UserID: userID, CustomerID: "cus_1", SubscriptionID: "sub_1"}
		next.On("HasActiveAccess", mock.Anything, userID).Return(false, nil).Once()
		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Once()
		next.On("RecordCheckout", mock.Anything, rec).Return(nil)

		_, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)

		require.NoError(t, cache.RecordCheckout(context.Background(), rec))

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("failed write does not invalidate", func(t *testing.T) {
		t.Parallel()

		next := &mockStore{}
		cache := rediscache.New(next, testRedis(t))

		next.On("HasActiveAccess", mock.Anything, userID).Return(true, nil).Once()
		next.On("MarkPaymentFailed", mock.Anything, "cus_1").
			Return(uuid.Nil, billing.ErrSubscriptionNotFound)

		active, err := cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)

		_, err = cache.MarkPaymentFailed(context.Background(), "cus_1")
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		// Still warm: the store was never called a second time.
		active, err = cache.HasActiveAccess(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, active)
		next.AssertNumberOfCalls(t, "HasActiveAccess", 1)
	})
}
