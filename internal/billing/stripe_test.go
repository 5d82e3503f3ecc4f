package billing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func testGateway(t *testing.T, apiURL string) *StripeGateway {
	t.Helper()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(apiURL),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		MaxNetworkRetries: stripe.Int64(0),
	})
	api := &client.API{}
	api.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeGateway{
		api:           api,
		webhookSecret: testWebhookSecret,
		trialDays:     14,
		successURL:    "https://ancestorii.com/account?checkout=success",
		cancelURL:     "https://ancestorii.com/pricing?checkout=canceled",
	}
}

// signPayload produces a Stripe-Signature header valid for the payload,
// using the same scheme the SDK verifies.
func signPayload(payload []byte, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func eventPayload(t *testing.T, eventType string, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_test_1",
		"type": eventType,
		"data": map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	return payload
}

func TestParseWebhookSignature(t *testing.T) {
	t.Parallel()

	g := testGateway(t, "http://unused.invalid")
	payload := eventPayload(t, "invoice.paid", map[string]any{"id": "in_1", "customer": "cus_1"})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()

		_, err := g.ParseWebhook(payload, "")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()

		sig := webhook.ComputeSignature(time.Now(), payload, "whsec_other")
		header := fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), hex.EncodeToString(sig))
		_, err := g.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		header := signPayload(payload, time.Now())
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = 'x'
		_, err := g.ParseWebhook(tampered, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()

		header := signPayload(payload, time.Now().Add(-time.Hour))
		_, err := g.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)
		assert.IsType(t, InvoicePaid{}, event)
	})
}

func TestParseWebhookDecode(t *testing.T) {
	t.Parallel()

	g := testGateway(t, "http://unused.invalid")
	userID := uuid.New()

	t.Run("checkout session completed", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "checkout.session.completed", map[string]any{
			"id":           "cs_1",
			"customer":     "cus_1",
			"subscription": "sub_1",
			"metadata": map[string]string{
				"user_id":       userID.String(),
				"plan":          "standard",
				"billing_cycle": "monthly",
			},
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)

		checkout, ok := event.(CheckoutCompleted)
		require.True(t, ok)
		assert.Equal(t, userID, checkout.UserID)
		assert.Equal(t, PlanStandard, checkout.PlanName)
		assert.Equal(t, CycleMonthly, checkout.BillingCycle)
		assert.Equal(t, "cus_1", checkout.CustomerID)
		assert.Equal(t, "sub_1", checkout.SubscriptionID)
	})

	t.Run("checkout session without metadata keeps nil user id", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "checkout.session.completed", map[string]any{
			"id":           "cs_2",
			"customer":     "cus_1",
			"subscription": "sub_1",
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)

		checkout, ok := event.(CheckoutCompleted)
		require.True(t, ok)
		assert.Equal(t, uuid.Nil, checkout.UserID)
	})

	t.Run("invoice paid carries period end from first line", func(t *testing.T) {
		t.Parallel()

		periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
		payload := eventPayload(t, "invoice.paid", map[string]any{
			"id":       "in_1",
			"customer": "cus_1",
			"lines": map[string]any{
				"data": []map[string]any{
					{"period": map[string]int64{"start": periodEnd - 2592000, "end": periodEnd}},
				},
			},
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)

		paid, ok := event.(InvoicePaid)
		require.True(t, ok)
		assert.Equal(t, "cus_1", paid.CustomerID)
		assert.Equal(t, time.Unix(periodEnd, 0).UTC(), paid.PeriodEnd)
	})

	t.Run("invoice payment failed", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "invoice.payment_failed", map[string]any{
			"id":       "in_2",
			"customer": "cus_1",
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, InvoicePaymentFailed{CustomerID: "cus_1"}, event)
	})

	t.Run("subscription updated maps status", func(t *testing.T) {
		t.Parallel()

		periodEnd := time.Now().Add(365 * 24 * time.Hour).Unix()
		payload := eventPayload(t, "customer.subscription.updated", map[string]any{
			"id":                 "sub_1",
			"customer":           "cus_1",
			"status":             "past_due",
			"current_period_end": periodEnd,
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)

		updated, ok := event.(SubscriptionUpdated)
		require.True(t, ok)
		assert.Equal(t, StatusPastDue, updated.Status)
		assert.Equal(t, "cus_1", updated.CustomerID)
		assert.Equal(t, time.Unix(periodEnd, 0).UTC(), updated.PeriodEnd)
	})

	t.Run("subscription updated with transitional status is unhandled", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "customer.subscription.updated", map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "incomplete",
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)
		assert.IsType(t, UnhandledEvent{}, event)
	})

	t.Run("subscription deleted keyed by subscription id", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "customer.subscription.deleted", map[string]any{
			"id":       "sub_1",
			"customer": "cus_1",
			"status":   "canceled",
		})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, SubscriptionDeleted{SubscriptionID: "sub_1"}, event)
	})

	t.Run("unrecognized event type is unhandled", func(t *testing.T) {
		t.Parallel()

		payload := eventPayload(t, "customer.updated", map[string]any{"id": "cus_1"})

		event, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, UnhandledEvent{Type: "customer.updated"}, event)
	})

	t.Run("undecodable object reports the sentinel", func(t *testing.T) {
		t.Parallel()

		// A scalar where the subscription object belongs: verified bytes
		// that can never decode, no matter how often they are redelivered.
		payload := eventPayload(t, "customer.subscription.updated", 42)

		_, err := g.ParseWebhook(payload, signPayload(payload, time.Now()))
		assert.ErrorIs(t, err, ErrUndecodablePayload)
	})
}

func TestMapSubscriptionStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     stripe.SubscriptionStatus
		want   Status
		mapped bool
	}{
		{stripe.SubscriptionStatusTrialing, StatusTrialing, true},
		{stripe.SubscriptionStatusActive, StatusActive, true},
		{stripe.SubscriptionStatusPastDue, StatusPastDue, true},
		{stripe.SubscriptionStatusUnpaid, StatusPastDue, true},
		{stripe.SubscriptionStatusCanceled, StatusCanceled, true},
		{stripe.SubscriptionStatusIncompleteExpired, StatusCanceled, true},
		{stripe.SubscriptionStatusIncomplete, "", false},
		{stripe.SubscriptionStatusPaused, "", false},
	}

	for _, tc := range cases {
		got, ok := mapSubscriptionStatus(tc.in)
		assert.Equal(t, tc.mapped, ok, "status %s", tc.in)
		assert.Equal(t, tc.want, got, "status %s", tc.in)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "cus_1", r.Form.Get("customer"))
		assert.Equal(t, "subscription", r.Form.Get("mode"))
		assert.Equal(t, "price_std_m", r.Form.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.Form.Get("line_items[0][quantity]"))
		assert.Equal(t, "14", r.Form.Get("subscription_data[trial_period_days]"))
		assert.Equal(t, userID.String(), r.Form.Get("metadata[user_id]"))
		assert.Equal(t, "standard", r.Form.Get("metadata[plan]"))
		assert.Equal(t, "monthly", r.Form.Get("metadata[billing_cycle]"))
		assert.Equal(t, userID.String(), r.Form.Get("subscription_data[metadata][user_id]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_1","url":"https://checkout.stripe.com/c/pay/cs_1"}`)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	url, err := g.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		UserID:       userID,
		CustomerID:   "cus_1",
		PriceID:      "price_std_m",
		PlanName:     PlanStandard,
		BillingCycle: CycleMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", url)
}

func TestCreateCustomer(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/customers", r.URL.Path)
		assert.Equal(t, "elena@example.com", r.Form.Get("email"))
		assert.Equal(t, userID.String(), r.Form.Get("metadata[user_id]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cus_new"}`)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	id, err := g.CreateCustomer(context.Background(), userID, "elena@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
}

func TestCreateCheckoutSessionProviderDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"type":"api_error"}}`)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	_, err := g.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		UserID:       uuid.New(),
		CustomerID:   "cus_1",
		PriceID:      "price_std_m",
		PlanName:     PlanStandard,
		BillingCycle: CycleMonthly,
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
