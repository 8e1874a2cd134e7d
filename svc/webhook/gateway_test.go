package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceradar/billingkit/pkg/billing"
	"github.com/priceradar/billingkit/pkg/idempotency"
	"github.com/priceradar/billingkit/pkg/plans"
	"github.com/priceradar/billingkit/pkg/ratelimit"
	"github.com/priceradar/billingkit/pkg/signature"
	"github.com/priceradar/billingkit/svc/webhook"
)

const testSecret = "test-webhook-secret"

type testEnv struct {
	store       *billing.MemoryStore
	deadLetters *billing.MemoryDeadLetterStore
	server      *httptest.Server
}

func newTestEnv(t *testing.T, rateCfg ratelimit.Config) *testEnv {
	t.Helper()

	catalog, err := plans.NewCatalog(context.Background(), plans.NewStaticSource(
		plans.Plan{ProductID: "PID_PRO", Tier: plans.TierPro, Name: "Pro", DurationMonths: 1},
	))
	require.NoError(t, err)

	store := billing.NewMemoryStore()
	svc := billing.NewService(store, catalog)

	idemStore := idempotency.NewMemoryStore(idempotency.WithSweepInterval(0))
	t.Cleanup(idemStore.Close)
	guard := idempotency.NewGuard(idemStore, 5*time.Minute)

	rlStore := ratelimit.NewMemoryStore(ratelimit.WithCleanupInterval(0))
	t.Cleanup(rlStore.Close)
	limiter, err := ratelimit.New(rlStore, rateCfg)
	require.NoError(t, err)

	deadLetters := billing.NewMemoryDeadLetterStore()

	gateway := webhook.NewGateway(webhook.Config{
		Secret:            testSecret,
		SignatureHeader:   "X-Signature",
		MaxBodyBytes:      1 << 20,
		IdempotencyWindow: 5 * time.Minute,
	}, svc, guard, webhook.WithDeadLetterStore(deadLetters))

	server := httptest.NewServer(gateway.Router(limiter))
	t.Cleanup(server.Close)

	return &testEnv{store: store, deadLetters: deadLetters, server: server}
}

func defaultRateCfg() ratelimit.Config {
	return ratelimit.Config{Capacity: 100, RefillRate: 100, RefillInterval: 15 * time.Minute}
}

func orderPaidBody(t *testing.T, orderID, productID, email string) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"event": "order.paid",
		"data": map[string]any{
			"order_id":   orderID,
			"product_id": productID,
			"currency":   "USD",
			"customer":   map[string]any{"id": "cust-1", "email": email, "name": "A"},
			"payment":    map[string]any{"amount": 6700, "method": "card", "status": "paid"},
		},
	})
	require.NoError(t, err)
	return body
}

func (e *testEnv) post(t *testing.T, body []byte, sig string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/webhooks/payments", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set("X-Signature", sig)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var parsed map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func TestGatewayProcessesPaidOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultRateCfg())
	body := orderPaidBody(t, "A1", "PID_PRO", "a@x.com")

	resp, parsed := env.post(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parsed["success"])

	ctx := context.Background()
	sub, err := env.store.SubscriptionByOrderID(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, plans.TierPro, sub.Plan)
	assert.Equal(t, billing.StatusActive, sub.Status)

	user, err := env.store.UserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, plans.TierPro, user.Plan)
}

func TestGatewayIdempotency(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultRateCfg())
	body := orderPaidBody(t, "B1", "PID_PRO", "b@x.com")
	sig := signature.Sign(testSecret, body)

	resp, _ := env.post(t, body, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, parsed := env.post(t, body, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parsed["success"])
	assert.Equal(t, "duplicate event ignored", parsed["message"])

	sub, err := env.store.SubscriptionByOrderID(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, sub.Status)
}

func TestGatewaySignatureEnforcement(t *testing.T) {
	t.Parallel()

	t.Run("tampered body is rejected without mutation", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, defaultRateCfg())
		body := orderPaidBody(t, "C1", "PID_PRO", "c@x.com")
		sig := signature.Sign(testSecret, body)

		tampered := bytes.Replace(body, []byte("c@x.com"), []byte("e@x.com"), 1)
		resp, parsed := env.post(t, tampered, sig)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, false, parsed["success"])

		_, err := env.store.SubscriptionByOrderID(context.Background(), "C1")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("missing signature is rejected", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, defaultRateCfg())
		body := orderPaidBody(t, "C2", "PID_PRO", "c2@x.com")

		resp, _ := env.post(t, body, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestGatewayValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing event name", `{"data":{"order_id":"D1","customer":{"email":"d@x.com"}}}`},
		{"missing data", `{"event":"order.paid"}`},
		{"order event without order_id", `{"event":"order.paid","data":{"customer":{"email":"d@x.com"}}}`},
		{"order event without email", `{"event":"order.paid","data":{"order_id":"D1","customer":{}}}`},
		{"subscription event without order_id", `{"event":"subscription.renewed","data":{"customer":{"email":"d@x.com"}}}`},
		{"malformed JSON", `{"event":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, defaultRateCfg())
			body := []byte(tt.body)

			resp, _ := env.post(t, body, signature.Sign(testSecret, body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGatewayRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, ratelimit.Config{
		Capacity:       2,
		RefillRate:     2,
		RefillInterval: 15 * time.Minute,
	})
	body := orderPaidBody(t, "E1", "PID_PRO", "e@x.com")
	sig := signature.Sign(testSecret, body)

	for range 2 {
		resp, _ := env.post(t, body, sig)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
	}

	resp, _ := env.post(t, body, sig)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestGatewaySwallowsDomainErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultRateCfg())
	// PID_NOPE is not in the catalog: processing fails internally but
	// the processor still gets a 200 so it never retries.
	body := orderPaidBody(t, "F1", "PID_NOPE", "f@x.com")

	resp, parsed := env.post(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parsed["success"])

	letters, err := env.deadLetters.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1, "failed processing must be dead-lettered")
	assert.Equal(t, "F1", letters[0].Event.OrderID)
}

func TestGatewayAcknowledgesUnknownEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultRateCfg())
	body := []byte(`{"event":"order.shipped","data":{"order_id":"G1","customer":{"email":"g@x.com"}}}`)

	resp, parsed := env.post(t, body, signature.Sign(testSecret, body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parsed["success"])

	_, err := env.store.SubscriptionByOrderID(context.Background(), "G1")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}
