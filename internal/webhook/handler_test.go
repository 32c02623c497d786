package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairsync/internal/db"
	"repairsync/internal/domain"
	"repairsync/internal/engine"
	"repairsync/internal/events"
	"repairsync/internal/metrics"
	"repairsync/internal/middleware"
	"repairsync/internal/migrate"
	"repairsync/internal/repo"
	"repairsync/internal/status"
	"repairsync/internal/webhook"
)

const testSecret = "s3cret"

type harness struct {
	URL     string
	Repo    repo.Repo
	Metrics *metrics.Metrics
}

type failingSink struct{}

func (failingSink) Append(context.Context, domain.WebhookAuditRecord) error {
	return errors.New("disk full")
}

func newHarness(t *testing.T, sink webhook.AuditSink, opts ...func(*webhook.Options)) harness {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, dialect)
	require.NoError(t, err)
	r := repo.New(conn, dialect)
	require.NoError(t, r.UpsertStatus(context.Background(), domain.StatusDefinition{StatusID: 7, Locale: "uk", Name: "Нове", Color: "blue", UpdatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.UpsertStatus(context.Background(), domain.StatusDefinition{StatusID: 7, Locale: "en", Name: "New", Color: "blue", UpdatedAt: "2024-01-01T00:00:00Z"}))

	cache, err := status.NewCache(16)
	require.NoError(t, err)
	eng := engine.New(r, status.NewLookup(r, cache), nil, engine.Options{})
	m := metrics.New()
	if sink == nil {
		sink = events.Writer{DB: conn, Dialect: dialect}
	}
	o := webhook.Options{
		Verifier: webhook.Verifier{Secret: testSecret, TestSignature: webhook.DefaultTestSignature},
		Metrics:  m,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := webhook.NewHandler(webhook.NewRouter(eng), sink, o)
	srv := httptest.NewServer(middleware.RequestID(false)(h))
	t.Cleanup(srv.Close)
	return harness{URL: srv.URL, Repo: r, Metrics: m}
}

func payload(event string, objectID int64) string {
	return fmt.Sprintf(`{
  "id": "evt-%d",
  "created_at": "2024-03-01T10:00:00Z",
  "event_name": %q,
  "context": {"object_id": %d, "object_type": "order"},
  "metadata": {
    "order": {"id": %d, "name": "A-%d"},
    "client": {"id": 500, "fullname": "Olena Petrenko"},
    "status": {"id": 7},
    "asset": {"id": 3, "name": "Apple iPhone 12"}
  },
  "employee": {"id": 1, "full_name": "Ivan", "email": "ivan@example.com"}
}`, objectID, event, objectID, objectID, objectID)
}

type response struct {
	Code      int
	Body      map[string]any
	RequestID string
}

func (h harness) post(t *testing.T, body, signature, query string) response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.URL+query, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhook.DefaultSignatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := response{Code: resp.StatusCode, RequestID: resp.Header.Get(middleware.RequestIDHeader)}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.Body))
	return out
}

func (h harness) auditCounts(t *testing.T, requestID string) map[string]int {
	t.Helper()
	counts, err := h.Repo.CountWebhookLogsByStatus(context.Background(), requestID)
	require.NoError(t, err)
	return counts
}

func TestSentinelSignatureBypassesCheck(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload(engine.OrderCreated, 42), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Body["success"])
	assert.Equal(t, "Order 42 created", res.Body["message"])
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditSuccess: 1}, h.auditCounts(t, res.RequestID))

	o, err := h.Repo.FindByExternalID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Нове", o.StatusName)
	assert.Equal(t, "Apple iPhone 12", o.DeviceName)
}

func TestInvalidSignatureRejected(t *testing.T) {
	h := newHarness(t, nil)
	for _, sig := range []string{"", "wrong"} {
		res := h.post(t, payload(engine.OrderCreated, 42), sig, "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, "Invalid signature", res.Body["error"])
		assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))
	}
	_, err := h.Repo.FindByExternalID(context.Background(), 42)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEmptySecretRejectsUnsignedDeliveries(t *testing.T) {
	noSecret := func(o *webhook.Options) { o.Verifier.Secret = "" }
	h := newHarness(t, nil, noSecret)
	res := h.post(t, payload(engine.OrderCreated, 42), webhook.DefaultTestSignature, "")
	require.Equal(t, http.StatusOK, res.Code)

	for _, sig := range []string{"", "definitely-wrong"} {
		res = h.post(t, payload(engine.OrderCancelled, 42), sig, "")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))
	}
	_, err := h.Repo.FindByExternalID(context.Background(), 42)
	require.NoError(t, err)

	unsigned := newHarness(t, nil, noSecret, func(o *webhook.Options) { o.Verifier.AllowUnsigned = true })
	res = unsigned.post(t, payload(engine.OrderCreated, 43), "definitely-wrong", "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestSecretAndHMACSignaturesAccepted(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload(engine.OrderUpdated, 1), testSecret, "")
	assert.Equal(t, http.StatusOK, res.Code)

	body := payload(engine.OrderUpdated, 2)
	res = h.post(t, body, webhook.Sign(testSecret, []byte(body)), "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Order 2 created", res.Body["message"])
}

func TestUnknownEventAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload("Inventory.Adjusted", 9), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Body["success"])
	assert.Equal(t, "Event Inventory.Adjusted received but not processed", res.Body["message"])
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditSuccess: 1}, h.auditCounts(t, res.RequestID))
}

func TestMissingEventName(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload("", 9), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "No event type", res.Body["error"])
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))

	logs, err := h.Repo.ListWebhookLogs(context.Background(), repo.WebhookLogFilters{RequestID: res.RequestID})
	require.NoError(t, err)
	for _, l := range logs {
		assert.Equal(t, "unknown", l.EventType)
	}
}

func TestInvalidPayloadShape(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, `{"id":"1","event_name":"Order.Created","context":{"object_id":0}}`, webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Invalid payload", res.Body["error"])
	assert.Contains(t, res.Body["details"], "context.object_id")
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))
}

func TestUnparseableBody(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, `{"event_name":`, webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, false, res.Body["success"])
	assert.Equal(t, "Failed to process webhook", res.Body["error"])
	assert.NotEmpty(t, res.Body["details"])
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditError: 1}, h.auditCounts(t, res.RequestID))
}

func TestWrongFieldTypeIsInvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	body := strings.Replace(payload(engine.OrderCreated, 42), `"object_id": 42`, `"object_id": "42"`, 1)
	res := h.post(t, body, webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "Invalid payload", res.Body["error"])
	assert.Contains(t, res.Body["details"], "context.object_id")
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))

	logs, err := h.Repo.ListWebhookLogs(context.Background(), repo.WebhookLogFilters{RequestID: res.RequestID})
	require.NoError(t, err)
	for _, l := range logs {
		assert.Equal(t, engine.OrderCreated, l.EventType)
	}

	res = h.post(t, body, "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestThrottledDeliveryIsAudited(t *testing.T) {
	h := newHarness(t, nil, func(o *webhook.Options) { o.Limiter = middleware.NewLimiter(0.001, 1) })
	res := h.post(t, payload(engine.OrderCreated, 42), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusOK, res.Code)

	res = h.post(t, payload(engine.OrderCreated, 43), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Equal(t, "Too many requests", res.Body["error"])
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditFailed: 1}, h.auditCounts(t, res.RequestID))
	_, err := h.Repo.FindByExternalID(context.Background(), 43)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDomainErrorReturns500(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload(engine.OrderStatusChanged, 404), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, false, res.Body["success"])
	assert.Contains(t, res.Body["details"], "failed to update order status")
	assert.Equal(t, map[string]int{domain.AuditReceived: 1, domain.AuditError: 1}, h.auditCounts(t, res.RequestID))

	logs, err := h.Repo.ListWebhookLogs(context.Background(), repo.WebhookLogFilters{RequestID: res.RequestID, Status: domain.AuditError})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotNil(t, logs[0].ProcessingTimeMs)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics.WebhookDeliveries.WithLabelValues("order", domain.AuditError)))
}

func TestCancelTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.post(t, payload(engine.OrderCreated, 5), webhook.DefaultTestSignature, "").Code)
	for i := 0; i < 2; i++ {
		res := h.post(t, payload(engine.OrderCancelled, 5), webhook.DefaultTestSignature, "")
		assert.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, true, res.Body["success"])
	}
	_, err := h.Repo.FindByExternalID(context.Background(), 5)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestLocaleQueryParameter(t *testing.T) {
	h := newHarness(t, nil)
	res := h.post(t, payload(engine.OrderCreated, 8), webhook.DefaultTestSignature, "?locale=en")
	require.Equal(t, http.StatusOK, res.Code)
	o, err := h.Repo.FindByExternalID(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, "New", o.StatusName)
}

func TestClientEventRouted(t *testing.T) {
	h := newHarness(t, nil)
	body := strings.Replace(payload(engine.ClientUpdated, 500), `"object_type": "order"`, `"object_type": "client"`, 1)
	res := h.post(t, body, webhook.DefaultTestSignature, "")
	require.Equal(t, http.StatusOK, res.Code)
	c, err := h.Repo.FindClientByExternalID(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, "Olena Petrenko", c.FullName)
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	h := newHarness(t, failingSink{})
	res := h.post(t, payload(engine.OrderCreated, 3), webhook.DefaultTestSignature, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Order 3 created", res.Body["message"])
}

func TestClassifyBuildsTypedEvents(t *testing.T) {
	env, err := webhook.Parse([]byte(payload(engine.OrderUpdated, 77)))
	require.NoError(t, err)
	require.NoError(t, env.Validate())

	ev := webhook.Classify(env, "en")
	require.NotNil(t, ev.Order)
	assert.Nil(t, ev.Client)
	assert.Equal(t, int64(77), ev.Order.ExternalID)
	assert.Equal(t, "en", ev.Order.Locale)
	assert.Equal(t, "A-77", ev.Order.OrderName)
	require.NotNil(t, ev.Order.StatusID)
	assert.Equal(t, int64(7), *ev.Order.StatusID)
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Equal(ev.Order.OccurredAt))

	env.EventName = "Inventory.Adjusted"
	ev = webhook.Classify(env, "uk")
	assert.Nil(t, ev.Order)
	assert.Nil(t, ev.Client)
}

func TestStatusChangedRequiresStatus(t *testing.T) {
	body := strings.Replace(payload(engine.OrderStatusChanged, 1), `"status": {"id": 7},`, "", 1)
	env, err := webhook.Parse([]byte(body))
	require.NoError(t, err)
	assert.ErrorContains(t, env.Validate(), "metadata.status")
}
