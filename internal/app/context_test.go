package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"repairsync/internal/config"
	"repairsync/internal/domain"
	"repairsync/internal/status"
	"repairsync/internal/webhook"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.BasePath = "/v0"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Workspace = t.TempDir()
	cfg.Webhook.Path = "/webhooks/remonline"
	cfg.Webhook.TestSignature = webhook.DefaultTestSignature
	cfg.Sync.DefaultLocale = "uk"
	cfg.Status.CacheSize = 8
	cfg.RemOnline.BaseURL = "http://127.0.0.1:1"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	require.NoError(t, cfg.Validate())
	return cfg
}

func openTest(t *testing.T) *Context {
	t.Helper()
	c, err := Open(testConfig(t), Options{Migrate: true, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenWiresDisabledFetcher(t *testing.T) {
	c := openTest(t)
	assert.False(t, c.RemOnline.Enabled())
	assert.Equal(t, "uk", c.Statuses.DefaultLocale())
	n, err := c.Repo.CountOrders(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportAndExportStatuses(t *testing.T) {
	c := openTest(t)
	ctx := context.Background()
	c.Statuses.Cache().Set(status.Key{StatusID: 7, Locale: "uk"}, domain.StatusInfo{Name: "stale"})

	catalog, err := config.StatusCatalogFromYAML([]byte(`
statuses:
  - id: 7
    locale: uk
    name: Нове
    color: blue
  - id: 7
    locale: en
    name: New
`))
	require.NoError(t, err)
	n, err := c.ImportStatuses(ctx, catalog)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, c.Statuses.Cache().Len())
	assert.Equal(t, "Нове", c.Statuses.Resolve(ctx, 7, "uk", false).Name)

	out, err := c.ExportStatuses(ctx, "en")
	require.NoError(t, err)
	require.Len(t, out.Statuses, 1)
	assert.Equal(t, "New", out.Statuses[0].Name)
	assert.Equal(t, status.FallbackColor, out.Statuses[0].Color)

	data, err := out.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: New")
}

func TestHTTPHandlerServesWebhook(t *testing.T) {
	c := openTest(t)
	h, err := c.HTTPHandler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body := `{"id":"evt-1","created_at":"2024-03-01T10:00:00Z","event_name":"Order.Created",
"context":{"object_id":42,"object_type":"order"},"metadata":{"order":{"id":42,"name":"A-42"},"status":{"id":7}},
"employee":{"id":1}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/remonline", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(webhook.DefaultSignatureHeader, webhook.DefaultTestSignature)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	o, err := c.Repo.FindByExternalID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "7", o.StatusName)
	assert.Equal(t, status.FallbackColor, o.StatusColor)

	resp, err = http.Get(srv.URL + "/v0/orders")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
