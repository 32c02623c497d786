package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairsync/internal/db"
	"repairsync/internal/domain"
	"repairsync/internal/engine"
	"repairsync/internal/migrate"
	"repairsync/internal/repo"
	"repairsync/internal/status"
)

type fakeFetcher struct {
	enabled bool
	details map[int64]engine.OrderDetail
	err     error
	calls   int
}

func (f *fakeFetcher) Enabled() bool { return f.enabled }

func (f *fakeFetcher) FetchOrder(_ context.Context, id int64) (engine.OrderDetail, error) {
	f.calls++
	if f.err != nil {
		return engine.OrderDetail{}, f.err
	}
	d, ok := f.details[id]
	if !ok {
		return engine.OrderDetail{}, engine.ErrOrderNotFound
	}
	return d, nil
}

type testEnv struct {
	Engine  engine.Engine
	Repo    repo.Repo
	Fetcher *fakeFetcher
	Ctx     context.Context
}

func newTestEnv(t *testing.T, opts engine.Options) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, dialect)
	require.NoError(t, err)

	r := repo.New(conn, dialect)
	ctx := context.Background()
	require.NoError(t, r.UpsertStatus(ctx, domain.StatusDefinition{StatusID: 7, Locale: "uk", Name: "Нове", Color: "blue", UpdatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.UpsertStatus(ctx, domain.StatusDefinition{StatusID: 9, Locale: "uk", Name: "Готово", Color: "green", UpdatedAt: "2024-01-01T00:00:00Z"}))

	cache, err := status.NewCache(16)
	require.NoError(t, err)
	fetcher := &fakeFetcher{enabled: true, details: map[int64]engine.OrderDetail{}}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	}
	eng := engine.New(r, status.NewLookup(r, cache), fetcher, opts)
	return testEnv{Engine: eng, Repo: r, Fetcher: fetcher, Ctx: ctx}
}

func int64p(v int64) *int64 { return &v }

func detail(id int64, statusID int64, lines ...engine.LineDetail) engine.OrderDetail {
	return engine.OrderDetail{
		ExternalID: id,
		IDLabel:    "A-42",
		CreatedAt:  "2024-01-01T10:00:00Z",
		StatusID:   int64p(statusID),
		Brand:      "Apple",
		Model:      "iPhone 12",
		Serial:     "SN1",
		Lines:      lines,
	}
}

func TestComputeTotalCoercesStrings(t *testing.T) {
	total := engine.ComputeTotal([]engine.LineDetail{
		{Price: "10.50", Quantity: 2},
		{Price: "5", Quantity: "1"},
	})
	assert.Equal(t, "26.00", total.StringFixed(2))

	total = engine.ComputeTotal([]engine.LineDetail{
		{Price: 3.5},
		{Price: "oops", Quantity: 4},
	})
	assert.Equal(t, "3.50", total.StringFixed(2))
}

func TestDerivedFields(t *testing.T) {
	assert.Equal(t, "Unknown Unknown", engine.DeviceName("", " "))
	assert.Equal(t, "Apple Unknown", engine.DeviceName("Apple", ""))
	assert.Equal(t, "A-1", engine.DocumentID("A-1", "Name", 5))
	assert.Equal(t, "Name", engine.DocumentID("", "Name", 5))
	assert.Equal(t, "5", engine.DocumentID(" ", "", 5))
}

func TestCreateTwiceKeepsOneOrder(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[42] = detail(42, 7, engine.LineDetail{ExternalID: 1, Name: "Screen", Price: "10.50", Quantity: 2})

	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 42})
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, "Order 42 created", res.Message)

	env.Fetcher.details[42] = detail(42, 9,
		engine.LineDetail{ExternalID: 1, Name: "Screen", Price: "10.50", Quantity: 2},
		engine.LineDetail{ExternalID: 2, Name: "Battery", Price: "5", Quantity: "1"},
	)
	res, err = env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 42})
	require.NoError(t, err)
	assert.Equal(t, "Order 42 updated", res.Message)

	n, err := env.Repo.CountOrders(env.Ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	o, err := env.Repo.FindByExternalID(env.Ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "9", o.StatusCode)
	assert.Equal(t, "Готово", o.StatusName)
	assert.Equal(t, "green", o.StatusColor)
	assert.Equal(t, "Apple iPhone 12", o.DeviceName)
	assert.Equal(t, "A-42", o.DocumentID)
	assert.True(t, decimal.RequireFromString("26").Equal(o.TotalAmount))

	lines, err := env.Repo.ListLineItems(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestConcurrentCreatesKeepOneOrder(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.enabled = false

	for round := int64(1); round <= 10; round++ {
		ev := engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 1000 + round, OrderName: "C-1", StatusID: int64p(7)}
		const workers = 4
		results := make([]engine.Result, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = env.Engine.Orders.HandleOrderEvent(env.Ctx, ev)
			}(i)
		}
		wg.Wait()

		created := 0
		for i := range errs {
			require.NoError(t, errs[i])
			if results[i].Message == fmt.Sprintf("Order %d created", ev.ExternalID) {
				created++
			}
		}
		assert.Equal(t, 1, created, "round %d", round)
	}

	n, err := env.Repo.CountOrders(env.Ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
}

func TestUpdateWithoutCreateInsertsOrder(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[7] = detail(7, 7)

	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderUpdated, ExternalID: 7})
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, "Order 7 created", res.Message)

	o, err := env.Repo.FindByExternalID(env.Ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Нове", o.StatusName)
}

func TestCompletedUsesUpdatePath(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[3] = detail(3, 7)
	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 3})
	require.NoError(t, err)

	env.Fetcher.details[3] = detail(3, 9)
	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCompleted, ExternalID: 3})
	require.NoError(t, err)
	assert.Equal(t, "Order 3 updated", res.Message)
	o, err := env.Repo.FindByExternalID(env.Ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "9", o.StatusCode)
}

func TestCancelRemovesOrderAndLines(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[11] = detail(11, 7, engine.LineDetail{ExternalID: 1, Name: "Screen", Price: 10})
	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 11})
	require.NoError(t, err)
	o, err := env.Repo.FindByExternalID(env.Ctx, 11)
	require.NoError(t, err)

	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCancelled, ExternalID: 11})
	require.NoError(t, err)
	assert.Equal(t, "Order 11 deleted", res.Message)

	_, err = env.Repo.FindByExternalID(env.Ctx, 11)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	lines, err := env.Repo.ListLineItems(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	res, err = env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCancelled, ExternalID: 11})
	require.NoError(t, err)
	assert.True(t, res.Processed)
}

func TestUnknownStatusFallsBack(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[5] = detail(5, 999)

	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 5})
	require.NoError(t, err)
	o, err := env.Repo.FindByExternalID(env.Ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "999", o.StatusName)
	assert.Equal(t, status.FallbackColor, o.StatusColor)
}

func TestFallsBackToWebhookMetadata(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	ev := engine.OrderEvent{
		Name:             engine.OrderCreated,
		ExternalID:       77,
		OrderName:        "B-77",
		StatusID:         int64p(7),
		ClientExternalID: int64p(500),
		ClientName:       "Olena Petrenko",
		AssetName:        "Samsung Galaxy S21",
	}
	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Fetcher.calls)

	o, err := env.Repo.FindByExternalID(env.Ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "B-77", o.DocumentID)
	assert.Equal(t, "Samsung Galaxy S21", o.DeviceName)
	require.NotNil(t, o.UserID)

	c, err := env.Repo.FindClientByExternalID(env.Ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, c.ID, *o.UserID)
	assert.Equal(t, "Olena Petrenko", c.FullName)
}

func TestUnknownLinesKeepStoredTotal(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.details[8] = detail(8, 7, engine.LineDetail{ExternalID: 1, Name: "Screen", Price: "12.00"})
	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 8})
	require.NoError(t, err)

	env.Fetcher.enabled = false
	_, err = env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderUpdated, ExternalID: 8, StatusID: int64p(9)})
	require.NoError(t, err)

	o, err := env.Repo.FindByExternalID(env.Ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "12.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, "Apple iPhone 12", o.DeviceName)
	assert.Equal(t, "9", o.StatusCode)
	lines, err := env.Repo.ListLineItems(env.Ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestFetchErrorIsReported(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	env.Fetcher.err = errors.New("upstream down")

	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create order")
	n, err := env.Repo.CountOrders(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	err := env.Engine.Orders.UpdateOrderStatus(env.Ctx, engine.StatusUpdate{ExternalID: 404, StatusID: 7})
	assert.ErrorIs(t, err, engine.ErrOrderNotFound)

	env.Fetcher.details[4] = detail(4, 7)
	_, err = env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderCreated, ExternalID: 4})
	require.NoError(t, err)

	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderStatusChanged, ExternalID: 4, StatusID: int64p(9)})
	require.NoError(t, err)
	assert.True(t, res.Processed)
	o, err := env.Repo.FindByExternalID(env.Ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Готово", o.StatusName)
	assert.Equal(t, "A-42", o.DocumentID)
}

func TestStaleEventsIgnoredWhenEnabled(t *testing.T) {
	env := newTestEnv(t, engine.Options{RejectStale: true})
	later := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	env.Fetcher.details[6] = detail(6, 9)
	_, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderUpdated, ExternalID: 6, OccurredAt: later})
	require.NoError(t, err)

	env.Fetcher.details[6] = detail(6, 7)
	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: engine.OrderUpdated, ExternalID: 6, OccurredAt: later.Add(-time.Hour)})
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Contains(t, res.Message, "stale")

	o, err := env.Repo.FindByExternalID(env.Ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "9", o.StatusCode)
}

func TestUnhandledOrderEvent(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	res, err := env.Engine.Orders.HandleOrderEvent(env.Ctx, engine.OrderEvent{Name: "Order.Archived", ExternalID: 1})
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, "Event Order.Archived received but not processed", res.Message)
}

func TestClientEvents(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	res, err := env.Engine.Clients.HandleClientEvent(env.Ctx, engine.ClientEvent{Name: engine.ClientCreated, ExternalID: 9, FullName: " Ivan "})
	require.NoError(t, err)
	assert.True(t, res.Processed)
	c, err := env.Repo.FindClientByExternalID(env.Ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "Ivan", c.FullName)

	res, err = env.Engine.Clients.HandleClientEvent(env.Ctx, engine.ClientEvent{Name: engine.ClientDeleted, ExternalID: 9})
	require.NoError(t, err)
	assert.Equal(t, "Client 9 deleted", res.Message)
	_, err = env.Repo.FindClientByExternalID(env.Ctx, 9)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
