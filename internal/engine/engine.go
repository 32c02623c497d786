package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"repairsync/internal/domain"
	"repairsync/internal/repo"
)

var ErrOrderNotFound = errors.New("order not found")

// StatusResolver maps a RemOnline status id to display metadata.
type StatusResolver interface {
	Resolve(ctx context.Context, statusID int64, locale string, bypassCache bool) domain.StatusInfo
}

// OrderFetcher loads full order detail from the upstream API. FetchOrder
// returns ErrOrderNotFound when the upstream has no such order.
type OrderFetcher interface {
	Enabled() bool
	FetchOrder(ctx context.Context, externalID int64) (OrderDetail, error)
}

type Options struct {
	Logger        *zap.Logger
	Now           func() time.Time
	DefaultLocale string
	// RejectStale skips order events older than the last applied one.
	RejectStale bool
}

// Engine bundles the synchronizers that share one repository.
type Engine struct {
	Repo    repo.Repo
	Orders  *OrderSynchronizer
	Clients *ClientSynchronizer
}

func New(r repo.Repo, status StatusResolver, fetcher OrderFetcher, opts Options) Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "uk"
	}
	return Engine{
		Repo: r,
		Orders: &OrderSynchronizer{
			Repo:          r,
			Status:        status,
			Fetcher:       fetcher,
			Logger:        opts.Logger,
			Now:           opts.Now,
			DefaultLocale: opts.DefaultLocale,
			RejectStale:   opts.RejectStale,
		},
		Clients: &ClientSynchronizer{
			Repo:   r,
			Logger: opts.Logger,
			Now:    opts.Now,
		},
	}
}

func nowString(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}
