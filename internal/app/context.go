package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"repairsync/internal/config"
	"repairsync/internal/db"
	"repairsync/internal/domain"
	"repairsync/internal/engine"
	"repairsync/internal/events"
	"repairsync/internal/logging"
	"repairsync/internal/metrics"
	"repairsync/internal/middleware"
	"repairsync/internal/migrate"
	"repairsync/internal/remonline"
	"repairsync/internal/repo"
	"repairsync/internal/server"
	"repairsync/internal/status"
	"repairsync/internal/webhook"
)

// Context holds the wired service: database, repository, status lookup,
// RemOnline client and synchronization engine.
type Context struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	DB        *sql.DB
	Dialect   db.Dialect
	Repo      repo.Repo
	Statuses  *status.Lookup
	RemOnline *remonline.Client
	Engine    engine.Engine
}

type Options struct {
	// Migrate applies pending migrations after opening the database.
	Migrate bool
	// Logger overrides the logger built from cfg.Log.
	Logger *zap.Logger
}

// Open wires every component from cfg. The caller must Close it.
func Open(cfg *config.Config, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		Workspace: cfg.Database.Workspace,
		URL:       cfg.Database.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Migrate {
		res, err := migrate.Migrate(conn, dialect)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if res.Applied > 0 {
			logger.Info("migrations_applied",
				zap.Int("count", res.Applied),
				zap.Int("schema_version", res.To),
				zap.String("dialect", string(dialect)),
			)
		}
	}

	m := metrics.New()
	r := repo.New(conn, dialect)
	cache, err := status.NewCache(cfg.Status.CacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	lookup := status.NewLookup(r, cache,
		status.WithLogger(logger),
		status.WithMetrics(m),
		status.WithDefaultLocale(cfg.Sync.DefaultLocale),
	)
	client := remonline.New(remonline.Config{
		BaseURL:         cfg.RemOnline.BaseURL,
		APIKey:          cfg.RemOnline.APIKey,
		Timeout:         cfg.RemOnline.Timeout,
		RateLimitRPM:    cfg.RemOnline.RateLimitRPM,
		RateBurst:       cfg.RemOnline.RateBurst,
		RetryCount:      cfg.RemOnline.RetryCount,
		RetryDelay:      cfg.RemOnline.RetryDelay,
		BreakerEnabled:  cfg.RemOnline.BreakerEnabled,
		BreakerFailures: cfg.RemOnline.BreakerFailures,
		BreakerTimeout:  cfg.RemOnline.BreakerTimeout,
	}, remonline.WithLogger(logger), remonline.WithMetrics(m))
	if !client.Enabled() {
		logger.Warn("remonline_client_disabled", zap.String("reason", "no api key; orders are built from webhook metadata"))
	}

	eng := engine.New(r, lookup, client, engine.Options{
		Logger:        logger,
		DefaultLocale: cfg.Sync.DefaultLocale,
		RejectStale:   cfg.Webhook.RejectStale,
	})
	return &Context{
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		DB:        conn,
		Dialect:   dialect,
		Repo:      r,
		Statuses:  lookup,
		RemOnline: client,
		Engine:    eng,
	}, nil
}

func (c *Context) Close() error {
	_ = c.Logger.Sync()
	return c.DB.Close()
}

// WebhookHandler builds the inbound RemOnline endpoint.
func (c *Context) WebhookHandler() *webhook.Handler {
	switch {
	case c.Config.Webhook.Secret != "":
	case c.Config.Webhook.AllowUnsigned:
		c.Logger.Warn("webhook_signature_disabled", zap.String("reason", "webhook.secret is empty and webhook.allow_unsigned is set"))
	default:
		c.Logger.Warn("webhook_signature_unconfigured", zap.String("reason", "webhook.secret is empty; only the test signature is accepted"))
	}
	return webhook.NewHandler(webhook.NewRouter(c.Engine), events.Writer{DB: c.DB, Dialect: c.Dialect}, webhook.Options{
		Verifier: webhook.Verifier{
			Secret:        c.Config.Webhook.Secret,
			TestSignature: c.Config.Webhook.TestSignature,
			AllowUnsigned: c.Config.Webhook.AllowUnsigned,
		},
		SignatureHeader: c.Config.Webhook.SignatureHeader,
		DefaultLocale:   c.Config.Sync.DefaultLocale,
		Logger:          c.Logger,
		Metrics:         c.Metrics,
		Limiter:         middleware.NewLimiter(c.Config.Webhook.RateLimitRPS, c.Config.Webhook.RateLimitBurst),
	})
}

// HTTPHandler builds the root router: webhook route, admin API and /metrics.
func (c *Context) HTTPHandler() (http.Handler, error) {
	if c.Config.Auth.JWTSecret == "" {
		c.Logger.Warn("admin_api_locked", zap.String("reason", "auth.jwt_secret is empty; every admin request is rejected"))
	}
	return server.New(server.Config{
		Engine:         c.Engine,
		Statuses:       c.Statuses,
		BasePath:       c.Config.Server.BasePath,
		Auth:           server.AuthConfig{JWTSecret: c.Config.Auth.JWTSecret, Logger: c.Logger},
		Webhook:        c.WebhookHandler(),
		WebhookPath:    c.Config.Webhook.Path,
		Metrics:        c.Metrics,
		Logger:         c.Logger,
		CORSOrigins:    c.Config.Server.CORSOrigins,
		TrustRequestID: c.Config.Server.TrustRequestID,
	})
}

// ImportStatuses upserts the catalog in one transaction and drops the
// cached resolutions of every imported id.
func (c *Context) ImportStatuses(ctx context.Context, catalog *config.StatusCatalog) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	err := c.Repo.InTx(ctx, func(tx repo.Repo) error {
		for _, s := range catalog.Statuses {
			if s.Color == "" {
				s.Color = status.FallbackColor
			}
			s.UpdatedAt = now
			if err := tx.UpsertStatus(ctx, s); err != nil {
				return fmt.Errorf("status %d/%s: %w", s.StatusID, s.Locale, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, s := range catalog.Statuses {
		c.Statuses.Cache().InvalidateStatus(s.StatusID)
	}
	return len(catalog.Statuses), nil
}

// ExportStatuses returns the stored catalog, optionally for one locale.
func (c *Context) ExportStatuses(ctx context.Context, locale string) (*config.StatusCatalog, error) {
	items, err := c.Repo.ListStatuses(ctx, locale)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.StatusDefinition{}
	}
	return &config.StatusCatalog{Statuses: items}, nil
}
