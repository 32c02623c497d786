package status

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"repairsync/internal/domain"
	"repairsync/internal/metrics"
	"repairsync/internal/repo"
)

const (
	DefaultLocale = "uk"
	FallbackColor = "gray"
)

// Store reads status definitions.
type Store interface {
	GetStatus(ctx context.Context, statusID int64, locale string) (domain.StatusDefinition, error)
}

// Lookup resolves RemOnline status ids to display metadata through an
// injected Cache.
type Lookup struct {
	store         Store
	cache         *Cache
	logger        *zap.Logger
	metrics       *metrics.Metrics
	defaultLocale string
}

type Option func(*Lookup)

func WithLogger(l *zap.Logger) Option { return func(s *Lookup) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Lookup) { s.metrics = m } }

// WithDefaultLocale sets the locale used when callers pass none and as
// the second choice when the requested locale has no definition.
func WithDefaultLocale(locale string) Option {
	return func(s *Lookup) {
		if strings.TrimSpace(locale) != "" {
			s.defaultLocale = locale
		}
	}
}

func NewLookup(store Store, cache *Cache, opts ...Option) *Lookup {
	l := &Lookup{
		store:         store,
		cache:         cache,
		logger:        zap.NewNop(),
		defaultLocale: DefaultLocale,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lookup) Cache() *Cache { return l.cache }

func (l *Lookup) DefaultLocale() string { return l.defaultLocale }

// Fallback is the StatusInfo reported for ids without a definition.
func Fallback(statusID int64) domain.StatusInfo {
	return domain.StatusInfo{Name: strconv.FormatInt(statusID, 10), Color: FallbackColor}
}

// Resolve never fails: unknown ids and store errors yield Fallback.
// bypassCache skips the cached entry but still refreshes it.
func (l *Lookup) Resolve(ctx context.Context, statusID int64, locale string, bypassCache bool) domain.StatusInfo {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = l.defaultLocale
	}
	key := Key{StatusID: statusID, Locale: locale}
	if !bypassCache && l.cache != nil {
		if info, ok := l.cache.Get(key); ok {
			l.metrics.StatusCache("hit")
			return info
		}
	}
	l.metrics.StatusCache("miss")

	info, found := l.load(ctx, statusID, locale)
	if !found && locale != l.defaultLocale {
		info, found = l.load(ctx, statusID, l.defaultLocale)
	}
	if !found {
		l.metrics.StatusCache("fallback")
		return Fallback(statusID)
	}
	if l.cache != nil {
		l.cache.Set(key, info)
	}
	return info
}

func (l *Lookup) load(ctx context.Context, statusID int64, locale string) (domain.StatusInfo, bool) {
	def, err := l.store.GetStatus(ctx, statusID, locale)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.StatusInfo{}, false
	}
	if err != nil {
		l.logger.Warn("status_lookup_failed",
			zap.Int64("status_id", statusID),
			zap.String("locale", locale),
			zap.Error(err),
		)
		return domain.StatusInfo{}, false
	}
	color := def.Color
	if color == "" {
		color = FallbackColor
	}
	return domain.StatusInfo{Name: def.Name, Color: color}, true
}
