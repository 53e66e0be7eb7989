// Package catalog is the gateway to the external game catalog: a rate-limited
// HTTP client behind a two-tier TTL cache.
//
// Cache failures never fail a call; the cache is never consulted for
// uniqueness or quota decisions.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
)

const (
	DefaultSearchTTL = 10 * time.Minute
	DefaultDetailTTL = 6 * time.Hour

	// DefaultFlightTimeout covers the client's bounded rate wait plus one retry.
	DefaultFlightTimeout = 30 * time.Second
)

// Catalog is the lookup surface consumed by the matcher, the lifecycle and
// the API.
type Catalog interface {
	Search(ctx context.Context, name string, limit int) ([]domain.CatalogEntry, error)
	Fetch(ctx context.Context, id int64) (*domain.CatalogEntry, error)
}

// Upstream is the uncached source, normally *Client.
type Upstream interface {
	Search(ctx context.Context, term string, limit int) ([]domain.CatalogEntry, error)
	Fetch(ctx context.Context, id int64) (*domain.CatalogEntry, error)
}

// GatewayOptions configures cache lifetimes.
type GatewayOptions struct {
	SearchTTL time.Duration
	DetailTTL time.Duration
	// FlightTimeout bounds one shared upstream call.
	FlightTimeout time.Duration
}

// Gateway serves catalog lookups from cache tiers in order, falling back to
// the upstream on a miss. Errors are returned as domain errors.
type Gateway struct {
	upstream      Upstream
	tiers         []Cache
	searchTTL     time.Duration
	detailTTL     time.Duration
	flightTimeout time.Duration
	flight        singleflight.Group
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

var _ Catalog = (*Gateway)(nil)

// NewGateway creates a gateway over upstream with the given cache tiers,
// fastest first.
func NewGateway(upstream Upstream, opts GatewayOptions, logger *slog.Logger, m *metrics.Metrics, tiers ...Cache) *Gateway {
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = DefaultSearchTTL
	}
	if opts.DetailTTL <= 0 {
		opts.DetailTTL = DefaultDetailTTL
	}
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = DefaultFlightTimeout
	}
	return &Gateway{
		upstream:      upstream,
		tiers:         tiers,
		searchTTL:     opts.SearchTTL,
		detailTTL:     opts.DetailTTL,
		flightTimeout: opts.FlightTimeout,
		logger:        logger,
		metrics:       m,
		now:           time.Now,
	}
}

// Search returns catalog entries for name. Results are cached per
// normalized term and limit.
func (g *Gateway) Search(ctx context.Context, name string, limit int) ([]domain.CatalogEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []domain.CatalogEntry{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	key := searchKey(name, limit)
	if e, ok := g.lookup(ctx, key); ok {
		return e.Entries, nil
	}

	v, err := g.share(ctx, key, func(ctx context.Context) (any, error) {
		entries, err := g.upstream.Search(ctx, name, limit)
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, entries, g.searchTTL)
		return entries, nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return v.([]domain.CatalogEntry), nil
}

// Fetch returns one entry by catalog id.
func (g *Gateway) Fetch(ctx context.Context, id int64) (*domain.CatalogEntry, error) {
	key := detailKey(id)
	if e, ok := g.lookup(ctx, key); ok && len(e.Entries) == 1 {
		entry := e.Entries[0]
		return &entry, nil
	}

	v, err := g.share(ctx, key, func(ctx context.Context) (any, error) {
		entry, err := g.upstream.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		g.store(ctx, key, []domain.CatalogEntry{*entry}, g.detailTTL)
		return entry, nil
	})
	if err != nil {
		return nil, translate(err)
	}
	entry := *v.(*domain.CatalogEntry)
	return &entry, nil
}

// share runs fn once per key for all concurrent callers. The shared call is
// detached from any single caller's cancellation and bounded by flightTimeout;
// each caller stops waiting when its own ctx ends.
func (g *Gateway) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.flightTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup walks the tiers in order. A hit in a slower tier is copied into the
// faster tiers that missed.
func (g *Gateway) lookup(ctx context.Context, key string) (*CacheEntry, bool) {
	now := g.now()
	for i, tier := range g.tiers {
		e, ok, err := tier.Get(ctx, key)
		if err != nil {
			g.logger.Warn("catalog cache read failed", "tier", tier.Name(), "key", key, "error", err)
			ok = false
		}
		if ok && !e.Fresh(now) {
			ok = false
		}
		g.metrics.CacheLookup(tier.Name(), ok)
		if !ok {
			continue
		}
		for _, faster := range g.tiers[:i] {
			if err := faster.Set(ctx, key, e); err != nil {
				g.logger.Warn("catalog cache backfill failed", "tier", faster.Name(), "key", key, "error", err)
			}
		}
		return e, true
	}
	return nil, false
}

func (g *Gateway) store(ctx context.Context, key string, entries []domain.CatalogEntry, ttl time.Duration) {
	e := &CacheEntry{Entries: entries, FetchedAt: g.now(), TTL: ttl}
	for _, tier := range g.tiers {
		if err := tier.Set(ctx, key, e); err != nil {
			g.logger.Warn("catalog cache write failed", "tier", tier.Name(), "key", key, "error", err)
		}
	}
}

// translate maps client errors onto the domain taxonomy. Context errors pass
// through untouched so callers can tell cancellation apart.
func translate(err error) error {
	var ce *Error
	detail := ""
	if errors.As(err, &ce) && ce.ID != 0 {
		detail = " " + strconv.FormatInt(ce.ID, 10)
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrNotFound):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, "game"+detail+" not found in catalog")
	case errors.Is(err, ErrRateLimited):
		return domainerrors.ErrRateLimited.WithCause(err)
	default:
		return domainerrors.ErrCatalogUnavailable.WithCause(err)
	}
}

// Unconfigured stands in for the catalog when no credentials were given.
// Every lookup fails as unavailable.
type Unconfigured struct{}

var _ Catalog = Unconfigured{}

func (Unconfigured) Search(context.Context, string, int) ([]domain.CatalogEntry, error) {
	return nil, domainerrors.Newf(domainerrors.CodeCatalogUnavailable, "game catalog is not configured")
}

func (Unconfigured) Fetch(context.Context, int64) (*domain.CatalogEntry, error) {
	return nil, domainerrors.Newf(domainerrors.CodeCatalogUnavailable, "game catalog is not configured")
}
