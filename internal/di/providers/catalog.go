package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
)

// cachePurgeInterval is how often expired memory cache entries are dropped.
const cachePurgeInterval = 5 * time.Minute

// CatalogHandle holds the cached catalog gateway and the resources behind it.
// Catalog is catalog.Unconfigured when no credentials were given.
type CatalogHandle struct {
	Catalog    catalog.Catalog
	Configured bool

	client *catalog.Client
	badger *catalog.BadgerCache
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *CatalogHandle) Shutdown() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.client != nil {
		h.client.Close()
	}
	if h.badger != nil {
		return h.badger.Close()
	}
	return nil
}

// ProvideCatalog provides the IGDB gateway with its memory and persistent
// cache tiers.
func ProvideCatalog(i do.Injector) (*CatalogHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	if !cfg.CatalogConfigured() {
		log.Warn("Game catalog not configured - lookups and imports will fail until IGDB credentials are set")
		return &CatalogHandle{Catalog: catalog.Unconfigured{}}, nil
	}

	httpClient := &http.Client{Timeout: cfg.Catalog.Timeout}
	tokens := catalog.NewTokenSource(httpClient, cfg.Catalog.TokenURL, cfg.Catalog.ClientID, cfg.Catalog.ClientSecret)
	client := catalog.NewClient(catalog.Options{
		BaseURL:    cfg.Catalog.BaseURL,
		ClientID:   cfg.Catalog.ClientID,
		Tokens:     tokens,
		RPS:        cfg.Catalog.RPS,
		Burst:      cfg.Catalog.Burst,
		MaxWait:    cfg.Catalog.MaxWait,
		Timeout:    cfg.Catalog.Timeout,
		HTTPClient: httpClient,
	}, log.WithComponent("catalog"), m)

	handle := &CatalogHandle{Configured: true, client: client}

	memory := catalog.NewMemoryCache()
	tiers := []catalog.Cache{memory}
	if cfg.Catalog.PersistentCache {
		bc, err := catalog.OpenBadgerCache(cfg.CachePath(), log.Logger)
		if err != nil {
			// The memory tier alone is enough to serve.
			log.Warn("Persistent catalog cache unavailable", "path", cfg.CachePath(), "error", err)
		} else {
			handle.badger = bc
			tiers = append(tiers, bc)
		}
	}

	handle.Catalog = catalog.NewGateway(client, catalog.GatewayOptions{
		SearchTTL: cfg.Catalog.SearchTTL,
		DetailTTL: cfg.Catalog.DetailTTL,
	}, log.WithComponent("catalog"), m, tiers...)

	ctx, cancel := context.WithCancel(context.Background())
	handle.cancel = cancel
	go func() {
		ticker := time.NewTicker(cachePurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := memory.Purge(); n > 0 {
					log.Debug("Purged expired catalog cache entries", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Game catalog ready",
		"base_url", cfg.Catalog.BaseURL,
		"rps", cfg.Catalog.RPS,
		"cache_tiers", len(tiers),
	)

	return handle, nil
}

// ProvideMatcher provides the catalog name matcher.
func ProvideMatcher(i do.Injector) (*matcher.Matcher, error) {
	catalogHandle := do.MustInvoke[*CatalogHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return matcher.New(catalogHandle.Catalog, matcher.Options{}, log.WithComponent("matcher")), nil
}
