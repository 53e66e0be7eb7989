// Package di provides dependency injection configuration for the GameRequest server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/auth"
	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/di/providers"
	"github.com/gamerequest/gamerequest-server/internal/importer"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// NewContainer creates and configures the DI container with all providers.
// args are parsed as configuration flags.
func NewContainer(args []string, version string) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, providers.Args(args))
	do.ProvideValue(injector, providers.Version(version))

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideMetrics)
	do.Provide(injector, providers.ProvideAuthKey)

	// Persistence
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideSettingsService)
	do.Provide(injector, providers.ProvideSettingsWatcher)

	// Catalog
	do.Provide(injector, providers.ProvideCatalog)
	do.Provide(injector, providers.ProvideMatcher)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)

	// Business services
	do.Provide(injector, providers.ProvideDispatcher)
	do.Provide(injector, providers.ProvideAuthService)
	do.Provide(injector, providers.ProvideLifecycleService)
	do.Provide(injector, providers.ProvideImporter)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and starts the HTTP server.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*metrics.Metrics](injector)
	_ = do.MustInvoke[providers.AuthKey](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*settings.Service](injector)
	_ = do.MustInvoke[*providers.SettingsWatcherHandle](injector)
	_ = do.MustInvoke[*providers.CatalogHandle](injector)
	_ = do.MustInvoke[*matcher.Matcher](injector)
	_ = do.MustInvoke[*auth.TokenService](injector)

	// Business services
	_ = do.MustInvoke[*providers.DispatcherHandle](injector)
	_ = do.MustInvoke[*service.AuthService](injector)
	_ = do.MustInvoke[*lifecycle.Service](injector)
	_ = do.MustInvoke[*importer.Orchestrator](injector)

	providers.TriggerSearchReindexIfNeeded(injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
