package providers

import (
	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/auth"
	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/importer"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// ProvideAuthService provides the account service.
func ProvideAuthService(i do.Injector) (*service.AuthService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	tokenService := do.MustInvoke[*auth.TokenService](i)
	dispatcher := do.MustInvoke[*DispatcherHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewAuthService(storeHandle, tokenService, dispatcher, log.WithComponent("auth")), nil
}

// ProvideLifecycleService provides the request lifecycle service.
func ProvideLifecycleService(i do.Injector) (*lifecycle.Service, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	catalogHandle := do.MustInvoke[*CatalogHandle](i)
	settingsService := do.MustInvoke[*settings.Service](i)
	dispatcher := do.MustInvoke[*DispatcherHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	// Without a catalog, requests are stored without metadata.
	var cat lifecycle.Catalog
	if catalogHandle.Configured {
		cat = catalogHandle.Catalog
	}

	svc := lifecycle.New(storeHandle, cat, settingsService, dispatcher, log.WithComponent("lifecycle"), m)
	svc.SetNameIndex(indexHandle.SearchIndex)
	return svc, nil
}

// ProvideImporter provides the bulk library importer.
func ProvideImporter(i do.Injector) (*importer.Orchestrator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	resolver := do.MustInvoke[*matcher.Matcher](i)
	dispatcher := do.MustInvoke[*DispatcherHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	return importer.New(resolver, storeHandle, dispatcher, importer.Options{
		Concurrency:  cfg.Import.Concurrency,
		MaxBatchSize: cfg.Import.MaxBatchSize,
	}, log.WithComponent("importer"), m), nil
}
