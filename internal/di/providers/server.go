package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/api"
	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/importer"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// Version is the build version reported by the API.
type Version string

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.api.Close()
	return err
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	version := do.MustInvoke[Version](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	catalogHandle := do.MustInvoke[*CatalogHandle](i)
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	dispatcher := do.MustInvoke[*DispatcherHandle](i)

	services := &api.Services{
		Auth:     do.MustInvoke[*service.AuthService](i),
		Requests: do.MustInvoke[*lifecycle.Service](i),
		Importer: do.MustInvoke[*importer.Orchestrator](i),
		Settings: do.MustInvoke[*settings.Service](i),
		Notify:   dispatcher.Dispatcher,
		Search:   indexHandle.SearchIndex,
	}
	if catalogHandle.Configured {
		services.Catalog = catalogHandle.Catalog
	}

	handler := api.NewServer(storeHandle, services, api.Options{
		Version:     string(version),
		CORSOrigins: cfg.Server.CORSOrigins,
		AuthRPS:     cfg.Server.AuthRPS,
		AuthBurst:   cfg.Server.AuthBurst,
	}, m, log.Logger)

	srv := handler.HTTPServer(":"+cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}
