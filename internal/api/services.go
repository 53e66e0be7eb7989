package api

import (
	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/importer"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/notify"
	"github.com/gamerequest/gamerequest-server/internal/search"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// Services groups all business logic services used by the API server.
type Services struct {
	Auth     *service.AuthService
	Requests *lifecycle.Service
	Importer *importer.Orchestrator
	Catalog  catalog.Catalog // cached gateway; nil when no catalog credentials are configured
	Settings *settings.Service
	Notify   *notify.Dispatcher
	Search   *search.SearchIndex // admin request search
}
