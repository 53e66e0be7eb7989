package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/store"
	"github.com/gamerequest/gamerequest-server/internal/store/postgres"
	"github.com/gamerequest/gamerequest-server/internal/store/sqlite"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	store.Store
	indexable interface {
		SetSearchIndexer(store.SearchIndexer)
	}
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// SetSearchIndexer forwards row changes to indexer.
func (h *StoreHandle) SetSearchIndexer(indexer store.SearchIndexer) {
	h.indexable.SetSearchIndexer(indexer)
}

// ProvideStore opens the request store selected by configuration.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	switch cfg.Store.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		db, err := postgres.Open(ctx, cfg.Store.PostgresDSN, cfg.Store.Timeout, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info("Database initialized", "driver", "postgres")
		return &StoreHandle{Store: db, indexable: db}, nil

	case "sqlite":
		if err := os.MkdirAll(cfg.Data.BasePath, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := sqlite.Open(cfg.SQLitePath(), log.Logger)
		if err != nil {
			return nil, err
		}
		db.SetTimeout(cfg.Store.Timeout)
		log.Info("Database initialized", "driver", "sqlite", "path", cfg.SQLitePath())
		return &StoreHandle{Store: db, indexable: db}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
