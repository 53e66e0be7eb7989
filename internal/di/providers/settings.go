package providers

import (
	"context"
	"errors"
	"io/fs"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// ProvideSettingsService loads the persisted runtime settings and applies
// the seed file on top when one is configured.
func ProvideSettingsService(i do.Injector) (*settings.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	svc := settings.NewService(storeHandle, log.WithComponent("settings"))

	ctx := context.Background()
	if err := svc.Load(ctx); err != nil {
		return nil, err
	}

	if cfg.Settings.SeedFile != "" {
		snap, err := svc.ApplySeed(ctx, cfg.Settings.SeedFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Info("Settings seed file not found, using stored settings", "path", cfg.Settings.SeedFile)
		case err != nil:
			return nil, err
		default:
			log.Info("Settings seed applied",
				"path", cfg.Settings.SeedFile,
				"max_requests_per_user", snap.MaxRequestsPerUser,
				"telegram_enabled", snap.Telegram.Enabled,
			)
		}
	}

	return svc, nil
}

// SettingsWatcherHandle wraps the seed file watcher with shutdown capability.
// Watcher is nil when watching is disabled.
type SettingsWatcherHandle struct {
	*settings.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SettingsWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Stop()
}

// ProvideSettingsWatcher re-applies the seed file when it changes.
func ProvideSettingsWatcher(i do.Injector) (*SettingsWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	svc := do.MustInvoke[*settings.Service](i)

	if cfg.Settings.SeedFile == "" || !cfg.Settings.Watch {
		return &SettingsWatcherHandle{}, nil
	}

	w, err := settings.NewWatcher(svc, cfg.Settings.SeedFile, log.WithComponent("settings"))
	if err != nil {
		// Settings stay editable through the API.
		log.Warn("Settings file watcher unavailable", "path", cfg.Settings.SeedFile, "error", err)
		return &SettingsWatcherHandle{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	log.Info("Settings file watcher started", "path", cfg.Settings.SeedFile)

	return &SettingsWatcherHandle{Watcher: w, cancel: cancel}, nil
}
