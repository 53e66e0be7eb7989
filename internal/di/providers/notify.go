package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/gamerequest/gamerequest-server/internal/config"
	"github.com/gamerequest/gamerequest-server/internal/logger"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/notify"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// DispatcherHandle wraps the notification dispatcher with shutdown
// capability. Shutdown drains queued events.
type DispatcherHandle struct {
	*notify.Dispatcher
}

// Shutdown implements do.Shutdownable.
func (h *DispatcherHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Dispatcher.Shutdown(ctx)
}

// ProvideDispatcher provides the Telegram notification dispatcher and starts
// its workers.
func ProvideDispatcher(i do.Injector) (*DispatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	m := do.MustInvoke[*metrics.Metrics](i)
	settingsService := do.MustInvoke[*settings.Service](i)

	telegram := notify.NewTelegram(cfg.Notify.TelegramBaseURL, cfg.Notify.Timeout)
	dispatcher := notify.NewDispatcher(telegram, settingsService, notify.Options{
		QueueSize:  cfg.Notify.QueueSize,
		MaxRetries: cfg.Notify.MaxRetries,
		Backoff:    cfg.Notify.Backoff,
		Timeout:    cfg.Notify.Timeout,
	}, log.WithComponent("notify"), m)
	dispatcher.Start()

	return &DispatcherHandle{Dispatcher: dispatcher}, nil
}
