// Package notify delivers notification events to the admin Telegram chat.
//
// Dispatch never blocks the caller: events go into a bounded queue and are
// delivered by background workers. Whether an event is sent is decided at
// delivery time from the current settings snapshot, so toggling a flag takes
// effect for events already queued. Delivery failures are retried a few
// times, then logged and counted; they are never returned to the emitter.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

const (
	DefaultQueueSize  = 256
	DefaultWorkers    = 1
	DefaultMaxRetries = 2
	DefaultBackoff    = 500 * time.Millisecond
	DefaultTimeout    = 15 * time.Second
)

// Outcomes recorded per event.
const (
	outcomeSent     = "sent"
	outcomeFailed   = "failed"
	outcomeDropped  = "dropped"
	outcomeFiltered = "filtered"
)

// Settings is the view of runtime settings the dispatcher needs.
type Settings interface {
	Current() settings.Snapshot
	RecordVerified(ctx context.Context, botToken, chatID string) error
}

// Options tunes the queue and the retry budget.
type Options struct {
	QueueSize  int
	Workers    int
	MaxRetries int
	Backoff    time.Duration // first retry delay, doubled per attempt
	Timeout    time.Duration // overall budget per event, retries included
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Dispatcher queues events and delivers them in the background.
type Dispatcher struct {
	channels ChannelProvider
	settings Settings
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	events chan domain.NotificationEvent
	wg     sync.WaitGroup

	// ctx bounds in-flight deliveries; cancelled when a shutdown drain times out.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownMu sync.RWMutex
	shutdown   bool
	startOnce  sync.Once
}

// NewDispatcher creates a dispatcher. Call Start to begin delivery.
func NewDispatcher(channels ChannelProvider, s Settings, opts Options, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		channels: channels,
		settings: s,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		events:   make(chan domain.NotificationEvent, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the delivery workers. Calling it again has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("notification dispatcher starting", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
		for range d.opts.Workers {
			d.wg.Add(1)
			go d.run()
		}
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		d.metrics.NotifyQueueDepth(len(d.events))
		d.deliver(event)
	}
}

// Dispatch queues an event and reports whether it was accepted. A full
// queue or a dispatcher that is shutting down drops the event.
func (d *Dispatcher) Dispatch(event domain.NotificationEvent) bool {
	// Hold the read lock through the send so Shutdown cannot close the
	// channel underneath us.
	d.shutdownMu.RLock()
	defer d.shutdownMu.RUnlock()

	if d.shutdown {
		d.metrics.NotifyEvent(string(event.Kind), outcomeDropped)
		return false
	}

	select {
	case d.events <- event:
		d.metrics.NotifyQueueDepth(len(d.events))
		return true
	default:
		d.metrics.NotifyEvent(string(event.Kind), outcomeDropped)
		d.logger.Warn("notification queue full, dropping event",
			"event_id", event.ID,
			"kind", event.Kind,
		)
		return false
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered
// until ctx expires. Deliveries still running at that point are aborted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shutdownMu.Lock()
	if d.shutdown {
		d.shutdownMu.Unlock()
		return nil
	}
	d.shutdown = true
	close(d.events)
	d.shutdownMu.Unlock()

	// Workers may never have been started; drain anyway.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification queue drained")
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("notification drain timed out, remaining events dropped", "pending", len(d.events))
		return ctx.Err()
	}
}

// deliver filters, renders and sends one event.
func (d *Dispatcher) deliver(event domain.NotificationEvent) {
	kind := string(event.Kind)
	snap := d.settings.Current()
	if !snap.NotifyEnabledFor(event.Kind) {
		d.metrics.NotifyEvent(kind, outcomeFiltered)
		return
	}

	msg, err := Render(event)
	if err != nil {
		d.metrics.NotifyEvent(kind, outcomeFailed)
		d.logger.Error("render notification", "event_id", event.ID, "kind", kind, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Timeout)
	defer cancel()

	ch := d.channels.Channel(snap.Telegram.BotToken, snap.Telegram.ChatID)
	attempts, err := d.sendWithRetry(ctx, ch, msg)
	if err != nil {
		d.metrics.NotifyEvent(kind, outcomeFailed)
		d.logger.Warn("notification delivery failed",
			"event_id", event.ID,
			"kind", kind,
			"attempts", attempts,
			"error", err,
		)
		return
	}

	d.metrics.NotifyEvent(kind, outcomeSent)
	d.logger.Debug("notification sent", "event_id", event.ID, "kind", kind, "attempts", attempts)
}

// sendWithRetry makes up to 1+MaxRetries attempts with exponential backoff.
// Permanent failures are not retried.
func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, msg Message) (int, error) {
	backoff := d.opts.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = ch.Send(ctx, msg); err == nil {
			return attempt, nil
		}
		if attempt > d.opts.MaxRetries || !retryable(err) {
			return attempt, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

// Credentials is a bot token and chat id pair under test.
type Credentials struct {
	BotToken string `json:"bot_token" validate:"required,notblank"`
	ChatID   string `json:"chat_id" validate:"required,notblank"`
}

// TestResult reports the outcome of a test delivery.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Test sends a test message with creds, bypassing the queue and the
// settings flags. On success the credentials are recorded as verified,
// which is what allows the channel to be enabled.
func (d *Dispatcher) Test(ctx context.Context, creds Credentials) TestResult {
	creds.BotToken = trim(creds.BotToken)
	creds.ChatID = trim(creds.ChatID)
	if creds.BotToken == "" || creds.ChatID == "" {
		return TestResult{Message: "Bot token and chat ID are required"}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	ch := d.channels.Channel(creds.BotToken, creds.ChatID)
	if err := ch.Send(ctx, testMessage()); err != nil {
		d.logger.Warn("telegram test message failed", "error", err)
		return TestResult{Message: "Failed to send test message: " + err.Error()}
	}

	if err := d.settings.RecordVerified(ctx, creds.BotToken, creds.ChatID); err != nil {
		d.logger.Error("record telegram verification", "error", err)
		return TestResult{Message: "Test message sent, but saving the verification failed"}
	}

	d.logger.Info("telegram test message sent")
	return TestResult{Success: true, Message: "Test message sent successfully"}
}
