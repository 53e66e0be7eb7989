package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

// Store persists the latest snapshot.
type Store interface {
	// LoadSettings returns the persisted snapshot, or (nil, nil) when none exists.
	LoadSettings(ctx context.Context) (*Snapshot, error)
	SaveSettings(ctx context.Context, s *Snapshot) error
}

// Service owns the current snapshot and serializes updates.
type Service struct {
	store  Store
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers
}

// NewService creates a service seeded with Defaults. Call Load to pick up the
// persisted snapshot.
func NewService(store Store, logger *slog.Logger) *Service {
	s := &Service{store: store, logger: logger}
	d := Defaults()
	s.current.Store(&d)
	return s
}

// Load replaces the in-memory snapshot with the persisted one. When nothing
// has been persisted yet the defaults are written.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if persisted == nil {
		d := *s.current.Load()
		if err := s.store.SaveSettings(ctx, &d); err != nil {
			return fmt.Errorf("save default settings: %w", err)
		}
		return nil
	}
	s.current.Store(persisted)
	return nil
}

// Current returns the snapshot in effect right now.
func (s *Service) Current() Snapshot {
	return *s.current.Load()
}

// Update applies a patch, persists it and publishes a new version.
//
// Changing either Telegram credential to values that have not passed a test
// delivery clears the recorded verification and switches the channel off. Enabling the channel is refused unless the
// resulting credentials passed a test delivery.
func (s *Service) Update(ctx context.Context, p Patch) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := *s.current.Load()
	if p.Empty() {
		return prev, nil
	}

	next := p.apply(prev)
	next.Telegram.BotToken = strings.TrimSpace(next.Telegram.BotToken)
	next.Telegram.ChatID = strings.TrimSpace(next.Telegram.ChatID)

	if next.MaxRequestsPerUser < UnlimitedRequests {
		return prev, domainerrors.Validation("max_requests_per_user must be -1 (unlimited) or a non-negative number")
	}

	if fp := next.Telegram.Fingerprint(); fp != prev.Telegram.Fingerprint() && fp != prev.ChannelVerifiedFor {
		next.ChannelVerifiedFor = ""
		if p.TelegramEnabled == nil {
			next.Telegram.Enabled = false
		}
	}
	if next.Telegram.Enabled && !next.ChannelVerified() {
		return prev, domainerrors.ErrChannelNotVerified
	}

	return s.publish(ctx, prev, next)
}

// RecordVerified marks the given credentials as having passed a test
// delivery. It does not enable the channel.
func (s *Service) RecordVerified(ctx context.Context, botToken, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := *s.current.Load()
	next := prev
	next.ChannelVerifiedFor = Fingerprint(strings.TrimSpace(botToken), strings.TrimSpace(chatID))
	if next.ChannelVerifiedFor == prev.ChannelVerifiedFor {
		return nil
	}
	_, err := s.publish(ctx, prev, next)
	return err
}

func (s *Service) publish(ctx context.Context, prev, next Snapshot) (Snapshot, error) {
	next.Version = prev.Version + 1
	next.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveSettings(ctx, &next); err != nil {
		return prev, fmt.Errorf("save settings: %w", err)
	}
	s.current.Store(&next)

	s.logger.Info("settings updated",
		"version", next.Version,
		"max_requests_per_user", next.MaxRequestsPerUser,
		"require_admin_approval", next.RequireAdminApproval,
		"telegram_enabled", next.Telegram.Enabled,
	)
	return next, nil
}
