// Package settings holds the admin-editable runtime settings.
//
// Components never cache settings. They call Service.Current at the moment
// they need a value and receive an immutable Snapshot; updates build a new
// snapshot with a higher Version and swap it in atomically.
package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

// UnlimitedRequests disables the per-user active request quota.
const UnlimitedRequests = -1

// Telegram holds the credentials of the notification channel.
type Telegram struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Configured reports whether both credentials are present.
func (t Telegram) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Fingerprint identifies the credential pair without storing it twice.
func (t Telegram) Fingerprint() string {
	return Fingerprint(t.BotToken, t.ChatID)
}

// Snapshot is one immutable version of the runtime settings.
type Snapshot struct {
	Version                  int64     `json:"version"`
	MaxRequestsPerUser       int       `json:"max_requests_per_user"`
	RequireAdminApproval     bool      `json:"require_admin_approval"`
	AllowUserRequestDeletion bool      `json:"allow_user_request_deletion"`
	Telegram                 Telegram  `json:"telegram"`
	NotifyOnNewRequest       bool      `json:"notify_on_new_request"`
	NotifyOnStatusChange     bool      `json:"notify_on_status_change"`
	NotifyOnUserRegistration bool      `json:"notify_on_user_registration"`
	NotifyOnSystemErrors     bool      `json:"notify_on_system_errors"`
	NotifyOnImport           bool      `json:"notify_on_import"`
	ChannelVerifiedFor       string    `json:"channel_verified_for,omitempty"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Defaults returns the settings used before anything has been persisted.
func Defaults() Snapshot {
	return Snapshot{
		Version:              1,
		MaxRequestsPerUser:   UnlimitedRequests,
		RequireAdminApproval: true,
		NotifyOnNewRequest:   true,
		NotifyOnStatusChange: true,
		NotifyOnImport:       true,
		UpdatedAt:            time.Now().UTC(),
	}
}

// QuotaUnlimited reports whether non-admin users may hold any number of
// active requests.
func (s Snapshot) QuotaUnlimited() bool {
	return s.MaxRequestsPerUser < 0
}

// ChannelVerified reports whether the current credentials passed a test delivery.
func (s Snapshot) ChannelVerified() bool {
	return s.Telegram.Configured() && s.ChannelVerifiedFor == s.Telegram.Fingerprint()
}

// NotifyEnabledFor reports whether events of kind should be delivered.
func (s Snapshot) NotifyEnabledFor(kind domain.EventKind) bool {
	if !s.Telegram.Enabled || !s.Telegram.Configured() {
		return false
	}
	switch kind {
	case domain.EventNewRequest:
		return s.NotifyOnNewRequest
	case domain.EventStatusChange:
		return s.NotifyOnStatusChange
	case domain.EventRegistration:
		return s.NotifyOnUserRegistration
	case domain.EventSystemError:
		return s.NotifyOnSystemErrors
	case domain.EventImportCompleted:
		return s.NotifyOnImport
	default:
		return false
	}
}

// Redacted returns a copy safe to show to operators.
func (s Snapshot) Redacted() Snapshot {
	if s.Telegram.BotToken != "" {
		s.Telegram.BotToken = maskToken(s.Telegram.BotToken)
	}
	s.ChannelVerifiedFor = ""
	return s
}

// Fingerprint hashes a bot token and chat id pair.
func Fingerprint(botToken, chatID string) string {
	if botToken == "" || chatID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(botToken + "\x00" + chatID))
	return hex.EncodeToString(sum[:16])
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
