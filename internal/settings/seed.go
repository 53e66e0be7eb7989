package settings

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// SeedFile is the operator-managed TOML form of the runtime settings:
//
//	max_requests_per_user = 5
//	require_admin_approval = true
//
//	[telegram]
//	bot_token = "123:abc"
//	chat_id = "-100200300"
//
//	[notify]
//	new_request = true
//	import_completed = true
type SeedFile struct {
	MaxRequestsPerUser       *int  `toml:"max_requests_per_user"`
	RequireAdminApproval     *bool `toml:"require_admin_approval"`
	AllowUserRequestDeletion *bool `toml:"allow_user_request_deletion"`

	Telegram struct {
		Enabled  *bool   `toml:"enabled"`
		BotToken *string `toml:"bot_token"`
		ChatID   *string `toml:"chat_id"`
	} `toml:"telegram"`

	Notify struct {
		NewRequest       *bool `toml:"new_request"`
		StatusChange     *bool `toml:"status_change"`
		UserRegistration *bool `toml:"user_registration"`
		SystemErrors     *bool `toml:"system_errors"`
		ImportCompleted  *bool `toml:"import_completed"`
	} `toml:"notify"`
}

// Patch converts the seed file into a settings patch.
func (f *SeedFile) Patch() Patch {
	return Patch{
		MaxRequestsPerUser:       f.MaxRequestsPerUser,
		RequireAdminApproval:     f.RequireAdminApproval,
		AllowUserRequestDeletion: f.AllowUserRequestDeletion,
		TelegramEnabled:          f.Telegram.Enabled,
		TelegramBotToken:         f.Telegram.BotToken,
		TelegramChatID:           f.Telegram.ChatID,
		NotifyOnNewRequest:       f.Notify.NewRequest,
		NotifyOnStatusChange:     f.Notify.StatusChange,
		NotifyOnUserRegistration: f.Notify.UserRegistration,
		NotifyOnSystemErrors:     f.Notify.SystemErrors,
		NotifyOnImport:           f.Notify.ImportCompleted,
	}
}

// ParseSeed decodes a TOML seed document. Unknown keys are rejected so typos
// surface instead of being silently ignored.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode settings file: %w", err)
	}
	return &f, nil
}

// LoadSeed reads and decodes the seed file at path.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSeed(data)
}

// ApplySeed loads the seed file at path and applies it as a patch.
func (s *Service) ApplySeed(ctx context.Context, path string) (Snapshot, error) {
	f, err := LoadSeed(path)
	if err != nil {
		return s.Current(), err
	}
	return s.Update(ctx, f.Patch())
}

// EncodeSeed renders a snapshot in seed file form. Credentials are omitted.
func EncodeSeed(snap Snapshot) ([]byte, error) {
	var f SeedFile
	f.MaxRequestsPerUser = &snap.MaxRequestsPerUser
	f.RequireAdminApproval = &snap.RequireAdminApproval
	f.AllowUserRequestDeletion = &snap.AllowUserRequestDeletion
	f.Telegram.Enabled = &snap.Telegram.Enabled
	f.Notify.NewRequest = &snap.NotifyOnNewRequest
	f.Notify.StatusChange = &snap.NotifyOnStatusChange
	f.Notify.UserRegistration = &snap.NotifyOnUserRegistration
	f.Notify.SystemErrors = &snap.NotifyOnSystemErrors
	f.Notify.ImportCompleted = &snap.NotifyOnImport

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode settings file: %w", err)
	}
	return buf.Bytes(), nil
}
