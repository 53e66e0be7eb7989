package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/notify"
	"github.com/gamerequest/gamerequest-server/internal/settings"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

func (s *Server) registerAdminRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getServerSettings",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/settings",
		Summary:     "Get server settings",
		Description: "Gets the runtime settings with the bot token masked (admin only)",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetServerSettings)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateServerSettings",
		Method:      http.MethodPatch,
		Path:        "/api/v1/admin/settings",
		Summary:     "Update server settings",
		Description: "Applies a partial update. Enabling Telegram requires a successful test with the same credentials (admin only)",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateServerSettings)

	huma.Register(s.api, huma.Operation{
		OperationID: "testNotifications",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/notifications/test",
		Summary:     "Send a Telegram test message",
		Description: "Sends a test message with the given credentials and records them as verified on success (admin only)",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleTestNotifications)

	huma.Register(s.api, huma.Operation{
		OperationID: "listUsers",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/users",
		Summary:     "List users",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListUsers)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateUserRole",
		Method:      http.MethodPut,
		Path:        "/api/v1/admin/users/{id}/role",
		Summary:     "Change a user's role",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateUserRole)

	huma.Register(s.api, huma.Operation{
		OperationID: "setUserActive",
		Method:      http.MethodPut,
		Path:        "/api/v1/admin/users/{id}/active",
		Summary:     "Enable or disable a user",
		Description: "Disabled users cannot log in and their tokens stop working (admin only)",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleSetUserActive)

	huma.Register(s.api, huma.Operation{
		OperationID: "getUserQuota",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/users/{id}/quota",
		Summary:     "Get a user's active request count",
		Description: "Counts the user's pending and approved requests against the current limit (admin only)",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetUserQuota)
}

// === DTOs ===

// SettingsResponse is the API view of the runtime settings.
type SettingsResponse struct {
	settings.Snapshot
	ChannelVerified bool `json:"channel_verified" doc:"Whether the current Telegram credentials passed a test"`
}

// SettingsOutput wraps settings for Huma.
type SettingsOutput struct {
	Body SettingsResponse
}

// UpdateSettingsInput carries a partial settings update.
type UpdateSettingsInput struct {
	Body settings.Patch
}

// TestNotificationsInput carries the credentials under test.
type TestNotificationsInput struct {
	Body notify.Credentials
}

// TestNotificationsOutput wraps the test outcome for Huma.
type TestNotificationsOutput struct {
	Body notify.TestResult
}

// ListUsersInput contains pagination parameters.
type ListUsersInput struct {
	Offset int `query:"offset" minimum:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"0" maximum:"500" doc:"Page size (default 50)"`
}

// UserListResponse is one page of users.
type UserListResponse struct {
	Items   []UserResponse `json:"items" doc:"Users"`
	Total   int            `json:"total" doc:"Total users"`
	HasMore bool           `json:"has_more" doc:"Whether more pages follow"`
}

// UserListOutput wraps a user page for Huma.
type UserListOutput struct {
	Body UserListResponse
}

// UpdateRoleInput carries a role change.
type UpdateRoleInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body struct {
		Role domain.Role `json:"role" enum:"admin,user" doc:"New role"`
	}
}

// SetActiveInput enables or disables an account.
type SetActiveInput struct {
	ID   string `path:"id" doc:"User ID"`
	Body struct {
		Active bool `json:"active" doc:"Whether the account may log in"`
	}
}

// UserIDInput addresses one user.
type UserIDInput struct {
	ID string `path:"id" doc:"User ID"`
}

// QuotaOutput wraps a quota usage for Huma.
type QuotaOutput struct {
	Body lifecycle.QuotaUsage
}

// === Handlers ===

func (s *Server) handleGetServerSettings(ctx context.Context, _ *struct{}) (*SettingsOutput, error) {
	if _, err := RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return &SettingsOutput{Body: mapSettings(s.services.Settings.Current())}, nil
}

func (s *Server) handleUpdateServerSettings(ctx context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	admin, err := RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := s.services.Settings.Update(ctx, input.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Info("settings updated", "version", snap.Version, "by", admin.ID)
	return &SettingsOutput{Body: mapSettings(snap)}, nil
}

func (s *Server) handleTestNotifications(ctx context.Context, input *TestNotificationsInput) (*TestNotificationsOutput, error) {
	if _, err := RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return &TestNotificationsOutput{Body: s.services.Notify.Test(ctx, input.Body)}, nil
}

func (s *Server) handleListUsers(ctx context.Context, input *ListUsersInput) (*UserListOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := s.services.Auth.ListUsers(ctx, user.Actor(), store.PageParams{Offset: input.Offset, Limit: input.Limit})
	if err != nil {
		return nil, err
	}

	items := make([]UserResponse, 0, len(page.Items))
	for _, u := range page.Items {
		items = append(items, mapUser(u))
	}
	return &UserListOutput{Body: UserListResponse{Items: items, Total: page.Total, HasMore: page.HasMore}}, nil
}

func (s *Server) handleUpdateUserRole(ctx context.Context, input *UpdateRoleInput) (*UserOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.services.Auth.UpdateUserRole(ctx, user.Actor(), input.ID, input.Body.Role)
	if err != nil {
		return nil, err
	}
	return &UserOutput{Body: mapUser(updated)}, nil
}

func (s *Server) handleSetUserActive(ctx context.Context, input *SetActiveInput) (*UserOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := s.services.Auth.SetUserActive(ctx, user.Actor(), input.ID, input.Body.Active)
	if err != nil {
		return nil, err
	}
	return &UserOutput{Body: mapUser(updated)}, nil
}

func (s *Server) handleGetUserQuota(ctx context.Context, input *UserIDInput) (*QuotaOutput, error) {
	admin, err := RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.services.Auth.GetUser(ctx, input.ID); err != nil {
		return nil, err
	}

	usage, err := s.services.Requests.QuotaUsage(ctx, admin.Actor(), input.ID)
	if err != nil {
		return nil, err
	}
	return &QuotaOutput{Body: *usage}, nil
}

func mapSettings(snap settings.Snapshot) SettingsResponse {
	return SettingsResponse{
		Snapshot:        snap.Redacted(),
		ChannelVerified: snap.ChannelVerified(),
	}
}
