package settings

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	MaxRequestsPerUser       *int    `json:"max_requests_per_user,omitempty"`
	RequireAdminApproval     *bool   `json:"require_admin_approval,omitempty"`
	AllowUserRequestDeletion *bool   `json:"allow_user_request_deletion,omitempty"`
	TelegramEnabled          *bool   `json:"telegram_enabled,omitempty"`
	TelegramBotToken         *string `json:"telegram_bot_token,omitempty"`
	TelegramChatID           *string `json:"telegram_chat_id,omitempty"`
	NotifyOnNewRequest       *bool   `json:"notify_on_new_request,omitempty"`
	NotifyOnStatusChange     *bool   `json:"notify_on_status_change,omitempty"`
	NotifyOnUserRegistration *bool   `json:"notify_on_user_registration,omitempty"`
	NotifyOnSystemErrors     *bool   `json:"notify_on_system_errors,omitempty"`
	NotifyOnImport           *bool   `json:"notify_on_import,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// apply returns next with the patch fields copied over prev.
func (p Patch) apply(prev Snapshot) Snapshot {
	next := prev
	setInt(&next.MaxRequestsPerUser, p.MaxRequestsPerUser)
	setBool(&next.RequireAdminApproval, p.RequireAdminApproval)
	setBool(&next.AllowUserRequestDeletion, p.AllowUserRequestDeletion)
	setBool(&next.Telegram.Enabled, p.TelegramEnabled)
	setString(&next.Telegram.BotToken, p.TelegramBotToken)
	setString(&next.Telegram.ChatID, p.TelegramChatID)
	setBool(&next.NotifyOnNewRequest, p.NotifyOnNewRequest)
	setBool(&next.NotifyOnStatusChange, p.NotifyOnStatusChange)
	setBool(&next.NotifyOnUserRegistration, p.NotifyOnUserRegistration)
	setBool(&next.NotifyOnSystemErrors, p.NotifyOnSystemErrors)
	setBool(&next.NotifyOnImport, p.NotifyOnImport)
	return next
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
