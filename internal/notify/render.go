package notify

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
)

const dateLayout = "02.01.2006 15:04"

var funcs = template.FuncMap{
	"statusText":  statusText,
	"statusEmoji": statusEmoji,
	"date":        func(t time.Time) string { return t.Format(dateLayout) },
}

// Templates produce Telegram's HTML subset. html/template escapes every
// interpolated value, so user input cannot inject markup.
var templates = map[domain.EventKind]*template.Template{
	domain.EventNewRequest: parse("new_request", `📝 <b>New Game Request</b>

🎮 <b>Game:</b> {{.Request.GameName}}
👤 <b>Requested by:</b> {{.Request.Username}}
🆔 <b>Request ID:</b> #{{.Request.ID}}
{{with .Request.Comment}}💬 <b>Comment:</b> {{.}}
{{end}}{{with .Request.Genres}}🎯 <b>Genres:</b> {{.}}
{{end}}📅 <b>Created:</b> {{date .Request.CreatedAt}}
⚡ <b>Status:</b> {{statusText .Request.Status}}`),

	domain.EventStatusChange: parse("status_change", `{{statusEmoji .Request.Status}} <b>Status Change</b>

🎮 <b>Game:</b> {{.Request.GameName}}
👤 <b>Requested by:</b> {{.Request.Username}}
🆔 <b>Request ID:</b> #{{.Request.ID}}
📊 <b>Status:</b> {{statusText .PrevStatus}} → {{statusText .Request.Status}}
{{with .Actor}}👨‍💼 <b>Processed by:</b> {{.}}
{{end}}{{with .Request.AdminNotes}}📝 <b>Admin Notes:</b> {{.}}
{{end}}📅 <b>Updated:</b> {{date .Request.UpdatedAt}}`),

	domain.EventRegistration: parse("registration", `👤 <b>New User Registration</b>

🆔 <b>Username:</b> {{.User.Username}}
📅 <b>Registered:</b> {{date .OccurredAt}}`),

	domain.EventSystemError: parse("system_error", `🚨 <b>System Error</b>

{{.Error}}
📅 <b>Time:</b> {{date .OccurredAt}}`),

	domain.EventImportCompleted: parse("import_completed", `📚 <b>Library Import Finished</b>

📦 <b>Games:</b> {{.Import.Total}}
✅ <b>Imported:</b> {{.Import.Successful}}
❌ <b>Failed:</b> {{.Import.Failed}}
👤 <b>Imported by:</b> {{.Import.ImportedBy}}
📅 <b>Finished:</b> {{date .OccurredAt}}`),
}

func parse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

// Render turns an event into a message. Events about a request with a cover
// carry it as the photo.
func Render(event domain.NotificationEvent) (Message, error) {
	tmpl, ok := templates[event.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for event kind %q", event.Kind)
	}
	if err := checkPayload(event); err != nil {
		return Message{}, err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, event); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", event.Kind, err)
	}

	msg := Message{Text: b.String()}
	if event.Request != nil {
		msg.PhotoURL = event.Request.CoverURL
	}
	return msg, nil
}

func checkPayload(event domain.NotificationEvent) error {
	missing := ""
	switch event.Kind {
	case domain.EventNewRequest, domain.EventStatusChange:
		if event.Request == nil {
			missing = "request"
		}
	case domain.EventRegistration:
		if event.User == nil {
			missing = "user"
		}
	case domain.EventImportCompleted:
		if event.Import == nil {
			missing = "import summary"
		}
	}
	if missing != "" {
		return fmt.Errorf("%s event without %s", event.Kind, missing)
	}
	return nil
}

func testMessage() Message {
	return Message{Text: "🎮 <b>GameRequest Test</b>\n\nTelegram notifications are successfully configured!"}
}

func statusText(s domain.RequestStatus) string {
	switch s {
	case domain.StatusPending:
		return "Pending"
	case domain.StatusApproved:
		return "Approved"
	case domain.StatusRejected:
		return "Rejected"
	case domain.StatusCompleted:
		return "Completed"
	default:
		return string(s)
	}
}

func statusEmoji(s domain.RequestStatus) string {
	switch s {
	case domain.StatusPending:
		return "⏳"
	case domain.StatusApproved:
		return "✅"
	case domain.StatusRejected:
		return "❌"
	case domain.StatusCompleted:
		return "🎉"
	default:
		return "📋"
	}
}
