package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a notification event.
type EventKind string

const (
	EventNewRequest      EventKind = "new_request"
	EventStatusChange    EventKind = "status_change"
	EventRegistration    EventKind = "registration"
	EventSystemError     EventKind = "system_error"
	EventImportCompleted EventKind = "import_completed"
)

// ImportSummary is the batch-level payload of an import_completed event.
type ImportSummary struct {
	BatchID    string `json:"batch_id"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	ImportedBy string `json:"imported_by"`
}

// NotificationEvent is emitted once per committed state change. Payload
// fields are snapshots taken at emission time.
type NotificationEvent struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Request    *Request       `json:"request,omitempty"`
	PrevStatus RequestStatus  `json:"prev_status,omitempty"`
	User       *User          `json:"user,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Import     *ImportSummary `json:"import,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewEvent returns an event of kind stamped with a fresh id and the current time.
func NewEvent(kind EventKind) NotificationEvent {
	return NotificationEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
}
