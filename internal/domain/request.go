package domain

import "time"

// RequestStatus is the lifecycle state of a game request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCompleted RequestStatus = "completed"
)

// AllStatuses lists every status in display order.
var AllStatuses = []RequestStatus{StatusPending, StatusApproved, StatusRejected, StatusCompleted}

// transitions holds the legal edges of the request state machine.
// Nothing returns to pending and nothing leaves completed.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted, StatusRejected},
	StatusRejected: {StatusApproved},
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Active reports whether a request in this status counts toward quota and
// blocks a second request for the same game.
func (s RequestStatus) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no transition leaves s.
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s RequestStatus) CanTransitionTo(to RequestStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RequestSource records how a request was created.
type RequestSource string

const (
	SourceUser   RequestSource = "user"
	SourceImport RequestSource = "import"
)

// Request is a user's ask for a game to be added to the shared library.
type Request struct {
	Timestamps
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Username   string        `json:"username,omitempty"` // denormalized on read
	GameName   string        `json:"game_name"`
	CatalogID  *int64        `json:"igdb_id,omitempty"`
	CoverURL   string        `json:"cover_url,omitempty"`
	Genres     string        `json:"genres,omitempty"` // comma-joined tag list
	Status     RequestStatus `json:"status"`
	Comment    string        `json:"comment,omitempty"`
	AdminNotes string        `json:"admin_notes,omitempty"`
	Source     RequestSource `json:"source"`
}

// HasCatalogID reports whether the request was resolved against the catalog.
func (r *Request) HasCatalogID() bool {
	return r.CatalogID != nil
}

// IsOwnedBy reports whether userID created the request.
func (r *Request) IsOwnedBy(userID string) bool {
	return r.UserID == userID
}

// RequestFilter narrows request listings. Zero values mean "any".
type RequestFilter struct {
	Status    RequestStatus
	UserID    string
	CatalogID *int64
	Source    RequestSource
	Offset    int
	Limit     int
}

// StatusCounts maps every status to its number of requests.
type StatusCounts map[RequestStatus]int

// Total sums all statuses.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// GameStatus summarizes a catalog game from one user's point of view.
type GameStatus struct {
	IsAvailable       bool          `json:"is_available"`
	CanRequest        bool          `json:"can_request"`
	UserHasRequest    bool          `json:"user_has_request"`
	UserRequestStatus RequestStatus `json:"user_request_status,omitempty"`
	HasPendingRequest bool          `json:"has_pending_request"`
}

// ImportStats describes the imported portion of the library.
type ImportStats struct {
	TotalImported int        `json:"total_imported"`
	LastImportAt  *time.Time `json:"last_import_at,omitempty"`
}
