// Package store defines the persistence contracts for requests, users and
// runtime settings. Implementations live in the sqlite and postgres
// subpackages; the lifecycle and import layers depend only on these
// interfaces.
package store

import (
	"context"
	"strings"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/settings"
)

// RequestStore persists game requests and answers the uniqueness and quota
// questions that must never be served from a cache.
type RequestStore interface {
	// CreateRequest inserts r. A second active request by the same user for
	// the same catalog id fails with ErrAlreadyExists.
	CreateRequest(ctx context.Context, r *domain.Request) error

	// CreateRequestIfAbsent inserts r unless the game is already completed
	// for anyone or the owner already holds an active request for it. The
	// check and the insert are a single atomic step. When nothing is inserted
	// the blocking request is returned.
	CreateRequestIfAbsent(ctx context.Context, r *domain.Request) (created bool, existing *domain.Request, err error)

	GetRequest(ctx context.Context, id string) (*domain.Request, error)

	// ListRequests returns one page of requests, newest first, and the total
	// number matching the filter.
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, int, error)

	// UpdateRequestStatus moves a request from one status to another. It
	// fails with ErrConflict when the stored status is no longer from.
	UpdateRequestStatus(ctx context.Context, id string, from, to domain.RequestStatus, adminNotes *string) (*domain.Request, error)

	UpdateRequestComment(ctx context.Context, id, comment string) (*domain.Request, error)
	DeleteRequest(ctx context.Context, id string) error

	// CountActiveRequests counts the user's pending and approved requests.
	CountActiveRequests(ctx context.Context, userID string) (int, error)

	// CreateRequestWithinQuota inserts r only while its owner holds fewer
	// than limit active requests. The count and the insert are atomic per
	// owner. On refusal it returns ErrQuotaExceeded with the current count.
	CreateRequestWithinQuota(ctx context.Context, r *domain.Request, limit int) (int, error)

	// FindRequestForGame returns the user's newest request for a catalog id,
	// restricted to the given statuses when any are passed.
	FindRequestForGame(ctx context.Context, userID string, catalogID int64, statuses ...domain.RequestStatus) (*domain.Request, error)

	// FindActiveByName returns active requests of the user whose normalized
	// game name equals normalizedName and whose catalog id is unknown.
	FindActiveByName(ctx context.Context, userID, normalizedName string) ([]*domain.Request, error)

	CountRequestsByStatus(ctx context.Context) (domain.StatusCounts, error)
	GameStatus(ctx context.Context, catalogID int64, userID string) (*domain.GameStatus, error)
	ImportStats(ctx context.Context) (*domain.ImportStats, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, p PageParams) ([]*domain.User, int, error)
	UpdateUserRole(ctx context.Context, id string, role domain.Role) (*domain.User, error)
	SetUserActive(ctx context.Context, id string, active bool) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	RequestStore
	UserStore
	settings.Store

	Ping(ctx context.Context) error
	Close() error
}

// SearchIndexer is notified after request rows change so a secondary name
// index can follow the store. Failures are logged by the caller, never
// surfaced.
type SearchIndexer interface {
	IndexRequest(ctx context.Context, r *domain.Request) error
	DeleteRequest(ctx context.Context, id string) error
}

// NoopSearchIndexer is used when no index is configured.
type NoopSearchIndexer struct{}

// NewNoopSearchIndexer returns an indexer that does nothing.
func NewNoopSearchIndexer() *NoopSearchIndexer { return &NoopSearchIndexer{} }

func (NoopSearchIndexer) IndexRequest(context.Context, *domain.Request) error { return nil }
func (NoopSearchIndexer) DeleteRequest(context.Context, string) error         { return nil }

// NormalizeGameName folds a submitted game name for the name column used by
// best-effort duplicate detection when no catalog id is known.
func NormalizeGameName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ActiveStatuses are the statuses that count toward quota.
var ActiveStatuses = []domain.RequestStatus{domain.StatusPending, domain.StatusApproved}
