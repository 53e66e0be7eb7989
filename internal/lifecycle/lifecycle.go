// Package lifecycle drives game requests through their status machine.
//
// Every state change is checked against the caller's role, the legal edges of
// the machine and the per-user quota, then applied with a compare-and-set on
// the current status so concurrent admins cannot both win. Notifications are
// dispatched after the store commits and never affect the outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/id"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/search"
	"github.com/gamerequest/gamerequest-server/internal/settings"
	"github.com/gamerequest/gamerequest-server/internal/store"
	"github.com/gamerequest/gamerequest-server/internal/validation"
)

const (
	markAvailableNotes = "Marked as available by admin"

	// Name similarity above which an uncatalogued request is treated as a
	// repeat of one the user already has open.
	similarNameThreshold = 0.9
)

// Catalog supplies metadata for requests that name a catalog id.
type Catalog interface {
	Fetch(ctx context.Context, id int64) (*domain.CatalogEntry, error)
}

// Settings returns the runtime settings in effect right now.
type Settings interface {
	Current() settings.Snapshot
}

// Notifier receives events after a change commits.
type Notifier interface {
	Dispatch(event domain.NotificationEvent) bool
}

// NameIndex finds open requests with a similar name.
type NameIndex interface {
	SimilarActive(ctx context.Context, userID, name string) ([]search.SearchHit, error)
}

// NewRequest is the payload of a single user request.
type NewRequest struct {
	CatalogID *int64 `json:"igdb_id,omitempty" validate:"omitempty,gt=0"`
	GameName  string `json:"game_name" validate:"required,notblank,max=255"`
	Comment   string `json:"comment,omitempty" validate:"max=1000"`
}

// Service owns every state-changing operation on requests.
type Service struct {
	store     store.RequestStore
	catalog   Catalog
	settings  Settings
	notifier  Notifier
	nameIndex NameIndex
	validator *validation.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a lifecycle service. catalog may be nil when no catalog is
// configured; requests are then stored without metadata.
func New(st store.RequestStore, cat Catalog, s Settings, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     st,
		catalog:   cat,
		settings:  s,
		notifier:  notifier,
		validator: validation.New(),
		logger:    logger,
		metrics:   m,
	}
}

// SetNameIndex enables duplicate detection by name for requests without a
// catalog id.
func (s *Service) SetNameIndex(idx NameIndex) {
	s.nameIndex = idx
}

// Create records a new request on behalf of actor.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in NewRequest) (*domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	req := &domain.Request{
		UserID:    actor.UserID,
		Username:  actor.Username,
		GameName:  strings.TrimSpace(in.GameName),
		CatalogID: in.CatalogID,
		Comment:   strings.TrimSpace(in.Comment),
		Source:    domain.SourceUser,
	}

	if in.CatalogID != nil {
		if err := s.attachMetadata(ctx, req); err != nil {
			return nil, err
		}
		if err := s.checkCatalogDuplicate(ctx, actor.UserID, *in.CatalogID); err != nil {
			return nil, err
		}
	} else if err := s.checkNameDuplicate(ctx, actor.UserID, req.GameName); err != nil {
		return nil, err
	}

	snap := s.settings.Current()
	req.Status = domain.StatusPending
	if actor.IsAdmin() || !snap.RequireAdminApproval {
		req.Status = domain.StatusApproved
	}

	reqID, err := id.Generate(id.PrefixRequest)
	if err != nil {
		return nil, fmt.Errorf("generate request ID: %w", err)
	}
	req.ID = reqID
	req.InitTimestamps()

	if err := s.insert(ctx, req, actor, snap); err != nil {
		return nil, err
	}

	s.metrics.RequestCreated(string(req.Source), string(req.Status))
	s.logger.Info("request created",
		"request_id", req.ID,
		"user_id", req.UserID,
		"game_name", req.GameName,
		"status", req.Status,
	)

	event := domain.NewEvent(domain.EventNewRequest)
	event.Request = snapshot(req)
	event.Actor = actor.Username
	s.notifier.Dispatch(event)

	return req, nil
}

// insert stores req, enforcing the active request quota for non-admins in the
// same store operation as the insert.
func (s *Service) insert(ctx context.Context, req *domain.Request, actor domain.Actor, snap settings.Snapshot) error {
	if actor.IsAdmin() || snap.QuotaUnlimited() {
		if err := s.store.CreateRequest(ctx, req); err != nil {
			return translate(err, "create request")
		}
		return nil
	}

	active, err := s.store.CreateRequestWithinQuota(ctx, req, snap.MaxRequestsPerUser)
	if errors.Is(err, store.ErrQuotaExceeded) {
		return domainerrors.QuotaExceeded(active, snap.MaxRequestsPerUser)
	}
	if err != nil {
		return translate(err, "create request")
	}
	return nil
}

// attachMetadata copies cover and genres from the catalog. A catalog outage
// does not block the request; an unknown id does.
func (s *Service) attachMetadata(ctx context.Context, req *domain.Request) error {
	if s.catalog == nil {
		return nil
	}
	entry, err := s.catalog.Fetch(ctx, *req.CatalogID)
	switch {
	case err == nil:
		req.CoverURL = catalog.CoverURL(entry.CoverImageID, catalog.CoverBig)
		req.Genres = strings.Join(entry.Genres, ", ")
		return nil
	case domainerrors.Is(err, domainerrors.ErrNotFound):
		return domainerrors.NotFound(fmt.Sprintf("game %d not found in catalog", *req.CatalogID))
	case domainerrors.CodeOf(err).Retryable():
		s.logger.Warn("catalog lookup failed, storing request without metadata",
			"igdb_id", *req.CatalogID,
			"error", err,
		)
		return nil
	default:
		return fmt.Errorf("fetch catalog entry: %w", err)
	}
}

// checkCatalogDuplicate refuses a game the library already holds or the user
// already asked for.
func (s *Service) checkCatalogDuplicate(ctx context.Context, userID string, catalogID int64) error {
	existing, err := s.store.FindRequestForGame(ctx, userID, catalogID,
		domain.StatusPending, domain.StatusApproved, domain.StatusCompleted)
	switch {
	case err == nil:
		if existing.Status == domain.StatusCompleted {
			return domainerrors.DuplicateRequest("game is already in the library")
		}
		return domainerrors.DuplicateRequest("you have already requested this game")
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("find existing request: %w", err)
	}

	status, err := s.store.GameStatus(ctx, catalogID, userID)
	if err != nil {
		return fmt.Errorf("game status: %w", err)
	}
	if status.IsAvailable {
		return domainerrors.DuplicateRequest("game is already in the library")
	}
	return nil
}

// checkNameDuplicate is best effort: the normalized name column catches exact
// repeats and the search index catches near ones when it is available.
func (s *Service) checkNameDuplicate(ctx context.Context, userID, name string) error {
	existing, err := s.store.FindActiveByName(ctx, userID, store.NormalizeGameName(name))
	if err != nil {
		return fmt.Errorf("find request by name: %w", err)
	}
	if len(existing) > 0 {
		return domainerrors.DuplicateRequest("you have already requested this game")
	}

	if s.nameIndex == nil {
		return nil
	}
	hits, err := s.nameIndex.SimilarActive(ctx, userID, name)
	if err != nil {
		s.logger.Warn("name index lookup failed", "user_id", userID, "error", err)
		return nil
	}
	query := matcher.Normalize(name)
	for _, hit := range hits {
		if matcher.Score(query, matcher.Normalize(hit.GameName)) >= similarNameThreshold {
			return domainerrors.DuplicateRequest("you have already requested this game").
				WithDetails(map[string]string{"request_id": hit.ID})
		}
	}
	return nil
}

// Transition moves a request to target. Only admins may change status.
// adminNotes replaces the stored notes when non-nil.
func (s *Service) Transition(ctx context.Context, requestID string, target domain.RequestStatus, actor domain.Actor, adminNotes *string) (*domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, domainerrors.RoleForbidden("only admins can change request status")
	}
	if !target.Valid() {
		return nil, domainerrors.Validation(fmt.Sprintf("unknown status %q", target))
	}

	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, translate(err, "get request")
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, domainerrors.IllegalTransition(string(current.Status), string(target))
	}

	updated, err := s.store.UpdateRequestStatus(ctx, requestID, current.Status, target, adminNotes)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.TransitionConflict()
			s.logger.Info("transition lost to concurrent update",
				"request_id", requestID,
				"from", current.Status,
				"to", target,
			)
		}
		return nil, translate(err, "update request status")
	}

	s.metrics.Transition(string(current.Status), string(target))
	s.logger.Info("request status changed",
		"request_id", requestID,
		"from", current.Status,
		"to", target,
		"admin_id", actor.UserID,
	)

	event := domain.NewEvent(domain.EventStatusChange)
	event.Request = snapshot(updated)
	event.PrevStatus = current.Status
	event.Actor = actor.Username
	s.notifier.Dispatch(event)

	return updated, nil
}

// MarkAvailable completes an approved request.
func (s *Service) MarkAvailable(ctx context.Context, requestID string, actor domain.Actor) (*domain.Request, error) {
	notes := markAvailableNotes
	return s.Transition(ctx, requestID, domain.StatusCompleted, actor, &notes)
}

// Delete removes a request. Owners may delete their own only when the
// settings allow it.
func (s *Service) Delete(ctx context.Context, requestID string, actor domain.Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return translate(err, "get request")
	}
	if !s.canModify(req, actor) {
		return domainerrors.RoleForbidden("you cannot delete this request")
	}

	if err := s.store.DeleteRequest(ctx, requestID); err != nil {
		return translate(err, "delete request")
	}

	s.logger.Info("request deleted", "request_id", requestID, "by", actor.UserID)
	return nil
}

// UpdateComment replaces the comment on a request.
func (s *Service) UpdateComment(ctx context.Context, requestID string, actor domain.Actor, comment string) (*domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > 1000 {
		return nil, domainerrors.Validation("comment must not exceed 1000 characters")
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, translate(err, "get request")
	}
	if !actor.IsAdmin() && !req.IsOwnedBy(actor.UserID) {
		return nil, domainerrors.RoleForbidden("you cannot edit this request")
	}

	updated, err := s.store.UpdateRequestComment(ctx, requestID, comment)
	if err != nil {
		return nil, translate(err, "update request comment")
	}
	return updated, nil
}

// Get returns a request visible to actor.
func (s *Service) Get(ctx context.Context, requestID string, actor domain.Actor) (*domain.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, translate(err, "get request")
	}
	if !actor.IsAdmin() && !req.IsOwnedBy(actor.UserID) {
		return nil, domainerrors.Forbidden("you cannot view this request")
	}
	return req, nil
}

// List returns one page of requests.
func (s *Service) List(ctx context.Context, filter domain.RequestFilter) (*store.Page[*domain.Request], error) {
	p := store.PageParams{Offset: filter.Offset, Limit: filter.Limit}.Normalize()
	filter.Offset, filter.Limit = p.Offset, p.Limit

	items, total, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return store.NewPage(items, total, p), nil
}

// CountsByStatus returns the number of requests in every status.
func (s *Service) CountsByStatus(ctx context.Context, actor domain.Actor) (domain.StatusCounts, error) {
	if !actor.IsAdmin() {
		return nil, domainerrors.Forbidden("admin access required")
	}
	counts, err := s.store.CountRequestsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	return counts, nil
}

// QuotaUsage is a user's active request count against the current limit.
// Limit is -1 when the quota is unlimited.
type QuotaUsage struct {
	UserID string `json:"user_id"`
	Active int    `json:"active"`
	Limit  int    `json:"limit"`
}

// QuotaUsage counts userID's pending and approved requests. Users may ask
// about themselves, admins about anyone.
func (s *Service) QuotaUsage(ctx context.Context, actor domain.Actor, userID string) (*QuotaUsage, error) {
	if !actor.IsAdmin() && actor.UserID != userID {
		return nil, domainerrors.Forbidden("admin access required")
	}
	active, err := s.store.CountActiveRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active requests: %w", err)
	}
	return &QuotaUsage{UserID: userID, Active: active, Limit: s.settings.Current().MaxRequestsPerUser}, nil
}

// GameStatus reports whether userID can request the game.
func (s *Service) GameStatus(ctx context.Context, catalogID int64, userID string) (*domain.GameStatus, error) {
	status, err := s.store.GameStatus(ctx, catalogID, userID)
	if err != nil {
		return nil, fmt.Errorf("game status: %w", err)
	}
	return status, nil
}

func (s *Service) canModify(req *domain.Request, actor domain.Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	return req.IsOwnedBy(actor.UserID) && s.settings.Current().AllowUserRequestDeletion
}

// translate maps store errors onto domain errors.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFound("request not found")
	case errors.Is(err, store.ErrConflict):
		return domainerrors.Conflict("request was modified concurrently, reload and try again")
	case errors.Is(err, store.ErrAlreadyExists):
		return domainerrors.DuplicateRequest("an active request for this game already exists")
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// snapshot copies r so later mutations never reach a queued event.
func snapshot(r *domain.Request) *domain.Request {
	c := *r
	if r.CatalogID != nil {
		v := *r.CatalogID
		c.CatalogID = &v
	}
	return &c
}
