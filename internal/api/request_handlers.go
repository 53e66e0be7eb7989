package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/search"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

func (s *Server) registerRequestRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createRequest",
		Method:        http.MethodPost,
		Path:          "/api/v1/requests",
		Summary:       "Request a game",
		Description:   "Creates a request. With a catalog ID the game's metadata is attached and duplicates are rejected.",
		Tags:          []string{"Requests"},
		Security:      []map[string][]string{{"bearer": {}}},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateRequest)

	huma.Register(s.api, huma.Operation{
		OperationID: "listRequests",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests",
		Summary:     "List requests",
		Description: "Users see their own requests. Admins see everything unless mine is set.",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleListRequests)

	huma.Register(s.api, huma.Operation{
		OperationID: "requestStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/stats",
		Summary:     "Request counts by status",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleRequestStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchRequests",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/search",
		Summary:     "Search requests by game name",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleSearchRequests)

	huma.Register(s.api, huma.Operation{
		OperationID: "gameRequestStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/game/{igdb_id}/status",
		Summary:     "Whether the current user can request a game",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGameStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "getRequest",
		Method:      http.MethodGet,
		Path:        "/api/v1/requests/{id}",
		Summary:     "Get a request",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetRequest)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateRequestComment",
		Method:      http.MethodPut,
		Path:        "/api/v1/requests/{id}",
		Summary:     "Update a request's comment",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateRequestComment)

	huma.Register(s.api, huma.Operation{
		OperationID: "transitionRequest",
		Method:      http.MethodPatch,
		Path:        "/api/v1/requests/{id}",
		Summary:     "Change a request's status",
		Description: "Admin only. Legal moves: pending to approved or rejected, approved to completed or rejected, rejected to approved.",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleTransitionRequest)

	huma.Register(s.api, huma.Operation{
		OperationID: "markRequestAvailable",
		Method:      http.MethodPut,
		Path:        "/api/v1/requests/{id}/mark-available",
		Summary:     "Mark a requested game as available",
		Tags:        []string{"Requests"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleMarkAvailable)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteRequest",
		Method:        http.MethodDelete,
		Path:          "/api/v1/requests/{id}",
		Summary:       "Delete a request",
		Tags:          []string{"Requests"},
		Security:      []map[string][]string{{"bearer": {}}},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteRequest)
}

// === DTOs ===

// CreateRequestBody is the body of a new request.
type CreateRequestBody struct {
	CatalogID *int64 `json:"igdb_id,omitempty" doc:"Catalog game ID, when known"`
	GameName  string `json:"game_name" doc:"Game name"`
	Comment   string `json:"comment,omitempty" doc:"Optional note for the admins"`
}

// CreateRequestInput wraps a new request for Huma.
type CreateRequestInput struct {
	Body CreateRequestBody
}

// RequestIDInput identifies a request.
type RequestIDInput struct {
	ID string `path:"id" doc:"Request ID"`
}

// ListRequestsInput contains filters for listing requests.
type ListRequestsInput struct {
	Status string `query:"status" doc:"Filter by status: pending, approved, rejected or completed"`
	Source string `query:"source" doc:"Filter by origin: user or import"`
	Mine   bool   `query:"mine" doc:"Only the caller's requests"`
	UserID string `query:"user_id" doc:"Filter by requester (admin only)"`
	Offset int    `query:"offset" minimum:"0" doc:"Items to skip"`
	Limit  int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size (default 50)"`
}

// UpdateCommentInput carries a new comment.
type UpdateCommentInput struct {
	ID   string `path:"id" doc:"Request ID"`
	Body struct {
		Comment string `json:"comment" doc:"New comment; empty clears it"`
	}
}

// TransitionInput carries a status change.
type TransitionInput struct {
	ID   string `path:"id" doc:"Request ID"`
	Body struct {
		Status     domain.RequestStatus `json:"status" enum:"pending,approved,rejected,completed" doc:"Target status"`
		AdminNotes *string              `json:"admin_notes,omitempty" doc:"Replaces the admin notes when present"`
	}
}

// GameStatusInput identifies a catalog game.
type GameStatusInput struct {
	CatalogID int64 `path:"igdb_id" minimum:"1" doc:"Catalog game ID"`
}

// SearchRequestsInput contains parameters for request search.
type SearchRequestsInput struct {
	Query  string `query:"q" doc:"Search terms"`
	Status string `query:"status" doc:"Filter by status"`
	Sort   string `query:"sort" enum:"relevance,recent" default:"relevance" doc:"Result order"`
	Offset int    `query:"offset" minimum:"0" doc:"Hits to skip"`
	Limit  int    `query:"limit" minimum:"0" maximum:"100" doc:"Maximum hits"`
}

// RequestOutput wraps one request for Huma.
type RequestOutput struct {
	Body *domain.Request
}

// RequestListOutput wraps a page of requests for Huma.
type RequestListOutput struct {
	Body *store.Page[*domain.Request]
}

// RequestStatsResponse holds per-status counts.
type RequestStatsResponse struct {
	Counts domain.StatusCounts `json:"counts" doc:"Requests per status"`
	Total  int                 `json:"total" doc:"All requests"`
}

// RequestStatsOutput wraps request counts for Huma.
type RequestStatsOutput struct {
	Body RequestStatsResponse
}

// GameStatusOutput wraps a game status for Huma.
type GameStatusOutput struct {
	Body *domain.GameStatus
}

// SearchRequestsOutput wraps search results for Huma.
type SearchRequestsOutput struct {
	Body *search.SearchResult
}

// === Handlers ===

func (s *Server) handleCreateRequest(ctx context.Context, input *CreateRequestInput) (*RequestOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.services.Requests.Create(ctx, user.Actor(), lifecycle.NewRequest{
		CatalogID: input.Body.CatalogID,
		GameName:  input.Body.GameName,
		Comment:   input.Body.Comment,
	})
	if err != nil {
		return nil, err
	}
	return &RequestOutput{Body: req}, nil
}

func (s *Server) handleListRequests(ctx context.Context, input *ListRequestsInput) (*RequestListOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	status, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	source := domain.RequestSource(input.Source)
	if source != "" && source != domain.SourceUser && source != domain.SourceImport {
		return nil, domainerrors.Validation("source must be user or import")
	}

	filter := domain.RequestFilter{
		Status: status,
		Source: source,
		Offset: input.Offset,
		Limit:  input.Limit,
	}
	switch {
	case !user.IsAdmin() || input.Mine:
		filter.UserID = user.ID
	default:
		filter.UserID = input.UserID
	}

	page, err := s.services.Requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &RequestListOutput{Body: page}, nil
}

func (s *Server) handleRequestStats(ctx context.Context, _ *struct{}) (*RequestStatsOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.services.Requests.CountsByStatus(ctx, user.Actor())
	if err != nil {
		return nil, err
	}
	return &RequestStatsOutput{Body: RequestStatsResponse{Counts: counts, Total: counts.Total()}}, nil
}

func (s *Server) handleSearchRequests(ctx context.Context, input *SearchRequestsInput) (*SearchRequestsOutput, error) {
	if _, err := RequireAdmin(ctx); err != nil {
		return nil, err
	}
	if s.services.Search == nil {
		return nil, domainerrors.Internal("search index is not available")
	}

	params := search.SearchParams{
		Query:         input.Query,
		SortBy:        input.Sort,
		Offset:        input.Offset,
		Limit:         input.Limit,
		IncludeFacets: true,
		Highlight:     input.Query != "",
	}
	status, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	if status != "" {
		params.Statuses = []domain.RequestStatus{status}
	}

	res, err := s.services.Search.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	return &SearchRequestsOutput{Body: res}, nil
}

func (s *Server) handleGameStatus(ctx context.Context, input *GameStatusInput) (*GameStatusOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.services.Requests.GameStatus(ctx, input.CatalogID, user.ID)
	if err != nil {
		return nil, err
	}
	return &GameStatusOutput{Body: status}, nil
}

func (s *Server) handleGetRequest(ctx context.Context, input *RequestIDInput) (*RequestOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.services.Requests.Get(ctx, input.ID, user.Actor())
	if err != nil {
		return nil, err
	}
	return &RequestOutput{Body: req}, nil
}

func (s *Server) handleUpdateRequestComment(ctx context.Context, input *UpdateCommentInput) (*RequestOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.services.Requests.UpdateComment(ctx, input.ID, user.Actor(), input.Body.Comment)
	if err != nil {
		return nil, err
	}
	return &RequestOutput{Body: req}, nil
}

func (s *Server) handleTransitionRequest(ctx context.Context, input *TransitionInput) (*RequestOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.services.Requests.Transition(ctx, input.ID, input.Body.Status, user.Actor(), input.Body.AdminNotes)
	if err != nil {
		return nil, err
	}
	return &RequestOutput{Body: req}, nil
}

func (s *Server) handleMarkAvailable(ctx context.Context, input *RequestIDInput) (*RequestOutput, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.services.Requests.MarkAvailable(ctx, input.ID, user.Actor())
	if err != nil {
		return nil, err
	}
	return &RequestOutput{Body: req}, nil
}

func (s *Server) handleDeleteRequest(ctx context.Context, input *RequestIDInput) (*struct{}, error) {
	user, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.services.Requests.Delete(ctx, input.ID, user.Actor()); err != nil {
		return nil, err
	}
	return nil, nil
}

// parseStatus accepts an empty filter or a known status.
func parseStatus(v string) (domain.RequestStatus, error) {
	status := domain.RequestStatus(v)
	if v != "" && !status.Valid() {
		return "", domainerrors.Validation("status must be one of: pending, approved, rejected, completed")
	}
	return status, nil
}
