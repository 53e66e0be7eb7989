package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gamerequest/gamerequest-server/internal/catalog"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

func (s *Server) registerCatalogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchCatalog",
		Method:      http.MethodGet,
		Path:        "/api/v1/catalog/search",
		Summary:     "Search the game catalog",
		Tags:        []string{"Catalog"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleSearchCatalog)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCatalogGame",
		Method:      http.MethodGet,
		Path:        "/api/v1/catalog/games/{id}",
		Summary:     "Get a catalog game",
		Tags:        []string{"Catalog"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleGetCatalogGame)

	huma.Register(s.api, huma.Operation{
		OperationID: "catalogSuggestions",
		Method:      http.MethodGet,
		Path:        "/api/v1/catalog/suggestions",
		Summary:     "Type-ahead suggestions",
		Description: "Queries shorter than two characters return an empty list",
		Tags:        []string{"Catalog"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleCatalogSuggestions)
}

// CatalogSearchInput contains parameters for catalog search and suggestions.
type CatalogSearchInput struct {
	Query string `query:"q" doc:"Game name"`
	Limit int    `query:"limit" minimum:"0" maximum:"50" doc:"Maximum results"`
}

// CatalogGameInput identifies one catalog game.
type CatalogGameInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Catalog game ID"`
}

// CatalogGame is a catalog entry with its cover resolved to a URL.
type CatalogGame struct {
	domain.CatalogEntry
	CoverURL    string `json:"cover_url,omitempty" doc:"Cover image URL"`
	ReleaseYear int    `json:"release_year,omitempty" doc:"Release year"`
}

// CatalogSearchOutput wraps catalog search results for Huma.
type CatalogSearchOutput struct {
	Body []CatalogGame
}

// CatalogGameOutput wraps one catalog game for Huma.
type CatalogGameOutput struct {
	Body CatalogGame
}

// SuggestionsOutput wraps suggestions for Huma.
type SuggestionsOutput struct {
	Body []catalog.Suggestion
}

func (s *Server) handleSearchCatalog(ctx context.Context, input *CatalogSearchInput) (*CatalogSearchOutput, error) {
	if _, err := RequireUser(ctx); err != nil {
		return nil, err
	}
	cat, err := s.catalog()
	if err != nil {
		return nil, err
	}
	if input.Query == "" {
		return nil, domainerrors.Validation("q is required")
	}

	limit := input.Limit
	if limit == 0 {
		limit = 10
	}
	entries, err := cat.Search(ctx, input.Query, limit)
	if err != nil {
		return nil, err
	}

	games := make([]CatalogGame, 0, len(entries))
	for i := range entries {
		games = append(games, mapCatalogGame(&entries[i]))
	}
	return &CatalogSearchOutput{Body: games}, nil
}

func (s *Server) handleGetCatalogGame(ctx context.Context, input *CatalogGameInput) (*CatalogGameOutput, error) {
	if _, err := RequireUser(ctx); err != nil {
		return nil, err
	}
	cat, err := s.catalog()
	if err != nil {
		return nil, err
	}

	entry, err := cat.Fetch(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &CatalogGameOutput{Body: mapCatalogGame(entry)}, nil
}

func (s *Server) handleCatalogSuggestions(ctx context.Context, input *CatalogSearchInput) (*SuggestionsOutput, error) {
	if _, err := RequireUser(ctx); err != nil {
		return nil, err
	}
	cat, err := s.catalog()
	if err != nil {
		return nil, err
	}

	suggestions, err := catalog.Suggest(ctx, cat, input.Query, input.Limit)
	if err != nil {
		return nil, err
	}
	return &SuggestionsOutput{Body: suggestions}, nil
}

func (s *Server) catalog() (catalog.Catalog, error) {
	if s.services.Catalog == nil {
		return nil, domainerrors.Newf(domainerrors.CodeCatalogUnavailable, "game catalog is not configured")
	}
	return s.services.Catalog, nil
}

func mapCatalogGame(e *domain.CatalogEntry) CatalogGame {
	return CatalogGame{
		CatalogEntry: *e,
		CoverURL:     catalog.CoverURL(e.CoverImageID, catalog.CoverBig),
		ReleaseYear:  e.ReleaseYear(),
	}
}
