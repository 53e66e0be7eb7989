package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/importer"
)

func (s *Server) registerImportRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "importGames",
		Method:      http.MethodPost,
		Path:        "/api/v1/import/games",
		Summary:     "Bulk import library games",
		Description: "Resolves each name against the catalog and records it as an available game. Admin only.",
		Tags:        []string{"Import"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleImportGames)

	huma.Register(s.api, huma.Operation{
		OperationID: "importStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/import/status",
		Summary:     "Imported library statistics",
		Tags:        []string{"Import"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleImportStatus)
}

// ImportGamesRequest is the body of a bulk import.
type ImportGamesRequest struct {
	Games []string `json:"games" doc:"Game names, one per entry"`
}

// ImportGamesInput wraps the import request for Huma.
type ImportGamesInput struct {
	Body ImportGamesRequest
}

// ImportGamesResponse reports every submitted name exactly once.
type ImportGamesResponse struct {
	BatchID           string                  `json:"batch_id" doc:"Import batch identifier"`
	TotalGames        int                     `json:"total_games" doc:"Number of submitted names"`
	SuccessfulImports int                     `json:"successful_imports" doc:"Names recorded in the library"`
	FailedImports     int                     `json:"failed_imports" doc:"Names that produced no record"`
	ImportedGames     []importer.ImportedGame `json:"imported_games" doc:"Recorded games in submission order"`
	FailedGames       []importer.FailedGame   `json:"failed_games" doc:"Failures in submission order"`
}

// ImportGamesOutput wraps the import response for Huma.
type ImportGamesOutput struct {
	Body ImportGamesResponse
}

// ImportStatusOutput wraps import statistics for Huma.
type ImportStatusOutput struct {
	Body *domain.ImportStats
}

func (s *Server) handleImportGames(ctx context.Context, input *ImportGamesInput) (*ImportGamesOutput, error) {
	admin, err := RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.services.Importer.ImportBatch(ctx, input.Body.Games, admin.Actor())
	if err != nil {
		return nil, err
	}

	return &ImportGamesOutput{Body: ImportGamesResponse{
		BatchID:           res.BatchID,
		TotalGames:        res.Total,
		SuccessfulImports: res.Successful(),
		FailedImports:     res.FailedCount(),
		ImportedGames:     res.Imported,
		FailedGames:       res.Failed,
	}}, nil
}

func (s *Server) handleImportStatus(ctx context.Context, _ *struct{}) (*ImportStatusOutput, error) {
	if _, err := RequireAdmin(ctx); err != nil {
		return nil, err
	}
	stats, err := s.services.Importer.ImportStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &ImportStatusOutput{Body: stats}, nil
}
