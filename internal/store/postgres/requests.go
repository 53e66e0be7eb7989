package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

const requestColumns = `r.id, r.created_at, r.updated_at, r.user_id, COALESCE(u.username, ''),
	r.game_name, r.catalog_id, r.cover_url, r.genres, r.status, r.comment, r.admin_notes, r.source`

const requestFrom = ` FROM requests r LEFT JOIN users u ON u.id = r.user_id`

const insertColumns = `id, created_at, updated_at, user_id, game_name, normalized_name,
	catalog_id, cover_url, genres, status, comment, admin_notes, source`

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		r      domain.Request
		status string
		source string
	)
	err := row.Scan(
		&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.UserID, &r.Username,
		&r.GameName, &r.CatalogID, &r.CoverURL, &r.Genres, &status,
		&r.Comment, &r.AdminNotes, &source,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.Status = domain.RequestStatus(status)
	r.Source = domain.RequestSource(source)
	return &r, nil
}

func requestArgs(r *domain.Request) []any {
	return []any{
		r.ID, r.CreatedAt, r.UpdatedAt, r.UserID, r.GameName,
		store.NormalizeGameName(r.GameName), r.CatalogID, r.CoverURL, r.Genres,
		string(r.Status), r.Comment, r.AdminNotes, string(r.Source),
	}
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*domain.Request, error) {
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+requestFrom+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRequest inserts a new request.
func (s *Store) CreateRequest(ctx context.Context, r *domain.Request) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`INSERT INTO requests (`+insertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		requestArgs(r)...)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists.WithMessage("an active request for this game already exists")
	}
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	s.indexRequest(ctx, r)
	return nil
}

// CreateRequestWithinQuota inserts r unless its owner already holds limit
// active requests. Callers for the same owner serialize on the owner's user
// row.
func (s *Store) CreateRequestWithinQuota(ctx context.Context, r *domain.Request, limit int) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var active int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, r.UserID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM requests WHERE user_id = $1 AND status IN ('pending', 'approved')`,
			r.UserID).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active requests: %w", err)
		}
		if active >= limit {
			return store.ErrQuotaExceeded
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO requests (`+insertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			requestArgs(r)...)
		return err
	})
	switch {
	case errors.Is(err, store.ErrQuotaExceeded):
		return active, store.ErrQuotaExceeded
	case isUniqueViolation(err):
		return active, store.ErrAlreadyExists.WithMessage("an active request for this game already exists")
	case err != nil:
		return active, fmt.Errorf("insert request: %w", err)
	}
	s.indexRequest(ctx, r)
	return active + 1, nil
}

// CreateRequestIfAbsent inserts r unless a blocking request exists. Callers
// for the same game serialize on a transaction-scoped advisory lock keyed by
// the catalog id.
func (s *Store) CreateRequestIfAbsent(ctx context.Context, r *domain.Request) (bool, *domain.Request, error) {
	if r.CatalogID == nil {
		if err := s.CreateRequest(ctx, r); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing *domain.Request
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, *r.CatalogID); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		blocking, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+requestFrom+`
			WHERE r.catalog_id = $1
			  AND (r.status = 'completed' OR (r.user_id = $2 AND r.status IN ('pending', 'approved')))
			ORDER BY CASE WHEN r.user_id = $2 THEN 0 ELSE 1 END, r.created_at DESC
			LIMIT 1`, *r.CatalogID, r.UserID))
		switch {
		case err == nil:
			existing = blocking
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO requests (`+insertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			requestArgs(r)...)
		return err
	})
	if isUniqueViolation(err) {
		return false, nil, store.ErrAlreadyExists.WithMessage("an active request for this game already exists")
	}
	if err != nil {
		return false, nil, fmt.Errorf("insert request: %w", err)
	}
	if existing != nil {
		return false, existing, nil
	}
	s.indexRequest(ctx, r)
	return true, nil, nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+requestFrom+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// ListRequests returns a page of requests matching filter, newest first.
func (s *Store) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.Request, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("r.status = $%d", string(filter.Status))
	}
	if filter.UserID != "" {
		add("r.user_id = $%d", filter.UserID)
	}
	if filter.CatalogID != nil {
		add("r.catalog_id = $%d", *filter.CatalogID)
	}
	if filter.Source != "" {
		add("r.source = $%d", string(filter.Source))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM requests r`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	p := store.PageParams{Offset: filter.Offset, Limit: filter.Limit}.Normalize()
	n := len(args)
	reqs, err := s.queryRequests(ctx,
		clause+fmt.Sprintf(` ORDER BY r.created_at DESC, r.id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
		append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return reqs, total, nil
}

// UpdateRequestStatus applies a compare-and-set status change.
func (s *Store) UpdateRequestStatus(ctx context.Context, id string, from, to domain.RequestStatus, adminNotes *string) (*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE requests
		SET status = $1, admin_notes = COALESCE($2, admin_notes), updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(to), adminNotes, time.Now().UTC(), id, string(from))
	if isUniqueViolation(err) {
		return nil, store.ErrAlreadyExists.WithMessage("the owner already has an active request for this game")
	}
	if err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}

	r, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexRequest(ctx, r)
	return r, nil
}

// UpdateRequestComment replaces the requester's comment.
func (s *Store) UpdateRequestComment(ctx context.Context, id, comment string) (*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `UPDATE requests SET comment = $1, updated_at = $2 WHERE id = $3`,
		comment, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update request comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetRequest(ctx, id)
}

// DeleteRequest removes a request.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	s.unindexRequest(ctx, id)
	return nil
}

// CountActiveRequests counts the user's pending and approved requests.
func (s *Store) CountActiveRequests(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM requests WHERE user_id = $1 AND status IN ('pending', 'approved')`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active requests: %w", err)
	}
	return n, nil
}

// FindRequestForGame returns the user's newest request for catalogID.
func (s *Store) FindRequestForGame(ctx context.Context, userID string, catalogID int64, statuses ...domain.RequestStatus) (*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := ` WHERE r.user_id = $1 AND r.catalog_id = $2`
	args := []any{userID, catalogID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND r.status = ANY($3)`
		args = append(args, names)
	}

	r, err := scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+requestFrom+query+` ORDER BY r.created_at DESC LIMIT 1`, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// FindActiveByName returns the user's active requests without a catalog id
// whose normalized name matches.
func (s *Store) FindActiveByName(ctx context.Context, userID, normalizedName string) ([]*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reqs, err := s.queryRequests(ctx, `
		WHERE r.user_id = $1 AND r.normalized_name = $2 AND r.catalog_id IS NULL
		  AND r.status IN ('pending', 'approved')
		ORDER BY r.created_at DESC`, userID, normalizedName)
	if err != nil {
		return nil, fmt.Errorf("find requests by name: %w", err)
	}
	return reqs, nil
}

// CountRequestsByStatus returns the number of requests per status.
func (s *Store) CountRequestsByStatus(ctx context.Context) (domain.StatusCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}
	defer rows.Close()

	counts := make(domain.StatusCounts, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.RequestStatus(status)] = n
	}
	return counts, rows.Err()
}

// GameStatus reports library availability of a game and the user's own
// active request for it.
func (s *Store) GameStatus(ctx context.Context, catalogID int64, userID string) (*domain.GameStatus, error) {
	var gs domain.GameStatus
	qctx, cancel := s.withTimeout(ctx)
	err := s.db.QueryRow(qctx, `
		SELECT
			EXISTS(SELECT 1 FROM requests WHERE catalog_id = $1 AND status = 'completed'),
			EXISTS(SELECT 1 FROM requests WHERE catalog_id = $1 AND status IN ('pending', 'approved'))`,
		catalogID).Scan(&gs.IsAvailable, &gs.HasPendingRequest)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("game status: %w", err)
	}

	own, err := s.FindRequestForGame(ctx, userID, catalogID, store.ActiveStatuses...)
	switch {
	case err == nil:
		gs.UserHasRequest = true
		gs.UserRequestStatus = own.Status
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	gs.CanRequest = !gs.IsAvailable && !gs.HasPendingRequest
	return &gs, nil
}

// ImportStats summarizes requests created by library imports.
func (s *Store) ImportStats(ctx context.Context) (*domain.ImportStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats domain.ImportStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM requests WHERE source = 'import'`).
		Scan(&stats.TotalImported, &stats.LastImportAt)
	if err != nil {
		return nil, fmt.Errorf("import stats: %w", err)
	}
	if stats.LastImportAt != nil {
		t := stats.LastImportAt.UTC()
		stats.LastImportAt = &t
	}
	return &stats, nil
}
