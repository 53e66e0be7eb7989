package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

// requestColumns must match the scan order in scanRequest.
const requestColumns = `r.id, r.created_at, r.updated_at, r.user_id, COALESCE(u.username, ''),
	r.game_name, r.catalog_id, r.cover_url, r.genres, r.status, r.comment, r.admin_notes, r.source`

const requestFrom = ` FROM requests r LEFT JOIN users u ON u.id = r.user_id`

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*domain.Request, error) {
	var (
		r         domain.Request
		createdAt string
		updatedAt string
		catalogID sql.NullInt64
		status    string
		source    string
	)

	err := scanner.Scan(
		&r.ID,
		&createdAt,
		&updatedAt,
		&r.UserID,
		&r.Username,
		&r.GameName,
		&catalogID,
		&r.CoverURL,
		&r.Genres,
		&status,
		&r.Comment,
		&r.AdminNotes,
		&source,
	)
	if err != nil {
		return nil, err
	}

	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if catalogID.Valid {
		id := catalogID.Int64
		r.CatalogID = &id
	}
	r.Status = domain.RequestStatus(status)
	r.Source = domain.RequestSource(source)

	return &r, nil
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*domain.Request, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+requestFrom+query, args...)
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

func requestArgs(r *domain.Request) []any {
	return []any{
		r.ID,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		r.UserID,
		r.GameName,
		store.NormalizeGameName(r.GameName),
		nullableInt64(r.CatalogID),
		r.CoverURL,
		r.Genres,
		string(r.Status),
		r.Comment,
		r.AdminNotes,
		string(r.Source),
	}
}

const insertColumns = `id, created_at, updated_at, user_id, game_name, normalized_name,
	catalog_id, cover_url, genres, status, comment, admin_notes, source`

// CreateRequest inserts a new request.
func (s *Store) CreateRequest(ctx context.Context, r *domain.Request) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (`+insertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
// active requests. The transaction starts with BEGIN IMMEDIATE, so the count
// and the insert run under the write lock.
func (s *Store) CreateRequestWithinQuota(ctx context.Context, r *domain.Request, limit int) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE user_id = ? AND status IN ('pending', 'approved')`,
		r.UserID).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("count active requests: %w", err)
	}
	if active >= limit {
		return active, store.ErrQuotaExceeded
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO requests (`+insertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		requestArgs(r)...)
	if isUniqueViolation(err) {
		return active, store.ErrAlreadyExists.WithMessage("an active request for this game already exists")
	}
	if err != nil {
		return active, fmt.Errorf("insert request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return active, fmt.Errorf("commit: %w", err)
	}
	s.indexRequest(ctx, r)
	return active + 1, nil
}

// CreateRequestIfAbsent inserts r unless a blocking request exists. SQLite
// runs the existence check and the insert as one statement under the write
// lock, so concurrent callers for the same game produce a single row.
func (s *Store) CreateRequestIfAbsent(ctx context.Context, r *domain.Request) (bool, *domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if r.CatalogID == nil {
		if err := s.CreateRequest(ctx, r); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	args := append(requestArgs(r), *r.CatalogID, r.UserID)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (`+insertColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM requests
			WHERE catalog_id = ?
			  AND (status = 'completed' OR (user_id = ? AND status IN ('pending', 'approved')))
		)`, args...)
	if err != nil && !isUniqueViolation(err) {
		return false, nil, fmt.Errorf("insert request: %w", err)
	}
	if err == nil {
		if n, _ := res.RowsAffected(); n == 1 {
			s.indexRequest(ctx, r)
			return true, nil, nil
		}
	}

	existing, err := s.blockingRequest(ctx, r.UserID, *r.CatalogID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// blockingRequest returns the request that prevents userID from requesting
// catalogID, preferring the user's own.
func (s *Store) blockingRequest(ctx context.Context, userID string, catalogID int64) (*domain.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+requestFrom+`
		WHERE r.catalog_id = ?
		  AND (r.status = 'completed' OR (r.user_id = ? AND r.status IN ('pending', 'approved')))
		ORDER BY CASE WHEN r.user_id = ? THEN 0 ELSE 1 END, r.created_at DESC
		LIMIT 1`, catalogID, userID, userID)
	req, err := scanRequest(row)
	if err != nil {
		return nil, notFound(err)
	}
	return req, nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+requestFrom+` WHERE r.id = ?`, id)
	r, err := scanRequest(row)
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
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		where = append(where, "r.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.CatalogID != nil {
		where = append(where, "r.catalog_id = ?")
		args = append(args, *filter.CatalogID)
	}
	if filter.Source != "" {
		where = append(where, "r.source = ?")
		args = append(args, string(filter.Source))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests r`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	p := store.PageParams{Offset: filter.Offset, Limit: filter.Limit}.Normalize()
	reqs, err := s.queryRequests(ctx, clause+` ORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?`,
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

	var notes sql.NullString
	if adminNotes != nil {
		notes = sql.NullString{String: *adminNotes, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, admin_notes = COALESCE(?, admin_notes), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), notes, formatTime(time.Now()), id, string(from))
	if isUniqueViolation(err) {
		return nil, store.ErrAlreadyExists.WithMessage("the owner already has an active request for this game")
	}
	if err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
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

	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET comment = ?, updated_at = ? WHERE id = ?`,
		comment, formatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("update request comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetRequest(ctx, id)
}

// DeleteRequest removes a request.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE user_id = ? AND status IN ('pending', 'approved')`,
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

	query := ` WHERE r.user_id = ? AND r.catalog_id = ?`
	args := []any{userID, catalogID}
	if len(statuses) > 0 {
		query += ` AND r.status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+requestFrom+query+` ORDER BY r.created_at DESC LIMIT 1`, args...)
	r, err := scanRequest(row)
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
		WHERE r.user_id = ? AND r.normalized_name = ? AND r.catalog_id IS NULL
		  AND r.status IN ('pending', 'approved')
		ORDER BY r.created_at DESC`, userID, normalizedName)
	if err != nil {
		return nil, fmt.Errorf("find requests by name: %w", err)
	}
	return reqs, nil
}

// CountRequestsByStatus returns the number of requests per status. Every
// status is present in the result.
func (s *Store) CountRequestsByStatus(ctx context.Context) (domain.StatusCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var gs domain.GameStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM requests WHERE catalog_id = ? AND status = 'completed'),
			EXISTS(SELECT 1 FROM requests WHERE catalog_id = ? AND status IN ('pending', 'approved'))`,
		catalogID, catalogID).Scan(&gs.IsAvailable, &gs.HasPendingRequest)
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

	var (
		stats domain.ImportStats
		last  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM requests WHERE source = 'import'`).Scan(&stats.TotalImported, &last)
	if err != nil {
		return nil, fmt.Errorf("import stats: %w", err)
	}
	if stats.LastImportAt, err = parseNullableTime(last); err != nil {
		return nil, err
	}
	return &stats, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
