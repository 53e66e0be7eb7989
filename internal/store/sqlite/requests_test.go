package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/settings"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

func newRequest(id, userID string, catalogID int64, status domain.RequestStatus) *domain.Request {
	r := &domain.Request{
		ID:       id,
		UserID:   userID,
		GameName: "Game " + id,
		Status:   status,
		Source:   domain.SourceUser,
	}
	if catalogID != 0 {
		r.CatalogID = &catalogID
	}
	r.InitTimestamps()
	return r
}

func TestCreateAndGetRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)

	r := newRequest("req-1", "alice", 72, domain.StatusPending)
	r.CoverURL = "https://images.example/cover.jpg"
	r.Genres = "Shooter, Adventure"
	r.Comment = "please"
	require.NoError(t, s.CreateRequest(ctx, r))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, int64(72), *got.CatalogID)
	assert.Equal(t, "Shooter, Adventure", got.Genres)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, domain.SourceUser, got.Source)
	assert.True(t, got.CreatedAt.Equal(r.CreatedAt))

	_, err = s.GetRequest(ctx, "req-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateRequest_ActiveUniquePerUserAndGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	seedUser(t, s, "bob", domain.RoleUser)

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 10, domain.StatusPending)))

	err := s.CreateRequest(ctx, newRequest("req-2", "alice", 10, domain.StatusApproved))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	// Another user, a rejected duplicate, or an unknown catalog id are all allowed.
	assert.NoError(t, s.CreateRequest(ctx, newRequest("req-3", "bob", 10, domain.StatusPending)))
	assert.NoError(t, s.CreateRequest(ctx, newRequest("req-4", "alice", 10, domain.StatusRejected)))
	assert.NoError(t, s.CreateRequest(ctx, newRequest("req-5", "alice", 0, domain.StatusPending)))
	assert.NoError(t, s.CreateRequest(ctx, newRequest("req-6", "alice", 0, domain.StatusPending)))
}

func TestCreateRequestIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "admin", domain.RoleAdmin)
	seedUser(t, s, "bob", domain.RoleUser)

	first := newRequest("req-1", "admin", 99, domain.StatusCompleted)
	created, existing, err := s.CreateRequestIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, existing)

	created, existing, err = s.CreateRequestIfAbsent(ctx, newRequest("req-2", "admin", 99, domain.StatusCompleted))
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, existing)
	assert.Equal(t, "req-1", existing.ID)

	// A completed game blocks every user.
	created, existing, err = s.CreateRequestIfAbsent(ctx, newRequest("req-3", "bob", 99, domain.StatusCompleted))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "req-1", existing.ID)

	// The owner's active request blocks, another user's does not.
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-4", "bob", 7, domain.StatusPending)))
	created, _, err = s.CreateRequestIfAbsent(ctx, newRequest("req-5", "admin", 7, domain.StatusCompleted))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestCreateRequestIfAbsent_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "admin", domain.RoleAdmin)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := newRequest("req-"+string(rune('a'+i)), "admin", 500, domain.StatusCompleted)
			ok, _, err := s.CreateRequestIfAbsent(ctx, r)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	_, total, err := s.ListRequests(ctx, domain.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUpdateRequestStatus_CompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 1, domain.StatusPending)))

	notes := "looks good"
	r, err := s.UpdateRequestStatus(ctx, "req-1", domain.StatusPending, domain.StatusApproved, &notes)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, r.Status)
	assert.Equal(t, "looks good", r.AdminNotes)

	// Stale from-status.
	_, err = s.UpdateRequestStatus(ctx, "req-1", domain.StatusPending, domain.StatusRejected, nil)
	assert.ErrorIs(t, err, store.ErrConflict)

	// Nil notes keep the previous value.
	r, err = s.UpdateRequestStatus(ctx, "req-1", domain.StatusApproved, domain.StatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, "looks good", r.AdminNotes)

	_, err = s.UpdateRequestStatus(ctx, "missing", domain.StatusPending, domain.StatusApproved, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRequestStatus_ConcurrentOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 1, domain.StatusPending)))

	targets := []domain.RequestStatus{domain.StatusApproved, domain.StatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.UpdateRequestStatus(ctx, "req-1", domain.StatusPending, to, nil)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, store.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestUpdateCommentAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 1, domain.StatusPending)))

	r, err := s.UpdateRequestComment(ctx, "req-1", "any update?")
	require.NoError(t, err)
	assert.Equal(t, "any update?", r.Comment)

	require.NoError(t, s.DeleteRequest(ctx, "req-1"))
	assert.ErrorIs(t, s.DeleteRequest(ctx, "req-1"), store.ErrNotFound)

	_, err = s.UpdateRequestComment(ctx, "req-1", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRequests_FilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	seedUser(t, s, "bob", domain.RoleUser)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		user   string
		status domain.RequestStatus
	}{
		{"alice", domain.StatusPending},
		{"alice", domain.StatusApproved},
		{"bob", domain.StatusPending},
		{"alice", domain.StatusCompleted},
	} {
		r := newRequest("req-"+string(rune('1'+i)), spec.user, int64(i+1), spec.status)
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.UpdatedAt = r.CreatedAt
		require.NoError(t, s.CreateRequest(ctx, r))
	}

	all, total, err := s.ListRequests(ctx, domain.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, "req-4", all[0].ID, "newest first")

	mine, total, err := s.ListRequests(ctx, domain.RequestFilter{UserID: "alice", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, mine, 2)

	pending, total, err := s.ListRequests(ctx, domain.RequestFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, pending, 2)

	id := int64(3)
	byGame, _, err := s.ListRequests(ctx, domain.RequestFilter{CatalogID: &id})
	require.NoError(t, err)
	require.Len(t, byGame, 1)
	assert.Equal(t, "bob", byGame[0].UserID)
}

func TestCountsAndFinders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 1, domain.StatusPending)))
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-2", "alice", 2, domain.StatusApproved)))
	require.NoError(t, s.CreateRequest(ctx, newRequest("req-3", "alice", 3, domain.StatusRejected)))

	n, err := s.CountActiveRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := s.CountRequestsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
	assert.Equal(t, 0, counts[domain.StatusCompleted])
	assert.Equal(t, 3, counts.Total())

	r, err := s.FindRequestForGame(ctx, "alice", 2, store.ActiveStatuses...)
	require.NoError(t, err)
	assert.Equal(t, "req-2", r.ID)

	_, err = s.FindRequestForGame(ctx, "alice", 3, store.ActiveStatuses...)
	assert.ErrorIs(t, err, store.ErrNotFound)

	named := newRequest("req-4", "alice", 0, domain.StatusPending)
	named.GameName = "  Outer   Wilds "
	require.NoError(t, s.CreateRequest(ctx, named))
	found, err := s.FindActiveByName(ctx, "alice", store.NormalizeGameName("outer wilds"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "req-4", found[0].ID)
}

func TestGameStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "alice", domain.RoleUser)
	seedUser(t, s, "bob", domain.RoleUser)

	gs, err := s.GameStatus(ctx, 42, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatus{CanRequest: true}, *gs)

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "bob", 42, domain.StatusPending)))
	gs, err = s.GameStatus(ctx, 42, "alice")
	require.NoError(t, err)
	assert.True(t, gs.HasPendingRequest)
	assert.False(t, gs.CanRequest)
	assert.False(t, gs.UserHasRequest)

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-2", "alice", 43, domain.StatusCompleted)))
	gs, err = s.GameStatus(ctx, 43, "alice")
	require.NoError(t, err)
	assert.True(t, gs.IsAvailable)
	assert.False(t, gs.CanRequest)
	assert.False(t, gs.UserHasRequest, "only active requests count as the user's own")

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-3", "alice", 44, domain.StatusApproved)))
	gs, err = s.GameStatus(ctx, 44, "alice")
	require.NoError(t, err)
	assert.True(t, gs.UserHasRequest)
	assert.Equal(t, domain.StatusApproved, gs.UserRequestStatus)
	assert.True(t, gs.HasPendingRequest)
}

func TestImportStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "admin", domain.RoleAdmin)

	stats, err := s.ImportStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalImported)
	assert.Nil(t, stats.LastImportAt)

	r := newRequest("req-1", "admin", 5, domain.StatusCompleted)
	r.Source = domain.SourceImport
	require.NoError(t, s.CreateRequest(ctx, r))

	stats, err = s.ImportStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalImported)
	require.NotNil(t, stats.LastImportAt)
	assert.True(t, stats.LastImportAt.Equal(r.CreatedAt))
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (r *recordingIndexer) IndexRequest(_ context.Context, req *domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, req.ID)
	return nil
}

func (r *recordingIndexer) DeleteRequest(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func TestSearchIndexerFollowsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idx := &recordingIndexer{}
	s.SetSearchIndexer(idx)
	seedUser(t, s, "alice", domain.RoleUser)

	require.NoError(t, s.CreateRequest(ctx, newRequest("req-1", "alice", 1, domain.StatusPending)))
	_, err := s.UpdateRequestStatus(ctx, "req-1", domain.StatusPending, domain.StatusApproved, nil)
	require.NoError(t, err)
	require.NoError(t, s.DeleteRequest(ctx, "req-1"))

	assert.Equal(t, []string{"req-1", "req-1"}, idx.indexed)
	assert.Equal(t, []string{"req-1"}, idx.deleted)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := settings.Defaults()
	snap.MaxRequestsPerUser = 3
	snap.Telegram = settings.Telegram{BotToken: "123:abc", ChatID: "-100"}
	require.NoError(t, s.SaveSettings(ctx, &snap))

	snap.Version = 2
	require.NoError(t, s.SaveSettings(ctx, &snap))

	got, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 3, got.MaxRequestsPerUser)
	assert.Equal(t, "123:abc", got.Telegram.BotToken)
}
