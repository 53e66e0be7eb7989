package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/search"
	"github.com/gamerequest/gamerequest-server/internal/settings"
	"github.com/gamerequest/gamerequest-server/internal/store"
	"github.com/gamerequest/gamerequest-server/internal/store/sqlite"
)

var (
	admin = domain.Actor{UserID: "user-admin", Username: "admin", Role: domain.RoleAdmin}
	alice = domain.Actor{UserID: "user-alice", Username: "alice", Role: domain.RoleUser}
	bob   = domain.Actor{UserID: "user-bob", Username: "bob", Role: domain.RoleUser}
)

type fakeCatalog struct {
	entries map[int64]domain.CatalogEntry
	err     error
}

func (f *fakeCatalog) Fetch(_ context.Context, id int64) (*domain.CatalogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[id]
	if !ok {
		return nil, domainerrors.ErrNotFound
	}
	return &e, nil
}

type fixedSettings struct {
	snap settings.Snapshot
}

func (f *fixedSettings) Current() settings.Snapshot { return f.snap }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (r *recordingNotifier) Dispatch(e domain.NotificationEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recordingNotifier) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *sqlite.Store
	catalog  *fakeCatalog
	settings *fixedSettings
	notifier *recordingNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "lifecycle.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	for _, a := range []domain.Actor{admin, alice, bob} {
		u := &domain.User{ID: a.UserID, Username: a.Username, Email: a.Username + "@example.com", PasswordHash: "x", Role: a.Role, Active: true}
		u.InitTimestamps()
		require.NoError(t, s.CreateUser(context.Background(), u))
	}

	f := &fixture{
		store: s,
		catalog: &fakeCatalog{entries: map[int64]domain.CatalogEntry{
			72:   {ID: 72, Name: "Half-Life 2", CoverImageID: "co1nmw", Genres: []string{"Shooter", "Adventure"}},
			1942: {ID: 1942, Name: "The Witcher 3: Wild Hunt", Genres: []string{"Role-playing (RPG)"}},
			44:   {ID: 44, Name: "Portal"},
		}},
		settings: &fixedSettings{snap: settings.Defaults()},
		notifier: &recordingNotifier{},
	}
	f.svc = New(s, f.catalog, f.settings, f.notifier, logger, nil)
	return f
}

func catalogID(id int64) *int64 { return &id }

func (f *fixture) create(t *testing.T, actor domain.Actor, id int64) *domain.Request {
	t.Helper()
	req, err := f.svc.Create(context.Background(), actor, NewRequest{CatalogID: catalogID(id), GameName: f.catalog.entries[id].Name})
	require.NoError(t, err)
	return req
}

func TestCreate_InitialStatus(t *testing.T) {
	f := setup(t)

	userReq := f.create(t, alice, 72)
	assert.Equal(t, domain.StatusPending, userReq.Status)
	assert.Equal(t, domain.SourceUser, userReq.Source)
	assert.Equal(t, "https://images.igdb.com/igdb/image/upload/t_cover_big/co1nmw.jpg", userReq.CoverURL)
	assert.Equal(t, "Shooter, Adventure", userReq.Genres)

	adminReq := f.create(t, admin, 1942)
	assert.Equal(t, domain.StatusApproved, adminReq.Status)

	f.settings.snap.RequireAdminApproval = false
	noApproval := f.create(t, bob, 44)
	assert.Equal(t, domain.StatusApproved, noApproval.Status)

	assert.Equal(t, []domain.EventKind{domain.EventNewRequest, domain.EventNewRequest, domain.EventNewRequest}, f.notifier.kinds())
	ev := f.notifier.events[0]
	assert.Equal(t, userReq.ID, ev.Request.ID)
	assert.Equal(t, "alice", ev.Actor)
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Create(context.Background(), alice, NewRequest{GameName: "   "})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = f.svc.Create(context.Background(), alice, NewRequest{GameName: "Portal", CatalogID: catalogID(-1)})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestCreate_Quota(t *testing.T) {
	f := setup(t)
	f.settings.snap.MaxRequestsPerUser = 2

	first := f.create(t, alice, 72)
	f.create(t, alice, 1942)

	_, err := f.svc.Create(context.Background(), alice, NewRequest{CatalogID: catalogID(44), GameName: "Portal"})
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrQuotaExceeded))

	var derr *domainerrors.Error
	require.True(t, domainerrors.As(err, &derr))
	assert.Equal(t, http.StatusForbidden, derr.HTTPStatus())

	// Admins are exempt.
	f.settings.snap.MaxRequestsPerUser = 0
	f.create(t, admin, 44)

	// A rejected request frees a slot.
	f.settings.snap.MaxRequestsPerUser = 2
	_, err = f.svc.Transition(context.Background(), first.ID, domain.StatusRejected, admin, nil)
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), alice, NewRequest{GameName: "Some Indie Game"})
	assert.NoError(t, err)
}

func TestCreate_QuotaHoldsUnderConcurrency(t *testing.T) {
	f := setup(t)
	f.settings.snap.MaxRequestsPerUser = 1

	names := []string{"Celeste", "Hollow Knight", "Outer Wilds", "Tunic", "Hades", "Inside"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), alice, NewRequest{GameName: name})
		}()
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domainerrors.Is(err, domainerrors.ErrQuotaExceeded):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(names)-1, refused)

	active, err := f.store.CountActiveRequests(context.Background(), alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestCreate_Duplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.create(t, alice, 72)
	_, err := f.svc.Create(ctx, alice, NewRequest{CatalogID: catalogID(72), GameName: "Half-Life 2"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrDuplicateRequest))

	// Another user may ask for the same pending game.
	f.create(t, bob, 72)

	// A game in the library cannot be requested by anyone.
	req := f.create(t, admin, 44)
	_, err = f.svc.MarkAvailable(ctx, req.ID, admin)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, bob, NewRequest{CatalogID: catalogID(44), GameName: "Portal"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrDuplicateRequest))
	assert.Contains(t, err.Error(), "already in the library")
}

func TestCreate_DuplicateByName(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	idx, err := search.NewSearchIndex(search.Options{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	f.store.SetSearchIndexer(idx)
	f.svc.SetNameIndex(idx)

	_, err = f.svc.Create(ctx, alice, NewRequest{GameName: "Witcher 3 Wild Hunt"})
	require.NoError(t, err)

	// Exact repeat after whitespace and case folding.
	_, err = f.svc.Create(ctx, alice, NewRequest{GameName: "  witcher 3   WILD hunt"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrDuplicateRequest))

	// Near repeat found through the index.
	_, err = f.svc.Create(ctx, alice, NewRequest{GameName: "The Witcher 3: Wild Hunt"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrDuplicateRequest))

	// Different game, and the same name for a different user.
	_, err = f.svc.Create(ctx, alice, NewRequest{GameName: "Witcher 2"})
	assert.NoError(t, err)
	_, err = f.svc.Create(ctx, bob, NewRequest{GameName: "The Witcher 3: Wild Hunt"})
	assert.NoError(t, err)
}

func TestCreate_CatalogErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, NewRequest{CatalogID: catalogID(999), GameName: "Missing"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))

	f.catalog.err = domainerrors.ErrCatalogUnavailable
	req, err := f.svc.Create(ctx, alice, NewRequest{CatalogID: catalogID(72), GameName: "Half-Life 2"})
	require.NoError(t, err)
	assert.Empty(t, req.CoverURL)
	assert.Equal(t, int64(72), *req.CatalogID)
}

func TestTransition_Guards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.create(t, alice, 72)

	_, err := f.svc.Transition(ctx, req.ID, domain.StatusApproved, alice, nil)
	require.Error(t, err)
	var derr *domainerrors.Error
	require.True(t, domainerrors.As(err, &derr))
	assert.Equal(t, domainerrors.CodeInvalidTransition, derr.Code)
	assert.Equal(t, http.StatusForbidden, derr.HTTPStatus())

	_, err = f.svc.Transition(ctx, req.ID, domain.StatusCompleted, admin, nil)
	require.True(t, domainerrors.As(err, &derr))
	assert.Equal(t, domainerrors.CodeInvalidTransition, derr.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, derr.HTTPStatus())

	_, err = f.svc.Transition(ctx, "req-missing", domain.StatusApproved, admin, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))

	_, err = f.svc.Transition(ctx, req.ID, domain.RequestStatus("archived"), admin, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestTransition_AppliesAndNotifies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.create(t, alice, 72)

	notes := "Looks good"
	updated, err := f.svc.Transition(ctx, req.ID, domain.StatusApproved, admin, &notes)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, updated.Status)
	assert.Equal(t, "Looks good", updated.AdminNotes)
	assert.False(t, updated.UpdatedAt.Before(req.UpdatedAt))

	require.Len(t, f.notifier.events, 2)
	ev := f.notifier.events[1]
	assert.Equal(t, domain.EventStatusChange, ev.Kind)
	assert.Equal(t, domain.StatusPending, ev.PrevStatus)
	assert.Equal(t, domain.StatusApproved, ev.Request.Status)

	// Rejected requests can be approved again; nothing returns to pending.
	_, err = f.svc.Transition(ctx, req.ID, domain.StatusRejected, admin, nil)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, req.ID, domain.StatusPending, admin, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition))
	again, err := f.svc.Transition(ctx, req.ID, domain.StatusApproved, admin, nil)
	require.NoError(t, err)
	assert.Equal(t, "Looks good", again.AdminNotes, "nil notes keep the stored value")
}

func TestTransition_ReapproveWhileAnotherActive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.create(t, alice, 72)
	_, err := f.svc.Transition(ctx, first.ID, domain.StatusRejected, admin, nil)
	require.NoError(t, err)
	f.create(t, alice, 72)

	_, err = f.svc.Transition(ctx, first.ID, domain.StatusApproved, admin, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrDuplicateRequest))
}

// barrierStore holds every GetRequest until n callers have read, so
// concurrent transitions all start from the same status.
type barrierStore struct {
	store.RequestStore
	wg sync.WaitGroup
}

func (b *barrierStore) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	r, err := b.RequestStore.GetRequest(ctx, id)
	b.wg.Done()
	b.wg.Wait()
	return r, err
}

func TestTransition_ConcurrentExactlyOneWins(t *testing.T) {
	f := setup(t)
	req := f.create(t, alice, 72)

	bs := &barrierStore{RequestStore: f.store}
	bs.wg.Add(2)
	svc := New(bs, f.catalog, f.settings, f.notifier, slog.New(slog.DiscardHandler), nil)

	targets := []domain.RequestStatus{domain.StatusApproved, domain.StatusRejected}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Transition(context.Background(), req.ID, target, admin, nil)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domainerrors.Is(err, domainerrors.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	// One new_request plus exactly one status_change.
	assert.Len(t, f.notifier.events, 2)
}

func TestMarkAvailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.create(t, alice, 72)

	_, err := f.svc.MarkAvailable(ctx, req.ID, admin)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition), "pending must be approved first")

	_, err = f.svc.Transition(ctx, req.ID, domain.StatusApproved, admin, nil)
	require.NoError(t, err)

	done, err := f.svc.MarkAvailable(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "Marked as available by admin", done.AdminNotes)

	_, err = f.svc.Transition(ctx, req.ID, domain.StatusRejected, admin, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition), "completed is terminal")
}

func TestDelete_Permissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.create(t, alice, 72)

	err := f.svc.Delete(ctx, req.ID, alice)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition))

	f.settings.snap.AllowUserRequestDeletion = true
	err = f.svc.Delete(ctx, req.ID, bob)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition), "only the owner")

	require.NoError(t, f.svc.Delete(ctx, req.ID, alice))
	_, err = f.svc.Get(ctx, req.ID, admin)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))

	f.settings.snap.AllowUserRequestDeletion = false
	other := f.create(t, bob, 44)
	require.NoError(t, f.svc.Delete(ctx, other.ID, admin))

	err = f.svc.Delete(ctx, "req-missing", admin)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestUpdateCommentAndGet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.create(t, alice, 72)

	updated, err := f.svc.UpdateComment(ctx, req.ID, alice, "  please add the episodes too ")
	require.NoError(t, err)
	assert.Equal(t, "please add the episodes too", updated.Comment)

	_, err = f.svc.UpdateComment(ctx, req.ID, bob, "mine now")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrInvalidTransition))

	got, err := f.svc.Get(ctx, req.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = f.svc.Get(ctx, req.ID, bob)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrForbidden))
}

func TestListCountsAndGameStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.create(t, alice, 72)
	f.create(t, bob, 72)
	done := f.create(t, admin, 44)
	_, err := f.svc.MarkAvailable(ctx, done.ID, admin)
	require.NoError(t, err)

	page, err := f.svc.List(ctx, domain.RequestFilter{UserID: alice.UserID})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.False(t, page.HasMore)

	page, err = f.svc.List(ctx, domain.RequestFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)

	_, err = f.svc.CountsByStatus(ctx, alice)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrForbidden))
	counts, err := f.svc.CountsByStatus(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusPending])
	assert.Equal(t, 1, counts[domain.StatusCompleted])
	assert.Equal(t, 0, counts[domain.StatusRejected])

	gs, err := f.svc.GameStatus(ctx, 72, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, &domain.GameStatus{
		IsAvailable:       false,
		CanRequest:        false,
		UserHasRequest:    true,
		UserRequestStatus: domain.StatusPending,
		HasPendingRequest: true,
	}, gs)

	gs, err = f.svc.GameStatus(ctx, 44, alice.UserID)
	require.NoError(t, err)
	assert.True(t, gs.IsAvailable)
	assert.False(t, gs.CanRequest)

	gs, err = f.svc.GameStatus(ctx, 1942, alice.UserID)
	require.NoError(t, err)
	assert.True(t, gs.CanRequest)
}

func TestQuotaUsage(t *testing.T) {
	f := setup(t)
	f.settings.snap.MaxRequestsPerUser = 3
	f.create(t, alice, 72)
	rejected := f.create(t, alice, 1942)
	_, err := f.svc.Transition(context.Background(), rejected.ID, domain.StatusRejected, admin, nil)
	require.NoError(t, err)

	usage, err := f.svc.QuotaUsage(context.Background(), admin, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, QuotaUsage{UserID: alice.UserID, Active: 1, Limit: 3}, *usage)

	usage, err = f.svc.QuotaUsage(context.Background(), alice, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Active)

	_, err = f.svc.QuotaUsage(context.Background(), bob, alice.UserID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrForbidden))
}
