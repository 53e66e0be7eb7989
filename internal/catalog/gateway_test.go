package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

type fakeUpstream struct {
	searches atomic.Int32
	fetches  atomic.Int32
	delay    time.Duration
	err      error
}

func (f *fakeUpstream) Search(_ context.Context, term string, limit int) ([]domain.CatalogEntry, error) {
	f.searches.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return []domain.CatalogEntry{{ID: 1, Name: term}, {ID: 2, Name: fmt.Sprintf("%s (limit %d)", term, limit)}}, nil
}

func (f *fakeUpstream) Fetch(_ context.Context, id int64) (*domain.CatalogEntry, error) {
	f.fetches.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CatalogEntry{ID: id, Name: fmt.Sprintf("game %d", id)}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGateway(t *testing.T, up Upstream, tiers ...Cache) (*Gateway, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	for _, tier := range tiers {
		if mem, ok := tier.(*MemoryCache); ok {
			mem.now = clk.Now
		}
	}
	g := NewGateway(up, GatewayOptions{SearchTTL: 10 * time.Minute, DetailTTL: 6 * time.Hour},
		slog.New(slog.DiscardHandler), nil, tiers...)
	g.now = clk.Now
	return g, clk
}

func TestGateway_SearchCachesByNormalizedTerm(t *testing.T) {
	up := &fakeUpstream{}
	g, _ := newTestGateway(t, up, NewMemoryCache())
	ctx := context.Background()

	first, err := g.Search(ctx, "Half-Life 2", 10)
	require.NoError(t, err)
	second, err := g.Search(ctx, "  half-life   2 ", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), up.searches.Load())

	_, err = g.Search(ctx, "Half-Life 2", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.searches.Load(), "limit is part of the key")
}

func TestGateway_ExpiredEntryTriggersExactlyOneCall(t *testing.T) {
	up := &fakeUpstream{}
	g, clk := newTestGateway(t, up, NewMemoryCache())
	ctx := context.Background()

	_, err := g.Search(ctx, "portal", 10)
	require.NoError(t, err)

	clk.Advance(10*time.Minute - time.Second)
	_, err = g.Search(ctx, "portal", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), up.searches.Load(), "fresh entry served from cache")

	clk.Advance(2 * time.Second)
	for range 5 {
		_, err = g.Search(ctx, "portal", 10)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), up.searches.Load())
}

func TestGateway_ConcurrentMissesShareOneCall(t *testing.T) {
	up := &fakeUpstream{delay: 30 * time.Millisecond}
	g, _ := newTestGateway(t, up, NewMemoryCache())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Search(context.Background(), "celeste", 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), up.searches.Load())
}

type gatedUpstream struct {
	fakeUpstream
	started chan struct{}
	release chan struct{}
	ctxErr  atomic.Value
}

func (g *gatedUpstream) Search(ctx context.Context, term string, limit int) ([]domain.CatalogEntry, error) {
	g.searches.Add(1)
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		g.ctxErr.Store(err)
		return nil, err
	}
	return []domain.CatalogEntry{{ID: 1, Name: term}}, nil
}

func TestGateway_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	up := &gatedUpstream{started: make(chan struct{}), release: make(chan struct{})}
	g, _ := newTestGateway(t, up, NewMemoryCache())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := g.Search(ctxA, "outer wilds", 10)
		errA <- err
	}()
	<-up.started

	type result struct {
		entries []domain.CatalogEntry
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		entries, err := g.Search(context.Background(), "outer wilds", 10)
		resB <- result{entries, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(up.release)
	r := <-resB
	require.NoError(t, r.err)
	require.Len(t, r.entries, 1)
	assert.Nil(t, up.ctxErr.Load(), "upstream call must not inherit the first caller's cancellation")
	assert.Equal(t, int32(1), up.searches.Load())
}

func TestGateway_SharedCallIsBounded(t *testing.T) {
	up := &gatedUpstream{started: make(chan struct{}), release: make(chan struct{})}
	g := NewGateway(up, GatewayOptions{FlightTimeout: 20 * time.Millisecond},
		slog.New(slog.DiscardHandler), nil, NewMemoryCache())

	_, err := g.Search(context.Background(), "tunic", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_FetchUsesOwnKey(t *testing.T) {
	up := &fakeUpstream{}
	g, clk := newTestGateway(t, up, NewMemoryCache())
	ctx := context.Background()

	_, err := g.Search(ctx, "game", 10)
	require.NoError(t, err)

	e, err := g.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "game 1", e.Name)
	assert.Equal(t, int32(1), up.fetches.Load(), "search results do not warm detail entries")

	e.Name = "mutated"
	again, err := g.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "game 1", again.Name, "callers get copies")
	assert.Equal(t, int32(1), up.fetches.Load())

	clk.Advance(6 * time.Hour)
	_, err = g.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.fetches.Load())
}

func TestGateway_TranslatesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", wrapError("fetch", "", 5, ErrNotFound), domainerrors.ErrNotFound},
		{"rate limited", wrapError("fetch", "", 5, ErrRateLimited), domainerrors.ErrRateLimited},
		{"unavailable", wrapError("fetch", "", 5, ErrUnavailable), domainerrors.ErrCatalogUnavailable},
		{"decode", wrapError("fetch", "", 5, fmt.Errorf("%w: %w", ErrUnavailable, ErrDecode)), domainerrors.ErrCatalogUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, &fakeUpstream{err: tt.err}, NewMemoryCache())

			_, err := g.Fetch(context.Background(), 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGateway_FailuresAreNotCached(t *testing.T) {
	up := &fakeUpstream{err: ErrUnavailable}
	g, _ := newTestGateway(t, up, NewMemoryCache())
	ctx := context.Background()

	_, err := g.Search(ctx, "x", 10)
	require.Error(t, err)

	up.err = nil
	_, err = g.Search(ctx, "x", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), up.searches.Load())
}

type brokenCache struct{}

func (brokenCache) Name() string { return "broken" }
func (brokenCache) Get(context.Context, string) (*CacheEntry, bool, error) {
	return nil, false, errors.New("disk on fire")
}
func (brokenCache) Set(context.Context, string, *CacheEntry) error { return errors.New("disk on fire") }

func TestGateway_CacheFailuresAreSwallowed(t *testing.T) {
	up := &fakeUpstream{}
	g, _ := newTestGateway(t, up, brokenCache{})

	entries, err := g.Search(context.Background(), "doom", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGateway_BadgerTierBackfillsMemory(t *testing.T) {
	bc, err := OpenInMemoryBadgerCache(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() }) //nolint:errcheck // Test cleanup

	ctx := context.Background()
	up := &fakeUpstream{}

	// A previous process populated the persistent tier.
	g1, _ := newTestGateway(t, up, NewMemoryCache(), bc)
	_, err = g1.Search(ctx, "hades", 10)
	require.NoError(t, err)
	require.Equal(t, int32(1), up.searches.Load())

	mem := NewMemoryCache()
	g2, _ := newTestGateway(t, up, mem, bc)
	_, err = g2.Search(ctx, "hades", 10)
	require.NoError(t, err)

	assert.Equal(t, int32(1), up.searches.Load())
	assert.Equal(t, 1, mem.Len())
}

func TestMemoryCache_Purge(t *testing.T) {
	clk := &clock{now: time.Now()}
	mem := NewMemoryCache()
	mem.now = clk.Now
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "a", &CacheEntry{FetchedAt: clk.Now(), TTL: time.Minute}))
	require.NoError(t, mem.Set(ctx, "b", &CacheEntry{FetchedAt: clk.Now(), TTL: time.Hour}))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, mem.Purge())
	assert.Equal(t, 1, mem.Len())

	_, ok, err := mem.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSuggest(t *testing.T) {
	cat := &fakeCatalog{entries: []domain.CatalogEntry{{
		ID: 7, Name: "Hades", CoverImageID: "abc",
		Genres:    []string{"Action", "RPG", "Indie", "Roguelike"},
		Platforms: []string{"PC"},
	}}}

	out, err := Suggest(context.Background(), cat, "h", 5)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, cat.calls)

	out, err = Suggest(context.Background(), cat, "ha", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"Action", "RPG", "Indie"}, out[0].Genres)
	assert.Equal(t, CoverURL("abc", CoverSmall), out[0].CoverURL)
}

type fakeCatalog struct {
	entries []domain.CatalogEntry
	calls   int
}

func (f *fakeCatalog) Search(context.Context, string, int) ([]domain.CatalogEntry, error) {
	f.calls++
	return f.entries, nil
}

func (f *fakeCatalog) Fetch(context.Context, int64) (*domain.CatalogEntry, error) {
	return nil, domainerrors.ErrNotFound
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Search(context.Background(), "portal", 5)
	assert.Equal(t, domainerrors.CodeCatalogUnavailable, domainerrors.CodeOf(err))

	_, err = Unconfigured{}.Fetch(context.Background(), 72)
	assert.Equal(t, domainerrors.CodeCatalogUnavailable, domainerrors.CodeOf(err))
}
