package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamerequest/gamerequest-server/internal/auth"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/importer"
	"github.com/gamerequest/gamerequest-server/internal/lifecycle"
	"github.com/gamerequest/gamerequest-server/internal/matcher"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/notify"
	"github.com/gamerequest/gamerequest-server/internal/search"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/settings"
	"github.com/gamerequest/gamerequest-server/internal/store/sqlite"
)

// fakeCatalog answers searches by exact, case-insensitive name.
type fakeCatalog struct {
	entries []domain.CatalogEntry
}

func (f *fakeCatalog) Search(_ context.Context, name string, limit int) ([]domain.CatalogEntry, error) {
	var out []domain.CatalogEntry
	for _, e := range f.entries {
		if strings.Contains(strings.ToLower(e.Name), strings.ToLower(name)) {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCatalog) Fetch(_ context.Context, id int64) (*domain.CatalogEntry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, domainerrors.NotFound("game not found")
}

type testServer struct {
	*Server
	api     humatest.TestAPI
	store   *sqlite.Store
	botHits *atomic.Int32
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx, err := search.NewSearchIndex(search.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	st.SetSearchIndexer(idx)

	settingsService := settings.NewService(st, logger)
	require.NoError(t, settingsService.Load(ctx))

	botHits := &atomic.Int32{}
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		botHits.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(bot.Close)

	dispatcher := notify.NewDispatcher(notify.NewTelegram(bot.URL, time.Second), settingsService, notify.Options{}, logger, m)
	dispatcher.Start()
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	cat := &fakeCatalog{entries: []domain.CatalogEntry{
		{ID: 72, Name: "Half-Life 2", CoverImageID: "co1nmw", Genres: []string{"Shooter"}, Platforms: []string{"PC (Microsoft Windows)"}},
		{ID: 44, Name: "Portal", Genres: []string{"Puzzle", "Platform"}},
		{ID: 1942, Name: "The Witcher 3: Wild Hunt", Genres: []string{"Role-playing (RPG)"}},
	}}

	key, err := auth.LoadOrGenerateKey(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	authService := service.NewAuthService(st, tokens, dispatcher, logger)
	authService.SetPasswordParams(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	requests := lifecycle.New(st, cat, settingsService, dispatcher, logger, m)
	requests.SetNameIndex(idx)

	services := &Services{
		Auth:     authService,
		Requests: requests,
		Importer: importer.New(matcher.New(cat, matcher.Options{}, logger), st, dispatcher, importer.Options{}, logger, m),
		Catalog:  cat,
		Settings: settingsService,
		Notify:   dispatcher,
		Search:   idx,
	}

	if opts.AuthRPS == 0 {
		opts.AuthRPS = 1000
		opts.AuthBurst = 1000
	}
	s := NewServer(st, services, opts, m, logger)
	t.Cleanup(s.Close)

	return &testServer{
		Server:  s,
		api:     humatest.Wrap(t, s.api),
		store:   st,
		botHits: botHits,
	}
}

type testEnvelope struct {
	Version int             `json:"v"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, data any) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), resp.Body.String())
	}
	return env
}

func bearer(token string) string {
	return "Authorization: Bearer " + token
}

// register creates an account through the API and returns its token.
func (ts *testServer) register(t *testing.T, username string) (string, UserResponse) {
	t.Helper()
	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out AuthResponse
	decode(t, resp, &out)
	return out.AccessToken, out.User
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	var health HealthResponse
	env := decode(t, resp, &health)
	assert.True(t, env.Success)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Components["database"].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, Options{})
	ts.api.Get("/health")

	resp := ts.api.Get("/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "gamereq_http_requests_total")
	assert.Contains(t, resp.Body.String(), `route="/health"`)
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	ts := setupTestServer(t, Options{})

	adminToken, adminUser := ts.register(t, "admin")
	assert.Equal(t, domain.RoleAdmin, adminUser.Role)
	_, user := ts.register(t, "alice")
	assert.Equal(t, domain.RoleUser, user.Role)

	resp := ts.api.Post("/api/v1/auth/login", map[string]any{"login": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var login AuthResponse
	decode(t, resp, &login)
	assert.Equal(t, "bearer", login.TokenType)

	resp = ts.api.Post("/api/v1/auth/login", map[string]any{"login": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	env := decode(t, resp, nil)
	assert.False(t, env.Success)
	assert.Equal(t, string(domainerrors.CodeInvalidCredentials), env.Code)

	resp = ts.api.Get("/api/v1/auth/me", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code)
	var me UserResponse
	decode(t, resp, &me)
	assert.Equal(t, "admin", me.Username)

	resp = ts.api.Get("/api/v1/auth/me")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.api.Get("/api/v1/auth/me", bearer("v4.local.forged"))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.api.Post("/api/v1/auth/register", map[string]any{
		"username": "ALICE",
		"email":    "other@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestAuth_RateLimited(t *testing.T) {
	ts := setupTestServer(t, Options{AuthRPS: 0.001, AuthBurst: 2})

	body := map[string]any{"login": "ghost", "password": "password123"}
	assert.Equal(t, http.StatusUnauthorized, ts.api.Post("/api/v1/auth/login", body).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.api.Post("/api/v1/auth/login", body).Code)

	resp := ts.api.Post("/api/v1/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	env := decode(t, resp, nil)
	assert.Equal(t, string(domainerrors.CodeRateLimited), env.Code)
}

func TestRequests_Lifecycle(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, _ := ts.register(t, "admin")
	userToken, _ := ts.register(t, "alice")

	resp := ts.api.Post("/api/v1/requests", bearer(userToken), map[string]any{
		"igdb_id":   72,
		"game_name": "Half-Life 2",
		"comment":   "please",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created domain.Request
	decode(t, resp, &created)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Contains(t, created.CoverURL, "co1nmw")

	resp = ts.api.Post("/api/v1/requests", bearer(userToken), map[string]any{"igdb_id": 72, "game_name": "Half-Life 2"})
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(domainerrors.CodeDuplicateRequest), decode(t, resp, nil).Code)

	// Users cannot change status.
	resp = ts.api.Patch("/api/v1/requests/"+created.ID, bearer(userToken), map[string]any{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, string(domainerrors.CodeInvalidTransition), decode(t, resp, nil).Code)

	resp = ts.api.Patch("/api/v1/requests/"+created.ID, bearer(adminToken), map[string]any{"status": "approved", "admin_notes": "on it"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var approved domain.Request
	decode(t, resp, &approved)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, "on it", approved.AdminNotes)

	// Nothing returns to pending.
	resp = ts.api.Patch("/api/v1/requests/"+created.ID, bearer(adminToken), map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = ts.api.Put("/api/v1/requests/"+created.ID+"/mark-available", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var done domain.Request
	decode(t, resp, &done)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	resp = ts.api.Get("/api/v1/requests/game/72/status", bearer(userToken))
	require.Equal(t, http.StatusOK, resp.Code)
	var status domain.GameStatus
	decode(t, resp, &status)
	assert.True(t, status.IsAvailable)
	assert.False(t, status.CanRequest)
}

func TestRequests_OwnershipAndListing(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, _ := ts.register(t, "admin")
	aliceToken, _ := ts.register(t, "alice")
	bobToken, _ := ts.register(t, "bob")

	resp := ts.api.Post("/api/v1/requests", bearer(aliceToken), map[string]any{"igdb_id": 44, "game_name": "Portal"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var portal domain.Request
	decode(t, resp, &portal)

	resp = ts.api.Post("/api/v1/requests", bearer(bobToken), map[string]any{"game_name": "Some Indie Game"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/requests/"+portal.ID, bearer(bobToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Put("/api/v1/requests/"+portal.ID, bearer(aliceToken), map[string]any{"comment": "any edition"})
	require.Equal(t, http.StatusOK, resp.Code)
	var updated domain.Request
	decode(t, resp, &updated)
	assert.Equal(t, "any edition", updated.Comment)

	var page struct {
		Items []domain.Request `json:"items"`
		Total int              `json:"total"`
	}
	resp = ts.api.Get("/api/v1/requests", bearer(aliceToken))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &page)
	assert.Equal(t, 1, page.Total)

	resp = ts.api.Get("/api/v1/requests", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &page)
	assert.Equal(t, 2, page.Total)

	resp = ts.api.Get("/api/v1/requests?status=bogus", bearer(adminToken))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	// User deletion is off by default.
	resp = ts.api.Delete("/api/v1/requests/"+portal.ID, bearer(aliceToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Delete("/api/v1/requests/"+portal.ID, bearer(adminToken))
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = ts.api.Get("/api/v1/requests/"+portal.ID, bearer(adminToken))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRequests_StatsAndSearch(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, _ := ts.register(t, "admin")
	userToken, _ := ts.register(t, "alice")

	for _, body := range []map[string]any{
		{"igdb_id": 72, "game_name": "Half-Life 2"},
		{"igdb_id": 1942, "game_name": "The Witcher 3: Wild Hunt"},
	} {
		resp := ts.api.Post("/api/v1/requests", bearer(userToken), body)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	resp := ts.api.Get("/api/v1/requests/stats", bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Get("/api/v1/requests/stats", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code)
	var stats RequestStatsResponse
	decode(t, resp, &stats)
	assert.Equal(t, 2, stats.Counts[domain.StatusPending])
	assert.Equal(t, 2, stats.Total)

	resp = ts.api.Get("/api/v1/requests/search?q=witcher", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var found search.SearchResult
	decode(t, resp, &found)
	require.Len(t, found.Hits, 1)
	assert.Equal(t, "The Witcher 3: Wild Hunt", found.Hits[0].GameName)

	resp = ts.api.Get("/api/v1/requests/search?q=witcher", bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestImport_ReportsEveryName(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, _ := ts.register(t, "admin")
	userToken, _ := ts.register(t, "alice")

	names := map[string]any{"games": []string{"Half-Life 2", "Not A Real Game XYZ123", "Half-Life 2"}}

	resp := ts.api.Post("/api/v1/import/games", bearer(userToken), names)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Post("/api/v1/import/games", bearer(adminToken), names)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var res ImportGamesResponse
	decode(t, resp, &res)
	assert.Equal(t, 3, res.TotalGames)
	assert.Equal(t, 1, res.SuccessfulImports)
	assert.Equal(t, 2, res.FailedImports)
	require.Len(t, res.ImportedGames, 1)
	assert.Equal(t, int64(72), res.ImportedGames[0].CatalogID)

	classes := []importer.ReasonClass{res.FailedGames[0].Class, res.FailedGames[1].Class}
	assert.ElementsMatch(t, []importer.ReasonClass{importer.ReasonNoMatch, importer.ReasonDuplicate}, classes)

	resp = ts.api.Get("/api/v1/import/status", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code)
	var stats domain.ImportStats
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalImported)

	// The imported game is now in the library.
	resp = ts.api.Post("/api/v1/requests", bearer(userToken), map[string]any{"igdb_id": 72, "game_name": "Half-Life 2"})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestCatalog(t *testing.T) {
	ts := setupTestServer(t, Options{})
	token, _ := ts.register(t, "alice")

	resp := ts.api.Get("/api/v1/catalog/search?q=half-life", bearer(token))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var games []CatalogGame
	decode(t, resp, &games)
	require.Len(t, games, 1)
	assert.Equal(t, "https://images.igdb.com/igdb/image/upload/t_cover_big/co1nmw.jpg", games[0].CoverURL)

	resp = ts.api.Get("/api/v1/catalog/games/44", bearer(token))
	require.Equal(t, http.StatusOK, resp.Code)
	var portal CatalogGame
	decode(t, resp, &portal)
	assert.Equal(t, "Portal", portal.Name)

	resp = ts.api.Get("/api/v1/catalog/games/999", bearer(token))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Get("/api/v1/catalog/suggestions?q=p", bearer(token))
	require.Equal(t, http.StatusOK, resp.Code)
	var none []any
	decode(t, resp, &none)
	assert.Empty(t, none)

	resp = ts.api.Get("/api/v1/catalog/search?q=portal")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	ts.services.Catalog = nil
	resp = ts.api.Get("/api/v1/catalog/search?q=portal", bearer(token))
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestAdminSettingsAndNotifications(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, _ := ts.register(t, "admin")
	userToken, _ := ts.register(t, "alice")

	resp := ts.api.Get("/api/v1/admin/settings", bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Patch("/api/v1/admin/settings", bearer(adminToken), map[string]any{
		"telegram_bot_token": "123456:secret-token",
		"telegram_chat_id":   "-100",
		"telegram_enabled":   true,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, string(domainerrors.CodeChannelNotVerified), decode(t, resp, nil).Code)

	resp = ts.api.Patch("/api/v1/admin/settings", bearer(adminToken), map[string]any{
		"telegram_bot_token": "123456:secret-token",
		"telegram_chat_id":   "-100",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Post("/api/v1/admin/notifications/test", bearer(adminToken), map[string]any{
		"bot_token": "123456:secret-token",
		"chat_id":   "-100",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var result notify.TestResult
	decode(t, resp, &result)
	assert.True(t, result.Success)
	assert.Equal(t, int32(1), ts.botHits.Load())

	resp = ts.api.Patch("/api/v1/admin/settings", bearer(adminToken), map[string]any{
		"telegram_enabled":      true,
		"max_requests_per_user": 3,
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var snap SettingsResponse
	decode(t, resp, &snap)
	assert.True(t, snap.Telegram.Enabled)
	assert.True(t, snap.ChannelVerified)
	assert.Equal(t, 3, snap.MaxRequestsPerUser)
	assert.NotContains(t, snap.Telegram.BotToken, "secret")
}

func TestAdminUsers(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, admin := ts.register(t, "admin")
	userToken, user := ts.register(t, "alice")

	resp := ts.api.Get("/api/v1/admin/users", bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Get("/api/v1/admin/users", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code)
	var users UserListResponse
	decode(t, resp, &users)
	assert.Equal(t, 2, users.Total)

	resp = ts.api.Put("/api/v1/admin/users/"+admin.ID+"/role", bearer(adminToken), map[string]any{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Put("/api/v1/admin/users/"+user.ID+"/role", bearer(adminToken), map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// The promotion applies to the existing token.
	resp = ts.api.Get("/api/v1/requests/stats", bearer(userToken))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAdmin_UserActiveAndQuota(t *testing.T) {
	ts := setupTestServer(t, Options{})
	adminToken, admin := ts.register(t, "admin")
	userToken, user := ts.register(t, "alice")

	resp := ts.api.Post("/api/v1/requests", bearer(userToken), map[string]any{"igdb_id": 44, "game_name": "Portal"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.api.Get("/api/v1/admin/users/"+user.ID+"/quota", bearer(userToken))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = ts.api.Get("/api/v1/admin/users/"+user.ID+"/quota", bearer(adminToken))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var usage lifecycle.QuotaUsage
	decode(t, resp, &usage)
	assert.Equal(t, 1, usage.Active)
	assert.Equal(t, settings.UnlimitedRequests, usage.Limit)

	resp = ts.api.Get("/api/v1/admin/users/user-missing/quota", bearer(adminToken))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Put("/api/v1/admin/users/"+admin.ID+"/active", bearer(adminToken), map[string]any{"active": false})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Put("/api/v1/admin/users/"+user.ID+"/active", bearer(adminToken), map[string]any{"active": false})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var updated UserResponse
	decode(t, resp, &updated)
	assert.False(t, updated.Active)

	// The disabled account's token no longer works.
	resp = ts.api.Get("/api/v1/auth/me", bearer(userToken))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.api.Put("/api/v1/admin/users/"+user.ID+"/active", bearer(adminToken), map[string]any{"active": true})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ts.api.Get("/api/v1/auth/me", bearer(userToken))
	assert.Equal(t, http.StatusOK, resp.Code)
}
