package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/metrics"
	"github.com/gamerequest/gamerequest-server/internal/ratelimit"
)

const (
	defaultRPS          = 4.0
	defaultBurst        = 4
	defaultMaxWait      = 2 * time.Second
	defaultTimeout      = 10 * time.Second
	defaultRetryBackoff = 300 * time.Millisecond

	defaultSearchLimit = 10
	maxSearchLimit     = 50

	// All callers share one bucket.
	limiterKey = "catalog"

	maxResponseBytes = 4 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	ClientID string
	Tokens   TokenProvider

	RPS          float64
	Burst        int
	MaxWait      time.Duration // longest a caller waits for a rate token
	Timeout      time.Duration
	RetryBackoff time.Duration

	// Limiter overrides the internal limiter, e.g. to share one across clients.
	Limiter    *ratelimit.KeyedRateLimiter
	HTTPClient *http.Client
}

// Client is a rate-limited client for an IGDB-compatible games API.
type Client struct {
	http         *http.Client
	baseURL      string
	clientID     string
	tokens       TokenProvider
	limiter      *ratelimit.KeyedRateLimiter
	ownsLimiter  bool
	maxWait      time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewClient creates a catalog client.
func NewClient(opts Options, logger *slog.Logger, m *metrics.Metrics) *Client {
	if opts.RPS <= 0 {
		opts.RPS = defaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = defaultMaxWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		http:         opts.HTTPClient,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		clientID:     opts.ClientID,
		tokens:       opts.Tokens,
		limiter:      opts.Limiter,
		maxWait:      opts.MaxWait,
		retryBackoff: opts.RetryBackoff,
		logger:       logger,
		metrics:      m,
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(opts.RPS, opts.Burst)
		c.ownsLimiter = true
	}
	return c
}

// Close releases resources held by the client.
func (c *Client) Close() {
	if c.ownsLimiter {
		c.limiter.Stop()
	}
}

// Search returns PC games matching term, best upstream match first.
func (c *Client) Search(ctx context.Context, term string, limit int) ([]domain.CatalogEntry, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []domain.CatalogEntry{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	raw, err := c.query(ctx, "search", searchQuery(term, limit))
	if err != nil {
		return nil, wrapError("search", term, 0, err)
	}

	entries := make([]domain.CatalogEntry, 0, len(raw))
	for i := range raw {
		e, err := raw[i].entry()
		if err != nil {
			return nil, wrapError("search", term, 0, fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Fetch returns one game by catalog id.
func (c *Client) Fetch(ctx context.Context, id int64) (*domain.CatalogEntry, error) {
	if id <= 0 {
		return nil, wrapError("fetch", "", id, ErrNotFound)
	}

	raw, err := c.query(ctx, "fetch", detailQuery(id))
	if err != nil {
		return nil, wrapError("fetch", "", id, err)
	}
	if len(raw) == 0 {
		return nil, wrapError("fetch", "", id, ErrNotFound)
	}

	e, err := raw[0].entry()
	if err != nil {
		return nil, wrapError("fetch", "", id, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	return &e, nil
}

// query performs one logical call. A rejected token is refreshed once and a
// transient failure is retried once; every attempt takes a rate token.
func (c *Client) query(ctx context.Context, op, body string) ([]rawGame, error) {
	var reauthed, retried bool
	for {
		start := time.Now()
		games, err := c.attempt(ctx, body)
		c.metrics.CatalogRequest(op, outcome(err), time.Since(start))

		switch {
		case err == nil:
			return games, nil
		case errors.Is(err, ErrUnauthorized) && !reauthed:
			reauthed = true
			c.tokens.Invalidate()
			c.logger.Info("catalog token rejected, refreshing", "op", op)
		case transient(err) && !retried && ctx.Err() == nil:
			retried = true
			c.logger.Warn("catalog call failed, retrying", "op", op, "error", err)
			if err := sleep(ctx, c.retryBackoff); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, body string) ([]rawGame, error) {
	if err := c.limiter.WaitAtMost(ctx, limiterKey, c.maxWait); err != nil {
		if errors.Is(err, ratelimit.ErrBudgetExhausted) {
			c.metrics.CatalogRateLimited()
			return nil, ErrRateLimited
		}
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+gamesEndpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)

	c.logger.Debug("catalog request", "body", body)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w: %v", ErrUnavailable, errTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &statusError{status: resp.StatusCode, kind: ErrRateLimited}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &statusError{status: resp.StatusCode, body: readExcerpt(resp.Body), kind: fmt.Errorf("%w: %w", ErrUnavailable, ErrUnauthorized)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &statusError{status: resp.StatusCode, body: readExcerpt(resp.Body), kind: fmt.Errorf("%w: %w", ErrUnavailable, errTransient)}
	default:
		return nil, &statusError{status: resp.StatusCode, body: readExcerpt(resp.Body), kind: ErrUnavailable}
	}

	var games []rawGame
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&games); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrUnavailable, ErrDecode, err)
	}
	return games, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unavailable"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
