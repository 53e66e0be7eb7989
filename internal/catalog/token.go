package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// tokenRefreshMargin renews tokens before the upstream considers them expired.
const tokenRefreshMargin = 60 * time.Second

// TokenProvider supplies bearer tokens for catalog calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token after the upstream rejected it.
	Invalidate()
}

// TokenSource obtains OAuth client-credentials tokens and caches them until
// shortly before expiry.
type TokenSource struct {
	http         *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source for the given credentials.
func NewTokenSource(httpClient *http.Client, tokenURL, clientID, clientSecret string) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &TokenSource{
		http:         httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

// Token returns a cached token or fetches a new one. Concurrent callers share
// one fetch.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", wrapError("token", "", 0, err)
	}

	s.token = tok.AccessToken
	lifetime := time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin
	if lifetime < 0 {
		lifetime = 0
	}
	s.expiresAt = s.now().Add(lifetime)
	return s.token, nil
}

// Invalidate forgets the cached token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *TokenSource) fetch(ctx context.Context) (*tokenResponse, error) {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("client_secret", s.clientSecret)
	q.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := ErrUnavailable
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = fmt.Errorf("%w: %w", ErrUnavailable, ErrUnauthorized)
		}
		return nil, &statusError{status: resp.StatusCode, body: readExcerpt(resp.Body), kind: kind}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrUnavailable, ErrDecode, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: %w: empty access token", ErrUnavailable, ErrDecode)
	}
	return &tok, nil
}

// StaticToken is a TokenProvider for a pre-issued token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (StaticToken) Invalidate()                              {}

func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
