package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
)

// limitAuth is an operation middleware that rate limits the unauthenticated
// auth endpoints by client IP. Returns 429 Too Many Requests when the limit
// is exceeded.
func (s *Server) limitAuth(ctx huma.Context, next func(huma.Context)) {
	key := clientIP(ctx.Header("X-Forwarded-For"), ctx.Header("X-Real-IP"), ctx.RemoteAddr())
	if s.authRateLimiter.Allow(key) {
		next(ctx)
		return
	}

	u := ctx.URL()
	s.logger.Warn("rate limit exceeded", "ip", key, "path", u.Path)

	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetHeader("Retry-After", "1")
	ctx.SetStatus(http.StatusTooManyRequests)
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(APIEnvelope{
		Version: EnvelopeVersion,
		Error:   "Too many requests. Please try again later.",
		Code:    string(domainerrors.CodeRateLimited),
	})
}

// clientIP picks the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address without its port.
func clientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	if realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
