package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"database": s.checkDatabase(ctx),
		"search":   s.checkSearchIndex(),
		"catalog":  s.checkCatalog(),
	}

	// Only a dead database makes the server unusable.
	overall := statusHealthy
	for name, c := range components {
		switch {
		case c.Status == statusUnhealthy && name == "database":
			overall = statusUnhealthy
		case c.Status != statusHealthy && overall == statusHealthy:
			overall = statusDegraded
		}
	}

	return &HealthOutput{Body: HealthResponse{Status: overall, Components: components}}, nil
}

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// checkComponent times check and reports it. A failing check is unhealthy and its
// message replaced by failMsg; the raw error stays out of the response.
func checkComponent(failMsg string, check func() (string, error)) ComponentHealth {
	start := time.Now()
	msg, err := check()
	c := ComponentHealth{Status: statusHealthy, Latency: time.Since(start).String(), Message: msg}
	if err != nil {
		c.Status, c.Message = statusUnhealthy, failMsg
	}
	return c
}

func (s *Server) checkDatabase(ctx context.Context) ComponentHealth {
	if s.store == nil {
		return ComponentHealth{Status: statusDegraded, Message: "database not configured"}
	}
	return checkComponent("database ping failed", func() (string, error) {
		return "", s.store.Ping(ctx)
	})
}

func (s *Server) checkSearchIndex() ComponentHealth {
	if s.services.Search == nil {
		return ComponentHealth{Status: statusDegraded, Message: "search index not configured"}
	}
	return checkComponent("search index unreachable", func() (string, error) {
		n, err := s.services.Search.DocumentCount()
		return strconv.FormatUint(n, 10) + " requests indexed", err
	})
}

// checkCatalog reports whether catalog lookups are possible at all. It does
// not call upstream; outages show up per request instead.
func (s *Server) checkCatalog() ComponentHealth {
	if s.services.Catalog == nil {
		return ComponentHealth{Status: statusDegraded, Message: "catalog credentials not configured"}
	}
	return ComponentHealth{Status: statusHealthy}
}
