package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "arcana-api"
	serviceVersion = "0.1.0"
)

// Pinger is any dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints
type HealthHandler struct {
	deps map[string]Pinger
}

// NewHealthHandler creates a health handler. Nil dependencies report "not configured".
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns basic health status
// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: serviceVersion,
	})
}

// DeepHealth checks every dependency concurrently
// @Summary Readiness with dependency checks
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health/deep [get]
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var (
		mu         sync.Mutex
		deps       = make(map[string]string, len(h.deps))
		allHealthy = true
	)

	// errgroup without WithContext: one failing check must not cancel the others
	var g errgroup.Group
	for name, dep := range h.deps {
		if dep == nil {
			deps[name] = "not configured"
			continue
		}
		g.Go(func() error {
			err := dep.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				deps[name] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				deps[name] = "healthy"
			}
			return nil
		})
	}
	_ = g.Wait()

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      serviceName,
		Version:      serviceVersion,
		Dependencies: deps,
	})
}

// HTTPPinger checks that url answers 200
func HTTPPinger(url string) Pinger {
	client := &http.Client{Timeout: 3 * time.Second}
	return PingFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "status " + http.StatusText(e.code) }
