package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes over the service's
// backing stores.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. deps maps a dependency name
// ("postgres", "redis") to its pinger; nil pingers are skipped.
func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// Healthz handles GET /healthz. It probes every dependency concurrently and
// returns 503 when any is unreachable.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		statuses = make(map[string]string, len(h.deps))
		healthy  = true
		wg       sync.WaitGroup
	)

	for name, dep := range h.deps {
		if dep == nil {
			continue
		}
		wg.Add(1)
		go func(name string, dep Pinger) {
			defer wg.Done()
			err := dep.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Warn("health probe failed", zap.String("dependency", name), zap.Error(err))
				statuses[name] = "unreachable"
				healthy = false
				return
			}
			statuses[name] = "ok"
		}(name, dep)
	}
	wg.Wait()

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": statuses,
	})
}
