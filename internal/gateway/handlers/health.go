package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  int64        `json:"uptime"`
	VMPool  *VMPoolStats `json:"vm_pool,omitempty"`
}

// VMPoolStats mirrors jsvm.PoolStats, reported here instead of
// importing jsvm directly so handlers doesn't depend on the evaluator
// package just to describe its shape.
type VMPoolStats struct {
	MaxSize int `json:"max_size"`
	Created int `json:"created"`
	Active  int `json:"active"`
	Pooled  int `json:"pooled"`
}

// HealthHandler returns a health check handler. statsFn is called on
// every request to report the evaluator VM pool's current load; pass
// nil to omit the vm_pool field (e.g. when no evaluator is configured).
func HealthHandler(version string, statsFn func() VMPoolStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(0)
		if !startTime.IsZero() {
			uptime = int64(time.Since(startTime).Seconds())
		}

		resp := HealthResponse{
			Status:  "ok",
			Version: version,
			Uptime:  uptime,
		}
		if statsFn != nil {
			stats := statsFn()
			resp.VMPool = &stats
		}

		SendJSON(w, http.StatusOK, resp)
	}
}
