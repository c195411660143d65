package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/gin-gonic/gin"
)

type RuntimeMetrics struct {
	NumGoroutine int    `json:"num_goroutine"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	HeapObjects  uint64 `json:"heap_objects"`
	NumGC        uint32 `json:"gc_cycles"`
}

type MetricsResponse struct {
	Timestamp  time.Time               `json:"timestamp"`
	Uptime     string                  `json:"uptime"`
	ActiveRuns int                     `json:"active_runs"`
	Execution  domain.ExecutionMetrics `json:"execution"`
	Runtime    RuntimeMetrics          `json:"runtime"`
}

func (h *Handler) Metrics(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, MetricsResponse{
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		ActiveRuns: h.service.ActiveRuns(),
		Execution:  h.service.Metrics(),
		Runtime: RuntimeMetrics{
			NumGoroutine: runtime.NumGoroutine(),
			HeapAlloc:    mem.HeapAlloc,
			HeapObjects:  mem.HeapObjects,
			NumGC:        mem.NumGC,
		},
	})
}
