package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/conduit/internal/core"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
	"github.com/gin-gonic/gin"
)

// Service is the part of the manager the HTTP API drives.
type Service interface {
	Healthy() bool
	ActiveRuns() int
	Metrics() domain.ExecutionMetrics
	Workflows() []core.WorkflowInfo
	DescribeWorkflow(name string) (core.WorkflowInfo, error)
	Trigger(ctx context.Context, name string, input map[string]interface{}) (string, error)
	Run(ctx context.Context, name string, input map[string]interface{}) (*domain.RunSnapshot, error)
	Snapshot(ctx context.Context, runID string) (*domain.RunSnapshot, error)
	ListRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.RunSnapshot, error)
	Cancel(runID string) error
	RecentEvents(limit int) []domain.Event
	RunEvents(ctx context.Context, runID string, limit int) ([]domain.Event, error)
}

var _ Service = (*core.Manager)(nil)

type Handler struct {
	service Service
	started time.Time
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, started: time.Now()}
}

func (h *Handler) Health(c *gin.Context) {
	if !h.service.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"active_runs": h.service.ActiveRuns(),
		"metrics":     h.service.Metrics(),
	})
}

func (h *Handler) ListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": h.service.Workflows()})
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	info, err := h.service.DescribeWorkflow(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// StartRun triggers a run with the request body as initial input. With
// ?wait=true the response is the terminal snapshot instead of the run id.
func (h *Handler) StartRun(c *gin.Context) {
	input, err := readInput(c)
	if err != nil {
		writeError(c, err)
		return
	}

	name := c.Param("name")
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		snap, err := h.service.Run(c.Request.Context(), name, input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
		return
	}

	runID, err := h.service.Trigger(c.Request.Context(), name, input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "workflow": name})
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}

	filter := domain.RunFilter{Workflow: c.Query("workflow"), Limit: limit}
	if raw := c.Query("status"); raw != "" {
		status, ok := domain.ParseRunStatus(raw)
		if !ok {
			writeError(c, domain.NewValidationError("unknown run status "+strconv.Quote(raw)))
			return
		}
		filter.Status = status
	}

	runs, err := h.service.ListRuns(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) GetRun(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "message": "cancellation requested"})
}

func (h *Handler) RunEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}

	events, err := h.service.RunEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) RecentEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.service.RecentEvents(limit)})
}

func readInput(c *gin.Context) (map[string]interface{}, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, domain.NewValidationError("unreadable request body: " + err.Error())
	}
	if len(body) == 0 {
		return nil, nil
	}

	var input map[string]interface{}
	if err := xjson.Unmarshal(body, &input); err != nil {
		return nil, domain.NewValidationError("request body must be a JSON object: " + err.Error())
	}
	return input, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError(key + " must be a non-negative integer")
	}
	return n, nil
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsValidationError(err), domain.IsDefinitionError(err), domain.IsInvalidConfig(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
