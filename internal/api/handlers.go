package api

import (
	"context"
	"log/slog"
	"net/http"

	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/gin-gonic/gin"
)

// bootstrapService is the subset of *bootstrap.Bootstrapper used by the HTTP
// handlers. Declaring it as an interface allows test doubles to be injected.
type bootstrapService interface {
	RunBootstrap(ctx context.Context, names []bootstrap.DatabaseName, mode bootstrap.Mode) (*bootstrap.RunResult, error)
	RunDeepHealth(ctx context.Context, names []bootstrap.DatabaseName) map[string]bootstrap.ProbeResult
	IsReady() bool
	IsBootstrapInProgress() bool
	LastResult() *bootstrap.RunResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	svc   bootstrapService
	names []bootstrap.DatabaseName
}

// Bootstrap handles POST /api/v1/bootstrap.
//
//	@Summary	Start an ensure run in the background
//	@Tags		bootstrap
//	@Produce	json
//	@Success	202	{object}	map[string]string
//	@Failure	409	{object}	map[string]string
//	@Router		/api/v1/bootstrap [post]
func (h *Handler) Bootstrap(c *gin.Context) {
	if h.svc.IsBootstrapInProgress() {
		c.JSON(http.StatusConflict, gin.H{"status": bootstrap.StatusInProgress})
		return
	}
	go func() {
		// The run outlives the request; failures are already logged per database.
		if _, err := h.svc.RunBootstrap(context.Background(), h.names, bootstrap.ModeEnsure); err != nil { //nolint:contextcheck
			slog.Warn("background ensure run failed", "err", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Health handles GET /health. It always returns 200.
//
//	@Summary	Liveness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]string
//	@Router		/health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep. It probes the server and every
// managed database and returns 200 only when all are reachable.
//
//	@Summary	Probe the server and each managed database
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	503	{object}	map[string]any
//	@Router		/health/deep [get]
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.svc.RunDeepHealth(c.Request.Context(), h.names)

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready. It returns 200 only after an ensure run finished
// with every database present.
//
//	@Summary	Readiness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	503	{object}	map[string]any
//	@Router		/ready [get]
func (h *Handler) Ready(c *gin.Context) {
	ready := h.svc.IsReady()
	body := gin.H{"ready": ready}
	if last := h.svc.LastResult(); last != nil {
		body["last_run"] = last
	}
	if ready {
		c.JSON(http.StatusOK, body)
		return
	}
	c.JSON(http.StatusServiceUnavailable, body)
}
