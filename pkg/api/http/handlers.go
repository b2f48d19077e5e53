package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"github.com/forksnd/convey/internal/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TriggerRunRequest starts a run of a registered pipeline.
type TriggerRunRequest struct {
	Pipeline string                       `json:"pipeline" binding:"required"`
	Params   map[string]domain.ParamValue `json:"params"`
}

// TriggerRunResponse acknowledges a submitted run.
type TriggerRunResponse struct {
	RunID       string `json:"run_id"`
	Pipeline    string `json:"pipeline"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// rejectTrigger maps validation failures to API error codes.
func rejectTrigger(c *gin.Context, err error) {
	var (
		cfgErr  *domain.ConfigError
		valErr  *domain.ValidationError
		cycle   *domain.CycleError
		unknown *domain.UnknownDependencyError
	)
	switch {
	case errors.As(err, &cycle):
		errorJSON(c, http.StatusUnprocessableEntity, "DEPENDENCY_CYCLE", err.Error())
	case errors.As(err, &unknown):
		errorJSON(c, http.StatusUnprocessableEntity, "UNKNOWN_DEPENDENCY", err.Error())
	case errors.As(err, &cfgErr):
		errorJSON(c, http.StatusUnprocessableEntity, "INVALID_PIPELINE", err.Error())
	case errors.As(err, &valErr):
		errorJSON(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error())
	default:
		errorJSON(c, http.StatusBadRequest, "TRIGGER_FAILED", err.Error())
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	status := http.StatusOK

	if s.health != nil {
		snapshot := s.health.Snapshot()
		if snapshot.Healthy {
			checks["workers"] = "ok"
		} else {
			checks["workers"] = fmt.Sprintf("%d/%d stopped", snapshot.StoppedWorkers, snapshot.TotalWorkers)
			status = http.StatusServiceUnavailable
		}
	}

	healthy := "healthy"
	if status != http.StatusOK {
		healthy = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    healthy,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleRegisterPipeline registers a YAML pipeline declaration. The request
// body is the declaration itself.
func (s *Server) handleRegisterPipeline(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a pipeline declaration")
		return
	}

	decl, err := pipeline.Parse(body)
	if err != nil {
		s.logger.Error("invalid pipeline declaration", zap.Error(err))
		errorJSON(c, http.StatusUnprocessableEntity, "INVALID_PIPELINE", err.Error())
		return
	}

	if err := s.pipelines.Register(decl); err != nil {
		errorJSON(c, http.StatusUnprocessableEntity, "INVALID_PIPELINE", err.Error())
		return
	}

	s.logger.Info("pipeline registered",
		zap.String("pipeline", decl.Name),
		zap.Int("stages", len(decl.Stages)))

	c.JSON(http.StatusCreated, gin.H{
		"name":   decl.Name,
		"stages": len(decl.Stages),
	})
}

// handleListPipelines lists registered pipeline names.
func (s *Server) handleListPipelines(c *gin.Context) {
	names := s.pipelines.List()
	c.JSON(http.StatusOK, gin.H{
		"pipelines": names,
		"total":     len(names),
	})
}

// handleGetPipeline returns a registered declaration.
func (s *Server) handleGetPipeline(c *gin.Context) {
	decl, ok := s.pipelines.Get(c.Param("name"))
	if !ok {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "pipeline not found")
		return
	}
	c.JSON(http.StatusOK, decl)
}

// handleTriggerRun starts a new run.
func (s *Server) handleTriggerRun(c *gin.Context) {
	var req TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	runID, err := s.orchestrator.TriggerRun(c.Request.Context(), req.Pipeline, req.Params)
	if err != nil {
		s.logger.Error("failed to trigger run",
			zap.String("pipeline", req.Pipeline),
			zap.Error(err))
		rejectTrigger(c, err)
		return
	}

	c.JSON(http.StatusCreated, TriggerRunResponse{
		RunID:       runID,
		Pipeline:    req.Pipeline,
		Status:      string(domain.StatusPending),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListRuns lists all known runs.
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STORE_ERROR", "failed to list runs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// handleGetRun returns the full state of a run.
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.orchestrator.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleGetRunStatus returns a compact status view of a run.
func (s *Server) handleGetRunStatus(c *gin.Context) {
	run, err := s.orchestrator.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}

	stages := make(gin.H, len(run.Stages))
	for name, st := range run.Stages {
		entry := gin.H{"status": st.Status}
		if st.Job != nil && st.Job.Link != "" {
			entry["link"] = st.Job.Link
		}
		if st.Error != "" {
			entry["error"] = st.Error
		}
		stages[name] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       run.RunID,
		"pipeline":     run.Pipeline,
		"status":       run.Status,
		"error":        run.Error,
		"stages":       stages,
		"submitted_at": run.SubmittedAt,
		"started_at":   run.StartedAt,
		"completed_at": run.CompletedAt,
	})
}

// handleCancelRun cancels an active run.
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			errorJSON(c, http.StatusNotFound, "NOT_FOUND", "run not found")
			return
		}
		errorJSON(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       string(domain.StatusCancelled),
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetArtifact streams a stage's artifact blob. Metadata travels in
// response headers.
func (s *Server) handleGetArtifact(c *gin.Context) {
	ref := domain.ArtifactRef{
		RunID: c.Param("id"),
		Stage: c.Param("stage"),
	}

	blob, meta, err := s.artifacts.Get(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			errorJSON(c, http.StatusNotFound, "NOT_FOUND", "artifact not found")
			return
		}
		s.logger.Error("failed to read artifact",
			zap.String("run_id", ref.RunID),
			zap.String("stage", ref.Stage),
			zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STORE_ERROR", "failed to read artifact")
		return
	}

	c.Header("X-Artifact-Sha256", meta.SHA256)
	c.Header("X-Artifact-Created-At", meta.CreatedAt.UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, "application/octet-stream", blob)
}
