package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/application/service"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	agents service.AgentService
	queue  port.JobQueue
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(agents service.AgentService, queue port.JobQueue, logger Logger) *Handlers {
	return &Handlers{
		agents: agents,
		queue:  queue,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// IngestRequest is the body of POST /api/v1/events
type IngestRequest struct {
	Source         string                 `json:"source"`
	Type           string                 `json:"type" binding:"required"`
	OrgID          string                 `json:"org_id" binding:"required"`
	RawContent     string                 `json:"raw_content"`
	StructuredData map[string]interface{} `json:"structured_data"`
	Metadata       map[string]string      `json:"metadata"`
	CorrelationID  string                 `json:"correlation_id"`
}

// IngestResponse acknowledges a queued input
type IngestResponse struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// IngestEvent handles POST /api/v1/events. The input is queued, not
// processed inline; the correlation id in the response is the handle
// for finding the resulting decision.
func (h *Handlers) IngestEvent(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	source := agent.SourceAPI
	if req.Source != "" {
		source = agent.Source(strings.ToUpper(req.Source))
		if !source.IsValid() {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "invalid source: " + req.Source,
			})
			return
		}
	}

	h.enqueueInput(c, &agent.Input{
		Source:         source,
		Type:           req.Type,
		RawContent:     req.RawContent,
		StructuredData: req.StructuredData,
		Metadata:       req.Metadata,
		Timestamp:      time.Now(),
		CorrelationID:  req.CorrelationID,
	}, req.OrgID)
}

// IngestWebhook handles POST /webhook/:source. The raw body is carried
// as-is; parsing belongs to the decision engine, not the ingress.
func (h *Handlers) IngestWebhook(c *gin.Context) {
	source := agent.Source(strings.ToUpper(c.Param("source")))
	if !source.IsValid() {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "unknown webhook source: " + c.Param("source"),
		})
		return
	}

	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "org_id query parameter is required",
		})
		return
	}

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Error("Invalid webhook body", "source", string(source), "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid JSON body",
		})
		return
	}

	eventType, _ := body["type"].(string)
	if eventType == "" {
		eventType = "webhook"
	}

	h.enqueueInput(c, &agent.Input{
		Source:         source,
		Type:           eventType,
		StructuredData: body,
		Timestamp:      time.Now(),
	}, orgID)
}

// GetDecision handles GET /api/v1/decisions/:id
func (h *Handlers) GetDecision(c *gin.Context) {
	decision, err := h.agents.GetDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    decision,
	})
}

// ApproveDecision handles POST /api/v1/decisions/:id/approve
func (h *Handlers) ApproveDecision(c *gin.Context) {
	outcome, err := h.agents.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Approval failed", "decision_id", c.Param("id"), "error", err)
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    outcome,
	})
}

// enqueueInput queues one input for background processing and answers 202
func (h *Handlers) enqueueInput(c *gin.Context, input *agent.Input, orgID string) {
	if input.CorrelationID == "" {
		input.CorrelationID = uuid.NewString()
	}

	payload, err := json.Marshal(map[string]interface{}{
		"input":  input,
		"org_id": orgID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to encode input",
		})
		return
	}

	jobID, err := h.queue.Enqueue(c.Request.Context(), port.JobProcessInput, string(payload), port.EnqueueOptions{})
	if err != nil {
		h.logger.Error("Failed to enqueue input", "error", err)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to queue input",
		})
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data: IngestResponse{
			JobID:         jobID,
			CorrelationID: input.CorrelationID,
		},
	})
}
