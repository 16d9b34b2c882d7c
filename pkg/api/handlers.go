package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/earchibald/komorebi-sub001/pkg/bulkops"
	"github.com/earchibald/komorebi-sub001/pkg/capture"
	"github.com/earchibald/komorebi-sub001/pkg/mcp"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/queue"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

// captureRequest is the JSON body for POST /chunks.
type captureRequest struct {
	Content   string   `json:"content"`
	ProjectID *string  `json:"project_id"`
	Tags      []string `json:"tags"`
	Source    *string  `json:"source"`
	TraceID   *string  `json:"trace_id"`
}

func (h *handlers) captureChunk(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chunk, err := h.deps.Capture.Capture(c.Request.Context(), models.ChunkDraft{
		Content:   req.Content,
		ProjectID: req.ProjectID,
		Tags:      req.Tags,
		Source:    req.Source,
		TraceID:   req.TraceID,
	})
	if err != nil {
		writeCaptureError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, chunk)
}

func writeCaptureError(c *gin.Context, err error) {
	var ve *capture.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, queue.ErrQueueFull):
		// Retryable backpressure signal per spec.md §4.3/§7, not a server fault.
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *handlers) getChunk(c *gin.Context) {
	chunk, err := h.deps.Repo.GetChunk(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, chunk)
}

func (h *handlers) relatedChunks(c *gin.Context) {
	topK := 5
	if v := c.Query("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}

	related, err := h.deps.Finder.FindRelated(c.Request.Context(), c.Param("id"), topK)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": related})
}

func (h *handlers) listChunks(c *gin.Context) {
	limit, offset := pagination(c)
	filter := chunkFilterFromQuery(c)

	chunks, total, err := h.deps.Repo.ListChunks(c.Request.Context(), filter, limit, offset)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": chunks, "total": total})
}

func (h *handlers) searchChunks(c *gin.Context) {
	limit, offset := pagination(c)
	filter := chunkFilterFromQuery(c)
	filter.Query = c.Query("q")

	chunks, total, err := h.deps.Repo.SearchChunks(c.Request.Context(), filter, limit, offset)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": chunks, "total": total})
}

func chunkFilterFromQuery(c *gin.Context) models.ChunkFilter {
	var filter models.ChunkFilter
	if s := c.Query("status"); s != "" {
		status := models.ChunkStatus(s)
		filter.Status = &status
	}
	if p := c.Query("project_id"); p != "" {
		filter.ProjectID = &p
	}
	if t := c.Query("entity_type"); t != "" {
		et := models.EntityType(t)
		filter.EntityType = &et
	}
	if v := c.Query("entity_value"); v != "" {
		filter.EntityValue = &v
	}
	return filter
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handlers) createProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.deps.Repo.CreateProject(c.Request.Context(), models.ProjectDraft{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *handlers) getProject(c *gin.Context) {
	project, err := h.deps.Repo.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *handlers) listProjects(c *gin.Context) {
	limit, offset := pagination(c)
	projects, err := h.deps.Repo.ListProjects(c.Request.Context(), limit, offset)
	if err != nil {
		writeStorageError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func writeStorageError(c *gin.Context, err error) {
	var nf *storage.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.Is(err, storage.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type bulkRequest struct {
	Filter models.ChunkFilter `json:"filter"`
	Tags   []string            `json:"tags"`
}

func (h *handlers) bulkTag(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action, err := h.deps.Bulk.Tag(c.Request.Context(), req.Filter, req.Tags)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *handlers) bulkArchive(c *gin.Context) { h.bulkFilterOnly(c, h.deps.Bulk.Archive) }
func (h *handlers) bulkDelete(c *gin.Context)  { h.bulkFilterOnly(c, h.deps.Bulk.Delete) }
func (h *handlers) bulkRestore(c *gin.Context) { h.bulkFilterOnly(c, h.deps.Bulk.Restore) }

func (h *handlers) bulkFilterOnly(c *gin.Context, op func(context.Context, models.ChunkFilter) (*models.BulkAction, error)) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	action, err := op(c.Request.Context(), req.Filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *handlers) bulkUndo(c *gin.Context) {
	err := h.deps.Bulk.Undo(c.Request.Context(), c.Param("action_id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, bulkops.ErrUndoWindowExpired), errors.Is(err, bulkops.ErrAlreadyUndone):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *handlers) listTools(c *gin.Context) {
	tools, err := h.deps.MCP.ListTools(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tools)
}

type callToolRequest struct {
	Args      map[string]any `json:"args"`
	Capture   bool           `json:"capture"`
	ProjectID *string        `json:"project_id"`
	Tags      []string       `json:"tags"`
}

func (h *handlers) callTool(c *gin.Context) {
	var req callToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, chunk, err := h.deps.MCP.CallTool(c.Request.Context(), c.Param("server"), c.Param("tool"), req.Args, mcp.CallToolOptions{
		Capture:   req.Capture,
		ProjectID: req.ProjectID,
		Tags:      req.Tags,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "chunk": chunk})
}

func (h *handlers) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbErr := h.deps.Repo.Ping(ctx)
	llmUp := h.deps.LLM != nil && h.deps.LLM.Available(ctx)

	mcpHealthy := true
	var mcpStatuses any
	if h.deps.Health != nil {
		mcpHealthy = h.deps.Health.AllHealthy()
		mcpStatuses = h.deps.Health.GetStatuses()
	}

	status := http.StatusOK
	if dbErr != nil {
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"database_reachable": dbErr == nil,
		"llm_available":      llmUp,
		"mcp_healthy":        mcpHealthy,
		"mcp_servers":        mcpStatuses,
	}
	if h.deps.QueuePool != nil {
		body["queue"] = h.deps.QueuePool.Health()
	}
	if dbErr != nil {
		body["database_error"] = dbErr.Error()
	}

	c.JSON(status, body)
}
