package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/assistant-relay/backend/internal/engine"
	"github.com/assistant-relay/backend/internal/model"
)

// ThreadStore is the thread side of the catalog.
type ThreadStore interface {
	Create(ctx context.Context, id string) (*model.Thread, error)
	GetByID(ctx context.Context, id string) (*model.Thread, error)
	List(ctx context.Context, page model.Page) ([]*model.Thread, error)
}

// AssistantStore is the assistant side of the catalog.
type AssistantStore interface {
	Create(ctx context.Context, id string) (*model.Assistant, error)
	List(ctx context.Context, page model.Page) ([]*model.Assistant, error)
}

// CatalogHandler handles HTTP requests for the thread and assistant catalog.
type CatalogHandler struct {
	threads     ThreadStore
	assistants  AssistantStore
	provisioner engine.Provisioner
	defaults    engine.AssistantSpec
	logger      *slog.Logger
}

// NewCatalogHandler creates a new CatalogHandler. defaults fills in fields
// missing from assistant creation requests.
func NewCatalogHandler(threads ThreadStore, assistants AssistantStore, provisioner engine.Provisioner, defaults engine.AssistantSpec, logger *slog.Logger) *CatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogHandler{
		threads:     threads,
		assistants:  assistants,
		provisioner: provisioner,
		defaults:    defaults,
		logger:      logger.With("component", "catalog_api"),
	}
}

// ThreadResponse represents a thread in API responses.
type ThreadResponse struct {
	ID        string `json:"openaiThreadId"`
	CreatedAt string `json:"createdAt"`
}

// AssistantResponse represents an assistant in API responses.
type AssistantResponse struct {
	ID        string `json:"openaiAssistantId"`
	CreatedAt string `json:"createdAt"`
}

func toThreadResponse(t *model.Thread) *ThreadResponse {
	return &ThreadResponse{ID: t.ID, CreatedAt: t.CreatedAt.Format(time.RFC3339)}
}

func toAssistantResponse(a *model.Assistant) *AssistantResponse {
	return &AssistantResponse{ID: a.ID, CreatedAt: a.CreatedAt.Format(time.RFC3339)}
}

// parsePage reads the limit and offset query parameters.
func parsePage(c *gin.Context) (model.Page, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(model.DefaultPageLimit)))
	if err != nil || limit < 1 || limit > model.MaxPageLimit {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and "+strconv.Itoa(model.MaxPageLimit))
		return model.Page{}, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be a non-negative integer")
		return model.Page{}, false
	}
	return model.Page{Limit: limit, Offset: offset}, true
}

// sendEngineError maps an engine failure to a response.
func (h *CatalogHandler) sendEngineError(c *gin.Context, op string, err error) {
	h.logger.Warn("engine request failed", "op", op, "error", err)
	if errors.Is(err, engine.ErrEngineUnavailable) {
		sendError(c, http.StatusBadGateway, "ENGINE_UNAVAILABLE", "Assistant engine unavailable")
		return
	}
	sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+op+": "+err.Error())
}

// ListThreads handles GET /api/threads.
func (h *CatalogHandler) ListThreads(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}

	threads, err := h.threads.List(c.Request.Context(), page)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list threads: "+err.Error())
		return
	}

	response := make([]*ThreadResponse, len(threads))
	for i, t := range threads {
		response[i] = toThreadResponse(t)
	}
	c.JSON(http.StatusOK, response)
}

// CreateThread handles POST /api/threads - creates a thread at the engine
// and records it.
func (h *CatalogHandler) CreateThread(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := h.provisioner.CreateThread(ctx)
	if err != nil {
		h.sendEngineError(c, "create thread", err)
		return
	}

	thread, err := h.threads.Create(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			sendError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store thread: "+err.Error())
		return
	}

	h.logger.Info("thread created", "thread_id", thread.ID)
	c.JSON(http.StatusCreated, toThreadResponse(thread))
}

// GetThread handles GET /api/threads/:id.
func (h *CatalogHandler) GetThread(c *gin.Context) {
	id := c.Param("id")

	thread, err := h.threads.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrThreadNotFound) {
			sendError(c, http.StatusNotFound, "THREAD_NOT_FOUND", "Thread "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get thread: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, toThreadResponse(thread))
}

// ListAssistants handles GET /api/assistants.
func (h *CatalogHandler) ListAssistants(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}

	assistants, err := h.assistants.List(c.Request.Context(), page)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list assistants: "+err.Error())
		return
	}

	response := make([]*AssistantResponse, len(assistants))
	for i, a := range assistants {
		response[i] = toAssistantResponse(a)
	}
	c.JSON(http.StatusOK, response)
}

// CreateAssistant handles POST /api/assistants. With an assistantId in the
// body the existing assistant is registered; otherwise one is created at
// the engine. The body is optional.
func (h *CatalogHandler) CreateAssistant(c *gin.Context) {
	var req model.CreateAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	id := req.AssistantID
	if id == "" {
		spec := h.defaults
		if req.Name != "" {
			spec.Name = req.Name
		}
		if req.Instructions != "" {
			spec.Instructions = req.Instructions
		}
		if req.Model != "" {
			spec.Model = req.Model
		}

		var err error
		id, err = h.provisioner.CreateAssistant(ctx, spec)
		if err != nil {
			h.sendEngineError(c, "create assistant", err)
			return
		}
	}

	assistant, err := h.assistants.Create(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			sendError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store assistant: "+err.Error())
		return
	}

	h.logger.Info("assistant registered", "assistant_id", assistant.ID)
	c.JSON(http.StatusCreated, toAssistantResponse(assistant))
}

// RegisterRoutes registers the catalog routes on a Gin router group.
func (h *CatalogHandler) RegisterRoutes(rg *gin.RouterGroup) {
	threads := rg.Group("/threads")
	{
		threads.GET("", h.ListThreads)
		threads.POST("", h.CreateThread)
		threads.GET("/:id", h.GetThread)
	}

	assistants := rg.Group("/assistants")
	{
		assistants.GET("", h.ListAssistants)
		assistants.POST("", h.CreateAssistant)
	}
}
