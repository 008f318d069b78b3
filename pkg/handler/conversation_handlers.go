// Conversation HTTP handlers
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robert1948/localstorm-sub001/pkg/models"
	"github.com/robert1948/localstorm-sub001/pkg/service"
)

// defaultOwnerID is used when a request carries no X-Owner-ID header. The
// engine is single-tenant by default but every row is owner-scoped so a
// fronting proxy can multiplex users onto one instance.
const defaultOwnerID = "local"

// ConversationHandler handles conversation-related HTTP requests
type ConversationHandler struct {
	conversations *service.ConversationService
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
	}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.POST("", h.CreateConversation)
		conversations.GET("", h.ListConversations)
		conversations.GET("/:id", h.GetConversation)
		conversations.PATCH("/:id", h.UpdateConversation)
		conversations.DELETE("/:id", h.DeleteConversation)

		// Messages and threads
		conversations.POST("/:id/messages", h.AppendMessage)
		conversations.GET("/:id/messages", h.GetMessages)
		conversations.GET("/:id/threads", h.GetThreads)
		conversations.POST("/:id/rethread", h.Rethread)

		// Derived data
		conversations.GET("/:id/summary", h.GetSummary)
		conversations.GET("/:id/analytics", h.GetAnalytics)
	}
}

// CreateConversation creates a conversation
// POST /api/conversations
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversations.Create(c.Request.Context(), ownerID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// ListConversations lists or searches conversations
// GET /api/conversations?q=...&status=...&type=...&tag=...&from=...&to=...&limit=...&offset=...
// The tag param may repeat; a conversation must carry every requested tag.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	filters := models.ConversationFilters{
		Status: c.Query("status"),
		Type:   c.Query("type"),
		Tags:   c.QueryArray("tag"),
	}
	var err error
	if filters.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp, expected RFC 3339"})
		return
	}
	if filters.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp, expected RFC 3339"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := h.conversations.List(c.Request.Context(), ownerID(c), c.Query("q"), filters, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetConversation returns one conversation
// GET /api/conversations/:id
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// UpdateConversation updates a conversation's title and/or status
// PATCH /api/conversations/:id
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	var req models.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversations.Update(c.Request.Context(), ownerID(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation deletes a conversation and all of its data
// DELETE /api/conversations/:id
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.conversations.Delete(c.Request.Context(), ownerID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AppendMessage appends a message to a conversation
// POST /api/conversations/:id/messages
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	var req models.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conversations.AppendMessage(c.Request.Context(), ownerID(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetMessages returns a page of messages in sequence order
// GET /api/conversations/:id/messages?limit=...&offset=...
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, hasMore, err := h.conversations.GetMessages(c.Request.Context(), ownerID(c), c.Param("id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "has_more": hasMore})
}

// GetThreads returns the conversation's threads, oldest first
// GET /api/conversations/:id/threads
func (h *ConversationHandler) GetThreads(c *gin.Context) {
	threads, err := h.conversations.GetThreads(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// Rethread recomputes the conversation's thread structure from scratch
// POST /api/conversations/:id/rethread
func (h *ConversationHandler) Rethread(c *gin.Context) {
	threads, err := h.conversations.Rethread(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// GetSummary returns the conversation's summary
// GET /api/conversations/:id/summary
func (h *ConversationHandler) GetSummary(c *gin.Context) {
	summary, err := h.conversations.Summary(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetAnalytics returns the conversation's analytics snapshot
// GET /api/conversations/:id/analytics
func (h *ConversationHandler) GetAnalytics(c *gin.Context) {
	snapshot, err := h.conversations.Analytics(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ============================================================================
// Helpers
// ============================================================================

func ownerID(c *gin.Context) string {
	if id := c.GetHeader("X-Owner-ID"); id != "" {
		return id
	}
	return defaultOwnerID
}

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case service.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
