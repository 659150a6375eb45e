package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"stockbridge/internal/apperr"
	"stockbridge/internal/dto/req"
	v1 "stockbridge/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type IntegrationProvider interface {
	Dispatch(ctx context.Context, limit int) (*v1.DispatchResult, error)
	Requeue(ctx context.Context, queueID int64) error
	SyncPurchaseOrders(ctx context.Context) (*v1.SyncResult, error)
	Cursor(ctx context.Context, key string) (*v1.Cursor, error)
	ResetCursor(ctx context.Context, key string, ts *time.Time) error
}

type IntegrationHandler struct {
	service IntegrationProvider
}

func NewIntegrationHandler(service IntegrationProvider) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// Dispatch runs one outbound batch. ?limit overrides the batch size.
func (h *IntegrationHandler) Dispatch(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	result, err := h.service.Dispatch(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *IntegrationHandler) Requeue(c *gin.Context) {
	var r req.RequeueRequest
	if err := c.ShouldBindUri(&r); err != nil || r.ID <= 0 {
		badRequest(c, "invalid id")
		return
	}
	if err := h.service.Requeue(c.Request.Context(), r.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": r.ID, "status": "PENDING"})
}

func (h *IntegrationHandler) SyncPurchaseOrders(c *gin.Context) {
	result, err := h.service.SyncPurchaseOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *IntegrationHandler) GetCursor(c *gin.Context) {
	cursor, err := h.service.Cursor(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cursor)
}

// ResetCursor sets the watermark to body.ts, or drops it when ts is empty.
func (h *IntegrationHandler) ResetCursor(c *gin.Context) {
	var r req.CursorResetRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&r); err != nil {
			badRequest(c, "JSON format error")
			return
		}
	}

	var ts *time.Time
	if r.TS != "" {
		parsed, err := time.Parse(time.RFC3339Nano, r.TS)
		if err != nil {
			writeError(c, apperr.NewValidation("ts must be RFC3339"))
			return
		}
		ts = &parsed
	}

	key := c.Param("key")
	if err := h.service.ResetCursor(c.Request.Context(), key, ts); err != nil {
		writeError(c, err)
		return
	}
	cursor, err := h.service.Cursor(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cursor)
}
