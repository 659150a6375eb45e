package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	v1 "stockbridge/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type DocumentProvider interface {
	Create(ctx context.Context, raw map[string]any) (*v1.DocumentCreated, error)
	Audits(ctx context.Context, documentID int64) ([]v1.Audit, error)
}

type PayloadPreviewer interface {
	Preview(ctx context.Context, documentID int64) (*v1.PayloadPreview, error)
}

type DocumentHandler struct {
	docs    DocumentProvider
	preview PayloadPreviewer
}

func NewDocumentHandler(docs DocumentProvider, preview PayloadPreviewer) *DocumentHandler {
	return &DocumentHandler{docs: docs, preview: preview}
}

// CreateDocument accepts a stock movement from the ledger and queues it.
// Numbers are kept as written so quantities never pass through float64.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var raw map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		badRequest(c, "JSON format error")
		return
	}

	created, err := h.docs.Create(c.Request.Context(), raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *DocumentHandler) PreviewPayload(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	preview, err := h.preview.Preview(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *DocumentHandler) GetAudits(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	audits, err := h.docs.Audits(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": audits})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}
