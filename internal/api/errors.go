package api

import (
	"errors"
	"net/http"

	"stockbridge/internal/apperr"
	"stockbridge/internal/dto/resp"
	"stockbridge/internal/scheduler"
	"stockbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, err error) {
	var validation *apperr.ValidationError
	var unsupported *apperr.UnsupportedDocTypeError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, resp.ErrorResp{Error: "validation failed", Problems: validation.Problems})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusUnprocessableEntity, resp.ErrorResp{Error: unsupported.Error()})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, resp.ErrorResp{Error: err.Error()})
	case errors.Is(err, scheduler.ErrBusy):
		c.JSON(http.StatusConflict, resp.ErrorResp{Error: err.Error()})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, resp.ErrorResp{Error: err.Error()})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, resp.ErrorResp{Error: msg})
}
