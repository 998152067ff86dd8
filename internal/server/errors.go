package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/ingest"
	"github.com/joseph-ayodele/recetas-tracker/internal/services/recetas"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrMailboxNotConnected):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrScanInProgress), errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, recetas.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func messageFor(err error, status int) string {
	switch {
	case errors.Is(err, ingest.ErrAuthExpired):
		return ingest.AuthExpiredMessage
	case errors.Is(err, common.ErrMailboxNotConnected):
		return "Gmail no está conectado"
	case errors.Is(err, ingest.ErrScanInProgress):
		return "ya hay un escaneo en curso"
	case errors.Is(err, common.ErrConflict):
		return "la receta fue modificada, recargá e intentá de nuevo"
	case errors.Is(err, common.ErrNotFound):
		return "receta no encontrada"
	}
	if status >= http.StatusInternalServerError {
		return "error interno"
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": messageFor(err, status)})
}
