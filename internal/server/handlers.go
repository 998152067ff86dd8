package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/ingest"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
	"github.com/joseph-ayodele/recetas-tracker/internal/services/recetas"
)

const (
	dateLayout    = "2006-01-02"
	xlsxMimeType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	healthTimeout = 2 * time.Second
)

// base64 inflates by 4/3; the rest is room for the JSON envelope.
const maxJSONUploadBytes = constants.MaxUploadBytes/3*4 + 8<<10

// scanResponse is a RunResult; Partial marks a run cut short by its timeout.
type scanResponse struct {
	ingest.RunResult
	Partial bool `json:"partial,omitempty"`
}

type uploadRequest struct {
	FileName   string `json:"fileName"`
	FileBase64 string `json:"fileBase64"`
}

type correctionRequest struct {
	Version   int      `json:"version"`
	Physician *string  `json:"physician"`
	Specialty *string  `json:"specialty"`
	IssuedOn  *string  `json:"issued_on"`
	Diagnosis *string  `json:"diagnosis"`
	Studies   []string `json:"studies"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Health.HealthCheck(c.Request.Context(), healthTimeout); err != nil {
		s.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleScan(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	after, err := dateQuery(c, "after")
	if err != nil {
		s.renderError(c, err)
		return
	}
	res, err := s.deps.Scanner.Run(c.Request.Context(), userID, ingest.RunOptions{After: after})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusOK, scanResponse{RunResult: res, Partial: true})
	case err != nil:
		s.renderError(c, err)
	default:
		c.JSON(http.StatusOK, scanResponse{RunResult: res})
	}
}

func (s *Server) handleUpload(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	name, data, err := s.readUpload(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	rec, err := s.deps.Recetas.Upload(c.Request.Context(), userID, name, data)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// readUpload accepts a multipart "file" field or a JSON {fileName, fileBase64} body.
func (s *Server) readUpload(c *gin.Context) (string, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return "", nil, common.NewAppError("INVALID_FILE", "falta el archivo", common.ErrInvalidInput)
		}
		if fh.Size > constants.MaxUploadBytes {
			return "", nil, recetas.ErrFileTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return "", nil, common.WrapError(err, "open upload")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, constants.MaxUploadBytes+1))
		if err != nil {
			return "", nil, common.WrapError(err, "read upload")
		}
		return fh.Filename, data, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONUploadBytes)
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, recetas.ErrFileTooLarge
		}
		return "", nil, common.NewAppError("INVALID_BODY", "cuerpo JSON inválido", common.ErrInvalidInput)
	}
	// data URLs are accepted as well as bare base64
	payload := req.FileBase64
	if i := strings.Index(payload, ","); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, common.NewAppError("INVALID_FILE", "fileBase64 no es base64 válido", common.ErrInvalidInput)
	}
	return req.FileName, data, nil
}

func (s *Server) handleList(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	from, to, err := dateRange(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	recs, err := s.deps.Recetas.List(c.Request.Context(), userID, from, to)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recetas": recs})
}

func (s *Server) handleGet(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	id, err := idParam(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	rec, err := s.deps.Recetas.Get(c.Request.Context(), userID, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCorrect(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	id, err := idParam(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, common.NewAppError("INVALID_BODY", "cuerpo JSON inválido", common.ErrInvalidInput))
		return
	}
	rec, err := s.deps.Recetas.Correct(c.Request.Context(), userID, id, req.Version, repository.Correction{
		Physician: req.Physician,
		Specialty: req.Specialty,
		IssuedOn:  req.IssuedOn,
		Diagnosis: req.Diagnosis,
		Studies:   req.Studies,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleExport(c *gin.Context) {
	userID, _ := UserIDFromContext(c)
	from, to, err := dateRange(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	data, err := s.deps.Exporter.ExportPrescriptionsXLSX(c.Request.Context(), userID, from, to)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="recetas.xlsx"`)
	c.Data(http.StatusOK, xlsxMimeType, data)
}

func idParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, common.NewAppError("INVALID_ID", "id inválido", common.ErrInvalidInput)
	}
	return id, nil
}

func dateRange(c *gin.Context) (from, to *time.Time, err error) {
	if from, err = dateQuery(c, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = dateQuery(c, "to"); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, common.NewAppError("INVALID_DATE", "to es anterior a from", common.ErrInvalidInput)
	}
	return from, to, nil
}

func dateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, common.NewAppError("INVALID_DATE", key+" debe tener formato YYYY-MM-DD", common.ErrInvalidInput)
	}
	return &t, nil
}
