package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/qubelab/qube-monitor/internal/dto"
	"github.com/qubelab/qube-monitor/internal/models"
	"github.com/qubelab/qube-monitor/internal/service"
	"github.com/qubelab/qube-monitor/pkg/export"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
	"github.com/qubelab/qube-monitor/pkg/response"
	"github.com/qubelab/qube-monitor/pkg/storage"
)

// LogHandler exposes the activity log: filtered reads, filter toggles,
// clearing, and export.
type LogHandler struct {
	eventLog  *service.EventLog
	validator *validator.Validate
	exporter  *export.PDFExporter
	store     *storage.LocalStorage
}

// NewLogHandler constructs LogHandler. store may be nil when export
// persistence is disabled.
func NewLogHandler(eventLog *service.EventLog, validate *validator.Validate, exporter *export.PDFExporter, store *storage.LocalStorage) *LogHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &LogHandler{eventLog: eventLog, validator: validate, exporter: exporter, store: store}
}

// List returns the filtered display window plus per-category statistics.
func (h *LogHandler) List(c *gin.Context) {
	entries := h.eventLog.FilteredEntries()
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{
		"filters": h.eventLog.Filters(),
		"stats":   h.eventLog.Stats(),
	})
}

// SetFilter toggles one category's visibility.
func (h *LogHandler) SetFilter(c *gin.Context) {
	var req dto.LogFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter payload"))
		return
	}
	category := models.LogCategory(req.Category)
	if !category.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown log category"))
		return
	}
	h.eventLog.SetFilter(category, req.Enabled)
	response.JSON(c, http.StatusOK, h.eventLog.Filters())
}

// Clear empties the log.
func (h *LogHandler) Clear(c *gin.Context) {
	h.eventLog.Clear()
	response.NoContent(c)
}

// ExportText streams the full log as a plain-text attachment.
func (h *LogHandler) ExportText(c *gin.Context) {
	text := h.eventLog.Export()
	c.Header("Content-Disposition", `attachment; filename="qube-monitor-log.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ExportArtifact renders the full log to a stored artifact (txt or pdf).
func (h *LogHandler) ExportArtifact(c *gin.Context) {
	if h.store == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrConfiguration, "log export storage is disabled"))
		return
	}

	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	format := req.Format
	if format == "" {
		format = "txt"
	}

	var data []byte
	switch format {
	case "pdf":
		rendered, err := h.renderPDF()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render log export"))
			return
		}
		data = rendered
	default:
		data = []byte(h.eventLog.Export())
	}

	filename := fmt.Sprintf("log-%s.%s", uuid.NewString(), format)
	if _, err := h.store.Save(filename, data); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store log export"))
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"filename": filename})
}

func (h *LogHandler) renderPDF() ([]byte, error) {
	headers := []string{"Time", "Category", "Message"}
	var rows []map[string]string
	for _, entry := range h.eventLog.AllEntries() {
		rows = append(rows, map[string]string{
			"Time":     entry.Timestamp.Format("15:04:05"),
			"Category": string(entry.Category),
			"Message":  entry.Message,
		})
	}
	return h.exporter.Render(export.Dataset{Headers: headers, Rows: rows}, "Qube Monitor Activity Log")
}
