package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qubelab/qube-monitor/internal/dto"
	"github.com/qubelab/qube-monitor/internal/service"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
	"github.com/qubelab/qube-monitor/pkg/response"
)

// BoardHandler exposes the teacher's board view and operator actions on it.
type BoardHandler struct {
	aggregator *service.StatusAggregator
}

// NewBoardHandler constructs BoardHandler.
func NewBoardHandler(aggregator *service.StatusAggregator) *BoardHandler {
	return &BoardHandler{aggregator: aggregator}
}

// View returns the priority-ordered board. Ordering and durations are
// recomputed on every read; waiting times move with the clock.
func (h *BoardHandler) View(c *gin.Context) {
	records := h.aggregator.SortedView()
	rows := make([]dto.BoardRow, 0, len(records))
	for _, record := range records {
		row := dto.BoardRow{StatusRecord: record}
		if duration, ok := h.aggregator.DurationOf(record.StudentID); ok {
			d := duration
			row.Duration = &d
		}
		rows = append(rows, row)
	}
	response.JSON(c, http.StatusOK, dto.BoardView{Rows: rows, Counts: h.aggregator.Counts()})
}

// Resolve marks a student's open request as handled by the teacher.
func (h *BoardHandler) Resolve(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student id"))
		return
	}
	if err := h.aggregator.Resolve(id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Clear drops all tracked statuses, keeping the roster.
func (h *BoardHandler) Clear(c *gin.Context) {
	h.aggregator.ClearStatuses()
	response.NoContent(c)
}
