package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qubelab/qube-monitor/internal/dto"
	"github.com/qubelab/qube-monitor/internal/models"
	"github.com/qubelab/qube-monitor/internal/service"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
	"github.com/qubelab/qube-monitor/pkg/response"
)

type rosterStore interface {
	Replace(ctx context.Context, entries []models.RosterEntry) error
}

// RosterHandler exposes allow-list management. The store is optional; when
// present, every accepted roster replacement is persisted.
type RosterHandler struct {
	aggregator *service.StatusAggregator
	store      rosterStore
	logger     *zap.Logger
}

// NewRosterHandler constructs RosterHandler. store may be nil.
func NewRosterHandler(aggregator *service.StatusAggregator, store rosterStore, logger *zap.Logger) *RosterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterHandler{aggregator: aggregator, store: store, logger: logger}
}

// Get returns the current allow-list.
func (h *RosterHandler) Get(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.aggregator.Roster())
}

// Update replaces the allow-list from a roster text block. Invalid lines are
// skipped and reported back; the rest of the roster still applies.
func (h *RosterHandler) Update(c *gin.Context) {
	var req dto.RosterUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid roster payload"))
		return
	}

	accepted, skipped := h.aggregator.UpdateAllowList(req.Roster)

	if h.store != nil {
		if err := h.store.Replace(c.Request.Context(), h.aggregator.Roster()); err != nil {
			// The in-memory roster already applied; persistence failure is
			// reported but does not undo the update.
			h.logger.Error("failed to persist roster", zap.Error(err))
		}
	}

	response.JSON(c, http.StatusOK, gin.H{
		"accepted": accepted,
		"skipped":  skipped,
	})
}
