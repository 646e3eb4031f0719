package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/qubelab/qube-monitor/internal/dto"
	"github.com/qubelab/qube-monitor/internal/service"
	appErrors "github.com/qubelab/qube-monitor/pkg/errors"
	"github.com/qubelab/qube-monitor/pkg/response"
)

// LinkHandler exposes serial link operations.
type LinkHandler struct {
	supervisor *service.LinkSupervisor
	validator  *validator.Validate
}

// NewLinkHandler constructs LinkHandler.
func NewLinkHandler(supervisor *service.LinkSupervisor, validate *validator.Validate) *LinkHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &LinkHandler{supervisor: supervisor, validator: validate}
}

// Ports lists serial devices enumerated by the host.
func (h *LinkHandler) Ports(c *gin.Context) {
	ports, err := h.supervisor.ListPorts()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ports)
}

// Info returns the current connection snapshot.
func (h *LinkHandler) Info(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.supervisor.Info())
}

// Connect opens the requested port.
func (h *LinkHandler) Connect(c *gin.Context) {
	var req dto.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid connect payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid connect payload"))
		return
	}
	if err := h.supervisor.Connect(req.Port); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.supervisor.Info())
}

// Disconnect tears down the link. Always succeeds.
func (h *LinkHandler) Disconnect(c *gin.Context) {
	h.supervisor.Disconnect()
	response.JSON(c, http.StatusOK, h.supervisor.Info())
}

// Inject feeds a simulated line into the pipeline, bypassing the handle.
func (h *LinkHandler) Inject(c *gin.Context) {
	var req dto.InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid inject payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid inject payload"))
		return
	}
	h.supervisor.Inject(req.Line)
	response.NoContent(c)
}
