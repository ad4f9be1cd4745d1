package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/services"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// ParticipantHandler serves the community membership endpoints.
type ParticipantHandler struct {
	participants *services.ParticipantService
}

func NewParticipantHandler(db *gorm.DB) (*ParticipantHandler, error) {
	participants, err := services.NewParticipantService(db)
	if err != nil {
		return nil, err
	}
	return &ParticipantHandler{participants: participants}, nil
}

func (h *ParticipantHandler) List(c *gin.Context) {
	participants, err := h.participants.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, participants)
}

type participantFlagsRequest struct {
	ExportEnabled bool   `json:"export_enabled"`
	ImportEnabled bool   `json:"import_enabled"`
	ImportType    string `json:"import_type"`
}

func (h *ParticipantHandler) UpdateFlags(c *gin.Context) {
	mid, err := strconv.Atoi(c.Param("mid"))
	if err != nil {
		response.Error(c, appErrors.NewValidation("mid", "member id must be numeric"))
		return
	}

	var req participantFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}
	if req.ImportType == "" {
		req.ImportType = string(models.ImportLink)
	}

	err = h.participants.UpdateFlags(c.Request.Context(), c.Param("id"), mid,
		req.ExportEnabled, req.ImportEnabled, models.ImportType(req.ImportType))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
