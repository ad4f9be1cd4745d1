package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusconnect/ecsbridge/internal/export"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// ExportHandler serves the course export flag endpoints.
type ExportHandler struct {
	publisher *export.Publisher
}

func NewExportHandler(publisher *export.Publisher) *ExportHandler {
	return &ExportHandler{publisher: publisher}
}

func (h *ExportHandler) List(c *gin.Context) {
	records, err := h.publisher.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}

type exportFlagRequest struct {
	CourseID int64 `json:"course_id"`
}

func (h *ExportHandler) Flag(c *gin.Context) {
	var req exportFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}
	if req.CourseID == 0 {
		response.Error(c, appErrors.NewValidation("course_id", "course id is required"))
		return
	}

	if err := h.publisher.Flag(c.Request.Context(), c.Param("id"), req.CourseID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"flagged": true})
}
