package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusconnect/ecsbridge/internal/metadata"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// MappingHandler serves the metadata mapping configuration.
type MappingHandler struct {
	mapper *metadata.Mapper
}

func NewMappingHandler(mapper *metadata.Mapper) *MappingHandler {
	return &MappingHandler{mapper: mapper}
}

// Get returns the active templates of both directions.
func (h *MappingHandler) Get(c *gin.Context) {
	importTemplates := make(map[string]string)
	for _, field := range metadata.LocalFields() {
		importTemplates[field] = h.mapper.ImportTemplate(field)
	}

	exportTemplates := make(map[string]string)
	for _, field := range metadata.RemoteFields() {
		exportTemplates[field] = h.mapper.ExportTemplate(field)
	}

	response.Success(c, http.StatusOK, gin.H{
		"import": importTemplates,
		"export": exportTemplates,
	})
}

type templateRequest struct {
	Template string `json:"template"`
}

func (h *MappingHandler) SetImport(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	if err := h.mapper.SetImportTemplate(c.Param("field"), req.Template); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"field": c.Param("field"), "template": req.Template})
}

func (h *MappingHandler) SetExport(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	if err := h.mapper.SetExportTemplate(c.Param("field"), req.Template); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"field": c.Param("field"), "template": req.Template})
}
