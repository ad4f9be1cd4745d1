package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/worker"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// DirectoryHandler serves the directory tree mapping endpoints.
type DirectoryHandler struct {
	db     *gorm.DB
	poller *worker.Poller
}

func NewDirectoryHandler(db *gorm.DB, poller *worker.Poller) (*DirectoryHandler, error) {
	return &DirectoryHandler{db: db, poller: poller}, nil
}

func (h *DirectoryHandler) ListTrees(c *gin.Context) {
	trees, err := h.poller.Importer().Directories().ListTrees(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, trees)
}

func (h *DirectoryHandler) GetTree(c *gin.Context) {
	rootID, err := parseInt64Param(c, "root")
	if err != nil {
		response.Error(c, err)
		return
	}

	directories := h.poller.Importer().Directories()
	tree, err := directories.GetTree(c.Request.Context(), c.Param("id"), rootID)
	if err != nil {
		response.Error(c, err)
		return
	}
	nodes, err := directories.ListDirectories(c.Request.Context(), c.Param("id"), rootID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"tree": tree, "directories": nodes})
}

type treeModeRequest struct {
	Mode             string `json:"mode"`
	ParentCategoryID int64  `json:"parent_category_id"`
}

func (h *DirectoryHandler) SetMode(c *gin.Context) {
	rootID, err := parseInt64Param(c, "root")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req treeModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	tree, err := h.poller.Importer().Directories().SetMode(
		c.Request.Context(), c.Param("id"), rootID,
		models.DirectoryMode(req.Mode), req.ParentCategoryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tree)
}

type directoryMapRequest struct {
	CategoryID int64 `json:"category_id"`
}

func (h *DirectoryHandler) MapDirectory(c *gin.Context) {
	rootID, err := parseInt64Param(c, "root")
	if err != nil {
		response.Error(c, err)
		return
	}
	dirID, err := parseInt64Param(c, "dir")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req directoryMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	err = h.poller.Importer().Directories().MapDirectory(
		c.Request.Context(), c.Param("id"), rootID, dirID, req.CategoryID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"mapped": true})
}

func parseInt64Param(c *gin.Context, name string) (int64, error) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, appErrors.NewValidation(name, "must be numeric")
	}
	return value, nil
}
