package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/filter"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/services"
	"github.com/campusconnect/ecsbridge/internal/worker"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/response"
)

// ServerHandler serves the ECS server settings endpoints.
type ServerHandler struct {
	db       *gorm.DB
	settings *services.SettingsService
	poller   *worker.Poller
}

func NewServerHandler(db *gorm.DB, poller *worker.Poller) (*ServerHandler, error) {
	settings, err := services.NewSettingsService(db)
	if err != nil {
		return nil, err
	}
	return &ServerHandler{db: db, settings: settings, poller: poller}, nil
}

type serverRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	AuthMode string `json:"auth_mode"`

	EcsAuth  string `json:"ecs_auth"`
	HTTPUser string `json:"http_user"`
	HTTPPass string `json:"http_pass"`

	CACertPath string `json:"ca_cert_path"`
	CertPath   string `json:"cert_path"`
	KeyPath    string `json:"key_path"`
	KeyPass    string `json:"key_pass"`

	Enabled          *bool `json:"enabled"`
	PollIntervalSecs int   `json:"poll_interval_secs"`
	ImportCategoryID int64 `json:"import_category_id"`

	ImportRole         string `json:"import_role"`
	ImportPeriodMonths int    `json:"import_period_months"`
}

func (r serverRequest) apply(server *models.ECSServer) {
	server.Name = r.Name
	server.URL = r.URL
	server.AuthMode = models.AuthMode(r.AuthMode)
	server.EcsAuth = r.EcsAuth
	server.HTTPUser = r.HTTPUser
	if r.HTTPPass != "" {
		server.HTTPPass = r.HTTPPass
	}
	server.CACertPath = r.CACertPath
	server.CertPath = r.CertPath
	server.KeyPath = r.KeyPath
	if r.KeyPass != "" {
		server.KeyPass = r.KeyPass
	}
	if r.Enabled != nil {
		server.Enabled = *r.Enabled
	}
	if r.PollIntervalSecs != 0 {
		server.PollIntervalSecs = r.PollIntervalSecs
	}
	server.ImportCategoryID = r.ImportCategoryID
	server.ImportRole = r.ImportRole
	server.ImportPeriodMonths = r.ImportPeriodMonths
}

func (h *ServerHandler) List(c *gin.Context) {
	servers, err := h.settings.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, servers)
}

func (h *ServerHandler) Get(c *gin.Context) {
	server, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, server)
}

func (h *ServerHandler) Create(c *gin.Context) {
	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	server := &models.ECSServer{Enabled: true, PollIntervalSecs: 60}
	req.apply(server)

	if err := h.settings.Create(c.Request.Context(), server); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.poller.Reschedule(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, server)
}

func (h *ServerHandler) Update(c *gin.Context) {
	server, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var req serverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}
	req.apply(server)

	if err := h.settings.Update(c.Request.Context(), server); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.poller.Reschedule(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, server)
}

func (h *ServerHandler) Delete(c *gin.Context) {
	if err := h.settings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.poller.Reschedule(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// Sync triggers one synchronous pass against a single server.
func (h *ServerHandler) Sync(c *gin.Context) {
	id := c.Param("id")
	if err := h.poller.SyncServer(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"synced": true})
}

func (h *ServerHandler) GetFilter(c *gin.Context) {
	server, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	settings, err := filter.LoadSettings(server)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

func (h *ServerHandler) SetFilter(c *gin.Context) {
	server, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var settings filter.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.Error(c, appErrors.ErrBadRequest.WithInternal(err))
		return
	}

	if err := filter.SaveSettings(h.db.WithContext(c.Request.Context()), server, settings); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
