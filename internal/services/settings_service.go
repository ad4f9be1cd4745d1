// Package services contains the database-backed application services gluing
// the connection client, the receive queue and the import/export pipelines
// together.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/validator"
)

// SettingsService manages the configured ECS server rows.
type SettingsService struct {
	db *gorm.DB
}

func NewSettingsService(db *gorm.DB) (*SettingsService, error) {
	if db == nil {
		return nil, fmt.Errorf("settings service: db is nil")
	}
	return &SettingsService{db: db}, nil
}

// List returns all configured servers, enabled or not.
func (s *SettingsService) List(ctx context.Context) ([]models.ECSServer, error) {
	var servers []models.ECSServer
	if err := s.db.WithContext(ctx).Order("name").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("settings service: list servers: %w", err)
	}
	return servers, nil
}

// ListEnabled returns only the servers participating in polling.
func (s *SettingsService) ListEnabled(ctx context.Context) ([]models.ECSServer, error) {
	var servers []models.ECSServer
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("name").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("settings service: list enabled servers: %w", err)
	}
	return servers, nil
}

// Get loads one server by id.
func (s *SettingsService) Get(ctx context.Context, id string) (*models.ECSServer, error) {
	var server models.ECSServer
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NewNotFound(fmt.Sprintf("ecs server %s does not exist", id))
		}
		return nil, fmt.Errorf("settings service: load server: %w", err)
	}
	return &server, nil
}

// Create validates and stores a new server row.
func (s *SettingsService) Create(ctx context.Context, server *models.ECSServer) error {
	if err := validateServer(server); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(server).Error; err != nil {
		return fmt.Errorf("settings service: create server: %w", err)
	}
	return nil
}

// Update validates and replaces a stored server row.
func (s *SettingsService) Update(ctx context.Context, server *models.ECSServer) error {
	if err := validateServer(server); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(server).Error; err != nil {
		return fmt.Errorf("settings service: update server: %w", err)
	}
	return nil
}

// Delete removes a server row. Synchronized records of the server stay
// behind; dropping them is an explicit admin cleanup, never a side effect.
func (s *SettingsService) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.ECSServer{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("settings service: delete server: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return appErrors.NewNotFound(fmt.Sprintf("ecs server %s does not exist", id))
	}
	return nil
}

// TouchPolled stamps the server row after a completed poll run.
func (s *SettingsService) TouchPolled(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.ECSServer{}).
		Where("id = ?", id).
		Update("last_poll_at", at).Error
	if err != nil {
		return fmt.Errorf("settings service: touch poll timestamp: %w", err)
	}
	return nil
}

// Connect builds an authenticated client for the given server.
func (s *SettingsService) Connect(server *models.ECSServer) (*ecs.Client, error) {
	return ecs.Connect(ecs.SettingsFromServer(server))
}

func validateServer(server *models.ECSServer) error {
	if strings.TrimSpace(server.Name) == "" {
		return appErrors.NewValidation("name", "server name must not be empty")
	}

	if err := validator.ValidateStruct(server); err != nil {
		var failures validator.ValidationErrors
		if errors.As(err, &failures) {
			first := failures.First()
			return appErrors.NewValidation(first.Field, first.Error())
		}
		return fmt.Errorf("settings service: validate server: %w", err)
	}

	parsed, err := url.Parse(server.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return appErrors.NewValidation("url", "server url must be absolute")
	}

	// Which credentials are mandatory depends on the auth mode; tag rules
	// cannot express the cross-field requirement.
	switch server.AuthMode {
	case models.AuthNone:
		if server.EcsAuth == "" {
			return appErrors.NewValidation("ecs_auth", "auth mode none requires the shared secret")
		}
	case models.AuthBasic:
		if server.HTTPUser == "" || server.HTTPPass == "" {
			return appErrors.NewValidation("http_user", "auth mode basic requires username and password")
		}
	case models.AuthCertificate:
		if server.CertPath == "" || server.KeyPath == "" {
			return appErrors.NewValidation("cert_path", "auth mode certificate requires certificate and key paths")
		}
	}
	return nil
}
