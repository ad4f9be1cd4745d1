package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuthMode selects how the connection client authenticates against one ECS server.
type AuthMode string

const (
	// AuthNone sends the shared participant secret in the X-EcsAuthId header.
	AuthNone AuthMode = "none"
	// AuthBasic uses HTTP basic authentication.
	AuthBasic AuthMode = "basic"
	// AuthCertificate presents a TLS client certificate.
	AuthCertificate AuthMode = "certificate"
)

// ECSServer holds the per-hub connection and import settings configured by an
// administrator. Servers are never removed automatically; only an explicit
// admin delete drops the row.
type ECSServer struct {
	BaseModel

	Name     string   `gorm:"not null" json:"name" validate:"required"`
	URL      string   `gorm:"not null" json:"url" validate:"required,url"`
	AuthMode AuthMode `gorm:"not null;default:none" json:"auth_mode" validate:"required,oneof=none basic certificate"`

	// Shared secret, required when AuthMode == AuthNone.
	EcsAuth string `json:"ecs_auth,omitempty"`

	// HTTP basic credentials, required when AuthMode == AuthBasic.
	HTTPUser string `json:"http_user,omitempty"`
	HTTPPass string `json:"-"`

	// Certificate material, required when AuthMode == AuthCertificate.
	CACertPath string `json:"ca_cert_path,omitempty"`
	CertPath   string `json:"cert_path,omitempty"`
	KeyPath    string `json:"key_path,omitempty"`
	KeyPass    string `json:"-"`

	// No column default on purpose: a default tag makes gorm omit false on
	// insert, which would silently re-enable a hub created disabled.
	Enabled          bool `gorm:"not null" json:"enabled"`
	PollIntervalSecs int  `gorm:"default:60" json:"poll_interval_secs" validate:"gte=0"`

	// Where imported course links land when no filter rule applies.
	ImportCategoryID int64 `json:"import_category_id"`

	// Serialized filter.Settings routing imports into categories.
	ImportFilter datatypes.JSON `json:"import_filter,omitempty"`

	ImportRole         string `json:"import_role"`
	ImportPeriodMonths int    `json:"import_period_months"`

	// Email addresses notified about new users, content and courses.
	NotifyUsers   datatypes.JSON `json:"notify_users,omitempty"`
	NotifyContent datatypes.JSON `json:"notify_content,omitempty"`
	NotifyCourses datatypes.JSON `json:"notify_courses,omitempty"`

	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
}

// PollInterval returns the configured polling cadence as a duration.
func (s *ECSServer) PollInterval() time.Duration {
	secs := s.PollIntervalSecs
	if secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}
