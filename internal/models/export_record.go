package models

import "gorm.io/datatypes"

// ExportRecord tracks one local course shared through one ECS server.
// ResourceID is the remote resource id assigned at first publish; 0 means
// the course is flagged for export but nothing is currently on the server.
// LastParticipants stores the recipient MIDs of the previous publish so the
// publisher can diff against the current participant flags.
type ExportRecord struct {
	BaseModel

	ServerID         string         `gorm:"not null;uniqueIndex:idx_export_course" json:"server_id"`
	CourseID         int64          `gorm:"not null;uniqueIndex:idx_export_course" json:"course_id"`
	ResourceID       int64          `json:"resource_id"`
	LastParticipants datatypes.JSON `json:"last_participants,omitempty"`
}
