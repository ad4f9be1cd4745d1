package database

import (
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ECSServer{},
		&models.Participant{},
		&models.EventRecord{},
		&models.CourseRecord{},
		&models.ParallelGroupRecord{},
		&models.DirectoryTreeRecord{},
		&models.DirectoryRecord{},
		&models.ExportRecord{},
		&models.MappingSetting{},
	)
}
