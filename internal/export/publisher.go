// Package export pushes locally flagged courses to the ECS server, diffing
// the recipient set against the last publish.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/metadata"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	"github.com/campusconnect/ecsbridge/internal/services"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/logger"
	"github.com/campusconnect/ecsbridge/pkg/metrics"
)

// ResourceSink is the slice of the connection client the publisher needs.
type ResourceSink interface {
	AddResource(ctx context.Context, rtype ecs.ResourceType, body interface{}, receiverMIDs []int) (int64, error)
	UpdateResource(ctx context.Context, rtype ecs.ResourceType, id int64, body interface{}, receiverMIDs []int) error
	DeleteResource(ctx context.Context, rtype ecs.ResourceType, id int64) error
}

// Publisher mirrors exported courses onto one ECS server. Publishing is
// deliberately unconditional for unchanged metadata; a repeated update with
// an identical payload is a protocol-level no-op and suppressing it is not
// worth tracking payload hashes.
type Publisher struct {
	db           *gorm.DB
	courses      platform.CoursePort
	mapper       *metadata.Mapper
	participants *services.ParticipantService
}

func NewPublisher(db *gorm.DB, courses platform.CoursePort) (*Publisher, error) {
	if db == nil {
		return nil, fmt.Errorf("export publisher: db is nil")
	}
	if courses == nil {
		return nil, fmt.Errorf("export publisher: course port is nil")
	}

	mapper, err := metadata.NewMapper(db)
	if err != nil {
		return nil, err
	}
	participants, err := services.NewParticipantService(db)
	if err != nil {
		return nil, err
	}

	return &Publisher{
		db:           db,
		courses:      courses,
		mapper:       mapper,
		participants: participants,
	}, nil
}

// Flag marks a local course for export through one server. The next publish
// run pushes it.
func (p *Publisher) Flag(ctx context.Context, serverID string, courseID int64) error {
	var existing models.ExportRecord
	err := p.db.WithContext(ctx).
		Where("server_id = ? AND course_id = ?", serverID, courseID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("export publisher: load export record: %w", err)
	}

	record := models.ExportRecord{ServerID: serverID, CourseID: courseID}
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("export publisher: flag course: %w", err)
	}
	return nil
}

// Unflag withdraws a course from export. The remote resource, if any, is
// removed on the next publish run via the empty recipient set; dropping the
// record here would leak it on the server.
func (p *Publisher) Unflag(ctx context.Context, serverID string, courseID int64, sink ResourceSink) error {
	var record models.ExportRecord
	err := p.db.WithContext(ctx).
		Where("server_id = ? AND course_id = ?", serverID, courseID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("export publisher: load export record: %w", err)
	}

	if record.ResourceID != 0 {
		if err := sink.DeleteResource(ctx, ecs.ResourceCourseLinks, record.ResourceID); err != nil && !appErrors.IsNotFound(err) {
			return err
		}
	}
	if err := p.db.WithContext(ctx).Delete(&models.ExportRecord{}, "id = ?", record.ID).Error; err != nil {
		return fmt.Errorf("export publisher: delete export record: %w", err)
	}
	return nil
}

// List returns the export records of one server.
func (p *Publisher) List(ctx context.Context, serverID string) ([]models.ExportRecord, error) {
	var records []models.ExportRecord
	err := p.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("course_id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("export publisher: list records: %w", err)
	}
	return records, nil
}

// UpdateECS publishes every flagged course of one server. First publish adds
// the resource and records the assigned id; later runs update it. A course
// whose recipient set became empty has its resource deleted outright, the
// hub is never asked to keep a resource nobody receives.
func (p *Publisher) UpdateECS(ctx context.Context, server *models.ECSServer, sink ResourceSink) error {
	log := logger.WithServer("export", server.ID)

	recipients, err := p.participants.ExportRecipients(ctx, server.ID)
	if err != nil {
		return err
	}

	records, err := p.List(ctx, server.ID)
	if err != nil {
		return err
	}

	for i := range records {
		record := &records[i]

		course, err := p.courses.GetCourse(ctx, record.CourseID)
		if err != nil {
			if appErrors.IsNotFound(err) {
				// The local course is gone; retire the remote copy too.
				if err := p.retire(ctx, record, sink); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if len(recipients) == 0 {
			if record.ResourceID != 0 {
				if err := p.retireResource(ctx, record, sink); err != nil {
					return err
				}
			}
			continue
		}

		body := p.mapper.MapCourseToRemote(course)

		if record.ResourceID == 0 {
			resourceID, err := sink.AddResource(ctx, ecs.ResourceCourseLinks, body, recipients)
			if err != nil {
				return err
			}
			record.ResourceID = resourceID
			metrics.ExportsPublished.WithLabelValues(server.ID, "add").Inc()
			log.Info("published course",
				zap.Int64("course_id", record.CourseID),
				zap.Int64("resource_id", resourceID))
		} else {
			if err := sink.UpdateResource(ctx, ecs.ResourceCourseLinks, record.ResourceID, body, recipients); err != nil {
				return err
			}
			metrics.ExportsPublished.WithLabelValues(server.ID, "update").Inc()
		}

		if err := p.storeRecipients(ctx, record, recipients); err != nil {
			return err
		}
	}
	return nil
}

// retire removes the remote resource and the export record of a course that
// no longer exists locally.
func (p *Publisher) retire(ctx context.Context, record *models.ExportRecord, sink ResourceSink) error {
	if record.ResourceID != 0 {
		if err := sink.DeleteResource(ctx, ecs.ResourceCourseLinks, record.ResourceID); err != nil && !appErrors.IsNotFound(err) {
			return err
		}
		metrics.ExportsPublished.WithLabelValues(record.ServerID, "delete").Inc()
	}
	if err := p.db.WithContext(ctx).Delete(&models.ExportRecord{}, "id = ?", record.ID).Error; err != nil {
		return fmt.Errorf("export publisher: delete export record: %w", err)
	}
	return nil
}

// retireResource deletes the remote copy but keeps the flag, so the course
// is re-published as soon as a recipient is enabled again.
func (p *Publisher) retireResource(ctx context.Context, record *models.ExportRecord, sink ResourceSink) error {
	if err := sink.DeleteResource(ctx, ecs.ResourceCourseLinks, record.ResourceID); err != nil && !appErrors.IsNotFound(err) {
		return err
	}
	metrics.ExportsPublished.WithLabelValues(record.ServerID, "delete").Inc()

	record.ResourceID = 0
	record.LastParticipants = nil
	if err := p.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("export publisher: clear export record: %w", err)
	}
	return nil
}

func (p *Publisher) storeRecipients(ctx context.Context, record *models.ExportRecord, recipients []int) error {
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("export publisher: encode recipients: %w", err)
	}
	record.LastParticipants = datatypes.JSON(encoded)
	if err := p.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("export publisher: save export record: %w", err)
	}
	return nil
}
