package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/pkg/logger"
	"github.com/campusconnect/ecsbridge/pkg/metrics"
)

// EventSource is the slice of the connection client the queue drains.
type EventSource interface {
	ReadEventFIFO(ctx context.Context, ack bool) (*ecs.Event, error)
}

// ReceiveQueueService moves event notifications from the per-participant
// server FIFO into the durable local queue. Rows coalesce per resource, so
// however many notifications pile up between polls, each resource is
// processed at most once per run and always at its newest status.
type ReceiveQueueService struct {
	db *gorm.DB
}

func NewReceiveQueueService(db *gorm.DB) (*ReceiveQueueService, error) {
	if db == nil {
		return nil, fmt.Errorf("receive queue service: db is nil")
	}
	return &ReceiveQueueService{db: db}, nil
}

// UpdateFromECS drains the server FIFO into the local queue and returns how
// many notifications were read. Events are acknowledged as they are read;
// durability is carried by the local row written in the same iteration.
// Draining an empty FIFO reads zero events and writes nothing.
func (s *ReceiveQueueService) UpdateFromECS(ctx context.Context, serverID string, source EventSource) (int, error) {
	log := logger.WithServer("queue", serverID)

	read := 0
	for {
		event, err := source.ReadEventFIFO(ctx, true)
		if err != nil {
			return read, err
		}
		if event == nil {
			return read, nil
		}
		read++

		rtype, resourceID, err := ecs.ParseEventResource(event.Resource)
		if err != nil {
			log.Warn("skipping malformed event notification",
				zap.String("resource", event.Resource))
			metrics.EventsProcessed.WithLabelValues(serverID, "malformed").Inc()
			continue
		}

		if err := s.record(ctx, serverID, rtype, resourceID, models.EventStatus(event.Status)); err != nil {
			return read, err
		}
		metrics.EventsProcessed.WithLabelValues(serverID, "queued").Inc()
	}
}

// record coalesces one notification into the queue. An existing row for the
// same resource is overwritten with the newer status instead of growing the
// queue.
func (s *ReceiveQueueService) record(ctx context.Context, serverID string, rtype ecs.ResourceType, resourceID int64, status models.EventStatus) error {
	row := models.EventRecord{
		ServerID:     serverID,
		ResourceType: string(rtype),
		ResourceID:   resourceID,
		Status:       status,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "resource_type"}, {Name: "resource_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"status": status}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("receive queue service: record event: %w", err)
	}
	return nil
}

// Pending lists the queued events of one resource type in arrival order.
func (s *ReceiveQueueService) Pending(ctx context.Context, serverID string, rtype ecs.ResourceType) ([]models.EventRecord, error) {
	var events []models.EventRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND resource_type = ?", serverID, string(rtype)).
		Order("created_at, resource_id").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("receive queue service: pending events: %w", err)
	}
	return events, nil
}

// PendingCount reports the queue depth across all resource types.
func (s *ReceiveQueueService) PendingCount(ctx context.Context, serverID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.EventRecord{}).
		Where("server_id = ?", serverID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("receive queue service: count events: %w", err)
	}
	return count, nil
}

// Consume removes a processed event from the queue.
func (s *ReceiveQueueService) Consume(ctx context.Context, event *models.EventRecord) error {
	err := s.db.WithContext(ctx).Delete(&models.EventRecord{}, "id = ?", event.ID).Error
	if err != nil {
		return fmt.Errorf("receive queue service: consume event: %w", err)
	}
	return nil
}
