// Package courses turns queued resource events into local course state. It
// is the downstream consumer of the receive queue: fetch the resource, map
// its metadata, route it into a category, reconcile parallel groups and hand
// the result across the platform ports.
package courses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/directory"
	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/filter"
	"github.com/campusconnect/ecsbridge/internal/metadata"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/pgroups"
	"github.com/campusconnect/ecsbridge/internal/platform"
	"github.com/campusconnect/ecsbridge/internal/services"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
	"github.com/campusconnect/ecsbridge/pkg/logger"
	"github.com/campusconnect/ecsbridge/pkg/metrics"
)

// ResourceSource is the slice of the connection client the importer needs.
type ResourceSource interface {
	GetResource(ctx context.Context, rtype ecs.ResourceType, id int64) (json.RawMessage, error)
	GetResourceDetails(ctx context.Context, rtype ecs.ResourceType, id int64) (*ecs.ResourceDetails, error)
}

// Importer applies queued inbound events to local courses, categories and
// directory trees.
type Importer struct {
	db           *gorm.DB
	ports        platform.Ports
	queue        *services.ReceiveQueueService
	mapper       *metadata.Mapper
	resolver     *pgroups.Resolver
	directories  *directory.Service
	participants *services.ParticipantService
}

func NewImporter(db *gorm.DB, ports platform.Ports) (*Importer, error) {
	if db == nil {
		return nil, fmt.Errorf("course importer: db is nil")
	}

	queue, err := services.NewReceiveQueueService(db)
	if err != nil {
		return nil, err
	}
	mapper, err := metadata.NewMapper(db)
	if err != nil {
		return nil, err
	}
	resolver, err := pgroups.NewResolver(db, ports.Groups)
	if err != nil {
		return nil, err
	}
	directories, err := directory.NewService(db, ports.Categories)
	if err != nil {
		return nil, err
	}
	participants, err := services.NewParticipantService(db)
	if err != nil {
		return nil, err
	}

	return &Importer{
		db:           db,
		ports:        ports,
		queue:        queue,
		mapper:       mapper,
		resolver:     resolver,
		directories:  directories,
		participants: participants,
	}, nil
}

// Mapper exposes the importer's metadata mapper for configuration handlers.
func (im *Importer) Mapper() *metadata.Mapper {
	return im.mapper
}

// Directories exposes the directory tree service for mapping handlers.
func (im *Importer) Directories() *directory.Service {
	return im.directories
}

// ProcessEvents drains the local queue for one server. Directory trees go
// first so course allocations can land in freshly created categories.
// Events whose resource was not sent by an import-enabled participant are
// consumed without applying anything. A resource that vanished between
// notification and fetch is consumed and skipped; a connection failure stops
// the run and leaves the remaining events queued for the next poll.
func (im *Importer) ProcessEvents(ctx context.Context, server *models.ECSServer, source ResourceSource) error {
	order := []ecs.ResourceType{
		ecs.ResourceDirectoryTrees,
		ecs.ResourceCourses,
		ecs.ResourceCourseLinks,
	}

	log := logger.WithServer("courses", server.ID)

	sources, err := im.participants.ImportSources(ctx, server.ID)
	if err != nil {
		return err
	}

	for _, rtype := range order {
		events, err := im.queue.Pending(ctx, server.ID, rtype)
		if err != nil {
			return err
		}

		for i := range events {
			event := &events[i]
			applied, err := im.processEvent(ctx, server, source, sources, event)
			switch {
			case err == nil && applied:
				metrics.EventsProcessed.WithLabelValues(server.ID, "applied").Inc()
			case err == nil:
				metrics.EventsProcessed.WithLabelValues(server.ID, "skipped").Inc()
			case appErrors.IsNotFound(err):
				log.Info("resource vanished before fetch, skipping",
					zap.String("resource_type", event.ResourceType),
					zap.Int64("resource_id", event.ResourceID))
				metrics.EventsProcessed.WithLabelValues(server.ID, "vanished").Inc()
				if cerr := im.queue.Consume(ctx, event); cerr != nil {
					return cerr
				}
			case appErrors.IsConnection(err):
				return err
			default:
				return err
			}
		}
	}
	return nil
}

func (im *Importer) processEvent(ctx context.Context, server *models.ECSServer, source ResourceSource, sources map[int]models.Participant, event *models.EventRecord) (bool, error) {
	rtype := ecs.ResourceType(event.ResourceType)
	log := logger.WithServer("courses", server.ID)

	if event.Status == models.EventDestroyed {
		if err := im.applyDestroy(ctx, server, rtype, event.ResourceID); err != nil {
			return false, err
		}
		return true, im.queue.Consume(ctx, event)
	}

	details, err := source.GetResourceDetails(ctx, rtype, event.ResourceID)
	if err != nil {
		return false, err
	}
	sender, ok := importSender(details, sources)
	if !ok {
		log.Info("resource has no import-enabled sender, skipping",
			zap.String("resource_type", event.ResourceType),
			zap.Int64("resource_id", event.ResourceID))
		return false, im.queue.Consume(ctx, event)
	}

	// Full course payloads are only materialised for participants configured
	// for course or CMS import; link-only senders contribute course links.
	if rtype == ecs.ResourceCourses && sender.ImportType == models.ImportLink {
		log.Info("sender shares links only, skipping course payload",
			zap.Int("mid", sender.MID),
			zap.Int64("resource_id", event.ResourceID))
		return false, im.queue.Consume(ctx, event)
	}

	raw, err := source.GetResource(ctx, rtype, event.ResourceID)
	if err != nil {
		return false, err
	}

	switch rtype {
	case ecs.ResourceDirectoryTrees:
		tree, err := ecs.DecodeDirectoryTree(raw)
		if err != nil {
			return false, err
		}
		if _, err := im.directories.UpdateTree(ctx, server.ID, sender.MID, event.ResourceID, tree); err != nil {
			return false, err
		}
	case ecs.ResourceCourses, ecs.ResourceCourseLinks:
		if err := im.applyCourse(ctx, server, sender.MID, rtype, event.ResourceID, raw); err != nil {
			return false, err
		}
	default:
		log.Warn("ignoring event for unhandled resource type",
			zap.String("resource_type", event.ResourceType))
	}

	return true, im.queue.Consume(ctx, event)
}

// importSender picks the first sender of the resource that is configured as
// an import source on this server.
func importSender(details *ecs.ResourceDetails, sources map[int]models.Participant) (models.Participant, bool) {
	for _, party := range details.Senders {
		if sender, ok := sources[party.MID]; ok {
			return sender, true
		}
	}
	return models.Participant{}, false
}

// applyCourse creates or updates the local course(s) for one remote resource.
// All record writes for the resource share one transaction so a concurrent
// reader never sees a course row without its group rows.
func (im *Importer) applyCourse(ctx context.Context, server *models.ECSServer, mid int, rtype ecs.ResourceType, resourceID int64, raw json.RawMessage) error {
	course, err := ecs.DecodeCourse(raw)
	if err != nil {
		return err
	}
	flat, err := ecs.Flatten(raw)
	if err != nil {
		return err
	}

	data := im.mapper.MapRemoteToCourse(flat)
	if rtype == ecs.ResourceCourseLinks {
		data.RedirectURL = course.URL
	}

	filterSettings, err := filter.LoadSettings(server)
	if err != nil {
		return err
	}
	categoryID, err := filter.ResolveCategory(ctx, im.ports.Categories, filterSettings, flat, server.ImportCategoryID)
	if err != nil {
		return err
	}
	data.CategoryID = categoryID

	buckets, scenario := pgroups.GetParallelGroups(course)

	return im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		courseIDs, err := im.reconcileCourses(ctx, tx, server, mid, resourceID, data, buckets, scenario)
		if err != nil {
			return err
		}
		if len(courseIDs) == 0 {
			return nil
		}
		return im.reconcileAllocations(ctx, tx, server, mid, resourceID, data, course.Allocations, courseIDs[0])
	})
}

// reconcileCourses maps buckets onto courses. Without parallel groups a
// single course carries the resource; with them each bucket gets (or keeps)
// its own course and the bucket's groups are reconciled below it.
func (im *Importer) reconcileCourses(ctx context.Context, tx *gorm.DB, server *models.ECSServer, mid int, resourceID int64, data platform.CourseData, buckets []pgroups.Bucket, scenario pgroups.Scenario) ([]int64, error) {
	if len(buckets) == 0 {
		id, err := im.upsertCourse(ctx, tx, server, mid, resourceID, data, "")
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}

	resolver := im.resolver.WithTx(tx)

	matched, err := resolver.MatchBucketsToCourses(ctx, server.ID, resourceID, buckets)
	if err != nil {
		return nil, err
	}

	var courseIDs []int64
	for i, bucket := range buckets {
		suffix := bucketSuffix(scenario, bucket, len(buckets))

		// Unmatched buckets always get a fresh course. The real record of
		// another bucket must not be reused, so this skips the upsert path.
		courseID := matched[i]
		if courseID == 0 {
			courseID, err = im.createCourse(ctx, tx, server, mid, resourceID, data, suffix)
			if err != nil {
				return nil, err
			}
		} else {
			bucketData := data
			if suffix != "" {
				bucketData.Fullname = data.Fullname + " (" + suffix + ")"
			}
			if err := im.ports.Courses.UpdateCourse(ctx, courseID, bucketData); err != nil {
				return nil, err
			}
		}

		if err := resolver.UpdateParallelGroups(ctx, server.ID, resourceID, courseID, scenario, bucket); err != nil {
			return nil, err
		}
		courseIDs = append(courseIDs, courseID)
	}
	return courseIDs, nil
}

// bucketSuffix distinguishes sibling courses created from one resource.
func bucketSuffix(scenario pgroups.Scenario, bucket pgroups.Bucket, bucketCount int) string {
	if bucketCount <= 1 {
		return ""
	}
	switch scenario {
	case pgroups.ScenarioSeparateCourses:
		if len(bucket.Groups) == 1 {
			return bucket.Groups[0].Title
		}
	case pgroups.ScenarioSeparateLecturers:
		return bucket.Key
	}
	return ""
}

// createCourse makes a new course and its record row unconditionally.
func (im *Importer) createCourse(ctx context.Context, tx *gorm.DB, server *models.ECSServer, mid int, resourceID int64, data platform.CourseData, suffix string) (int64, error) {
	if suffix != "" {
		data.Fullname = data.Fullname + " (" + suffix + ")"
	}

	courseID, err := im.ports.Courses.CreateCourse(ctx, data)
	if err != nil {
		return 0, err
	}
	record := models.CourseRecord{
		ServerID:   server.ID,
		ResourceID: resourceID,
		MID:        mid,
		CourseID:   courseID,
		CategoryID: data.CategoryID,
	}
	if err := tx.Create(&record).Error; err != nil {
		return 0, fmt.Errorf("course importer: create course record: %w", err)
	}
	return courseID, nil
}

// upsertCourse creates the course on first sight of the resource and updates
// it afterwards, keyed by the real (internallink zero) record row.
func (im *Importer) upsertCourse(ctx context.Context, tx *gorm.DB, server *models.ECSServer, mid int, resourceID int64, data platform.CourseData, suffix string) (int64, error) {
	if suffix != "" {
		data.Fullname = data.Fullname + " (" + suffix + ")"
	}

	var record models.CourseRecord
	err := tx.Where("server_id = ? AND resource_id = ? AND internal_link = 0", server.ID, resourceID).
		First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return im.createCourse(ctx, tx, server, mid, resourceID, data, "")
	case err != nil:
		return 0, fmt.Errorf("course importer: load course record: %w", err)
	}

	if err := im.ports.Courses.UpdateCourse(ctx, record.CourseID, data); err != nil {
		return 0, err
	}
	record.CategoryID = data.CategoryID
	record.MID = mid
	if err := tx.Save(&record).Error; err != nil {
		return 0, fmt.Errorf("course importer: update course record: %w", err)
	}
	return record.CourseID, nil
}

// reconcileAllocations materialises extra category allocations as redirect
// placeholder courses pointing at the real one. The first mapped allocation
// is already covered by the real course's category.
func (im *Importer) reconcileAllocations(ctx context.Context, tx *gorm.DB, server *models.ECSServer, mid int, resourceID int64, data platform.CourseData, allocations []ecs.Allocation, realCourseID int64) error {
	var wanted []int64
	for _, allocation := range allocations {
		var node models.DirectoryRecord
		err := tx.Where("server_id = ? AND directory_id = ?", server.ID, allocation.ParentID).
			First(&node).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("course importer: resolve allocation: %w", err)
		}
		if node.CategoryID == nil || *node.CategoryID == data.CategoryID {
			continue
		}

		var tree models.DirectoryTreeRecord
		err = tx.Where("server_id = ? AND root_id = ?", server.ID, node.RootID).
			First(&tree).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("course importer: resolve allocation tree: %w", err)
		}
		// Trees with allocation takeover switched off keep their local
		// course placement; remote allocations into them are ignored.
		if !tree.TakeoverAllocation {
			continue
		}

		wanted = append(wanted, *node.CategoryID)
	}

	var placeholders []models.CourseRecord
	err := tx.Where("server_id = ? AND resource_id = ? AND internal_link <> 0", server.ID, resourceID).
		Find(&placeholders).Error
	if err != nil {
		return fmt.Errorf("course importer: load placeholders: %w", err)
	}

	existing := make(map[int64]bool, len(placeholders))
	for _, record := range placeholders {
		existing[record.CategoryID] = true
	}

	for _, categoryID := range wanted {
		if existing[categoryID] {
			continue
		}

		placeholder := data
		placeholder.CategoryID = categoryID
		courseID, err := im.ports.Courses.CreateCourse(ctx, placeholder)
		if err != nil {
			return err
		}

		record := models.CourseRecord{
			ServerID:     server.ID,
			ResourceID:   resourceID,
			MID:          mid,
			CourseID:     courseID,
			CategoryID:   categoryID,
			InternalLink: realCourseID,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("course importer: create placeholder record: %w", err)
		}
	}
	return nil
}

// applyDestroy removes the local artifacts of a destroyed resource without
// fetching it. For courses the placeholder copies go first, then the real
// course and its group records; directory trees run the category cascade.
func (im *Importer) applyDestroy(ctx context.Context, server *models.ECSServer, rtype ecs.ResourceType, resourceID int64) error {
	switch rtype {
	case ecs.ResourceDirectoryTrees:
		var tree models.DirectoryTreeRecord
		err := im.db.WithContext(ctx).
			Where("server_id = ? AND resource_id = ?", server.ID, resourceID).
			First(&tree).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("course importer: load destroyed tree: %w", err)
		}
		return im.directories.Delete(ctx, server.ID, tree.RootID)

	case ecs.ResourceCourses, ecs.ResourceCourseLinks:
		return im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var records []models.CourseRecord
			err := tx.Where("server_id = ? AND resource_id = ?", server.ID, resourceID).
				Order("internal_link DESC").
				Find(&records).Error
			if err != nil {
				return fmt.Errorf("course importer: load destroyed records: %w", err)
			}

			for _, record := range records {
				if err := im.ports.Courses.DeleteCourse(ctx, record.CourseID); err != nil && !appErrors.IsNotFound(err) {
					return err
				}
				if err := tx.Delete(&models.CourseRecord{}, "id = ?", record.ID).Error; err != nil {
					return fmt.Errorf("course importer: delete course record: %w", err)
				}
			}

			err = tx.Where("server_id = ? AND resource_id = ?", server.ID, resourceID).
				Delete(&models.ParallelGroupRecord{}).Error
			if err != nil {
				return fmt.Errorf("course importer: delete group records: %w", err)
			}
			return nil
		})
	}
	return nil
}
