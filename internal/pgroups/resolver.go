// Package pgroups splits and merges remote "parallel group" structures into
// local course/group records under the four supported scenarios.
package pgroups

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// Scenario is the grouping policy carried in basicData.parallelGroupScenario.
type Scenario int

const (
	// ScenarioNone ignores parallel groups entirely.
	ScenarioNone Scenario = iota
	// ScenarioOneCourse flattens all groups into one course without
	// sub-groups.
	ScenarioOneCourse
	// ScenarioSeparateGroups flattens all groups into one course with one
	// sub-group per remote group (when there is more than one).
	ScenarioSeparateGroups
	// ScenarioSeparateCourses creates one course per remote group.
	ScenarioSeparateCourses
	// ScenarioSeparateLecturers buckets groups by their first lecturer.
	ScenarioSeparateLecturers
)

func (s Scenario) String() string {
	switch s {
	case ScenarioOneCourse:
		return "one_course"
	case ScenarioSeparateGroups:
		return "separate_groups"
	case ScenarioSeparateCourses:
		return "separate_courses"
	case ScenarioSeparateLecturers:
		return "separate_lecturers"
	default:
		return "none"
	}
}

// Bucket is one set of remote groups destined for a single local course.
type Bucket struct {
	// Key is the lecturer name under ScenarioSeparateLecturers and empty
	// otherwise.
	Key    string
	Groups []ecs.ParallelGroup
}

// NeedsSubGroups reports whether the bucket's course gets one local group
// per remote group.
func (b Bucket) NeedsSubGroups(scenario Scenario) bool {
	switch scenario {
	case ScenarioSeparateGroups, ScenarioSeparateLecturers:
		return len(b.Groups) > 1
	default:
		return false
	}
}

// GetParallelGroups reads the scenario off a course resource and buckets its
// groups accordingly. An absent scenario always yields (nil, ScenarioNone)
// regardless of group content. Group order is preserved.
func GetParallelGroups(course *ecs.CourseResource) ([]Bucket, Scenario) {
	if course == nil || course.BasicData == nil || course.BasicData.ParallelGroupScenario == nil {
		return nil, ScenarioNone
	}

	scenario := Scenario(*course.BasicData.ParallelGroupScenario)
	if scenario < ScenarioOneCourse || scenario > ScenarioSeparateLecturers {
		return nil, ScenarioNone
	}

	groups := course.Groups
	if len(groups) == 0 {
		return nil, scenario
	}

	switch scenario {
	case ScenarioOneCourse, ScenarioSeparateGroups:
		return []Bucket{{Groups: groups}}, scenario

	case ScenarioSeparateCourses:
		buckets := make([]Bucket, 0, len(groups))
		for _, group := range groups {
			buckets = append(buckets, Bucket{Groups: []ecs.ParallelGroup{group}})
		}
		return buckets, scenario

	case ScenarioSeparateLecturers:
		var order []string
		byLecturer := make(map[string][]ecs.ParallelGroup)
		for _, group := range groups {
			key := ""
			if len(group.Lecturers) > 0 {
				key = group.Lecturers[0].FullName()
			}
			if _, seen := byLecturer[key]; !seen {
				order = append(order, key)
			}
			byLecturer[key] = append(byLecturer[key], group)
		}

		buckets := make([]Bucket, 0, len(order))
		for _, key := range order {
			buckets = append(buckets, Bucket{Key: key, Groups: byLecturer[key]})
		}
		return buckets, scenario
	}

	return nil, ScenarioNone
}

// Resolver reconciles buckets against persisted parallel-group records.
type Resolver struct {
	db     *gorm.DB
	groups platform.GroupPort
}

// NewResolver constructs a resolver over the storage handle and group port.
func NewResolver(db *gorm.DB, groups platform.GroupPort) (*Resolver, error) {
	if db == nil {
		return nil, fmt.Errorf("pgroups resolver: db is required")
	}
	if groups == nil {
		return nil, fmt.Errorf("pgroups resolver: group port is required")
	}
	return &Resolver{db: db, groups: groups}, nil
}

// WithTx returns a resolver that reads and writes through tx so group records
// commit together with the caller's course records. The group port is shared.
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{db: tx, groups: r.groups}
}

// UpdateParallelGroups reconciles one bucket against the records stored for
// (server, resource, course), matched by the remote cms group id. Remote
// groups without a record are inserted, creating a local sub-group when the
// bucket requires them. Records whose remote title changed get a title-only
// update and a matching local group rename. Records whose remote group
// disappeared are left untouched; group deletion follows the course's own
// lifecycle, not the resource update.
func (r *Resolver) UpdateParallelGroups(ctx context.Context, serverID string, resourceID, courseID int64, scenario Scenario, bucket Bucket) error {
	if scenario == ScenarioNone {
		return nil
	}
	if scenario == ScenarioSeparateCourses && len(bucket.Groups) > 1 {
		return appErrors.NewConfiguration("separate-courses scenario allows exactly one group per course")
	}

	var records []models.ParallelGroupRecord
	err := r.db.WithContext(ctx).
		Where("server_id = ? AND resource_id = ? AND course_id = ?", serverID, resourceID, courseID).
		Find(&records).Error
	if err != nil {
		return fmt.Errorf("pgroups resolver: load records: %w", err)
	}

	byCMSID := make(map[string]*models.ParallelGroupRecord, len(records))
	for i := range records {
		byCMSID[records[i].CMSGroupID] = &records[i]
	}

	needsSubGroups := bucket.NeedsSubGroups(scenario)

	for _, remote := range bucket.Groups {
		record, exists := byCMSID[remote.ID]
		if !exists {
			if err := r.insertGroup(ctx, serverID, resourceID, courseID, remote, needsSubGroups); err != nil {
				return err
			}
			continue
		}

		if record.GroupTitle == remote.Title {
			continue
		}

		record.GroupTitle = remote.Title
		updates := map[string]interface{}{"group_title": remote.Title}
		if err := r.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
			return fmt.Errorf("pgroups resolver: update record: %w", err)
		}

		if record.GroupID != 0 {
			if err := r.groups.UpdateGroup(ctx, record.GroupID, courseID, remote.Title, commentOf(remote)); err != nil {
				return fmt.Errorf("pgroups resolver: rename group %d: %w", record.GroupID, err)
			}
		}
	}

	return nil
}

func (r *Resolver) insertGroup(ctx context.Context, serverID string, resourceID, courseID int64, remote ecs.ParallelGroup, needsSubGroups bool) error {
	record := models.ParallelGroupRecord{
		ServerID:   serverID,
		ResourceID: resourceID,
		CourseID:   courseID,
		CMSGroupID: remote.ID,
		GroupTitle: remote.Title,
	}

	if needsSubGroups {
		groupID, err := r.groups.CreateGroup(ctx, courseID, remote.Title, commentOf(remote))
		if err != nil {
			return fmt.Errorf("pgroups resolver: create group for %q: %w", remote.Title, err)
		}
		record.GroupID = groupID
	}

	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("pgroups resolver: insert record: %w", err)
	}
	return nil
}

// MatchBucketsToCourses maps each bucket index to the local course already
// holding its groups. A bucket only matches when its matched groups all
// share one courseid; disagreement or no match at all leaves the bucket
// unmatched (courseid 0, a new course is needed).
func (r *Resolver) MatchBucketsToCourses(ctx context.Context, serverID string, resourceID int64, buckets []Bucket) (map[int]int64, error) {
	var records []models.ParallelGroupRecord
	err := r.db.WithContext(ctx).
		Where("server_id = ? AND resource_id = ?", serverID, resourceID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("pgroups resolver: load records: %w", err)
	}

	courseByCMSID := make(map[string]int64, len(records))
	for _, record := range records {
		courseByCMSID[record.CMSGroupID] = record.CourseID
	}

	matches := make(map[int]int64, len(buckets))
	for i, bucket := range buckets {
		matches[i] = matchBucket(bucket, courseByCMSID)
	}
	return matches, nil
}

func matchBucket(bucket Bucket, courseByCMSID map[string]int64) int64 {
	var courseID int64
	for _, group := range bucket.Groups {
		matched, ok := courseByCMSID[group.ID]
		if !ok {
			continue
		}
		if courseID == 0 {
			courseID = matched
			continue
		}
		if courseID != matched {
			// Groups split across different courses: treat as unmatched.
			return 0
		}
	}
	return courseID
}

func commentOf(group ecs.ParallelGroup) string {
	if group.Comment == nil {
		return ""
	}
	return *group.Comment
}
