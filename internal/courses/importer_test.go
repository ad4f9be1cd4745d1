package courses

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/database/testutil"
	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform/fake"
	"github.com/campusconnect/ecsbridge/internal/services"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// fixtureSource serves canned resource bodies by type and id. Every resource
// is reported as sent by senderMID.
type fixtureSource struct {
	resources map[string]json.RawMessage
	senderMID int
}

func (s *fixtureSource) set(rtype ecs.ResourceType, id int64, body string) {
	if s.resources == nil {
		s.resources = make(map[string]json.RawMessage)
	}
	s.resources[fmt.Sprintf("%s/%d", rtype, id)] = json.RawMessage(body)
}

func (s *fixtureSource) GetResource(_ context.Context, rtype ecs.ResourceType, id int64) (json.RawMessage, error) {
	raw, ok := s.resources[fmt.Sprintf("%s/%d", rtype, id)]
	if !ok {
		return nil, appErrors.NewNotFound(fmt.Sprintf("resource %s/%d does not exist", rtype, id))
	}
	return raw, nil
}

func (s *fixtureSource) GetResourceDetails(_ context.Context, rtype ecs.ResourceType, id int64) (*ecs.ResourceDetails, error) {
	if _, ok := s.resources[fmt.Sprintf("%s/%d", rtype, id)]; !ok {
		return nil, appErrors.NewNotFound(fmt.Sprintf("resource %s/%d does not exist", rtype, id))
	}
	return &ecs.ResourceDetails{Senders: []ecs.ResourceParty{{MID: s.senderMID}}}, nil
}

type importFixture struct {
	db       *gorm.DB
	importer *Importer
	platform *fake.Platform
	queue    *services.ReceiveQueueService
	server   *models.ECSServer
	source   *fixtureSource
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	pf := fake.New()

	importer, err := NewImporter(db, pf.Ports())
	require.NoError(t, err)
	queue, err := services.NewReceiveQueueService(db)
	require.NoError(t, err)

	server := &models.ECSServer{
		Name:             "hub",
		URL:              "https://ecs.example.org",
		AuthMode:         models.AuthNone,
		EcsAuth:          "secret",
		ImportCategoryID: 77,
	}
	require.NoError(t, db.Create(server).Error)

	sender := &models.Participant{
		ServerID:      server.ID,
		MID:           2,
		Community:     "unilink",
		Name:          "Remote University",
		ImportEnabled: true,
		ImportType:    models.ImportCourse,
	}
	require.NoError(t, db.Create(sender).Error)

	return &importFixture{
		db:       db,
		importer: importer,
		platform: pf,
		queue:    queue,
		server:   server,
		source:   &fixtureSource{senderMID: 2},
	}
}

// setSenderFlags rewrites the import configuration of the fixture sender.
func (f *importFixture) setSenderFlags(t *testing.T, enabled bool, importType models.ImportType) {
	t.Helper()

	err := f.db.Model(&models.Participant{}).
		Where("server_id = ? AND mid = ?", f.server.ID, 2).
		Updates(map[string]interface{}{"import_enabled": enabled, "import_type": importType}).Error
	require.NoError(t, err)
}

func (f *importFixture) enqueue(t *testing.T, rtype ecs.ResourceType, id int64, status string) {
	t.Helper()

	fifo := &scriptedFIFO{events: []ecs.Event{
		{Resource: fmt.Sprintf("%s/%d", rtype, id), Status: status},
	}}
	_, err := f.queue.UpdateFromECS(context.Background(), f.server.ID, fifo)
	require.NoError(t, err)
}

type scriptedFIFO struct {
	events []ecs.Event
}

func (s *scriptedFIFO) ReadEventFIFO(_ context.Context, ack bool) (*ecs.Event, error) {
	if len(s.events) == 0 {
		return nil, nil
	}
	event := s.events[0]
	if ack {
		s.events = s.events[1:]
	}
	return &event, nil
}

func TestImportCreatesCourseFromLink(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceCourseLinks, 10,
		`{"lectureID":"MATH-101","title":"Linear Algebra","url":"https://remote.example.org/course/10"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Equal(t, 1, f.platform.CourseCount())

	var record models.CourseRecord
	require.NoError(t, f.db.Where("server_id = ? AND resource_id = ?", f.server.ID, 10).First(&record).Error)
	require.True(t, record.IsReal())
	require.Equal(t, int64(77), record.CategoryID)
	require.Equal(t, 2, record.MID)

	course, ok := f.platform.Course(record.CourseID)
	require.True(t, ok)
	require.Equal(t, "Linear Algebra", course.Fullname)
	require.Equal(t, "MATH-101", course.Shortname)
	require.Equal(t, "https://remote.example.org/course/10", course.RedirectURL)
	require.Equal(t, int64(77), course.CategoryID)

	count, err := f.queue.PendingCount(ctx, f.server.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestImportUpdatesExistingCourse(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceCourseLinks, 10, `{"lectureID":"MATH-101","title":"Linear Algebra"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	f.source.set(ecs.ResourceCourseLinks, 10, `{"lectureID":"MATH-101","title":"Linear Algebra II"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "updated")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Equal(t, 1, f.platform.CourseCount())

	var record models.CourseRecord
	require.NoError(t, f.db.Where("server_id = ? AND resource_id = ?", f.server.ID, 10).First(&record).Error)

	course, ok := f.platform.Course(record.CourseID)
	require.True(t, ok)
	require.Equal(t, "Linear Algebra II", course.Fullname)
}

func TestImportConsumesVanishedResource(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.enqueue(t, ecs.ResourceCourses, 99, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Zero(t, f.platform.CourseCount())
	count, err := f.queue.PendingCount(ctx, f.server.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDestroyRemovesCoursesAndRecords(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceCourseLinks, 10, `{"title":"Linear Algebra"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))
	require.Equal(t, 1, f.platform.CourseCount())

	f.enqueue(t, ecs.ResourceCourseLinks, 10, "destroyed")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Zero(t, f.platform.CourseCount())

	var records int64
	require.NoError(t, f.db.Model(&models.CourseRecord{}).
		Where("server_id = ?", f.server.ID).Count(&records).Error)
	require.Zero(t, records)
}

func TestSeparateCoursesCreatesCoursePerGroup(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceCourses, 20, `{
		"title": "Databases",
		"basicData": {"parallelGroupScenario": 3},
		"groups": [
			{"id": "g1", "title": "Group A"},
			{"id": "g2", "title": "Group B"}
		]
	}`)
	f.enqueue(t, ecs.ResourceCourses, 20, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Equal(t, 2, f.platform.CourseCount())

	var records []models.ParallelGroupRecord
	require.NoError(t, f.db.Where("server_id = ? AND resource_id = ?", f.server.ID, 20).
		Order("cms_group_id").Find(&records).Error)
	require.Len(t, records, 2)
	require.NotEqual(t, records[0].CourseID, records[1].CourseID)

	courseA, ok := f.platform.Course(records[0].CourseID)
	require.True(t, ok)
	require.Equal(t, "Databases (Group A)", courseA.Fullname)
}

func TestSeparateCoursesUpdateKeepsCourseAssignment(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	body := `{
		"title": "Databases",
		"basicData": {"parallelGroupScenario": 3},
		"groups": [
			{"id": "g1", "title": "Group A"},
			{"id": "g2", "title": "Group B"}
		]
	}`
	f.source.set(ecs.ResourceCourses, 20, body)
	f.enqueue(t, ecs.ResourceCourses, 20, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	f.source.set(ecs.ResourceCourses, 20, body)
	f.enqueue(t, ecs.ResourceCourses, 20, "updated")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Equal(t, 2, f.platform.CourseCount())

	var records int64
	require.NoError(t, f.db.Model(&models.ParallelGroupRecord{}).
		Where("server_id = ? AND resource_id = ?", f.server.ID, 20).Count(&records).Error)
	require.Equal(t, int64(2), records)
}

func TestDirectoryTreeEventBuildsTree(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceDirectoryTrees, 30, `{
		"rootID": 500,
		"directoryTreeTitle": "Faculty of Arts",
		"directories": [{"id": 501, "title": "History"}]
	}`)
	f.enqueue(t, ecs.ResourceDirectoryTrees, 30, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	tree, err := f.importer.Directories().GetTree(ctx, f.server.ID, 500)
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModePending, tree.Mode)
	require.Equal(t, "Faculty of Arts", tree.Title)
	require.Equal(t, 2, tree.MID)
}

func TestAllocationsCreateRedirectPlaceholders(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceDirectoryTrees, 30, `{
		"rootID": 500,
		"directoryTreeTitle": "Faculty of Arts",
		"directories": [
			{"id": 501, "title": "History"},
			{"id": 502, "title": "Philosophy"}
		]
	}`)
	f.enqueue(t, ecs.ResourceDirectoryTrees, 30, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	_, err := f.importer.Directories().SetMode(ctx, f.server.ID, 500, models.DirectoryModeWhole, 1)
	require.NoError(t, err)

	f.source.set(ecs.ResourceCourses, 40, `{
		"title": "Ancient Rome",
		"allocations": [{"parentID": 501}, {"parentID": 502}]
	}`)
	f.enqueue(t, ecs.ResourceCourses, 40, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	var records []models.CourseRecord
	require.NoError(t, f.db.Where("server_id = ? AND resource_id = ?", f.server.ID, 40).
		Order("internal_link").Find(&records).Error)
	require.Len(t, records, 3)

	real := records[0]
	require.True(t, real.IsReal())
	for _, placeholder := range records[1:] {
		require.Equal(t, real.CourseID, placeholder.InternalLink)
		require.NotEqual(t, real.CategoryID, placeholder.CategoryID)
	}

	require.Equal(t, 3, f.platform.CourseCount())
}

func TestEventsWithoutImportEnabledSenderAreConsumed(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.setSenderFlags(t, false, models.ImportCourse)

	f.source.set(ecs.ResourceCourseLinks, 10,
		`{"lectureID":"MATH-101","title":"Linear Algebra","url":"https://remote.example.org/course/10"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	require.Zero(t, f.platform.CourseCount())
	count, err := f.queue.PendingCount(ctx, f.server.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestLinkOnlySenderSkipsCoursePayloads(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.setSenderFlags(t, true, models.ImportLink)

	f.source.set(ecs.ResourceCourses, 20, `{"title":"Databases"}`)
	f.enqueue(t, ecs.ResourceCourses, 20, "created")
	f.source.set(ecs.ResourceCourseLinks, 10,
		`{"lectureID":"MATH-101","title":"Linear Algebra","url":"https://remote.example.org/course/10"}`)
	f.enqueue(t, ecs.ResourceCourseLinks, 10, "created")

	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	// The course link went through; the full course payload did not.
	require.Equal(t, 1, f.platform.CourseCount())

	var record models.CourseRecord
	require.NoError(t, f.db.Where("server_id = ?", f.server.ID).First(&record).Error)
	require.Equal(t, int64(10), record.ResourceID)

	count, err := f.queue.PendingCount(ctx, f.server.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAllocationsHonourTakeoverFlag(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	f.source.set(ecs.ResourceDirectoryTrees, 30, `{
		"rootID": 500,
		"directoryTreeTitle": "Faculty of Arts",
		"directories": [
			{"id": 501, "title": "History"},
			{"id": 502, "title": "Philosophy"}
		]
	}`)
	f.enqueue(t, ecs.ResourceDirectoryTrees, 30, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	_, err := f.importer.Directories().SetMode(ctx, f.server.ID, 500, models.DirectoryModeWhole, 1)
	require.NoError(t, err)

	err = f.db.Model(&models.DirectoryTreeRecord{}).
		Where("server_id = ? AND root_id = ?", f.server.ID, 500).
		Update("takeover_allocation", false).Error
	require.NoError(t, err)

	f.source.set(ecs.ResourceCourses, 40, `{
		"title": "Ancient Rome",
		"allocations": [{"parentID": 501}, {"parentID": 502}]
	}`)
	f.enqueue(t, ecs.ResourceCourses, 40, "created")
	require.NoError(t, f.importer.ProcessEvents(ctx, f.server, f.source))

	// Only the real course exists; no placeholder copies were allocated into
	// the tree's categories.
	var records []models.CourseRecord
	require.NoError(t, f.db.Where("server_id = ? AND resource_id = ?", f.server.ID, 40).
		Find(&records).Error)
	require.Len(t, records, 1)
	require.True(t, records[0].IsReal())
	require.Equal(t, 1, f.platform.CourseCount())
}
