package export

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/database/testutil"
	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	"github.com/campusconnect/ecsbridge/internal/platform/fake"
	"github.com/campusconnect/ecsbridge/internal/services"
)

// recordingSink captures the calls the publisher makes against the hub.
type recordingSink struct {
	nextID  int64
	adds    []sinkCall
	updates []sinkCall
	deletes []int64
}

type sinkCall struct {
	id         int64
	body       map[string]interface{}
	recipients []int
}

func (s *recordingSink) AddResource(_ context.Context, _ ecs.ResourceType, body interface{}, receiverMIDs []int) (int64, error) {
	s.nextID++
	s.adds = append(s.adds, sinkCall{id: s.nextID, body: body.(map[string]interface{}), recipients: receiverMIDs})
	return s.nextID, nil
}

func (s *recordingSink) UpdateResource(_ context.Context, _ ecs.ResourceType, id int64, body interface{}, receiverMIDs []int) error {
	s.updates = append(s.updates, sinkCall{id: id, body: body.(map[string]interface{}), recipients: receiverMIDs})
	return nil
}

func (s *recordingSink) DeleteResource(_ context.Context, _ ecs.ResourceType, id int64) error {
	s.deletes = append(s.deletes, id)
	return nil
}

type exportFixture struct {
	db        *gorm.DB
	publisher *Publisher
	platform  *fake.Platform
	server    *models.ECSServer
	sink      *recordingSink
	courseID  int64
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	pf := fake.New()

	publisher, err := NewPublisher(db, pf)
	require.NoError(t, err)

	server := &models.ECSServer{
		Name:     "hub",
		URL:      "https://ecs.example.org",
		AuthMode: models.AuthNone,
		EcsAuth:  "secret",
	}
	require.NoError(t, db.Create(server).Error)

	courseID, err := pf.CreateCourse(context.Background(), platform.CourseData{
		Fullname:  "Compiler Construction",
		Shortname: "CC-401",
	})
	require.NoError(t, err)

	return &exportFixture{
		db:        db,
		publisher: publisher,
		platform:  pf,
		server:    server,
		sink:      &recordingSink{},
		courseID:  courseID,
	}
}

func (f *exportFixture) setRecipients(t *testing.T, mids ...int) {
	t.Helper()

	participants, err := services.NewParticipantService(f.db)
	require.NoError(t, err)

	var memberships []ecs.Membership
	var infos []ecs.ParticipantInfo
	for _, mid := range mids {
		infos = append(infos, ecs.ParticipantInfo{MID: mid, Name: fmt.Sprintf("P%d", mid)})
	}
	memberships = append(memberships, ecs.Membership{
		Community:    ecs.CommunityInfo{CID: 1, Name: "unr"},
		Participants: infos,
	})

	require.NoError(t, participants.RefreshCommunities(context.Background(), f.server.ID, memberships))
	for _, mid := range mids {
		require.NoError(t, participants.UpdateFlags(context.Background(), f.server.ID, mid, true, false, models.ImportLink))
	}
}

func TestFirstPublishAddsResource(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.setRecipients(t, 2, 3)
	require.NoError(t, f.publisher.Flag(ctx, f.server.ID, f.courseID))

	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.Len(t, f.sink.adds, 1)
	require.Equal(t, []int{2, 3}, f.sink.adds[0].recipients)
	require.Equal(t, "Compiler Construction", f.sink.adds[0].body["title"])

	records, err := f.publisher.List(ctx, f.server.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, f.sink.adds[0].id, records[0].ResourceID)
}

func TestSecondPublishUpdatesResource(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.setRecipients(t, 2)
	require.NoError(t, f.publisher.Flag(ctx, f.server.ID, f.courseID))
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.Len(t, f.sink.adds, 1)
	require.Len(t, f.sink.updates, 1)
	require.Equal(t, f.sink.adds[0].id, f.sink.updates[0].id)
}

func TestEmptiedRecipientSetDeletesResource(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.setRecipients(t, 2)
	require.NoError(t, f.publisher.Flag(ctx, f.server.ID, f.courseID))
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))
	published := f.sink.adds[0].id

	// Recipient withdraws: the resource must be deleted, not updated with
	// an empty receiver list.
	participants, err := services.NewParticipantService(f.db)
	require.NoError(t, err)
	require.NoError(t, participants.UpdateFlags(ctx, f.server.ID, 2, false, false, models.ImportLink))

	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.Len(t, f.sink.updates, 0)
	require.Equal(t, []int64{published}, f.sink.deletes)

	// The flag survives, so re-enabling the recipient re-publishes.
	f.setRecipients(t, 2)
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))
	require.Len(t, f.sink.adds, 2)
}

func TestVanishedLocalCourseRetiresRecord(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.setRecipients(t, 2)
	require.NoError(t, f.publisher.Flag(ctx, f.server.ID, f.courseID))
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.NoError(t, f.platform.DeleteCourse(ctx, f.courseID))
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.Len(t, f.sink.deletes, 1)

	records, err := f.publisher.List(ctx, f.server.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestUnflagRemovesRemoteResource(t *testing.T) {
	f := newExportFixture(t)
	ctx := context.Background()

	f.setRecipients(t, 2)
	require.NoError(t, f.publisher.Flag(ctx, f.server.ID, f.courseID))
	require.NoError(t, f.publisher.UpdateECS(ctx, f.server, f.sink))

	require.NoError(t, f.publisher.Unflag(ctx, f.server.ID, f.courseID, f.sink))

	require.Len(t, f.sink.deletes, 1)
	records, err := f.publisher.List(ctx, f.server.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}
