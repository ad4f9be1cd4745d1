package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusconnect/ecsbridge/internal/database/testutil"
	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform/fake"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name string
		from models.DirectoryMode
		to   models.DirectoryMode
		ok   bool
	}{
		{"pending to whole", models.DirectoryModePending, models.DirectoryModeWhole, true},
		{"pending to manual", models.DirectoryModePending, models.DirectoryModeManual, true},
		{"pending to deleted", models.DirectoryModePending, models.DirectoryModeDeleted, true},
		{"whole to deleted", models.DirectoryModeWhole, models.DirectoryModeDeleted, true},
		{"manual to deleted", models.DirectoryModeManual, models.DirectoryModeDeleted, true},
		{"same state", models.DirectoryModeManual, models.DirectoryModeManual, true},
		{"whole to manual", models.DirectoryModeWhole, models.DirectoryModeManual, false},
		{"manual to whole", models.DirectoryModeManual, models.DirectoryModeWhole, false},
		{"whole to pending", models.DirectoryModeWhole, models.DirectoryModePending, false},
		{"deleted to whole", models.DirectoryModeDeleted, models.DirectoryModeWhole, false},
		{"deleted to pending", models.DirectoryModeDeleted, models.DirectoryModePending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Transition(tc.from, tc.to)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, appErrors.IsConfiguration(err))
			}
		})
	}
}

func newTestService(t *testing.T) (*Service, *fake.Platform) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	platform := fake.New()
	svc, err := NewService(db, platform)
	require.NoError(t, err)
	return svc, platform
}

func sampleTree() *ecs.DirectoryTreeResource {
	return &ecs.DirectoryTreeResource{
		RootID: 4711,
		Title:  "Faculty of Science",
		Directories: []ecs.DirectoryNode{
			{ID: 1, Title: "Mathematics", Order: 1},
			{ID: 2, Title: "Physics", Order: 2},
			{ID: 3, Title: "Analysis", Parent: &ecs.DirectoryParent{ID: 1}, Order: 1},
		},
	}
}

func TestUpdateTreeCreatesPendingTree(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tree, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModePending, tree.Mode)
	require.Equal(t, "Faculty of Science", tree.Title)
	require.Nil(t, tree.CategoryID)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	// Ordered by sort order, then directory id: Analysis (order 1, id 3)
	// sorts between Mathematics and Physics.
	require.Equal(t, int64(1), nodes[0].DirectoryID)
	require.Equal(t, int64(3), nodes[1].DirectoryID)
	require.Equal(t, int64(2), nodes[2].DirectoryID)
	require.Equal(t, int64(1), nodes[1].ParentID)
}

func TestUpdateTreeRefreshesTitles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)

	renamed := sampleTree()
	renamed.Title = "Faculty of Natural Science"
	renamed.Directories[0].Title = "Pure Mathematics"

	tree, err := svc.UpdateTree(ctx, "srv-1", 12, 900, renamed)
	require.NoError(t, err)
	require.Equal(t, "Faculty of Natural Science", tree.Title)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Equal(t, "Pure Mathematics", nodes[0].Title)
}

func TestUpdateTreeHonoursTakeoverFlags(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)
	require.True(t, created.TakeoverTitle)
	require.True(t, created.TakeoverPosition)
	require.True(t, created.TakeoverAllocation)

	err = svc.db.Model(&models.DirectoryTreeRecord{}).
		Where("server_id = ? AND root_id = ?", "srv-1", int64(4711)).
		Updates(map[string]interface{}{"takeover_title": false, "takeover_position": false}).Error
	require.NoError(t, err)

	moved := sampleTree()
	moved.Title = "Faculty of Natural Science"
	moved.Directories[2].Title = "Real Analysis"
	moved.Directories[2].Parent = &ecs.DirectoryParent{ID: 2}
	moved.Directories[2].Order = 9

	tree, err := svc.UpdateTree(ctx, "srv-1", 12, 900, moved)
	require.NoError(t, err)
	require.Equal(t, "Faculty of Science", tree.Title)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	// The local title and placement of Analysis survive the remote move.
	analysis := nodes[1]
	require.Equal(t, int64(3), analysis.DirectoryID)
	require.Equal(t, "Analysis", analysis.Title)
	require.Equal(t, int64(1), analysis.ParentID)
	require.Equal(t, 1, analysis.SortOrder)
}

func TestSetModeWholeCreatesCategoryChain(t *testing.T) {
	svc, pf := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)

	tree, err := svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeWhole, 77)
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModeWhole, tree.Mode)
	require.NotNil(t, tree.CategoryID)

	root, ok := pf.CategoryByID(*tree.CategoryID)
	require.True(t, ok)
	require.Equal(t, "Faculty of Science", root.Name)
	require.Equal(t, int64(77), root.ParentID)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)

	byDirID := make(map[int64]models.DirectoryRecord, len(nodes))
	for _, node := range nodes {
		require.NotNil(t, node.CategoryID)
		byDirID[node.DirectoryID] = node
	}

	math, ok := pf.CategoryByID(*byDirID[1].CategoryID)
	require.True(t, ok)
	require.Equal(t, *tree.CategoryID, math.ParentID)

	analysis, ok := pf.CategoryByID(*byDirID[3].CategoryID)
	require.True(t, ok)
	require.Equal(t, *byDirID[1].CategoryID, analysis.ParentID)
}

func TestSetModeAfterMappingFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)

	_, err = svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeWhole, 77)
	require.NoError(t, err)

	_, err = svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeManual, 0)
	require.Error(t, err)
	require.True(t, appErrors.IsConfiguration(err))

	tree, err := svc.GetTree(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModeWhole, tree.Mode)
}

func TestUpdateTreeMaterializesNewNodesInWholeMode(t *testing.T) {
	svc, pf := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)
	_, err = svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeWhole, 77)
	require.NoError(t, err)

	grown := sampleTree()
	grown.Directories = append(grown.Directories,
		ecs.DirectoryNode{ID: 4, Title: "Optics", Parent: &ecs.DirectoryParent{ID: 2}, Order: 1})

	_, err = svc.UpdateTree(ctx, "srv-1", 12, 900, grown)
	require.NoError(t, err)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	var optics *models.DirectoryRecord
	var physics *models.DirectoryRecord
	for i := range nodes {
		switch nodes[i].DirectoryID {
		case 2:
			physics = &nodes[i]
		case 4:
			optics = &nodes[i]
		}
	}
	require.NotNil(t, optics)
	require.NotNil(t, optics.CategoryID)

	cat, ok := pf.CategoryByID(*optics.CategoryID)
	require.True(t, ok)
	require.Equal(t, "Optics", cat.Name)
	require.Equal(t, *physics.CategoryID, cat.ParentID)
}

func TestMapDirectoryRequiresManualMode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)

	err = svc.MapDirectory(ctx, "srv-1", 4711, 1, 55)
	require.True(t, appErrors.IsConfiguration(err))

	_, err = svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeManual, 0)
	require.NoError(t, err)

	require.NoError(t, svc.MapDirectory(ctx, "srv-1", 4711, 1, 55))

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.NotNil(t, nodes[0].CategoryID)
	require.Equal(t, int64(55), *nodes[0].CategoryID)
}

func TestDeleteCascadeKeepsCategoriesWithCourses(t *testing.T) {
	svc, pf := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)
	_, err = svc.SetMode(ctx, "srv-1", 4711, models.DirectoryModeWhole, 77)
	require.NoError(t, err)

	nodes, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)

	var mathCat int64
	for _, node := range nodes {
		if node.DirectoryID == 1 {
			mathCat = *node.CategoryID
		}
	}
	require.NotZero(t, mathCat)

	// A course imported into Mathematics pins that category down.
	err = svc.db.Create(&models.CourseRecord{
		ServerID:   "srv-1",
		ResourceID: 301,
		CourseID:   9001,
		CategoryID: mathCat,
	}).Error
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "srv-1", 4711))

	tree, err := svc.GetTree(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModeDeleted, tree.Mode)

	remaining, err := svc.ListDirectories(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, int64(1), remaining[0].DirectoryID)

	_, ok := pf.CategoryByID(mathCat)
	require.True(t, ok)

	// Repeating the delete is a no-op and remote updates are ignored.
	require.NoError(t, svc.Delete(ctx, "srv-1", 4711))

	_, err = svc.UpdateTree(ctx, "srv-1", 12, 900, sampleTree())
	require.NoError(t, err)
	tree, err = svc.GetTree(ctx, "srv-1", 4711)
	require.NoError(t, err)
	require.Equal(t, models.DirectoryModeDeleted, tree.Mode)
}
