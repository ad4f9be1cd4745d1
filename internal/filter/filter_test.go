package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusconnect/ecsbridge/internal/database/testutil"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform/fake"
)

func TestCheckMatch(t *testing.T) {
	metadata := map[string]string{
		"organisation": "Uni Example",
		"term":         "SS26",
	}

	tests := []struct {
		name  string
		rules []Rule
		want  bool
	}{
		{"no rules", nil, true},
		{"allwords always matches", []Rule{{Attribute: "anything", AllWords: true}}, true},
		{"word match", []Rule{{Attribute: "term", Words: []string{"WS25", "SS26"}}}, true},
		{"word mismatch", []Rule{{Attribute: "term", Words: []string{"WS25"}}}, false},
		{"missing attribute fails", []Rule{{Attribute: "faculty", Words: []string{"science"}}}, false},
		{"missing attribute fails even with allwords elsewhere", []Rule{
			{Attribute: "organisation", AllWords: true},
			{Attribute: "faculty", Words: []string{"science"}},
		}, false},
		{"case sensitive", []Rule{{Attribute: "term", Words: []string{"ss26"}}}, false},
		{"all rules must match", []Rule{
			{Attribute: "organisation", Words: []string{"Uni Example"}},
			{Attribute: "term", Words: []string{"SS26"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CheckMatch(metadata, tt.rules))
		})
	}
}

func TestResolveCategoryBuildsSubdirectoryChain(t *testing.T) {
	p := fake.New()
	ctx := context.Background()

	settings := Settings{
		Enabled:        true,
		RootCategoryID: 100,
		Rules: []Rule{
			{Attribute: "organisation", AllWords: true, CreateSubdirectories: true},
			{Attribute: "term", Words: []string{"SS26"}, CreateSubdirectories: true},
			{Attribute: "status", AllWords: true}, // matches, adds no level
		},
	}

	metadata := map[string]string{"organisation": "Uni Example", "term": "SS26"}

	leaf, err := ResolveCategory(ctx, p, settings, metadata, 1)
	require.NoError(t, err)

	cat, ok := p.CategoryByID(leaf)
	require.True(t, ok)
	require.Equal(t, "SS26", cat.Name)

	parent, ok := p.CategoryByID(cat.ParentID)
	require.True(t, ok)
	require.Equal(t, "Uni Example", parent.Name)
	require.Equal(t, int64(100), parent.ParentID)

	// Resolving again reuses the same chain instead of duplicating it.
	again, err := ResolveCategory(ctx, p, settings, metadata, 1)
	require.NoError(t, err)
	require.Equal(t, leaf, again)
	require.Equal(t, 2, p.CategoryCount())
}

func TestResolveCategoryFallsBack(t *testing.T) {
	p := fake.New()
	ctx := context.Background()

	settings := Settings{
		Enabled:        true,
		RootCategoryID: 100,
		Rules:          []Rule{{Attribute: "term", Words: []string{"WS25"}, CreateSubdirectories: true}},
	}

	// Rules reject the metadata: fallback category, no categories created.
	id, err := ResolveCategory(ctx, p, settings, map[string]string{"term": "SS26"}, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, 0, p.CategoryCount())

	// Filtering disabled: fallback even though the rules would match.
	settings.Enabled = false
	id, err = ResolveCategory(ctx, p, settings, map[string]string{"term": "WS25"}, 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestSettingsRoundTripOnServerRow(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	server := models.ECSServer{Name: "hub", URL: "https://ecs.example.edu", AuthMode: models.AuthNone, EcsAuth: "s"}
	require.NoError(t, db.Create(&server).Error)

	loaded, err := LoadSettings(&server)
	require.NoError(t, err)
	require.False(t, loaded.Enabled)

	want := Settings{
		Enabled:        true,
		RootCategoryID: 7,
		Rules:          []Rule{{Attribute: "term", Words: []string{"SS26"}, CreateSubdirectories: true}},
	}
	require.NoError(t, SaveSettings(db, &server, want))

	var reloaded models.ECSServer
	require.NoError(t, db.First(&reloaded, "id = ?", server.ID).Error)

	got, err := LoadSettings(&reloaded)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
