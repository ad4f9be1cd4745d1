// Package filter routes imported resources into local course categories
// based on metadata predicates configured by an administrator.
package filter

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
)

// Rule is one ordered predicate of a filter set. With AllWords set the rule
// matches any value; otherwise the metadata value for Attribute must equal
// one of Words exactly (case-sensitive). A matching rule with
// CreateSubdirectories adds one level to the destination category chain,
// named after the matched value.
type Rule struct {
	Attribute            string   `json:"attribute"`
	AllWords             bool     `json:"allwords"`
	Words                []string `json:"words,omitempty"`
	CreateSubdirectories bool     `json:"createsubdirectories"`
}

// Settings is the persisted filter configuration for one ECS server.
type Settings struct {
	Enabled        bool   `json:"enabled"`
	RootCategoryID int64  `json:"root_category_id"`
	Rules          []Rule `json:"rules"`
}

// LoadSettings reads the filter configuration stored on a server row. A
// server without stored settings gets a disabled filter.
func LoadSettings(server *models.ECSServer) (Settings, error) {
	if len(server.ImportFilter) == 0 {
		return Settings{}, nil
	}

	var settings Settings
	if err := json.Unmarshal(server.ImportFilter, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode filter settings for server %s: %w", server.ID, err)
	}
	return settings, nil
}

// SaveSettings serialises the filter configuration onto the server row.
func SaveSettings(db *gorm.DB, server *models.ECSServer, settings Settings) error {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode filter settings: %w", err)
	}

	server.ImportFilter = datatypes.JSON(encoded)
	if err := db.Model(server).Update("import_filter", server.ImportFilter).Error; err != nil {
		return fmt.Errorf("save filter settings for server %s: %w", server.ID, err)
	}
	return nil
}

// CheckMatch reports whether every rule accepts the metadata. A rule whose
// attribute is missing from the metadata fails the whole set.
func CheckMatch(metadata map[string]string, rules []Rule) bool {
	for _, rule := range rules {
		if rule.AllWords {
			continue
		}

		value, present := metadata[rule.Attribute]
		if !present {
			return false
		}

		matched := false
		for _, word := range rule.Words {
			if value == word {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ResolveCategory returns the category an imported resource belongs in. If
// filtering is disabled or the rules reject the metadata, the fallback
// category wins. Otherwise the destination is the terminal leaf of the
// subcategory chain built from each matching rule that creates
// subdirectories, rooted at the configured root category.
func ResolveCategory(ctx context.Context, categories platform.CategoryPort, settings Settings, metadata map[string]string, fallback int64) (int64, error) {
	if !settings.Enabled || !CheckMatch(metadata, settings.Rules) {
		return fallback, nil
	}

	current := settings.RootCategoryID
	if current == 0 {
		current = fallback
	}

	for _, rule := range settings.Rules {
		if !rule.CreateSubdirectories {
			continue
		}

		value := metadata[rule.Attribute]
		if value == "" {
			continue
		}

		id, err := categories.ResolveCategory(ctx, value, current)
		if err != nil {
			return 0, fmt.Errorf("resolve filter category %q: %w", value, err)
		}
		current = id
	}

	return current, nil
}
