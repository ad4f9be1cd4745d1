// Package directory imports remote directory trees and maps them onto local
// course categories. A tree starts out pending, is mapped exactly once as a
// whole or directory by directory, and ends deleted when the remote side
// withdraws it.
package directory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// Service synchronizes directory tree resources into local records and
// categories.
type Service struct {
	db         *gorm.DB
	categories platform.CategoryPort
}

func NewService(db *gorm.DB, categories platform.CategoryPort) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("directory service: db is nil")
	}
	if categories == nil {
		return nil, fmt.Errorf("directory service: category port is nil")
	}
	return &Service{db: db, categories: categories}, nil
}

// GetTree loads one tree record by its remote root id.
func (s *Service) GetTree(ctx context.Context, serverID string, rootID int64) (*models.DirectoryTreeRecord, error) {
	var tree models.DirectoryTreeRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND root_id = ?", serverID, rootID).
		First(&tree).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.NewNotFound(fmt.Sprintf("directory tree %d is not known", rootID))
		}
		return nil, fmt.Errorf("directory service: load tree: %w", err)
	}
	return &tree, nil
}

// ListTrees returns all tree records of one server.
func (s *Service) ListTrees(ctx context.Context, serverID string) ([]models.DirectoryTreeRecord, error) {
	var trees []models.DirectoryTreeRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("root_id").
		Find(&trees).Error
	if err != nil {
		return nil, fmt.Errorf("directory service: list trees: %w", err)
	}
	return trees, nil
}

// ListDirectories returns the node records below one tree root.
func (s *Service) ListDirectories(ctx context.Context, serverID string, rootID int64) ([]models.DirectoryRecord, error) {
	var nodes []models.DirectoryRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND root_id = ?", serverID, rootID).
		Order("sort_order, directory_id").
		Find(&nodes).Error
	if err != nil {
		return nil, fmt.Errorf("directory service: list directories: %w", err)
	}
	return nodes, nil
}

// UpdateTree upserts the tree and its node records from a received resource.
// Deleted trees ignore further remote updates. Title and position changes
// follow the payload only while the matching takeover flags are set. Trees
// already mapped as a whole materialize categories for any nodes the update
// introduced.
func (s *Service) UpdateTree(ctx context.Context, serverID string, mid int, resourceID int64, res *ecs.DirectoryTreeResource) (*models.DirectoryTreeRecord, error) {
	var tree models.DirectoryTreeRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND root_id = ?", serverID, res.RootID).
		First(&tree).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		tree = models.DirectoryTreeRecord{
			ServerID:           serverID,
			ResourceID:         resourceID,
			RootID:             res.RootID,
			MID:                mid,
			Title:              res.Title,
			Mode:               models.DirectoryModePending,
			TakeoverTitle:      true,
			TakeoverPosition:   true,
			TakeoverAllocation: true,
		}
		if err := s.db.WithContext(ctx).Create(&tree).Error; err != nil {
			return nil, fmt.Errorf("directory service: create tree: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("directory service: load tree: %w", err)
	default:
		if tree.Mode == models.DirectoryModeDeleted {
			return &tree, nil
		}
		tree.ResourceID = resourceID
		tree.MID = mid
		if tree.TakeoverTitle {
			tree.Title = res.Title
		}
		if err := s.db.WithContext(ctx).Save(&tree).Error; err != nil {
			return nil, fmt.Errorf("directory service: update tree: %w", err)
		}
	}

	for _, remote := range res.Directories {
		if err := s.upsertNode(ctx, &tree, remote); err != nil {
			return nil, err
		}
	}

	if tree.Mode == models.DirectoryModeWhole && tree.CategoryID != nil {
		if err := s.materialize(ctx, &tree); err != nil {
			return nil, err
		}
	}
	return &tree, nil
}

func (s *Service) upsertNode(ctx context.Context, tree *models.DirectoryTreeRecord, remote ecs.DirectoryNode) error {
	parentID := int64(0)
	if remote.Parent != nil {
		parentID = remote.Parent.ID
	}

	var node models.DirectoryRecord
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND root_id = ? AND directory_id = ?", tree.ServerID, tree.RootID, remote.ID).
		First(&node).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		node = models.DirectoryRecord{
			ServerID:    tree.ServerID,
			RootID:      tree.RootID,
			DirectoryID: remote.ID,
			ParentID:    parentID,
			Title:       remote.Title,
			SortOrder:   remote.Order,
		}
		if err := s.db.WithContext(ctx).Create(&node).Error; err != nil {
			return fmt.Errorf("directory service: create directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("directory service: load directory: %w", err)
	}

	if tree.TakeoverPosition {
		node.ParentID = parentID
		node.SortOrder = remote.Order
	}
	if tree.TakeoverTitle {
		node.Title = remote.Title
	}
	if err := s.db.WithContext(ctx).Save(&node).Error; err != nil {
		return fmt.Errorf("directory service: update directory: %w", err)
	}
	return nil
}

// SetMode moves a pending tree into whole or manual mapping. Whole mapping
// creates the full category chain below parentCategoryID right away; manual
// mapping leaves category assignment to MapDirectory calls. Deleting goes
// through Delete so the category cascade runs.
func (s *Service) SetMode(ctx context.Context, serverID string, rootID int64, to models.DirectoryMode, parentCategoryID int64) (*models.DirectoryTreeRecord, error) {
	if to == models.DirectoryModeDeleted {
		if err := s.Delete(ctx, serverID, rootID); err != nil {
			return nil, err
		}
		return s.GetTree(ctx, serverID, rootID)
	}

	tree, err := s.GetTree(ctx, serverID, rootID)
	if err != nil {
		return nil, err
	}
	if err := Transition(tree.Mode, to); err != nil {
		return nil, err
	}
	if tree.Mode == to {
		return tree, nil
	}

	tree.Mode = to
	if to == models.DirectoryModeWhole {
		rootCat, err := s.categories.ResolveCategory(ctx, tree.Title, parentCategoryID)
		if err != nil {
			return nil, fmt.Errorf("directory service: create root category: %w", err)
		}
		tree.CategoryID = &rootCat
	}
	if err := s.db.WithContext(ctx).Save(tree).Error; err != nil {
		return nil, fmt.Errorf("directory service: save tree mode: %w", err)
	}

	if to == models.DirectoryModeWhole {
		if err := s.materialize(ctx, tree); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// MapDirectory assigns a category to a single node of a manually mapped tree.
func (s *Service) MapDirectory(ctx context.Context, serverID string, rootID, directoryID, categoryID int64) error {
	tree, err := s.GetTree(ctx, serverID, rootID)
	if err != nil {
		return err
	}
	if tree.Mode != models.DirectoryModeManual {
		return appErrors.NewConfiguration(
			fmt.Sprintf("directory tree mapping mode is %s; only manual trees map single directories", tree.Mode),
		)
	}

	var node models.DirectoryRecord
	err = s.db.WithContext(ctx).
		Where("server_id = ? AND root_id = ? AND directory_id = ?", serverID, rootID, directoryID).
		First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErrors.NewNotFound(fmt.Sprintf("directory %d is not part of tree %d", directoryID, rootID))
		}
		return fmt.Errorf("directory service: load directory: %w", err)
	}

	node.CategoryID = &categoryID
	if err := s.db.WithContext(ctx).Save(&node).Error; err != nil {
		return fmt.Errorf("directory service: map directory: %w", err)
	}
	return nil
}

// Delete marks the tree deleted and removes every node whose category holds
// no imported courses anymore, deleting the emptied categories with them.
// Nodes whose categories still contain courses stay behind, as does the root
// record itself so the terminal state is visible.
func (s *Service) Delete(ctx context.Context, serverID string, rootID int64) error {
	tree, err := s.GetTree(ctx, serverID, rootID)
	if err != nil {
		return err
	}
	if err := Transition(tree.Mode, models.DirectoryModeDeleted); err != nil {
		return err
	}
	if tree.Mode == models.DirectoryModeDeleted {
		return nil
	}

	nodes, err := s.ListDirectories(ctx, serverID, rootID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if node.CategoryID != nil {
			inUse, err := s.categoryHoldsCourses(ctx, serverID, *node.CategoryID)
			if err != nil {
				return err
			}
			if inUse {
				continue
			}
			if err := s.categories.DeleteCategory(ctx, *node.CategoryID); err != nil {
				return fmt.Errorf("directory service: delete category: %w", err)
			}
		}
		if err := s.db.WithContext(ctx).Delete(&models.DirectoryRecord{}, "id = ?", node.ID).Error; err != nil {
			return fmt.Errorf("directory service: delete directory: %w", err)
		}
	}

	tree.Mode = models.DirectoryModeDeleted
	if err := s.db.WithContext(ctx).Save(tree).Error; err != nil {
		return fmt.Errorf("directory service: save tree mode: %w", err)
	}
	return nil
}

func (s *Service) categoryHoldsCourses(ctx context.Context, serverID string, categoryID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CourseRecord{}).
		Where("server_id = ? AND category_id = ?", serverID, categoryID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("directory service: count courses in category: %w", err)
	}
	return count > 0, nil
}

// materialize creates categories for all nodes of a whole-mapped tree that do
// not have one yet. Parent categories are resolved before their children so a
// fresh chain nests correctly.
func (s *Service) materialize(ctx context.Context, tree *models.DirectoryTreeRecord) error {
	nodes, err := s.ListDirectories(ctx, tree.ServerID, tree.RootID)
	if err != nil {
		return err
	}

	byDirectoryID := make(map[int64]*models.DirectoryRecord, len(nodes))
	for i := range nodes {
		byDirectoryID[nodes[i].DirectoryID] = &nodes[i]
	}

	var resolve func(node *models.DirectoryRecord) (int64, error)
	resolve = func(node *models.DirectoryRecord) (int64, error) {
		if node.CategoryID != nil {
			return *node.CategoryID, nil
		}
		parentCat := *tree.CategoryID
		if parent, ok := byDirectoryID[node.ParentID]; ok && parent.DirectoryID != node.DirectoryID {
			id, err := resolve(parent)
			if err != nil {
				return 0, err
			}
			parentCat = id
		}
		id, err := s.categories.ResolveCategory(ctx, node.Title, parentCat)
		if err != nil {
			return 0, fmt.Errorf("directory service: create category: %w", err)
		}
		node.CategoryID = &id
		if err := s.db.WithContext(ctx).Save(node).Error; err != nil {
			return 0, fmt.Errorf("directory service: save directory category: %w", err)
		}
		return id, nil
	}

	for i := range nodes {
		if _, err := resolve(&nodes[i]); err != nil {
			return err
		}
	}
	return nil
}
