package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// ParticipantService maintains the community membership mirror of each
// server. Memberships are rebuilt wholesale from the hub's answer; only the
// locally configured import/export flags survive a refresh.
type ParticipantService struct {
	db *gorm.DB
}

func NewParticipantService(db *gorm.DB) (*ParticipantService, error) {
	if db == nil {
		return nil, fmt.Errorf("participant service: db is nil")
	}
	return &ParticipantService{db: db}, nil
}

// List returns the stored participants of one server.
func (s *ParticipantService) List(ctx context.Context, serverID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("community, mid").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("participant service: list: %w", err)
	}
	return participants, nil
}

// ExportRecipients returns the MIDs resources are published to.
func (s *ParticipantService) ExportRecipients(ctx context.Context, serverID string) ([]int, error) {
	var mids []int
	err := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("server_id = ? AND export_enabled = ? AND its_you = ?", serverID, true, false).
		Order("mid").
		Pluck("mid", &mids).Error
	if err != nil {
		return nil, fmt.Errorf("participant service: export recipients: %w", err)
	}
	return mids, nil
}

// ImportSources returns the participants whose resources are imported,
// keyed by MID so event processing can look up the import type.
func (s *ParticipantService) ImportSources(ctx context.Context, serverID string) (map[int]models.Participant, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND import_enabled = ?", serverID, true).
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("participant service: import sources: %w", err)
	}

	byMID := make(map[int]models.Participant, len(participants))
	for _, p := range participants {
		byMID[p.MID] = p
	}
	return byMID, nil
}

// RefreshCommunities replaces the stored membership mirror with the hub's
// current answer. Rows are matched by (server, mid); flags of surviving rows
// carry over, participants the hub no longer reports are dropped.
func (s *ParticipantService) RefreshCommunities(ctx context.Context, serverID string, memberships []ecs.Membership) error {
	existing, err := s.List(ctx, serverID)
	if err != nil {
		return err
	}
	flagsByMID := make(map[int]models.Participant, len(existing))
	for _, p := range existing {
		flagsByMID[p.MID] = p
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server_id = ?", serverID).Delete(&models.Participant{}).Error; err != nil {
			return fmt.Errorf("participant service: clear memberships: %w", err)
		}

		seen := make(map[int]bool)
		for _, membership := range memberships {
			for _, info := range membership.Participants {
				if seen[info.MID] {
					continue
				}
				seen[info.MID] = true

				row := models.Participant{
					ServerID:   serverID,
					MID:        info.MID,
					Community:  membership.Community.Name,
					Name:       info.Name,
					Domain:     info.DNS,
					Email:      info.Email,
					ItsYou:     info.ItsYou,
					ImportType: models.ImportLink,
				}
				if info.Org != nil {
					row.Organisation = info.Org.Name
					row.OrgAbbr = info.Org.Abbr
				}
				if prev, ok := flagsByMID[info.MID]; ok {
					row.ExportEnabled = prev.ExportEnabled
					row.ImportEnabled = prev.ImportEnabled
					row.ImportType = prev.ImportType
				}

				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("participant service: store participant: %w", err)
				}
			}
		}
		return nil
	})
}

// UpdateFlags changes the import/export configuration of one participant.
func (s *ParticipantService) UpdateFlags(ctx context.Context, serverID string, mid int, exportEnabled, importEnabled bool, importType models.ImportType) error {
	switch importType {
	case models.ImportLink, models.ImportCourse, models.ImportCMS:
	default:
		return appErrors.NewValidation("import_type", fmt.Sprintf("unknown import type %q", importType))
	}

	result := s.db.WithContext(ctx).Model(&models.Participant{}).
		Where("server_id = ? AND mid = ?", serverID, mid).
		Updates(map[string]interface{}{
			"export_enabled": exportEnabled,
			"import_enabled": importEnabled,
			"import_type":    importType,
		})
	if result.Error != nil {
		return fmt.Errorf("participant service: update flags: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return appErrors.NewNotFound(fmt.Sprintf("participant %d is not a member of any community on this server", mid))
	}
	return nil
}
