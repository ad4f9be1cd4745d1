package models

// ImportType chooses how resources from a participant are materialised locally.
type ImportType string

const (
	// ImportLink creates a local course containing only a link to the
	// remote course (the default).
	ImportLink ImportType = "link"
	// ImportCourse creates a full local course from the remote metadata.
	ImportCourse ImportType = "course"
	// ImportCMS hands the resource to the campus-management integration.
	ImportCMS ImportType = "cms"
)

// Participant records one organisation's membership within an ECS community.
// The membership itself is transient (rebuilt from every memberships query);
// only the local import/export flags persist, re-attached by (server, mid).
type Participant struct {
	BaseModel

	ServerID string `gorm:"not null;uniqueIndex:idx_participant_server_mid" json:"server_id"`
	MID      int    `gorm:"column:mid;not null;uniqueIndex:idx_participant_server_mid" json:"mid"`

	// Descriptive fields refreshed from the last memberships response.
	Community    string `json:"community"`
	Name         string `json:"name"`
	Organisation string `json:"organisation"`
	OrgAbbr      string `json:"org_abbr"`
	Domain       string `json:"domain"`
	Email        string `json:"email"`

	// ItsYou marks the membership representing this installation.
	ItsYou bool `json:"itsyou"`

	ExportEnabled bool       `json:"export_enabled"`
	ImportEnabled bool       `json:"import_enabled"`
	ImportType    ImportType `gorm:"default:link" json:"import_type"`
}
