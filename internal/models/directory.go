package models

// DirectoryMode is the mapping state of an imported directory tree. Pending
// trees may pick Whole or Manual exactly once; Deleted is terminal. All
// other transitions are configuration errors (see directory.Transition).
type DirectoryMode string

const (
	DirectoryModePending DirectoryMode = "pending"
	DirectoryModeWhole   DirectoryMode = "whole"
	DirectoryModeManual  DirectoryMode = "manual"
	DirectoryModeDeleted DirectoryMode = "deleted"
)

// DirectoryTreeRecord is the root of one imported directory tree resource.
type DirectoryTreeRecord struct {
	BaseModel

	ServerID   string `gorm:"not null;uniqueIndex:idx_dirtree_root" json:"server_id"`
	ResourceID int64  `gorm:"not null" json:"resource_id"`
	RootID     int64  `gorm:"not null;uniqueIndex:idx_dirtree_root" json:"root_id"`
	MID        int    `gorm:"column:mid" json:"mid"`
	Title      string `json:"title"`

	CategoryID *int64        `json:"category_id,omitempty"`
	Mode       DirectoryMode `gorm:"not null;default:pending" json:"mode"`

	TakeoverTitle      bool `json:"takeover_title"`
	TakeoverPosition   bool `json:"takeover_position"`
	TakeoverAllocation bool `json:"takeover_allocation"`
}

// DirectoryRecord is one node below a directory tree root.
type DirectoryRecord struct {
	BaseModel

	ServerID    string `gorm:"not null;uniqueIndex:idx_directory_node" json:"server_id"`
	RootID      int64  `gorm:"not null;uniqueIndex:idx_directory_node" json:"root_id"`
	DirectoryID int64  `gorm:"not null;uniqueIndex:idx_directory_node" json:"directory_id"`
	ParentID    int64  `json:"parent_id"`
	Title       string `json:"title"`
	SortOrder   int    `json:"sort_order"`

	CategoryID *int64 `json:"category_id,omitempty"`
}
