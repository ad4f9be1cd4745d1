package models

// ParallelGroupRecord maps one remote parallel group onto a local
// (course, group) pair. GroupID is 0 when the bucket needed no sub-group.
type ParallelGroupRecord struct {
	BaseModel

	ServerID   string `gorm:"not null;index:idx_pgroup_resource" json:"server_id"`
	ResourceID int64  `gorm:"not null;index:idx_pgroup_resource" json:"resource_id"`
	CourseID   int64  `gorm:"not null;index" json:"course_id"`
	CMSGroupID string `gorm:"column:cms_group_id;not null" json:"cms_group_id"`
	GroupTitle string `json:"group_title"`
	GroupID    int64  `json:"group_id"`
}
