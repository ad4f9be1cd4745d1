package models

// CourseRecord joins one remote course resource to a local course created
// from it. InternalLink is 0 for the real course; a nonzero value points at
// the real course's id and marks this row's course as a redirect placeholder
// standing in for an additional category allocation.
type CourseRecord struct {
	BaseModel

	ServerID     string `gorm:"not null;index:idx_crs_resource" json:"server_id"`
	ResourceID   int64  `gorm:"not null;index:idx_crs_resource" json:"resource_id"`
	MID          int    `gorm:"column:mid" json:"mid"`
	CourseID     int64  `gorm:"not null;index" json:"course_id"`
	CategoryID   int64  `json:"category_id"`
	InternalLink int64  `json:"internal_link"`
}

// IsReal reports whether the row points at the primary local course rather
// than a redirect placeholder.
func (c *CourseRecord) IsReal() bool {
	return c.InternalLink == 0
}
