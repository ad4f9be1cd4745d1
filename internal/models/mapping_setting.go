package models

// MappingDirection selects which side of the metadata mapping a template
// belongs to.
type MappingDirection string

const (
	// MappingImport maps remote resource fields onto local course fields.
	MappingImport MappingDirection = "import"
	// MappingExport maps local course fields onto remote resource fields.
	MappingExport MappingDirection = "export"
)

// MappingSetting persists one field's template for one mapping direction,
// e.g. direction=import, field=fullname, template="{title} ({lectureID})".
type MappingSetting struct {
	BaseModel

	Direction MappingDirection `gorm:"not null;uniqueIndex:idx_mapping_field" json:"direction"`
	Field     string           `gorm:"not null;uniqueIndex:idx_mapping_field" json:"field"`
	Template  string           `json:"template"`
}
