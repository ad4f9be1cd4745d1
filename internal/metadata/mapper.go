// Package metadata implements the bidirectional field-mapping engine between
// local course records and remote ECS resource schemas. Each side's fields
// are assigned template strings containing {placeholder} tokens that
// reference fields of the other side.
package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusconnect/ecsbridge/internal/ecs"
	"github.com/campusconnect/ecsbridge/internal/models"
	"github.com/campusconnect/ecsbridge/internal/platform"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// FieldType distinguishes plain text fields from timestamp fields.
type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
)

// localFields is the fixed set of course fields the mapper can fill.
var localFields = map[string]FieldType{
	"fullname":  FieldText,
	"shortname": FieldText,
	"idnumber":  FieldText,
	"summary":   FieldText,
	"startdate": FieldDate,
	"enddate":   FieldDate,
}

// remoteFields is the fixed set of remote schema fields, in dotted notation.
var remoteFields = map[string]FieldType{
	"lectureID":              FieldText,
	"title":                  FieldText,
	"organisation":           FieldText,
	"url":                    FieldText,
	"term":                   FieldText,
	"basicData.lectureType":  FieldText,
	"basicData.hoursPerWeek": FieldText,
	"basicData.credits":      FieldText,
	"timePlace.begin":        FieldDate,
	"timePlace.end":          FieldDate,
	"timePlace.room":         FieldText,
	"timePlace.cycle":        FieldText,
	"lecturers.firstName":    FieldText,
	"lecturers.lastName":     FieldText,
}

// defaultImport maps local course fields from remote resources out of the box.
var defaultImport = map[string]string{
	"fullname":  "{title}",
	"shortname": "{lectureID}",
	"idnumber":  "",
	"summary":   "",
	"startdate": "{timePlace.begin}",
	"enddate":   "{timePlace.end}",
}

// defaultExport mirrors the import defaults for the outbound direction.
var defaultExport = map[string]string{
	"title":           "{fullname}",
	"lectureID":       "{idnumber}",
	"timePlace.begin": "{startdate}",
	"timePlace.end":   "{enddate}",
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Mapper applies the configured templates in both directions. Mapping a
// resource is a pure function of (input, loaded templates); LastError only
// records soft validation problems on the side.
type Mapper struct {
	db *gorm.DB

	importTemplates map[string]string
	exportTemplates map[string]string

	lastErr *appErrors.AppError
}

// NewMapper loads persisted templates, falling back to the defaults for any
// field without a stored row.
func NewMapper(db *gorm.DB) (*Mapper, error) {
	if db == nil {
		return nil, fmt.Errorf("metadata mapper: db is required")
	}

	m := &Mapper{
		db:              db,
		importTemplates: make(map[string]string, len(defaultImport)),
		exportTemplates: make(map[string]string, len(defaultExport)),
	}

	for field, tpl := range defaultImport {
		m.importTemplates[field] = tpl
	}
	for field, tpl := range defaultExport {
		m.exportTemplates[field] = tpl
	}

	var stored []models.MappingSetting
	if err := db.Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("metadata mapper: load settings: %w", err)
	}

	for _, setting := range stored {
		switch setting.Direction {
		case models.MappingImport:
			if _, ok := localFields[setting.Field]; ok {
				m.importTemplates[setting.Field] = setting.Template
			}
		case models.MappingExport:
			if _, ok := remoteFields[setting.Field]; ok {
				m.exportTemplates[setting.Field] = setting.Template
			}
		}
	}

	return m, nil
}

// LocalFields lists the mappable course fields in stable order.
func LocalFields() []string {
	return sortedKeys(localFields)
}

// RemoteFields lists the mappable remote fields in stable order.
func RemoteFields() []string {
	return sortedKeys(remoteFields)
}

func sortedKeys(fields map[string]FieldType) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ImportTemplate returns the active template for a local field.
func (m *Mapper) ImportTemplate(field string) string {
	return m.importTemplates[field]
}

// ExportTemplate returns the active template for a remote field.
func (m *Mapper) ExportTemplate(field string) string {
	return m.exportTemplates[field]
}

// LastError returns the most recent soft validation failure, if any.
func (m *Mapper) LastError() *appErrors.AppError {
	return m.lastErr
}

// SetImportTemplate configures how one local field is filled from remote
// metadata. Unknown placeholders are a soft, field-scoped validation error
// and leave the previous template untouched. Binding a date-typed local
// field to anything but a single date-typed remote placeholder is a hard
// configuration error: that is a broken configuration, not bad user data.
func (m *Mapper) SetImportTemplate(field, template string) error {
	fieldType, ok := localFields[field]
	if !ok {
		return appErrors.NewConfiguration(fmt.Sprintf("unknown local course field %q", field))
	}

	if err := m.checkTemplate(field, fieldType, template, remoteFields); err != nil {
		return err
	}

	if err := m.persist(models.MappingImport, field, template); err != nil {
		return err
	}

	m.importTemplates[field] = template
	return nil
}

// SetExportTemplate configures how one remote field is filled from local
// course data, with the same validation rules as SetImportTemplate.
func (m *Mapper) SetExportTemplate(field, template string) error {
	fieldType, ok := remoteFields[field]
	if !ok {
		return appErrors.NewConfiguration(fmt.Sprintf("unknown remote field %q", field))
	}

	if err := m.checkTemplate(field, fieldType, template, localFields); err != nil {
		return err
	}

	if err := m.persist(models.MappingExport, field, template); err != nil {
		return err
	}

	m.exportTemplates[field] = template
	return nil
}

func (m *Mapper) checkTemplate(field string, fieldType FieldType, template string, sourceFields map[string]FieldType) error {
	placeholders := placeholderPattern.FindAllStringSubmatch(template, -1)

	for _, match := range placeholders {
		if _, ok := sourceFields[match[1]]; !ok {
			err := appErrors.NewValidation(field, fmt.Sprintf("placeholder {%s} is not a valid source field", match[1]))
			m.lastErr = err
			return err
		}
	}

	if fieldType == FieldDate && template != "" {
		if len(placeholders) != 1 || template != "{"+placeholders[0][1]+"}" {
			return appErrors.NewConfiguration(fmt.Sprintf("field %q is date-typed and must map a single source field", field))
		}
		if sourceFields[placeholders[0][1]] != FieldDate {
			return appErrors.NewConfiguration(fmt.Sprintf("field %q is date-typed but {%s} is a text field", field, placeholders[0][1]))
		}
	}

	return nil
}

func (m *Mapper) persist(direction models.MappingDirection, field, template string) error {
	setting := models.MappingSetting{Direction: direction, Field: field, Template: template}

	err := m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "direction"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"template", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("metadata mapper: persist template: %w", err)
	}
	return nil
}

// MapRemoteToCourse fills local course data from flattened remote metadata.
// A template with any unresolved placeholder collapses to the empty value.
// Date fields additionally parse the substituted string; unparseable input
// is recorded as a soft validation error and the field stays unset.
func (m *Mapper) MapRemoteToCourse(remote map[string]string) platform.CourseData {
	var course platform.CourseData

	for field, fieldType := range localFields {
		value, resolved := substitute(m.importTemplates[field], remote)
		if !resolved {
			value = ""
		}

		switch fieldType {
		case FieldText:
			setCourseText(&course, field, value)
		case FieldDate:
			if value == "" {
				continue
			}
			ts, err := ecs.ParseTime(value)
			if err != nil {
				m.lastErr = appErrors.NewValidation(field, fmt.Sprintf("cannot parse %q as a date", value))
				continue
			}
			setCourseDate(&course, field, ts)
		}
	}

	return course
}

// MapCourseToRemote renders local course data into the nested remote schema.
// Scalar fields mapped to the empty string are omitted; a nested wrapper
// (e.g. timePlace) appears iff at least one of its children is non-empty,
// and then carries all of its children.
func (m *Mapper) MapCourseToRemote(course platform.CourseData) map[string]interface{} {
	local := courseValues(course)

	flat := make(map[string]string, len(m.exportTemplates))
	for field, template := range m.exportTemplates {
		value, resolved := substitute(template, local)
		if !resolved {
			value = ""
		}
		flat[field] = value
	}

	out := make(map[string]interface{})
	wrappers := make(map[string]map[string]string)

	for field, value := range flat {
		dot := strings.Index(field, ".")
		if dot < 0 {
			if value != "" {
				out[field] = value
			}
			continue
		}

		parent := field[:dot]
		child := field[dot+1:]
		if wrappers[parent] == nil {
			wrappers[parent] = make(map[string]string)
		}
		wrappers[parent][child] = value
	}

	for parent, children := range wrappers {
		nonEmpty := false
		for _, value := range children {
			if value != "" {
				nonEmpty = true
				break
			}
		}
		if !nonEmpty {
			continue
		}

		nested := make(map[string]interface{}, len(children))
		for child, value := range children {
			nested[child] = value
		}
		out[parent] = nested
	}

	return out
}

// substitute replaces every placeholder from values. The second return is
// false when any placeholder had no value, which voids the whole template.
func substitute(template string, values map[string]string) (string, bool) {
	if template == "" {
		return "", true
	}

	resolved := true
	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := values[name]
		if !ok {
			resolved = false
			return ""
		}
		return value
	})

	if !resolved {
		return "", false
	}
	return result, true
}

func setCourseText(course *platform.CourseData, field, value string) {
	switch field {
	case "fullname":
		course.Fullname = value
	case "shortname":
		course.Shortname = value
	case "idnumber":
		course.IDNumber = value
	case "summary":
		course.Summary = value
	}
}

func setCourseDate(course *platform.CourseData, field string, ts time.Time) {
	switch field {
	case "startdate":
		course.StartDate = &ts
	case "enddate":
		course.EndDate = &ts
	}
}

// courseValues exposes local course data as the flat map the export
// templates draw from.
func courseValues(course platform.CourseData) map[string]string {
	values := map[string]string{
		"fullname":  course.Fullname,
		"shortname": course.Shortname,
		"idnumber":  course.IDNumber,
		"summary":   course.Summary,
	}

	if course.StartDate != nil {
		values["startdate"] = course.StartDate.UTC().Format(time.RFC3339)
	} else {
		values["startdate"] = ""
	}
	if course.EndDate != nil {
		values["enddate"] = course.EndDate.UTC().Format(time.RFC3339)
	} else {
		values["enddate"] = ""
	}

	return values
}
