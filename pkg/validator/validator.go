// Package validator wraps go-playground struct validation and reports
// failures under their JSON field names, matching the field-scoped errors the
// admin API returns.
package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// FieldError is a single field that failed its validation tag.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

func (e FieldError) Error() string {
	if e.Param != "" {
		return e.Field + " must satisfy " + e.Tag + "=" + e.Param
	}
	return e.Field + " must satisfy " + e.Tag
}

// ValidationErrors collects every failed field of one struct.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// First returns the first failed field. Callers that surface one
// field-scoped error at a time start here.
func (v ValidationErrors) First() FieldError {
	if len(v) == 0 {
		return FieldError{}
	}
	return v[0]
}

// ValidateStruct checks s against its validate tags. A failure comes back as
// ValidationErrors in declaration order.
func ValidateStruct(s interface{}) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	failures := make(ValidationErrors, 0, len(ve))
	for _, fe := range ve {
		failures = append(failures, FieldError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return failures
}

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New()

		// Failures are reported under the json tag so API clients can match
		// them to request fields. Untagged or hidden fields keep the Go name.
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if comma := strings.Index(name, ","); comma != -1 {
				name = name[:comma]
			}
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return instance
}
