package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testSettings struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
	Poll int    `json:"poll" validate:"gte=30"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testSettings{
		Name: "central hub",
		URL:  "https://ecs.example.edu",
		Poll: 60,
	}
	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	payload := testSettings{
		Name: "",
		URL:  "not-a-url",
		Poll: 5,
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	var failures ValidationErrors
	require.ErrorAs(t, err, &failures)
	require.Len(t, failures, 3)
	require.Equal(t, "name", failures[0].Field)
	require.Equal(t, "required", failures[0].Tag)

	first := failures.First()
	require.Equal(t, "name", first.Field)
	require.Contains(t, failures.Error(), "poll must satisfy gte=30")
}
