package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

func performRequest(t *testing.T, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return w
}

func TestSuccess(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"servers": 2})
	})

	require.Equal(t, http.StatusOK, w.Code)

	var parsed Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	require.True(t, parsed.Success)
	require.Nil(t, parsed.Error)
}

func TestErrorRendersAppError(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Error(c, appErrors.NewValidation("fullname", "unknown placeholder"))
	})

	require.Equal(t, http.StatusBadRequest, w.Code)

	var parsed Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	require.False(t, parsed.Success)
	require.Equal(t, "VALIDATION_FAILED", parsed.Error.Code)
	require.Equal(t, "fullname", parsed.Error.Field)
}

func TestErrorDefaultsToInternal(t *testing.T) {
	w := performRequest(t, func(c *gin.Context) {
		Error(c, nil)
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
