package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusconnect/ecsbridge/pkg/response"
)

// Health reports process liveness and database reachability.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		dbStatus := "ok"

		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}

		response.Success(c, http.StatusOK, gin.H{
			"status":   status,
			"database": dbStatus,
		})
	}
}
