package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vitalmesh/consentd/pkg/response"
)

// Health returns a status payload useful for readiness checks. When a
// database handle is supplied the check also pings it, reporting degraded
// instead of failing outright so load balancers can tell the states apart.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK

		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		c.JSON(code, response.Response{
			Success: code == http.StatusOK,
			Data:    gin.H{"status": status},
		})
	}
}
