package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids the kiosk browser from caching exam responses; every view
// must reflect the live session.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
