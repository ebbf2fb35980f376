package middleware

import (
	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header for responses.
func CacheControl(value string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}

// NoStore keeps browsers and proxies from caching per-student state.
func NoStore() gin.HandlerFunc {
	return CacheControl("no-store")
}
