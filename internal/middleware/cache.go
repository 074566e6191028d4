package middleware

import (
	"fmt"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header for responses, usually static assets.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// StaticCacheControl marks HTML documents no-cache and lets other assets be
// cached for maxAgeSeconds. The CRM page must be re-fetched after edits or the
// OAuth client keeps running stale code.
func StaticCacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		ext := strings.ToLower(path.Ext(p))
		if strings.HasSuffix(p, "/") || ext == "" || ext == ".html" || ext == ".htm" {
			c.Header("Cache-Control", "no-cache")
		} else {
			c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAgeSeconds))
		}
		c.Next()
	}
}
