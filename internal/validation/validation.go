// Package validation provides input validation middleware for the txsentry API.
package validation

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size for JSON endpoints (1MB)
const MaxRequestSize = 1 << 20

// MaxUploadSize is the maximum request body size for CSV uploads (128MB).
// A 750k-row upload with every feature column present stays well under it.
const MaxUploadSize = 128 << 20

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, limits length, and strips control
// characters.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
