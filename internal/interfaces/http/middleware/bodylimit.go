package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/projectlink/backend/internal/interfaces/http/dto"
)

// BodyLimit rejects requests whose declared Content-Length exceeds
// maxBytes and caps streaming bodies with http.MaxBytesReader so
// chunked uploads cannot bypass the check.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	tooLarge := dto.NewErrorResponse("REQUEST_TOO_LARGE", "Request body exceeds maximum allowed size")

	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, tooLarge)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
