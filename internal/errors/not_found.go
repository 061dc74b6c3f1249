package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NotFoundText sends a 404 with a plain-text body, the shape doorbell triggers expect.
func NotFoundText(c *gin.Context, message string) {
	c.String(http.StatusNotFound, message)
}
