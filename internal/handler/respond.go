package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborchat/harbor/internal/service"
)

// respondError maps the service error taxonomy onto stable status codes.
// The socket transport maps the same kinds into ack payloads.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch service.KindOf(err) {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindNotAuthorized:
		status = http.StatusForbidden
	case service.KindValidation, service.KindConflict, service.KindPolicyViolation:
		status = http.StatusBadRequest
	case service.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    string(service.KindOf(err)),
			"message": err.Error(),
		},
	})
}
