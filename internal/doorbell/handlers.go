package doorbell

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/eternisai/doorbell-dispatch/internal/errors"
	"github.com/eternisai/doorbell-dispatch/internal/logger"
)

// maxTriggerBytes bounds the request body; a trigger is three short fields.
const maxTriggerBytes = 64 << 10

type Handler struct {
	logger  *logger.Logger
	service *Service
}

func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// PostEvent handles POST /v1/doorbell/events.
// Request body: { "deviceId": "...", "eventId": "...", "timestamp": "..." | <epoch> }
func (h *Handler) PostEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTriggerBytes)
	raw, err := c.GetRawData()
	if err != nil {
		apierrors.AbortWithBadRequest(c, MessageBadRequest, map[string]string{"body": err.Error()})
		return
	}

	// A caller hanging up must not stop delivery to the remaining subscribers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), eventTimeout)
	defer cancel()

	res := h.service.Handle(ctx, raw)
	switch body := res.Body.(type) {
	case string:
		if res.StatusCode == http.StatusNotFound {
			apierrors.NotFoundText(c, body)
			return
		}
		c.String(res.StatusCode, body)
	default:
		c.JSON(res.StatusCode, body)
	}
}

// RegisterRoutes mounts the doorbell endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/doorbell/events", h.PostEvent)
}
