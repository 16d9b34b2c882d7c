package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/earchibald/komorebi-sub001/pkg/events"
)

// streamEvents serves GET /events as Server-Sent Events: every subscriber
// gets its own bounded channel from the bus and sees chunk.created,
// chunk.updated, entities.extracted, compaction.*, mcp.status_changed, and
// the synthetic events.dropped marker.
func (h *handlers) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	sub := h.deps.Bus.Subscribe()
	defer sub.Unsubscribe()

	flusher, ok := c.Writer.(http.Flusher)
	flush := func() {}
	if ok {
		flush = flusher.Flush
	}

	if err := events.ServeSSE(c.Request.Context(), c.Writer, sub, flush); err != nil {
		h.logger.Debug("sse stream ended", "error", err)
	}
}
