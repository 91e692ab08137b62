package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	eventLibraryChanged = "library-change"
	eventHeartbeat      = "heartbeat"

	heartbeatInterval = 25 * time.Second
)

// handleEvents streams server-sent events to the client. One event type
// covers every store mutation; clients reload whatever views they have open.
// Heartbeats keep idle connections from being reaped by proxies.
func (h *httpHandler) handleEvents(c *gin.Context) {
	changes, cancel := h.library.Notifier().Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			c.SSEvent(eventLibraryChanged, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		}
	}
}
