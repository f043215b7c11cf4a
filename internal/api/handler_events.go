package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sseKeepAlive is the interval between ping events on an idle feed.
var sseKeepAlive = 25 * time.Second

// StreamEvents serves the change feed as Server-Sent Events. The optional
// tables query parameter is a comma separated filter. A "ready" event is
// sent once the subscription is live.
func (h *Handler) StreamEvents(c *gin.Context) {
	var tables []string
	for _, t := range strings.Split(c.Query("tables"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}

	sub := h.hub.Subscribe(64, tables...)
	defer sub.Cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("ready", gin.H{"tables": tables})
	c.Writer.Flush()
	h.logger.Debug("Event stream opened", zap.Strings("tables", tables), zap.String("ip", c.ClientIP()))

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(e.Table, e)
			return true
		case <-ping.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
