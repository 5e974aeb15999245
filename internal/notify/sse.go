package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"ai-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StreamOptions configures Stream.
type StreamOptions struct {
	// Topic resolves the caller's topic; false aborts with 401.
	Topic func(c *gin.Context) (string, bool)
	// Snapshot, when set, is sent as the first frame so observers can resync.
	Snapshot  func(c *gin.Context) (any, error)
	Heartbeat time.Duration
}

// Stream serves a topic as Server-Sent Events. Each frame's event name is the
// event type and its data is the JSON-encoded Event.
func Stream(sub Subscriber, opts StreamOptions) gin.HandlerFunc {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		topic, ok := opts.Topic(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		events, cancel := sub.Subscribe(c.Request.Context(), topic)
		defer cancel()

		if opts.Snapshot != nil {
			snap, err := opts.Snapshot(c)
			if err != nil {
				log.Error("sse snapshot failed", "topic", topic, "err", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
				return
			}
			c.SSEvent(string(EventSnapshot), snap)
		} else {
			c.SSEvent("connected", gin.H{"topic": topic})
		}
		c.Writer.Flush()
		log.Debug("sse client connected", "topic", topic)

		ticker := time.NewTicker(opts.Heartbeat)
		defer ticker.Stop()

		gone := c.Request.Context().Done()
		for {
			select {
			case <-gone:
				log.Debug("sse client disconnected", "topic", topic)
				return
			case <-ticker.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				c.Writer.Flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Warn("sse marshal failed", "event_id", ev.ID, "err", err)
					continue
				}
				c.SSEvent(string(ev.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}
