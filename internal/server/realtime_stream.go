package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	socketWriteTimeout       = 10 * time.Second
)

// streamEvent is the frame written to both the event stream and the websocket.
type streamEvent struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newStreamEvent(message realtime.Message) streamEvent {
	return streamEvent{Type: message.EventType, Payload: message.Payload, Timestamp: message.Timestamp}
}

func heartbeatEvent(now time.Time) streamEvent {
	return streamEvent{Type: realtime.EventHeartbeat, Timestamp: now.UTC()}
}

// handleRealtimeStream pushes the caller's events as server-sent events until the client goes away.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	userID := currentUserID(c)
	ctx := c.Request.Context()
	events, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-events:
			if !ok {
				return
			}
			if err := writeServerSentEvent(c.Writer, newStreamEvent(message)); err != nil {
				h.logger.Debug("realtime stream write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case now := <-ticker.C:
			if err := writeServerSentEvent(c.Writer, heartbeatEvent(now)); err != nil {
				h.logger.Debug("realtime stream heartbeat failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

func writeServerSentEvent(writer gin.ResponseWriter, event streamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	writer.Flush()
	return nil
}

// handleRealtimeSocket upgrades to a websocket carrying the same events as the event stream.
// Inbound frames are read only to notice the peer closing.
func (h *httpHandler) handleRealtimeSocket(c *gin.Context) {
	userID := currentUserID(c)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkSocketOrigin,
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var event streamEvent
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(socketWriteTimeout))
			return
		case message, ok := <-events:
			if !ok {
				return
			}
			event = newStreamEvent(message)
		case now := <-ticker.C:
			event = heartbeatEvent(now)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
	}
}

func (h *httpHandler) checkSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}
