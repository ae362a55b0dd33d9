package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irfndi/tradepilot/internal/services/pubsub"
)

const (
	eventPingInterval = 25 * time.Second
	eventWriteWait    = 10 * time.Second
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type EventStreamer interface {
	StreamUser(ctx context.Context, userID string) (<-chan pubsub.Envelope, func() error, error)
}

// EventHandler pushes the caller's opportunity and trade events over a
// websocket. Clients only receive; anything they send is discarded.
type EventHandler struct {
	streamer     EventStreamer
	pingInterval time.Duration
}

// NewEventHandler accepts a nil streamer; the endpoint then answers 503.
func NewEventHandler(streamer EventStreamer) *EventHandler {
	return &EventHandler{streamer: streamer, pingInterval: eventPingInterval}
}

func (h *EventHandler) Stream(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if h == nil || h.streamer == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Status: "error",
			Code:   "unavailable",
			Error:  "event streaming requires redis",
		})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, stop, err := h.streamer.StreamUser(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer func() {
		_ = stop()
	}()

	// The upgrader writes its own error response.
	conn, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pongWait := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
