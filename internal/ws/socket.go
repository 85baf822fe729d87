package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
)

// TokenValidator checks a bearer token and yields its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// SocketHandler owns the single live-channel endpoint. Identity comes from
// the handshake query (userId) or a later join frame; a token, when present,
// must validate.
type SocketHandler struct {
	hub      *Hub
	verifier TokenValidator
	upgrader websocket.Upgrader
}

// NewSocketHandler constructs a SocketHandler. allowedOrigin of "" admits any
// origin.
func NewSocketHandler(hub *Hub, verifier TokenValidator, allowedOrigin string) *SocketHandler {
	return &SocketHandler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
	}
}

// inboundEvent is a client frame: join, joinGroup or leaveGroup, with a bare
// id string as data.
type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handle upgrades the connection, registers it with the hub and runs the
// read loop until disconnect.
func (h *SocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.Query("userId")
	if token := c.Query("token"); token != "" {
		claims, err := h.verifier.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	client := NewClient(conn, ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	})
	h.hub.Register(client)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, client, "ws_connect", "")

	go h.readLoop(ctx, conn, client)
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	var closeReason string
	defer func() {
		h.hub.Unregister(client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, client, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, client, "ws_error", closeReason)
			}
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		var id string
		if err := json.Unmarshal(event.Data, &id); err != nil {
			continue
		}

		switch event.Event {
		case models.EventJoin:
			h.hub.JoinPersonal(client, id)
		case models.EventJoinGroup:
			h.hub.JoinGroup(client, id)
		case models.EventLeaveGroup:
			h.hub.LeaveGroup(client, id)
		}
	}
}

func (h *SocketHandler) publishLifecycle(ctx context.Context, client *Client, event, reason string) {
	info := client.Info()
	_ = observability.PublishEvent(ctx, "ws_events.connections", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
