package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/middlewares"
	"github.com/varad2005/healthnova-consult/internal/services"
	ws "github.com/varad2005/healthnova-consult/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are pinned by the CORS layer in front
	},
}

// WebSocketHandler turns an admitted HTTP request into a signaling
// connection: upgrade, hand the socket to the room, run the pumps.
type WebSocketHandler struct {
	svc *services.MeetingService
	hub *ws.Hub

	readWait   time.Duration
	writeWait  time.Duration
	pingPeriod time.Duration
}

func NewWebSocketHandler(svc *services.MeetingService, hub *ws.Hub, readWait, writeWait time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		svc:        svc,
		hub:        hub,
		readWait:   readWait,
		writeWait:  writeWait,
		pingPeriod: readWait * 9 / 10,
	}
}

// HandleWebSocket serves GET /ws/consult. Must run behind
// WebSocketAuthMiddleware; the grant on the context is the only
// identity the relay trusts.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	grant, ok := middlewares.WSGrant(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
		return
	}

	// The session may have settled between admission and now; refuse
	// while a proper status code can still be written.
	if !h.svc.StillActive(c.Request.Context(), grant.RoomID) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "consultation is over",
			"code":  "RELAY_REFUSED",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("room_id", grant.RoomID).
			Msg("upgrade failed")
		return
	}

	client := ws.NewClient(grant.UserID, grant.Role, grant.Name, conn)
	room := h.hub.OpenRoom(grant.RoomID)
	room.Join(client)

	// An end racing this join may have settled the row after the
	// admission check; the room then just re-opened for a dead session
	// and is closed again before anyone converses in it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.svc.CloseIfSettled(ctx, grant.RoomID)
	cancel()

	go h.writePump(client)
	go h.readPump(client, room, grant.RoomID)
}

// readPump owns reads on the connection. It forwards signaling frames
// to the room and detaches the client when the connection drops or
// says leave_call.
func (h *WebSocketHandler) readPump(client *ws.Client, room *ws.Room, roomID string) {
	defer func() {
		room.Leave(client)
		client.Close()
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(h.readWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(h.readWait))
		h.svc.Heartbeat(roomID, client.Role)
		return nil
	})

	for {
		var msg ws.Message
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "ws").Str("room_id", roomID).
					Str("role", string(client.Role)).Msg("read failed")
			}
			return
		}

		switch msg.Type {
		case ws.TypeOffer, ws.TypeAnswer, ws.TypeICECandidate:
			if !validSignal(msg) {
				log.Warn().Str("module", "ws").Str("room_id", roomID).
					Str("type", msg.Type).Msg("dropping malformed frame")
				continue
			}
			room.Forward(client, msg)

		case ws.TypePing:
			h.svc.Heartbeat(roomID, client.Role)
			room.Forward(client, msg)

		case ws.TypeLeaveCall:
			return

		default:
			log.Warn().Str("module", "ws").Str("room_id", roomID).
				Str("type", msg.Type).Msg("unknown frame type")
		}
	}
}

// writePump owns writes on the connection: queued frames from the room
// plus protocol pings. A closed Send channel means the room is done
// with this client; the close frame is the goodbye.
func (h *WebSocketHandler) writePump(client *ws.Client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// validSignal rejects signaling frames with nothing in them before
// they reach the peer. Payloads are otherwise forwarded verbatim.
func validSignal(msg ws.Message) bool {
	switch msg.Type {
	case ws.TypeOffer:
		var p ws.RTCOfferPayload
		return json.Unmarshal(msg.Payload, &p) == nil && p.SDP != ""
	case ws.TypeAnswer:
		var p ws.RTCAnswerPayload
		return json.Unmarshal(msg.Payload, &p) == nil && p.SDP != ""
	case ws.TypeICECandidate:
		var p ws.ICECandidatePayload
		return json.Unmarshal(msg.Payload, &p) == nil && p.Candidate != ""
	}
	return false
}
