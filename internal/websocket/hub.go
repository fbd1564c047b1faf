package websocket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/models"
)

// Client represents one admitted WebSocket participant.
type Client struct {
	ID     uuid.UUID
	UserID int64
	Role   models.Role
	Name   string

	Conn *websocket.Conn
	Send chan Message

	closeOnce sync.Once
}

func NewClient(userID int64, role models.Role, name string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Role:   role,
		Name:   name,
		Conn:   conn,
		Send:   make(chan Message, 256),
	}
}

// Close makes the write pump flush queued frames, emit a close frame
// and drop the connection. Safe to call more than once. Only the room
// goroutine and the connection handler call it, so nothing can write to
// Send after it closes.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// PresenceListener is told when an admitted participant enters or
// leaves a room. Callbacks run on the room's own goroutine: they may do
// slow work (that stalls only this room) and may call CloseRoom or
// Shutdown, which never block. They must not call Present on the same
// room, which would wait on the goroutine they are running on.
type PresenceListener interface {
	OnJoin(roomID string, role models.Role)
	OnLeave(roomID string, role models.Role)
}

// Hub maps room ids to live rooms. It only routes; all per-room state
// belongs to the room goroutine.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	presence PresenceListener
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*Room),
	}
}

// SetPresenceListener wires the lifecycle controller in. Must be called
// before the first room opens.
func (h *Hub) SetPresenceListener(l PresenceListener) {
	h.presence = l
}

// OpenRoom returns the live room for roomID, starting one if needed.
func (h *Hub) OpenRoom(roomID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, h.presence)
	h.rooms[roomID] = room
	go room.run()

	log.Debug().Str("module", "ws").Str("room_id", roomID).Msg("room opened")
	return room
}

// Room looks up a live room without creating one.
func (h *Hub) Room(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	return room, ok
}

// RoomIDs snapshots the ids of every live room.
func (h *Hub) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Present reports whether the given role currently holds its slot.
// Unknown rooms count as absent.
func (h *Hub) Present(roomID string, role models.Role) bool {
	room, ok := h.Room(roomID)
	if !ok {
		return false
	}
	return room.Present(role)
}

// CloseRoom broadcasts the farewell frame, closes every connection in
// the room and forgets it. Unknown rooms are a no-op.
func (h *Hub) CloseRoom(roomID string, farewell *Message) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	room.Shutdown(farewell)
	log.Debug().Str("module", "ws").Str("room_id", roomID).Msg("room closed")
}

// Shutdown tears down every room, for server exit.
func (h *Hub) Shutdown(farewell *Message) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.Shutdown(farewell)
	}
}
