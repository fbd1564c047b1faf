package websocket

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/models"
)

// Room owns the two participant slots of one consultation. Slot state
// is touched only on the room's goroutine; everything else talks to it
// through messages, so there is no shared lock to fight over.
type Room struct {
	id string

	join      chan joinRequest
	leave     chan leaveRequest
	forward   chan forwardRequest
	occupancy chan occupancyRequest

	quit     chan struct{}
	quitOnce sync.Once
	farewell *Message

	presence PresenceListener
}

type joinRequest struct {
	client *Client
}

type leaveRequest struct {
	client *Client
}

type forwardRequest struct {
	from *Client
	msg  Message
}

type occupancyRequest struct {
	role  models.Role
	reply chan bool
}

func newRoom(id string, presence PresenceListener) *Room {
	return &Room{
		id:        id,
		join:      make(chan joinRequest),
		leave:     make(chan leaveRequest),
		forward:   make(chan forwardRequest),
		occupancy: make(chan occupancyRequest),
		quit:      make(chan struct{}),
		presence:  presence,
	}
}

// Join hands an admitted connection to the room. If the same role is
// already connected the older connection is evicted; eviction is not a
// presence change, the role never left. On a closed room the client is
// dropped immediately.
func (r *Room) Join(c *Client) {
	select {
	case r.join <- joinRequest{client: c}:
	case <-r.quit:
		c.Close()
	}
}

// Leave detaches the client if it still holds its slot. The connection
// handler calls this when the read loop ends, whatever the cause.
func (r *Room) Leave(c *Client) {
	select {
	case r.leave <- leaveRequest{client: c}:
	case <-r.quit:
	}
}

// Forward relays a signaling frame to the opposite slot. Frames from an
// evicted connection or towards an empty slot are dropped.
func (r *Room) Forward(from *Client, msg Message) {
	select {
	case r.forward <- forwardRequest{from: from, msg: msg}:
	case <-r.quit:
	}
}

// Present reports whether a participant holds the role's slot.
func (r *Room) Present(role models.Role) bool {
	reply := make(chan bool, 1)
	select {
	case r.occupancy <- occupancyRequest{role: role, reply: reply}:
		return <-reply
	case <-r.quit:
		return false
	}
}

// Shutdown broadcasts the farewell frame, closes both connections and
// stops the room goroutine. It never blocks, so presence callbacks may
// call it from inside the room's own event handling.
func (r *Room) Shutdown(farewell *Message) {
	r.quitOnce.Do(func() {
		r.farewell = farewell
		close(r.quit)
	})
}

func (r *Room) run() {
	var doctor, patient *Client

	slot := func(role models.Role) **Client {
		if role == models.RoleDoctor {
			return &doctor
		}
		return &patient
	}

	deliver := func(c *Client, msg Message) {
		if c == nil {
			return
		}
		select {
		case c.Send <- msg:
		default:
		}
	}

	for {
		select {
		case req := <-r.join:
			c := req.client
			s := slot(c.Role)
			if old := *s; old != nil && old.ID != c.ID {
				log.Info().Str("module", "ws").Str("room_id", r.id).
					Str("role", string(c.Role)).Msg("evicting older connection")
				old.Close()
			}
			*s = c

			peer := *slot(c.Role.Peer())
			deliver(c, NewMessage(TypeJoined, JoinedPayload{
				RoomID:      r.id,
				Role:        string(c.Role),
				PeerPresent: peer != nil,
				PeerName:    peerName(peer),
			}))
			deliver(peer, NewMessage(TypePeerJoined, PeerPayload{
				Role: string(c.Role),
				Name: c.Name,
			}))

			if r.presence != nil {
				r.presence.OnJoin(r.id, c.Role)
			}

		case req := <-r.leave:
			c := req.client
			s := slot(c.Role)
			if *s == nil || (*s).ID != c.ID {
				// an evicted connection winding down; the slot moved on
				continue
			}
			*s = nil
			c.Close()

			deliver(*slot(c.Role.Peer()), NewMessage(TypePeerLeft, PeerPayload{
				Role: string(c.Role),
			}))

			if r.presence != nil {
				r.presence.OnLeave(r.id, c.Role)
			}

		case req := <-r.forward:
			s := slot(req.from.Role)
			if *s == nil || (*s).ID != req.from.ID {
				continue
			}
			if req.msg.Type == TypePing {
				deliver(req.from, NewMessage(TypePong, PongPayload{}))
				continue
			}
			deliver(*slot(req.from.Role.Peer()), req.msg)

		case req := <-r.occupancy:
			req.reply <- *slot(req.role) != nil

		case <-r.quit:
			if r.farewell != nil {
				deliver(doctor, *r.farewell)
				deliver(patient, *r.farewell)
			}
			if doctor != nil {
				doctor.Close()
			}
			if patient != nil {
				patient.Close()
			}
			return
		}
	}
}

func peerName(c *Client) string {
	if c == nil {
		return ""
	}
	return c.Name
}
