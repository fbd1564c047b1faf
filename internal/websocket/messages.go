package websocket

import "encoding/json"

// Frame types a participant may send.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypeLeaveCall    = "leave_call"
	TypePing         = "ping"
)

// Frame types the server sends.
const (
	TypeJoined       = "joined"
	TypePeerJoined   = "peer_joined"
	TypePeerLeft     = "peer_left"
	TypeSessionEnded = "session_ended"
	TypePong         = "pong"
)

// Message is the envelope for all WebSocket communication. The payload
// stays opaque to the relay for forwarded signaling frames.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage wraps a payload struct in an envelope.
func NewMessage(msgType string, payload interface{}) Message {
	data, _ := json.Marshal(payload)
	return Message{Type: msgType, Payload: data}
}

// JoinedPayload confirms admission to the joining participant.
type JoinedPayload struct {
	RoomID      string `json:"room_id"`
	Role        string `json:"role"`
	PeerPresent bool   `json:"peer_present"`
	PeerName    string `json:"peer_name,omitempty"`
}

// PeerPayload announces the other party arriving or leaving.
type PeerPayload struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// SessionEndedPayload is the final frame before the room closes.
type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

// RTCOfferPayload contains an SDP offer
type RTCOfferPayload struct {
	SDP string `json:"sdp"`
}

// RTCAnswerPayload contains an SDP answer
type RTCAnswerPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload contains full ICE candidate data
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`        // Media stream id, can be null
	SDPMLineIndex *int    `json:"sdpMLineIndex"` // Media line index, can be null
}

// PongPayload answers an application-level ping.
type PongPayload struct{}
