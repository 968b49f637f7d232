package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSelectPeer  = "select_peer"
	InboundTypeSendMessage = "send_message"

	OutboundTypeEvent   = "event"
	OutboundTypeAck     = "ack"
	OutboundTypeError   = "error"
	OutboundTypeWelcome = "welcome"

	EventReceiveMessage = "receive_message"
	EventPeerSelected   = "peer_selected"
)

// SelectPeerData names the identity the client is now viewing.
type SelectPeerData struct {
	PeerID string `json:"peer_id"`
}

// SendMessageData is a chat message composed on the live channel.
type SendMessageData struct {
	Text string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Welcome is the first frame on an admitted connection.
type Welcome struct {
	Protocol   int    `json:"protocol"`
	ConnID     string `json:"conn_id"`
	IdentityID string `json:"identity_id"`
	ExpiresAt  int64  `json:"expires_at"` // unix milliseconds
}

// Message is the wire form of a journaled message, shared by the REST API
// and the live channel so both paths carry identical fields.
type Message struct {
	ID        string `json:"id"`
	MemberID  string `json:"member_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"` // unix milliseconds
}

// EventPeerSelectedData tells a client which identity another client is viewing.
type EventPeerSelectedData struct {
	PeerID string `json:"peer_id"`
	By     string `json:"by"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
