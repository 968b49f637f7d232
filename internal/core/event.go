package core

import "github.com/vovakirdan/chatrelay/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage delivers a journaled message to every live connection.
	EventMessage EventKind = iota
	// EventPeerSelected tells other connections which identity a client is viewing.
	EventPeerSelected
	// EventAck answers a send on the live channel with the journaled message.
	EventAck
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "receive_message"
	case EventPeerSelected:
		return "peer_selected"
	case EventAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Message store.Message // EventMessage, EventAck
	PeerID  string        // EventPeerSelected
	From    string        // identity that caused the event
}
