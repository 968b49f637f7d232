package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSelectPeer records the viewed conversation partner and announces it.
	CommandSelectPeer CommandKind = iota
	// CommandSendMessage submits a message authored by the client's identity.
	CommandSendMessage
)

// Command represents an action requested over the live channel.
type Command struct {
	Kind   CommandKind
	PeerID string
	Text   string
}
