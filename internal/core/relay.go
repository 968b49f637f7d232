package core

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Relay submits messages to the journal and fans them out to live clients.
// It also relays presence announcements between clients.
type Relay struct {
	journal  store.Journal
	registry *Registry
	log      *zerolog.Logger

	// submitMu spans append and broadcast so every queue sees journal order.
	submitMu sync.Mutex
}

// NewRelay creates a relay over journal and registry.
func NewRelay(journal store.Journal, registry *Registry, logger *zerolog.Logger) *Relay {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{
		journal:  journal,
		registry: registry,
		log:      logger,
	}
}

// Registry returns the registry the relay broadcasts to.
func (r *Relay) Registry() *Registry { return r.registry }

// Journal returns the journal messages are appended to.
func (r *Relay) Journal() store.Journal { return r.journal }

// Submit appends the message and then broadcasts it to every admitted client.
// Once the append succeeds the submission has succeeded; clients that miss the
// broadcast still see the message on their next List.
func (r *Relay) Submit(ctx context.Context, senderID, text string) (store.Message, error) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	msg, err := r.journal.Append(ctx, senderID, text)
	if err != nil {
		return store.Message{}, err
	}

	delivered := r.registry.Broadcast(&Event{Kind: EventMessage, Message: msg, From: senderID})
	r.log.Debug().
		Str("message_id", msg.ID).
		Str("sender_id", senderID).
		Int("delivered", delivered).
		Msg("message submitted")
	return msg, nil
}

// Announce relays ev to every client except from. Delivery is best-effort.
func (r *Relay) Announce(from *Client, ev *Event) int {
	if ev.From == "" {
		ev.From = from.IdentityID
	}
	return r.registry.BroadcastExcept(from.ID, ev)
}

// SelectPeer records which identity from is viewing and tells the other clients.
func (r *Relay) SelectPeer(from *Client, peerID string) error {
	if err := r.registry.BindPeer(from.ID, peerID); err != nil {
		return err
	}
	r.Announce(from, &Event{Kind: EventPeerSelected, PeerID: peerID})
	return nil
}

// Execute runs a live-channel command for c and returns the direct reply, if any.
func (r *Relay) Execute(ctx context.Context, c *Client, cmd *Command) (*Event, error) {
	switch cmd.Kind {
	case CommandSelectPeer:
		if strings.TrimSpace(cmd.PeerID) == "" {
			return nil, coreError(ErrCodeBadRequest, "peer_id is required")
		}
		return nil, r.SelectPeer(c, cmd.PeerID)
	case CommandSendMessage:
		msg, err := r.Submit(ctx, c.IdentityID, cmd.Text)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventAck, Message: msg, From: c.IdentityID}, nil
	default:
		return nil, ErrBadRequest
	}
}
