package core

import (
	"sync"
	"time"
)

// Client is an admitted live connection as seen by the core layer.
type Client struct {
	ID         string
	IdentityID string
	ExpiresAt  time.Time

	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	peer string
}

// NewClient constructs a client with a bounded outbound queue.
func NewClient(id, identityID string, expiresAt time.Time, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		ID:         id,
		IdentityID: identityID,
		ExpiresAt:  expiresAt,
		events:     make(chan *Event, queueSize),
		done:       make(chan struct{}),
	}
}

// Events is the outbound queue drained by the connection's writer.
func (c *Client) Events() <-chan *Event { return c.events }

// Done is closed once the client has been removed from the registry.
func (c *Client) Done() <-chan struct{} { return c.done }

// Closed reports whether the client has been removed.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Peer returns the identity the client is currently viewing, if any.
func (c *Client) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Client) setPeer(identityID string) {
	c.mu.Lock()
	c.peer = identityID
	c.mu.Unlock()
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	queueFull
	clientClosed
)

// enqueue never blocks. The events channel is never closed, so a send racing
// with close cannot panic; the writer stops reading once done is closed.
func (c *Client) enqueue(ev *Event) enqueueResult {
	if c.Closed() {
		return clientClosed
	}
	select {
	case c.events <- ev:
		return enqueued
	default:
		return queueFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
