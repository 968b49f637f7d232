package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/utils"
)

// TokenVerifier resolves a bearer token into a session.
type TokenVerifier interface {
	VerifySession(token string) (auth.Session, error)
}

// RegistryOptions tunes the connection registry.
type RegistryOptions struct {
	// QueueSize bounds each client's outbound queue. A client whose queue is
	// full when a broadcast arrives is dropped.
	QueueSize int
	// SweepInterval is how often Run removes clients whose token has expired.
	SweepInterval time.Duration
}

// Registry is the set of admitted live connections.
type Registry struct {
	verifier TokenVerifier
	opts     RegistryOptions
	log      *zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry(verifier TokenVerifier, opts RegistryOptions, logger *zerolog.Logger) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		verifier: verifier,
		opts:     opts,
		log:      logger,
		now:      time.Now,
		clients:  make(map[string]*Client),
	}
}

// Admit verifies token and registers a new client for its subject.
// Nothing is registered when verification fails.
func (r *Registry) Admit(token string) (*Client, error) {
	client, err := r.Authenticate(token)
	if err != nil {
		return nil, err
	}
	r.Register(client)
	return client, nil
}

// Authenticate verifies token and builds a client for its subject without
// registering it. The live channel calls Register once its socket is open.
func (r *Registry) Authenticate(token string) (*Client, error) {
	session, err := r.verifier.VerifySession(token)
	if err != nil {
		ev := r.log.Debug().Err(err)
		var tokenErr *auth.TokenError
		if errors.As(err, &tokenErr) {
			ev = ev.Str("reason", string(tokenErr.Reason)).AnErr("cause", tokenErr.Err)
		}
		ev.Msg("live channel admission refused")
		return nil, ErrUnauthorized
	}
	return NewClient(utils.NewID("conn"), session.Subject, session.ExpiresAt, r.opts.QueueSize), nil
}

// Register makes client visible to broadcasts.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()

	r.log.Debug().
		Str("client_id", client.ID).
		Str("identity_id", client.IdentityID).
		Time("expires_at", client.ExpiresAt).
		Msg("client admitted")
}

// Get returns the admitted client with the given handle.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of admitted clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// BindPeer records which identity the client is viewing. It does not affect delivery.
func (r *Registry) BindPeer(id, identityID string) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrClientNotFound
	}
	c.setPeer(identityID)
	return nil
}

// Remove unregisters a client and signals its Done channel. It is idempotent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if ok {
		c.close()
		r.log.Debug().Str("client_id", id).Msg("client removed")
	}
	return ok
}

// Broadcast enqueues ev for every admitted client and returns how many accepted it.
func (r *Registry) Broadcast(ev *Event) int {
	return r.broadcast(ev, "")
}

// BroadcastExcept is Broadcast without the client identified by skipID.
func (r *Registry) BroadcastExcept(skipID string, ev *Event) int {
	return r.broadcast(ev, skipID)
}

// broadcast works on a snapshot, so Remove may run concurrently. Clients with a
// full queue are dropped after the loop.
func (r *Registry) broadcast(ev *Event, skipID string) int {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id != skipID {
			snapshot = append(snapshot, c)
		}
	}
	r.mu.RUnlock()

	var (
		delivered int
		slow      []*Client
	)
	for _, c := range snapshot {
		switch c.enqueue(ev) {
		case enqueued:
			delivered++
		case queueFull:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		if r.Remove(c.ID) {
			r.log.Warn().
				Str("client_id", c.ID).
				Str("identity_id", c.IdentityID).
				Stringer("event", ev.Kind).
				Msg("dropping slow client")
		}
	}
	return delivered
}

// Sweep removes clients whose token expired at or before now.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	var expired []string
	for id, c := range r.clients {
		if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if r.Remove(id) {
			removed++
		}
	}
	if removed > 0 {
		r.log.Info().Int("count", removed).Msg("expired sessions removed")
	}
	return removed
}

// Run sweeps expired clients until ctx is cancelled, then removes every client.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(r.now())
		case <-ctx.Done():
			r.closeAll()
			return
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
