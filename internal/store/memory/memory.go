package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Store keeps identities and messages in process memory.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*store.Identity
	order      []string
	messages   []store.Message
	clock      store.Clock
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{identities: make(map[string]*store.Identity)}
}

// WithClock overrides the journal time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.clock.Now = now
	return s
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateIdentity persists a new identity.
func (s *Store) CreateIdentity(_ context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.identities {
		if existing.Username == identity.Username {
			return store.ErrConflict
		}
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if _, ok := s.identities[identity.ID]; ok {
		return store.ErrConflict
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	cp := *identity
	s.identities[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(_ context.Context, id string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

// GetIdentityByUsername retrieves an identity by login handle.
func (s *Store) GetIdentityByUsername(_ context.Context, username string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := lo.Find(lo.Values(s.identities), func(i *store.Identity) bool {
		return i.Username == username
	})
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

// ListIdentities returns identities in creation order.
func (s *Store) ListIdentities(_ context.Context) ([]*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(s.order, func(id string, _ int) *store.Identity {
		cp := *s.identities[id]
		return &cp
	}), nil
}

// SetCredentials replaces the stored digest and salt.
func (s *Store) SetCredentials(_ context.Context, id string, digest, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	identity.CredentialDigest = append([]byte(nil), digest...)
	identity.CredentialSalt = append([]byte(nil), salt...)
	return nil
}

// Append records a message under the write lock, so IDs and sequence numbers
// are assigned in completion order.
func (s *Store) Append(_ context.Context, senderID, text string) (store.Message, error) {
	if err := store.CheckText(text); err != nil {
		return store.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[senderID]; !ok {
		return store.Message{}, store.UnknownSender(senderID)
	}

	msg := store.Message{
		ID:        uuid.NewString(),
		Seq:       int64(len(s.messages)) + 1,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: s.clock.Next(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// List returns messages in journal order, optionally filtered by sender.
func (s *Store) List(_ context.Context, senderID string) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if senderID == "" {
		return append([]store.Message(nil), s.messages...), nil
	}
	return lo.Filter(s.messages, func(m store.Message, _ int) bool {
		return m.SenderID == senderID
	}), nil
}
