//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_journal.go -package=mocks github.com/vovakirdan/chatrelay/internal/store Journal
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a referenced identity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an identity with the same username exists.
	ErrConflict = errors.New("already exists")
)

// ValidationError reports input the journal refuses to record.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Identity is a registered chat participant.
type Identity struct {
	ID               string
	Username         string
	DisplayName      string
	AvatarURI        string
	CredentialDigest []byte
	CredentialSalt   []byte
	CreatedAt        time.Time
}

// Message is a journaled chat message. ID, Seq and CreatedAt are assigned by the journal.
type Message struct {
	ID        string
	Seq       int64
	SenderID  string
	Text      string
	CreatedAt int64 // unix milliseconds
}

// IdentityStore handles identity persistence.
type IdentityStore interface {
	// CreateIdentity persists a new identity. ID and CreatedAt are filled in when empty.
	CreateIdentity(ctx context.Context, identity *Identity) error

	// GetIdentity retrieves an identity by ID.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// GetIdentityByUsername retrieves an identity by its login handle.
	GetIdentityByUsername(ctx context.Context, username string) (*Identity, error)

	// ListIdentities returns every identity ordered by creation.
	ListIdentities(ctx context.Context) ([]*Identity, error)

	// SetCredentials replaces the stored digest and salt.
	SetCredentials(ctx context.Context, id string, digest, salt []byte) error
}

// Journal is the append-only message record.
type Journal interface {
	// Append validates and records a message, assigning its ID, Seq and CreatedAt.
	Append(ctx context.Context, senderID, text string) (Message, error)

	// List returns messages in journal order. A non-empty senderID limits the
	// result to messages authored by that identity.
	List(ctx context.Context, senderID string) ([]Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	IdentityStore
	Journal

	// Close closes the underlying storage.
	Close() error
}

// CheckText rejects empty or whitespace-only message text.
func CheckText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: "text is required"}
	}
	return nil
}

// UnknownSender builds the validation error for a sender that is not provisioned.
func UnknownSender(senderID string) error {
	return &ValidationError{Reason: "unknown sender " + senderID, Err: ErrNotFound}
}

// Clock hands out millisecond timestamps that never step backwards.
// Callers serialize access.
type Clock struct {
	Now  func() time.Time
	last int64
}

// Next returns the current time in milliseconds, clamped to the last value handed out.
func (c *Clock) Next() int64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ms := now().UnixMilli()
	if ms < c.last {
		ms = c.last
	}
	c.last = ms
	return ms
}

// Seed sets the lower bound for subsequent timestamps, used when reopening a journal.
func (c *Clock) Seed(last int64) {
	if last > c.last {
		c.last = last
	}
}
