package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// ErrAuthFailure is returned for unknown identities and wrong secrets alike.
var ErrAuthFailure = errors.New("authentication failed")

const saltLength = 16

// Argon2Params configures the argon2id key derivation.
type Argon2Params struct {
	Time    uint32 `mapstructure:"time" yaml:"time"`
	Memory  uint32 `mapstructure:"memory" yaml:"memory"` // KiB
	Threads uint8  `mapstructure:"threads" yaml:"threads"`
	KeyLen  uint32 `mapstructure:"key_len" yaml:"key_len"`
}

// DefaultArgon2Params follows the OWASP argon2id recommendation.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 2,
		KeyLen:  32,
	}
}

// CredentialStore verifies secrets against salted argon2id digests.
type CredentialStore struct {
	identities store.IdentityStore
	params     Argon2Params
	dummySalt  []byte
}

// NewCredentialStore builds a credential store over the identity store.
func NewCredentialStore(identities store.IdentityStore, params Argon2Params) *CredentialStore {
	dummy := make([]byte, saltLength)
	_, _ = rand.Read(dummy)
	return &CredentialStore{
		identities: identities,
		params:     params,
		dummySalt:  dummy,
	}
}

func (c *CredentialStore) digest(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, c.params.Time, c.params.Memory, c.params.Threads, c.params.KeyLen)
}

// Derive produces a digest and a fresh random salt for secret.
func (c *CredentialStore) Derive(secret string) (digest, salt []byte, err error) {
	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	return c.digest(secret, salt), salt, nil
}

// Verify returns the identity registered under username if secret matches its digest.
// A digest is computed even for unknown usernames so the two failures take similar time.
func (c *CredentialStore) Verify(ctx context.Context, username, secret string) (*store.Identity, error) {
	identity, err := c.identities.GetIdentityByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup identity: %w", err)
		}
		c.digest(secret, c.dummySalt)
		return nil, ErrAuthFailure
	}
	if len(identity.CredentialDigest) == 0 {
		c.digest(secret, c.dummySalt)
		return nil, ErrAuthFailure
	}

	computed := c.digest(secret, identity.CredentialSalt)
	if subtle.ConstantTimeCompare(computed, identity.CredentialDigest) != 1 {
		return nil, ErrAuthFailure
	}
	return identity, nil
}

// Rotate replaces the credentials of an identity with a digest of secret.
func (c *CredentialStore) Rotate(ctx context.Context, identityID, secret string) error {
	digest, salt, err := c.Derive(secret)
	if err != nil {
		return err
	}
	return c.identities.SetCredentials(ctx, identityID, digest, salt)
}
