package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/chatrelay/internal/store"
)

var (
	// ErrUserExists is returned when trying to register with an existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Profile carries the display metadata of a new identity.
type Profile struct {
	// ID pins the identity id, used when seeding. Empty generates one.
	ID          string
	DisplayName string
	AvatarURI   string
}

// Service composes the credential store and token service into login flows.
type Service struct {
	identities  store.IdentityStore
	credentials *CredentialStore
	tokens      *TokenService
}

// NewService creates a new authentication service.
func NewService(identities store.IdentityStore, credentials *CredentialStore, tokens *TokenService) *Service {
	return &Service{
		identities:  identities,
		credentials: credentials,
		tokens:      tokens,
	}
}

// Tokens exposes the token service for components that only verify.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Provision creates an identity with the given credentials without issuing a token.
func (s *Service) Provision(ctx context.Context, username, password string, profile Profile) (*store.Identity, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	digest, salt, err := s.credentials.Derive(password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(profile.DisplayName)
	if displayName == "" {
		displayName = username
	}
	identity := &store.Identity{
		ID:               profile.ID,
		Username:         username,
		DisplayName:      displayName,
		AvatarURI:        profile.AvatarURI,
		CredentialDigest: digest,
		CredentialSalt:   salt,
	}
	if err := s.identities.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return identity, nil
}

// Register provisions a new identity and returns a session token for it.
func (s *Service) Register(ctx context.Context, username, password string, profile Profile) (SessionToken, *store.Identity, error) {
	identity, err := s.Provision(ctx, username, password, profile)
	if err != nil {
		return SessionToken{}, nil, err
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		return SessionToken{}, nil, fmt.Errorf("issue token: %w", err)
	}
	return token, identity, nil
}

// Login validates credentials and returns a session token.
func (s *Service) Login(ctx context.Context, username, password string) (SessionToken, *store.Identity, error) {
	identity, err := s.credentials.Verify(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return SessionToken{}, nil, err
	}

	token, err := s.tokens.Issue(identity)
	if err != nil {
		return SessionToken{}, nil, fmt.Errorf("issue token: %w", err)
	}
	return token, identity, nil
}
