package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// ErrUnauthenticated is the only token failure callers ever see.
var ErrUnauthenticated = errors.New("unauthenticated")

// TokenReason tells the server log why a token was refused.
type TokenReason string

const (
	ReasonMalformed        TokenReason = "malformed"
	ReasonSignatureInvalid TokenReason = "signature_invalid"
	ReasonExpired          TokenReason = "expired"
	ReasonInvalid          TokenReason = "invalid"
)

// TokenError is returned by Verify. Its message is the same for every reason;
// the reason is only meant for logs.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string { return ErrUnauthenticated.Error() }

func (e *TokenError) Unwrap() error { return e.Err }

// Is makes every TokenError match ErrUnauthenticated.
func (e *TokenError) Is(target error) bool { return target == ErrUnauthenticated }

// Claims represents JWT claims for a chat session.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// SessionToken is an issued bearer token and the window it is valid for.
type SessionToken struct {
	Token     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Session is the verified content of a token.
type Session struct {
	Subject   string
	Name      string
	ExpiresAt time.Time
}

// TokenService issues and verifies signed session tokens.
type TokenService struct {
	cfg    JWTConfig
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService builds a token service. It refuses an empty secret.
func NewTokenService(cfg JWTConfig) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	s := &TokenService{cfg: cfg, now: time.Now}
	s.buildParser()
	return s, nil
}

// WithClock overrides the time source for issuing and expiry checks.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	s.buildParser()
	return s
}

func (s *TokenService) buildParser() {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	s.parser = jwt.NewParser(opts...)
}

// TTL returns the validity window of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.cfg.TTL }

// Issue signs a token for identity valid for the configured TTL.
func (s *TokenService) Issue(identity *store.Identity) (SessionToken, error) {
	now := s.now()
	// NumericDate truncates to whole seconds; round up so the token lives a full TTL.
	exp := now.Add(s.cfg.TTL)
	if t := exp.Truncate(time.Second); !t.Equal(exp) {
		exp = t.Add(time.Second)
	}
	claims := Claims{
		Name: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    s.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return SessionToken{}, fmt.Errorf("sign token: %w", err)
	}
	return SessionToken{
		Token:     signed,
		Subject:   identity.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify returns the identity ID the token was issued to.
func (s *TokenService) Verify(token string) (string, error) {
	session, err := s.VerifySession(token)
	if err != nil {
		return "", err
	}
	return session.Subject, nil
}

// VerifySession checks shape, signature and then claims. Every failure is a *TokenError.
func (s *TokenService) VerifySession(token string) (Session, error) {
	var claims Claims
	_, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		return Session{}, &TokenError{Reason: classify(err), Err: err}
	}
	if claims.Subject == "" {
		return Session{}, &TokenError{Reason: ReasonInvalid, Err: jwt.ErrTokenRequiredClaimMissing}
	}
	return Session{
		Subject:   claims.Subject,
		Name:      claims.Name,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func classify(err error) TokenReason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	default:
		return ReasonInvalid
	}
}
