package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store"
)

func newTestTokenService(t *testing.T, secret string, now *time.Time) *TokenService {
	t.Helper()

	tokens, err := NewTokenService(JWTConfig{
		Secret:   []byte(secret),
		Issuer:   "chatrelay",
		Audience: "chatrelay",
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	return tokens.WithClock(func() time.Time { return *now })
}

func reasonOf(t *testing.T, err error) TokenReason {
	t.Helper()

	var tokenErr *TokenError
	require.True(t, errors.As(err, &tokenErr), "expected *TokenError, got %T", err)
	return tokenErr.Reason
}

func TestTokenService_RejectsEmptySecret(t *testing.T) {
	_, err := NewTokenService(JWTConfig{})
	require.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := newTestTokenService(t, "secret", &now)

	issued, err := tokens.Issue(&store.Identity{ID: "id-1", DisplayName: "user 1"})
	require.NoError(t, err)
	require.True(t, now.Add(time.Hour).Equal(issued.ExpiresAt))

	session, err := tokens.VerifySession(issued.Token)
	require.NoError(t, err)
	require.Equal(t, "id-1", session.Subject)
	require.Equal(t, "user 1", session.Name)
	require.True(t, issued.ExpiresAt.Equal(session.ExpiresAt))
}

func TestTokenService_ExpiredWithValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := newTestTokenService(t, "secret", &now)

	issued, err := tokens.Issue(&store.Identity{ID: "id-1"})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = tokens.Verify(issued.Token)
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, ReasonExpired, reasonOf(t, err))
}

func TestTokenService_Reasons(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tokens := newTestTokenService(t, "secret", &now)
	other := newTestTokenService(t, "another-secret", &now)

	forged, err := other.Issue(&store.Identity{ID: "id-1"})
	require.NoError(t, err)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "id-1",
		Issuer:    "chatrelay",
		Audience:  jwt.ClaimStrings{"chatrelay"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	wrongAlg, err := hs512.SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "chatrelay",
		Audience:  jwt.ClaimStrings{"chatrelay"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	anonymous, err := noSubject.SignedString([]byte("secret"))
	require.NoError(t, err)

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "id-1",
		Issuer:    "someone-else",
		Audience:  jwt.ClaimStrings{"chatrelay"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	foreign, err := wrongIssuer.SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason TokenReason
	}{
		{name: "garbage", token: "not-a-token", reason: ReasonMalformed},
		{name: "empty", token: "", reason: ReasonMalformed},
		{name: "truncated", token: strings.Join(strings.Split(forged.Token, ".")[:2], "."), reason: ReasonMalformed},
		{name: "foreign key", token: forged.Token, reason: ReasonSignatureInvalid},
		{name: "wrong algorithm", token: wrongAlg, reason: ReasonSignatureInvalid},
		{name: "missing subject", token: anonymous, reason: ReasonInvalid},
		{name: "wrong issuer", token: foreign, reason: ReasonInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Verify(tt.token)
			require.ErrorIs(t, err, ErrUnauthenticated)
			require.Equal(t, tt.reason, reasonOf(t, err))
			// Callers see the same message regardless of the reason.
			require.Equal(t, ErrUnauthenticated.Error(), err.Error())
		})
	}
}
