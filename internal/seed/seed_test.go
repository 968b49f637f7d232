package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/store/memory"
)

const sample = `
identities:
  - id: c13cf23b-59c8-490d-8e8b-93c1988e203b
    username: user1
    password: password1
    display_name: user 1
    avatar: https://example.com/a.png
  - username: user2
    password: password2
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newAuthService(t *testing.T, st *memory.Store) *auth.Service {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.JWTConfig{Secret: []byte("seed-secret"), TTL: time.Hour})
	require.NoError(t, err)
	credentials := auth.NewCredentialStore(st, auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32})
	return auth.NewService(st, credentials, tokens)
}

func TestFromFileSeedsEmptyStore(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := newAuthService(t, st)
	logger := zerolog.Nop()
	path := writeSeed(t, sample)

	n, err := FromFile(ctx, path, st, svc, &logger)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	user1, err := st.GetIdentity(ctx, "c13cf23b-59c8-490d-8e8b-93c1988e203b")
	require.NoError(t, err)
	require.Equal(t, "user1", user1.Username)
	require.Equal(t, "user 1", user1.DisplayName)

	// Seeded credentials work for login.
	_, identity, err := svc.Login(ctx, "user2", "password2")
	require.NoError(t, err)
	require.Equal(t, "user2", identity.DisplayName)

	// A second run leaves a populated store alone.
	n, err = FromFile(ctx, path, st, svc, &logger)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFromFileEmptyPath(t *testing.T) {
	st := memory.New()
	logger := zerolog.Nop()
	n, err := FromFile(context.Background(), "", st, newAuthService(t, st), &logger)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoadRejectsInvalidSeed(t *testing.T) {
	tests := map[string]string{
		"empty":          "identities: []\n",
		"short password": "identities:\n  - username: user1\n    password: abc\n",
		"duplicate": `
identities:
  - username: user1
    password: password1
  - username: user1
    password: password2
`,
		"bad avatar": "identities:\n  - username: user1\n    password: password1\n    avatar: not a uri\n",
		"not yaml":   "identities: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeSeed(t, content))
			require.Error(t, err)
		})
	}
}
