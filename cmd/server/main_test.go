package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	require.Equal(t, version, strings.TrimSpace(out))
}

func TestIdentityAdd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")

	out, err := run(t, "identity", "add",
		"--config", filepath.Join(dir, "config.yaml"),
		"--sqlite-path", dbPath,
		"--username", "alice",
		"--password", "password123",
		"--display-name", "Alice",
	)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	st, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	identity, err := st.GetIdentity(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "alice", identity.Username)
	require.Equal(t, "Alice", identity.DisplayName)
	require.NotEmpty(t, identity.CredentialDigest)
}

func TestIdentityAddRequiresFlags(t *testing.T) {
	_, err := run(t, "identity", "add", "--config", filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
}
