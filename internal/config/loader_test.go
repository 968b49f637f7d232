package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path, nil)
	require.NoError(t, err)
	require.Equal(t, path, resolved)
	want := Default()
	require.Equal(t, want.Addr, cfg.Addr)
	require.Equal(t, want.Storage, cfg.Storage)
	require.Equal(t, want.Auth, cfg.Auth)
	require.Equal(t, want.Hub, cfg.Hub)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file should be created")

	// Loading again reads the file that was just written.
	again, _, err := Load(nil, path, nil)
	require.NoError(t, err)
	require.Equal(t, cfg.Hub, again.Hub)
	require.Equal(t, cfg.Auth, again.Auth)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
storage:
  driver: memory
hub:
  outbound_queue: 8
  write_timeout: 2s
auth:
  token_ttl: 30m
`), 0o600))

	t.Setenv("CHATRELAY_HUB_OUTBOUND_QUEUE", "64")
	t.Setenv("CHATRELAY_AUTH_JWT_SECRET", "from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7000"}))

	cfg, _, err := Load(nil, path, flags)
	require.NoError(t, err)

	require.Equal(t, ":7000", cfg.Addr, "flag beats file")
	require.Equal(t, 64, cfg.Hub.OutboundQueue, "env beats file")
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 2*time.Second, cfg.Hub.WriteTimeout)
	require.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	require.Equal(t, "info", cfg.Log.Level, "unset flag keeps the default")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: postgres\n"), 0o600))

	_, _, err := Load(nil, path, nil)
	require.ErrorContains(t, err, "invalid config")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Hub.OutboundQueue = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Driver = "badger"
	cfg.Storage.BadgerDir = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestValidateArgon2MemoryPerThread(t *testing.T) {
	cfg := Default()
	cfg.Auth.Argon2.Threads = 4
	cfg.Auth.Argon2.Memory = 8
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Memory")

	cfg.Auth.Argon2.Memory = 32
	require.NoError(t, cfg.Validate())
}
