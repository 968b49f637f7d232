package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Storage.Driver = driver
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "chat.db")
	cfg.Storage.BadgerDir = filepath.Join(t.TempDir(), "badger")
	cfg.Auth.Argon2 = config.Argon2Config{Time: 1, Memory: 64, Threads: 1, KeyLen: 32}
	return &cfg
}

func TestNewSeedsAndServes(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite", "badger"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			cfg.SeedFile = filepath.Join(t.TempDir(), "seed.yaml")
			require.NoError(t, os.WriteFile(cfg.SeedFile, []byte(
				"identities:\n  - username: user1\n    password: password1\n"), 0o600))

			logger := zerolog.Nop()
			a, err := New(context.Background(), cfg, &logger)
			require.NoError(t, err)
			t.Cleanup(a.cleanup)

			ts := httptest.NewServer(a.Handler())
			t.Cleanup(ts.Close)

			resp, err := ts.Client().Post(ts.URL+"/api/login", "application/json",
				strings.NewReader(`{"username":"user1","password":"password1"}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	logger := zerolog.Nop()
	_, err := OpenStore(config.StorageConfig{Driver: "postgres"}, &logger)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	a, err := New(context.Background(), testConfig(t, "memory"), &logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
