package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/memory"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	store    *memory.Store
	tokens   *auth.TokenService
	registry *Registry
	relay    *Relay
	now      time.Time
}

func newFixture(t testing.TB, opts RegistryOptions) *fixture {
	t.Helper()

	f := &fixture{store: memory.New(), now: time.Unix(1_700_000_000, 0)}
	tokens, err := auth.NewTokenService(auth.JWTConfig{Secret: []byte("core-test"), TTL: time.Hour})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	f.tokens = tokens.WithClock(func() time.Time { return f.now })

	logger := zerolog.Nop()
	f.registry = NewRegistry(f.tokens, opts, &logger)
	f.registry.now = func() time.Time { return f.now }
	f.relay = NewRelay(f.store, f.registry, &logger)
	return f
}

func (f *fixture) identity(t testing.TB, username string) *store.Identity {
	t.Helper()

	identity := &store.Identity{Username: username, DisplayName: username}
	if err := f.store.CreateIdentity(context.Background(), identity); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return identity
}

func (f *fixture) token(t testing.TB, identity *store.Identity) string {
	t.Helper()

	issued, err := f.tokens.Issue(identity)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return issued.Token
}

func (f *fixture) admit(t testing.TB, identity *store.Identity) *Client {
	t.Helper()

	c, err := f.registry.Admit(f.token(t, identity))
	if err != nil {
		t.Fatalf("admit %s: %v", identity.Username, err)
	}
	return c
}
