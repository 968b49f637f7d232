package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/memory"
)

type testServer struct {
	ts       *httptest.Server
	auth     *auth.Service
	store    store.Store
	relay    *core.Relay
	registry *core.Registry
}

// startTestServer runs the full router over an in-memory store. mutate may
// adjust the config before the router is built.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.Storage.Driver = "memory"
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	st := memory.New()

	tokens, err := auth.NewTokenService(auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	// Cheap argon2 parameters keep the suite fast.
	credentials := auth.NewCredentialStore(st, auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32})
	authService := auth.NewService(st, credentials, tokens)

	registry := core.NewRegistry(tokens, core.RegistryOptions{QueueSize: cfg.Hub.OutboundQueue}, &logger)
	relay := core.NewRelay(st, registry, &logger)

	ts := httptest.NewServer(NewRouter(relay, authService, st, &cfg, &logger))
	t.Cleanup(ts.Close)

	return &testServer{
		ts:       ts,
		auth:     authService,
		store:    st,
		relay:    relay,
		registry: registry,
	}
}

// register provisions an identity and returns it with a session token.
func (s *testServer) register(t *testing.T, username string) (*store.Identity, string) {
	t.Helper()
	token, identity, err := s.auth.Register(context.Background(), username, "password123", auth.Profile{})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return identity, token.Token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *stdhttp.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := stdhttp.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.Dial(ctx, s.wsURL(), &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	welcome := readFrame(ctx, t, conn)
	if welcome.Type != proto.OutboundTypeWelcome {
		t.Fatalf("expected welcome frame, got %+v", welcome)
	}
	return conn
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.ts.URL, "http", "ws", 1) + "/hub/chat"
}

// frame is proto.Outbound with the payload left raw for the caller to decode.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func sendFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func decodeMessage(t *testing.T, raw json.RawMessage) proto.Message {
	t.Helper()
	var msg proto.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}
