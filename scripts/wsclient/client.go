// Package wsclient holds the login and dial steps shared by the scripts.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatrelay/internal/proto"
)

// Session is the result of a successful login.
type Session struct {
	Token      string
	IdentityID string
	Username   string
}

// Login exchanges credentials for a session token at baseURL/api/login.
func Login(ctx context.Context, baseURL, username, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token    string `json:"token"`
		Identity struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return &Session{Token: out.Token, IdentityID: out.Identity.ID, Username: out.Identity.Username}, nil
}

// Dial opens the live channel and consumes the welcome frame.
func Dial(ctx context.Context, baseURL, token string) (*websocket.Conn, *proto.Welcome, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/hub/chat")
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	var frame struct {
		Type string        `json:"type"`
		Data proto.Welcome `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		_ = conn.CloseNow()
		return nil, nil, fmt.Errorf("read welcome: %w", err)
	}
	if frame.Type != proto.OutboundTypeWelcome {
		_ = conn.CloseNow()
		return nil, nil, fmt.Errorf("expected welcome, got %q", frame.Type)
	}
	return conn, &frame.Data, nil
}

// Send writes one inbound frame.
func Send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
}

// Frame is an outbound frame with its payload left raw.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// Read reads one outbound frame.
func Read(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	var f Frame
	err := wsjson.Read(ctx, conn, &f)
	return f, err
}
