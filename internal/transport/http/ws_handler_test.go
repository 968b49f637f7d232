package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

func TestWebSocketRefusesBadToken(t *testing.T) {
	s := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, token := range []string{"", "garbage"} {
		conn, resp, err := websocket.Dial(ctx, s.wsURL()+"?access_token="+token, nil)
		if err == nil {
			_ = conn.CloseNow()
			t.Fatalf("token %q: expected dial to fail", token)
		}
		if resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
			t.Fatalf("token %q: expected 401 before upgrade, got %+v", token, resp)
		}
	}
	if n := s.registry.Len(); n != 0 {
		t.Fatalf("refused connections must not be registered, got %d", n)
	}
}

func TestWebSocketFailedUpgradeIsNeverRegistered(t *testing.T) {
	s := startTestServer(t, nil)
	_, token := s.register(t, "alice")

	// A plain GET carries a valid token but no upgrade headers.
	resp := s.do(t, stdhttp.MethodGet, "/hub/chat", token, nil)
	if resp.StatusCode < stdhttp.StatusBadRequest {
		t.Fatalf("expected the upgrade to be refused, got %d", resp.StatusCode)
	}
	if n := s.registry.Len(); n != 0 {
		t.Fatalf("a connection without an open channel must not be registered, got %d", n)
	}
}

func TestWebSocketAcceptsQueryToken(t *testing.T) {
	s := startTestServer(t, nil)
	alice, token := s.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.wsURL()+"?access_token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	welcome := readFrame(ctx, t, conn)
	var data proto.Welcome
	if err := json.Unmarshal(welcome.Data, &data); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if data.IdentityID != alice.ID || data.Protocol != proto.ProtocolVersion || data.ConnID == "" {
		t.Fatalf("unexpected welcome: %+v", data)
	}
}

func TestRESTSendReachesLiveClients(t *testing.T) {
	s := startTestServer(t, nil)
	alice, aliceToken := s.register(t, "alice")
	_, bobToken := s.register(t, "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobConn := s.dial(ctx, t, bobToken)

	resp := s.do(t, stdhttp.MethodPost, "/api/chat/sendMessage", aliceToken, SendMessageRequest{MemberID: alice.ID, Text: "hi there"})
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("send: expected 200, got %d", resp.StatusCode)
	}

	f := readFrame(ctx, t, bobConn)
	if f.Type != proto.OutboundTypeEvent || f.Event != proto.EventReceiveMessage {
		t.Fatalf("unexpected frame: %+v", f)
	}
	live := decodeMessage(t, f.Data)

	listed, err := s.store.List(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one journaled message, got %d", len(listed))
	}
	if live.ID != listed[0].ID || live.CreatedAt != listed[0].CreatedAt || live.MemberID != alice.ID || live.Text != "hi there" {
		t.Fatalf("live copy %+v differs from journal %+v", live, listed[0])
	}
}

func TestWebSocketSendMessageAndSelectPeer(t *testing.T) {
	s := startTestServer(t, nil)
	alice, aliceToken := s.register(t, "alice")
	bob, bobToken := s.register(t, "bob")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceConn := s.dial(ctx, t, aliceToken)
	bobConn := s.dial(ctx, t, bobToken)

	sendFrame(ctx, t, aliceConn, proto.InboundTypeSendMessage, proto.SendMessageData{Text: "over the wire"})

	// alice gets an ack and her own broadcast copy, in either order.
	var ack, echo proto.Message
	for range 2 {
		f := readFrame(ctx, t, aliceConn)
		switch {
		case f.Type == proto.OutboundTypeAck:
			ack = decodeMessage(t, f.Data)
		case f.Event == proto.EventReceiveMessage:
			echo = decodeMessage(t, f.Data)
		default:
			t.Fatalf("unexpected frame: %+v", f)
		}
	}
	if ack.ID == "" || ack.ID != echo.ID {
		t.Fatalf("ack %+v and echo %+v differ", ack, echo)
	}

	f := readFrame(ctx, t, bobConn)
	if f.Event != proto.EventReceiveMessage {
		t.Fatalf("bob: unexpected frame: %+v", f)
	}
	if got := decodeMessage(t, f.Data); got.ID != ack.ID || got.MemberID != alice.ID {
		t.Fatalf("bob got %+v, want %+v", got, ack)
	}

	sendFrame(ctx, t, aliceConn, proto.InboundTypeSelectPeer, proto.SelectPeerData{PeerID: bob.ID})
	f = readFrame(ctx, t, bobConn)
	if f.Event != proto.EventPeerSelected {
		t.Fatalf("bob: expected peer_selected, got %+v", f)
	}
	var sel proto.EventPeerSelectedData
	if err := json.Unmarshal(f.Data, &sel); err != nil {
		t.Fatalf("decode peer_selected: %v", err)
	}
	if sel.PeerID != bob.ID || sel.By != alice.ID {
		t.Fatalf("unexpected peer_selected: %+v", sel)
	}
}

func TestWebSocketProtocolErrors(t *testing.T) {
	s := startTestServer(t, nil)
	_, token := s.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(ctx, t, token)

	sendFrame(ctx, t, conn, "shout", map[string]string{})
	if f := readFrame(ctx, t, conn); f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message, got %+v", f)
	}

	sendFrame(ctx, t, conn, proto.InboundTypeSelectPeer, proto.SelectPeerData{})
	if f := readFrame(ctx, t, conn); f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", f)
	}

	sendFrame(ctx, t, conn, proto.InboundTypeSendMessage, proto.SendMessageData{Text: ""})
	if f := readFrame(ctx, t, conn); f.Error == nil || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for empty text, got %+v", f)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	s := startTestServer(t, func(cfg *config.Config) { cfg.Hub.RateLimitPerMinute = 1 })
	bob, _ := s.register(t, "bob")
	_, token := s.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(ctx, t, token)

	sendFrame(ctx, t, conn, proto.InboundTypeSelectPeer, proto.SelectPeerData{PeerID: bob.ID})
	sendFrame(ctx, t, conn, proto.InboundTypeSelectPeer, proto.SelectPeerData{PeerID: bob.ID})

	f := readFrame(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", f)
	}
}

func TestRemovedClientIsDisconnected(t *testing.T) {
	s := startTestServer(t, nil)
	_, token := s.register(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := s.dial(ctx, t, token)

	deadline := time.Now().Add(2 * time.Second)
	for s.registry.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.registry.Sweep(time.Now().Add(2 * time.Hour))

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v (%v)", status, err)
	}
}
