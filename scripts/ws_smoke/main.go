package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/scripts/wsclient"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run logs in, sends one message over the live channel and checks that the
// ack, the broadcast copy and the journal agree.
func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "user1", "username")
	password := flag.String("password", "password1", "password")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	session, err := wsclient.Login(ctx, *addr, *user, *password)
	if err != nil {
		return err
	}
	conn, welcome, err := wsclient.Dial(ctx, *addr, session.Token)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	fmt.Printf("Connected: conn=%s identity=%s protocol=%d\n", welcome.ConnID, welcome.IdentityID, welcome.Protocol)

	if err := wsclient.Send(ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{Text: *text}); err != nil {
		return err
	}

	var ack, echo *proto.Message
	for ack == nil || echo == nil {
		f, err := wsclient.Read(ctx, conn)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received outbound: type=%s event=%s\n", f.Type, f.Event)

		switch {
		case f.Error != nil:
			return fmt.Errorf("server error %s: %s", f.Error.Code, f.Error.Msg)
		case f.Type == proto.OutboundTypeAck:
			ack = new(proto.Message)
			if err := json.Unmarshal(f.Data, ack); err != nil {
				return fmt.Errorf("unmarshal ack: %w", err)
			}
		case f.Event == proto.EventReceiveMessage:
			msg := new(proto.Message)
			if err := json.Unmarshal(f.Data, msg); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			if msg.MemberID == session.IdentityID && msg.Text == *text {
				echo = msg
			}
		}
	}

	if ack.ID != echo.ID || ack.CreatedAt != echo.CreatedAt {
		return fmt.Errorf("ack %+v and broadcast %+v disagree", ack, echo)
	}
	fmt.Printf("Message %s delivered at %d\n", ack.ID, ack.CreatedAt)
	return nil
}
