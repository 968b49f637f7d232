package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/scripts/wsclient"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "user1", "username")
	password := flag.String("password", "password1", "password")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
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

	fmt.Printf("Connected to %s as %s (%s), session expires %s\n",
		*addr, session.Username, welcome.IdentityID, time.UnixMilli(welcome.ExpiresAt).Format(time.Kitchen))
	fmt.Println("Type messages and press Enter to send. /peer <id> selects a peer. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		f, err := wsclient.Read(ctx, conn)
		if err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch {
		case f.Type == proto.OutboundTypeError && f.Error != nil:
			fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
		case f.Type == proto.OutboundTypeAck:
			// the broadcast copy is printed instead
		case f.Event == proto.EventReceiveMessage:
			var msg proto.Message
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			ts := time.UnixMilli(msg.CreatedAt).Format(time.TimeOnly)
			fmt.Printf("[%s] %s: %s\n", ts, msg.MemberID, msg.Text)
		case f.Event == proto.EventPeerSelected:
			var evt proto.EventPeerSelectedData
			if err := json.Unmarshal(f.Data, &evt); err != nil {
				log.Printf("unmarshal peer_selected: %v", err)
				continue
			}
			fmt.Printf("* %s is viewing %s\n", evt.By, evt.PeerID)
		default:
			fmt.Printf("type=%s event=%s data=%s\n", f.Type, f.Event, f.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			if peer, found := strings.CutPrefix(text, "/peer "); found {
				err = wsclient.Send(ctx, conn, proto.InboundTypeSelectPeer, proto.SelectPeerData{PeerID: strings.TrimSpace(peer)})
			} else {
				err = wsclient.Send(ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{Text: text})
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
