package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

// errSessionClosed is returned by the write loop when the registry removed
// the client (slow consumer, expired token or shutdown).
var errSessionClosed = errors.New("session closed")

// WSHandler admits live connections and bridges them to core.Client.
type WSHandler struct {
	relay    *core.Relay
	registry *core.Registry
	hub      config.HubConfig
	origins  []string
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(relay *core.Relay, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		relay:    relay,
		registry: relay.Registry(),
		hub:      cfg.Hub,
		origins:  cfg.AllowedOrigins,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if v := r.URL.Query().Get("protocol"); v != "" && v != strconv.Itoa(proto.ProtocolVersion) {
		writeJSONError(w, stdhttp.StatusBadRequest, "unsupported_version")
		return
	}

	// The token is checked before the upgrade so a refused token never gets a socket.
	client, err := h.registry.Authenticate(requestToken(r))
	if err != nil {
		writeJSONError(w, stdhttp.StatusUnauthorized, "unauthenticated")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Error().Err(err).Str("client_id", client.ID).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	h.registry.Register(client)
	defer h.registry.Remove(client.ID)
	if h.hub.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.hub.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	welcome := proto.Outbound{
		Type: proto.OutboundTypeWelcome,
		Data: proto.Welcome{
			Protocol:   proto.ProtocolVersion,
			ConnID:     client.ID,
			IdentityID: client.IdentityID,
			ExpiresAt:  client.ExpiresAt.UnixMilli(),
		},
	}
	if err := h.write(ctx, conn, welcome); err != nil {
		h.log.Warn().Err(err).Str("client_id", client.ID).Msg("write welcome")
		return
	}

	h.log.Info().
		Str("client_id", client.ID).
		Str("identity_id", client.IdentityID).
		Msg("live connection opened")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	if errors.Is(err, errSessionClosed) {
		// Close before cancelling so the peer sees the status, not a dropped read.
		_ = conn.Close(websocket.StatusPolicyViolation, errSessionClosed.Error())
		cancel()
		<-errCh
		h.log.Info().Str("client_id", client.ID).Msg("live connection closed by server")
		return
	}
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				err = nil
			}
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "internal error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("client_id", client.ID).Msg("live connection closed")
	_ = conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.hub.RateLimitPerMinute)
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if !limiter.allow(time.Now()) {
			h.log.Debug().Str("client_id", client.ID).Msg("inbound rate limited")
			if err := h.write(ctx, conn, errorOutbound(&core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"})); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			if err := h.write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}); err != nil {
				return err
			}
			continue
		}

		reply, err := h.relay.Execute(ctx, client, cmd)
		if err != nil {
			coreErr := core.ToCoreError(err)
			if coreErr.Code == core.ErrCodeInternal {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("command failed")
			}
			if err := h.write(ctx, conn, errorOutbound(coreErr)); err != nil {
				return err
			}
			continue
		}
		if reply != nil {
			if err := h.write(ctx, conn, outboundFromEvent(reply)); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events():
			// Removal wins over pending events.
			if client.Closed() {
				return errSessionClosed
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Warn().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return errSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// write sends one frame, bounded by the configured write timeout.
func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, v any) error {
	if h.hub.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.hub.WriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, v)
}

func writeJSONError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"error":"`+msg+`"}`)
}
