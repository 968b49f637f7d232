package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// ChatHandlers provides HTTP handlers for identities and messages.
type ChatHandlers struct {
	relay      *core.Relay
	identities store.IdentityStore
	journal    store.Journal
	log        *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance. Messages are read
// from the relay's journal so REST and live delivery share one source.
func NewChatHandlers(relay *core.Relay, identities store.IdentityStore, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		relay:      relay,
		identities: identities,
		journal:    relay.Journal(),
		log:        logger,
	}
}

// SendMessageRequest is the body of POST /api/chat/sendMessage.
// member_id and user_id are aliases.
type SendMessageRequest struct {
	MemberID string `json:"member_id"`
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
}

func (r SendMessageRequest) senderID() string {
	return strings.TrimSpace(lo.CoalesceOrEmpty(r.MemberID, r.UserID))
}

// ListIdentities returns every identity without credential material.
// GET /api/chat/members, GET /api/chat/users
func (h *ChatHandlers) ListIdentities(c *gin.Context) {
	identities, err := h.identities.ListIdentities(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list identities")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(identities, func(identity *store.Identity, _ int) IdentityResponse {
		return identityResponse(identity)
	}))
}

// ListMessages returns journaled messages, optionally for one sender.
// GET /api/chat/messages?member_id=|user_id=
func (h *ChatHandlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	senderID := strings.TrimSpace(lo.CoalesceOrEmpty(c.Query("member_id"), c.Query("user_id")))

	if senderID != "" {
		if _, err := h.identities.GetIdentity(ctx, senderID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "identity not found"})
				return
			}
			h.log.Error().Err(err).Str("sender_id", senderID).Msg("failed to look up identity")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
	}

	messages, err := h.journal.List(ctx, senderID)
	if err != nil {
		h.log.Error().Err(err).Str("sender_id", senderID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(messages, func(m store.Message, _ int) proto.Message {
		return messageToProto(m)
	}))
}

// SendMessage journals a message and fans it out to live clients.
// POST /api/chat/sendMessage
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	senderID := req.senderID()
	if senderID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "member_id is required"})
		return
	}
	if subject := c.GetString(ContextKeyIdentityID); subject != "" && subject != senderID {
		h.log.Debug().Str("subject", subject).Str("sender_id", senderID).Msg("sender does not match token subject")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "cannot send as another identity"})
		return
	}

	msg, err := h.relay.Submit(c.Request.Context(), senderID, req.Text)
	if err != nil {
		var verr *store.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "identity not found"})
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
		default:
			h.log.Error().Err(err).Str("sender_id", senderID).Msg("failed to submit message")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Debug().Str("message_id", msg.ID).Str("sender_id", senderID).Msg("message sent over rest")
	c.Status(http.StatusOK)
}
