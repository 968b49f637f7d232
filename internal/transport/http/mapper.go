package http

import (
	"encoding/json"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// IdentityResponse is an identity as exposed over REST. Credential material
// never leaves the store.
type IdentityResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	CreatedAt   int64  `json:"created_at"` // unix milliseconds
}

func identityResponse(identity *store.Identity) IdentityResponse {
	return IdentityResponse{
		ID:          identity.ID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Avatar:      identity.AvatarURI,
		CreatedAt:   identity.CreatedAt.UnixMilli(),
	}
}

func authResponse(token auth.SessionToken, identity *store.Identity) AuthResponse {
	return AuthResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.UnixMilli(),
		Identity:  identityResponse(identity),
	}
}

func messageToProto(msg store.Message) proto.Message {
	return proto.Message{
		ID:        msg.ID,
		MemberID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
}

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeSelectPeer:
		var sel proto.SelectPeerData
		if err := json.Unmarshal(inbound.Data, &sel); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid select_peer payload"}
		}
		if sel.PeerID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "peer_id is required"}
		}
		return &core.Command{Kind: core.CommandSelectPeer, PeerID: sel.PeerID}, nil
	case proto.InboundTypeSendMessage:
		var send proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &send); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid send_message payload"}
		}
		return &core.Command{Kind: core.CommandSendMessage, Text: send.Text}, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReceiveMessage,
			Data:  messageToProto(event.Message),
		}
	case core.EventPeerSelected:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPeerSelected,
			Data: proto.EventPeerSelectedData{
				PeerID: event.PeerID,
				By:     event.From,
			},
		}
	case core.EventAck:
		return proto.Outbound{
			Type: proto.OutboundTypeAck,
			Data: messageToProto(event.Message),
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func errorOutbound(err *core.CoreError) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: err.Code, Msg: err.Message},
	}
}
