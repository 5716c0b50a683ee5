package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/internal/service"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	// The request context ends with this handler; the connection outlives it.
	ctx := log.WithLogger(context.Background(), log.Ctx(r.Context()))
	ctx = log.ForConn(ctx, client.ID)

	l := log.Ctx(ctx)
	l.Debug().Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, message []byte) {
			h.handleMessage(ctx, c, message)
		},
		func(c *hub.Client) {
			if err := h.service.HandleDisconnect(ctx, c); err != nil {
				l := log.Ctx(ctx)
				l.Error().Err(err).Msg("disconnect cleanup failed")
			}
		},
	)
}

// validator is implemented by every inbound event.
type validator interface {
	Validate() error
}

// decode unmarshals message into msg and checks its required fields. On
// failure the sender gets a BAD_REQUEST frame and false is returned.
func decode(ctx context.Context, client *hub.Client, message []byte, msg validator) bool {
	err := json.Unmarshal(message, msg)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("dropping malformed event")
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error()))
		return false
	}
	return true
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	l := log.Ctx(ctx)
	ctx = log.WithLogger(ctx, l.With().Str(log.FieldEvent, base.Type).Logger())

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if !decode(ctx, client, message, &msg) {
			return
		}
		err = h.service.HandleJoinRoom(ctx, client, msg.Room, msg.Name, msg.Avatar)

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if !decode(ctx, client, message, &msg) {
			return
		}
		err = h.service.HandleLeaveRoom(ctx, client, msg.Room, msg.Name)

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageMessage
		if !decode(ctx, client, message, &msg) {
			return
		}
		if lerr := msg.CheckBodyLength(h.wsCfg.MaxBodyBytes); lerr != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, lerr.Error()))
			return
		}
		err = h.service.HandleSendMessage(ctx, client, msg.Sender, msg.Message, msg.Room)

	case domain.MsgTypeTyping:
		var msg domain.TypingMessage
		if !decode(ctx, client, message, &msg) {
			return
		}
		err = h.service.HandleTyping(ctx, client, msg.Sender, msg.Room)

	case domain.MsgTypeClearHistory:
		var msg domain.ClearHistoryMessage
		if !decode(ctx, client, message, &msg) {
			return
		}
		if _, err = h.service.HandleClearHistory(ctx, msg.Room); errors.Is(err, store.ErrStoreUnavailable) {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeStoreUnavailable, "history could not be cleared"))
		}

	case domain.MsgTypePing:
		client.SendMessage(domain.NewPongMessage())

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}

	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("event handling failed")
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", gin.WrapF(h.HandleWebSocket))
}
