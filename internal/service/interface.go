package service

import (
	"context"
	"time"

	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/hub"
)

type ChatService interface {
	HandleJoinRoom(ctx context.Context, client *hub.Client, room, name, avatar string) error
	HandleLeaveRoom(ctx context.Context, client *hub.Client, room, name string) error
	HandleSendMessage(ctx context.Context, client *hub.Client, sender, body, room string) error
	HandleTyping(ctx context.Context, client *hub.Client, sender, room string) error
	HandleClearHistory(ctx context.Context, room string) (int64, error)
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	ListRooms(ctx context.Context) ([]string, error)
	ActiveRooms() map[string]int
	GetRoomPage(ctx context.Context, room string) (*RoomPage, error)
	Stats() Stats

	Start(ctx context.Context) error
	Stop() error
}

// RoomPage is a room's live roster together with its full history.
type RoomPage struct {
	Room     string           `json:"room"`
	Users    domain.Roster    `json:"users"`
	Messages []domain.Message `json:"messages"`
}

type Stats struct {
	Rooms              int        `json:"rooms"`
	PersistFailures    int64      `json:"persist_failures"`
	LastPersistErrorAt *time.Time `json:"last_persist_error_at,omitempty"`
}
