package store

import (
	"context"
	"errors"

	"github.com/weiawesome/roomchat/internal/domain"
)

// ErrStoreUnavailable means the message log could not be reached in time.
// Callers match it with errors.Is; the backend cause is kept in the message.
var ErrStoreUnavailable = errors.New("message store unavailable")

// MessageStore is the durable, room-partitioned message log.
type MessageStore interface {
	// Insert appends msg and returns its id. An empty msg.ID is filled in.
	Insert(ctx context.Context, msg *domain.Message) (string, error)

	// ListByRoom returns the room's messages by ascending timestamp. An
	// unknown room yields an empty slice.
	ListByRoom(ctx context.Context, room string) ([]domain.Message, error)

	// DeleteAll removes every message of room and reports how many went.
	DeleteAll(ctx context.Context, room string) (int64, error)

	// DistinctRooms lists, sorted, the rooms holding at least one message.
	DistinctRooms(ctx context.Context) ([]string, error)

	Close() error
}
