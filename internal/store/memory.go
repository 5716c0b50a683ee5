package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/weiawesome/roomchat/internal/domain"
)

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]domain.Message)}
}

func (s *MemoryStore) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[msg.Room]
	// Inserts may arrive slightly out of timestamp order; keep the slice sorted.
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp.After(msg.Timestamp)
	})
	msgs = append(msgs, domain.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = *msg
	s.rooms[msg.Room] = msgs
	return msg.ID, nil
}

func (s *MemoryStore) ListByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, len(s.rooms[room]))
	copy(out, s.rooms[room])
	return out, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, room string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.rooms[room]))
	delete(s.rooms, room)
	return n, nil
}

func (s *MemoryStore) DistinctRooms(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room, msgs := range s.rooms {
		if len(msgs) > 0 {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
