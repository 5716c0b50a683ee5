package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/roomchat/internal/audit"
	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/internal/idgen"
	"github.com/weiawesome/roomchat/internal/presence"
	"github.com/weiawesome/roomchat/internal/registry"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/log"
)

type chatService struct {
	hub      *hub.Hub
	registry *registry.Registry
	store    store.MessageStore
	mirror   presence.Mirror
	clock    *Clock
	ids      idgen.Generator

	statsMu            sync.Mutex
	persistFailures    int64
	lastPersistErrorAt time.Time
}

// NewChatService wires the gateway. Roster changes are broadcast to the room
// and mirrored from inside the registry's room lock, so every member sees
// user lists in the order the joins and leaves happened.
// A nil mirror, clock or id generator falls back to no mirroring, the wall
// clock and ULIDs.
func NewChatService(h *hub.Hub, st store.MessageStore, mirror presence.Mirror, clock *Clock, ids idgen.Generator) ChatService {
	if mirror == nil {
		mirror = presence.NopMirror{}
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	if ids == nil {
		ids, _ = idgen.New(idgen.FormatULID)
	}
	s := &chatService{
		hub:    h,
		store:  st,
		mirror: mirror,
		clock:  clock,
		ids:    ids,
	}
	s.registry = registry.New(s.onRosterChange)
	return s
}

// onRosterChange tells this instance's members about the roster. Rosters are
// per instance, so user lists are never relayed.
func (s *chatService) onRosterChange(room string, roster domain.Roster) {
	if err := s.hub.BroadcastLocal(room, domain.NewUserListMessage(room, roster)); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to broadcast user list")
	}
	s.mirror.Publish(room, roster)
}

func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, room, name, avatar string) error {
	s.hub.JoinRoom(c, room)
	if !c.Session.JoinRoom(room, name) {
		// Connection is already being torn down.
		s.hub.LeaveRoom(c, room)
		return nil
	}

	roster := s.registry.Join(room, name, avatar)

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldRoom, room).Str(log.FieldName, name).Int("members", len(roster)).Msg("joined room")
	audit.Log(ctx, audit.ActionJoinRoom, room, name, "joined room")
	return nil
}

func (s *chatService) HandleLeaveRoom(ctx context.Context, c *hub.Client, room, name string) error {
	s.registry.Leave(room, name)
	c.Session.LeaveRoom(room, name)
	if !c.Session.InRoom(room) {
		s.hub.LeaveRoom(c, room)
	}

	audit.Log(ctx, audit.ActionLeaveRoom, room, name, "left room")
	return nil
}

func (s *chatService) HandleSendMessage(ctx context.Context, c *hub.Client, sender, body, room string) error {
	ts, id, err := s.clock.Stamp(s.ids)
	if err != nil {
		// The store assigns its own id.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("format", s.ids.Format()).Msg("failed to generate message id")
	}
	msg := &domain.Message{
		ID:        id,
		Room:      room,
		Sender:    sender,
		Body:      body,
		Timestamp: ts,
	}

	if _, err := s.store.Insert(ctx, msg); err != nil {
		// Degrade: members still get the message live, only history misses it.
		msg.ID = ""
		s.recordPersistFailure()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Bool(log.FieldDegraded, true).Str(log.FieldRoom, room).Str(log.FieldSender, sender).Msg("message not persisted")
	}

	if err := s.hub.BroadcastToRoom(room, domain.NewReceiveMessage(msg)); err != nil {
		return fmt.Errorf("failed to broadcast message: %w", err)
	}

	audit.LogWithDetail(ctx, audit.ActionSendMessage, room, sender, msg.ID, "message sent")
	return nil
}

func (s *chatService) HandleTyping(ctx context.Context, c *hub.Client, sender, room string) error {
	if err := s.hub.BroadcastToRoom(room, domain.NewShowTypingMessage(sender, room)); err != nil {
		return fmt.Errorf("failed to broadcast typing: %w", err)
	}
	return nil
}

// HandleClearHistory deletes the room's history and tells its members. On a
// store failure nothing is broadcast.
func (s *chatService) HandleClearHistory(ctx context.Context, room string) (int64, error) {
	n, err := s.store.DeleteAll(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}

	if err := s.hub.BroadcastToRoom(room, domain.NewHistoryClearedMessage(room)); err != nil {
		return n, fmt.Errorf("failed to broadcast history cleared: %w", err)
	}

	audit.LogWithDetail(ctx, audit.ActionClearHistory, room, "", fmt.Sprintf("%d", n), "history cleared")
	return n, nil
}

// HandleDisconnect leaves every membership the connection held. Only the
// first call for a connection does anything.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	memberships, ok := c.Session.Terminate()
	if !ok {
		return nil
	}

	rooms := make(map[string]struct{})
	for _, m := range memberships {
		s.registry.Leave(m.Room, m.Name)
		rooms[m.Room] = struct{}{}
		audit.Log(ctx, audit.ActionLeaveRoom, m.Room, m.Name, "left room on disconnect")
	}
	for room := range rooms {
		s.hub.LeaveRoom(c, room)
	}

	l := log.Ctx(ctx)
	l.Debug().Int("memberships", len(memberships)).Msg("connection cleaned up")
	audit.LogWithDetail(ctx, audit.ActionDisconnect, "", "", fmt.Sprintf("%d", len(memberships)), "connection closed")
	return nil
}

func (s *chatService) ListRooms(ctx context.Context) ([]string, error) {
	rooms, err := s.store.DistinctRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (s *chatService) ActiveRooms() map[string]int {
	return s.registry.Counts()
}

func (s *chatService) GetRoomPage(ctx context.Context, room string) (*RoomPage, error) {
	msgs, err := s.store.ListByRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return &RoomPage{
		Room:     room,
		Users:    s.registry.Roster(room),
		Messages: msgs,
	}, nil
}

func (s *chatService) recordPersistFailure() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.persistFailures++
	s.lastPersistErrorAt = time.Now().UTC()
}

func (s *chatService) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	stats := Stats{
		Rooms:           len(s.registry.Rooms()),
		PersistFailures: s.persistFailures,
	}
	if !s.lastPersistErrorAt.IsZero() {
		at := s.lastPersistErrorAt
		stats.LastPersistErrorAt = &at
	}
	return stats
}

func (s *chatService) Start(ctx context.Context) error {
	if err := s.mirror.Start(ctx); err != nil {
		return fmt.Errorf("failed to start presence mirror: %w", err)
	}
	l := log.L()
	l.Info().Msg("chat service started")
	return nil
}

func (s *chatService) Stop() error {
	s.mirror.Stop()
	return nil
}
