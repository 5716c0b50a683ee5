package hub

import (
	"encoding/json"
	"sync"

	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/pkg/log"
)

// Forwarder receives every locally originated room payload so it can be
// relayed to other instances. Forward must not block.
type Forwarder interface {
	Forward(room string, data []byte)
}

type Hub struct {
	clients   map[string]*Client            // clientID -> client
	rooms     map[string]map[string]*Client // room -> clientID -> client
	broadcast chan *RoomMessage
	done      chan struct{}
	stopOnce  sync.Once
	forwarder Forwarder
	mu        sync.RWMutex
	config    config.WebSocketConfig
}

// RoomMessage is one encoded payload queued for a room. Remote payloads came
// in through the relay; Remote and LocalOnly payloads are never forwarded.
type RoomMessage struct {
	Room      string
	Message   []byte
	Remote    bool
	LocalOnly bool
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		broadcast: make(chan *RoomMessage, 1024),
		done:      make(chan struct{}),
		config:    cfg,
	}
}

// SetForwarder installs the relay hook. Call before Run.
func (h *Hub) SetForwarder(f Forwarder) {
	h.forwarder = f
}

// Run delivers queued room payloads in submission order until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			if !msg.Remote && !msg.LocalOnly && h.forwarder != nil {
				h.forwarder.Forward(msg.Room, msg.Message)
			}
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *RoomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[msg.Room] {
		if !client.trySend(msg.Message) {
			l := log.L()
			l.Warn().Str("client_id", client.ID).Str(log.FieldRoom, msg.Room).Msg("send buffer full, dropping client")
			go h.Unregister(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str("client_id", client.ID).Msg("client registered")
}

// Unregister removes client from every room and closes its send channel.
// Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for room, members := range h.rooms {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.clients, client.ID)
	client.close()
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str("client_id", client.ID).Msg("client unregistered")
}

// JoinRoom subscribes client to room. Unregistered clients are ignored.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][client.ID] = client
	l := log.L()
	l.Debug().Str("client_id", client.ID).Str(log.FieldRoom, room).Msg("client subscribed to room")
}

func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	l := log.L()
	l.Debug().Str("client_id", client.ID).Str(log.FieldRoom, room).Msg("client unsubscribed from room")
}

// BroadcastToRoom encodes message once and queues it for every subscriber
// of room, the sender included.
func (h *Hub) BroadcastToRoom(room string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.enqueue(&RoomMessage{Room: room, Message: data})
	return nil
}

// BroadcastLocal is BroadcastToRoom without relaying to other instances. It
// carries state that only describes this instance, such as its roster.
func (h *Hub) BroadcastLocal(room string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.enqueue(&RoomMessage{Room: room, Message: data, LocalOnly: true})
	return nil
}

// DeliverRemote queues a payload received from another instance.
func (h *Hub) DeliverRemote(room string, data []byte) {
	h.enqueue(&RoomMessage{Room: room, Message: data, Remote: true})
}

func (h *Hub) enqueue(msg *RoomMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) GetRoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, client := range h.clients {
			client.close()
			delete(h.clients, id)
		}
		h.rooms = make(map[string]map[string]*Client)
		h.mu.Unlock()
	})
}
