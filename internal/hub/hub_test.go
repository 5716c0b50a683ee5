package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/roomchat/internal/config"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{SendBuffer: 64}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testConfig())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func newTestClient(h *Hub, id string) *Client {
	c := NewClient(id, h, nil, testConfig())
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s got unexpected %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToRoom_OnlySubscribers(t *testing.T) {
	h := startHub(t)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	c := newTestClient(h, "c")

	h.JoinRoom(a, "lobby")
	h.JoinRoom(b, "lobby")
	h.JoinRoom(c, "games")

	require.NoError(t, h.BroadcastToRoom("lobby", map[string]string{"type": "ping"}))

	assert.Equal(t, "ping", receive(t, a)["type"])
	assert.Equal(t, "ping", receive(t, b)["type"])
	assertSilent(t, c)
}

func TestBroadcastToRoom_PreservesOrder(t *testing.T) {
	h := startHub(t)
	a := newTestClient(h, "a")
	h.JoinRoom(a, "lobby")

	for i := 0; i < 50; i++ {
		require.NoError(t, h.BroadcastToRoom("lobby", map[string]int{"seq": i}))
	}
	for i := 0; i < 50; i++ {
		assert.EqualValues(t, i, receive(t, a)["seq"])
	}
}

func TestLeaveRoom(t *testing.T) {
	h := startHub(t)
	a := newTestClient(h, "a")
	h.JoinRoom(a, "lobby")
	assert.Equal(t, 1, h.GetRoomClientCount("lobby"))

	h.LeaveRoom(a, "lobby")
	assert.Equal(t, 0, h.GetRoomClientCount("lobby"))

	require.NoError(t, h.BroadcastToRoom("lobby", map[string]string{"type": "x"}))
	assertSilent(t, a)
}

func TestUnregister_Idempotent(t *testing.T) {
	h := startHub(t)
	a := newTestClient(h, "a")
	h.JoinRoom(a, "lobby")

	h.Unregister(a)
	h.Unregister(a)

	_, ok := <-a.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.ClientCount())
	assert.NoError(t, a.SendMessage(map[string]string{"type": "late"}), "sending to a closed client is dropped")

	h.JoinRoom(a, "lobby")
	assert.Equal(t, 0, h.GetRoomClientCount("lobby"), "closed clients cannot resubscribe")
}

func TestSlowClientDropped(t *testing.T) {
	h := startHub(t)
	slow := NewClient("slow", h, nil, config.WebSocketConfig{SendBuffer: 1})
	h.Register(slow)
	fast := newTestClient(h, "fast")
	h.JoinRoom(slow, "lobby")
	h.JoinRoom(fast, "lobby")

	for i := 0; i < 3; i++ {
		require.NoError(t, h.BroadcastToRoom("lobby", map[string]int{"seq": i}))
	}
	for i := 0; i < 3; i++ {
		assert.EqualValues(t, i, receive(t, fast)["seq"])
	}

	assert.Eventually(t, func() bool {
		return h.GetRoomClientCount("lobby") == 1
	}, time.Second, 10*time.Millisecond)
}

type recordingForwarder struct {
	mu    sync.Mutex
	rooms []string
}

func (f *recordingForwarder) Forward(room string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms)
}

func TestForwarder_LocalOnly(t *testing.T) {
	h := NewHub(testConfig())
	fwd := &recordingForwarder{}
	h.SetForwarder(fwd)
	go h.Run()
	t.Cleanup(h.Stop)

	a := newTestClient(h, "a")
	h.JoinRoom(a, "lobby")

	require.NoError(t, h.BroadcastToRoom("lobby", map[string]string{"from": "local"}))
	h.DeliverRemote("lobby", []byte(`{"from":"remote"}`))
	require.NoError(t, h.BroadcastLocal("lobby", map[string]string{"from": "roster"}))

	assert.Equal(t, "local", receive(t, a)["from"])
	assert.Equal(t, "remote", receive(t, a)["from"])
	assert.Equal(t, "roster", receive(t, a)["from"])
	assert.Equal(t, 1, fwd.count())
}

func TestStop(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient(h, fmt.Sprintf("c%d", i))
	}
	h.Stop()
	h.Stop()

	for _, c := range clients {
		_, ok := <-c.Send
		assert.False(t, ok)
	}
	assert.NoError(t, h.BroadcastToRoom("lobby", map[string]string{"type": "x"}), "broadcast after stop does not block")
}
