package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/internal/store"
)

var wsCfg = config.WebSocketConfig{SendBuffer: 256}

type fixture struct {
	hub   *hub.Hub
	store store.MessageStore
	svc   ChatService
}

func newFixture(t *testing.T, st store.MessageStore) *fixture {
	t.Helper()
	h := hub.NewHub(wsCfg)
	go h.Run()
	t.Cleanup(h.Stop)
	return &fixture{hub: h, store: st, svc: NewChatService(h, st, nil, nil, nil)}
}

func (f *fixture) connect(id string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil, wsCfg)
	f.hub.Register(c)
	return c
}

type frame map[string]interface{}

func nextFrame(t *testing.T, c *hub.Client) frame {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("%s: no frame", c.ID)
		return nil
	}
}

// nextOfType skips frames of other types.
func nextOfType(t *testing.T, c *hub.Client, typ string) frame {
	t.Helper()
	for {
		f := nextFrame(t, c)
		if f["type"] == typ {
			return f
		}
	}
}

func userNames(f frame) []string {
	var names []string
	for _, u := range f["users"].([]interface{}) {
		names = append(names, u.(map[string]interface{})["name"].(string))
	}
	return names
}

func assertNoFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("%s: unexpected frame %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLobbyScenario(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	a := f.connect("A")
	b := f.connect("B")

	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "lobby", "alice", "cat.png"))
	assert.Equal(t, []string{"alice"}, userNames(nextFrame(t, a)))

	require.NoError(t, f.svc.HandleJoinRoom(ctx, b, "lobby", "bob", ""))
	assert.Equal(t, []string{"alice", "bob"}, userNames(nextFrame(t, a)))
	fb := nextFrame(t, b)
	assert.Equal(t, []string{"alice", "bob"}, userNames(fb))
	assert.Equal(t, domain.DefaultAvatar, fb["users"].([]interface{})[1].(map[string]interface{})["avatar"])

	require.NoError(t, f.svc.HandleSendMessage(ctx, a, "alice", "hi", "lobby"))
	for _, c := range []*hub.Client{a, b} {
		msg := nextFrame(t, c)
		assert.Equal(t, domain.MsgTypeReceiveMessage, msg["type"])
		assert.Equal(t, "alice", msg["sender"])
		assert.Equal(t, "hi", msg["message"])
		assert.NotEmpty(t, msg["message_id"])
		assert.NotZero(t, msg["timestamp"])
	}
	history, err := f.store.ListByRoom(ctx, "lobby")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Body)

	require.NoError(t, f.svc.HandleTyping(ctx, b, "bob", "lobby"))
	assert.Equal(t, "bob is typing...", nextFrame(t, a)["text"])
	assert.Equal(t, "bob is typing...", nextFrame(t, b)["text"])

	require.NoError(t, f.svc.HandleLeaveRoom(ctx, b, "lobby", "bob"))
	assert.Equal(t, []string{"alice"}, userNames(nextFrame(t, a)))

	n, err := f.svc.HandleClearHistory(ctx, "lobby")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	cleared := nextFrame(t, a)
	assert.Equal(t, domain.MsgTypeHistoryCleared, cleared["type"])
	assert.Equal(t, "lobby", cleared["room"])

	history, err = f.store.ListByRoom(ctx, "lobby")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDisconnect_EqualsLeavesAndRunsOnce(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	a := f.connect("A")
	observer := f.connect("O")

	require.NoError(t, f.svc.HandleJoinRoom(ctx, observer, "x", "olga", ""))
	require.NoError(t, f.svc.HandleJoinRoom(ctx, observer, "y", "olga", ""))
	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "x", "alice", ""))
	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "y", "alice", ""))
	// Drain: olga(x), olga(y), olga+alice(x), olga+alice(y).
	for i := 0; i < 4; i++ {
		nextFrame(t, observer)
	}

	require.NoError(t, f.svc.HandleDisconnect(ctx, a))

	got := map[string][]string{}
	for i := 0; i < 2; i++ {
		fr := nextOfType(t, observer, domain.MsgTypeUserList)
		got[fr["room"].(string)] = userNames(fr)
	}
	assert.Equal(t, map[string][]string{"x": {"olga"}, "y": {"olga"}}, got)
	assert.Equal(t, map[string]int{"x": 1, "y": 1}, f.svc.ActiveRooms())

	require.NoError(t, f.svc.HandleDisconnect(ctx, a))
	assertNoFrame(t, observer)

	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "x", "alice", ""))
	assertNoFrame(t, observer)
	assert.Equal(t, map[string]int{"x": 1, "y": 1}, f.svc.ActiveRooms(), "joins after disconnect are ignored")
}

func TestLeave_KeepsSubscriptionWhileAnotherNameRemains(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	a := f.connect("A")

	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "lobby", "alice", ""))
	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "lobby", "alice-alt", ""))
	require.NoError(t, f.svc.HandleLeaveRoom(ctx, a, "lobby", "alice"))

	assert.Equal(t, 1, f.hub.GetRoomClientCount("lobby"))
	nextFrame(t, a)
	nextFrame(t, a)
	assert.Equal(t, []string{"alice-alt"}, userNames(nextFrame(t, a)))

	require.NoError(t, f.svc.HandleLeaveRoom(ctx, a, "lobby", "alice-alt"))
	assert.Equal(t, 0, f.hub.GetRoomClientCount("lobby"))
	assert.Empty(t, f.svc.ActiveRooms())
}

func TestSend_DegradedWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t, store.NewUnavailable(errors.New("no route to host")))
	ctx := context.Background()
	a := f.connect("A")
	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "lobby", "alice", ""))
	nextFrame(t, a)

	require.NoError(t, f.svc.HandleSendMessage(ctx, a, "alice", "still here", "lobby"))

	msg := nextFrame(t, a)
	assert.Equal(t, "still here", msg["message"])
	_, hasID := msg["message_id"]
	assert.False(t, hasID)

	stats := f.svc.Stats()
	assert.EqualValues(t, 1, stats.PersistFailures)
	assert.NotNil(t, stats.LastPersistErrorAt)
	assert.Equal(t, 1, stats.Rooms)

	_, err := f.svc.HandleClearHistory(ctx, "lobby")
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
	assertNoFrame(t, a)

	_, err = f.svc.ListRooms(ctx)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
}

func TestSend_ConcurrentSendsPersistInOrder(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		c := f.connect(fmt.Sprintf("c%d", i))
		wg.Add(1)
		go func(c *hub.Client, i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, f.svc.HandleSendMessage(ctx, c, fmt.Sprintf("u%d", i), fmt.Sprintf("%d-%d", i, j), "busy"))
			}
		}(c, i)
	}
	wg.Wait()

	msgs, err := f.store.ListByRoom(ctx, "busy")
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	ids := make(map[string]bool)
	for i, m := range msgs {
		ids[m.ID] = true
		if i > 0 {
			assert.True(t, msgs[i-1].Timestamp.Before(m.Timestamp))
			assert.Less(t, msgs[i-1].ID, m.ID, "ulids follow timestamp order")
		}
	}
	assert.Len(t, ids, 100)
}

func TestSend_DoesNotRequireMembership(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	member := f.connect("M")
	outsider := f.connect("X")
	require.NoError(t, f.svc.HandleJoinRoom(ctx, member, "lobby", "mia", ""))
	nextFrame(t, member)

	require.NoError(t, f.svc.HandleSendMessage(ctx, outsider, "xavier", "hello?", "lobby"))
	assert.Equal(t, "hello?", nextFrame(t, member)["message"])
	assertNoFrame(t, outsider)
}

func TestGetRoomPage(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore())
	ctx := context.Background()
	a := f.connect("A")
	require.NoError(t, f.svc.HandleJoinRoom(ctx, a, "lobby", "alice", "cat.png"))
	require.NoError(t, f.svc.HandleSendMessage(ctx, a, "alice", "one", "lobby"))
	require.NoError(t, f.svc.HandleSendMessage(ctx, a, "alice", "two", "lobby"))

	page, err := f.svc.GetRoomPage(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, domain.Roster{{Name: "alice", Avatar: "cat.png"}}, page.Users)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "one", page.Messages[0].Body)
	assert.Equal(t, "two", page.Messages[1].Body)

	page, err = f.svc.GetRoomPage(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Empty(t, page.Messages)

	rooms, err := f.svc.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lobby"}, rooms)
}
