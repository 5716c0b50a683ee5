package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/roomchat/internal/avatar"
	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/hub"
	"github.com/weiawesome/roomchat/internal/search"
	"github.com/weiawesome/roomchat/internal/service"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/storage"
)

var testWSConfig = config.WebSocketConfig{
	PingInterval:   time.Second,
	PongWait:       5 * time.Second,
	WriteWait:      time.Second,
	MaxMessageSize: 1 << 20,
	MaxBodyBytes:   4096,
	SendBuffer:     64,
}

type testServer struct {
	router  *gin.Engine
	svc     service.ChatService
	store   store.MessageStore
	baseURL string
}

func newTestServer(t *testing.T, st store.MessageStore) *testServer {
	t.Helper()
	return newTestServerWithSearch(t, st, nil)
}

func newTestServerWithSearch(t *testing.T, st store.MessageStore, searcher *search.Searcher) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "avatars"), 0755))
	for _, name := range []string{"default.png", "fox.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "avatars", name), []byte("img"), 0644))
	}
	fs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir, URLPrefix: "/static"})
	require.NoError(t, err)

	h := hub.NewHub(testWSConfig)
	go h.Run()
	t.Cleanup(h.Stop)

	svc := service.NewChatService(h, st, nil, nil, nil)
	router := gin.New()
	NewHTTPHandler(svc, avatar.NewCatalog(fs, "avatars", time.Hour), searcher).RegisterRoutes(router)
	NewWSHandler(h, svc, testWSConfig).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{router: router, svc: svc, store: st, baseURL: srv.URL}
}

func (s *testServer) do(t *testing.T, method, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]interface{}
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg["type"] == typ {
			return msg
		}
	}
}

func names(msg map[string]interface{}) []string {
	var out []string
	for _, u := range msg["users"].([]interface{}) {
		out = append(out, u.(map[string]interface{})["name"].(string))
	}
	return out
}

func TestWebSocket_LobbyFlow(t *testing.T) {
	s := newTestServer(t, store.NewGuarded(store.NewMemoryStore(), time.Second))
	alice := s.dial(t)
	bob := s.dial(t)

	send(t, alice, map[string]string{"type": "join_room", "room": "lobby", "name": "alice", "avatar": "fox.png"})
	assert.Equal(t, []string{"alice"}, names(readType(t, alice, domain.MsgTypeUserList)))

	send(t, bob, map[string]string{"type": "join_room", "room": "lobby", "name": "bob"})
	assert.Equal(t, []string{"alice", "bob"}, names(readType(t, bob, domain.MsgTypeUserList)))
	assert.Equal(t, []string{"alice", "bob"}, names(readType(t, alice, domain.MsgTypeUserList)))

	send(t, alice, map[string]string{"type": "send_message", "sender": "alice", "message": "hi", "room": "lobby"})
	got := readType(t, bob, domain.MsgTypeReceiveMessage)
	assert.Equal(t, "hi", got["message"])
	assert.Equal(t, "alice", got["sender"])
	assert.Equal(t, "hi", readType(t, alice, domain.MsgTypeReceiveMessage)["message"])

	send(t, bob, map[string]string{"type": "typing", "sender": "bob", "room": "lobby"})
	assert.Equal(t, "bob is typing...", readType(t, alice, domain.MsgTypeShowTyping)["text"])

	send(t, alice, map[string]string{"type": "clear_history", "room": "lobby"})
	assert.Equal(t, "lobby", readType(t, bob, domain.MsgTypeHistoryCleared)["room"])

	msgs, err := s.store.ListByRoom(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Closing bob's socket leaves the room on his behalf.
	require.NoError(t, bob.Close())
	assert.Equal(t, []string{"alice"}, names(readType(t, alice, domain.MsgTypeUserList)))
}

func TestWebSocket_MalformedEvents(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	conn := s.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := read(t, conn)
	assert.Equal(t, domain.MsgTypeError, msg["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])

	send(t, conn, map[string]string{"type": "join_room", "room": "lobby"})
	msg = read(t, conn)
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])
	assert.Contains(t, msg["message"], "name")

	send(t, conn, map[string]string{"type": "dance"})
	assert.Equal(t, domain.ErrCodeBadRequest, read(t, conn)["code"])

	// The connection is still usable.
	send(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, domain.MsgTypePong, read(t, conn)["type"])
	assert.Empty(t, s.svc.ActiveRooms())
}

func TestWebSocket_OversizedMessageKeepsConnection(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	alice := s.dial(t)
	bob := s.dial(t)

	send(t, alice, map[string]string{"type": "join_room", "room": "lobby", "name": "alice"})
	readType(t, alice, domain.MsgTypeUserList)
	send(t, bob, map[string]string{"type": "join_room", "room": "lobby", "name": "bob"})
	readType(t, bob, domain.MsgTypeUserList)
	readType(t, alice, domain.MsgTypeUserList)

	send(t, alice, map[string]string{"type": "send_message", "sender": "alice", "message": strings.Repeat("x", 5000), "room": "lobby"})
	msg := read(t, alice)
	assert.Equal(t, domain.MsgTypeError, msg["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, msg["code"])

	// alice is still connected and in the room; the next send goes through.
	send(t, alice, map[string]string{"type": "send_message", "sender": "alice", "message": "", "room": "lobby"})
	got := read(t, bob)
	assert.Equal(t, domain.MsgTypeReceiveMessage, got["type"], "bob saw %v", got)
	assert.Equal(t, "", got["message"])

	page, err := s.svc.GetRoomPage(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, page.Users.Names())
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "", page.Messages[0].Body)
}

func TestWebSocket_ClearWithStoreDown(t *testing.T) {
	s := newTestServer(t, store.NewUnavailable(errors.New("down")))
	conn := s.dial(t)

	send(t, conn, map[string]string{"type": "join_room", "room": "lobby", "name": "alice"})
	readType(t, conn, domain.MsgTypeUserList)

	send(t, conn, map[string]string{"type": "send_message", "sender": "alice", "message": "hi", "room": "lobby"})
	msg := readType(t, conn, domain.MsgTypeReceiveMessage)
	assert.Equal(t, "hi", msg["message"])

	send(t, conn, map[string]string{"type": "clear_history", "room": "lobby"})
	msg = read(t, conn)
	assert.Equal(t, domain.MsgTypeError, msg["type"])
	assert.Equal(t, domain.ErrCodeStoreUnavailable, msg["code"])
}

func TestHTTP_RoomsAndHistory(t *testing.T) {
	s := newTestServer(t, store.NewGuarded(store.NewMemoryStore(), time.Second))
	ctx := context.Background()
	c := hub.NewClient("c1", nil, nil, testWSConfig)

	require.NoError(t, s.svc.HandleSendMessage(ctx, c, "alice", "one", "lobby"))
	require.NoError(t, s.svc.HandleSendMessage(ctx, c, "bob", "two", "games"))

	code, body := s.do(t, http.MethodGet, "/api/v1/rooms")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"games", "lobby"}, body["data"].(map[string]interface{})["rooms"])

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms/lobby")
	assert.Equal(t, http.StatusOK, code)
	page := body["data"].(map[string]interface{})
	assert.Equal(t, "lobby", page["room"])
	require.Len(t, page["messages"], 1)
	assert.Equal(t, "one", page["messages"].([]interface{})[0].(map[string]interface{})["message"])

	code, body = s.do(t, http.MethodDelete, "/api/v1/rooms/lobby/messages")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["deleted"])

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"games"}, body["data"].(map[string]interface{})["rooms"])
}

func TestHTTP_StoreUnavailable(t *testing.T) {
	s := newTestServer(t, store.NewUnavailable(errors.New("down")))

	code, body := s.do(t, http.MethodGet, "/api/v1/rooms")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "STORE_UNAVAILABLE", body["error"].(map[string]interface{})["code"])

	code, _ = s.do(t, http.MethodGet, "/api/v1/rooms/lobby")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = s.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["store"])
}

func TestHTTP_ActiveRooms(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())
	ctx := context.Background()
	c := hub.NewClient("c1", nil, nil, testWSConfig)

	require.NoError(t, s.svc.HandleJoinRoom(ctx, c, "lobby", "alice", ""))
	require.NoError(t, s.svc.HandleJoinRoom(ctx, c, "lobby", "bob", ""))

	code, body := s.do(t, http.MethodGet, "/api/v1/rooms/active")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{
		map[string]interface{}{"room": "lobby", "members": float64(2)},
	}, body["data"].(map[string]interface{})["rooms"])
}

func TestHTTP_Avatars(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	code, body := s.do(t, http.MethodGet, "/api/v1/avatars")
	assert.Equal(t, http.StatusOK, code)
	avatars := body["data"].(map[string]interface{})["avatars"].([]interface{})
	require.Len(t, avatars, 2)
	assert.Equal(t, "default.png", avatars[0].(map[string]interface{})["name"])
	assert.Equal(t, "/static/avatars/fox.png", avatars[1].(map[string]interface{})["url"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/avatars/fox.png", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/static/avatars/fox.png", w.Header().Get("Location"))

	code, _ = s.do(t, http.MethodGet, "/api/v1/avatars/wolf.png")
	assert.Equal(t, http.StatusNotFound, code)
}

// memIndex matches message bodies by case-insensitive substring.
type memIndex struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (m *memIndex) Put(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memIndex) DeleteRoom(_ context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.msgs[:0]
	for _, msg := range m.msgs {
		if msg.Room != room {
			kept = append(kept, msg)
		}
	}
	m.msgs = kept
	return nil
}

func (m *memIndex) Search(_ context.Context, q search.Query) (*search.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &search.Result{Hits: []search.Hit{}}
	for i := len(m.msgs) - 1; i >= 0; i-- {
		msg := m.msgs[i]
		if q.Room != "" && msg.Room != q.Room {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Body), strings.ToLower(q.Text)) {
			continue
		}
		res.Total++
		res.Hits = append(res.Hits, search.Hit{ID: msg.ID, Room: msg.Room, Sender: msg.Sender, Body: msg.Body})
	}
	return res, nil
}

func (m *memIndex) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func TestHTTP_Search(t *testing.T) {
	idx := &memIndex{}
	st := search.NewIndexedStore(store.NewMemoryStore(), idx, 16)
	t.Cleanup(func() { st.Close() })
	s := newTestServerWithSearch(t, st, search.NewSearcher(idx))
	ctx := context.Background()

	now := time.Now()
	for i, body := range []string{"hello lobby", "nothing here", "Hello again"} {
		_, err := st.Insert(ctx, &domain.Message{Room: "lobby", Sender: "alice", Body: body, Timestamp: now.Add(time.Duration(i) * time.Millisecond)})
		require.NoError(t, err)
	}
	_, err := st.Insert(ctx, &domain.Message{Room: "den", Sender: "bob", Body: "hello den", Timestamp: now})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return idx.len() == 4 }, 2*time.Second, 10*time.Millisecond)

	code, body := s.do(t, http.MethodGet, "/api/v1/search?q=hello&room=lobby")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 2, data["total"])
	hits := data["hits"].([]interface{})
	require.Len(t, hits, 2)
	assert.Equal(t, "Hello again", hits[0].(map[string]interface{})["message"])

	code, body = s.do(t, http.MethodGet, "/api/v1/search")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", body["error"].(map[string]interface{})["code"])
}

func TestHTTP_SearchDisabled(t *testing.T) {
	s := newTestServer(t, store.NewMemoryStore())

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=hello", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
