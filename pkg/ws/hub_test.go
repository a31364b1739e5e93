package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/chat"
)

// headerAuth 以 X-User-Id 作为身份，缺失时认证失败
type headerAuth struct{}

func (headerAuth) Authenticate(r *http.Request) (chat.Identity, error) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return chat.Identity{}, chat.ErrAuthenticationFailed
	}
	return chat.Identity{ID: id, Name: "user-" + id}, nil
}

type testHub struct {
	*Hub
	server  *httptest.Server
	mu      sync.Mutex
	clients map[string]*Client // user id -> client
	gone    chan string
}

func newTestHub(t *testing.T, opts ...Option) *testHub {
	t.Helper()
	hub, err := NewHub(headerAuth{}, opts...)
	require.NoError(t, err)

	th := &testHub{Hub: hub, clients: make(map[string]*Client), gone: make(chan string, 16)}
	hub.OnConnect(func(c *Client) {
		th.mu.Lock()
		th.clients[c.Identity.ID] = c
		th.mu.Unlock()
	})
	hub.OnDisconnect(func(c *Client) {
		th.gone <- c.ID
	})
	require.NoError(t, Handle(hub.Router(), "echo", func(_ context.Context, c *Client, req *struct {
		Text string `json:"text"`
	}) error {
		hub.SendTo(c.ID, chat.Event{Name: "echo", Payload: req})
		return nil
	}))
	require.NoError(t, hub.Register("subscribe", func(_ context.Context, c *Client, msg *Message) error {
		var req struct {
			Room string `json:"room"`
		}
		if err := msg.Unmarshal(&req); err != nil {
			return err
		}
		hub.Subscribe(c.ID, req.Room)
		hub.SendTo(c.ID, chat.Event{Name: "subscribed", Payload: req.Room})
		return nil
	}))
	hub.Run()

	th.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.HandleUpgrade(w, r)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		th.server.Close()
	})
	return th
}

func (th *testHub) client(id string) *Client {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.clients[id]
}

func (th *testHub) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-User-Id", userID)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(th.server.URL, "http"), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readNotify(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "notify", frame.Type)
	return frame.Event, frame.Data
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func TestHandshakeRejected(t *testing.T) {
	th := newTestHub(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(th.server.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, th.Stats().Connections)
}

func TestOriginWhitelist(t *testing.T) {
	th := newTestHub(t, WithCheckOriginWhitelist([]string{"http://localhost:5173"}))
	url := "ws" + strings.TrimPrefix(th.server.URL, "http")

	tests := []struct {
		origin string
		want   int
	}{
		{origin: "http://evil.example", want: http.StatusForbidden},
		{origin: "http://localhost:5173", want: http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			header.Set("X-User-Id", "1")
			header.Set("Origin", tt.origin)
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
			if err == nil {
				_ = conn.Close()
			}
		})
	}
}

func TestSendToAndHandle(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "1")

	send(t, conn, "echo", map[string]string{"text": "hello"})
	event, data := readNotify(t, conn)
	assert.Equal(t, "echo", event)
	assert.JSONEq(t, `{"text":"hello"}`, string(data))
}

func TestUnknownEventAndInvalidFrame(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "1")

	send(t, conn, "nope", nil)
	event, data := readNotify(t, conn)
	assert.Equal(t, chat.EventError, event)
	assert.Contains(t, string(data), "Unknown event: nope")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	event, data = readNotify(t, conn)
	assert.Equal(t, chat.EventError, event)
	assert.Contains(t, string(data), "Invalid message format")

	send(t, conn, "echo", "not an object")
	event, _ = readNotify(t, conn)
	assert.Equal(t, chat.EventError, event)
}

func TestTooManyInvalidFramesCloses(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "1")

	for range int(DefaultConfig().MaxInvalidMessages) + 1 {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	}

	select {
	case <-th.gone:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed")
	}
}

func TestRoomDelivery(t *testing.T) {
	th := newTestHub(t)
	a := th.dial(t, "1")
	b := th.dial(t, "2")
	c := th.dial(t, "3")

	for _, conn := range []*websocket.Conn{a, b} {
		send(t, conn, "subscribe", map[string]string{"room": "travel"})
		event, _ := readNotify(t, conn)
		require.Equal(t, "subscribed", event)
	}

	th.SendToRoom("travel", chat.Event{Name: "new-message", Payload: map[string]string{"text": "hi"}}, th.client("2").ID)
	event, data := readNotify(t, a)
	assert.Equal(t, "new-message", event)
	assert.JSONEq(t, `{"text":"hi"}`, string(data))

	th.SendToAll(chat.Event{Name: "rooms-updated", Payload: []string{}})
	for _, conn := range []*websocket.Conn{a, b, c} {
		event, data := readNotify(t, conn)
		// b 没有收到被排除的房间消息，第一帧就是全局广播
		assert.Equal(t, "rooms-updated", event)
		assert.JSONEq(t, `[]`, string(data))
	}

	stats := th.Stats()
	assert.Equal(t, 3, stats.Connections)
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 1, stats.Rooms)

	th.Unsubscribe(th.client("1").ID, "travel")
	th.Unsubscribe(th.client("2").ID, "travel")
	assert.Zero(t, th.Stats().Rooms)
}

func TestDisconnectHookRunsOnce(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t, "1")
	send(t, conn, "subscribe", map[string]string{"room": "travel"})
	readNotify(t, conn)

	client := th.client("1")
	require.NoError(t, conn.Close())

	select {
	case id := <-th.gone:
		assert.Equal(t, client.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	client.Close()

	select {
	case <-th.gone:
		t.Fatal("disconnect hook called twice")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, th.Stats().Connections)
	assert.Zero(t, th.Stats().Rooms)
	assert.ErrorIs(t, client.SendBytes([]byte("late")), ErrConnectionClosed)
}

func TestSendQueueFullDrops(t *testing.T) {
	counters := &Counters{}
	hub, err := NewHub(headerAuth{}, WithMessageQueueSize(1), WithMetrics(counters))
	require.NoError(t, err)

	// 没有 writePump 消费，队列满后丢弃且不阻塞
	c := &Client{ID: "c1", hub: hub, ctx: context.Background(), send: make(chan []byte, 1)}
	require.NoError(t, hub.pool.Add(c))
	t.Cleanup(func() {
		hub.pool.Remove(c.ID)
		_ = hub.Shutdown(context.Background())
	})

	done := make(chan struct{})
	go func() {
		for range 5 {
			hub.SendTo("c1", chat.Event{Name: "new-message", Payload: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendTo blocked")
	}
	assert.Equal(t, int64(4), counters.Snapshot().Dropped)
}

func TestErrorFramesKeepOrder(t *testing.T) {
	hub, err := NewHub(headerAuth{})
	require.NoError(t, err)

	c := &Client{ID: "c1", hub: hub, ctx: context.Background(), send: make(chan []byte, 8)}
	require.NoError(t, hub.pool.Add(c))
	t.Cleanup(func() {
		hub.pool.Remove(c.ID)
		_ = hub.Shutdown(context.Background())
	})

	hub.SendTo("c1", chat.Event{Name: "new-message", Payload: "1"})
	c.fail(chat.ErrValidationFailed)
	hub.SendTo("c1", chat.Event{Name: "new-message", Payload: "2"})

	var events []string
	for range 3 {
		var frame struct {
			Event string `json:"event"`
		}
		require.NoError(t, json.Unmarshal(<-c.send, &frame))
		events = append(events, frame.Event)
	}
	assert.Equal(t, []string{"new-message", chat.EventError, "new-message"}, events)

	// 端到端：错误帧与后续回复按发送顺序到达
	th := newTestHub(t)
	conn := th.dial(t, "1")
	for i := range 20 {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
		send(t, conn, "echo", map[string]string{"text": "hi"})

		event, _ := readNotify(t, conn)
		require.Equal(t, chat.EventError, event, "round %d", i)
		event, _ = readNotify(t, conn)
		require.Equal(t, "echo", event, "round %d", i)
	}
}

func TestUpgradeAfterShutdown(t *testing.T) {
	th := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, th.Shutdown(ctx))

	header := http.Header{}
	header.Set("X-User-Id", "1")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(th.server.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-User-Id", "1")
	w := httptest.NewRecorder()
	assert.ErrorIs(t, th.HandleUpgrade(w, r), ErrHubClosed)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, th.Stats().Connections)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{name: "connections", opt: WithMaxConnections(0)},
		{name: "heartbeat", opt: WithHeartbeat(time.Minute, time.Second)},
		{name: "message size", opt: WithMessageSizeLimit(0)},
		{name: "queue", opt: WithMessageQueueSize(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHub(headerAuth{}, tt.opt)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRouterMiddlewareAndFreeze(t *testing.T) {
	r := NewRouter()
	var order []string
	r.Use(func(ctx context.Context, c *Client, m *Message, next NextFunc) error {
		order = append(order, "outer")
		return next(ctx)
	}, func(ctx context.Context, c *Client, m *Message, next NextFunc) error {
		order = append(order, "inner")
		return next(ctx)
	})
	require.NoError(t, r.Register("ping", func(context.Context, *Client, *Message) error {
		order = append(order, "handler")
		return nil
	}))
	assert.ErrorIs(t, r.Register("ping", nil), ErrHandlerExists)

	r.Freeze()
	assert.ErrorIs(t, r.Register("pong", nil), ErrRouterFrozen)

	require.NoError(t, r.Route(context.Background(), nil, &Message{Event: "ping"}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.ErrorIs(t, r.Route(context.Background(), nil, &Message{Event: "pong"}), ErrHandlerNotFound)
}
