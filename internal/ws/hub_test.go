package ws

import (
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
)

func newClient(userID uint) *Client {
	return &Client{userID: userID, handle: "user", send: make(chan []byte, 256)}
}

func allowAll(*http.Request) bool { return true }

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.rooms == nil {
		t.Error("NewHub() rooms map is nil")
	}
}

func TestHub_Online_NonExistentRoom(t *testing.T) {
	hub := NewHub()
	if online := hub.Online(999); online != 0 {
		t.Errorf("Online() for non-existent room = %d, want 0", online)
	}
}

func TestHub_NilSafe(t *testing.T) {
	var hub *Hub
	hub.Publish(1, map[string]string{"type": "message"})
	if hub.Online(1) != 0 {
		t.Error("nil hub should report 0 online")
	}
}

func TestRoomHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	client := newClient(1)
	rh := hub.join(1, client)
	require.Eventually(t, func() bool { return rh.Online() == 1 }, time.Second, 5*time.Millisecond)

	rh.leave(client)
	require.Eventually(t, func() bool { return rh.Online() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-client.send
	assert.False(t, open, "send channel should be closed after unregister")
}

func TestHub_RetiresIdleRoom(t *testing.T) {
	hub := NewHub()
	first := newClient(1)
	rh := hub.join(3, first)
	require.Eventually(t, func() bool { return hub.Online(3) == 1 }, time.Second, 5*time.Millisecond)

	rh.leave(first)
	select {
	case <-rh.done:
	case <-time.After(time.Second):
		t.Fatal("room goroutine still running after last client left")
	}
	assert.Equal(t, 0, hub.roomCount())

	// 退出后的房间上 leave 不阻塞。
	rh.leave(first)

	// 再次订阅会新建房间并正常广播。
	second := newClient(2)
	rh2 := hub.join(3, second)
	assert.NotSame(t, rh, rh2)
	require.Eventually(t, func() bool { return hub.Online(3) == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(3, map[string]string{"type": "message", "content": "again"})
	select {
	case msg := <-second.send:
		assert.Contains(t, string(msg), "again")
	case <-time.After(time.Second):
		t.Fatal("no broadcast after room was recreated")
	}
}

func TestHub_ManyRoomsDoNotAccumulate(t *testing.T) {
	hub := NewHub()
	for id := uint(1); id <= 50; id++ {
		c := newClient(id)
		rh := hub.join(id, c)
		rh.leave(c)
	}
	require.Eventually(t, func() bool { return hub.roomCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Publish_FansOutToRoomOnly(t *testing.T) {
	hub := NewHub()
	clients := []*Client{newClient(1), newClient(2), newClient(3)}
	for _, c := range clients {
		hub.join(1, c)
	}
	other := newClient(4)
	hub.join(2, other)
	require.Eventually(t, func() bool { return hub.Online(1) == 3 && hub.Online(2) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(1, map[string]any{"type": "message", "content": "hello"})

	var wg sync.WaitGroup
	received := make([]bool, len(clients))
	for i, c := range clients {
		wg.Add(1)
		go func(idx int, client *Client) {
			defer wg.Done()
			select {
			case msg := <-client.send:
				received[idx] = strings.Contains(string(msg), `"hello"`)
			case <-time.After(time.Second):
			}
		}(i, c)
	}
	wg.Wait()

	for i, r := range received {
		assert.True(t, r, "client %d did not receive broadcast", i)
	}
	select {
	case msg := <-other.send:
		t.Errorf("client in another room received %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow := &Client{userID: 1, send: make(chan []byte)}
	hub.join(1, slow)
	require.Eventually(t, func() bool { return hub.Online(1) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(1, map[string]string{"type": "message"})
	require.Eventually(t, func() bool { return hub.Online(1) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRoomHub_Concurrent(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	numClients := 10
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			hub.join(1, newClient(uint(id)))
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return hub.Online(1) == numClients }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.roomCount())
}

func TestHub_Serve_EndToEnd(t *testing.T) {
	hub := NewHub(WithCheckOrigin(allowAll))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, 7, 1, "jan")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Online(7) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(7, map[string]any{"type": "message", "id": 1, "content": "hi"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "message", got["type"])
	assert.Equal(t, "hi", got["content"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Online(7) == 0 && hub.roomCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CheckOriginIsPerHub(t *testing.T) {
	strict := NewHub()
	open := NewHub(WithCheckOrigin(allowAll))

	serve := func(h *Hub) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = h.Serve(w, r, 1, 1, "jan")
		}))
	}
	strictSrv, openSrv := serve(strict), serve(open)
	defer strictSrv.Close()
	defer openSrv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}

	tests := []struct {
		name    string
		srv     *httptest.Server
		wantErr bool
	}{
		{"default hub rejects cross origin", strictSrv, true},
		{"permissive hub accepts", openSrv, false},
		// 构造顺序反过来也不影响前一个 hub。
		{"default hub still rejects", strictSrv, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(tt.srv), header)
			if tt.wantErr {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			_ = conn.Close()
		})
	}
}
