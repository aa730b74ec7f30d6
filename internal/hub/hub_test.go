package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChecker allows a fixed set of (group, user) pairs.
type stubChecker struct {
	allowed map[string]bool
}

func (s *stubChecker) IsActiveMember(_ context.Context, groupID, userID string) (bool, error) {
	return s.allowed[groupID+":"+userID], nil
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newTestHub(allowed map[string]bool) *Hub {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(&stubChecker{allowed: allowed}, nil, logger)
}

// newHubServer serves websocket connections that identify the user via
// the "user" query parameter.
func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(h, conn, r.URL.Query().Get("user"), logger)
		client.Run()
	}))
	t.Cleanup(server.Close)
	return server
}

func dialHub(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func joinGroup(t *testing.T, conn *websocket.Conn, groupID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "JoinGroup", "group_id": groupID}))
	frame := readFrame(t, conn)
	require.Equal(t, "ack", frame["type"], "expected ack, got %v", frame)
	require.Equal(t, groupID, frame["group_id"])
}

func waitForSubscribers(t *testing.T, h *Hub, groupID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SubscriberCount(groupID) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("group %s never reached %d subscribers", groupID, want)
}

func TestHub_BroadcastReachesExactlySubscribers(t *testing.T) {
	h := newTestHub(map[string]bool{
		"g1:alice": true,
		"g1:bob":   true,
		"g2:carol": true,
	})
	server := newHubServer(t, h)

	alice := dialHub(t, server, "alice")
	bob := dialHub(t, server, "bob")
	carol := dialHub(t, server, "carol")

	joinGroup(t, alice, "g1")
	joinGroup(t, bob, "g1")
	joinGroup(t, carol, "g2")
	waitForSubscribers(t, h, "g1", 2)

	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-1", "content": "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		assert.Equal(t, "ReceiveMessage", frame["event"])
		payload := frame["payload"].(map[string]any)
		assert.Equal(t, "msg-1", payload["id"])
	}

	// Carol subscribes to a different group and must receive nothing.
	carol.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := carol.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SubscribeForbiddenForNonMember(t *testing.T) {
	h := newTestHub(map[string]bool{})
	server := newHubServer(t, h)

	conn := dialHub(t, server, "outsider")
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "JoinGroup", "group_id": "g1"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "FORBIDDEN", frame["code"])
	assert.Equal(t, "JoinGroup", frame["op"])
	assert.Equal(t, 0, h.SubscriberCount("g1"))
}

func TestHub_LeaveGroupStopsDelivery(t *testing.T) {
	h := newTestHub(map[string]bool{"g1:alice": true})
	server := newHubServer(t, h)

	alice := dialHub(t, server, "alice")
	joinGroup(t, alice, "g1")
	waitForSubscribers(t, h, "g1", 1)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "LeaveGroup", "group_id": "g1"}))
	frame := readFrame(t, alice)
	require.Equal(t, "ack", frame["type"])
	waitForSubscribers(t, h, "g1", 0)

	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-1"})

	alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
}

func TestHub_DisconnectCleansUpSubscriptions(t *testing.T) {
	h := newTestHub(map[string]bool{"g1:alice": true})
	server := newHubServer(t, h)

	alice := dialHub(t, server, "alice")
	joinGroup(t, alice, "g1")
	waitForSubscribers(t, h, "g1", 1)

	alice.Close()
	waitForSubscribers(t, h, "g1", 0)

	// Broadcasting to an empty group must not panic or block.
	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-1"})
}

func TestHub_RejoinAfterReconnectRequiresNewSubscribe(t *testing.T) {
	h := newTestHub(map[string]bool{"g1:alice": true})
	server := newHubServer(t, h)

	first := dialHub(t, server, "alice")
	joinGroup(t, first, "g1")
	waitForSubscribers(t, h, "g1", 1)
	first.Close()
	waitForSubscribers(t, h, "g1", 0)

	// A fresh connection starts with no subscriptions.
	second := dialHub(t, server, "alice")
	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-1"})

	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := second.ReadMessage()
	assert.Error(t, err)

	joinGroup(t, second, "g1")
	waitForSubscribers(t, h, "g1", 1)

	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-2"})
	frame := readFrame(t, second)
	assert.Equal(t, "ReceiveMessage", frame["event"])
}

func TestHub_MalformedFrameReportsError(t *testing.T) {
	h := newTestHub(map[string]bool{})
	server := newHubServer(t, h)

	conn := dialHub(t, server, "alice")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "INVALID_INPUT", frame["code"])
}

func TestHub_DroppedClientToleratesLateSends(t *testing.T) {
	h := newTestHub(map[string]bool{"g1:alice": true})
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	// No pumps running: the send buffer fills instead of draining, the
	// way a stalled consumer's would.
	c := NewClient(h, nil, "alice", logger)
	require.NoError(t, h.Subscribe(context.Background(), c, "g1"))

	for i := 0; i < sendBufferSize; i++ {
		require.True(t, c.trySend([]byte("backlog")))
	}

	// Full buffer: this broadcast drops the client.
	h.BroadcastToGroup("g1", "ReceiveMessage", map[string]string{"id": "msg-1"})
	assert.Equal(t, 0, h.SubscriberCount("g1"))

	// The read pump may still be processing one last inbound frame, and
	// a concurrent broadcast may still hold the client in its recipient
	// snapshot. Neither late send may panic.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.sendAck("JoinGroup", "g1")
		c.sendError("JoinGroup", "g1", "FORBIDDEN", "membership revoked")
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.trySend([]byte("stale snapshot"))
		}
	}()
	wg.Wait()

	assert.False(t, c.trySend([]byte("after teardown")))
}
