package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
)

func view(id, content string) domain.MessageView {
	return domain.MessageView{
		ID:             id,
		GroupID:        "g1",
		SenderID:       "user-001",
		SenderUsername: "alice",
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// --- Local State Tests ---

func TestSession_DuplicateEventsApplyOnce(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	payload := rawPayload(t, view("msg-1", "hello"))
	s.applyEvent(domain.EventReceiveMessage, payload)
	s.applyEvent(domain.EventReceiveMessage, payload)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSession_LocalEchoDeduplicates(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	// The HTTP response to the client's own send arrives first, then the
	// realtime echo of the same message.
	s.AddLocal(view("msg-1", "hello"))
	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-1", "hello")))

	require.Len(t, s.Messages(), 1)
}

func TestSession_UpdateAppliesByID(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-1", "original")))
	s.applyEvent(domain.EventMessageUpdated, rawPayload(t, view("msg-1", "edited")))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Content)
}

func TestSession_UpdateForUnknownMessageInserts(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	s.applyEvent(domain.EventMessageUpdated, rawPayload(t, view("msg-9", "edited elsewhere")))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited elsewhere", msgs[0].Content)
}

func TestSession_DeleteMarksByID(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-1", "hello")))
	s.applyEvent(domain.EventMessageDeleted, rawPayload(t, map[string]string{"id": "msg-1"}))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSession_DeleteForUnknownMessageIgnored(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	s.applyEvent(domain.EventMessageDeleted, rawPayload(t, map[string]string{"id": "msg-404"}))

	assert.Empty(t, s.Messages())
}

func TestSession_OrderPreserved(t *testing.T) {
	s := NewSession(Config{URL: "ws://unused"})

	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-1", "one")))
	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-2", "two")))
	s.applyEvent(domain.EventReceiveMessage, rawPayload(t, view("msg-3", "three")))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "msg-3", msgs[2].ID)
}

// --- Connection Tests ---

var sessionUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSession_RefreshOn401(t *testing.T) {
	var handshakes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := sessionUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]any{
			"event":   domain.EventReceiveMessage,
			"payload": view("msg-1", "after refresh"),
		})
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var refreshed atomic.Int32
	s := NewSession(Config{
		URL:         wsURL(server),
		AccessToken: "stale-token",
		Refresh: func(context.Context) (string, error) {
			refreshed.Add(1)
			return "fresh-token", nil
		},
		InitialBackoff: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), refreshed.Load())
	assert.GreaterOrEqual(t, handshakes.Load(), int32(2))
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_ReconnectsAndResubscribes(t *testing.T) {
	var joins atomic.Int32
	var dropFirst atomic.Bool
	dropFirst.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := sessionUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if dropFirst.CompareAndSwap(true, false) {
			// First connection dies immediately to force a reconnect.
			conn.Close()
			return
		}
		for {
			var frame map[string]string
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame["type"] == "JoinGroup" && frame["group_id"] == "g1" {
				joins.Add(1)
				conn.WriteJSON(map[string]any{
					"event":   domain.EventReceiveMessage,
					"payload": view("msg-1", "resubscribed"),
				})
			}
		}
	}))
	defer server.Close()

	s := NewSession(Config{
		URL:            wsURL(server),
		AccessToken:    "token",
		InitialBackoff: 10 * time.Millisecond,
	})
	require.NoError(t, s.JoinGroup("g1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.GreaterOrEqual(t, joins.Load(), int32(1))
}

func TestSession_RunStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := sessionUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	s := NewSession(Config{
		URL:            wsURL(server),
		AccessToken:    "token",
		InitialBackoff: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
