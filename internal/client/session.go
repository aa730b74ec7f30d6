// Package client implements a reconnecting websocket session that keeps
// a local, deduplicated view of group messages in sync with the server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Erenimo3442/GroupChatting/internal/domain"
)

// State is the connection state of a session.
type State string

// Session states. A session cycles Disconnected -> Connecting ->
// Connected, detouring through Reauthenticating when the server rejects
// the handshake token.
const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateConnected        State = "connected"
	StateReauthenticating State = "reauthenticating"
)

// RefreshFunc exchanges expired credentials for a fresh access token.
type RefreshFunc func(ctx context.Context) (string, error)

// Config holds the parameters for a sync session.
type Config struct {
	// URL is the websocket endpoint.
	URL string

	// AccessToken authenticates the handshake.
	AccessToken string

	// Refresh is called when the handshake is rejected with 401. Nil
	// means authentication failures are terminal.
	Refresh RefreshFunc

	Logger *slog.Logger

	// InitialBackoff and MaxBackoff bound the reconnect delay. Zero
	// values get defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Dialer *websocket.Dialer
}

// Session maintains the connection and the local message state. All
// exported methods are safe for concurrent use.
type Session struct {
	cfg Config

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	token    string
	groups   map[string]struct{}
	messages map[string]*domain.MessageView
	order    []string
}

// NewSession creates a session. Run must be called to connect.
func NewSession(cfg Config) *Session {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		state:    StateDisconnected,
		token:    cfg.AccessToken,
		groups:   make(map[string]struct{}),
		messages: make(map[string]*domain.MessageView),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JoinGroup records the group as a desired subscription and, when
// connected, subscribes immediately. Desired subscriptions are replayed
// after every reconnect.
func (s *Session) JoinGroup(groupID string) error {
	s.mu.Lock()
	s.groups[groupID] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]string{"type": "JoinGroup", "group_id": groupID})
}

// AddLocal inserts a message obtained out of band, typically the HTTP
// response to the client's own send. The realtime echo of the same
// message deduplicates against it.
func (s *Session) AddLocal(view domain.MessageView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(view)
}

// Messages returns a snapshot of the local message state in arrival
// order.
func (s *Session) Messages() []domain.MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessageView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.messages[id])
	}
	return out
}

// Run connects and keeps the session alive until ctx is canceled. Each
// connection failure backs off exponentially; a successful connection
// resets the backoff.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateDisconnected)
			return err
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			s.cfg.Logger.Debug("websocket dial failed",
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
			continue
		}

		backoff = s.cfg.InitialBackoff
		s.attach(conn)
		s.setState(StateConnected)

		if err := s.resubscribe(conn); err != nil {
			s.detach(conn)
			continue
		}

		s.readLoop(ctx, conn)
		s.detach(conn)
		s.setState(StateDisconnected)
	}
}

// dial performs the handshake, refreshing credentials once when the
// server answers 401.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialWithToken(ctx)
	if err == nil {
		return conn, nil
	}

	if resp != nil && resp.StatusCode == http.StatusUnauthorized && s.cfg.Refresh != nil {
		s.setState(StateReauthenticating)
		token, refreshErr := s.cfg.Refresh(ctx)
		if refreshErr != nil {
			return nil, fmt.Errorf("refresh credentials: %w", refreshErr)
		}
		s.mu.Lock()
		s.token = token
		s.mu.Unlock()
		s.setState(StateConnecting)

		conn, _, err = s.dialWithToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("dial after refresh: %w", err)
		}
		return conn, nil
	}

	return nil, err
}

func (s *Session) dialWithToken(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
}

// resubscribe replays the desired subscriptions on a fresh connection.
func (s *Session) resubscribe(conn *websocket.Conn) error {
	s.mu.Lock()
	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	for _, g := range groups {
		if err := conn.WriteJSON(map[string]string{"type": "JoinGroup", "group_id": g}); err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes server frames until the connection drops or ctx is
// canceled.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(data)
	}
}

// serverFrame covers both event pushes and ack/error responses.
type serverFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func (s *Session) handleFrame(data []byte) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.cfg.Logger.Debug("malformed server frame",
			slog.String("error", err.Error()),
		)
		return
	}

	if frame.Event != "" {
		s.applyEvent(frame.Event, frame.Payload)
		return
	}

	if frame.Type == "error" {
		s.cfg.Logger.Warn("server rejected request",
			slog.String("op", frame.Op),
			slog.String("code", frame.Code),
			slog.String("message", frame.Message),
		)
	}
}

// applyEvent folds one realtime event into the local state.
func (s *Session) applyEvent(eventName string, payload json.RawMessage) {
	switch eventName {
	case domain.EventReceiveMessage:
		var view domain.MessageView
		if err := json.Unmarshal(payload, &view); err != nil {
			return
		}
		s.mu.Lock()
		s.insertLocked(view)
		s.mu.Unlock()

	case domain.EventMessageUpdated:
		var view domain.MessageView
		if err := json.Unmarshal(payload, &view); err != nil {
			return
		}
		s.mu.Lock()
		if existing, ok := s.messages[view.ID]; ok {
			*existing = view
		} else {
			s.insertLocked(view)
		}
		s.mu.Unlock()

	case domain.EventMessageDeleted:
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &ref); err != nil {
			return
		}
		s.mu.Lock()
		if existing, ok := s.messages[ref.ID]; ok {
			existing.IsDeleted = true
		}
		s.mu.Unlock()
	}
}

// insertLocked adds a message unless its ID is already known. Must be
// called with s.mu held.
func (s *Session) insertLocked(view domain.MessageView) {
	if _, ok := s.messages[view.ID]; ok {
		return
	}
	v := view
	s.messages[view.ID] = &v
	s.order = append(s.order, view.ID)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) detach(conn *websocket.Conn) {
	conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}
