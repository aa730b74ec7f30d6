// Package hub maintains the live websocket sessions and fans broadcast
// events out to the subscribers of each group.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MembershipChecker re-validates group membership at subscription time.
// Satisfied by service.GroupService.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Metrics tracks hub activity.
type Metrics struct {
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	broadcasts    *prometheus.CounterVec
	dropped       prometheus.Counter
}

// NewMetrics registers hub metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_hub_connections",
			Help: "Number of open websocket connections.",
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chat_hub_subscriptions",
			Help: "Number of active group subscriptions across all connections.",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_hub_broadcasts_total",
			Help: "Total events broadcast to groups.",
		}, []string{"event"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_hub_dropped_clients_total",
			Help: "Clients disconnected because their send buffer overflowed.",
		}),
	}
}

// Hub tracks which clients subscribe to which groups. The mutex guards
// the subscription maps only; it is never held across network I/O.
// Writes to a client go through its buffered send channel, and a client
// that cannot keep up is dropped rather than allowed to stall a
// broadcast.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	checker MembershipChecker
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a hub. metrics may be nil.
func New(checker MembershipChecker, metrics *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		groups:  make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		checker: checker,
		metrics: metrics,
		logger:  logger,
	}
}

// eventFrame is the envelope for events pushed to clients.
type eventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// BroadcastToGroup marshals the event once and hands it to every
// subscriber of the group. Implements service.Broadcaster.
func (h *Hub) BroadcastToGroup(groupID, eventName string, payload any) {
	data, err := json.Marshal(eventFrame{Event: eventName, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal broadcast event",
			slog.String("event", eventName),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.groups[groupID]))
	for c := range h.groups[groupID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if c.trySend(data) || c.closed() {
			continue
		}
		// Slow consumer: a full buffer means the client has fallen
		// too far behind to guarantee delivery; it must reconnect
		// and resync from history.
		h.logger.Warn("dropping slow websocket client",
			slog.String("user_id", c.userID),
		)
		if h.metrics != nil {
			h.metrics.dropped.Inc()
		}
		h.unregister(c)
	}

	if h.metrics != nil {
		h.metrics.broadcasts.WithLabelValues(eventName).Inc()
	}
}

// Subscribe adds the client to a group's recipient set after
// re-validating its membership. Authorization lives server side; a
// client claim to a group is never trusted.
func (h *Hub) Subscribe(ctx context.Context, c *Client, groupID string) error {
	active, err := h.checker.IsActiveMember(ctx, groupID, c.userID)
	if err != nil {
		return err
	}
	if !active {
		return errNotMember
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		// Client already disconnected while the membership check ran.
		return errClientGone
	}

	set, ok := h.groups[groupID]
	if !ok {
		set = make(map[*Client]struct{})
		h.groups[groupID] = set
	}
	if _, already := set[c]; already {
		return nil
	}
	set[c] = struct{}{}
	c.subscriptions[groupID] = struct{}{}

	if h.metrics != nil {
		h.metrics.subscriptions.Inc()
	}

	return nil
}

// Unsubscribe removes the client from a group's recipient set.
func (h *Hub) Unsubscribe(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubscription(c, groupID)
}

// register adds a connected client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.connections.Inc()
	}
}

// unregister removes the client from every group and signals its
// teardown. Safe to call more than once. The send channel itself stays
// open: the read pump and concurrent broadcasts may still hold a
// reference to the client, and their late trySend calls must land in a
// dead buffer, not on a closed channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
		for groupID := range c.subscriptions {
			h.removeSubscription(c, groupID)
		}
	}
	h.mu.Unlock()

	if present {
		close(c.done)
		if h.metrics != nil {
			h.metrics.connections.Dec()
		}
	}
}

// removeSubscription must be called with h.mu held.
func (h *Hub) removeSubscription(c *Client, groupID string) {
	set, ok := h.groups[groupID]
	if !ok {
		return
	}
	if _, subscribed := set[c]; !subscribed {
		return
	}
	delete(set, c)
	delete(c.subscriptions, groupID)
	if len(set) == 0 {
		delete(h.groups, groupID)
	}
	if h.metrics != nil {
		h.metrics.subscriptions.Dec()
	}
}

// SubscriberCount reports how many clients subscribe to a group.
func (h *Hub) SubscriberCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}
