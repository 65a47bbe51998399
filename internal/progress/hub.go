// Package progress broadcasts rate-search iteration events to connected
// websocket clients, so an operator can watch a search converge live
// instead of only seeing the final result.
package progress

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qosmap/ppsprobe/internal/client"
)

// ErrQueueFull is returned by subscriber.send when its outbound queue is
// saturated; the caller drops the event rather than blocking the
// broadcaster on a slow reader.
var ErrQueueFull = errors.New("progress: subscriber queue full")

const subscriberQueueSize = 64

// Event is a rate-search iteration, serialized as JSON for subscribers.
type Event struct {
	FlowLabel string          `json:"flow_label"`
	Progress  client.Progress `json:"progress"`
}

type subscriber struct {
	id   uint64
	conn *websocket.Conn
	out  chan Event
	once sync.Once
	done chan struct{}
}

func (s *subscriber) send(ev Event) error {
	select {
	case s.out <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub fans a stream of Events out to every currently-connected
// subscriber. A slow or stalled subscriber never blocks a broadcast: its
// per-connection queue is bounded, and a full queue drops the event for
// that subscriber only.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*subscriber
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[uint64]*subscriber),
	}
}

// Broadcast fans ev out to every connected subscriber, never blocking on
// any individual connection.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.clients {
		if err := sub.send(ev); err != nil {
			h.logger.Warn("dropping progress event for slow subscriber", zap.Uint64("subscriber", id))
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams Events to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn: conn,
		out:  make(chan Event, subscriberQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	sub.id = h.nextID
	h.nextID++
	h.clients[sub.id] = sub
	h.mu.Unlock()

	h.logger.Info("progress subscriber connected", zap.Uint64("subscriber", sub.id))

	go h.readLoop(sub)
	h.writeLoop(sub)
}

// readLoop discards inbound messages but must run so gorilla/websocket's
// control-frame handling (pings, close) keeps working; when it returns,
// the connection is gone and writeLoop should stop too.
func (h *Hub) readLoop(sub *subscriber) {
	defer sub.close()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer func() {
		sub.close()
		h.mu.Lock()
		delete(h.clients, sub.id)
		h.mu.Unlock()
		h.logger.Info("progress subscriber disconnected", zap.Uint64("subscriber", sub.id))
	}()

	for {
		select {
		case ev := <-sub.out:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}
