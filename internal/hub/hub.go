package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketmux/internal/cache"
	"marketmux/logger"
	"marketmux/models"
)

const sendBuffer = 256

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans normalized ticks out to every connected subscriber. A joining
// subscriber first receives the full current price cache as a burst of
// individual messages, then only incremental updates. Subscribers are
// removed by their own read pump on close or error, never by the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	cache *cache.MarketCache
	log   *logger.Entry
}

func New(c *cache.MarketCache) *Hub {
	return &Hub{
		subs:  make(map[string]*subscriber),
		cache: c,
		log:   logger.GetLogger().WithComponent("hub"),
	}
}

// Register adopts an upgraded connection as a subscriber and replays the
// publishable price cache to it.
func (h *Hub) Register(conn *websocket.Conn) {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.log.WithFields(logger.Fields{"subscriber": sub.id, "subscribers": count}).Info("subscriber joined")

	// The replay is written synchronously, before the write pump starts
	// draining the send channel, so a cache larger than the send buffer
	// still reaches the subscriber in full. Concurrent publishes queue up
	// in the channel meanwhile; nothing else writes the connection yet.
	for _, tick := range h.cache.PublishablePrices() {
		data, err := json.Marshal(tick)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(sub)
			return
		}
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

// Publish serializes the tick once and sends it to every subscriber without
// blocking; slow subscribers lose messages rather than stall the pipeline.
func (h *Hub) Publish(tick models.MarketTick) {
	data, err := json.Marshal(tick)
	if err != nil {
		h.log.WithError(err).Error("failed to serialize tick")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.subs) == 0 {
		return
	}

	logger.IncrementBroadcast(len(data))
	for _, sub := range h.subs {
		sub.queue(data)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and rejects future registrations. Used
// at shutdown before the readers stop, so no broadcast follows a close.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.conn.Close()
	}
	h.log.WithFields(logger.Fields{"disconnected": len(subs)}).Info("hub closed")
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	sub.conn.Close()
	h.log.WithFields(logger.Fields{"subscriber": sub.id, "subscribers": count}).Info("subscriber left")
}

// readPump drains client frames until the connection dies, then removes the
// subscriber. No application messages are expected from clients.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	for data := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Closing the transport makes the read pump exit and remove us.
			sub.conn.Close()
			return
		}
	}
}

func (s *subscriber) queue(data []byte) {
	select {
	case s.send <- data:
	default:
		logger.IncrementSubscriberDrop()
	}
}
