// Package broadcast implements the named-group pub/sub bus: realtime
// messages and device-status events are fanned out to WebSocket clients
// grouped by subscription ("telemetry", "tcp_telemetry").
package broadcast

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is the envelope delivered to every listener of a group:
// {type, message}, with type routed to the subscriber's handler.
type Event struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Bus is the in-process group fan-out. Publish is asynchronous and never
// blocks or panics into the caller; a slow or gone subscriber only drops
// its own messages.
type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[*subscriber]struct{}
	log    zerolog.Logger

	published   atomic.Int64
	publishFail atomic.Int64
}

// New creates an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		groups: make(map[string]map[*subscriber]struct{}),
		log:    log.With().Str("component", "broadcast").Logger(),
	}
}

// ServeWS upgrades the HTTP request to a WebSocket connection and
// registers it as a listener of group. The connection is unregistered
// when the client disconnects or the write pump exits.
func (b *Bus) ServeWS(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Warn().Err(err).Str("group", group).Msg("websocket upgrade failed")
			return
		}
		sub := &subscriber{conn: conn, send: make(chan Event, 64)}
		b.register(group, sub)

		go b.readPump(group, sub)
		b.writePump(sub)
	}
}

func (b *Bus) register(group string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[group] == nil {
		b.groups[group] = make(map[*subscriber]struct{})
	}
	b.groups[group][sub] = struct{}{}
}

func (b *Bus) unregister(group string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.groups[group]; ok {
		if _, ok := members[sub]; ok {
			delete(members, sub)
			close(sub.send)
		}
	}
}

// readPump drains and discards client frames (this bus is publish-only to
// clients); it exists to detect disconnects and service control frames.
func (b *Bus) readPump(group string, sub *subscriber) {
	defer func() {
		b.unregister(group, sub)
		sub.conn.Close()
	}()
	sub.conn.SetReadLimit(4096)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Bus) writePump(sub *subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-sub.send:
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish delivers evt to every listener of group. A failed or backed-up
// subscriber is skipped, never retried and never propagated to the caller.
func (b *Bus) Publish(group, eventType string, message any) {
	b.published.Add(1)
	evt := Event{Type: eventType, Message: message}

	// Sends stay under the read lock: unregister closes a subscriber's
	// channel only while holding the write lock, so a send can never hit a
	// closed channel. Each send is non-blocking, so the lock is held only
	// briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.groups[group] {
		select {
		case sub.send <- evt:
		default:
			b.publishFail.Add(1)
			b.log.Debug().Str("group", group).Msg("subscriber backed up, dropping broadcast")
		}
	}
}

// Subscribers reports the current listener count for group, for /health.
func (b *Bus) Subscribers(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Stats reports cumulative publish counters.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.publishFail.Load()
}
