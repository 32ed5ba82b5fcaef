package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	clientBuffer   = 16
	broadcastQueue = 1000
)

// Event names pushed to subscribers
const (
	EventTradeIdentified = "trade_identified"
	EventAlertIntent     = "alert_intent"
	EventTradeExpired    = "trade_expired"
	EventTradeStatus     = "trade_status"
)

// Message is the envelope written to every subscriber
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Broker fans trade events out to websocket subscribers
type Broker struct {
	clients    map[*subscriber]bool
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan []byte
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewBroker creates a new websocket broker
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[*subscriber]bool),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan []byte, broadcastQueue),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the broker loop until ctx is cancelled
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c.send)
				delete(b.clients, c)
			}
			b.mu.Unlock()
			return

		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = true
			total := len(b.clients)
			b.mu.Unlock()
			log.Printf("🔌 Realtime client connected. Total: %d", total)

		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.send)
				log.Printf("🔌 Realtime client disconnected. Total: %d", len(b.clients))
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for c := range b.clients {
				select {
				case c.send <- msg:
				default:
					// slow subscriber, drop the message
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the request and streams events until the peer goes away
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  Websocket upgrade failed: %v", err)
		return
	}

	c := &subscriber{conn: conn, send: make(chan []byte, clientBuffer)}
	b.register <- c

	go b.writePump(c)
	b.readPump(c)
}

// readPump only watches for close and pong frames
func (b *Broker) readPump(c *subscriber) {
	defer func() {
		b.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broker) writePump(c *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues an event for every connected subscriber.
// It never blocks; the event is dropped when the queue is full.
func (b *Broker) Broadcast(event string, payload interface{}) {
	if b == nil {
		return
	}

	jsonBytes, err := json.Marshal(Message{Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		log.Printf("⚠️  Failed to marshal realtime event %s: %v", event, err)
		return
	}

	select {
	case b.broadcast <- jsonBytes:
	default:
	}
}

// ClientCount returns the number of connected subscribers
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
