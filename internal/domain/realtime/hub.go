package realtime

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
)

const sendBuffer = 16

var (
	streamConnections = expvar.NewInt("balance_stream_connections")
	streamSent        = expvar.NewInt("balance_stream_events_sent_total")
	streamDropped     = expvar.NewInt("balance_stream_events_dropped_total")
)

// Message is what subscribers receive. The first message on a stream is a
// snapshot; later ones follow committed ledger entries.
type Message struct {
	Type string `json:"type"`
	ledger.BalanceEvent
}

const (
	TypeSnapshot = "snapshot"
	TypeBalance  = "balance"
)

// Client is one open balance stream.
type Client struct {
	UserID uuid.UUID
	Conn   *websocket.Conn
	send   chan []byte

	// Until open, events are held so the snapshot goes out first.
	mu     sync.Mutex
	opened bool
	held   [][]byte
}

func newClient(userID uuid.UUID) *Client {
	return &Client{UserID: userID, send: make(chan []byte, sendBuffer)}
}

// push queues msg without blocking. It reports false when the reader is
// too slow and msg was dropped.
func (c *Client) push(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		// One slot stays free for the snapshot.
		if len(c.held) >= sendBuffer-1 {
			return false
		}
		c.held = append(c.held, msg)
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub tracks open streams on this instance. Events from every instance
// arrive through Redis, so each hub only delivers locally.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*Client]struct{})}
}

// add registers c before its snapshot is read. Events delivered from here
// on are held until open.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	streamConnections.Add(1)
}

// open queues snapshot followed by every event held since add.
func (h *Hub) open(c *Client, snapshot []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return
	}
	c.send <- snapshot
	for _, msg := range c.held {
		c.send <- msg
	}
	c.held = nil
	c.opened = true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.send)
	streamConnections.Add(-1)
}

// Connected reports how many streams userID has open here.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Deliver pushes ev to the user's local streams. Slow readers lose events
// rather than block the hub; the next event carries the full balance.
func (h *Hub) Deliver(ev ledger.BalanceEvent) {
	data, err := json.Marshal(Message{Type: TypeBalance, BalanceEvent: ev})
	if err != nil {
		log.Error().Err(err).Msg("balance event encode failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[ev.UserID] {
		if c.push(data) {
			streamSent.Add(1)
		} else {
			streamDropped.Add(1)
		}
	}
}

// Listen relays ledger.BalanceChannel into Deliver until ctx ends.
func (h *Hub) Listen(ctx context.Context, client *redis.Client) error {
	sub := client.Subscribe(ctx, ledger.BalanceChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.handle(msg.Payload)
		}
	}
}

func (h *Hub) handle(payload string) {
	var ev ledger.BalanceEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Warn().Err(err).Msg("malformed balance event")
		return
	}
	if ev.UserID == uuid.Nil {
		return
	}
	h.Deliver(ev)
}
