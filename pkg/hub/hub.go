package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-planar/internal/log"
)

// SlowPolicy decides what happens when a client's queue is full.
type SlowPolicy int

const (
	// Disconnect drops the client, so a connected client never sees a
	// feed with holes in it.
	Disconnect SlowPolicy = iota
	// Skip drops the message for that client only. Suits frame feeds,
	// where the next frame supersedes the missed one.
	Skip
)

// Options configures a Hub.
type Options struct {
	Name         string
	Policy       SlowPolicy
	ClientBuffer int // Messages queued per client
	QueueSize    int // Messages queued for broadcast
}

// DefaultOptions returns a disconnecting hub with 256-message queues.
func DefaultOptions(name string) Options {
	return Options{
		Name:         name,
		Policy:       Disconnect,
		ClientBuffer: 256,
		QueueSize:    256,
	}
}

// Hub tracks the clients of one feed and broadcasts to them.
type Hub struct {
	opts   Options
	logger *slog.Logger

	// mu guards clients and every close of a client's send channel.
	mu      sync.RWMutex
	clients map[*Client]struct{}

	queue chan Message
	join  chan *Client
	leave chan *Client

	done     chan struct{}
	stopOnce sync.Once

	running atomic.Bool
	dropped atomic.Uint64 // Messages not delivered to some client
	evicted atomic.Uint64 // Clients disconnected for falling behind
}

// New creates a hub. Zero queue sizes take the defaults.
func New(opts Options) *Hub {
	def := DefaultOptions(opts.Name)
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = def.ClientBuffer
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}

	return &Hub{
		opts:    opts,
		logger:  log.With("hub", opts.Name),
		clients: make(map[*Client]struct{}),
		queue:   make(chan Message, opts.QueueSize),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		done:    make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop; call it in a goroutine.
func (h *Hub) Run() {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.detach(c)
			}
			h.mu.Unlock()
			h.logger.Debug("hub stopped")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "clients", n)

		case c := <-h.leave:
			h.mu.Lock()
			h.detach(c)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", n)

		case msg := <-h.queue:
			h.deliver(msg)
		}
	}
}

// deliver queues msg on every client without blocking.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
			continue
		default:
		}

		h.dropped.Add(1)
		if h.opts.Policy == Disconnect {
			h.detach(c)
			h.evicted.Add(1)
			h.logger.Warn("disconnected slow client", "clients", len(h.clients))
		}
	}
}

// detach removes c and closes its queue. Callers hold mu.
func (h *Hub) detach(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Stop ends Run and disconnects every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.queue <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(JSON(data))
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages some client did not get.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Evicted returns how many clients were disconnected for being slow.
func (h *Hub) Evicted() uint64 {
	return h.evicted.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Name returns the feed name.
func (h *Hub) Name() string {
	return h.opts.Name
}
