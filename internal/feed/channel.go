// Package feed maintains the long-lived WebSocket subscription to the
// universe event feed.
package feed

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mecanolabs/jarvis-console/internal/event"
)

// Handler receives each envelope delivered by the channel, in arrival order.
type Handler func(*event.Envelope)

// StatusFunc is notified when the channel connects or disconnects.
type StatusFunc func(connected bool)

// Channel is one logical subscription to the event feed. It keeps at most
// one socket open at a time, reconnects after a fixed delay on unintentional
// close, and delivers envelopes to whichever handler is currently installed.
// The handler is swappable without tearing down the connection, so changing
// which universe is of interest causes no connection churn.
type Channel struct {
	url            string
	reconnectDelay time.Duration

	mu       sync.RWMutex
	handler  Handler
	statusFn StatusFunc
	conn     *websocket.Conn

	connected atomic.Bool
	closed    atomic.Bool
	started   atomic.Bool
	done      chan struct{}
	stopped   chan struct{}
}

// NewChannel creates a channel for the given WebSocket URL. The connection
// is not opened until Start is called.
func NewChannel(url string, reconnectDelay time.Duration) *Channel {
	return &Channel{
		url:            url,
		reconnectDelay: reconnectDelay,
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
}

// SetHandler installs the message handler. Safe to call at any time; the
// next delivered envelope goes to the new handler.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnStatus installs the connect/disconnect notification callback.
func (c *Channel) OnStatus(fn StatusFunc) {
	c.mu.Lock()
	c.statusFn = fn
	c.mu.Unlock()
}

// IsConnected reports whether the socket is currently open.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Start opens the connection and begins delivering envelopes. The connect
// and reconnect attempts run on a single goroutine, so they are serialized
// and at most one socket is open at a time. Start is a no-op after Close or
// a second call.
func (c *Channel) Start() {
	if c.closed.Load() || !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

// Close tears the channel down intentionally: no further reconnect is
// attempted, a pending reconnect delay is cancelled, and a dial that
// completes after this point is closed by the run loop itself. Blocks until
// the run loop has exited.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if c.started.Load() {
		<-c.stopped
	}
}

func (c *Channel) run() {
	defer close(c.stopped)

	for {
		if c.closed.Load() {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			log.Printf("feed: dial %s failed: %v", c.url, err)
			if !c.sleep() {
				return
			}
			continue
		}

		// Publish under the lock with a closed re-check: Close may have run
		// while the dial was in flight, and the fresh socket must not
		// outlive it.
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.setConnected(true)
		c.readLoop(conn)
		c.setConnected(false)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if c.closed.Load() {
			return
		}
		log.Printf("feed: connection lost, reconnecting in %s", c.reconnectDelay)
		if !c.sleep() {
			return
		}
	}
}

// readLoop reads until the socket errors or closes. Malformed messages are
// dropped without disturbing the stream.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("feed: read error: %v", err)
			}
			return
		}

		env, err := event.Parse(data)
		if err != nil {
			log.Printf("feed: dropping malformed message: %v", err)
			continue
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler(env)
		}
	}
}

// sleep waits out the reconnect delay. Returns false if the channel was
// closed while waiting.
func (c *Channel) sleep() bool {
	select {
	case <-c.done:
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

func (c *Channel) setConnected(connected bool) {
	c.connected.Store(connected)
	c.mu.RLock()
	fn := c.statusFn
	c.mu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}
