// Package transport owns the long-lived socket connections to the support
// backend. Each logical concern gets one shared connection that survives
// consumer mounts and redials itself with capped backoff; room membership
// is re-established from the connect callback so a transport reconnect is
// never assumed to preserve server-side room scope.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deskstream/deskstream/internal/event"
	"github.com/deskstream/deskstream/internal/metrics"
)

// ErrSendBufferFull is returned by Emit when the outbound queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

// Handler receives one inbound envelope. Handlers run on the read loop
// goroutine, in server delivery order.
type Handler func(env event.Envelope)

// Options configures a connection.
type Options struct {
	URL     string
	Concern string
	Logger  *slog.Logger

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	SendBuffer   int
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

type room struct {
	join       event.Type
	businessID string
}

// Conn is a self-healing websocket connection. It is safe for concurrent
// use; emits are queued on a buffered channel drained by the write loop.
type Conn struct {
	opts   Options
	logger *slog.Logger

	sendCh chan []byte
	done   chan struct{}

	closeOnce sync.Once

	mu              sync.Mutex
	ws              *websocket.Conn
	connected       bool
	rooms           map[room]struct{}
	handlers        map[event.Type]Handler
	connectHooks    map[int]func()
	disconnectHooks map[int]func()
	nextHookID      int
}

// Dial creates a connection and starts its dial/redial loop. The returned
// Conn is usable immediately; emits issued before the socket is up are
// queued and flushed once it connects.
func Dial(opts Options) *Conn {
	opts.setDefaults()

	c := &Conn{
		opts: opts,
		logger: opts.Logger.With(
			"component", "transport",
			"concern", opts.Concern,
			"session_id", uuid.NewString(),
		),
		sendCh:          make(chan []byte, opts.SendBuffer),
		done:            make(chan struct{}),
		rooms:           make(map[room]struct{}),
		handlers:        make(map[event.Type]Handler),
		connectHooks:    make(map[int]func()),
		disconnectHooks: make(map[int]func()),
	}

	go c.run()
	return c
}

// Connected reports whether the underlying socket is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// On registers the handler for one event name, replacing any previous one.
func (c *Conn) On(t event.Type, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// Off removes the handler for one event name. Events arriving afterwards
// are dropped silently.
func (c *Conn) Off(t event.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, t)
}

// OnConnect registers a callback fired after every successful (re)connect,
// after pending room joins have been re-emitted. The returned function
// deregisters it.
func (c *Conn) OnConnect(f func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHookID
	c.nextHookID++
	c.connectHooks[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connectHooks, id)
	}
}

// OnDisconnect registers a callback fired when the socket drops. The
// returned function deregisters it.
func (c *Conn) OnDisconnect(f func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHookID
	c.nextHookID++
	c.disconnectHooks[id] = f
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.disconnectHooks, id)
	}
}

// Emit queues an outbound envelope. It never blocks: when the buffer is
// full the message is dropped and ErrSendBufferFull returned.
func (c *Conn) Emit(t event.Type, payload any) error {
	env, err := event.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		c.logger.Warn("send buffer full, dropping message", "event", t)
		return ErrSendBufferFull
	}
}

// Join records room membership and emits the join message if the socket is
// already open. Membership is re-emitted from every subsequent connect, so
// reconnects restore room scope without caller involvement.
func (c *Conn) Join(join event.Type, businessID string) {
	r := room{join: join, businessID: businessID}

	c.mu.Lock()
	c.rooms[r] = struct{}{}
	connected := c.connected
	c.mu.Unlock()

	if connected {
		c.emitJoin(r)
	}
}

// Leave drops room membership and emits the leave message when one is
// defined for the room and the socket is open.
func (c *Conn) Leave(join, leave event.Type, businessID string) {
	r := room{join: join, businessID: businessID}

	c.mu.Lock()
	delete(c.rooms, r)
	connected := c.connected
	c.mu.Unlock()

	if connected && leave != "" {
		if err := c.Emit(leave, event.RoomRequest{BusinessID: businessID}); err != nil {
			c.logger.Warn("failed to emit leave", "event", leave, "business_id", businessID, "error", err)
		}
	}
}

// Close tears the connection down permanently. A closed Conn never redials.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		ws := c.ws
		c.connected = false
		c.mu.Unlock()

		if ws != nil {
			ws.Close()
		}
	})
}

func (c *Conn) emitJoin(r room) {
	if err := c.Emit(r.join, event.RoomRequest{BusinessID: r.businessID}); err != nil {
		c.logger.Warn("failed to emit join", "event", r.join, "business_id", r.businessID, "error", err)
		return
	}
	metrics.IncJoinsEmitted(string(r.join))
}

// writeJoin sends a join frame directly on the socket, bypassing the send
// queue. Only serve calls it, before the write loop starts, so it never
// races another writer.
func (c *Conn) writeJoin(ws *websocket.Conn, r room) error {
	env, err := event.NewEnvelope(r.join, event.RoomRequest{BusinessID: r.businessID})
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.IncJoinsEmitted(string(r.join))
	return nil
}

// run dials and redials until Close, with capped exponential backoff.
func (c *Conn) run() {
	backoff := c.opts.ReconnectMin

	for {
		select {
		case <-c.done:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
		ws, _, err := dialer.Dial(c.opts.URL, nil)
		if err != nil {
			c.logger.Warn("connect failed", "url", c.opts.URL, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
			continue
		}

		backoff = c.opts.ReconnectMin
		c.serve(ws)

		select {
		case <-c.done:
			return
		default:
			c.logger.Info("connection lost, reconnecting")
		}
	}
}

// serve runs one established socket until it fails or the Conn is closed.
func (c *Conn) serve(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.connected = true
	rooms := make([]room, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	hooks := make([]func(), 0, len(c.connectHooks))
	for _, f := range c.connectHooks {
		hooks = append(hooks, f)
	}
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.opts.URL)
	metrics.IncConnects(c.opts.Concern)
	metrics.SetConnected(c.opts.Concern, true)

	// Joins go straight onto the socket here, before the write loop starts
	// draining the queue, so room scope is restored ahead of anything that
	// was queued during the disconnect.
	for _, r := range rooms {
		if err := c.writeJoin(ws, r); err != nil {
			c.logger.Warn("failed to write join", "event", r.join, "business_id", r.businessID, "error", err)
		}
	}
	for _, f := range hooks {
		f()
	}

	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go c.writeLoop(ws, stop, writeDone)

	c.readLoop(ws)

	close(stop)
	ws.Close()
	<-writeDone

	c.mu.Lock()
	c.connected = false
	c.ws = nil
	downHooks := make([]func(), 0, len(c.disconnectHooks))
	for _, f := range c.disconnectHooks {
		downHooks = append(downHooks, f)
	}
	c.mu.Unlock()

	metrics.SetConnected(c.opts.Concern, false)
	for _, f := range downHooks {
		f()
	}
}

// readLoop reads envelopes and dispatches them, in delivery order, to the
// registered handlers. It returns when the socket fails.
func (c *Conn) readLoop(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		c.mu.Lock()
		h := c.handlers[env.Event]
		c.mu.Unlock()

		if h != nil {
			h(env)
		}
	}
}

// writeLoop drains the send queue and keeps the connection alive with
// pings. It returns when the socket fails or stop is closed.
func (c *Conn) writeLoop(ws *websocket.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write error", "error", err)
				ws.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}

		case <-stop:
			return
		}
	}
}
