// Package presence runs the real-time gateway editor sessions use to
// announce themselves to each other.
//
// One goroutine, Run, owns the registry of live connections. Connects,
// frames and disconnects all travel to it over a single channel, so frames
// from one connection are handled in the order they arrived and reach every
// recipient in that order. Delivery is best effort: a peer that is offline
// or too slow to drain its buffer misses the frame, and nothing is replayed.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/id"
)

// ErrClosed is returned once the gateway has shut down.
var ErrClosed = errors.New("presence: gateway closed")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("presence: gateway already running")

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 64

// State is a connection's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is one live session. Its outbound channel is closed by the gateway
// when the session leaves the registry.
type Conn struct {
	id          string
	userID      string
	connectedAt time.Time
	send        chan Frame
	state       atomic.Int32
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated identity, or "" for anonymous sessions.
func (c *Conn) UserID() string { return c.userID }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Outbound returns the frames to write to the client, in order.
func (c *Conn) Outbound() <-chan Frame { return c.send }

type opKind int

const (
	opConnect opKind = iota
	opFrame
	opDisconnect
)

type op struct {
	kind  opKind
	conn  *Conn
	frame Frame
	ack   chan struct{}
}

// Options configures a Gateway.
type Options struct {
	SendBuffer int
	// Now is the clock stamped into ready acknowledgements.
	Now func() time.Time
}

// Gateway fans presence events out between live connections.
type Gateway struct {
	ops        chan op
	done       chan struct{}
	running    atomic.Bool
	count      atomic.Int64
	sendBuffer int
	now        func() time.Time
	logger     *slog.Logger

	// conns is touched only by the Run goroutine.
	conns map[string]*Conn
}

// NewGateway creates a gateway. Call Run to start it.
func NewGateway(opts Options, logger *slog.Logger) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		ops:        make(chan op, 256),
		done:       make(chan struct{}),
		sendBuffer: opts.SendBuffer,
		now:        opts.Now,
		logger:     logger,
		conns:      make(map[string]*Conn),
	}
}

// Run processes events until ctx is canceled, then disconnects every
// session. It must be called once.
func (g *Gateway) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g.logger.Info("presence gateway starting")

	for {
		select {
		case o := <-g.ops:
			g.handle(o)

		case <-ctx.Done():
			g.logger.Info("presence gateway stopping", slog.Int("connections", len(g.conns)))
			close(g.done)
			for _, c := range g.conns {
				g.remove(c)
			}
			return nil
		}
	}
}

// Done is closed once Run has returned and every session is disconnected.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// Running reports whether Run is active.
func (g *Gateway) Running() bool {
	if !g.running.Load() {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// ConnCount returns the number of registered connections.
func (g *Gateway) ConnCount() int {
	return int(g.count.Load())
}

// Connect registers a new session and returns once it is Connected.
func (g *Gateway) Connect(ctx context.Context, userID string) (*Conn, error) {
	connID, err := id.Generate(id.PrefixConnection)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:          connID,
		userID:      userID,
		connectedAt: g.now(),
		send:        make(chan Frame, g.sendBuffer),
	}
	c.state.Store(int32(StateConnecting))

	ack := make(chan struct{})
	if err := g.submit(ctx, op{kind: opConnect, conn: c, ack: ack}); err != nil {
		return nil, err
	}

	select {
	case <-ack:
		return c, nil
	case <-g.done:
		return nil, ErrClosed
	}
}

// Dispatch hands a client frame to the gateway. Frames from one connection
// must be dispatched from a single goroutine to keep their order.
func (g *Gateway) Dispatch(ctx context.Context, c *Conn, f Frame) error {
	return g.submit(ctx, op{kind: opFrame, conn: c, frame: f})
}

// Disconnect removes a session. Calling it more than once, or after
// shutdown, is harmless.
func (g *Gateway) Disconnect(c *Conn) {
	select {
	case g.ops <- op{kind: opDisconnect, conn: c}:
	case <-g.done:
	}
}

func (g *Gateway) submit(ctx context.Context, o op) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}

	select {
	case g.ops <- o:
		return nil
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) handle(o op) {
	switch o.kind {
	case opConnect:
		g.conns[o.conn.id] = o.conn
		g.count.Add(1)
		o.conn.state.Store(int32(StateConnected))
		close(o.ack)
		g.logger.Info("presence connected",
			slog.String("conn_id", o.conn.id),
			slog.String("user_id", o.conn.userID),
			slog.Int("connections", len(g.conns)))

	case opDisconnect:
		if _, ok := g.conns[o.conn.id]; !ok {
			return
		}
		g.remove(o.conn)
		g.logger.Info("presence disconnected",
			slog.String("conn_id", o.conn.id),
			slog.Duration("duration", g.now().Sub(o.conn.connectedAt)),
			slog.Int("connections", len(g.conns)))

	case opFrame:
		if _, ok := g.conns[o.conn.id]; !ok {
			return
		}
		g.route(o.conn, o.frame)
	}
}

func (g *Gateway) route(from *Conn, f Frame) {
	if f.Event == EventHydrate {
		g.deliver(from, readyFrame(g.now().UnixMilli()))
		return
	}

	relay, ok := relays[f.Event]
	if !ok {
		g.logger.Debug("ignoring unknown event",
			slog.String("conn_id", from.id),
			slog.String("event", string(f.Event)))
		return
	}

	out := Frame{Event: relay, Payload: f.Payload}
	var delivered, dropped int
	for connID, c := range g.conns {
		if connID == from.id {
			continue
		}
		if g.deliver(c, out) {
			delivered++
		} else {
			dropped++
		}
	}

	g.logger.Debug("broadcast",
		slog.String("event", string(relay)),
		slog.String("from", from.id),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped))
}

// deliver queues f without blocking the loop; a full queue drops the frame.
func (g *Gateway) deliver(c *Conn, f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		g.logger.Warn("dropped frame for slow connection",
			slog.String("conn_id", c.id),
			slog.String("event", string(f.Event)))
		return false
	}
}

func (g *Gateway) remove(c *Conn) {
	delete(g.conns, c.id)
	g.count.Add(-1)
	c.state.Store(int32(StateDisconnected))
	close(c.send)
}
