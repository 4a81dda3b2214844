package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 8, 1, 6, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startGateway(t *testing.T, opts Options) (*Gateway, context.CancelFunc) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	g := NewGateway(opts, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-g.Done()
	})
	return g, cancel
}

func connect(t *testing.T, g *Gateway, userID string) *Conn {
	t.Helper()
	c, err := g.Connect(context.Background(), userID)
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Outbound():
		require.True(t, ok, "outbound closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.ID())
		return Frame{}
	}
}

func assertQuiet(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case f := <-c.Outbound():
		t.Fatalf("unexpected frame %q for %s", f.Event, c.ID())
	default:
	}
}

func dispatch(t *testing.T, g *Gateway, c *Conn, event EventType, payload string) {
	t.Helper()
	f := Frame{Event: event}
	if payload != "" {
		f.Payload = json.RawMessage(payload)
	}
	require.NoError(t, g.Dispatch(context.Background(), c, f))
}

func TestGateway_ConnectTransitions(t *testing.T) {
	g, _ := startGateway(t, Options{})

	c := connect(t, g, "user-1")
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "user-1", c.UserID())
	assert.Contains(t, c.ID(), "conn-")
	assert.Equal(t, 1, g.ConnCount())
	assert.True(t, g.Running())
}

func TestGateway_HydrateRepliesToSenderOnly(t *testing.T) {
	g, _ := startGateway(t, Options{})
	a := connect(t, g, "a")
	b := connect(t, g, "b")

	dispatch(t, g, a, EventHydrate, "")

	f := receive(t, a)
	assert.Equal(t, EventReady, f.Event)
	var ready ReadyPayload
	require.NoError(t, json.Unmarshal(f.Payload, &ready))
	assert.Equal(t, fixedNow.UnixMilli(), ready.TS)

	assertQuiet(t, b)
}

func TestGateway_BroadcastExcludesSender(t *testing.T) {
	tests := []struct {
		in   EventType
		want EventType
	}{
		{EventShellReady, EventShellOnline},
		{EventProfileReady, EventProfileUpdate},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			g, _ := startGateway(t, Options{})
			a := connect(t, g, "a")
			b := connect(t, g, "b")
			c := connect(t, g, "c")

			dispatch(t, g, a, tt.in, `{"name":"இளங்கோ","draft":"d1"}`)

			for _, peer := range []*Conn{b, c} {
				f := receive(t, peer)
				assert.Equal(t, tt.want, f.Event)
				assert.JSONEq(t, `{"name":"இளங்கோ","draft":"d1"}`, string(f.Payload))
			}
			// The loop delivers a broadcast in one step, so once the peers
			// have it the sender's queue is final.
			assertQuiet(t, a)
		})
	}
}

func TestGateway_PerConnectionOrder(t *testing.T) {
	g, _ := startGateway(t, Options{SendBuffer: 128})
	a := connect(t, g, "a")
	b := connect(t, g, "b")

	const n = 100
	for i := range n {
		dispatch(t, g, a, EventProfileReady, fmt.Sprintf(`{"seq":%d}`, i))
	}

	for i := range n {
		f := receive(t, b)
		var p struct{ Seq int }
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		require.Equal(t, i, p.Seq)
	}
}

func TestGateway_UnknownEventIgnored(t *testing.T) {
	g, _ := startGateway(t, Options{})
	a := connect(t, g, "a")
	b := connect(t, g, "b")

	dispatch(t, g, a, "cursor:move", `{"x":1}`)
	dispatch(t, g, a, EventShellReady, `{}`)

	assert.Equal(t, EventShellOnline, receive(t, b).Event)
	assertQuiet(t, b)
}

func TestGateway_DisconnectRemovesPeer(t *testing.T) {
	g, _ := startGateway(t, Options{})
	a := connect(t, g, "a")
	b := connect(t, g, "b")
	c := connect(t, g, "c")

	g.Disconnect(b)
	g.Disconnect(b) // second call is a no-op

	_, open := <-b.Outbound()
	assert.False(t, open, "outbound closed on disconnect")
	assert.Equal(t, StateDisconnected, b.State())

	dispatch(t, g, a, EventShellReady, `{"p":1}`)
	assert.Equal(t, EventShellOnline, receive(t, c).Event)
	assert.Equal(t, 2, g.ConnCount())

	// Frames from a removed connection are dropped.
	require.NoError(t, g.Dispatch(context.Background(), b, Frame{Event: EventShellReady}))
	dispatch(t, g, c, EventHydrate, "")
	assert.Equal(t, EventReady, receive(t, c).Event)
	assertQuiet(t, a)
}

func TestGateway_ReconnectGetsNoReplay(t *testing.T) {
	g, _ := startGateway(t, Options{})
	a := connect(t, g, "a")
	b := connect(t, g, "b")

	g.Disconnect(b)
	<-waitClosed(b)
	dispatch(t, g, a, EventProfileReady, `{"v":1}`)

	b2 := connect(t, g, "b")
	dispatch(t, g, b2, EventHydrate, "")
	assert.Equal(t, EventReady, receive(t, b2).Event)
	assertQuiet(t, b2)
}

func TestGateway_SlowPeerDropsInsteadOfBlocking(t *testing.T) {
	g, _ := startGateway(t, Options{SendBuffer: 1})
	a := connect(t, g, "a")
	slow := connect(t, g, "slow")
	fast := connect(t, g, "fast")

	for i := range 3 {
		dispatch(t, g, a, EventProfileReady, fmt.Sprintf(`{"seq":%d}`, i))
		f := receive(t, fast)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(f.Payload))
	}

	f := receive(t, slow)
	assert.JSONEq(t, `{"seq":0}`, string(f.Payload))
	assertQuiet(t, slow)
}

func TestGateway_Shutdown(t *testing.T) {
	g, cancel := startGateway(t, Options{})
	a := connect(t, g, "a")
	b := connect(t, g, "b")

	cancel()
	<-g.Done()

	for _, c := range []*Conn{a, b} {
		_, open := <-c.Outbound()
		assert.False(t, open)
		assert.Equal(t, StateDisconnected, c.State())
	}
	assert.False(t, g.Running())
	assert.Equal(t, 0, g.ConnCount())

	_, err := g.Connect(context.Background(), "late")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, g.Dispatch(context.Background(), a, Frame{Event: EventHydrate}), ErrClosed)
	g.Disconnect(a)
}

func TestGateway_RunTwice(t *testing.T) {
	g, _ := startGateway(t, Options{})
	connect(t, g, "a") // Run is active once a connect is acknowledged

	assert.ErrorIs(t, g.Run(context.Background()), ErrAlreadyRunning)
}

func TestGateway_ConnectCanceledBeforeRun(t *testing.T) {
	g := NewGateway(Options{}, discardLogger())
	// Fill the queue so Connect has to wait.
	for range cap(g.ops) {
		g.ops <- op{kind: opFrame, conn: &Conn{}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Connect(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", State(9).String())
}

func waitClosed(c *Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range c.Outbound() {
		}
		close(done)
	}()
	return done
}
