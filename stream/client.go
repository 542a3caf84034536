package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kei-stream/kei-stream-go/bucket"
	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/compress"
	"github.com/kei-stream/kei-stream-go/frame"
	"github.com/kei-stream/kei-stream-go/internal/wsconn"
	"github.com/kei-stream/kei-stream-go/stats"
	"github.com/kei-stream/kei-stream-go/tracing"
)

const (
	drainTick = 50 * time.Millisecond
)

// Client is the duplex KEI-Stream client (C5).
type Client struct {
	cfg      *cmn.Config
	compress *compress.Engine
	buckets  *bucket.Manager
	metrics  *stats.Registry

	connMu sync.Mutex
	conn   wsconn.Conn

	state      atomic.Int32 // ConnState
	shouldStop atomic.Bool

	streamsMu sync.Mutex
	streams   map[string]*streamState

	global *listenerSet

	counters clientCounters

	reconnectAttempts atomic.Uint32
	reconnectDelay    time.Duration

	drainStop  chan struct{}
	drainOnce  sync.Once
	drainWake  chan struct{}

	errCh chan error

	writeMu sync.Mutex

	connectedAt time.Time
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithMetrics(r *stats.Registry) Option { return func(c *Client) { c.metrics = r } }

// New constructs a Client over cfg (validated eagerly per SPEC_FULL §4.5).
func New(cfg *cmn.Config, resolver *compress.Resolver, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = compress.NewResolver(compress.DefaultProfile())
	}
	c := &Client{
		cfg:       cfg,
		compress:  compress.NewEngine(resolver),
		buckets:   bucket.NewManager(bucket.DefaultConfig(), 5*time.Minute),
		streams:   map[string]*streamState{},
		global:    newListenerSet(),
		errCh:     make(chan error, 16),
		drainWake: make(chan struct{}, 1),
	}
	c.state.Store(int32(Disconnected))
	c.reconnectDelay = cfg.Conn.ReconnectInitial.D()
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// Errors returns the channel on which lifecycle/API-surface errors are
// surfaced, §7's "error" event.
func (c *Client) Errors() <-chan error { return c.errCh }

func (c *Client) emitError(err error) {
	select {
	case c.errCh <- err:
	default:
		nlog.Warningln("error channel full, dropping:", err)
	}
}

// Connect dials the transport, per §4.5. It enforces a hard 10s timeout
// (or cfg.Conn.ConnectTimeout), resets reconnect bookkeeping on success,
// launches the drain loop, and sends Resume frames for every stream with a
// non-zero last_seq.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != Disconnected && c.State() != Reconnecting && c.State() != Errored {
		return fmt.Errorf("connect: invalid state %s", c.State())
	}
	c.shouldStop.Store(false)
	c.setState(Connecting)

	timeout := c.cfg.Conn.ConnectTimeout.D()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	url, err := wsconn.BuildURL(c.cfg.Conn.URL, c.cfg.Conn.APIToken, c.cfg.Conn.TenantID, c.cfg.Conn.Scopes)
	if err != nil {
		c.setState(Errored)
		return cmn.NewErrTransport("connect", err)
	}

	if cmn.TokenExpiringSoon(c.cfg.Conn.APIToken, 30*time.Second) {
		nlog.Warningln("api_token expires within 30s, connecting anyway; caller should refresh before next reconnect")
	}

	var extensions []string
	if c.cfg.Compression.WSPermessageDeflate {
		// permessage-deflate hint is advertised whenever the configured
		// compression profile calls for it (§4.3 transport hint).
		extensions = append(extensions, compress.Profile{WSPermessageDeflate: true}.TransportHint())
	}

	conn, _, err := wsconn.Dial(ctx, url, timeout, extensions)
	if err != nil {
		c.setState(Errored)
		werr := cmn.NewErrTransport("connect", err)
		c.emitError(werr)
		return werr
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.connectedAt = time.Now()
	c.reconnectAttempts.Store(0)
	c.reconnectDelay = c.cfg.Conn.ReconnectInitial.D()
	c.setState(Connected)

	c.startDrainLoop()
	go c.readLoop()

	if err := c.sendResumeFrames(); err != nil {
		nlog.Warningln("resume frames:", err)
	}
	return nil
}

// Disconnect is terminal for this session (§4.5). It closes the transport
// with code 1000 (inhibiting reconnection), best-effort drains pending
// frames within a grace window (SPEC_FULL §4 item 3), and cancels timers.
func (c *Client) Disconnect() {
	c.shouldStop.Store(true)
	c.drainGrace(500 * time.Millisecond)

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(8 /* CloseMessage */, []byte{0x03, 0xe8}) // code 1000
		_ = conn.Close()
	}
	c.stopDrainLoop()
	c.buckets.Close()
	c.setState(Disconnected)
}

func (c *Client) drainGrace(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !c.hasPending() {
			return
		}
		c.kickDrain()
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *Client) hasPending() bool {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	for _, st := range c.streams {
		st.mu.Lock()
		n := len(st.pending)
		st.mu.Unlock()
		if n > 0 {
			return true
		}
	}
	return false
}

// Snapshot reports the client's counters for metrics/introspection.
func (c *Client) Snapshot() ClientSnapshot {
	sent, recv, _ := c.counters.snapshot()
	c.streamsMu.Lock()
	n := len(c.streams)
	c.streamsMu.Unlock()
	return ClientSnapshot{
		State:            c.State(),
		TotalSent:        sent,
		TotalReceived:    recv,
		ReconnectAttempt: c.reconnectAttempts.Load(),
		Streams:          n,
	}
}

// OnGlobal registers fn as a global listener, dispatched after per-stream
// listeners for every inbound frame (§4.5).
func (c *Client) OnGlobal(fn Listener) *Handle {
	id := c.global.add(fn)
	return &Handle{remove: func() { c.global.remove(id) }}
}

// OnStream registers fn for streamID only.
func (c *Client) OnStream(streamID string, fn Listener) *Handle {
	st := c.getOrCreateStream(streamID)
	id := st.listeners.add(fn)
	return &Handle{remove: func() {
		st.listeners.remove(id)
	}}
}

func (c *Client) getOrCreateStream(streamID string) *streamState {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	st, ok := c.streams[streamID]
	if !ok {
		st = newStreamState(c.buckets.Get(streamID), c.cfg.Flow.AckCreditTarget)
		c.streams[streamID] = st
	}
	return st
}

// Replay returns frames in streamID's recorder ring with seq > sinceSeq,
// bounded by the 1000-frame window (§4.5 Replay buffer).
func (c *Client) Replay(streamID string, sinceSeq uint64) []*frame.Frame {
	c.streamsMu.Lock()
	st, ok := c.streams[streamID]
	c.streamsMu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.recorder.since(sinceSeq)
}

func instrumentAndTrace(ctx context.Context, streamID, op string, f *frame.Frame, fn func() error) error {
	return tracing.TraceStreamOp(ctx, op, streamID, "stream", nil, func(spanCtx context.Context) error {
		tracing.InstrumentFrame(spanCtx, f)
		return fn()
	})
}
