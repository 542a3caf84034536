// Package push implements the read-only server-push companion client (C6,
// spec §4.6): one-way SSE consumption with the same listener model as the
// duplex client but no send path, no ack, no credit, no token bucket.
// Grounded on the same streamBase reconnect/backoff idiom as package stream,
// trimmed to its read-only subset.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package push

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/frame"
	"github.com/kei-stream/kei-stream-go/tracing"
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
	Errored
)

// Listener receives a copy of every dispatched frame.
type Listener func(f *frame.Frame)

type Handle struct{ remove func() }

func (h *Handle) Remove() {
	if h != nil && h.remove != nil {
		h.remove()
		h.remove = nil
	}
}

// Client is the push-only (SSE) companion, §4.6.
type Client struct {
	base      string // "<sse-base>"
	sessionID string
	streamID  string
	client    *http.Client

	state      atomic.Int32
	shouldStop atomic.Bool

	globalMu  sync.Mutex
	global    []Listener
	byTypeMu  sync.Mutex
	byType    map[frame.Kind][]Listener

	totalReceived atomic.Uint64
	lastFrameTS   atomic.Value // string

	reconnectAttempts atomic.Uint32
	reconnectInitial  time.Duration
	reconnectMax      time.Duration

	cancel context.CancelFunc
	errCh  chan error
}

// New builds a push client targeting <base>/<session_id>/<stream_id> (§6).
func New(base, sessionID, streamID string, reconnectInitial, reconnectMax time.Duration) *Client {
	if reconnectInitial <= 0 {
		reconnectInitial = time.Second
	}
	if reconnectMax <= 0 {
		reconnectMax = 10 * time.Second
	}
	c := &Client{
		base:             base,
		sessionID:        sessionID,
		streamID:         streamID,
		client:           tracing.NewTraceableClient(nil),
		byType:           map[frame.Kind][]Listener{},
		reconnectInitial: reconnectInitial,
		reconnectMax:     reconnectMax,
		errCh:            make(chan error, 16),
	}
	c.state.Store(int32(Disconnected))
	return c
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }
func (c *Client) Errors() <-chan error { return c.errCh }

func (c *Client) OnGlobal(fn Listener) *Handle {
	c.globalMu.Lock()
	idx := len(c.global)
	c.global = append(c.global, fn)
	c.globalMu.Unlock()
	return &Handle{remove: func() {
		c.globalMu.Lock()
		if idx < len(c.global) {
			c.global[idx] = nil
		}
		c.globalMu.Unlock()
	}}
}

func (c *Client) OnType(kind frame.Kind, fn Listener) *Handle {
	c.byTypeMu.Lock()
	c.byType[kind] = append(c.byType[kind], fn)
	idx := len(c.byType[kind]) - 1
	c.byTypeMu.Unlock()
	return &Handle{remove: func() {
		c.byTypeMu.Lock()
		if s := c.byType[kind]; idx < len(s) {
			s[idx] = nil
		}
		c.byTypeMu.Unlock()
	}}
}

func (c *Client) url() string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.base, "/"), c.sessionID, c.streamID)
}

// Connect opens the SSE stream and begins dispatching frames until Close or
// an unrecoverable reconnect failure.
func (c *Client) Connect(ctx context.Context) error {
	c.shouldStop.Store(false)
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.runLoop(runCtx)
	return nil
}

func (c *Client) Close() {
	c.shouldStop.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	c.state.Store(int32(Disconnected))
}

func (c *Client) runLoop(ctx context.Context) {
	for {
		if c.shouldStop.Load() {
			return
		}
		c.state.Store(int32(Connecting))
		err := c.consumeOnce(ctx)
		if c.shouldStop.Load() {
			c.state.Store(int32(Disconnected))
			return
		}
		if err != nil {
			c.emitError(err)
		}
		c.state.Store(int32(Reconnecting))
		attempt := c.reconnectAttempts.Add(1)
		const maxReconnects = 10
		if attempt > maxReconnects {
			c.state.Store(int32(Errored))
			c.emitError(&cmn.ErrMaxReconnects{Attempts: maxReconnects})
			return
		}
		delay := backoff(c.reconnectInitial, c.reconnectMax, attempt-1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) emitError(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *Client) consumeOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		return cmn.NewErrTransport("sse-request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return cmn.NewErrTransport("sse-connect", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cmn.NewErrTransport("sse-connect", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	c.state.Store(int32(Connected))
	c.reconnectAttempts.Store(0)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var dataLines []string
	for scanner.Scan() {
		if c.shouldStop.Load() {
			return nil
		}
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		case line == "":
			if len(dataLines) > 0 {
				c.handleEvent(strings.Join(dataLines, "\n"))
				dataLines = dataLines[:0]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return cmn.NewErrTransport("sse-read", err)
	}
	return cmn.NewErrTransport("sse-read", fmt.Errorf("stream closed by peer"))
}

func (c *Client) handleEvent(data string) {
	f, err := frame.Unmarshal([]byte(data))
	if err != nil {
		nlog.Warningln("discarding invalid SSE frame:", err)
		return
	}
	c.totalReceived.Add(1)
	c.lastFrameTS.Store(f.TS)
	c.dispatch(f)
}

func (c *Client) dispatch(f *frame.Frame) {
	c.byTypeMu.Lock()
	typed := append([]Listener(nil), c.byType[f.Type]...)
	c.byTypeMu.Unlock()
	for _, fn := range typed {
		safeCall(fn, f)
	}

	c.globalMu.Lock()
	global := append([]Listener(nil), c.global...)
	c.globalMu.Unlock()
	for _, fn := range global {
		safeCall(fn, f)
	}
}

func safeCall(fn Listener, f *frame.Frame) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorln("push listener panic:", r)
		}
	}()
	cp := *f
	fn(&cp)
}

// Snapshot reports counters, §4.6.
type Snapshot struct {
	TotalReceived uint64
	LastFrameTS   string
	State         ConnState
}

func (c *Client) Snapshot() Snapshot {
	ts, _ := c.lastFrameTS.Load().(string)
	return Snapshot{
		TotalReceived: c.totalReceived.Load(),
		LastFrameTS:   ts,
		State:         c.State(),
	}
}

func backoff(initial, maxDelay time.Duration, attempt uint32) time.Duration {
	d := initial
	for i := uint32(0); i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return cmn.ClampDuration(d, initial, maxDelay)
}
