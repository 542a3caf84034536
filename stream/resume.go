package stream

import (
	"context"
	"time"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/frame"
)

// sessionID is carried in Resume payloads; callers may override via
// cfg.Conn.SessionID.
func (c *Client) sessionID() string { return c.cfg.Conn.SessionID }

// sendResumeFrames transmits, strictly before any other queued frame, a
// Resume for every stream with non-zero last_seq (§4.5, invariant 4 in §8).
// Because control frames bypass the pending queue entirely (see send.go),
// these reach the transport immediately and therefore precede any data
// frame still sitting in a stream's pending slice.
func (c *Client) sendResumeFrames() error {
	c.streamsMu.Lock()
	type target struct {
		id  string
		seq uint64
	}
	var targets []target
	for id, st := range c.streams {
		st.mu.Lock()
		if st.lastSeqIn > 0 {
			targets = append(targets, target{id: id, seq: st.lastSeqIn})
		}
		st.mu.Unlock()
	}
	c.streamsMu.Unlock()

	var firstErr error
	for _, t := range targets {
		f := frame.New(t.id, frame.Resume, map[string]any{
			"stream_id":  t.id,
			"last_seq":   t.seq,
			"session_id": c.sessionID(),
		})
		seq := t.seq
		f.Seq = &seq
		if err := c.SendFrame(context.Background(), f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// reconnectLoop implements §4.5 Reconnection: on unclean close and
// !should_stop, transition to Reconnecting, wait an exponential backoff
// capped at reconnect_max_ms, and retry up to MaxReconnects attempts before
// entering Error with ErrMaxReconnects.
func (c *Client) reconnectLoop() {
	if c.shouldStop.Load() {
		c.setState(Disconnected)
		return
	}
	c.setState(Reconnecting)

	maxAttempts := c.cfg.Conn.MaxReconnects
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	maxDelay := c.cfg.Conn.ReconnectMax.D()
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	initial := c.cfg.Conn.ReconnectInitial.D()
	if initial <= 0 {
		initial = time.Second
	}

	for {
		if c.shouldStop.Load() {
			c.setState(Disconnected)
			return
		}
		attempt := c.reconnectAttempts.Load()
		if int(attempt) >= maxAttempts {
			c.setState(Errored)
			c.emitError(&cmn.ErrMaxReconnects{Attempts: int(attempt)})
			return
		}

		delay := backoff(initial, maxDelay, attempt)
		time.Sleep(delay)

		c.reconnectAttempts.Add(1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Conn.ConnectTimeout.D())
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		nlog.Warningln("reconnect attempt failed:", err)
	}
}

// backoff computes min(maxDelay, initial * 2^attempt) — the exponential
// resolution spec.md §4.5/§9 calls authoritative over the *1.5 dead path.
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
