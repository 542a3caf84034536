package stream

import (
	"context"
	"time"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/frame"
)

// Send constructs a frame, instruments it via tracing (C4), attempts
// compression (C3, downgrading to raw on failure), enqueues it on
// pending[stream_id], and kicks the drain loop (§4.5 Send path).
func (c *Client) Send(ctx context.Context, streamID string, kind frame.Kind, payload any) error {
	f := frame.New(streamID, kind, payload)
	return c.SendFrame(ctx, f)
}

// SendFrame is Send for a caller-built frame (used internally for control
// frames: Resume, Ack, Heartbeat echo).
func (c *Client) SendFrame(ctx context.Context, f *frame.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	err := instrumentAndTrace(ctx, f.StreamID, "send", f, func() error {
		compressed, cerr := c.compress.Compress(f, c.cfg.Conn.TenantID, c.cfg.Conn.APIToken)
		if cerr != nil {
			nlog.Warningln("compression failed, sending raw:", cerr)
		} else {
			f = compressed
		}
		return nil
	})
	if err != nil {
		return err
	}

	st := c.getOrCreateStream(f.StreamID)

	// Control frames (Ack/Nack/Heartbeat/Resume) are plumbing, not
	// application payload: they bypass the credit window and token
	// bucket so that, e.g., an exhausted credit window can never starve
	// the very Ack that would replenish it.
	if isControlKind(f.Type) {
		if err := c.writeFrame(f); err != nil {
			nlog.Errorln("control frame write failed:", f.Type, f.StreamID, err)
			return err
		}
		c.counters.incSent()
		if c.metrics != nil {
			c.metrics.TotalSent.Inc()
		}
		return nil
	}

	st.mu.Lock()
	st.pending = append(st.pending, f)
	st.mu.Unlock()

	c.kickDrain()
	return nil
}

func isControlKind(k frame.Kind) bool {
	switch k {
	case frame.Ack, frame.Nack, frame.Heartbeat, frame.Resume:
		return true
	default:
		return false
	}
}

func (c *Client) kickDrain() {
	select {
	case c.drainWake <- struct{}{}:
	default:
	}
}

func (c *Client) startDrainLoop() {
	c.drainStop = make(chan struct{})
	stop := c.drainStop
	go func() {
		t := time.NewTicker(drainTick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.drainWake:
				c.drainOnceRound()
			case <-t.C:
				if c.hasPending() {
					c.drainOnceRound()
				}
			}
		}
	}()
}

func (c *Client) stopDrainLoop() {
	if c.drainStop != nil {
		close(c.drainStop)
		c.drainStop = nil
	}
}

// drainOnceRound implements §4.5's drain algorithm: for each stream with
// non-empty pending, while pending non-empty and credit > 0, try to consume
// a token; on success pop the head, assign seq, decrement credit
// optimistically, and write to the transport.
func (c *Client) drainOnceRound() {
	c.streamsMu.Lock()
	ids := make([]string, 0, len(c.streams))
	states := make([]*streamState, 0, len(c.streams))
	for id, st := range c.streams {
		ids = append(ids, id)
		states = append(states, st)
	}
	c.streamsMu.Unlock()

	for i, st := range states {
		c.drainStream(ids[i], st)
	}
}

func (c *Client) drainStream(streamID string, st *streamState) {
	for {
		st.mu.Lock()
		if len(st.pending) == 0 || st.credit == 0 {
			st.mu.Unlock()
			return
		}
		if !st.tokenBucket.TryConsume(0) {
			st.mu.Unlock()
			return
		}
		f := st.pending[0]
		st.pending = st.pending[1:]
		st.lastSeqOut++
		seq := st.lastSeqOut
		if f.RequiresSeq() {
			f.Seq = &seq
		}
		// optimistic credit decrement: avoids double-counting under
		// burst — preserved verbatim per Design Notes §9.
		st.credit--
		st.mu.Unlock()

		if err := c.writeFrame(f); err != nil {
			nlog.Errorln("transport write failed, frame lost:", streamID, err)
			if c.metrics != nil {
				c.metrics.FramesDropped.Inc()
			}
			continue
		}
		c.counters.incSent()
		if c.metrics != nil {
			c.metrics.TotalSent.Inc()
			c.metrics.Credit.WithLabelValues(streamID).Set(float64(st.credit))
		}
	}
}

func (c *Client) writeFrame(f *frame.Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return &cmn.ErrInvalidFrame{Reason: err.Error()}
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return cmn.NewErrTransport("write", errNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(1 /* TextMessage */, b); err != nil {
		return cmn.NewErrTransport("write", err)
	}
	return nil
}

var errNotConnected = notConnectedErr{}

type notConnectedErr struct{}

func (notConnectedErr) Error() string { return "not connected" }
