package stream

import (
	"context"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/compress"
	"github.com/kei-stream/kei-stream-go/frame"
)

// readLoop blocks on transport reads until an error, dispatching each inbound
// frame through the receive path (§4.5, §5 "transport reads (blocking)").
func (c *Client) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onTransportError(err)
			return
		}
		c.handleInbound(data)
	}
}

func (c *Client) onTransportError(err error) {
	werr := cmn.NewErrTransport("read", err)
	if c.shouldStop.Load() {
		c.setState(Disconnected)
		return
	}
	c.emitError(werr)
	go c.reconnectLoop()
}

// handleInbound parses, decompresses, records, and routes one inbound
// message (§4.5 Receive path). Parse failures are logged and discarded,
// never fatal to the connection (§7).
func (c *Client) handleInbound(data []byte) {
	f, err := frame.Unmarshal(data)
	if err != nil {
		nlog.Warningln("discarding invalid inbound frame:", err)
		if c.metrics != nil {
			c.metrics.FramesDropped.Inc()
		}
		return
	}

	c.counters.incReceived()
	if c.metrics != nil {
		c.metrics.TotalReceived.Inc()
	}

	decompressed, derr := compress.Decompress(f)
	if derr != nil {
		nlog.Warningln("decompression failed, using raw frame:", derr)
	} else {
		f = decompressed
	}

	st := c.getOrCreateStream(f.StreamID)
	st.mu.Lock()
	st.recorder.append(f)
	if f.Seq != nil {
		st.lastSeqIn = *f.Seq
	}
	st.mu.Unlock()

	switch f.Type {
	case frame.Ack:
		c.handleAckFrame(f, st)
	case frame.Resume:
		c.handleResumeAck(f, st)
	case frame.Nack:
		c.handleNack(f, st)
	case frame.Heartbeat:
		c.handleHeartbeat(f)
	case frame.Error:
		c.dispatch(f, st)
		c.emitError(&cmn.ErrTask{TaskID: f.StreamID, Err: errFromFrame(f)})
	default:
		c.dispatch(f, st)
		c.runAckPolicy(f.StreamID, st)
	}
}

func errFromFrame(f *frame.Frame) error {
	if f.ErrorInfo == nil {
		return &cmn.ErrInvalidFrame{Reason: "error frame missing error info"}
	}
	return &frameError{code: f.ErrorInfo.Code, msg: f.ErrorInfo.Message}
}

type frameError struct{ code, msg string }

func (e *frameError) Error() string { return e.code + ": " + e.msg }

// handleAckFrame updates credit and triggers the drain loop (§4.5).
func (c *Client) handleAckFrame(f *frame.Frame, st *streamState) {
	if f.Ack != nil && f.Ack.Credit > 0 {
		st.mu.Lock()
		st.credit = f.Ack.Credit
		st.mu.Unlock()
	}
	c.kickDrain()
}

// handleResumeAck is the server-originated ack of our Resume: reset
// last_seq_in and credit to the ack's target, then trigger drain (§4.5).
func (c *Client) handleResumeAck(f *frame.Frame, st *streamState) {
	st.mu.Lock()
	if f.Seq != nil {
		st.lastSeqIn = *f.Seq
	}
	if f.Ack != nil && f.Ack.Credit > 0 {
		st.credit = f.Ack.Credit
	} else {
		st.credit = c.cfg.Flow.AckCreditTarget
	}
	st.mu.Unlock()
	c.kickDrain()
}

// handleNack requeues the offending frame (if still in the recorder) at the
// head of pending — SPEC_FULL §4 item 1. The stream's token-bucket rate is
// left unchanged.
func (c *Client) handleNack(f *frame.Frame, st *streamState) {
	if c.metrics != nil {
		c.metrics.NacksReceived.Inc()
	}
	var ackSeq uint64
	if f.Ack != nil && f.Ack.AckSeq != nil {
		ackSeq = *f.Ack.AckSeq
	}
	st.mu.Lock()
	var retry *frame.Frame
	for _, candidate := range st.recorder.since(ackSeq - 1) {
		if candidate.Seq != nil && *candidate.Seq == ackSeq {
			retry = candidate
			break
		}
	}
	if retry != nil {
		cp := *retry
		cp.Seq = nil
		st.pending = append([]*frame.Frame{&cp}, st.pending...)
	}
	st.mu.Unlock()
	c.kickDrain()
}

// handleHeartbeat immediately echoes a Heartbeat with the same stream_id,
// mutating no listener state (§4.5, S2).
func (c *Client) handleHeartbeat(f *frame.Frame) {
	reply := frame.New(f.StreamID, frame.Heartbeat, nil)
	if err := c.SendFrame(context.Background(), reply); err != nil {
		nlog.Warningln("heartbeat echo failed:", err)
	}
}

// dispatch runs per-stream listeners, then global listeners, in registration
// order within each layer (§4.5).
func (c *Client) dispatch(f *frame.Frame, st *streamState) {
	st.listeners.dispatch(f)
	c.global.dispatch(f)
}

// runAckPolicy maintains inflight_since_ack and emits an Ack once it reaches
// ack_every (§4.5 ACK policy).
func (c *Client) runAckPolicy(streamID string, st *streamState) {
	st.mu.Lock()
	st.inflightSinceAck++
	emit := st.inflightSinceAck >= c.cfg.Flow.AckEvery
	var ackSeq uint64
	if emit {
		st.inflightSinceAck = 0
		ackSeq = st.lastSeqIn
	}
	st.mu.Unlock()

	if !emit {
		return
	}
	ack := frame.New(streamID, frame.Ack, nil)
	ack.Ack = &frame.AckInfo{AckSeq: &ackSeq, Credit: c.cfg.Flow.AckCreditTarget}
	if err := c.SendFrame(context.Background(), ack); err != nil {
		nlog.Warningln("ack emit failed:", err)
		return
	}
	if c.metrics != nil {
		c.metrics.AcksEmitted.Inc()
	}
}
