package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/compress"
	"github.com/kei-stream/kei-stream-go/frame"
)

// fakeConn is an in-memory stand-in for the gorilla/websocket connection,
// letting send/drain/resume logic be exercised without a real socket.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}
func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-make(chan struct{}) // block forever; tests that need inbound frames call handleInbound directly
	return 0, nil, nil
}
func (f *fakeConn) Close() error               { f.closed = true; return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) writtenFrames(t *testing.T) []*frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*frame.Frame, 0, len(f.written))
	for _, b := range f.written {
		fr, err := frame.Unmarshal(b)
		if err != nil {
			t.Fatalf("failed to parse written frame: %v", err)
		}
		out = append(out, fr)
	}
	return out
}

func testClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	cfg := cmn.DefaultConfig()
	cfg.Conn.URL = "ws://example.invalid/stream"
	cfg.Conn.SessionID = "sess-1"
	c, err := New(cfg, compress.NewResolver(compress.DefaultProfile()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	conn := &fakeConn{}
	c.conn = conn
	c.setState(Connected)
	c.startDrainLoop()
	t.Cleanup(func() {
		c.stopDrainLoop()
		c.buckets.Close()
	})
	return c, conn
}

func TestControlFramesBypassCreditAndQueue(t *testing.T) {
	c, conn := testClient(t)

	st := c.getOrCreateStream("s1")
	st.mu.Lock()
	st.credit = 0
	st.mu.Unlock()

	if err := c.Send(context.Background(), "s1", frame.Heartbeat, nil); err != nil {
		t.Fatalf("send heartbeat failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(conn.writtenFrames(t)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	frames := conn.writtenFrames(t)
	if len(frames) != 1 || frames[0].Type != frame.Heartbeat {
		t.Fatalf("expected heartbeat written despite zero credit, got %v", frames)
	}
}

func TestDataFramesRespectCreditWindow(t *testing.T) {
	c, conn := testClient(t)

	st := c.getOrCreateStream("s1")
	st.mu.Lock()
	st.credit = 0
	st.mu.Unlock()

	if err := c.Send(context.Background(), "s1", frame.Final, map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if len(conn.writtenFrames(t)) != 0 {
		t.Fatal("expected data frame withheld while credit is exhausted")
	}

	st.mu.Lock()
	st.credit = 5
	st.mu.Unlock()
	c.kickDrain()

	deadline := time.Now().Add(time.Second)
	for len(conn.writtenFrames(t)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	frames := conn.writtenFrames(t)
	if len(frames) != 1 || frames[0].Type != frame.Final {
		t.Fatalf("expected data frame sent once credit available, got %v", frames)
	}
}

func TestSendAssignsMonotonicSeq(t *testing.T) {
	c, conn := testClient(t)
	st := c.getOrCreateStream("s1")
	st.mu.Lock()
	st.credit = 10
	st.mu.Unlock()

	for i := 0; i < 3; i++ {
		if err := c.Send(context.Background(), "s1", frame.Partial, map[string]any{"i": i}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for len(conn.writtenFrames(t)) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	frames := conn.writtenFrames(t)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames written, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Seq == nil || *f.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %v", i+1, f.Seq)
		}
	}
}

func TestHandleAckUpdatesCredit(t *testing.T) {
	c, _ := testClient(t)
	st := c.getOrCreateStream("s1")
	st.mu.Lock()
	st.credit = 0
	st.mu.Unlock()

	ackFrame := frame.New("s1", frame.Ack, nil)
	ackFrame.Ack = &frame.AckInfo{AckSeq: ptrU64(5), Credit: 16}
	b, err := ackFrame.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	c.handleInbound(b)

	st.mu.Lock()
	got := st.credit
	st.mu.Unlock()
	if got != 16 {
		t.Fatalf("expected credit updated to 16, got %d", got)
	}
}

func TestNackRequeuesRecordedFrame(t *testing.T) {
	c, conn := testClient(t)
	st := c.getOrCreateStream("s1")
	st.mu.Lock()
	st.credit = 10
	st.mu.Unlock()

	if err := c.Send(context.Background(), "s1", frame.Final, map[string]any{"text": "retry-me"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(conn.writtenFrames(t)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Simulate the frame landing in the inbound recorder as if echoed back,
	// matching how handleInbound records every received frame before
	// dispatch — here we record it directly to isolate Nack handling.
	// Credit is zeroed so the drain loop, which handleNack kicks, leaves the
	// requeued frame in pending for the assertion below.
	st.mu.Lock()
	st.recorder.append(&frame.Frame{StreamID: "s1", Type: frame.Final, Seq: ptrU64(1)})
	st.credit = 0
	st.mu.Unlock()

	nackFrame := frame.New("s1", frame.Nack, nil)
	nackFrame.Ack = &frame.AckInfo{AckSeq: ptrU64(1), Reason: "bad-checksum"}
	b, err := nackFrame.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	c.handleInbound(b)

	st.mu.Lock()
	pending := len(st.pending)
	st.mu.Unlock()
	if pending != 1 {
		t.Fatalf("expected requeued frame in pending, got %d", pending)
	}
}

func ptrU64(v uint64) *uint64 { return &v }
