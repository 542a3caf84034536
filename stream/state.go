package stream

import (
	"sync"

	"github.com/kei-stream/kei-stream-go/bucket"
	"github.com/kei-stream/kei-stream-go/frame"
)

// ConnState enumerates the client connection lifecycle, §3/§4.5.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
	Errored
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// ring is the bounded, append-only replay recorder (§3: "ring<Frame, N=1000>").
type ring struct {
	buf  []*frame.Frame
	cap  int
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*frame.Frame, capacity), cap: capacity}
}

func (r *ring) append(f *frame.Frame) {
	r.buf[(r.head+r.size)%r.cap] = f
	if r.size < r.cap {
		r.size++
	} else {
		r.head = (r.head + 1) % r.cap
	}
}

// since returns frames with seq > sinceSeq, in receive order (§4.5 Replay buffer).
func (r *ring) since(sinceSeq uint64) []*frame.Frame {
	out := make([]*frame.Frame, 0, r.size)
	for i := 0; i < r.size; i++ {
		f := r.buf[(r.head+i)%r.cap]
		if f.Seq != nil && *f.Seq > sinceSeq {
			out = append(out, f)
		}
	}
	return out
}

// streamState is per-stream_id, per-direction state (§3).
type streamState struct {
	mu               sync.Mutex
	lastSeqOut       uint64
	lastSeqIn        uint64
	credit           uint32
	pending          []*frame.Frame
	recorder         *ring
	inflightSinceAck uint32
	tokenBucket      *bucket.TokenBucket
	listeners        *listenerSet
}

func newStreamState(tb *bucket.TokenBucket, initialCredit uint32) *streamState {
	return &streamState{
		credit:      initialCredit,
		recorder:    newRing(1000),
		tokenBucket: tb,
		listeners:   newListenerSet(),
	}
}

// ClientSnapshot is a point-in-time read of counters exposed for metrics/tests.
type ClientSnapshot struct {
	State            ConnState
	TotalSent        uint64
	TotalReceived    uint64
	ReconnectAttempt uint32
	Streams          int
}

type clientCounters struct {
	mu               sync.Mutex
	totalSent        uint64
	totalReceived    uint64
	reconnectAttempt uint32
}

func (c *clientCounters) incSent() {
	c.mu.Lock()
	c.totalSent++
	c.mu.Unlock()
}

func (c *clientCounters) incReceived() {
	c.mu.Lock()
	c.totalReceived++
	c.mu.Unlock()
}

func (c *clientCounters) snapshot() (sent, recv uint64, attempt uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSent, c.totalReceived, c.reconnectAttempt
}
