package bucket

import (
	"sync"
	"time"

	"github.com/kei-stream/kei-stream-go/hk"
)

// Manager creates a TokenBucket lazily per stream_id on first lookup and
// reaps buckets idle for more than MaxIdle that are also full (§4.2).
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	maxIdle  time.Duration
	buckets  map[string]*TokenBucket
	hkName   string
}

func NewManager(cfg Config, maxIdle time.Duration) *Manager {
	if maxIdle <= 0 {
		maxIdle = dfltMaxIdle
	}
	m := &Manager{
		cfg:     cfg,
		maxIdle: maxIdle,
		buckets: map[string]*TokenBucket{},
		hkName:  "bucket-manager-cleanup-" + time.Now().Format(time.RFC3339Nano),
	}
	hk.Reg(m.hkName, m.cleanup, time.Minute)
	return m
}

// Get returns (creating if needed) the bucket for streamID.
func (m *Manager) Get(streamID string) *TokenBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.buckets[streamID]
	if !ok {
		tb = New(m.cfg)
		m.buckets[streamID] = tb
	}
	return tb
}

// Remove drops a stream's bucket explicitly (stream teardown).
func (m *Manager) Remove(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, streamID)
}

// Close stops the cleanup ticker.
func (m *Manager) Close() { hk.Unreg(m.hkName) }

func (m *Manager) cleanup() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tb := range m.buckets {
		if tb.idleMs() > m.maxIdle.Milliseconds() && tb.IsFull() {
			delete(m.buckets, id)
		}
	}
	return time.Minute
}
