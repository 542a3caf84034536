// Package nodes implements the pool of worker endpoints used by the edge
// scheduler (C8, spec §3, §4.8): health checks, weighted selection, and
// adaptive weight tuning, with probes scheduled via the shared hk registry.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package nodes

import (
	"context"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/hk"
	"github.com/kei-stream/kei-stream-go/stats"
)

// Node is a remote worker endpoint, §3.
type Node struct {
	ID                string
	Endpoint          string
	LatencyMs         float64
	CPU               float64
	Mem               float64
	AvailableCapacity float64
	AvailableModels   map[string]struct{}

	mu                  sync.Mutex
	healthy             bool
	lastHealthCheck     time.Time
	consecutiveFailures int
}

func NewNode(id, endpoint string) *Node {
	return &Node{
		ID:                id,
		Endpoint:          endpoint,
		AvailableCapacity: 1.0,
		AvailableModels:   map[string]struct{}{},
		healthy:           true,
	}
}

func (n *Node) Healthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthy
}

func (n *Node) HasModel(model string) bool {
	_, ok := n.AvailableModels[model]
	return ok
}

// Strategy selects one node from a candidate slice.
type Strategy string

const (
	RoundRobin       Strategy = "round-robin"
	LeastConnections Strategy = "least-connections"
	LatencyBased     Strategy = "latency-based"
	CapacityBased    Strategy = "capacity-based"
	Adaptive         Strategy = "adaptive"
)

// weights are the adaptive strategy's tunable composite-score coefficients.
type weights struct {
	lat, cap_, rel float64
}

// Manager is the pool of worker endpoints, §4.8.
type Manager struct {
	mu    sync.Mutex
	nodes map[string]*Node

	rrIdx int

	w weights

	explorationRate float64
	learningRate    float64

	healthClient *http.Client
	healthPeriod time.Duration
	healthName   string

	metrics *stats.Registry
}

func NewManager(explorationRate, learningRate float64, healthPeriod time.Duration) *Manager {
	if healthPeriod <= 0 {
		healthPeriod = 30 * time.Second
	}
	m := &Manager{
		nodes:           map[string]*Node{},
		w:               weights{lat: 0.4, cap_: 0.4, rel: 0.2},
		explorationRate: explorationRate,
		learningRate:    learningRate,
		healthClient:    &http.Client{Timeout: 5 * time.Second},
		healthPeriod:    healthPeriod,
		healthName:      "nodes-health-" + time.Now().Format(time.RFC3339Nano),
	}
	hk.Reg(m.healthName, m.probeAll, healthPeriod)
	return m
}

func (m *Manager) WithMetrics(r *stats.Registry) *Manager { m.metrics = r; return m }

func (m *Manager) Add(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

func (m *Manager) Close() { hk.Unreg(m.healthName) }

// candidates returns healthy nodes with capacity > 0.1 (§4.8).
func (m *Manager) candidates() []*Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Healthy() && n.AvailableCapacity > 0.1 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Score computes w_lat*(1-lat/1000) + w_cap*capacity + w_rel*(1-fails/10),
// clamped to [0,1] (§4.8).
func (m *Manager) Score(n *Node) float64 {
	n.mu.Lock()
	fails := n.consecutiveFailures
	n.mu.Unlock()

	m.mu.Lock()
	w := m.w
	m.mu.Unlock()

	latTerm := 1 - n.LatencyMs/1000
	relTerm := 1 - float64(fails)/10
	score := w.lat*latTerm + w.cap_*n.AvailableCapacity + w.rel*relTerm
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Select picks a node per strategy (§4.8).
func (m *Manager) Select(strategy Strategy) (*Node, bool) {
	cands := m.candidates()
	if len(cands) == 0 {
		return nil, false
	}
	switch strategy {
	case RoundRobin:
		m.mu.Lock()
		n := cands[m.rrIdx%len(cands)]
		m.rrIdx++
		m.mu.Unlock()
		return n, true
	case LeastConnections:
		best := cands[0]
		for _, n := range cands[1:] {
			if n.CPU < best.CPU {
				best = n
			}
		}
		return best, true
	case LatencyBased:
		best := cands[0]
		for _, n := range cands[1:] {
			if n.LatencyMs < best.LatencyMs {
				best = n
			}
		}
		return best, true
	case CapacityBased:
		best := cands[0]
		for _, n := range cands[1:] {
			if n.AvailableCapacity > best.AvailableCapacity {
				best = n
			}
		}
		return best, true
	case Adaptive:
		if rand.Float64() < m.explorationRate {
			return cands[rand.Intn(len(cands))], true
		}
		best := cands[0]
		bestScore := m.Score(best)
		for _, n := range cands[1:] {
			if s := m.Score(n); s > bestScore {
				best, bestScore = n, s
			}
		}
		if m.metrics != nil {
			for _, n := range cands {
				m.metrics.NodeScore.WithLabelValues(n.ID).Set(m.Score(n))
			}
		}
		return best, true
	default:
		return cands[0], true
	}
}

// Adapt updates weights post-response per §4.8: latency<50ms bumps w_lat; a
// failure or latency>200ms bumps w_rel; weights are then L1-renormalised.
func (m *Manager) Adapt(observedLatency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case failed || observedLatency > 200*time.Millisecond:
		m.w.rel += m.learningRate
	case observedLatency < 50*time.Millisecond:
		m.w.lat += m.learningRate
	}
	total := m.w.lat + m.w.cap_ + m.w.rel
	if total > 0 {
		m.w.lat /= total
		m.w.cap_ /= total
		m.w.rel /= total
	}
}

// probeAll runs one health-probe round over every node (§4.8: HTTP GET
// /health every 30s, 5s timeout, three consecutive failures -> unhealthy).
func (m *Manager) probeAll() time.Duration {
	m.mu.Lock()
	all := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		all = append(all, n)
	}
	m.mu.Unlock()

	for _, n := range all {
		go m.probeOne(n)
	}
	return m.healthPeriod
}

func (m *Manager) probeOne(n *Node) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+"/health", nil)
	ok := false
	if err == nil {
		resp, derr := m.healthClient.Do(req)
		if derr == nil {
			ok = resp.StatusCode == http.StatusOK
			resp.Body.Close()
		}
	}

	n.mu.Lock()
	n.lastHealthCheck = time.Now()
	if ok {
		n.consecutiveFailures = 0
		n.healthy = true
	} else {
		n.consecutiveFailures++
		if n.consecutiveFailures >= 3 {
			n.healthy = false
		}
	}
	n.mu.Unlock()

	if !ok {
		nlog.Warningln("node health probe failed:", n.ID)
	}
}
