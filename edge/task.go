// Package edge implements the distributed audio-processing scheduler (C7,
// spec §3, §4.7): a priority/deadline task queue, byte-range partitioning,
// result merge, and local/edge/hybrid routing, driven by a bounded
// concurrency drain loop.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package edge

import (
	"sort"
	"sync"
	"time"
)

// Operation names the audio operation a Task requests, §4.7 routing rules.
type Operation string

const (
	OpVAD            Operation = "vad"
	OpNoiseReduction Operation = "noise-reduction"
	OpAnalysis       Operation = "analysis"
)

// lightweight ops route to the edge by default, per §4.7.
func (o Operation) lightweight() bool {
	switch o {
	case OpVAD, OpNoiseReduction:
		return true
	default:
		return false
	}
}

// Task is one unit of scheduled audio work, §3.
type Task struct {
	ID            string
	Op            Operation
	Input         []byte
	Priority      int
	Deadline      time.Time
	Dependencies  []string
	Partitionable bool
	ForceLocal    bool
	Model         string

	submittedAt time.Time
}

// ResourceUsage is a component-wise usage report merged across partitions.
type ResourceUsage struct {
	CPU float64
	Mem float64
}

// TaskResult is one task's outcome, §3.
type TaskResult struct {
	TaskID        string
	Success       bool
	Output        []byte
	Err           error
	ProcessingMs  float64
	Usage         ResourceUsage
	Route         Route
	PartitionIdx  int
}

// Route records which path §4.7's router chose for a task.
type Route string

const (
	RouteLocal  Route = "local"
	RouteEdge   Route = "edge"
	RouteHybrid Route = "hybrid"
)

// queue is a priority/deadline-ordered task list, §4.7: higher priority
// first, earlier deadline breaks ties.
type queue struct {
	mu    sync.Mutex
	items []*Task
}

func newQueue() *queue { return &queue{} }

func (q *queue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.submittedAt = time.Now()
	q.items = append(q.items, t)
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Deadline.Before(b.Deadline)
	})
}

// pop returns the head task whose dependencies are all in done, or nil.
func (q *queue) pop(done map[string]bool) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.items {
		ready := true
		for _, dep := range t.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return t
		}
	}
	return nil
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
