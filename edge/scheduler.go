package edge

import (
	"context"
	"sync"
	"time"

	"github.com/kei-stream/kei-stream-go/cache"
	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/hk"
	"github.com/kei-stream/kei-stream-go/nodes"
	"github.com/kei-stream/kei-stream-go/stats"
)

// Executor performs one (possibly partitioned) task against a chosen route.
// The voice facade (C10) supplies the concrete implementation; tests supply
// a stub.
type Executor interface {
	ExecuteLocal(ctx context.Context, t *Task) (*TaskResult, error)
	ExecuteRemote(ctx context.Context, t *Task, n *nodes.Node) (*TaskResult, error)
}

// Listener is notified of scheduler-level events (degrade-to-local, etc.).
type Listener func(event string, taskID string, err error)

// Scheduler is the edge audio-processing scheduler, §4.7.
type Scheduler struct {
	q        *queue
	nodes    *nodes.Manager
	cache    *cache.Set
	exec     Executor
	metrics  *stats.Registry

	maxConcurrent int
	strategy      nodes.Strategy
	localCapacity func() float64

	mu        sync.Mutex
	done      map[string]bool
	inflight  int
	results   map[string]*TaskResult
	waiters   map[string][]chan *TaskResult

	listenersMu sync.Mutex
	listeners   []Listener

	drainName string
}

// Config configures one Scheduler, mirroring spec §6's edge config block.
type Config struct {
	MaxConcurrent   int
	Strategy        nodes.Strategy
	LocalCapacityFn func() float64
}

func NewScheduler(nm *nodes.Manager, cs *cache.Set, exec Executor, cfg Config) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = nodes.Adaptive
	}
	localCap := cfg.LocalCapacityFn
	if localCap == nil {
		localCap = func() float64 { return 0 }
	}
	s := &Scheduler{
		q:             newQueue(),
		nodes:         nm,
		cache:         cs,
		exec:          exec,
		maxConcurrent: maxConcurrent,
		strategy:      strategy,
		localCapacity: localCap,
		done:          map[string]bool{},
		results:       map[string]*TaskResult{},
		waiters:       map[string][]chan *TaskResult{},
		drainName:     "edge-drain-" + time.Now().Format(time.RFC3339Nano),
	}
	hk.Reg(s.drainName, s.drainTick, 100*time.Millisecond)
	return s
}

func (s *Scheduler) WithMetrics(r *stats.Registry) *Scheduler { s.metrics = r; return s }

func (s *Scheduler) Close() { hk.Unreg(s.drainName) }

func (s *Scheduler) OnEvent(fn Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Scheduler) emit(event, taskID string, err error) {
	s.listenersMu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range ls {
		func() {
			defer func() { recover() }()
			fn(event, taskID, err)
		}()
	}
}

// Submit enqueues a task and returns a channel that receives its final
// (possibly merged) result exactly once (§4.7 submit/next/complete/fail).
func (s *Scheduler) Submit(t *Task) <-chan *TaskResult {
	ch := make(chan *TaskResult, 1)
	s.mu.Lock()
	s.waiters[t.ID] = append(s.waiters[t.ID], ch)
	s.mu.Unlock()
	s.q.push(t)
	return ch
}

// Result returns a previously completed task's result, if any.
func (s *Scheduler) Result(taskID string) (*TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[taskID]
	return r, ok
}

// QueueLen reports the number of tasks not yet dispatched.
func (s *Scheduler) QueueLen() int { return s.q.len() }

// drainTick pulls ready tasks up to the concurrency cap and dispatches them.
func (s *Scheduler) drainTick() time.Duration {
	for {
		s.mu.Lock()
		if s.inflight >= s.maxConcurrent {
			s.mu.Unlock()
			break
		}
		done := make(map[string]bool, len(s.done))
		for k, v := range s.done {
			done[k] = v
		}
		s.mu.Unlock()

		t := s.q.pop(done)
		if t == nil {
			break
		}
		s.mu.Lock()
		s.inflight++
		s.mu.Unlock()
		go s.run(t)
	}
	return 100 * time.Millisecond
}

func (s *Scheduler) run(t *Task) {
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result := s.dispatch(ctx, t)

	s.mu.Lock()
	s.done[t.ID] = true
	s.results[t.ID] = result
	waiters := s.waiters[t.ID]
	delete(s.waiters, t.ID)
	s.mu.Unlock()

	if s.metrics != nil {
		if result.Success {
			s.metrics.TasksCompleted.Inc()
		} else {
			s.metrics.TasksFailed.Inc()
		}
	}
	for _, ch := range waiters {
		ch <- result
		close(ch)
	}
}

// dispatch routes a task, partitions it if the route is hybrid/edge and
// multiple nodes are available, executes each partition, and merges results,
// degrading to local execution on partition/remote failure (§4.7).
func (s *Scheduler) dispatch(ctx context.Context, t *Task) *TaskResult {
	available := s.nodes.Count()
	route := routeDecision(t, available, s.localCapacity())

	switch route {
	case RouteLocal:
		return s.execLocal(ctx, t)
	case RouteEdge, RouteHybrid:
		n, ok := s.nodes.Select(s.strategy)
		if !ok {
			s.emit("degrade-to-local", t.ID, &cmn.ErrRouting{Reason: "no-available-nodes"})
			return s.execLocal(ctx, t)
		}
		parts := partition(t, available)
		if len(parts) == 1 {
			return s.execRemote(ctx, parts[0], n, 0)
		}
		return s.execPartitioned(ctx, t, parts)
	default:
		return s.execLocal(ctx, t)
	}
}

func (s *Scheduler) execLocal(ctx context.Context, t *Task) *TaskResult {
	start := time.Now()
	r, err := s.exec.ExecuteLocal(ctx, t)
	if err != nil {
		nlog.Errorln("local task execution failed:", t.ID, err)
		return &TaskResult{TaskID: t.ID, Success: false, Err: err, Route: RouteLocal, ProcessingMs: msSince(start)}
	}
	r.Route = RouteLocal
	return r
}

func (s *Scheduler) execRemote(ctx context.Context, t *Task, n *nodes.Node, idx int) *TaskResult {
	start := time.Now()
	r, err := s.exec.ExecuteRemote(ctx, t, n)
	s.nodes.Adapt(time.Since(start), err != nil)
	if err != nil {
		nlog.Warningln("remote task execution failed, degrading to local:", t.ID, n.ID, err)
		s.emit("degrade-to-local", t.ID, err)
		local := s.execLocal(ctx, t)
		local.PartitionIdx = idx
		return local
	}
	r.Route = RouteEdge
	r.PartitionIdx = idx
	return r
}

func (s *Scheduler) execPartitioned(ctx context.Context, parent *Task, parts []*Task) *TaskResult {
	results := make([]*TaskResult, len(parts))
	var wg sync.WaitGroup
	for i, p := range parts {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, ok := s.nodes.Select(s.strategy)
			if !ok {
				r := s.execLocal(ctx, p)
				r.PartitionIdx = i
				results[i] = r
				return
			}
			results[i] = s.execRemote(ctx, p, n, i)
		}()
	}
	wg.Wait()
	return merge(parent, results)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
