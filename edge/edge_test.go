package edge

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kei-stream/kei-stream-go/nodes"
)

func TestRouteDecision(t *testing.T) {
	cases := []struct {
		name           string
		task           *Task
		availableNodes int
		localCapacity  float64
		want           Route
	}{
		{"force local wins", &Task{ForceLocal: true, Input: make([]byte, 20000)}, 3, 0.1, RouteLocal},
		{"small payload stays local", &Task{Input: make([]byte, 100)}, 3, 0.1, RouteLocal},
		{"no nodes forces local", &Task{Op: OpAnalysis, Input: make([]byte, 20000)}, 0, 0.1, RouteLocal},
		{"high local capacity prefers local", &Task{Input: make([]byte, 20000)}, 3, 0.9, RouteLocal},
		{"lightweight op goes to edge", &Task{Op: OpVAD, Input: make([]byte, 2000)}, 3, 0.1, RouteEdge},
		{"large payload goes hybrid", &Task{Input: make([]byte, 20000)}, 3, 0.1, RouteHybrid},
		{"heavy op goes hybrid", &Task{Op: OpAnalysis, Input: make([]byte, 2000)}, 3, 0.1, RouteHybrid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := routeDecision(tc.task, tc.availableNodes, tc.localCapacity); got != tc.want {
				t.Errorf("routeDecision() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPartitionSplitsByteRanges(t *testing.T) {
	task := &Task{ID: "t1", Partitionable: true, Input: bytes.Repeat([]byte("x"), 10)}
	parts := partition(task, 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	total := 0
	for _, p := range parts {
		total += len(p.Input)
	}
	if total != 10 {
		t.Fatalf("expected partitions to cover all input bytes, got %d", total)
	}
}

func TestPartitionSkippedWhenNotPartitionable(t *testing.T) {
	task := &Task{ID: "t1", Input: bytes.Repeat([]byte("x"), 10)}
	parts := partition(task, 3)
	if len(parts) != 1 || parts[0] != task {
		t.Fatalf("expected single unpartitioned task, got %d parts", len(parts))
	}
}

func TestMergeCombinesPartitionResults(t *testing.T) {
	parent := &Task{ID: "parent"}
	results := []*TaskResult{
		{PartitionIdx: 1, Success: true, Output: []byte("b"), ProcessingMs: 5, Usage: ResourceUsage{CPU: 0.2, Mem: 0.4}},
		{PartitionIdx: 0, Success: true, Output: []byte("a"), ProcessingMs: 10, Usage: ResourceUsage{CPU: 0.4, Mem: 0.2}},
	}
	merged := merge(parent, results)
	if string(merged.Output) != "ab" {
		t.Fatalf("expected merged output in index order, got %q", merged.Output)
	}
	if merged.ProcessingMs != 10 {
		t.Fatalf("expected max processing time, got %v", merged.ProcessingMs)
	}
	if merged.Usage.CPU != 0.3 {
		t.Fatalf("expected mean CPU usage, got %v", merged.Usage.CPU)
	}
	if !merged.Success {
		t.Fatal("expected success when all children succeed")
	}
}

func TestMergeFailsIfAnyChildFails(t *testing.T) {
	parent := &Task{ID: "parent"}
	results := []*TaskResult{
		{PartitionIdx: 0, Success: true, Output: []byte("a")},
		{PartitionIdx: 1, Success: false, Err: errors.New("boom")},
	}
	merged := merge(parent, results)
	if merged.Success {
		t.Fatal("expected merged result to fail when any child fails")
	}
}

func TestQueuePriorityAndDeadlineOrdering(t *testing.T) {
	q := newQueue()
	now := time.Now()
	low := &Task{ID: "low", Priority: 1, Deadline: now.Add(time.Hour)}
	high := &Task{ID: "high", Priority: 5, Deadline: now.Add(time.Hour)}
	urgent := &Task{ID: "urgent", Priority: 5, Deadline: now.Add(time.Minute)}

	q.push(low)
	q.push(high)
	q.push(urgent)

	first := q.pop(nil)
	if first.ID != "urgent" {
		t.Fatalf("expected urgent task first, got %s", first.ID)
	}
	second := q.pop(nil)
	if second.ID != "high" {
		t.Fatalf("expected high priority task second, got %s", second.ID)
	}
}

func TestQueueRespectsDependencies(t *testing.T) {
	q := newQueue()
	q.push(&Task{ID: "child", Priority: 10, Dependencies: []string{"parent"}})
	q.push(&Task{ID: "parent", Priority: 1})

	first := q.pop(map[string]bool{})
	if first.ID != "parent" {
		t.Fatalf("expected parent task dispatched first despite lower priority, got %s", first.ID)
	}
	second := q.pop(map[string]bool{"parent": true})
	if second.ID != "child" {
		t.Fatalf("expected child task unblocked once dependency done, got %s", second.ID)
	}
}

// stubExecutor is a deterministic in-memory Executor for scheduler tests.
type stubExecutor struct {
	remoteFails bool
}

func (s *stubExecutor) ExecuteLocal(_ context.Context, t *Task) (*TaskResult, error) {
	return &TaskResult{TaskID: t.ID, Success: true, Output: append([]byte("local:"), t.Input...)}, nil
}

func (s *stubExecutor) ExecuteRemote(_ context.Context, t *Task, _ *nodes.Node) (*TaskResult, error) {
	if s.remoteFails {
		return nil, errors.New("remote unavailable")
	}
	return &TaskResult{TaskID: t.ID, Success: true, Output: append([]byte("remote:"), t.Input...)}, nil
}

func TestSchedulerRoutesForceLocalTaskLocally(t *testing.T) {
	nm := nodes.NewManager(0, 0.1, time.Hour)
	defer nm.Close()
	nm.Add(nodes.NewNode("n1", "http://n1"))

	sched := NewScheduler(nm, nil, &stubExecutor{}, Config{})
	defer sched.Close()

	ch := sched.Submit(&Task{ID: "t1", ForceLocal: true, Input: []byte("hi")})
	select {
	case r := <-ch:
		if !r.Success || string(r.Output) != "local:hi" {
			t.Fatalf("expected local execution, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler result")
	}
}

func TestSchedulerDegradesToLocalWhenRemoteFails(t *testing.T) {
	nm := nodes.NewManager(0, 0.1, time.Hour)
	defer nm.Close()
	nm.Add(nodes.NewNode("n1", "http://n1"))

	sched := NewScheduler(nm, nil, &stubExecutor{remoteFails: true}, Config{})
	defer sched.Close()

	var degraded bool
	sched.OnEvent(func(event, taskID string, err error) {
		if event == "degrade-to-local" {
			degraded = true
		}
	})

	ch := sched.Submit(&Task{ID: "t2", Op: OpAnalysis, Input: bytes.Repeat([]byte("x"), 20000)})
	select {
	case r := <-ch:
		if !r.Success {
			t.Fatalf("expected degraded local execution to succeed, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler result")
	}
	if !degraded {
		t.Fatal("expected degrade-to-local event emitted")
	}
}
