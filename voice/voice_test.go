package voice

import (
	"context"
	"errors"
	"testing"

	"github.com/kei-stream/kei-stream-go/cache"
	"github.com/kei-stream/kei-stream-go/edge"
	"github.com/kei-stream/kei-stream-go/nodes"
)

// stubProcessor is a local-only test double standing in for a real audio
// codec, which this package never implements directly.
type stubProcessor struct {
	calls int
	err   error
}

func (p *stubProcessor) Process(_ context.Context, op edge.Operation, _ string, input []byte) ([]byte, edge.ResourceUsage, error) {
	p.calls++
	if p.err != nil {
		return nil, edge.ResourceUsage{}, p.err
	}
	out := append([]byte(string(op)+":"), input...)
	return out, edge.ResourceUsage{CPU: 0.1, Mem: 0.1}, nil
}

type stubRemote struct {
	calls int
}

func (r *stubRemote) Call(_ context.Context, n *nodes.Node, op edge.Operation, _ string, input []byte) ([]byte, edge.ResourceUsage, error) {
	r.calls++
	return append([]byte("remote:"+n.ID+":"+string(op)+":"), input...), edge.ResourceUsage{}, nil
}

func TestExecuteLocalCachesResults(t *testing.T) {
	proc := &stubProcessor{}
	cs := cache.NewSet(1<<20, 1<<20, 1<<20, 100)
	f := New(proc, nil, cs)

	task := &edge.Task{ID: "t1", Op: edge.OpVAD, Input: []byte("hello")}

	r1, err := f.ExecuteLocal(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r1.Success {
		t.Fatal("expected success")
	}

	r2, err := f.ExecuteLocal(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if string(r2.Output) != string(r1.Output) {
		t.Fatalf("expected cached output to match, got %q vs %q", r2.Output, r1.Output)
	}
	if proc.calls != 1 {
		t.Fatalf("expected processor invoked once due to cache hit, got %d calls", proc.calls)
	}
}

func TestExecuteLocalPropagatesProcessorError(t *testing.T) {
	proc := &stubProcessor{err: errors.New("dsp failure")}
	f := New(proc, nil, nil)
	task := &edge.Task{ID: "t1", Op: edge.OpVAD, Input: []byte("hello")}

	_, err := f.ExecuteLocal(context.Background(), task)
	if err == nil {
		t.Fatal("expected error from failing processor")
	}
}

func TestExecuteRemoteDelegatesToRemoteCaller(t *testing.T) {
	remote := &stubRemote{}
	f := New(&stubProcessor{}, remote, nil)
	n := nodes.NewNode("n1", "http://n1")
	task := &edge.Task{ID: "t1", Op: edge.OpNoiseReduction, Input: []byte("hi")}

	r, err := f.ExecuteRemote(context.Background(), task, n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.calls != 1 {
		t.Fatalf("expected remote caller invoked once, got %d", remote.calls)
	}
	if !r.Success {
		t.Fatal("expected success")
	}
}

func TestExecuteRemoteWithoutCallerConfiguredFails(t *testing.T) {
	f := New(&stubProcessor{}, nil, nil)
	n := nodes.NewNode("n1", "http://n1")
	task := &edge.Task{ID: "t1", Op: edge.OpVAD, Input: []byte("hi")}

	if _, err := f.ExecuteRemote(context.Background(), task, n); err == nil {
		t.Fatal("expected error when no remote caller is configured")
	}
}
