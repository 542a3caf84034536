// Package voice is the audio-processing facade (C10, spec §4.7 Design
// Notes): it binds captured audio to the edge scheduler, node manager, and
// result cache, and exposes a Processor plugin seam so a host application
// can supply its own local DSP implementation (a WASM module, a native
// codec) without this package depending on any concrete audio library.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kei-stream/kei-stream-go/cache"
	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/edge"
	"github.com/kei-stream/kei-stream-go/nodes"
)

// Processor performs one audio operation against raw PCM/encoded bytes.
// Implementations are supplied by the host application; this package ships
// no concrete audio codec.
type Processor interface {
	Process(ctx context.Context, op edge.Operation, model string, input []byte) ([]byte, edge.ResourceUsage, error)
}

// RemoteCaller invokes a Processor-equivalent operation on a remote node,
// e.g. via an HTTP or gRPC client the host wires in.
type RemoteCaller interface {
	Call(ctx context.Context, n *nodes.Node, op edge.Operation, model string, input []byte) ([]byte, edge.ResourceUsage, error)
}

// Facade binds a local Processor and a RemoteCaller into an edge.Executor,
// with result caching keyed by content hash + operation + model.
type Facade struct {
	local  Processor
	remote RemoteCaller
	cache  *cache.Set
}

func New(local Processor, remote RemoteCaller, cs *cache.Set) *Facade {
	return &Facade{local: local, remote: remote, cache: cs}
}

func cacheKey(op edge.Operation, model string, input []byte) string {
	h := sha256.Sum256(input)
	return string(op) + ":" + model + ":" + hex.EncodeToString(h[:])
}

// ExecuteLocal implements edge.Executor, consulting the results cache
// before invoking the local Processor.
func (f *Facade) ExecuteLocal(ctx context.Context, t *edge.Task) (*edge.TaskResult, error) {
	key := cacheKey(t.Op, t.Model, t.Input)
	if f.cache != nil {
		if data, ok := f.cache.Results.Get(key); ok {
			return &edge.TaskResult{TaskID: t.ID, Success: true, Output: data}, nil
		}
	}

	start := time.Now()
	out, usage, err := f.local.Process(ctx, t.Op, t.Model, t.Input)
	if err != nil {
		return nil, &cmn.ErrTask{TaskID: t.ID, Err: err}
	}

	if f.cache != nil {
		f.cache.Results.Set(key, out, cache.SetOpts{TTL: 5 * time.Minute})
	}

	return &edge.TaskResult{
		TaskID: t.ID, Success: true, Output: out, Usage: usage,
		ProcessingMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// ExecuteRemote implements edge.Executor by delegating to the RemoteCaller.
func (f *Facade) ExecuteRemote(ctx context.Context, t *edge.Task, n *nodes.Node) (*edge.TaskResult, error) {
	if f.remote == nil {
		return nil, &cmn.ErrRouting{Reason: "no remote caller configured"}
	}
	start := time.Now()
	out, usage, err := f.remote.Call(ctx, n, t.Op, t.Model, t.Input)
	if err != nil {
		return nil, &cmn.ErrTask{TaskID: t.ID, Err: err}
	}
	return &edge.TaskResult{
		TaskID: t.ID, Success: true, Output: out, Usage: usage,
		ProcessingMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
