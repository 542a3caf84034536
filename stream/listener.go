// Package stream implements the duplex KEI-Stream client (C5, spec §4.5):
// connection lifecycle, per-stream seq counters, credit window, ACK
// scheduling, send-queue draining, resume-on-reconnect, and listener
// dispatch.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package stream

import (
	"github.com/kei-stream/kei-stream-go/cmn/nlog"
	"github.com/kei-stream/kei-stream-go/frame"
)

// Listener receives a copy of every dispatched frame. A listener that
// panics is caught and logged; remaining listeners still run (§4.5,
// invariant 7 in §8).
type Listener func(f *frame.Frame)

// Handle is returned by registration; dropping it (calling Remove) removes
// the listener from its set. An emptied set is not pruned: it stays in place
// as part of the client or stream state that owns it.
type Handle struct {
	remove func()
}

func (h *Handle) Remove() {
	if h == nil || h.remove == nil {
		return
	}
	h.remove()
	h.remove = nil
}

// listenerSet is an ordered, removable collection of listeners. Order of
// registration is preserved for dispatch (§4.5).
type listenerSet struct {
	next int
	ids  []int
	fns  map[int]Listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{fns: map[int]Listener{}}
}

func (s *listenerSet) add(fn Listener) int {
	id := s.next
	s.next++
	s.ids = append(s.ids, id)
	s.fns[id] = fn
	return id
}

func (s *listenerSet) remove(id int) {
	delete(s.fns, id)
	for i, x := range s.ids {
		if x == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}

func (s *listenerSet) empty() bool { return len(s.ids) == 0 }

// dispatch runs every listener in registration order, catching panics so one
// listener's failure never blocks the others.
func (s *listenerSet) dispatch(f *frame.Frame) {
	for _, id := range s.ids {
		fn, ok := s.fns[id]
		if !ok {
			continue
		}
		cp := *f
		safeCall(fn, &cp)
	}
}

func safeCall(fn Listener, f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorln("listener panic:", r)
		}
	}()
	fn(f)
}
