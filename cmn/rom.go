package cmn

import "github.com/kei-stream/kei-stream-go/cmn/nlog"

// Module verbosity tags, passed to Rom.V at call sites. Rom.V ignores the
// tag: one global level gates every module.
const (
	ModStream = "stream"
	ModPush   = "push"
	ModEdge   = "edge"
	ModNodes  = "nodes"
	ModCache  = "cache"
	ModBucket = "bucket"
)

// rom (runtime-overridable module) gates expensive/chatty log lines behind a
// single global verbosity level.
type rom struct{}

var Rom rom

func (rom) V(level int, _ string) bool { return nlog.Level() >= level }
