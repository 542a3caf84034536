package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy, §7. Each wraps a free-form message and, where applicable,
// context (stream id, task id) needed by callers to react without parsing
// strings.

type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err) }
func (e *ErrTransport) Unwrap() error { return e.Err }

func NewErrTransport(op string, err error) *ErrTransport {
	return &ErrTransport{Op: op, Err: errors.WithStack(err)}
}

type ErrTimeout struct {
	Op string
}

func (e *ErrTimeout) Error() string { return fmt.Sprintf("timeout: %s", e.Op) }

func NewErrTimeout(op string) *ErrTimeout { return &ErrTimeout{Op: op} }

type ErrInvalidFrame struct {
	Reason string
}

func (e *ErrInvalidFrame) Error() string { return "invalid frame: " + e.Reason }

type ErrSchemaMismatch struct {
	FrameType string
	Field     string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch: frame type %q missing required field %q", e.FrameType, e.Field)
}

type ErrCompression struct {
	Err error
}

func (e *ErrCompression) Error() string { return "compression error: " + e.Err.Error() }
func (e *ErrCompression) Unwrap() error { return e.Err }

type ErrDecompression struct {
	Err error
}

func (e *ErrDecompression) Error() string { return "decompression error: " + e.Err.Error() }
func (e *ErrDecompression) Unwrap() error { return e.Err }

type ErrRouting struct {
	Reason string
}

func (e *ErrRouting) Error() string { return "routing error: " + e.Reason }

type ErrTask struct {
	TaskID string
	Err    error
}

func (e *ErrTask) Error() string { return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err) }
func (e *ErrTask) Unwrap() error { return e.Err }

type ErrMaxReconnects struct {
	Attempts int
}

func (e *ErrMaxReconnects) Error() string {
	return fmt.Sprintf("max reconnect attempts exceeded (%d)", e.Attempts)
}
