// Package frame implements the KEI-Stream wire frame (spec §3, §4.1): a
// tagged-union type serialized as snake_case JSON, with forward-compatible
// unknown-field preservation.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package frame

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/kei-stream/kei-stream-go/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind enumerates the frame's `type` field, lowercase on the wire.
type Kind string

const (
	Partial        Kind = "partial"
	Final          Kind = "final"
	ToolCall       Kind = "tool_call"
	ToolResult     Kind = "tool_result"
	Status         Kind = "status"
	Error          Kind = "error"
	Heartbeat      Kind = "heartbeat"
	Ack            Kind = "ack"
	Nack           Kind = "nack"
	Resume         Kind = "resume"
	ChunkStart     Kind = "chunk_start"
	ChunkContinue  Kind = "chunk_continue"
	ChunkEnd       Kind = "chunk_end"
)

// noSeqRequired is the set of kinds that are legal without a `seq` (§4.1).
var noSeqRequired = map[Kind]bool{
	Heartbeat: true,
	Ack:       true,
	Nack:      true,
	Resume:    true,
}

type Chunk struct {
	Kind         string `json:"kind"`
	ContentRange string `json:"content_range,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
}

type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type AckInfo struct {
	AckSeq *uint64 `json:"ack_seq"`
	Credit uint32  `json:"credit,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Frame is the unit of protocol exchange. Payload is deliberately an
// untyped structured value (Design Notes §9: "do not over-specify payload
// schemas"); only control frames get concrete sub-structs.
type Frame struct {
	ID        string            `json:"id,omitempty"`
	Type      Kind              `json:"type"`
	StreamID  string            `json:"stream_id"`
	Seq       *uint64           `json:"seq,omitempty"`
	TS        string            `json:"ts,omitempty"`
	CorrID    string            `json:"corr_id,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Payload   any               `json:"payload,omitempty"`
	BinaryRef string            `json:"binary_ref,omitempty"`
	Chunk     *Chunk            `json:"chunk,omitempty"`
	ErrorInfo *ErrorInfo        `json:"error,omitempty"`
	Ack       *AckInfo          `json:"ack,omitempty"`

	// Unknown carries fields not recognized above so that forward and
	// backward compatibility both hold (§4.1: "unknown fields must be
	// preserved on forward and tolerated on receive").
	Unknown map[string]any `json:"-"`
}

// New constructs a frame with the current timestamp, as the send path does
// before instrumentation and compression (§4.5).
func New(streamID string, kind Kind, payload any) *Frame {
	return &Frame{
		StreamID: streamID,
		Type:     kind,
		TS:       time.Now().UTC().Format(time.RFC3339Nano),
		Payload:  payload,
	}
}

// RequiresSeq reports whether this frame's kind must carry a seq on egress.
func (f *Frame) RequiresSeq() bool { return !noSeqRequired[f.Type] }

// Validate enforces the invariants in §3/§4.1.
func (f *Frame) Validate() error {
	if f.StreamID == "" {
		return &cmn.ErrSchemaMismatch{FrameType: string(f.Type), Field: "stream_id"}
	}
	if f.Payload != nil && f.BinaryRef != "" {
		return &cmn.ErrInvalidFrame{Reason: "frame carries both payload and binary_ref"}
	}
	switch f.Type {
	case Ack, Nack:
		if f.Payload != nil || f.BinaryRef != "" {
			return &cmn.ErrInvalidFrame{Reason: string(f.Type) + " frame must not carry payload"}
		}
	case Error:
		if f.ErrorInfo == nil {
			return &cmn.ErrSchemaMismatch{FrameType: string(f.Type), Field: "error"}
		}
	}
	return nil
}

// Marshal serializes the frame to its wire JSON, folding Unknown back in.
func (f *Frame) Marshal() ([]byte, error) {
	if len(f.Unknown) == 0 {
		return json.Marshal(f)
	}
	m, err := f.toMap()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (f *Frame) toMap() (map[string]any, error) {
	b, err := json.Marshal(*f)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range f.Unknown {
		m[k] = v
	}
	return m, nil
}

// Unmarshal parses wire JSON into a Frame, preserving unrecognized top-level
// fields in Unknown (§4.1). A parse failure returns ErrInvalidFrame; callers
// on the inbound path log and discard per §4.5/§7.
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &cmn.ErrInvalidFrame{Reason: err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		known := knownFields()
		for k, v := range m {
			if !known[k] {
				if f.Unknown == nil {
					f.Unknown = map[string]any{}
				}
				f.Unknown[k] = v
			}
		}
	}
	return &f, nil
}

func knownFields() map[string]bool {
	return map[string]bool{
		"id": true, "type": true, "stream_id": true, "seq": true, "ts": true,
		"corr_id": true, "headers": true, "payload": true, "binary_ref": true,
		"chunk": true, "error": true, "ack": true,
	}
}

// HeaderCI is a case-insensitive header lookup helper (§4.3: "Header keys
// are case-insensitive on receive; senders emit lowercase").
func (f *Frame) HeaderCI(key string) (string, bool) {
	if f.Headers == nil {
		return "", false
	}
	if v, ok := f.Headers[key]; ok {
		return v, true
	}
	lower := toLower(key)
	for k, v := range f.Headers {
		if toLower(k) == lower {
			return v, true
		}
	}
	return "", false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// SetHeader sets a lowercase header key, never overwriting an existing
// differently-cased key (mirrors inject()'s "never overwrite existing keys").
func (f *Frame) SetHeader(key, value string) {
	if f.Headers == nil {
		f.Headers = map[string]string{}
	}
	if _, exists := f.HeaderCI(key); exists {
		return
	}
	f.Headers[toLower(key)] = value
}
