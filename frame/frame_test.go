package frame

import (
	"encoding/json"
	"testing"
)

func TestRequiresSeq(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{Partial, true},
		{Final, true},
		{ToolCall, true},
		{Heartbeat, false},
		{Ack, false},
		{Nack, false},
		{Resume, false},
	}
	for _, tc := range cases {
		f := &Frame{Type: tc.kind}
		if got := f.RequiresSeq(); got != tc.want {
			t.Errorf("RequiresSeq(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Run("missing stream id", func(t *testing.T) {
		f := &Frame{Type: Partial}
		if err := f.Validate(); err == nil {
			t.Fatal("expected error for missing stream_id")
		}
	})

	t.Run("payload and binary_ref both set", func(t *testing.T) {
		f := &Frame{Type: Partial, StreamID: "s1", Payload: "x", BinaryRef: "ref"}
		if err := f.Validate(); err == nil {
			t.Fatal("expected error for payload+binary_ref")
		}
	})

	t.Run("ack with payload rejected", func(t *testing.T) {
		f := &Frame{Type: Ack, StreamID: "s1", Payload: "x"}
		if err := f.Validate(); err == nil {
			t.Fatal("expected error for ack carrying payload")
		}
	})

	t.Run("error without error info rejected", func(t *testing.T) {
		f := &Frame{Type: Error, StreamID: "s1"}
		if err := f.Validate(); err == nil {
			t.Fatal("expected error for error frame missing error info")
		}
	})

	t.Run("valid frame", func(t *testing.T) {
		f := New("s1", Final, map[string]any{"text": "hi"})
		if err := f.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestUnknownFieldRoundTrip(t *testing.T) {
	raw := `{"type":"partial","stream_id":"s1","seq":3,"payload":{"text":"hi"},"future_field":"keep-me"}`

	f, err := Unmarshal([]byte(raw))
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if f.Unknown["future_field"] != "keep-me" {
		t.Fatalf("expected unknown field preserved, got %#v", f.Unknown)
	}

	out, err := f.Marshal()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}
	if m["future_field"] != "keep-me" {
		t.Fatalf("expected future_field round-tripped, got %#v", m)
	}
	if m["stream_id"] != "s1" {
		t.Fatalf("expected known fields preserved, got %#v", m)
	}
}

func TestHeaderCIAndSetHeader(t *testing.T) {
	f := &Frame{}
	f.SetHeader("X-Compression", "gzip")

	if v, ok := f.HeaderCI("x-compression"); !ok || v != "gzip" {
		t.Fatalf("expected case-insensitive lookup to find header, got %q, %v", v, ok)
	}

	// SetHeader must not overwrite an existing differently-cased key.
	f.SetHeader("x-compression", "deflate")
	if v, _ := f.HeaderCI("X-Compression"); v != "gzip" {
		t.Fatalf("expected original header value preserved, got %q", v)
	}
}

func TestUnmarshalInvalidJSON(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
