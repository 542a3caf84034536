package compress

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/frame"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	hdrCompression    = "x-compression"
	hdrOriginalSize   = "x-original-size"
	hdrCompressedSize = "x-compressed-size"
	gzipTag           = "gzip"
)

// Engine implements ShouldCompress/Compress/Decompress, §4.3.
type Engine struct {
	resolver *Resolver
}

func NewEngine(resolver *Resolver) *Engine { return &Engine{resolver: resolver} }

// ShouldCompress reports whether f's payload, at its estimated size, falls in
// [threshold, max] under profile and the profile allows compression.
func ShouldCompress(f *frame.Frame, profile Profile) bool {
	if !profile.PayloadCompression || f.Payload == nil {
		return false
	}
	size := estimateSize(f.Payload)
	if size < profile.ThresholdBytes {
		return false
	}
	if profile.MaxPayloadBytes > 0 && size > profile.MaxPayloadBytes {
		return false
	}
	return true
}

func estimateSize(payload any) int64 {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// Compress returns a compressed copy of f when applicable, leaving f itself
// untouched; on failure it downgrades to the unchanged raw frame and returns an *cmn.ErrCompression
// for the caller to log (§4.3, §7).
func (e *Engine) Compress(f *frame.Frame, tenant, apiKey string) (*frame.Frame, error) {
	profile := e.resolver.Resolve(tenant, apiKey)
	if !ShouldCompress(f, profile) {
		return f, nil
	}

	raw, err := json.Marshal(f.Payload)
	if err != nil {
		return f, &cmn.ErrCompression{Err: err}
	}
	originalSize := len(raw)

	var buf bytes.Buffer
	level := profile.Level
	if level < 1 || level > 9 {
		level = 6
	}
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return f, &cmn.ErrCompression{Err: err}
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return f, &cmn.ErrCompression{Err: err}
	}
	if err := zw.Close(); err != nil {
		return f, &cmn.ErrCompression{Err: err}
	}

	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	out := *f
	out.BinaryRef = b64
	out.Payload = nil
	if out.Headers == nil {
		out.Headers = map[string]string{}
	} else {
		h := make(map[string]string, len(f.Headers))
		for k, v := range f.Headers {
			h[k] = v
		}
		out.Headers = h
	}
	out.Headers[hdrCompression] = gzipTag
	out.Headers[hdrOriginalSize] = strconv.Itoa(originalSize)
	out.Headers[hdrCompressedSize] = strconv.Itoa(buf.Len())
	return &out, nil
}

// Decompress reverses Compress: if the frame isn't tagged gzip it is
// returned unchanged; on decode failure it returns *cmn.ErrDecompression
// and the caller falls back to the raw (still-compressed) frame (§4.3, §7).
func Decompress(f *frame.Frame) (*frame.Frame, error) {
	tag, ok := f.HeaderCI(hdrCompression)
	if !ok || tag != gzipTag {
		return f, nil
	}

	raw, err := base64.StdEncoding.DecodeString(f.BinaryRef)
	if err != nil {
		return f, &cmn.ErrDecompression{Err: err}
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return f, &cmn.ErrDecompression{Err: err}
	}
	defer zr.Close()
	payloadJSON, err := io.ReadAll(zr)
	if err != nil {
		return f, &cmn.ErrDecompression{Err: err}
	}

	var payload any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return f, &cmn.ErrDecompression{Err: err}
	}

	out := *f
	out.Payload = payload
	out.BinaryRef = ""
	h := make(map[string]string, len(f.Headers))
	for k, v := range f.Headers {
		if toLowerEq(k, hdrCompression) || toLowerEq(k, hdrOriginalSize) || toLowerEq(k, hdrCompressedSize) {
			continue
		}
		h[k] = v
	}
	out.Headers = h
	return &out, nil
}

func toLowerEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
