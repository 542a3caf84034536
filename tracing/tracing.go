// Package tracing provides W3C traceparent inject/extract and span wrapping
// of stream operations (spec §4.4), built on OpenTelemetry, covering both
// HTTP client spans and KEI-Stream frame/stream-operation spans.
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package tracing

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/frame"
)

var (
	mu       sync.Mutex
	enabled  bool
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
	propag   = propagation.TraceContext{}
)

const tracerName = "kei-stream-client"

// Init wires an OTel tracer provider: an explicit exporter (nil means build
// one from cfg.ExporterEndpoint), a resource carrying service.name, and a
// probability sampler.
func Init(cfg *cmn.TracingConf, exporter sdktrace.SpanExporter) error {
	mu.Lock()
	defer mu.Unlock()

	if !cfg.Enabled {
		enabled = false
		return nil
	}

	var err error
	if exporter == nil {
		exporter, err = otlptracegrpc.New(context.Background(), otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint))
		if err != nil {
			return err
		}
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cmn.NonZero(cfg.ServiceName, "kei-stream-client")),
	))
	if err != nil {
		res = resource.Default()
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cmn.ClampFloat(cfg.SamplerProbability, 0, 1))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propag)
	tracer = provider.Tracer(tracerName)
	enabled = true
	return nil
}

// IsEnabled reports whether tracing.Init turned tracing on.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Shutdown flushes and tears the provider down; idempotent.
func Shutdown() {
	mu.Lock()
	p := provider
	provider = nil
	enabled = false
	mu.Unlock()
	if p != nil {
		_ = p.Shutdown(context.Background())
	}
}

// ForceFlush blocks until all pending spans are exported — test usage.
func ForceFlush() {
	mu.Lock()
	p := provider
	mu.Unlock()
	if p != nil {
		_ = p.ForceFlush(context.Background())
	}
}

// NewTraceableClient wraps an *http.Client's transport with otelhttp, used
// by the SSE push client (C6) to trace its long-poll GET.
func NewTraceableClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	clone := *base
	clone.Transport = otelhttp.NewTransport(rt)
	return &clone
}

// Inject sets traceparent/tracestate on headers from the span in ctx,
// never overwriting an existing key (§4.4).
func Inject(ctx context.Context, headers map[string]string) {
	if !IsEnabled() {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if !sc.IsValid() {
		return
	}
	carrier := headerCarrier(headers)
	propag.Inject(ctx, carrier)
}

// Extract reads traceparent/tracestate (case-insensitively) and returns a
// context usable as parent for new spans (§4.4).
func Extract(ctx context.Context, headers map[string]string) context.Context {
	carrier := headerCarrier(caseInsensitiveCopy(headers))
	return propag.Extract(ctx, carrier)
}

// TraceStreamOp starts a span named name with stream.id/stream.operation/
// component attributes, runs op, and on error records the exception and
// sets an error status before returning it (§4.4).
func TraceStreamOp(ctx context.Context, name, streamID, component string, attrs map[string]string, op func(context.Context) error) error {
	if !IsEnabled() {
		return op(ctx)
	}
	kvs := []attribute.KeyValue{
		attribute.String("stream.id", streamID),
		attribute.String("stream.operation", name),
		attribute.String("component", component),
	}
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	spanCtx, span := tracer.Start(ctx, name, oteltrace.WithAttributes(kvs...))
	defer span.End()

	err := op(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// InstrumentFrame injects trace headers into f and stamps the current span
// id, §4.4.
func InstrumentFrame(ctx context.Context, f *frame.Frame) {
	if f.Headers == nil {
		f.Headers = map[string]string{}
	}
	Inject(ctx, f.Headers)
	span := oteltrace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		f.SetHeader("x-span-id", sc.SpanID().String())
	}
}

type headerCarrier map[string]string

func (h headerCarrier) Get(key string) string   { return h[key] }
func (h headerCarrier) Set(key, value string) {
	lower := toLower(key)
	for k := range h {
		if toLower(k) == lower {
			return
		}
	}
	h[key] = value
}
func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

func caseInsensitiveCopy(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[toLower(k)] = v
	}
	return out
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
