package tracing_test

import (
	"context"

	"github.com/kei-stream/kei-stream-go/cmn"
	"github.com/kei-stream/kei-stream-go/frame"
	"github.com/kei-stream/kei-stream-go/tracing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func otelStart(ctx context.Context) (context.Context, oteltrace.Span) {
	return otel.Tracer("tracing-test").Start(ctx, "test-span")
}

var _ = Describe("Tracing", func() {
	AfterEach(func() {
		tracing.Shutdown()
	})

	Describe("disabled by default", func() {
		It("is a no-op and TraceStreamOp just runs the callback", func() {
			Expect(tracing.IsEnabled()).To(BeFalse())

			called := false
			err := tracing.TraceStreamOp(context.Background(), "send", "s1", "stream", nil, func(context.Context) error {
				called = true
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeTrue())
		})
	})

	Describe("enabled via Init", func() {
		var exporter *tracetest.InMemoryExporter

		BeforeEach(func() {
			exporter = tracetest.NewInMemoryExporter()
			Expect(tracing.Init(&cmn.TracingConf{
				Enabled:            true,
				SamplerProbability: 1.0,
				ServiceName:        "kei-stream-test",
			}, exporter)).To(Succeed())
		})

		It("reports enabled", func() {
			Expect(tracing.IsEnabled()).To(BeTrue())
		})

		It("records a span for TraceStreamOp and sets error status on failure", func() {
			boom := context.Canceled
			err := tracing.TraceStreamOp(context.Background(), "send", "s1", "stream", nil, func(context.Context) error {
				return boom
			})
			Expect(err).To(Equal(boom))

			tracing.ForceFlush()
			spans := exporter.GetSpans()
			Expect(len(spans)).To(BeNumerically(">=", 1))
			Expect(spans[0].Name).To(Equal("send"))
			Expect(spans[0].Status.Code).To(Equal(codes.Error))
		})

		It("injects and extracts a traceparent header", func() {
			ctx, span := otelStart(context.Background())
			defer span.End()

			headers := map[string]string{}
			tracing.Inject(ctx, headers)
			Expect(headers).To(HaveKey("traceparent"))

			extracted := tracing.Extract(context.Background(), headers)
			Expect(extracted).NotTo(BeNil())
		})

		It("stamps x-span-id on InstrumentFrame", func() {
			ctx, span := otelStart(context.Background())
			defer span.End()

			f := frame.New("s1", frame.Final, nil)
			tracing.InstrumentFrame(ctx, f)
			_, ok := f.HeaderCI("x-span-id")
			Expect(ok).To(BeTrue())
		})
	})
})
