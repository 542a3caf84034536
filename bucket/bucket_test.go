package bucket_test

import (
	"context"
	"time"

	"github.com/kei-stream/kei-stream-go/bucket"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TokenBucket", func() {
	It("starts full and drains on consume", func() {
		tb := bucket.New(bucket.Config{Capacity: 5, RefillRate: 100, FrameCost: 1})
		for i := 0; i < 5; i++ {
			Expect(tb.TryConsume(1)).To(BeTrue())
		}
		Expect(tb.TryConsume(1)).To(BeFalse())
	})

	It("refills over time", func() {
		tb := bucket.New(bucket.Config{Capacity: 2, RefillRate: 100, FrameCost: 1})
		Expect(tb.TryConsume(2)).To(BeTrue())
		Expect(tb.TryConsume(1)).To(BeFalse())

		time.Sleep(30 * time.Millisecond)
		Expect(tb.TryConsume(1)).To(BeTrue())
	})

	It("Consume blocks until tokens are available then returns", func() {
		tb := bucket.New(bucket.Config{Capacity: 1, RefillRate: 50, FrameCost: 1})
		Expect(tb.TryConsume(1)).To(BeTrue())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(tb.Consume(ctx, 1)).To(Succeed())
	})

	It("Consume respects context cancellation", func() {
		tb := bucket.New(bucket.Config{Capacity: 1, RefillRate: 0.001, FrameCost: 1})
		Expect(tb.TryConsume(1)).To(BeTrue())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		Expect(tb.Consume(ctx, 1)).To(MatchError(context.DeadlineExceeded))
	})

	It("reports status fields", func() {
		tb := bucket.New(bucket.Config{Capacity: 10, RefillRate: 5})
		st := tb.Status()
		Expect(st.Capacity).To(BeEquivalentTo(10))
		Expect(st.Tokens).To(BeEquivalentTo(10))
		Expect(st.Utilization).To(BeEquivalentTo(0))
	})

	It("IsFull reflects capacity state", func() {
		tb := bucket.New(bucket.Config{Capacity: 3, RefillRate: 100})
		Expect(tb.IsFull()).To(BeTrue())
		tb.TryConsume(1)
		Expect(tb.IsFull()).To(BeFalse())
	})
})

var _ = Describe("Adaptive TokenBucket", func() {
	It("raises the refill rate after a run of failures", func() {
		tb := bucket.NewAdaptive(bucket.Config{
			Capacity: 1, RefillRate: 10, FrameCost: 1,
			MinRefillRate: 1, MaxRefillRate: 100,
			AdaptInterval: time.Millisecond,
		})
		// Drain the one token, then hammer failed consumes to push the
		// rolling success rate below 0.7 and trigger an upward adaptation.
		tb.TryConsume(1)
		for i := 0; i < 50; i++ {
			tb.TryConsume(1)
			time.Sleep(time.Millisecond)
		}
		Expect(tb.Status().RefillRate).To(BeNumerically(">", 10))
	})
})

var _ = Describe("Manager", func() {
	It("lazily creates one bucket per stream and reuses it", func() {
		m := bucket.NewManager(bucket.DefaultConfig(), time.Minute)
		defer m.Close()

		a := m.Get("s1")
		b := m.Get("s1")
		Expect(a).To(BeIdenticalTo(b))

		c := m.Get("s2")
		Expect(c).NotTo(BeIdenticalTo(a))
	})

	It("removes a bucket on request", func() {
		m := bucket.NewManager(bucket.DefaultConfig(), time.Minute)
		defer m.Close()

		a := m.Get("s1")
		m.Remove("s1")
		b := m.Get("s1")
		Expect(b).NotTo(BeIdenticalTo(a))
	})
})
