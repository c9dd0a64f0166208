package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/retry"
)

var _ = Describe("Do", func() {
	var (
		ctx    context.Context
		policy retry.Policy
	)

	BeforeEach(func() {
		ctx = context.Background()
		policy = retry.Policy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
			MaxDelay:  2 * time.Millisecond,
		}
	})

	It("returns immediately on success", func() {
		calls := 0
		err := retry.Do(ctx, policy, func(context.Context) error {
			calls++
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("retries transient failures until success", func() {
		calls := 0
		err := retry.Do(ctx, policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return faults.Transient(errors.New("connection reset"))
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
	})

	It("returns the last error when the budget is exhausted", func() {
		calls := 0
		boom := faults.Transient(errors.New("still down"))
		err := retry.Do(ctx, policy, func(context.Context) error {
			calls++
			return boom
		})
		Expect(err).To(MatchError(boom))
		Expect(calls).To(Equal(3))
	})

	It("does not retry non-transient errors", func() {
		calls := 0
		bad := faults.Validation(errors.New("bad input"))
		err := retry.Do(ctx, policy, func(context.Context) error {
			calls++
			return bad
		})
		Expect(err).To(MatchError(bad))
		Expect(calls).To(Equal(1))
	})

	It("stops when the context is cancelled between attempts", func() {
		ctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := retry.Do(ctx, retry.Policy{Attempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second},
			func(context.Context) error {
				calls++
				cancel()
				return faults.Transient(errors.New("flaky"))
			})
		Expect(err).To(MatchError(context.Canceled))
		Expect(calls).To(Equal(1))
	})

	It("applies defaults to a zero policy", func() {
		calls := 0
		err := retry.Do(ctx, retry.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
			func(context.Context) error {
				calls++
				return faults.Transient(errors.New("down"))
			})
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(retry.DefaultAttempts))
	})
})
