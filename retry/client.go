// Copyright 2024-2025 The Ferry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ferryrpc/ferry"
	"github.com/ferryrpc/ferry/internal"
	"github.com/ferryrpc/ferry/reqlog"
)

const defaultMaxTotalAttempts = 10

// Option customizes a RetryingClient.
type Option interface {
	apply(*RetryingClient)
}

// WithMaxTotalAttempts limits the number of attempts per logical call,
// including the first one. The default is 10.
func WithMaxTotalAttempts(attempts int) Option {
	return optionFunc(func(c *RetryingClient) {
		c.maxTotalAttempts = attempts
	})
}

// WithResponseTimeoutForEachAttempt bounds each individual attempt. The
// effective per-attempt budget is the smaller of this timeout and the
// remaining overall deadline, if the caller's context carries one.
func WithResponseTimeoutForEachAttempt(timeout time.Duration) Option {
	return optionFunc(func(c *RetryingClient) {
		c.perAttemptTimeout = timeout
	})
}

// WithRetryAfter configures whether a Retry-After header on a retryable
// response overrides the backoff-computed delay.
func WithRetryAfter(honor bool) Option {
	return optionFunc(func(c *RetryingClient) {
		c.useRetryAfter = honor
	})
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(c *RetryingClient) {
		c.logger = logger
	})
}

type optionFunc func(*RetryingClient)

func (f optionFunc) apply(c *RetryingClient) {
	f(c)
}

// RetryingClient decorates a Client with retries. Each attempt gets its own
// child request log and its own timeout; the only state shared across
// attempts is the read-only rule and backoff.
type RetryingClient struct {
	delegate          ferry.Client
	rule              Rule
	ruleWithContent   RuleWithContent
	maxContentLength  int
	maxTotalAttempts  int
	perAttemptTimeout time.Duration
	useRetryAfter     bool
	logger            *zap.Logger
	clock             internal.Clock
}

var _ ferry.Client = (*RetryingClient)(nil)

// New returns a RetryingClient that evaluates the given rule against each
// attempt's outcome without looking at response content.
func New(delegate ferry.Client, rule Rule, opts ...Option) (*RetryingClient, error) {
	if rule == nil {
		return nil, ferry.InvalidConfigf("rule must not be nil")
	}
	return newRetryingClient(delegate, rule, nil, 0, opts)
}

// NewWithContent returns a RetryingClient whose rule also inspects response
// content. Content is aggregated up to maxContentLength bytes before the
// rule runs; a response whose content exceeds the bound without a decision
// is handed through unmodified instead of buffering without limit.
func NewWithContent(
	delegate ferry.Client,
	rule RuleWithContent,
	maxContentLength int,
	opts ...Option,
) (*RetryingClient, error) {
	if rule == nil {
		return nil, ferry.InvalidConfigf("rule must not be nil")
	}
	if maxContentLength <= 0 {
		return nil, ferry.InvalidConfigf("max content length: %d (expected: > 0)", maxContentLength)
	}
	return newRetryingClient(delegate, nil, rule, maxContentLength, opts)
}

// NewDecorator returns a ferry.Decorator applying the given rule, for use
// with ferry.WithDecorator.
func NewDecorator(rule Rule, opts ...Option) ferry.Decorator {
	return func(delegate ferry.Client) ferry.Client {
		client, err := New(delegate, rule, opts...)
		if err != nil {
			// Configuration errors fail at construction, never at request
			// time. Surface them on the first call instead of panicking.
			return ferry.ClientFunc(func(context.Context, *ferry.Request) (ferry.Response, error) {
				return nil, err
			})
		}
		return client
	}
}

func newRetryingClient(
	delegate ferry.Client,
	rule Rule,
	ruleWithContent RuleWithContent,
	maxContentLength int,
	opts []Option,
) (*RetryingClient, error) {
	if delegate == nil {
		return nil, ferry.InvalidConfigf("delegate must not be nil")
	}
	c := &RetryingClient{
		delegate:         delegate,
		rule:             rule,
		ruleWithContent:  ruleWithContent,
		maxContentLength: maxContentLength,
		maxTotalAttempts: defaultMaxTotalAttempts,
		logger:           zap.NewNop(),
		clock:            internal.NewRealClock(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.maxTotalAttempts <= 0 {
		return nil, ferry.InvalidConfigf("max total attempts: %d (expected: > 0)", c.maxTotalAttempts)
	}
	return c, nil
}

// Execute implements ferry.Client. It runs attempts until the rule passes
// an outcome through, the attempt budget is exhausted, or the overall
// deadline expires. The final attempt's outcome is surfaced unchanged.
func (c *RetryingClient) Execute(ctx context.Context, req *ferry.Request) (ferry.Response, error) {
	deadline, hasDeadline := ctx.Deadline()
	parentLog := reqlog.FromContext(ctx)
	if parentLog == nil {
		parentLog = reqlog.New()
	}

	for attempt := 1; ; attempt++ {
		attemptTimeout := c.perAttemptTimeout
		if hasDeadline {
			remaining := deadline.Sub(c.clock.Now())
			if remaining <= 0 {
				// The budget ran out before the attempt started. This is a
				// timeout failure, never a zero-delay retry loop.
				return nil, fmt.Errorf("%w: deadline exhausted before attempt %d",
					ferry.ErrTimeout, attempt)
			}
			if attemptTimeout == 0 || remaining < attemptTimeout {
				attemptTimeout = remaining
			}
		}

		childLog := parentLog.NewChild()
		attemptCtx := reqlog.NewContext(ctx, childLog)
		cancel := context.CancelFunc(func() {})
		if attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(attemptCtx, attemptTimeout)
		}

		start := c.clock.Now()
		resp, err := c.delegate.Execute(attemptCtx, req)
		outcome := &Outcome{Attempt: attempt, Err: err, Duration: c.clock.Since(start)}
		childLog.EndRequest(nil)

		verdict, consumed := c.decide(ctx, outcome, resp)
		if outcome.Headers != nil {
			childLog.SetResponseHeaders(outcome.Headers)
		}

		lastAttempt := !verdict.ShouldRetry() || attempt >= c.maxTotalAttempts
		if lastAttempt {
			childLog.EndResponse(outcome.Err)
			parentLog.PropagateResponseEndFrom(childLog)
			if outcome.Err != nil {
				cancel()
				return nil, outcome.Err
			}
			// The decision is final before any object reaches the caller;
			// a response the caller started consuming is never retried.
			return ferry.ReplayResponse(consumed, resp), nil
		}

		childLog.EndResponse(outcome.Err)
		cancel()

		delay := c.delayFor(verdict, outcome, attempt)
		if hasDeadline && deadline.Sub(c.clock.Now()) <= delay {
			return nil, fmt.Errorf("%w: deadline exhausted while waiting to retry attempt %d",
				ferry.ErrTimeout, attempt+1)
		}
		c.logger.Debug("retrying attempt",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(outcome.Err))
		if err := c.await(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// decide evaluates the rule for one attempt, buffering response content
// first if the rule needs it. It returns the verdict along with the objects
// consumed from the response stream, so that a passed-through response can
// be replayed to the caller in full.
func (c *RetryingClient) decide(
	ctx context.Context,
	outcome *Outcome,
	resp ferry.Response,
) (Verdict, []ferry.Object) {
	if outcome.Err != nil {
		if c.ruleWithContent != nil {
			return c.ruleWithContent.DecideWithContent(ctx, outcome, nil), nil
		}
		return c.rule.Decide(ctx, outcome), nil
	}

	headers, consumed, err := readResponseHeaders(resp)
	if err != nil {
		outcome.Err = err
		if c.ruleWithContent != nil {
			return c.ruleWithContent.DecideWithContent(ctx, outcome, nil), consumed
		}
		return c.rule.Decide(ctx, outcome), consumed
	}
	outcome.Headers = headers

	if c.ruleWithContent == nil {
		return c.rule.Decide(ctx, outcome), consumed
	}

	content, rest, overflow, err := aggregateContent(resp, c.maxContentLength)
	consumed = append(consumed, rest...)
	if err != nil {
		outcome.Err = err
		return c.ruleWithContent.DecideWithContent(ctx, outcome, nil), consumed
	}
	if overflow {
		// The bound was hit without a decision; hand the stream through
		// rather than buffering unbounded data.
		return NoRetry(), consumed
	}
	return c.ruleWithContent.DecideWithContent(ctx, outcome, content), consumed
}

func (c *RetryingClient) delayFor(verdict Verdict, outcome *Outcome, attempt int) time.Duration {
	if serverDelay, ok := verdict.RetryAfterDelay(); ok {
		return serverDelay
	}
	if c.useRetryAfter && outcome.Headers != nil {
		if serverDelay, ok := retryAfterDelay(outcome.Headers, c.clock.Now()); ok {
			return serverDelay
		}
	}
	if b := verdict.Backoff(); b != nil {
		return b.NextDelay(attempt)
	}
	return 0
}

// await waits for the retry delay on a timer, not a blocking sleep, so the
// wait is cancellable through the caller's context.
func (c *RetryingClient) await(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := c.clock.NewTimer(delay)
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

// readResponseHeaders consumes objects until the first non-informational
// headers. Informational headers are buffered for replay.
func readResponseHeaders(resp ferry.Response) (*ferry.Headers, []ferry.Object, error) {
	var consumed []ferry.Object
	for {
		obj, err := resp.Recv()
		if err == io.EOF {
			return nil, consumed, fmt.Errorf("%w: response ended before headers", ferry.ErrProtocolViolation)
		}
		if err != nil {
			return nil, consumed, err
		}
		consumed = append(consumed, obj)
		if headers, ok := obj.(*ferry.Headers); ok && headers.Status() != 0 && !headers.IsInformational() {
			return headers, consumed, nil
		}
	}
}

// aggregateContent buffers body data until end of stream or until the
// running total exceeds limit, whichever comes first.
func aggregateContent(resp ferry.Response, limit int) (content []byte, consumed []ferry.Object, overflow bool, err error) {
	total := 0
	for {
		obj, recvErr := resp.Recv()
		if recvErr == io.EOF {
			return content, consumed, false, nil
		}
		if recvErr != nil {
			return content, consumed, false, recvErr
		}
		consumed = append(consumed, obj)
		if data, ok := obj.(ferry.Data); ok {
			total += data.Len()
			if total > limit {
				return content, consumed, true, nil
			}
			content = append(content, data.Bytes()...)
		}
		if obj.EndOfStream() {
			return content, consumed, false, nil
		}
	}
}
