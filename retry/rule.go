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

// Package retry wraps a Client so that failed attempts are transparently
// re-executed according to a rule. The engine is a multiplexer over
// attempts: it never synthesizes its own error type, and the last attempt's
// outcome reaches the caller unchanged.
package retry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ferryrpc/ferry"
	"github.com/ferryrpc/ferry/backoff"
)

// Outcome describes one completed (or failed) attempt for rule evaluation.
type Outcome struct {
	// Attempt is the 1-based attempt number.
	Attempt int
	// Headers holds the attempt's response headers when a response was
	// received; nil when the attempt failed before headers.
	Headers *ferry.Headers
	// Err is the attempt's failure, or nil when a response was received.
	Err error
	// Duration is how long the attempt took.
	Duration time.Duration
}

// Rule decides whether and how to retry after an attempt.
//
// Rules must be safe for concurrent use by multiple goroutines.
type Rule interface {
	Decide(ctx context.Context, outcome *Outcome) Verdict
}

// RuleFunc adapts an ordinary function to the Rule interface.
type RuleFunc func(ctx context.Context, outcome *Outcome) Verdict

// Decide implements Rule.
func (f RuleFunc) Decide(ctx context.Context, outcome *Outcome) Verdict {
	return f(ctx, outcome)
}

// RuleWithContent is a Rule variant that also inspects the attempt's
// buffered response content. The engine aggregates content up to its
// configured bound before calling it; content may be nil when the attempt
// failed without a response.
type RuleWithContent interface {
	DecideWithContent(ctx context.Context, outcome *Outcome, content []byte) Verdict
}

// RuleWithContentFunc adapts an ordinary function to RuleWithContent.
type RuleWithContentFunc func(ctx context.Context, outcome *Outcome, content []byte) Verdict

// DecideWithContent implements RuleWithContent.
func (f RuleWithContentFunc) DecideWithContent(ctx context.Context, outcome *Outcome, content []byte) Verdict {
	return f(ctx, outcome, content)
}

type verdictKind int

const (
	verdictNoRetry verdictKind = iota
	verdictRetry
	verdictRetryAfter
)

// Verdict is a rule's decision for one attempt. The zero value is NoRetry.
type Verdict struct {
	kind       verdictKind
	backoff    backoff.Backoff
	retryAfter time.Duration
}

// NoRetry returns the verdict that passes the attempt's outcome through to
// the caller.
func NoRetry() Verdict {
	return Verdict{kind: verdictNoRetry}
}

// RetryWith returns the verdict that retries after a delay computed by the
// given backoff.
func RetryWith(b backoff.Backoff) Verdict {
	return Verdict{kind: verdictRetry, backoff: b}
}

// RetryAfter returns the verdict that retries after the given
// server-specified delay.
func RetryAfter(delay time.Duration) Verdict {
	return Verdict{kind: verdictRetryAfter, retryAfter: delay}
}

// ShouldRetry reports whether the verdict requests another attempt.
func (v Verdict) ShouldRetry() bool {
	return v.kind != verdictNoRetry
}

// Backoff returns the verdict's backoff, or nil.
func (v Verdict) Backoff() backoff.Backoff {
	return v.backoff
}

// RetryAfterDelay returns the server-specified delay, if the verdict
// carries one.
func (v Verdict) RetryAfterDelay() (time.Duration, bool) {
	return v.retryAfter, v.kind == verdictRetryAfter
}

// Any combines rules: the first verdict requesting a retry wins, otherwise
// the result is NoRetry.
func Any(rules ...Rule) Rule {
	combined := make([]Rule, len(rules))
	copy(combined, rules)
	return RuleFunc(func(ctx context.Context, outcome *Outcome) Verdict {
		for _, rule := range combined {
			if verdict := rule.Decide(ctx, outcome); verdict.ShouldRetry() {
				return verdict
			}
		}
		return NoRetry()
	})
}

// OnStatus returns a rule that retries with the given backoff when the
// response status is one of the given codes.
func OnStatus(b backoff.Backoff, codes ...int) Rule {
	matched := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		matched[code] = struct{}{}
	}
	return RuleFunc(func(_ context.Context, outcome *Outcome) Verdict {
		if outcome.Headers == nil {
			return NoRetry()
		}
		if _, ok := matched[outcome.Headers.Status()]; ok {
			return RetryWith(b)
		}
		return NoRetry()
	})
}

// OnServerError returns a rule that retries with the given backoff on any
// 5xx response status.
func OnServerError(b backoff.Backoff) Rule {
	return RuleFunc(func(_ context.Context, outcome *Outcome) Verdict {
		if outcome.Headers != nil && outcome.Headers.Status() >= 500 && outcome.Headers.Status() < 600 {
			return RetryWith(b)
		}
		return NoRetry()
	})
}

// OnTimeout returns a rule that retries with the given backoff when the
// attempt timed out.
func OnTimeout(b backoff.Backoff) Rule {
	return RuleFunc(func(_ context.Context, outcome *Outcome) Verdict {
		if outcome.Err != nil &&
			(errors.Is(outcome.Err, ferry.ErrTimeout) || errors.Is(outcome.Err, context.DeadlineExceeded)) {
			return RetryWith(b)
		}
		return NoRetry()
	})
}

// OnAnyError returns a rule that retries with the given backoff when the
// attempt failed with any error.
func OnAnyError(b backoff.Backoff) Rule {
	return RuleFunc(func(_ context.Context, outcome *Outcome) Verdict {
		if outcome.Err != nil {
			return RetryWith(b)
		}
		return NoRetry()
	})
}

// retryAfterDelay parses a Retry-After header: either delta-seconds or an
// HTTP-date.
func retryAfterDelay(headers *ferry.Headers, now time.Time) (time.Duration, bool) {
	value := headers.Get("retry-after")
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		delay := at.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}
