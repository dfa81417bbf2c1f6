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
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryrpc/ferry"
	"github.com/ferryrpc/ferry/backoff"
)

func TestVerdict(t *testing.T) {
	t.Parallel()

	assert.False(t, NoRetry().ShouldRetry())
	assert.False(t, Verdict{}.ShouldRetry(), "the zero value is NoRetry")

	b := backoff.Fixed(time.Second)
	verdict := RetryWith(b)
	assert.True(t, verdict.ShouldRetry())
	assert.Equal(t, b, verdict.Backoff())
	_, ok := verdict.RetryAfterDelay()
	assert.False(t, ok)

	verdict = RetryAfter(3 * time.Second)
	assert.True(t, verdict.ShouldRetry())
	delay, ok := verdict.RetryAfterDelay()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)
}

func TestOnStatus(t *testing.T) {
	t.Parallel()

	rule := OnStatus(backoff.Fixed(time.Second), 503, 429)
	ctx := context.Background()

	verdict := rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(503)})
	assert.True(t, verdict.ShouldRetry())
	verdict = rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(429)})
	assert.True(t, verdict.ShouldRetry())
	verdict = rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(200)})
	assert.False(t, verdict.ShouldRetry())
	verdict = rule.Decide(ctx, &Outcome{Err: errors.New("no response")})
	assert.False(t, verdict.ShouldRetry())
}

func TestOnServerError(t *testing.T) {
	t.Parallel()

	rule := OnServerError(backoff.Fixed(time.Second))
	ctx := context.Background()

	assert.True(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(500)}).ShouldRetry())
	assert.True(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(599)}).ShouldRetry())
	assert.False(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(499)}).ShouldRetry())
	assert.False(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(200)}).ShouldRetry())
}

func TestOnTimeout(t *testing.T) {
	t.Parallel()

	rule := OnTimeout(backoff.Fixed(time.Second))
	ctx := context.Background()

	assert.True(t, rule.Decide(ctx, &Outcome{Err: ferry.ErrTimeout}).ShouldRetry())
	assert.True(t, rule.Decide(ctx, &Outcome{
		Err: context.DeadlineExceeded,
	}).ShouldRetry())
	assert.True(t, rule.Decide(ctx, &Outcome{
		Err: fmt.Errorf("attempt: %w", ferry.ErrTimeout),
	}).ShouldRetry())
	assert.False(t, rule.Decide(ctx, &Outcome{Err: errors.New("other")}).ShouldRetry())
	assert.False(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(200)}).ShouldRetry())
}

func TestOnAnyError(t *testing.T) {
	t.Parallel()

	rule := OnAnyError(backoff.Fixed(time.Second))
	ctx := context.Background()

	assert.True(t, rule.Decide(ctx, &Outcome{Err: errors.New("anything")}).ShouldRetry())
	assert.False(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(500)}).ShouldRetry())
}

func TestAny(t *testing.T) {
	t.Parallel()

	first := backoff.Fixed(time.Second)
	second := backoff.Fixed(2 * time.Second)
	rule := Any(
		OnStatus(first, 503),
		OnServerError(second),
	)
	ctx := context.Background()

	// The first matching rule's verdict wins.
	verdict := rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(503)})
	require.True(t, verdict.ShouldRetry())
	assert.Equal(t, first, verdict.Backoff())

	verdict = rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(500)})
	require.True(t, verdict.ShouldRetry())
	assert.Equal(t, second, verdict.Backoff())

	assert.False(t, rule.Decide(ctx, &Outcome{Headers: ferry.NewHeaders(200)}).ShouldRetry())
	assert.False(t, Any().Decide(ctx, &Outcome{Err: errors.New("boom")}).ShouldRetry())
}

func TestRetryAfterDelay(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	delay, ok := retryAfterDelay(ferry.NewHeaders(503).Set("retry-after", "120"), now)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, delay)

	delay, ok = retryAfterDelay(
		ferry.NewHeaders(503).Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat)),
		now)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)

	// A date in the past means "retry now", not a negative delay.
	delay, ok = retryAfterDelay(
		ferry.NewHeaders(503).Set("retry-after", now.Add(-time.Minute).Format(http.TimeFormat)),
		now)
	require.True(t, ok)
	assert.Zero(t, delay)

	_, ok = retryAfterDelay(ferry.NewHeaders(503).Set("retry-after", "-5"), now)
	assert.False(t, ok)
	_, ok = retryAfterDelay(ferry.NewHeaders(503).Set("retry-after", "not a delay"), now)
	assert.False(t, ok)
	_, ok = retryAfterDelay(ferry.NewHeaders(503), now)
	assert.False(t, ok)
}
