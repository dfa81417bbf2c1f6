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

// Package backoff provides policies that compute the delay to wait before
// retrying a failed attempt. All policies are immutable after construction
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ferryrpc/ferry"
)

// Backoff computes the delay to wait before the next attempt.
type Backoff interface {
	// NextDelay returns the delay before the attempt with the given 1-based
	// number. The returned delay is always non-negative.
	NextDelay(attempt int) time.Duration
}

// maxPrecomputedDelays bounds the exponential delay table. A series that
// reaches its cap within this many attempts only ever produces this many
// distinct delays, so they may as well be computed once.
const maxPrecomputedDelays = 30

// NewExponential returns a Backoff whose delay for attempt n is
// min(initial * multiplier^(n-1), max), computed with saturating
// multiplication. The multiplier must be greater than 1.0 and
// 0 <= initial <= max; violations are reported as ferry.ErrInvalidConfig.
func NewExponential(initial, max time.Duration, multiplier float64) (Backoff, error) {
	if multiplier <= 1.0 {
		return nil, ferry.InvalidConfigf("multiplier: %v (expected: > 1.0)", multiplier)
	}
	if initial < 0 {
		return nil, ferry.InvalidConfigf("initial delay: %v (expected: >= 0)", initial)
	}
	if initial > max {
		return nil, ferry.InvalidConfigf("max delay: %v (expected: >= %v)", max, initial)
	}
	b := &exponentialBackoff{initial: initial, max: max, multiplier: multiplier}
	if b.computeDelay(maxPrecomputedDelays) >= max {
		// The series saturates within the table bound, so there are at most
		// maxPrecomputedDelays distinct delays. Cache them up to and
		// including the first capped value.
		for attempt := 1; attempt <= maxPrecomputedDelays; attempt++ {
			delay := b.computeDelay(attempt)
			b.precomputed = append(b.precomputed, delay)
			if delay >= max {
				break
			}
		}
	}
	return b, nil
}

type exponentialBackoff struct {
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	precomputed []time.Duration
}

func (b *exponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.precomputed != nil {
		index := attempt - 1
		if index >= len(b.precomputed) {
			index = len(b.precomputed) - 1
		}
		return b.precomputed[index]
	}
	return b.computeDelay(attempt)
}

func (b *exponentialBackoff) computeDelay(attempt int) time.Duration {
	if attempt == 1 {
		return b.initial
	}
	next := saturatedMultiply(b.initial, math.Pow(b.multiplier, float64(attempt-1)))
	if next > b.max {
		return b.max
	}
	return next
}

func saturatedMultiply(left time.Duration, right float64) time.Duration {
	result := float64(left) * right
	if result >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(result)
}

// Fixed returns a Backoff that always waits the same delay.
func Fixed(delay time.Duration) Backoff {
	return fixedBackoff(delay)
}

type fixedBackoff time.Duration

func (b fixedBackoff) NextDelay(int) time.Duration {
	return time.Duration(b)
}

// WithJitter wraps a Backoff so that each delay is perturbed by a random
// factor in [1-rate, 1+rate], clamped to be non-negative. The rate must be
// in [0.0, 1.0]. If random is nil, a new pseudo-random source is used.
func WithJitter(backoff Backoff, rate float64, random *rand.Rand) (Backoff, error) {
	if rate < 0.0 || rate > 1.0 {
		return nil, ferry.InvalidConfigf("jitter rate: %v (expected: 0.0 to 1.0)", rate)
	}
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter needs no crypto strength
	}
	return &jitterBackoff{backoff: backoff, rate: rate, random: random}, nil
}

type jitterBackoff struct {
	backoff Backoff
	rate    float64

	mu     sync.Mutex // rand.Rand is not safe for concurrent use
	random *rand.Rand
}

func (b *jitterBackoff) NextDelay(attempt int) time.Duration {
	delay := b.backoff.NextDelay(attempt)
	b.mu.Lock()
	factor := 1.0 + b.rate*(2.0*b.random.Float64()-1.0)
	b.mu.Unlock()
	jittered := saturatedMultiply(delay, factor)
	if jittered < 0 {
		return 0
	}
	return jittered
}
