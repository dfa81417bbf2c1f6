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

package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryrpc/ferry"
)

func TestExponentialValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExponential(time.Second, time.Minute, 1.0)
	require.ErrorIs(t, err, ferry.ErrInvalidConfig)

	_, err = NewExponential(-time.Second, time.Minute, 2.0)
	require.ErrorIs(t, err, ferry.ErrInvalidConfig)

	_, err = NewExponential(time.Minute, time.Second, 2.0)
	require.ErrorIs(t, err, ferry.ErrInvalidConfig)

	_, err = NewExponential(time.Second, time.Minute, 2.0)
	require.NoError(t, err)
}

func TestExponentialDelays(t *testing.T) {
	t.Parallel()

	b, err := NewExponential(100*time.Millisecond, 10*time.Second, 2.0)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.NextDelay(3))
	assert.Equal(t, 6400*time.Millisecond, b.NextDelay(7))
	// Saturates at the cap and stays there.
	assert.Equal(t, 10*time.Second, b.NextDelay(8))
	assert.Equal(t, 10*time.Second, b.NextDelay(30))
	assert.Equal(t, 10*time.Second, b.NextDelay(1000))
}

func TestExponentialMonotonicAndBounded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		initial    time.Duration
		max        time.Duration
		multiplier float64
	}{
		{"saturating", 10 * time.Millisecond, time.Second, 2.0},
		{"slow growth", time.Millisecond, time.Hour, 1.1},
		{"zero initial", 0, time.Second, 3.0},
		{"initial equals max", time.Second, time.Second, 2.0},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewExponential(testCase.initial, testCase.max, testCase.multiplier)
			require.NoError(t, err)
			assert.Equal(t, testCase.initial, b.NextDelay(1))
			previous := time.Duration(-1)
			for attempt := 1; attempt <= 60; attempt++ {
				delay := b.NextDelay(attempt)
				assert.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
				assert.LessOrEqual(t, delay, testCase.max, "attempt %d", attempt)
				previous = delay
			}
		})
	}
}

func TestExponentialTableMatchesDirectComputation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		initial    time.Duration
		max        time.Duration
		multiplier float64
		wantTable  bool
	}{
		{"saturates quickly", 100 * time.Millisecond, 10 * time.Second, 2.0, true},
		{"saturates at bound", time.Millisecond, time.Minute, 2.0, true},
		{"never saturates", time.Millisecond, 1000 * time.Hour, 1.5, false},
		{"degenerate zero", 0, 0, 2.0, true},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewExponential(testCase.initial, testCase.max, testCase.multiplier)
			require.NoError(t, err)
			exp, ok := b.(*exponentialBackoff)
			require.True(t, ok)
			assert.Equal(t, testCase.wantTable, exp.precomputed != nil)

			// The table is an optimization, never a behavior change: both
			// code paths must agree for every attempt number.
			direct := &exponentialBackoff{
				initial:    testCase.initial,
				max:        testCase.max,
				multiplier: testCase.multiplier,
			}
			for attempt := 1; attempt <= 60; attempt++ {
				assert.Equal(t, direct.NextDelay(attempt), b.NextDelay(attempt), "attempt %d", attempt)
			}
		})
	}
}

func TestFixed(t *testing.T) {
	t.Parallel()

	b := Fixed(42 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 42*time.Millisecond, b.NextDelay(attempt))
	}
}

func TestWithJitter(t *testing.T) {
	t.Parallel()

	_, err := WithJitter(Fixed(time.Second), 1.5, nil)
	require.ErrorIs(t, err, ferry.ErrInvalidConfig)

	random := rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test source
	b, err := WithJitter(Fixed(time.Second), 0.5, random)
	require.NoError(t, err)
	for attempt := 1; attempt <= 100; attempt++ {
		delay := b.NextDelay(attempt)
		assert.GreaterOrEqual(t, delay, 500*time.Millisecond)
		assert.LessOrEqual(t, delay, 1500*time.Millisecond)
	}

	// Zero rate leaves the delay untouched.
	b, err = WithJitter(Fixed(time.Second), 0, random)
	require.NoError(t, err)
	assert.Equal(t, time.Second, b.NextDelay(1))
}
