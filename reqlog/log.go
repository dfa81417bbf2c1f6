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

// Package reqlog provides a structured, partially-observable record of one
// request/response exchange. Properties become available in groups as the
// exchange progresses; reading a property before its group was signaled is
// an error, distinct from the property being empty. Once available, a
// property's value never changes.
package reqlog

import (
	"sort"
	"sync"

	"github.com/ferryrpc/ferry"
)

// Log records one exchange. A Log is written by the component driving the
// exchange and read concurrently by observers. The zero value is not usable;
// call New.
type Log struct {
	mu        sync.Mutex
	available Property

	scheme           string
	requestHeaders   *ferry.Headers
	requestTrailers  *ferry.Headers
	requestCause     error
	responseHeaders  *ferry.Headers
	responseTrailers *ferry.Headers
	responseCause    error
	responseLength   int64

	pending  []*pendingListener
	nextSeq  int
	children []*Log
}

type pendingListener struct {
	interest Property
	seq      int
	fn       func(*Log)
}

// New returns an empty Log with no available properties.
func New() *Log {
	return &Log{}
}

// SetScheme records the exchange scheme and signals PropertyScheme.
func (l *Log) SetScheme(scheme string) {
	l.update(PropertyScheme, func() { l.scheme = scheme })
}

// SetRequestHeaders records the request headers and signals
// PropertyRequestHeaders.
func (l *Log) SetRequestHeaders(headers *ferry.Headers) {
	l.update(PropertyRequestHeaders, func() { l.requestHeaders = headers })
}

// SetRequestTrailers records the request trailers and signals
// PropertyRequestTrailers.
func (l *Log) SetRequestTrailers(trailers *ferry.Headers) {
	l.update(PropertyRequestTrailers, func() { l.requestTrailers = trailers })
}

// EndRequest signals that the request side is complete. Request-side
// properties that were never set become available with empty values. cause
// may be nil.
func (l *Log) EndRequest(cause error) {
	l.update(RequestProperties, func() {
		l.requestCause = cause
		if l.available&PropertyRequestHeaders == 0 && l.requestHeaders == nil {
			l.requestHeaders = ferry.NewHeaders(0)
		}
		if l.available&PropertyRequestTrailers == 0 && l.requestTrailers == nil {
			l.requestTrailers = ferry.NewTrailers()
		}
	})
}

// SetResponseHeaders records the response headers and signals
// PropertyResponseHeaders.
func (l *Log) SetResponseHeaders(headers *ferry.Headers) {
	l.update(PropertyResponseHeaders, func() { l.responseHeaders = headers })
}

// SetResponseTrailers records the response trailers and signals
// PropertyResponseTrailers.
func (l *Log) SetResponseTrailers(trailers *ferry.Headers) {
	l.update(PropertyResponseTrailers, func() { l.responseTrailers = trailers })
}

// IncreaseResponseLength adds to the running count of response body bytes.
// The total becomes readable once the response completes.
func (l *Log) IncreaseResponseLength(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyResponseComplete == 0 {
		l.responseLength += int64(n)
	}
}

// EndResponse signals that the response side is complete, with an optional
// failure cause. Response-side properties that were never set become
// available with empty values. The first completion signal wins; later ones
// are no-ops.
func (l *Log) EndResponse(cause error) {
	l.update(ResponseProperties, func() {
		l.responseCause = cause
		if l.available&PropertyResponseHeaders == 0 && l.responseHeaders == nil {
			l.responseHeaders = ferry.NewHeaders(0)
		}
		if l.available&PropertyResponseTrailers == 0 && l.responseTrailers == nil {
			l.responseTrailers = ferry.NewTrailers()
		}
	})
}

// update marks props available (those not already available), applies the
// mutation, and fires the listeners the transition satisfied. Each property
// transitions from unavailable to available exactly once.
func (l *Log) update(props Property, mutate func()) {
	l.mu.Lock()
	newly := props &^ l.available
	if newly == 0 {
		l.mu.Unlock()
		return
	}
	mutate()
	l.available |= newly
	fired := l.collectSatisfiedLocked()
	l.mu.Unlock()
	for _, listener := range fired {
		listener.fn(l)
	}
}

// collectSatisfiedLocked removes and returns the pending listeners whose
// interest is now fully available, in deterministic order: fewer-property
// interests first, request-side interests before response-side ones, then
// registration order.
func (l *Log) collectSatisfiedLocked() []*pendingListener {
	var fired []*pendingListener
	remaining := l.pending[:0]
	for _, listener := range l.pending {
		if listener.interest&^l.available == 0 {
			fired = append(fired, listener)
		} else {
			remaining = append(remaining, listener)
		}
	}
	l.pending = remaining
	sort.SliceStable(fired, func(i, j int) bool {
		left, right := fired[i], fired[j]
		if left.interest.count() != right.interest.count() {
			return left.interest.count() < right.interest.count()
		}
		if left.interest.highest() != right.interest.highest() {
			return left.interest.highest() < right.interest.highest()
		}
		return left.seq < right.seq
	})
	return fired
}

// AddListener registers fn to be called exactly once when every property in
// interest is available. If they already are, fn is called synchronously.
func (l *Log) AddListener(interest Property, fn func(*Log)) {
	l.mu.Lock()
	if interest&^l.available == 0 {
		l.mu.Unlock()
		fn(l)
		return
	}
	l.pending = append(l.pending, &pendingListener{interest: interest, seq: l.nextSeq, fn: fn})
	l.nextSeq++
	l.mu.Unlock()
}

// WhenAvailable returns a channel that receives l once every property in
// interest is available.
func (l *Log) WhenAvailable(interest Property) <-chan *Log {
	ch := make(chan *Log, 1)
	l.AddListener(interest, func(log *Log) { ch <- log })
	return ch
}

// WhenComplete returns a channel that receives l once the exchange is fully
// complete.
func (l *Log) WhenComplete() <-chan *Log {
	return l.WhenAvailable(AllProperties)
}

// IsAvailable reports whether every property in props is available.
func (l *Log) IsAvailable(props Property) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return props&^l.available == 0
}

// IsRequestComplete reports whether all request-side properties are
// available.
func (l *Log) IsRequestComplete() bool {
	return l.IsAvailable(RequestProperties)
}

// IsComplete reports whether all properties are available.
func (l *Log) IsComplete() bool {
	return l.IsAvailable(AllProperties)
}

// Scheme returns the exchange scheme.
func (l *Log) Scheme() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyScheme == 0 {
		return "", &AvailabilityError{Property: PropertyScheme}
	}
	return l.scheme, nil
}

// RequestHeaders returns the request headers.
func (l *Log) RequestHeaders() (*ferry.Headers, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyRequestHeaders == 0 {
		return nil, &AvailabilityError{Property: PropertyRequestHeaders}
	}
	return l.requestHeaders, nil
}

// RequestTrailers returns the request trailers.
func (l *Log) RequestTrailers() (*ferry.Headers, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyRequestTrailers == 0 {
		return nil, &AvailabilityError{Property: PropertyRequestTrailers}
	}
	return l.requestTrailers, nil
}

// RequestCause returns the failure the request side ended with, or nil.
func (l *Log) RequestCause() (error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyRequestComplete == 0 {
		return nil, &AvailabilityError{Property: PropertyRequestComplete}
	}
	return l.requestCause, nil
}

// ResponseHeaders returns the response headers.
func (l *Log) ResponseHeaders() (*ferry.Headers, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyResponseHeaders == 0 {
		return nil, &AvailabilityError{Property: PropertyResponseHeaders}
	}
	return l.responseHeaders, nil
}

// ResponseTrailers returns the response trailers.
func (l *Log) ResponseTrailers() (*ferry.Headers, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyResponseTrailers == 0 {
		return nil, &AvailabilityError{Property: PropertyResponseTrailers}
	}
	return l.responseTrailers, nil
}

// ResponseCause returns the failure the response side ended with, or nil.
func (l *Log) ResponseCause() (error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyResponseComplete == 0 {
		return nil, &AvailabilityError{Property: PropertyResponseComplete}
	}
	return l.responseCause, nil
}

// ResponseLength returns the total response body length in bytes.
func (l *Log) ResponseLength() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available&PropertyResponseComplete == 0 {
		return 0, &AvailabilityError{Property: PropertyResponseComplete}
	}
	return l.responseLength, nil
}

// NewChild creates a Log for one derived call (such as a retry attempt) and
// attaches it to l. The parent is not considered complete when a child
// completes; completion must be signaled on the parent directly or
// propagated explicitly with PropagateResponseEndFrom.
func (l *Log) NewChild() *Log {
	child := New()
	l.mu.Lock()
	l.children = append(l.children, child)
	l.mu.Unlock()
	return child
}

// Children returns the attached child logs in attachment order.
func (l *Log) Children() []*Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	children := make([]*Log, len(l.children))
	copy(children, l.children)
	return children
}

// PropagateResponseEndFrom arranges for the given child's response side to
// complete this Log once the child completes. Used when the last retry
// attempt's outcome becomes the logical call's outcome.
func (l *Log) PropagateResponseEndFrom(child *Log) {
	child.AddListener(ResponseProperties, func(completed *Log) {
		if headers, err := completed.ResponseHeaders(); err == nil && headers.Status() != 0 {
			l.SetResponseHeaders(headers)
		}
		if trailers, err := completed.ResponseTrailers(); err == nil && trailers.Len() > 0 {
			l.SetResponseTrailers(trailers)
		}
		if n, err := completed.ResponseLength(); err == nil && n > 0 {
			l.IncreaseResponseLength(int(n))
		}
		cause, _ := completed.ResponseCause()
		l.EndResponse(cause)
	})
}
