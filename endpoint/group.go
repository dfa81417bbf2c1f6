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

package endpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by AwaitInitialEndpoints when the group is closed
// before its initial membership is known. It is a distinguishable
// cancellation, not a generic failure.
var ErrClosed = errors.New("endpoint: group closed")

// Group is an observable collection of Endpoints.
//
// Endpoints never blocks on network I/O and never fails: it returns the
// latest consistent (possibly slightly stale) snapshot, which may be empty.
// The returned slice is an immutable published snapshot; callers must not
// mutate it.
//
// Listeners registered with AddListener are invoked with the new full
// snapshot on every membership change. Registration and removal are safe to
// call concurrently with notification. A listener always observes a
// complete snapshot, never a partially merged one.
type Group interface {
	// Endpoints returns the latest membership snapshot.
	Endpoints() []Endpoint

	// AddListener registers a callback invoked with the full new snapshot on
	// every membership change. The returned function removes the listener.
	AddListener(listener func([]Endpoint)) (remove func())

	// WhenReady returns a channel that is closed once at least one
	// membership computation has completed, even if it yielded no endpoints.
	WhenReady() <-chan struct{}

	// AwaitInitialEndpoints waits until the initial membership is known and
	// returns it. It returns ErrClosed if the group is closed first, or the
	// context's error if the context is done first.
	AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error)

	// Close releases the group's resources. It is idempotent. Composed
	// groups close their children best-effort and return the first error
	// encountered after attempting to close all of them.
	Close() error
}

// OrElse returns a view that prefers primary and falls through to fallback
// only when primary's snapshot is empty at query time. The preference is
// evaluated per call, never sticky.
func OrElse(primary, fallback Group) Group {
	return newOrElseGroup(primary, fallback)
}

// listeners is an observer registry publishing immutable snapshots. Notify
// never runs while the registry lock is held, so a listener may add or
// remove listeners without deadlocking.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func([]Endpoint)
}

func (l *listeners) add(fn func([]Endpoint)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = map[int]func([]Endpoint){}
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(snapshot []Endpoint) {
	l.mu.Lock()
	fns := make([]func([]Endpoint), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// readiness tracks the one-time transition to "initial endpoints known" and
// the one-time transition to "closed".
type readiness struct {
	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newReadiness() readiness {
	return readiness{ready: make(chan struct{}), closed: make(chan struct{})}
}

func (r *readiness) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *readiness) markClosed() {
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *readiness) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func await(ctx context.Context, r *readiness, group Group) ([]Endpoint, error) {
	select {
	case <-r.ready:
		return group.Endpoints(), nil
	default:
	}
	select {
	case <-r.ready:
		return group.Endpoints(), nil
	case <-r.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewStatic returns a Group with a fixed membership that never changes.
func NewStatic(endpoints ...Endpoint) Group {
	snapshot := make([]Endpoint, len(endpoints))
	copy(snapshot, endpoints)
	g := &staticGroup{readiness: newReadiness(), snapshot: snapshot}
	g.markReady()
	return g
}

type staticGroup struct {
	readiness
	snapshot []Endpoint
}

func (g *staticGroup) Endpoints() []Endpoint {
	return g.snapshot
}

func (g *staticGroup) AddListener(func([]Endpoint)) (remove func()) {
	// Static membership never changes, so there is nothing to observe.
	return func() {}
}

func (g *staticGroup) WhenReady() <-chan struct{} {
	return g.ready
}

func (g *staticGroup) AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error) {
	return await(ctx, &g.readiness, g)
}

func (g *staticGroup) Close() error {
	g.markClosed()
	return nil
}

// Dynamic is the generic primitive a service discovery backend feeds with
// membership snapshots. Each SetEndpoints call must supply the entire
// membership, never a delta, mirroring how resolvers report result sets.
type Dynamic struct {
	readiness
	listeners
	snapshot atomic.Pointer[[]Endpoint]
}

var _ Group = (*Dynamic)(nil)

// NewDynamic returns a Dynamic group with no endpoints. The group is not
// ready until the first SetEndpoints call.
func NewDynamic() *Dynamic {
	g := &Dynamic{readiness: newReadiness()}
	empty := make([]Endpoint, 0)
	g.snapshot.Store(&empty)
	return g
}

// SetEndpoints replaces the group's membership with the given full snapshot
// and notifies listeners. The first call marks the group ready.
func (g *Dynamic) SetEndpoints(endpoints []Endpoint) {
	if g.isClosed() {
		return
	}
	snapshot := make([]Endpoint, len(endpoints))
	copy(snapshot, endpoints)
	g.snapshot.Store(&snapshot)
	g.markReady()
	g.notify(snapshot)
}

// Endpoints implements Group.
func (g *Dynamic) Endpoints() []Endpoint {
	return *g.snapshot.Load()
}

// AddListener implements Group.
func (g *Dynamic) AddListener(listener func([]Endpoint)) (remove func()) {
	return g.add(listener)
}

// WhenReady implements Group.
func (g *Dynamic) WhenReady() <-chan struct{} {
	return g.ready
}

// AwaitInitialEndpoints implements Group.
func (g *Dynamic) AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error) {
	return await(ctx, &g.readiness, g)
}

// Close implements Group.
func (g *Dynamic) Close() error {
	g.markClosed()
	return nil
}
