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
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// NewComposite returns a Group that merges the memberships of all the given
// groups. The merged snapshot is the concatenation of each child's snapshot
// in registration order. Any child's change notification triggers an eager
// recompute and a notification to the composite's own listeners carrying the
// full merged snapshot.
//
// Children must not panic inside Endpoints; a child whose backend failed is
// expected to report zero or stale endpoints instead.
//
// Closing the composite closes all children best-effort and reports the
// first error encountered. The composite does not own its children
// exclusively; closing is idempotent everywhere.
func NewComposite(groups ...Group) Group {
	children := make([]Group, len(groups))
	copy(children, groups)
	g := &compositeGroup{
		readiness: newReadiness(),
		children:  children,
	}
	empty := make([]Endpoint, 0)
	g.merged.Store(&empty)
	g.dirty.Store(true)
	for _, child := range children {
		remove := child.AddListener(func([]Endpoint) {
			// Recompute eagerly so listener-driven consumers always observe
			// a fresh merge. Poll-based consumers tolerate bounded staleness.
			g.dirty.Store(true)
			g.notify(g.Endpoints())
		})
		g.removers = append(g.removers, remove)
		ready := child.WhenReady()
		go func() {
			select {
			case <-ready:
				g.markReady()
			case <-g.closed:
			}
		}()
	}
	return g
}

type compositeGroup struct {
	readiness
	listeners
	children []Group
	removers []func()

	merged atomic.Pointer[[]Endpoint]
	dirty  atomic.Bool
	// closeErr is written inside closeOnce.Do and read only after Do
	// returns, which gives every Close caller a happens-before edge.
	closeErr error
}

func (g *compositeGroup) Endpoints() []Endpoint {
	if !g.dirty.Load() {
		return *g.merged.Load()
	}
	if !g.dirty.CompareAndSwap(true, false) {
		// Another goroutine is merging right now. Returning the previous
		// snapshot keeps this call non-blocking; groups are allowed to lag
		// a change by one merge cycle.
		return *g.merged.Load()
	}
	var merged []Endpoint
	for _, child := range g.children {
		merged = append(merged, child.Endpoints()...)
	}
	if merged == nil {
		merged = make([]Endpoint, 0)
	}
	g.merged.Store(&merged)
	return merged
}

func (g *compositeGroup) AddListener(listener func([]Endpoint)) (remove func()) {
	return g.add(listener)
}

func (g *compositeGroup) WhenReady() <-chan struct{} {
	return g.ready
}

func (g *compositeGroup) AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error) {
	return await(ctx, &g.readiness, g)
}

func (g *compositeGroup) Close() error {
	g.closeOnce.Do(func() {
		for _, remove := range g.removers {
			remove()
		}
		var firstErr atomic.Pointer[error]
		grp := new(errgroup.Group)
		for _, child := range g.children {
			grp.Go(func() error {
				if err := child.Close(); err != nil {
					firstErr.CompareAndSwap(nil, &err)
				}
				return nil
			})
		}
		_ = grp.Wait()
		if errPtr := firstErr.Load(); errPtr != nil {
			g.closeErr = *errPtr
		}
		close(g.closed)
	})
	return g.closeErr
}
