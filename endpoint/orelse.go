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

func newOrElseGroup(primary, fallback Group) Group {
	g := &orElseGroup{
		readiness: newReadiness(),
		primary:   primary,
		fallback:  fallback,
	}
	relay := func([]Endpoint) {
		g.notify(g.Endpoints())
	}
	g.removers = append(g.removers, primary.AddListener(relay))
	g.removers = append(g.removers, fallback.AddListener(relay))
	primaryReady := primary.WhenReady()
	fallbackReady := fallback.WhenReady()
	go func() {
		// The fallback only matters when the primary has no members, so the
		// view is not meaningfully ready until both sides have reported.
		select {
		case <-primaryReady:
		case <-g.closed:
			return
		}
		select {
		case <-fallbackReady:
			g.markReady()
		case <-g.closed:
		}
	}()
	return g
}

type orElseGroup struct {
	readiness
	listeners
	primary  Group
	fallback Group
	removers []func()
	closeErr error
}

// Endpoints prefers the primary group's snapshot and falls through to the
// fallback only when the primary is empty right now.
func (g *orElseGroup) Endpoints() []Endpoint {
	if endpoints := g.primary.Endpoints(); len(endpoints) > 0 {
		return endpoints
	}
	return g.fallback.Endpoints()
}

func (g *orElseGroup) AddListener(listener func([]Endpoint)) (remove func()) {
	return g.add(listener)
}

func (g *orElseGroup) WhenReady() <-chan struct{} {
	return g.ready
}

func (g *orElseGroup) AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error) {
	return await(ctx, &g.readiness, g)
}

func (g *orElseGroup) Close() error {
	g.closeOnce.Do(func() {
		for _, remove := range g.removers {
			remove()
		}
		var firstErr atomic.Pointer[error]
		grp := new(errgroup.Group)
		for _, child := range []Group{g.primary, g.fallback} {
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
