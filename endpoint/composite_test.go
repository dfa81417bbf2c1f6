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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingGroup is a ready, empty group whose Close always fails.
type failingGroup struct {
	readiness
	listeners
	closeErr error
}

func newFailingGroup(closeErr error) *failingGroup {
	g := &failingGroup{readiness: newReadiness(), closeErr: closeErr}
	g.markReady()
	return g
}

func (g *failingGroup) Endpoints() []Endpoint { return nil }

func (g *failingGroup) AddListener(listener func([]Endpoint)) (remove func()) {
	return g.add(listener)
}

func (g *failingGroup) WhenReady() <-chan struct{} { return g.ready }

func (g *failingGroup) AwaitInitialEndpoints(ctx context.Context) ([]Endpoint, error) {
	return await(ctx, &g.readiness, g)
}

func (g *failingGroup) Close() error { return g.closeErr }

func TestCompositeMergesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	first := NewStatic(New("a", 1), New("b", 2))
	second := NewDynamic()
	second.SetEndpoints([]Endpoint{New("c", 3)})
	third := NewStatic()

	group := NewComposite(first, second, third)
	defer func() { require.NoError(t, group.Close()) }()

	assert.Equal(t, []Endpoint{New("a", 1), New("b", 2), New("c", 3)}, group.Endpoints())

	second.SetEndpoints([]Endpoint{New("c", 3), New("d", 4)})
	assert.Equal(t, []Endpoint{New("a", 1), New("b", 2), New("c", 3), New("d", 4)}, group.Endpoints())
}

func TestCompositeNotifiesFullSnapshot(t *testing.T) {
	t.Parallel()

	first := NewDynamic()
	second := NewDynamic()
	group := NewComposite(first, second)
	defer func() { require.NoError(t, group.Close()) }()

	var mu sync.Mutex
	var snapshots [][]Endpoint
	group.AddListener(func(endpoints []Endpoint) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, endpoints)
	})

	first.SetEndpoints([]Endpoint{New("a", 1)})
	second.SetEndpoints([]Endpoint{New("b", 2)})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	assert.Equal(t, []Endpoint{New("a", 1)}, snapshots[0])
	// A change in any child delivers the whole merged view, not a delta.
	assert.Equal(t, []Endpoint{New("a", 1), New("b", 2)}, snapshots[1])
}

func TestCompositeReadyWhenAnyChildReady(t *testing.T) {
	t.Parallel()

	slow := NewDynamic()
	fast := NewDynamic()
	group := NewComposite(slow, fast)
	defer func() { require.NoError(t, group.Close()) }()

	select {
	case <-group.WhenReady():
		t.Fatal("composite must not be ready before any child is")
	default:
	}

	fast.SetEndpoints([]Endpoint{New("a", 1)})
	select {
	case <-group.WhenReady():
	case <-time.After(time.Second):
		t.Fatal("composite did not become ready after a child did")
	}

	endpoints, err := group.AwaitInitialEndpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{New("a", 1)}, endpoints)
}

func TestCompositeCloseClosesChildren(t *testing.T) {
	t.Parallel()

	first := NewDynamic()
	second := NewDynamic()
	group := NewComposite(first, second)
	require.NoError(t, group.Close())

	// Children are closed; their updates are ignored afterwards.
	first.SetEndpoints([]Endpoint{New("a", 1)})
	assert.Empty(t, first.Endpoints())
	require.NoError(t, group.Close())
}

func TestCompositeCloseReportsChildError(t *testing.T) {
	t.Parallel()

	childErr := errors.New("backend teardown failed")
	group := NewComposite(NewStatic(New("a", 1)), newFailingGroup(childErr))
	require.ErrorIs(t, group.Close(), childErr)
	// Idempotent: the same result on repeated calls.
	require.ErrorIs(t, group.Close(), childErr)
}

func TestCompositeStopsRelayingAfterClose(t *testing.T) {
	t.Parallel()

	child := NewDynamic()
	group := NewComposite(child)
	notified := 0
	group.AddListener(func([]Endpoint) { notified++ })
	require.NoError(t, group.Close())
	child.SetEndpoints([]Endpoint{New("a", 1)})
	assert.Zero(t, notified)
}

func TestOrElsePrefersPrimary(t *testing.T) {
	t.Parallel()

	primary := NewDynamic()
	fallback := NewStatic(New("fallback", 1))
	group := OrElse(primary, fallback)
	defer func() { require.NoError(t, group.Close()) }()

	// Primary is empty: the fallback's members show through.
	assert.Equal(t, []Endpoint{New("fallback", 1)}, group.Endpoints())

	primary.SetEndpoints([]Endpoint{New("primary", 1)})
	assert.Equal(t, []Endpoint{New("primary", 1)}, group.Endpoints())

	// The preference is evaluated per call; an emptied primary falls
	// through again.
	primary.SetEndpoints(nil)
	assert.Equal(t, []Endpoint{New("fallback", 1)}, group.Endpoints())
}

func TestOrElseReadyWhenBothReady(t *testing.T) {
	t.Parallel()

	primary := NewDynamic()
	fallback := NewDynamic()
	group := OrElse(primary, fallback)
	defer func() { require.NoError(t, group.Close()) }()

	primary.SetEndpoints([]Endpoint{New("primary", 1)})
	select {
	case <-group.WhenReady():
		t.Fatal("orElse must not be ready while the fallback is not")
	case <-time.After(20 * time.Millisecond):
	}

	fallback.SetEndpoints([]Endpoint{New("fallback", 1)})
	select {
	case <-group.WhenReady():
	case <-time.After(time.Second):
		t.Fatal("orElse did not become ready after both sides did")
	}
}

func TestOrElseRelaysChanges(t *testing.T) {
	t.Parallel()

	primary := NewDynamic()
	fallback := NewDynamic()
	group := OrElse(primary, fallback)
	defer func() { require.NoError(t, group.Close()) }()

	var mu sync.Mutex
	var snapshots [][]Endpoint
	group.AddListener(func(endpoints []Endpoint) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, endpoints)
	})

	fallback.SetEndpoints([]Endpoint{New("fallback", 1)})
	primary.SetEndpoints([]Endpoint{New("primary", 1)})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	assert.Equal(t, []Endpoint{New("fallback", 1)}, snapshots[0])
	assert.Equal(t, []Endpoint{New("primary", 1)}, snapshots[1])
}
