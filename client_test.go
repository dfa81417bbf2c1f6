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

package ferry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferryrpc/ferry/endpoint"
)

// taggingDecorator appends its tag on the way in, so the recorded order is
// outermost first.
func taggingDecorator(tag string, order *[]string) Decorator {
	return func(delegate Client) Client {
		return ClientFunc(func(ctx context.Context, req *Request) (Response, error) {
			*order = append(*order, tag)
			return delegate.Execute(ctx, req)
		})
	}
}

func TestDecorate(t *testing.T) {
	t.Parallel()

	var order []string
	base := ClientFunc(func(context.Context, *Request) (Response, error) {
		order = append(order, "base")
		return NewResponse(), nil
	})

	// The last registered decorator is the outermost layer.
	client := Decorate(base,
		taggingDecorator("inner", &order),
		taggingDecorator("outer", &order),
	)
	_, err := client.Execute(context.Background(), &Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestBuildOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := BuildOptions(nil)
	require.NotNil(t, opts.Headers)
	assert.Zero(t, opts.Headers.Len())
	assert.Empty(t, opts.Decorators)
	assert.Nil(t, opts.Group)
	assert.Zero(t, opts.ResponseTimeout)
	assert.NotNil(t, opts.Logger, "logging defaults to a nop logger, not nil")
}

func TestBuildOptionsOverlay(t *testing.T) {
	t.Parallel()

	group := endpoint.NewStatic(endpoint.New("a", 1))
	base := BuildOptions(nil,
		WithHeader("authorization", "token one"),
		WithHeader("x-tenant", "acme"),
		WithResponseTimeout(time.Second),
		WithEndpointGroup(group),
	)

	overlaid := BuildOptions(base,
		WithHeader("authorization", "token two"),
		WithResponseTimeout(2*time.Second),
	)

	// Same-name headers replace, distinct names accumulate.
	assert.Equal(t, "token two", overlaid.Headers.Get("authorization"))
	assert.Equal(t, "acme", overlaid.Headers.Get("x-tenant"))
	assert.Equal(t, 2*time.Second, overlaid.ResponseTimeout)
	assert.Equal(t, group, overlaid.Group)

	// The base is never mutated by an overlay.
	assert.Equal(t, "token one", base.Headers.Get("authorization"))
	assert.Equal(t, time.Second, base.ResponseTimeout)
}

func TestBuildOptionsOverlayEqualsUnion(t *testing.T) {
	t.Parallel()

	first := []ClientOption{
		WithHeader("a", "1"),
		WithResponseTimeout(time.Second),
	}
	second := []ClientOption{
		WithHeader("a", "2"),
		WithHeader("b", "3"),
	}

	overlaid := BuildOptions(BuildOptions(nil, first...), second...)
	union := BuildOptions(nil, append(append([]ClientOption{}, first...), second...)...)

	assert.Equal(t, union.Headers.Get("a"), overlaid.Headers.Get("a"))
	assert.Equal(t, union.Headers.Get("b"), overlaid.Headers.Get("b"))
	assert.Equal(t, union.ResponseTimeout, overlaid.ResponseTimeout)
}

func TestWithDecoratorAccumulates(t *testing.T) {
	t.Parallel()

	var order []string
	base := BuildOptions(nil, WithDecorator(taggingDecorator("first", &order)))
	opts := BuildOptions(base, WithDecorator(taggingDecorator("second", &order)))
	require.Len(t, opts.Decorators, 2)

	client := Decorate(ClientFunc(func(context.Context, *Request) (Response, error) {
		return NewResponse(), nil
	}), opts.Decorators...)
	_, err := client.Execute(context.Background(), &Request{Method: "GET", Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestWithHeaders(t *testing.T) {
	t.Parallel()

	defaults := NewHeaders(0).
		Set("accept", "application/json").
		Add("accept-encoding", "gzip").
		Add("accept-encoding", "br")
	opts := BuildOptions(nil,
		WithHeader("accept", "text/plain"),
		WithHeaders(defaults),
	)

	assert.Equal(t, "application/json", opts.Headers.Get("accept"))
	assert.Equal(t, []string{"gzip", "br"}, opts.Headers.Values("accept-encoding"))
}

func TestWithLogger(t *testing.T) {
	t.Parallel()

	logger := zap.NewExample()
	opts := BuildOptions(nil, WithLogger(logger))
	assert.Same(t, logger, opts.Logger)
}
