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
	"time"

	"go.uber.org/zap"

	"github.com/ferryrpc/ferry/endpoint"
)

// Client executes one logical request and returns its streamed response.
// Implementations are typically transport-facing; decorators such as the
// retry engine wrap a Client to add behavior.
type Client interface {
	Execute(ctx context.Context, req *Request) (Response, error)
}

// ClientFunc adapts an ordinary function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request) (Response, error)

// Execute implements Client.
func (f ClientFunc) Execute(ctx context.Context, req *Request) (Response, error) {
	return f(ctx, req)
}

// Decorator transforms one Client into another, typically by wrapping it.
type Decorator func(Client) Client

// Decorate applies the given decorators to the client in registration order:
// the first decorator wraps the client directly and the last one becomes the
// outermost layer. Composition happens once, at construction time; there is
// no per-request dispatch through the decorator list.
func Decorate(client Client, decorators ...Decorator) Client {
	for _, decorate := range decorators {
		client = decorate(client)
	}
	return client
}

// ClientOption is an option used to customize the behavior of a client
// built from this module's components.
type ClientOption interface {
	apply(*Options)
}

// WithDecorator adds a decorator to the client's decorator chain. Unlike
// most options, repeated use composes: every decorator registered this way
// is applied, in registration order.
func WithDecorator(decorator Decorator) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		opts.Decorators = append(opts.Decorators, decorator)
	})
}

// WithHeader sets a default header sent with every request. Setting the
// same header name again replaces the earlier value; distinct names
// accumulate.
func WithHeader(name, value string) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		opts.Headers.Set(name, value)
	})
}

// WithHeaders merges all the given headers into the client's default
// headers, with the same replace-by-name semantics as WithHeader.
func WithHeaders(headers *Headers) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		for _, name := range headers.Names() {
			values := headers.Values(name)
			opts.Headers.Set(name, values[0])
			for _, value := range values[1:] {
				opts.Headers.Add(name, value)
			}
		}
	})
}

// WithEndpointGroup configures the endpoint group that attempts resolve
// their target from.
func WithEndpointGroup(group endpoint.Group) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		opts.Group = group
	})
}

// WithResponseTimeout configures how long to wait for a complete response
// on one exchange. Zero means no timeout.
func WithResponseTimeout(timeout time.Duration) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		opts.ResponseTimeout = timeout
	})
}

// WithLogger configures the logger used by components built from these
// options. If not set, logging is disabled.
func WithLogger(logger *zap.Logger) ClientOption {
	return clientOptionFunc(func(opts *Options) {
		opts.Logger = logger
	})
}

type clientOptionFunc func(*Options)

func (f clientOptionFunc) apply(opts *Options) {
	f(opts)
}

// Options is the merged result of applying ClientOptions. Building Options
// from a base and overlaying more options is equivalent to applying the
// union of both option lists in registration order.
type Options struct {
	Decorators      []Decorator
	Headers         *Headers
	Group           endpoint.Group
	ResponseTimeout time.Duration
	Logger          *zap.Logger
}

// BuildOptions returns a new Options with the given options applied on top
// of base. base may be nil; it is never mutated.
func BuildOptions(base *Options, options ...ClientOption) *Options {
	opts := &Options{Headers: NewHeaders(0)}
	if base != nil {
		opts.Decorators = append(opts.Decorators, base.Decorators...)
		if base.Headers != nil {
			opts.Headers = base.Headers.Clone()
		}
		opts.Group = base.Group
		opts.ResponseTimeout = base.ResponseTimeout
		opts.Logger = base.Logger
	}
	for _, opt := range options {
		opt.apply(opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}
