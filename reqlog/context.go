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

package reqlog

import "context"

type contextKey struct{}

// NewContext returns a context carrying the given Log. Components that
// derive calls (such as the retry engine) use it to scope child logs to
// individual attempts.
func NewContext(ctx context.Context, log *Log) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the Log carried by ctx, or nil.
func FromContext(ctx context.Context) *Log {
	log, _ := ctx.Value(contextKey{}).(*Log)
	return log
}
