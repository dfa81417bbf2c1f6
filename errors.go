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
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration value rejected at
	// construction time. Construction-time validation means requests never
	// fail because of bad configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProtocolViolation indicates a producer violated the
	// headers/data/trailers ordering of a streamed message. It fails the
	// single exchange it occurred on, never the whole connection.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTimeout indicates an exchange exceeded its response timeout.
	ErrTimeout = errors.New("response timeout")
)

// InvalidConfigf returns an error wrapping ErrInvalidConfig with details.
func InvalidConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// WriteError indicates a transport-level write failure. It terminates the
// exchange it occurred on and cancels the upstream producer.
type WriteError struct {
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("transport write failed: %v", e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// UpstreamError indicates the handler or service producing a response
// signaled failure. Unless the cause is a StatusError, it is surfaced as an
// internal-error response.
type UpstreamError struct {
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream producer failed: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// StatusError is a failure carrying an explicit HTTP status. When an
// upstream producer fails with a StatusError, the status is used verbatim
// for the synthesized response instead of a generic 500.
type StatusError struct {
	Code int
}

// NewStatusError returns a StatusError with the given status code.
func NewStatusError(code int) *StatusError {
	return &StatusError{Code: code}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.Code)
}
