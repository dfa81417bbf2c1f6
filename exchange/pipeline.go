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

// Package exchange drives one streamed response from its producer to the
// transport. The Pipeline enforces header/data/trailer ordering, applies the
// exchange's response timeout, and records exactly one completion to the
// exchange's request log no matter how many termination paths race.
package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ferryrpc/ferry"
	"github.com/ferryrpc/ferry/internal"
	"github.com/ferryrpc/ferry/reqlog"
)

// State is the position of a Pipeline in its response lifecycle.
type State int

const (
	// StateNeedsHeaders means no non-informational headers were produced yet.
	StateNeedsHeaders State = iota
	// StateNeedsDataOrTrailers means headers were written and the stream
	// awaits data or trailing headers.
	StateNeedsDataOrTrailers
	// StateDone is terminal. Late objects are drained and released.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNeedsHeaders:
		return "NEEDS_HEADERS"
	case StateNeedsDataOrTrailers:
		return "NEEDS_DATA_OR_TRAILING_HEADERS"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option customizes a Pipeline.
type Option interface {
	apply(*Pipeline)
}

// WithResponseTimeout sets the initial response timeout, armed when the
// producer subscribes. Zero means no timeout. The timeout may be changed
// mid-flight with SetTimeout.
func WithResponseTimeout(timeout time.Duration) Option {
	return optionFunc(func(p *Pipeline) {
		p.timeoutDuration = timeout
	})
}

// WithTimeoutHandler registers a handler invoked instead of the default
// failure response when the exchange times out.
func WithTimeoutHandler(handler func()) Option {
	return optionFunc(func(p *Pipeline) {
		p.timeoutHandler = handler
	})
}

// WithAccessLog registers a callback invoked exactly once per exchange with
// the finished request log, whether the exchange succeeded, failed, or
// timed out.
func WithAccessLog(accessLog func(*reqlog.Log)) Option {
	return optionFunc(func(p *Pipeline) {
		p.accessLog = accessLog
	})
}

// WithLogger sets the logger used for unexpected producer failures and
// transport write failures.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(p *Pipeline) {
		p.logger = logger
	})
}

type optionFunc func(*Pipeline)

func (f optionFunc) apply(p *Pipeline) {
	f(p)
}

// Pipeline is the per-exchange state machine between a response producer
// and the transport. It owns the exchange's single timeout timer and the
// write-once completion latch guarding log completion and the access-log
// callback.
//
// A Pipeline's Sink methods are serialized internally, so state transitions
// for one exchange never run concurrently even though many exchanges
// proceed in parallel on one connection.
type Pipeline struct {
	writer   Writer
	streamID uint32
	method   string
	log      *reqlog.Log

	timeoutDuration time.Duration
	timeoutHandler  func()
	accessLog       func(*reqlog.Log)
	logger          *zap.Logger
	clock           internal.Clock
	startTime       time.Time

	complete atomic.Bool

	mu      sync.Mutex
	state   State
	source  Source
	timeout internal.Timer
}

var _ Sink = (*Pipeline)(nil)

// New returns a Pipeline for one exchange. method is the request's HTTP
// method; HEAD responses always close the stream with their headers.
func New(writer Writer, streamID uint32, method string, log *reqlog.Log, opts ...Option) *Pipeline {
	p := &Pipeline{
		writer:   writer,
		streamID: streamID,
		method:   method,
		log:      log,
		logger:   zap.NewNop(),
		clock:    internal.NewRealClock(),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	p.startTime = p.clock.Now()
	return p
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OnSubscribe implements Sink. It arms the initial timeout and issues the
// first unit of demand.
func (p *Pipeline) OnSubscribe(source Source) {
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
	p.SetTimeout(p.timeoutDuration)
	source.Request(1)
}

// OnNext implements Sink.
func (p *Pipeline) OnNext(obj ferry.Object) {
	p.mu.Lock()
	switch p.state {
	case StateNeedsHeaders:
		headers, ok := obj.(*ferry.Headers)
		if !ok {
			p.mu.Unlock()
			p.failAndRespond(
				p.protocolViolation("produced data before headers"),
				http.StatusInternalServerError, http2.ErrCodeInternal)
			return
		}
		if headers.Status() == 0 {
			p.mu.Unlock()
			p.failAndRespond(
				p.protocolViolation("produced headers without a status"),
				http.StatusInternalServerError, http2.ErrCodeInternal)
			return
		}
		if headers.IsInformational() {
			// Informational headers pass through; the state keeps awaiting
			// the real headers.
			p.writeLocked(headers, false)
			p.mu.Unlock()
			return
		}
		p.log.SetResponseHeaders(headers)
		endOfStream := headers.EndOfStream()
		switch {
		case p.method == http.MethodHead:
			// HEAD responses close the stream with the headers even if the
			// producer did not say so.
			endOfStream = true
		case headers.Status() == http.StatusNoContent,
			headers.Status() == http.StatusResetContent,
			headers.Status() == http.StatusNotModified:
			// These statuses never carry content.
			endOfStream = true
		default:
			p.state = StateNeedsDataOrTrailers
		}
		p.writeLocked(headers, endOfStream)
		p.mu.Unlock()

	case StateNeedsDataOrTrailers:
		switch o := obj.(type) {
		case *ferry.Headers:
			if o.Status() != 0 {
				p.mu.Unlock()
				p.failAndRespond(
					p.protocolViolation("produced trailers carrying a status"),
					http.StatusInternalServerError, http2.ErrCodeInternal)
				return
			}
			// Trailing headers always end the stream.
			p.log.SetResponseTrailers(o)
			p.writeLocked(o, true)
			p.mu.Unlock()
		case ferry.Data:
			p.writeLocked(o, o.EndOfStream())
			p.mu.Unlock()
		default:
			p.mu.Unlock()
			p.failAndRespond(
				p.protocolViolation("produced an object that is neither headers nor data"),
				http.StatusInternalServerError, http2.ErrCodeInternal)
		}

	case StateDone:
		// A late or duplicate object from the producer is drained, not an
		// error. Release its payload without processing it.
		p.mu.Unlock()
		if releasable, ok := obj.(ferry.Releasable); ok {
			releasable.Release()
		}
	}
}

// OnError implements Sink. A failure carrying a StatusError responds with
// that status verbatim; anything else becomes an internal-error response.
func (p *Pipeline) OnError(err error) {
	var statusErr *ferry.StatusError
	if errors.As(err, &statusErr) {
		p.failAndRespond(err, statusErr.Code, http2.ErrCodeCancel)
		return
	}
	p.logger.Warn("unexpected error from response producer",
		zap.Uint32("stream_id", p.streamID), zap.Error(err))
	p.failAndRespond(&ferry.UpstreamError{Cause: err},
		http.StatusInternalServerError, http2.ErrCodeInternal)
}

// OnComplete implements Sink.
func (p *Pipeline) OnComplete() {
	p.mu.Lock()
	switch p.state {
	case StateDone:
		// Already terminated (end-of-stream write, failure, or timeout).
		p.mu.Unlock()
	case StateNeedsHeaders:
		p.mu.Unlock()
		p.logger.Warn("response producer completed without producing headers",
			zap.Uint32("stream_id", p.streamID))
		p.failAndRespond(
			p.protocolViolation("completed without producing headers"),
			http.StatusInternalServerError, http2.ErrCodeInternal)
	default:
		// The producer finished without an explicit end-of-stream; close
		// the stream with an empty final data frame.
		p.writeLocked(ferry.EmptyLastData(), true)
		p.mu.Unlock()
	}
}

// SetTimeout re-arms the exchange's single timeout timer with a new
// duration, measured from the start of the exchange. Supports dynamic
// reconfiguration mid-flight. A new deadline that already passed fires the
// timeout synchronously. Zero disables the timeout.
func (p *Pipeline) SetTimeout(timeout time.Duration) {
	p.mu.Lock()
	p.cancelTimeoutLocked()
	if timeout <= 0 || p.state == StateDone {
		p.mu.Unlock()
		return
	}
	remaining := timeout - p.clock.Since(p.startTime)
	if remaining > 0 {
		p.timeout = p.clock.AfterFunc(remaining, p.onTimeout)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.onTimeout()
}

func (p *Pipeline) onTimeout() {
	p.mu.Lock()
	if p.state == StateDone {
		p.mu.Unlock()
		return
	}
	handler := p.timeoutHandler
	p.mu.Unlock()
	if handler != nil {
		handler()
		return
	}
	p.failAndRespond(ferry.ErrTimeout, http.StatusServiceUnavailable, http2.ErrCodeInternal)
}

// writeLocked issues one transport write and schedules the post-write step.
// Caller must hold p.mu.
func (p *Pipeline) writeLocked(obj ferry.Object, endOfStream bool) {
	if endOfStream {
		p.setDoneLocked()
	}
	var completion Completion
	switch o := obj.(type) {
	case *ferry.Headers:
		completion = p.writer.WriteHeaders(p.streamID, o, endOfStream)
	case ferry.Data:
		p.log.IncreaseResponseLength(o.Len())
		completion = p.writer.WriteData(p.streamID, o, endOfStream)
	}
	go p.afterWrite(completion, endOfStream)
}

// afterWrite runs once the transport reports the write's outcome. A
// successful non-final write re-requests exactly one more object; this is
// what keeps production one-in-flight and back-pressured.
func (p *Pipeline) afterWrite(completion Completion, endOfStream bool) {
	err := <-completion
	if err == nil {
		if endOfStream && p.tryComplete() {
			p.log.EndResponse(nil)
			p.writeAccessLog()
		}
		p.mu.Lock()
		state := p.state
		source := p.source
		p.mu.Unlock()
		if source == nil {
			return
		}
		if state != StateDone {
			source.Request(1)
		} else {
			source.Cancel()
		}
		return
	}

	p.mu.Lock()
	p.setDoneLocked()
	source := p.source
	p.mu.Unlock()
	if source != nil {
		source.Cancel()
	}
	if p.tryComplete() {
		p.logger.Warn("transport write failed",
			zap.Uint32("stream_id", p.streamID), zap.Error(err))
		p.log.EndResponse(&ferry.WriteError{Cause: err})
		p.writeAccessLog()
	}
}

// failAndRespond terminates the exchange with the given cause. If nothing
// was written yet it synthesizes an error response with the given status;
// headers already flushed cannot be retracted, so it degrades to a stream
// reset instead.
func (p *Pipeline) failAndRespond(cause error, status int, code http2.ErrCode) {
	p.mu.Lock()
	if p.state == StateDone {
		p.mu.Unlock()
		return
	}
	wroteNothing := p.state == StateNeedsHeaders
	p.setDoneLocked()
	source := p.source
	var completion Completion
	if wroteNothing {
		headers := ferry.NewHeaders(status)
		p.log.SetResponseHeaders(headers)
		completion = p.writer.WriteHeaders(p.streamID, headers, true)
	} else {
		completion = p.writer.WriteReset(p.streamID, code)
	}
	p.mu.Unlock()
	if source != nil {
		source.Cancel()
	}
	go func() {
		<-completion
		if p.tryComplete() {
			p.log.EndResponse(cause)
			p.writeAccessLog()
		}
	}()
}

// setDoneLocked cancels the timeout and moves the state machine to its
// terminal state. The timer is always canceled before DONE is reached,
// through every path. Caller must hold p.mu.
func (p *Pipeline) setDoneLocked() {
	p.cancelTimeoutLocked()
	p.state = StateDone
}

func (p *Pipeline) cancelTimeoutLocked() {
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
}

// tryComplete claims the write-once completion latch. The first claimant
// performs the one-time finalization; racing losers are no-ops.
func (p *Pipeline) tryComplete() bool {
	return p.complete.CompareAndSwap(false, true)
}

func (p *Pipeline) writeAccessLog() {
	if p.accessLog != nil {
		p.accessLog(p.log)
	}
}

func (p *Pipeline) protocolViolation(detail string) error {
	return fmt.Errorf("%w: response producer %s", ferry.ErrProtocolViolation, detail)
}
