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

package exchange

import (
	"golang.org/x/net/http2"

	"github.com/ferryrpc/ferry"
)

// Completion reports the asynchronous outcome of one transport write. It
// delivers exactly one value: nil on success, the write failure otherwise.
type Completion <-chan error

// CompletedWrite returns a Completion that already carries the given
// outcome. Transport implementations that write synchronously, and tests,
// use it to satisfy the Writer contract.
func CompletedWrite(err error) Completion {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// Writer is the object-level surface of the wire codec/frame encoder, which
// lives outside this module. Writes for one stream must be performed in
// call order. The frame layout behind these calls is the encoder's concern.
type Writer interface {
	// WriteHeaders writes a headers (or trailers) block on the stream.
	WriteHeaders(streamID uint32, headers *ferry.Headers, endOfStream bool) Completion

	// WriteData writes one chunk of body data on the stream.
	WriteData(streamID uint32, data ferry.Data, endOfStream bool) Completion

	// WriteReset resets the stream with the given error code. Used when a
	// response can no longer be completed normally after bytes were sent.
	WriteReset(streamID uint32, code http2.ErrCode) Completion
}

// Source is the upstream producer of one response's objects. The Pipeline
// requests exactly one object at a time and requests the next one only
// after the previous write completed successfully.
type Source interface {
	// Request asks the producer to deliver up to n more objects.
	Request(n int)

	// Cancel stops production. Objects delivered after Cancel are discarded.
	Cancel()
}

// Sink receives the objects of one response from a Source. Pipeline
// implements Sink. Calls into a Sink for one exchange must be sequential;
// the producer must not deliver concurrently.
type Sink interface {
	// OnSubscribe attaches the producer. The Sink starts the exchange's
	// timeout clock and issues the first demand here.
	OnSubscribe(source Source)

	// OnNext delivers one object: headers, data, or trailers.
	OnNext(obj ferry.Object)

	// OnError signals that the producer failed. Terminal.
	OnError(err error)

	// OnComplete signals that the producer finished normally. Terminal.
	OnComplete()
}
