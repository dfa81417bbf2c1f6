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
	"io"
	"strings"
)

// Object is one element of a streamed HTTP message: headers, a chunk of body
// data, or trailers. Codec layers produce Objects; this module treats their
// contents opaquely and only looks at framing concerns such as status
// presence and end-of-stream placement.
type Object interface {
	// EndOfStream reports whether this object closes the stream it belongs to.
	EndOfStream() bool
}

// Releasable is implemented by Objects whose payload is backed by a pooled
// or reference-counted buffer. The exchange pipeline releases such objects
// when it discards them without writing them to the transport.
type Releasable interface {
	Release()
}

// Headers is a set of HTTP/2-style headers, optionally carrying a status.
// A Headers with no status (Status() == 0) represents trailers. Header names
// are lower-cased on insertion, mirroring HTTP/2 field conventions.
//
// Headers values are not safe for concurrent mutation; build them fully
// before sharing.
type Headers struct {
	status int
	fields map[string][]string
	order  []string
	eos    bool
}

// NewHeaders returns a new Headers carrying the given status code.
func NewHeaders(status int) *Headers {
	return &Headers{status: status, fields: map[string][]string{}}
}

// NewTrailers returns a new Headers with no status, representing trailers.
func NewTrailers() *Headers {
	return &Headers{fields: map[string][]string{}}
}

// Status returns the status code, or 0 if this Headers carries none.
func (h *Headers) Status() int {
	return h.status
}

// IsInformational reports whether the status is in the 1xx class.
func (h *Headers) IsInformational() bool {
	return h.status >= 100 && h.status < 200
}

// Get returns the first value associated with the given header name, or ""
// if the header is absent.
func (h *Headers) Get(name string) string {
	values := h.fields[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns all values associated with the given header name.
func (h *Headers) Values(name string) []string {
	return h.fields[strings.ToLower(name)]
}

// Set replaces all values of the given header name with the single given
// value. It returns h to allow chaining during construction.
func (h *Headers) Set(name, value string) *Headers {
	name = strings.ToLower(name)
	if _, ok := h.fields[name]; !ok {
		h.order = append(h.order, name)
	}
	h.fields[name] = []string{value}
	return h
}

// Add appends a value for the given header name, preserving existing values.
func (h *Headers) Add(name, value string) *Headers {
	name = strings.ToLower(name)
	if _, ok := h.fields[name]; !ok {
		h.order = append(h.order, name)
	}
	h.fields[name] = append(h.fields[name], value)
	return h
}

// Names returns the header names in insertion order.
func (h *Headers) Names() []string {
	names := make([]string, len(h.order))
	copy(names, h.order)
	return names
}

// Len returns the number of distinct header names.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	clone := &Headers{
		status: h.status,
		fields: make(map[string][]string, len(h.fields)),
		order:  make([]string, len(h.order)),
		eos:    h.eos,
	}
	copy(clone.order, h.order)
	for name, values := range h.fields {
		dup := make([]string, len(values))
		copy(dup, values)
		clone.fields[name] = dup
	}
	return clone
}

// WithEndOfStream returns a copy of h that closes the stream.
func (h *Headers) WithEndOfStream() *Headers {
	clone := h.Clone()
	clone.eos = true
	return clone
}

// EndOfStream implements Object.
func (h *Headers) EndOfStream() bool {
	return h.eos
}

// Data is a chunk of message body. The zero value is an empty chunk.
type Data struct {
	bytes []byte
	eos   bool
}

// NewData returns a Data wrapping the given bytes. The Data takes ownership
// of the slice; callers must not mutate it afterwards.
func NewData(bytes []byte) Data {
	return Data{bytes: bytes}
}

// EmptyLastData is an empty Data that closes the stream, used to terminate
// a response whose producer completed without an explicit end-of-stream.
func EmptyLastData() Data {
	return Data{eos: true}
}

// Bytes returns the payload. Callers must not mutate the returned slice.
func (d Data) Bytes() []byte {
	return d.bytes
}

// Len returns the payload length in bytes.
func (d Data) Len() int {
	return len(d.bytes)
}

// WithEndOfStream returns a copy of d that closes the stream.
func (d Data) WithEndOfStream() Data {
	d.eos = true
	return d
}

// EndOfStream implements Object.
func (d Data) EndOfStream() bool {
	return d.eos
}

// Request describes one logical outgoing request.
type Request struct {
	Method  string
	Path    string
	Headers *Headers
	Body    []byte
}

// Response is a stream of Objects making up one response: headers first,
// then data, then optional trailers. Recv returns io.EOF after the last
// object. Responses are consumed by at most one goroutine at a time.
type Response interface {
	Recv() (Object, error)
}

// NewResponse returns an in-memory Response yielding the given objects in
// order, then io.EOF.
func NewResponse(objects ...Object) Response {
	return &objectsResponse{objects: objects}
}

type objectsResponse struct {
	objects []Object
	next    int
}

func (r *objectsResponse) Recv() (Object, error) {
	if r.next >= len(r.objects) {
		return nil, io.EOF
	}
	obj := r.objects[r.next]
	r.next++
	return obj, nil
}

// ReplayResponse returns a Response that yields the given prefix of already
// consumed objects before handing over to the remainder of the original
// stream. The retry engine uses this to pass a buffered response through to
// the caller unmodified.
func ReplayResponse(prefix []Object, rest Response) Response {
	return &replayResponse{prefix: prefix, rest: rest}
}

type replayResponse struct {
	prefix []Object
	next   int
	rest   Response
}

func (r *replayResponse) Recv() (Object, error) {
	if r.next < len(r.prefix) {
		obj := r.prefix[r.next]
		r.next++
		return obj, nil
	}
	if r.rest == nil {
		return nil, io.EOF
	}
	return r.rest.Recv()
}
