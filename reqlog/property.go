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

import (
	"fmt"
	"math/bits"
	"strings"
)

// Property identifies one group of Log properties that becomes available
// together. Property values are bit flags and may be OR-ed to express
// interest in several groups at once.
type Property uint

const (
	// PropertyScheme covers the exchange's scheme (protocol and
	// serialization format).
	PropertyScheme Property = 1 << iota
	// PropertyRequestHeaders covers the request headers.
	PropertyRequestHeaders
	// PropertyRequestTrailers covers the request trailers.
	PropertyRequestTrailers
	// PropertyRequestComplete covers the request-side completion signal and
	// everything implied by it.
	PropertyRequestComplete
	// PropertyResponseHeaders covers the response headers.
	PropertyResponseHeaders
	// PropertyResponseTrailers covers the response trailers.
	PropertyResponseTrailers
	// PropertyResponseComplete covers the response-side completion signal,
	// the response cause, and the response length.
	PropertyResponseComplete
)

// RequestProperties is the set of all request-side properties.
const RequestProperties = PropertyScheme | PropertyRequestHeaders |
	PropertyRequestTrailers | PropertyRequestComplete

// ResponseProperties is the set of all response-side properties.
const ResponseProperties = PropertyResponseHeaders | PropertyResponseTrailers |
	PropertyResponseComplete

// AllProperties is the set of every property; a Log with all of them
// available is complete.
const AllProperties = RequestProperties | ResponseProperties

var propertyNames = map[Property]string{
	PropertyScheme:           "SCHEME",
	PropertyRequestHeaders:   "REQUEST_HEADERS",
	PropertyRequestTrailers:  "REQUEST_TRAILERS",
	PropertyRequestComplete:  "REQUEST_COMPLETE",
	PropertyResponseHeaders:  "RESPONSE_HEADERS",
	PropertyResponseTrailers: "RESPONSE_TRAILERS",
	PropertyResponseComplete: "COMPLETE",
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	var names []string
	for flag := PropertyScheme; flag <= PropertyResponseComplete; flag <<= 1 {
		if p&flag != 0 {
			names = append(names, propertyNames[flag])
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Property(%d)", uint(p))
	}
	return strings.Join(names, "|")
}

// count returns how many property groups p covers.
func (p Property) count() int {
	return bits.OnesCount(uint(p))
}

// highest returns the position of p's most significant flag, used to order
// request-side interests before response-side interests.
func (p Property) highest() int {
	return bits.Len(uint(p))
}

// AvailabilityError is returned when a Log property is read before its
// availability was signaled. This is distinct from a property that is
// available but empty.
type AvailabilityError struct {
	Property Property
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("reqlog: property %v is not available yet", e.Property)
}
