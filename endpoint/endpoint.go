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

// Package endpoint provides dynamic, observable collections of network
// endpoints. A service discovery backend feeds a Dynamic group with full
// membership snapshots; Composite and OrElse compose groups without caring
// where their members come from. A selection layer (load balancer) consumes
// the Group contract to pick one Endpoint per attempt.
package endpoint

import (
	"net"
	"strconv"
)

// Endpoint identifies a single network destination. Endpoints are immutable
// values compared by value.
type Endpoint struct {
	Host   string
	Port   int
	Weight int
}

// New returns an Endpoint for the given host and port with the default
// weight of 1.
func New(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port, Weight: 1}
}

// Parse parses a "host:port" pair into an Endpoint with the default weight.
func Parse(hostPort string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, err
	}
	return New(host, port), nil
}

// WithWeight returns a copy of e with the given weight.
func (e Endpoint) WithWeight(weight int) Endpoint {
	e.Weight = weight
	return e
}

// HostPort returns the endpoint in "host:port" form.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.HostPort()
}
