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

// Package ferry provides the client-side request lifecycle core of an HTTP
// RPC framework: the object model for streamed HTTP exchanges, the Client
// contract, and the option/decorator composition that the other packages in
// this module build on.
//
// The interesting machinery lives in the sub-packages:
//
//   - endpoint: dynamic, observable, mergeable endpoint groups that a
//     selection layer draws targets from.
//   - backoff: retry delay policies.
//   - retry: a retrying Client decorator that evaluates a rule against each
//     attempt's outcome and rebudgets timeouts across attempts.
//   - exchange: the producer/consumer state machine that drives one streamed
//     response through a multiplexed transport.
//   - reqlog: a structured, partially-observable log of one exchange.
//
// Serialization codecs, the wire-level frame encoder, TLS, and service
// discovery backends are deliberately not part of this module. They interact
// with it exclusively through the interfaces defined here and in the
// sub-packages.
package ferry
