// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package consistenthash provides the stateless fallback router used
// when the flow table has no available slot for a new flow (a
// bucket-full miss): the packet still needs a backend assignment, just
// without the per-flow stickiness the hash table would otherwise buy it
// across a weight change. Rendezvous (highest-random-weight) hashing
// gives the closest thing to stickiness a stateless scheme can: a given
// flow key maps to the same backend as long as that backend stays in
// the set, regardless of how many other backends come and go.
package consistenthash

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	rendezvous "github.com/dgryski/go-rendezvous"
)

// Router wraps a rendezvous.Rendezvous with the mutex the original
// package leaves to its caller: Add/Remove rebuild internal state and
// must not race a concurrent Route.
type Router struct {
	mu   sync.RWMutex
	rend *rendezvous.Rendezvous
}

// NewRouter builds a fallback router over the given backend identifiers
// (e.g. "as:3" or a dotted-quad address), in no particular order.
func NewRouter(backends []string) *Router {
	return &Router{rend: rendezvous.New(backends, xxhash.Sum64String)}
}

// Route returns the backend identifier a flow key should land on.
// The same flowKey always lands on the same backend while the backend
// set is unchanged. A flow installed in the flow table gets its backend
// from the alias table instead, so the two routes need not agree.
func (r *Router) Route(flowKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rend.Lookup(flowKey)
}

// Add registers a newly healthy backend.
func (r *Router) Add(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rend.Add(backend)
}

// Remove retires a backend that failed health checking or was drained.
func (r *Router) Remove(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rend.Remove(backend)
}
