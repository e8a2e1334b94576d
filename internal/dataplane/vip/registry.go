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

package vip

import "sync"

// Registry holds every VIP a host process is currently load-balancing.
// Registration/lookup/teardown are safe for concurrent use across VIPs
// (a control-plane goroutine may add a VIP while a worker services
// another); HandlePacket on a single VIP is not, by design — see VIP's
// doc comment.
type Registry struct {
	vips sync.Map // uint32 -> *VIP
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a VIP under its own ID, replacing any VIP previously
// registered at that ID. Returns the VIP that was replaced, if any, so
// the caller can decide whether to drain it first.
func (r *Registry) Register(v *VIP) (previous *VIP) {
	actual, loaded := r.vips.Swap(v.ID, v)
	if loaded {
		return actual.(*VIP)
	}
	return nil
}

// Get returns the VIP registered under id, if any.
func (r *Registry) Get(id uint32) (*VIP, bool) {
	actual, ok := r.vips.Load(id)
	if !ok {
		return nil, false
	}
	return actual.(*VIP), true
}

// Unregister removes a VIP from the registry. It does not tear down any
// shared-memory region the VIP may own; callers that wired one up are
// responsible for closing it themselves before or after unregistering.
func (r *Registry) Unregister(id uint32) {
	r.vips.Delete(id)
}

// ForEach iterates every registered VIP. The callback must not register
// or unregister VIPs; use Register/Unregister directly for that.
func (r *Registry) ForEach(f func(id uint32, v *VIP)) {
	r.vips.Range(func(key, value any) bool {
		f(key.(uint32), value.(*VIP))
		return true
	})
}

// Count returns the number of currently registered VIPs.
func (r *Registry) Count() int {
	n := 0
	r.vips.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
