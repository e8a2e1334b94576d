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

// Package weights bootstraps the per-backend weight vector an
// alias.Table is built from. The data plane itself never blocks a
// packet on a weight refresh: a Source is only ever consulted at VIP
// startup or when an operator pushes a refresh, and its result is
// handed to alias.Build off the packet path.
package weights

import (
	"context"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// Source abstracts wherever backend weights live. Implementations may
// wrap github.com/redis/go-redis/v9 or any equivalent key/value store.
type Source interface {
	Fetch(ctx context.Context, vip string) (map[string]float64, error)
}

// WeightsKey builds the well-known hash key for a VIP's weight vector,
// one per VIP, with field names as decimal AS indices.
func WeightsKey(vip string) string { return fmt.Sprintf("lb:weights:%s", vip) }

// GoRedisSource reads a VIP's weight hash with a single HGETALL.
type GoRedisSource struct{ client *redis.Client }

// NewGoRedisSource dials a Redis instance at addr. Construction never
// fails synchronously; connection errors surface on the first Fetch.
func NewGoRedisSource(addr string) *GoRedisSource {
	return &GoRedisSource{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Fetch returns the raw field->weight map for vip, with AS index
// strings as keys. A field that fails to parse as a float is skipped
// rather than failing the whole fetch, so one corrupt field can't stall
// bootstrap for every other backend.
func (s *GoRedisSource) Fetch(ctx context.Context, vip string) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, WeightsKey(vip)).Result()
	if err != nil {
		return nil, fmt.Errorf("weights: HGETALL %s: %w", WeightsKey(vip), err)
	}
	out := make(map[string]float64, len(raw))
	for field, val := range raw {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		out[field] = f
	}
	return out, nil
}

// StaticSource is a demo/test stand-in that never touches the network.
type StaticSource struct {
	ByVIP map[string]map[string]float64
}

func (s StaticSource) Fetch(_ context.Context, vip string) (map[string]float64, error) {
	return s.ByVIP[vip], nil
}

// Vector resolves a Source's sparse field map into a dense weight slice
// indexed 0..nAS-1, the shape alias.Build expects. A backend with no
// field present gets weight 0 (never selected, but still occupies its
// AS index so the AS_MAX-wide counters stay aligned).
func Vector(ctx context.Context, src Source, vip string, nAS int) ([]float64, error) {
	raw, err := src.Fetch(ctx, vip)
	if err != nil {
		return nil, err
	}
	out := make([]float64, nAS)
	for i := range out {
		if w, ok := raw[strconv.Itoa(i)]; ok {
			out[i] = w
		}
	}
	return out, nil
}
