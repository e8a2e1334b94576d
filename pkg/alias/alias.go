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

// Package alias implements Vose's alias method for O(1) weighted
// sampling over a fixed-size set of backends. It is built fresh from a
// weight vector each time the external consumer publishes a new set of
// scores; sampling itself never allocates.
package alias

import (
	"errors"
	"math/rand"
)

// Entry is one row of the alias table: the probability of staying on
// the local index, and the index to fall back to otherwise.
type Entry struct {
	Odd   float32
	Alias uint32
}

// Table is a built alias table ready for O(1) sampling.
type Table struct {
	entries []Entry
}

// ErrEmptyWeights is returned by Build when given no weights.
var ErrEmptyWeights = errors.New("alias: weights must be non-empty")

// Build constructs a Table from a weight vector using Vose's algorithm.
// Weights need not sum to 1; they are normalized internally. A weight
// of exactly zero is valid: that index's row always defers to its
// alias and no other row aliases to it, so Sample does not return it
// (barring the floating-point leftover case handled below).
func Build(weights []float64) (*Table, error) {
	n := len(weights)
	if n == 0 {
		return nil, ErrEmptyWeights
	}

	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			w = 0
		}
		sum += w
	}

	scaled := make([]float64, n)
	if sum > 0 {
		for i, w := range weights {
			if w < 0 {
				w = 0
			}
			scaled[i] = w * float64(n) / sum
		}
	} else {
		// Degenerate all-zero input: fall back to a uniform table so
		// Sample still returns a valid index instead of panicking.
		for i := range scaled {
			scaled[i] = 1.0
		}
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range scaled {
		if p < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	entries := make([]Entry, n)
	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		entries[l] = Entry{Odd: float32(scaled[l]), Alias: uint32(g)}
		scaled[g] = scaled[g] + scaled[l] - 1.0
		if scaled[g] < 1.0 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	for _, g := range large {
		entries[g] = Entry{Odd: 1.0, Alias: uint32(g)}
	}
	for _, l := range small {
		// Leftover due to floating point drift; treat as certain.
		entries[l] = Entry{Odd: 1.0, Alias: uint32(l)}
	}

	return &Table{entries: entries}, nil
}

// Len returns the number of backends the table was built over.
func (t *Table) Len() int { return len(t.entries) }

// Entries exposes the built rows, e.g. for publishing into an outbound
// shared-memory frame.
func (t *Table) Entries() []Entry { return t.entries }

// Sample draws one index in O(1) using the provided random source. The
// caller supplies rng so the hot path never constructs its own source
// (the packet path must stay allocation-light).
func (t *Table) Sample(rng *rand.Rand) int {
	n := len(t.entries)
	i := rng.Intn(n)
	if rng.Float32() < t.entries[i].Odd {
		return i
	}
	return int(t.entries[i].Alias)
}
