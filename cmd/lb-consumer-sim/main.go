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

// Package main is a toy stand-in for the external weight consumer this
// module places out of scope: it maps an existing shm region, polls the
// outbound telemetry ring, computes a trivial inverse-load weighting,
// and writes it back through the inbound ring — demonstrating the seal
// protocol from the reader's side without pretending to be a real
// health-checking control plane.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lbflow/internal/dataplane/shm"
)

func main() {
	shmName := flag.String("shm_name", "", "Name of the shared-memory segment to attach to, e.g. shm_vip_1")
	pollInterval := flag.Duration("poll_interval", 500*time.Millisecond, "How often to poll the outbound ring")
	backends := flag.Int("backends", 4, "Number of backends to compute weights for")
	flag.Parse()

	if *shmName == "" {
		fmt.Fprintln(os.Stderr, "shm_name is required")
		os.Exit(1)
	}

	region, err := shm.OpenRegion(*shmName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shm: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()

	var lastOut, inSeq uint32
	fmt.Printf("attached to /dev/shm/%s, polling every %s\n", *shmName, *pollInterval)

	for {
		select {
		case <-stop:
			fmt.Println("\nshutting down")
			return
		case <-ticker.C:
			frame, seq, ok := region.ConsumeOut(shm.ScanLatest, lastOut)
			if !ok {
				continue
			}
			lastOut = seq
			weights := inverseLoadWeights(frame, *backends)

			inSeq++
			region.PublishIn(inSeq, func(m *shm.MsgIn) {
				for i, w := range weights {
					m.Score[i] = float32(w)
				}
			})
			fmt.Printf("out seq=%d -> pushed weights %v as in seq=%d\n", seq, weights, inSeq)
		}
	}
}

// inverseLoadWeights gives a lightly loaded backend a higher weight than
// a heavily loaded one, using open-flow count as the load signal. It is
// intentionally simplistic: the real scoring policy lives entirely in
// the external consumer process this module does not own.
func inverseLoadWeights(frame shm.MsgOut, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n && i < shm.ASMax; i++ {
		load := frame.Body[i].NFlowOn
		if load < 0 {
			load = 0
		}
		out[i] = 1.0 / (1.0 + float64(load))
	}
	return out
}
