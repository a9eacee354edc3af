// Copyright 2025 The proofd Authors
// This file is part of the proofd library.
//
// The proofd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The proofd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the proofd library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics declares the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts worker-pool task completions by terminal state.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofd",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Tasks driven to a terminal state, labeled by state.",
	}, []string{"state"})

	// ProofsGenerated counts fresh proofs by circuit.
	ProofsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofd",
		Subsystem: "prover",
		Name:      "proofs_generated_total",
		Help:      "Proofs produced by the prover, labeled by circuit.",
	}, []string{"circuit"})

	// ProofCacheHits counts generate_proof requests served from cache.
	ProofCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proofd",
		Subsystem: "prover",
		Name:      "proof_cache_hits_total",
		Help:      "Proof requests answered from the proof cache.",
	})

	// PaymentsSettled counts settlement sweeps that landed on-chain.
	PaymentsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proofd",
		Subsystem: "payments",
		Name:      "settled_total",
		Help:      "Payment records settled on-chain.",
	})

	// HTTPRequests counts served HTTP requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, labeled by route and status class.",
	}, []string{"route", "status"})
)
