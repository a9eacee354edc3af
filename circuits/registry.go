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

// Package circuits holds the static registry of supported ZK circuits.
// Every skill that references a circuit validates its id here before doing
// any work.
package circuits

import "sort"

// Descriptor describes one supported circuit.
type Descriptor struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName"`
	Description      string   `json:"description"`
	EASSchemaID      string   `json:"easSchemaId"`
	FunctionSelector string   `json:"functionSelector"`
	RequiredInputs   []string `json:"requiredInputs"`
}

// Circuit ids. These match the circuit package names shipped with the
// prover binary.
const (
	CoinbaseAttestation        = "coinbase_attestation"
	CoinbaseCountryAttestation = "coinbase_country_attestation"
)

// registry is populated at build time; the set of circuits changes only
// with a release of the prover binary.
var registry = map[string]Descriptor{
	CoinbaseAttestation: {
		ID:               CoinbaseAttestation,
		DisplayName:      "Coinbase KYC Attestation",
		Description:      "Proves the holder owns a Coinbase-verified account without revealing the address.",
		EASSchemaID:      "0xf8b05c79f090979bf4a80270aba232dff11a10d9ca55c4f88de95317970f0de9",
		FunctionSelector: "0x5a9f5764",
		RequiredInputs:   []string{"address", "signature", "scope"},
	},
	CoinbaseCountryAttestation: {
		ID:               CoinbaseCountryAttestation,
		DisplayName:      "Coinbase Country Attestation",
		Description:      "Proves the holder's verified country is (or is not) in a given list without revealing it.",
		EASSchemaID:      "0x1801901fabd0e6189356b4fb52bb0ab855276d84f7ec140839fbd1f6d15318dc",
		FunctionSelector: "0x3c0f5a6b",
		RequiredInputs:   []string{"address", "signature", "scope", "countryList", "isIncluded"},
	},
}

// Get returns the descriptor for id.
func Get(id string) (Descriptor, bool) {
	d, ok := registry[id]
	return d, ok
}

// All returns every descriptor, ordered by id.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
