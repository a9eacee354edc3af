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

package prover

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Circuit input widths. The circuits are compiled against fixed-size
// arrays, so every variable-length input is padded to these exact widths.
const (
	rawTransactionWidth = 300
	signatureWidth      = 64
	merkleDepth         = 8
	merkleNodeWidth     = 32
	countryListWidth    = 10
	countryCodeWidth    = 2
)

// Inputs carries everything the prover consumes for one invocation.
type Inputs struct {
	Address        common.Address
	Scope          string
	Signature      []byte   // 64 or 65 bytes; a trailing v byte is dropped
	RawTransaction []byte   // attested EAS transaction, <= 300 bytes
	MerkleProof    [][]byte // <= 8 nodes of 32 bytes
	BlockNumber    uint64

	// Country-list circuit only.
	CountryList []string // ISO 3166-1 alpha-2 codes, <= 10
	IsIncluded  bool
	HasCountry  bool
}

// SignalHash derives the scope-bound signal: keccak256(scope).
func SignalHash(scope string) common.Hash {
	return crypto.Keccak256Hash([]byte(scope))
}

// Nullifier derives the credential nullifier: keccak256(address || signalHash).
// Equal credentials in equal scopes always collide, which is what prevents
// reuse.
func Nullifier(address common.Address, signalHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(address.Bytes(), signalHash.Bytes())
}

// CircuitTOML renders the prover's Prover.toml input file. All fields are
// padded to the widths the circuit was compiled with.
func (in *Inputs) CircuitTOML() (string, error) {
	if len(in.RawTransaction) > rawTransactionWidth {
		return "", fmt.Errorf("raw transaction too large: %d > %d bytes", len(in.RawTransaction), rawTransactionWidth)
	}
	sig := in.Signature
	switch len(sig) {
	case signatureWidth:
	case signatureWidth + 1:
		sig = sig[:signatureWidth] // drop v
	default:
		return "", fmt.Errorf("signature must be 64 or 65 bytes, got %d", len(sig))
	}
	if len(in.MerkleProof) > merkleDepth {
		return "", fmt.Errorf("merkle proof too deep: %d > %d", len(in.MerkleProof), merkleDepth)
	}
	if len(in.CountryList) > countryListWidth {
		return "", fmt.Errorf("country list too long: %d > %d", len(in.CountryList), countryListWidth)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "address = %q\n", strings.ToLower(in.Address.Hex()))
	fmt.Fprintf(&b, "scope = %q\n", in.Scope)
	fmt.Fprintf(&b, "signal_hash = %q\n", SignalHash(in.Scope).Hex())
	fmt.Fprintf(&b, "block_number = %d\n", in.BlockNumber)
	fmt.Fprintf(&b, "tx_len = %d\n", len(in.RawTransaction))
	fmt.Fprintf(&b, "raw_transaction = %s\n", byteArray(padBytes(in.RawTransaction, rawTransactionWidth)))
	fmt.Fprintf(&b, "signature = %s\n", byteArray(sig))

	b.WriteString("merkle_proof = [")
	for i := 0; i < merkleDepth; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		var node []byte
		if i < len(in.MerkleProof) {
			node = in.MerkleProof[i]
		}
		b.WriteString(byteArray(padBytes(node, merkleNodeWidth)))
	}
	fmt.Fprintf(&b, "]\nmerkle_depth = %d\n", len(in.MerkleProof))

	if in.HasCountry {
		b.WriteString("country_list = [")
		for i := 0; i < countryListWidth; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			var code []byte
			if i < len(in.CountryList) {
				code = []byte(strings.ToUpper(in.CountryList[i]))
				if len(code) != countryCodeWidth {
					return "", fmt.Errorf("invalid country code %q", in.CountryList[i])
				}
			}
			b.WriteString(byteArray(padBytes(code, countryCodeWidth)))
		}
		fmt.Fprintf(&b, "]\ncountry_count = %d\n", len(in.CountryList))
		fmt.Fprintf(&b, "is_included = %v\n", in.IsIncluded)
	}
	return b.String(), nil
}

// padBytes right-pads b with zeros to width.
func padBytes(b []byte, width int) []byte {
	if len(b) >= width {
		return b[:width]
	}
	out := make([]byte, width)
	copy(out, b)
	return out
}

// byteArray renders b as a TOML integer array.
func byteArray(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	sb.WriteByte(']')
	return sb.String()
}
