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
	"regexp"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func testInputs() *Inputs {
	return &Inputs{
		Address:        common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Scope:          "test",
		Signature:      make([]byte, 65),
		RawTransaction: []byte{0xde, 0xad, 0xbe, 0xef},
		MerkleProof:    [][]byte{{0x01}, {0x02}},
		BlockNumber:    1234,
	}
}

// countTopLevel counts comma-separated elements of the bracketed TOML
// array assigned to field, at nesting depth 1.
func countTopLevel(t *testing.T, toml, field string) int {
	t.Helper()
	re := regexp.MustCompile(`(?m)^` + field + ` = (\[.*\])$`)
	m := re.FindStringSubmatch(toml)
	require.NotNil(t, m, "field %s missing in:\n%s", field, toml)

	depth, count := 0, 0
	for _, r := range m[1] {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 1 {
				count++
			}
		}
	}
	return count + 1
}

func TestCircuitTOMLFixedWidths(t *testing.T) {
	in := testInputs()
	toml, err := in.CircuitTOML()
	require.NoError(t, err)

	require.Equal(t, 300, countTopLevel(t, toml, "raw_transaction"))
	require.Equal(t, 64, countTopLevel(t, toml, "signature"))
	require.Equal(t, 8, countTopLevel(t, toml, "merkle_proof"))
	require.Contains(t, toml, "tx_len = 4\n")
	require.Contains(t, toml, "merkle_depth = 2\n")
	require.NotContains(t, toml, "country_list")
}

func TestCircuitTOMLCountryList(t *testing.T) {
	in := testInputs()
	in.HasCountry = true
	in.CountryList = []string{"US", "DE", "jp"}
	in.IsIncluded = true

	toml, err := in.CircuitTOML()
	require.NoError(t, err)

	require.Equal(t, 10, countTopLevel(t, toml, "country_list"))
	require.Contains(t, toml, "country_count = 3\n")
	// Booleans are rendered as lowercase literals.
	require.Contains(t, toml, "is_included = true\n")

	in.IsIncluded = false
	toml, err = in.CircuitTOML()
	require.NoError(t, err)
	require.Contains(t, toml, "is_included = false\n")
}

func TestCircuitTOMLDropsSignatureV(t *testing.T) {
	in := testInputs()
	in.Signature = append(make([]byte, 64), 0x1b) // r||s||v

	toml, err := in.CircuitTOML()
	require.NoError(t, err)
	require.Equal(t, 64, countTopLevel(t, toml, "signature"))
}

func TestCircuitTOMLRejectsBadInputs(t *testing.T) {
	in := testInputs()
	in.Signature = make([]byte, 10)
	_, err := in.CircuitTOML()
	require.ErrorContains(t, err, "signature")

	in = testInputs()
	in.RawTransaction = make([]byte, 301)
	_, err = in.CircuitTOML()
	require.ErrorContains(t, err, "raw transaction")

	in = testInputs()
	in.HasCountry = true
	in.CountryList = []string{"USA"}
	_, err = in.CircuitTOML()
	require.ErrorContains(t, err, "country code")
}

func TestSignalHashAndNullifierDeterministic(t *testing.T) {
	addr := common.HexToAddress("0x5555555555555555555555555555555555555555")

	sig1 := SignalHash("myapp.example")
	sig2 := SignalHash("myapp.example")
	require.Equal(t, sig1, sig2)
	require.NotEqual(t, sig1, SignalHash("other.example"))

	n1 := Nullifier(addr, sig1)
	n2 := Nullifier(addr, sig1)
	require.Equal(t, n1, n2)
	// Different scope isolates the nullifier space.
	require.NotEqual(t, n1, Nullifier(addr, SignalHash("other.example")))
}

func TestCircuitTOMLAddressLowercased(t *testing.T) {
	in := testInputs()
	toml, err := in.CircuitTOML()
	require.NoError(t, err)
	require.Contains(t, strings.ToLower(toml), `address = "0x5555555555555555555555555555555555555555"`)
	require.NotContains(t, toml, "0x5555555555555555555555555555555555555555"+"X")
}
