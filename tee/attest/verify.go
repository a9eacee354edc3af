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

package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// DefaultMaxAge bounds how old an attestation document may be.
const DefaultMaxAge = 5 * time.Second

// Verifier checks attestation documents against freshness, expected PCR
// measurements, the COSE signature, and the certificate chain.
type Verifier struct {
	// MaxAge rejects documents older than this (DefaultMaxAge when zero).
	MaxAge time.Duration

	// ExpectedPCRs, when non-empty, must match the document byte-exactly
	// per index.
	ExpectedPCRs map[int][]byte

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Result reports each verification dimension plus the overall outcome.
// Error carries the first failure in check order.
type Result struct {
	CertificateValid bool
	SignatureValid   bool
	PCRValid         map[int]bool
	IsValid          bool
	Error            string
}

// MarshalJSON flattens per-PCR results into pcr<i>Valid fields.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"certificateValid": r.CertificateValid,
		"signatureValid":   r.SignatureValid,
		"isValid":          r.IsValid,
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	for idx, ok := range r.PCRValid {
		out[fmt.Sprintf("pcr%dValid", idx)] = ok
	}
	return json.Marshal(out)
}

// Verify runs every check and returns the per-dimension result. It never
// returns an error; failures are reported in the result.
func (v *Verifier) Verify(e *Envelope) Result {
	res := Result{PCRValid: make(map[int]bool)}
	fail := func(format string, args ...any) {
		if res.Error == "" {
			res.Error = fmt.Sprintf(format, args...)
		}
	}

	if len(e.CABundle) == 0 {
		fail("CA bundle is empty")
		return res
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	maxAge := v.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	issued := time.UnixMilli(int64(e.Timestamp))
	if now().Sub(issued) > maxAge {
		fail("attestation document expired: issued %s ago", now().Sub(issued).Round(time.Millisecond))
	}

	// PCR comparison, in index order so the reported failure is stable.
	indices := make([]int, 0, len(v.ExpectedPCRs))
	for idx := range v.ExpectedPCRs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	pcrsOK := true
	for _, idx := range indices {
		ok := bytes.Equal(e.PCRs[idx], v.ExpectedPCRs[idx])
		res.PCRValid[idx] = ok
		if !ok {
			pcrsOK = false
			fail("PCR%d mismatch", idx)
		}
	}

	res.SignatureValid = v.verifySignature(e, fail)
	res.CertificateValid = v.verifyChain(e, issued, fail)

	res.IsValid = res.Error == "" && res.SignatureValid && res.CertificateValid && pcrsOK
	return res
}

// verifySignature checks the raw R||S ECDSA P-384 signature over the COSE
// Sig_structure against the leaf certificate's public key.
func (v *Verifier) verifySignature(e *Envelope, fail func(string, ...any)) bool {
	if e.alg != AlgES384 {
		fail("Unsupported COSE algorithm: %d", e.alg)
		return false
	}
	if len(e.signature) != 96 {
		fail("malformed ES384 signature: %d bytes", len(e.signature))
		return false
	}

	cert, err := x509.ParseCertificate(e.Certificate)
	if err != nil {
		fail("invalid leaf certificate: %v", err)
		return false
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		fail("leaf certificate key is not ECDSA")
		return false
	}

	input, err := e.SigningInput()
	if err != nil {
		fail("build signing input: %v", err)
		return false
	}
	digest := sha512.Sum384(input)

	r := new(big.Int).SetBytes(e.signature[:48])
	s := new(big.Int).SetBytes(e.signature[48:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		fail("COSE signature verification failed")
		return false
	}
	return true
}

// verifyChain walks the CA bundle: the first entry is the root, the rest
// are intermediates, and the leaf must chain up to the root.
func (v *Verifier) verifyChain(e *Envelope, at time.Time, fail func(string, ...any)) bool {
	leaf, err := x509.ParseCertificate(e.Certificate)
	if err != nil {
		fail("invalid leaf certificate: %v", err)
		return false
	}

	roots := x509.NewCertPool()
	root, err := x509.ParseCertificate(e.CABundle[0])
	if err != nil {
		fail("invalid root certificate: %v", err)
		return false
	}
	roots.AddCert(root)

	intermediates := x509.NewCertPool()
	for _, der := range e.CABundle[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			fail("invalid intermediate certificate: %v", err)
			return false
		}
		intermediates.AddCert(cert)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		fail("certificate chain verification failed: %v", err)
		return false
	}
	return true
}

// RawSignature converts ECDSA (r, s) integers into the 96-byte left-padded
// R||S form the verifier expects.
func RawSignature(r, s *big.Int) []byte {
	out := make([]byte, 96)
	r.FillBytes(out[:48])
	s.FillBytes(out[48:])
	return out
}
