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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

// testEnclave holds a generated root CA and leaf signing key mimicking the
// Nitro certificate hierarchy.
type testEnclave struct {
	leafKey  *ecdsa.PrivateKey
	leafDER  []byte
	rootDER  []byte
	issuedAt time.Time
}

func newTestEnclave(t *testing.T) *testEnclave {
	t.Helper()
	issuedAt := time.Now()

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "aws.nitro-enclaves"},
		NotBefore:             issuedAt.Add(-time.Hour),
		NotAfter:              issuedAt.Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatal(err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatal(err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "i-0abc.eu-west-1.aws.nitro-enclaves"},
		NotBefore:    issuedAt.Add(-time.Hour),
		NotAfter:     issuedAt.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		t.Fatal(err)
	}

	return &testEnclave{leafKey: leafKey, leafDER: leafDER, rootDER: rootDER, issuedAt: issuedAt}
}

func (e *testEnclave) sign(input []byte) ([]byte, error) {
	digest := sha512.Sum384(input)
	r, s, err := ecdsa.Sign(rand.Reader, e.leafKey, digest[:])
	if err != nil {
		return nil, err
	}
	return RawSignature(r, s), nil
}

func (e *testEnclave) document() Document {
	return Document{
		ModuleID:  "i-0abc-enc0123",
		Digest:    "SHA384",
		Timestamp: uint64(e.issuedAt.UnixMilli()),
		PCRs: map[int][]byte{
			0: make([]byte, 48),
			1: {0x01, 0x02, 0x03},
			2: {0xaa, 0xbb},
		},
		Certificate: e.leafDER,
		CABundle:    [][]byte{e.rootDER},
		UserData:    []byte("proof-hash"),
	}
}

func (e *testEnclave) verifier() *Verifier {
	return &Verifier{Now: func() time.Time { return e.issuedAt.Add(time.Second) }}
}

func TestParseEncodeRoundTrip(t *testing.T) {
	enc := newTestEnclave(t)
	doc := enc.document()

	encoded, err := Encode(doc, AlgES384, enc.sign)
	if err != nil {
		t.Fatal(err)
	}
	env, err := Parse(encoded)
	if err != nil {
		t.Fatal(err)
	}

	if env.ModuleID != doc.ModuleID || env.Digest != doc.Digest || env.Timestamp != doc.Timestamp {
		t.Fatalf("document fields lost in round trip: %+v", env.Document)
	}
	if len(env.PCRs) != len(doc.PCRs) {
		t.Fatalf("PCR count mismatch: got %d want %d", len(env.PCRs), len(doc.PCRs))
	}
	if env.Alg() != AlgES384 {
		t.Fatalf("alg mismatch: got %d", env.Alg())
	}
	if string(env.UserData) != "proof-hash" {
		t.Fatalf("user data mismatch: %q", env.UserData)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("!!!"); err == nil {
		t.Fatal("expected base64 error")
	}
	if _, err := ParseBytes([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected CBOR error")
	}
}

func TestVerifyValidDocument(t *testing.T) {
	enc := newTestEnclave(t)
	encoded, err := Encode(enc.document(), AlgES384, enc.sign)
	if err != nil {
		t.Fatal(err)
	}
	env, err := Parse(encoded)
	if err != nil {
		t.Fatal(err)
	}

	res := enc.verifier().Verify(env)
	if !res.IsValid {
		t.Fatalf("expected valid document, got error %q", res.Error)
	}
	if !res.SignatureValid || !res.CertificateValid {
		t.Fatalf("dimension flags wrong: %+v", res)
	}
}

func TestVerifyEmptyCABundle(t *testing.T) {
	enc := newTestEnclave(t)
	doc := enc.document()
	doc.CABundle = nil
	encoded, _ := Encode(doc, AlgES384, enc.sign)
	env, _ := Parse(encoded)

	res := enc.verifier().Verify(env)
	if res.IsValid || res.Error != "CA bundle is empty" {
		t.Fatalf("expected empty-bundle failure, got %+v", res)
	}
}

func TestVerifyExpiredDocument(t *testing.T) {
	enc := newTestEnclave(t)
	encoded, _ := Encode(enc.document(), AlgES384, enc.sign)
	env, _ := Parse(encoded)

	v := &Verifier{Now: func() time.Time { return enc.issuedAt.Add(time.Minute) }}
	res := v.Verify(env)
	if res.IsValid {
		t.Fatal("expected stale document to fail")
	}
}

func TestVerifyPCRMismatch(t *testing.T) {
	enc := newTestEnclave(t)
	encoded, _ := Encode(enc.document(), AlgES384, enc.sign)
	env, _ := Parse(encoded)

	v := enc.verifier()
	v.ExpectedPCRs = map[int][]byte{
		0: make([]byte, 48),
		1: {0xde, 0xad},
	}
	res := v.Verify(env)
	if res.IsValid {
		t.Fatal("expected PCR mismatch to fail")
	}
	if res.Error != "PCR1 mismatch" {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if !res.PCRValid[0] || res.PCRValid[1] {
		t.Fatalf("per-PCR flags wrong: %+v", res.PCRValid)
	}
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	enc := newTestEnclave(t)
	encoded, _ := Encode(enc.document(), -7 /* ES256 */, enc.sign)
	env, _ := Parse(encoded)

	res := enc.verifier().Verify(env)
	if res.IsValid || res.SignatureValid {
		t.Fatal("expected unsupported algorithm to fail")
	}
	if res.Error != "Unsupported COSE algorithm: -7" {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	enc := newTestEnclave(t)
	doc := enc.document()
	encoded, _ := Encode(doc, AlgES384, enc.sign)
	env, _ := Parse(encoded)

	// Re-encode with a different payload but the old signature.
	doc.ModuleID = "i-evil"
	tampered, _ := Encode(doc, AlgES384, func([]byte) ([]byte, error) {
		return env.Signature(), nil
	})
	tamperedEnv, _ := Parse(tampered)

	res := enc.verifier().Verify(tamperedEnv)
	if res.SignatureValid {
		t.Fatal("tampered payload must not verify")
	}
}

func TestVerifyUntrustedChain(t *testing.T) {
	enc := newTestEnclave(t)
	other := newTestEnclave(t)

	doc := enc.document()
	doc.CABundle = [][]byte{other.rootDER} // wrong root
	encoded, _ := Encode(doc, AlgES384, enc.sign)
	env, _ := Parse(encoded)

	res := enc.verifier().Verify(env)
	if res.CertificateValid || res.IsValid {
		t.Fatal("leaf must not chain to a foreign root")
	}
}
