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

// Package attest parses and verifies AWS Nitro enclave attestation
// documents: COSE_Sign1 envelopes whose payload asserts the identity of
// the code running inside the enclave via PCR measurements.
package attest

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// AlgES384 is the COSE algorithm identifier for ECDSA w/ SHA-384, the only
// algorithm Nitro attestation documents use.
const AlgES384 = -35

// Document is the decoded attestation payload.
type Document struct {
	ModuleID    string         `json:"moduleId"`
	Digest      string         `json:"digest"`
	Timestamp   uint64         `json:"timestamp"` // milliseconds since epoch
	PCRs        map[int][]byte `json:"pcrs"`
	Certificate []byte         `json:"certificate"` // leaf, DER
	CABundle    [][]byte       `json:"cabundle"`    // root first, DER
	PublicKey   []byte         `json:"publicKey,omitempty"`
	UserData    []byte         `json:"userData,omitempty"`
	Nonce       []byte         `json:"nonce,omitempty"`
}

// Envelope pairs a decoded Document with the raw COSE_Sign1 fields needed
// to verify its signature byte-exactly.
type Envelope struct {
	Document

	protected []byte // raw CBOR-encoded protected header
	payload   []byte // raw CBOR-encoded payload
	signature []byte // raw R||S
	alg       int
}

// Alg returns the COSE algorithm declared in the protected header.
func (e *Envelope) Alg() int { return e.alg }

// Signature returns the raw R||S signature bytes.
func (e *Envelope) Signature() []byte { return e.signature }

// coseSign1 is the 4-element COSE_Sign1 CBOR array.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// protectedHeader is the decoded protected header map; key 1 is alg.
type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

// docPayload is the CBOR shape of the attestation payload.
type docPayload struct {
	ModuleID    string         `cbor:"module_id"`
	Digest      string         `cbor:"digest"`
	Timestamp   uint64         `cbor:"timestamp"`
	PCRs        map[int][]byte `cbor:"pcrs"`
	Certificate []byte         `cbor:"certificate"`
	CABundle    [][]byte       `cbor:"cabundle"`
	PublicKey   []byte         `cbor:"public_key,omitempty"`
	UserData    []byte         `cbor:"user_data,omitempty"`
	Nonce       []byte         `cbor:"nonce,omitempty"`
}

// sigStructure is the COSE Sig_structure for a Signature1 context. Any
// byte-level drift here makes signature verification fail, so it is built
// with the exact field order of the standard.
type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// Parse decodes a base64-encoded COSE_Sign1 attestation document.
func Parse(encoded string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("attestation document is not valid base64: %w", err)
	}
	return ParseBytes(raw)
}

// ParseBytes decodes a raw COSE_Sign1 attestation document.
func ParseBytes(raw []byte) (*Envelope, error) {
	var cose coseSign1
	if err := cbor.Unmarshal(raw, &cose); err != nil {
		return nil, fmt.Errorf("attestation document is not a COSE_Sign1 structure: %w", err)
	}
	if len(cose.Payload) == 0 {
		return nil, errors.New("attestation document has an empty payload")
	}

	var hdr protectedHeader
	if err := cbor.Unmarshal(cose.Protected, &hdr); err != nil {
		return nil, fmt.Errorf("invalid protected header: %w", err)
	}

	var payload docPayload
	if err := cbor.Unmarshal(cose.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid attestation payload: %w", err)
	}

	return &Envelope{
		Document: Document{
			ModuleID:    payload.ModuleID,
			Digest:      payload.Digest,
			Timestamp:   payload.Timestamp,
			PCRs:        payload.PCRs,
			Certificate: payload.Certificate,
			CABundle:    payload.CABundle,
			PublicKey:   payload.PublicKey,
			UserData:    payload.UserData,
			Nonce:       payload.Nonce,
		},
		protected: cose.Protected,
		payload:   cose.Payload,
		signature: cose.Signature,
		alg:       hdr.Alg,
	}, nil
}

// SigningInput returns the CBOR-encoded COSE Sig_structure
// ["Signature1", protected, external_aad, payload] that the signature
// covers.
func (e *Envelope) SigningInput() ([]byte, error) {
	return cbor.Marshal(sigStructure{
		Context:     "Signature1",
		Protected:   e.protected,
		ExternalAAD: []byte{},
		Payload:     e.payload,
	})
}

// Signer produces a raw R||S signature over the Sig_structure bytes.
// Implemented by the enclave NSM in production and by test keys here.
type Signer func(signingInput []byte) ([]byte, error)

// Encode builds a base64 COSE_Sign1 document for doc, signed with sign
// under the given COSE algorithm. The inverse of Parse.
func Encode(doc Document, alg int, sign Signer) (string, error) {
	protected, err := cbor.Marshal(map[int]int{1: alg})
	if err != nil {
		return "", fmt.Errorf("encode protected header: %w", err)
	}
	payload, err := cbor.Marshal(docPayload{
		ModuleID:    doc.ModuleID,
		Digest:      doc.Digest,
		Timestamp:   doc.Timestamp,
		PCRs:        doc.PCRs,
		Certificate: doc.Certificate,
		CABundle:    doc.CABundle,
		PublicKey:   doc.PublicKey,
		UserData:    doc.UserData,
		Nonce:       doc.Nonce,
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	input, err := cbor.Marshal(sigStructure{
		Context:     "Signature1",
		Protected:   protected,
		ExternalAAD: []byte{},
		Payload:     payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode signing input: %w", err)
	}
	signature, err := sign(input)
	if err != nil {
		return "", fmt.Errorf("sign attestation document: %w", err)
	}

	raw, err := cbor.Marshal(coseSign1{
		Protected:   protected,
		Unprotected: cbor.RawMessage{0xa0}, // empty map
		Payload:     payload,
		Signature:   signature,
	})
	if err != nil {
		return "", fmt.Errorf("encode COSE_Sign1: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
