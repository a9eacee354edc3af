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

package payments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fxamacker/cbor/v2"
)

// Mode selects how the payment gate behaves.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeTestnet  Mode = "testnet"
	ModeMainnet  Mode = "mainnet"
)

// ParseMode validates a configured payment mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDisabled, ModeTestnet, ModeMainnet:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid payment mode %q (want disabled, testnet or mainnet)", s)
}

// Network returns the CAIP-2 chain identifier payments settle on.
func (m Mode) Network() string {
	switch m {
	case ModeMainnet:
		return "eip155:8453" // Base
	case ModeTestnet:
		return "eip155:84532" // Base Sepolia
	}
	return ""
}

// USDCAddress returns the USDC contract for the mode's network.
func (m Mode) USDCAddress() string {
	switch m {
	case ModeMainnet:
		return "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	case ModeTestnet:
		return "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	}
	return ""
}

// Wire protocol constants.
const (
	// HeaderPayment carries the client's base64 CBOR payment claim.
	HeaderPayment = "X-Payment"

	// HeaderPaymentRequired carries the base64 CBOR challenge on a 402.
	HeaderPaymentRequired = "PAYMENT-REQUIRED"

	x402Version = 2
)

// Requirement is one acceptable way to pay, per the x402 challenge format.
type Requirement struct {
	Scheme  string `cbor:"scheme" json:"scheme"`
	Network string `cbor:"network" json:"network"`
	Asset   string `cbor:"asset" json:"asset"`
	PayTo   string `cbor:"payTo" json:"payTo"`
	Amount  string `cbor:"amount" json:"amount"`
}

// Challenge is the 402 response descriptor.
type Challenge struct {
	X402Version int           `cbor:"x402Version" json:"x402Version"`
	Accepts     []Requirement `cbor:"accepts" json:"accepts"`
}

// Claim is the decoded payer assertion from the x-payment header. Decoding
// is advisory: the authoritative gate signal is the header's presence.
type Claim struct {
	PayerAddress string
	Amount       string
	Network      string
}

// Gate issues x402 challenges for protected routes and decodes inbound
// payment claims.
type Gate struct {
	mode   Mode
	payTo  string
	amount string // USD decimal string, e.g. "$0.10"
	log    log.Logger
}

// NewGate creates a payment gate. payTo is the operator's receiving
// address; amount is the proof price as a decimal USD string.
func NewGate(mode Mode, payTo, amount string) *Gate {
	return &Gate{mode: mode, payTo: payTo, amount: amount, log: log.New("module", "x402")}
}

// Mode returns the configured gate mode.
func (g *Gate) Mode() Mode { return g.mode }

// Enabled reports whether the gate demands payment at all.
func (g *Gate) Enabled() bool { return g.mode != ModeDisabled }

// Amount returns the configured proof price string.
func (g *Gate) Amount() string { return g.amount }

// EncodeChallenge returns the base64 CBOR challenge header value.
func (g *Gate) EncodeChallenge() (string, error) {
	ch := Challenge{
		X402Version: x402Version,
		Accepts: []Requirement{{
			Scheme:  "exact",
			Network: g.mode.Network(),
			Asset:   g.mode.USDCAddress(),
			PayTo:   g.payTo,
			Amount:  g.amount,
		}},
	}
	raw, err := cbor.Marshal(ch)
	if err != nil {
		return "", fmt.Errorf("encode x402 challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeChallenge parses a challenge header value. Used by clients and tests.
func DecodeChallenge(header string) (*Challenge, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode x402 challenge: %w", err)
	}
	var ch Challenge
	if err := cbor.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("decode x402 challenge: %w", err)
	}
	return &ch, nil
}

// EncodeClaim builds an x-payment header value. Used by clients and tests.
func EncodeClaim(c Claim) (string, error) {
	raw, err := cbor.Marshal(map[string]any{
		"from":    c.PayerAddress,
		"amount":  c.Amount,
		"network": c.Network,
	})
	if err != nil {
		return "", fmt.Errorf("encode payment claim: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeClaim best-effort parses an x-payment header. The payer address is
// looked up at proof.from, then from.
func DecodeClaim(header string) (*Claim, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode payment claim: %w", err)
	}
	var body map[string]any
	if err := cbor.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode payment claim: %w", err)
	}

	claim := &Claim{}
	if proof, ok := body["proof"].(map[any]any); ok {
		if from, ok := proof["from"].(string); ok {
			claim.PayerAddress = from
		}
	}
	if claim.PayerAddress == "" {
		if from, ok := body["from"].(string); ok {
			claim.PayerAddress = from
		}
	}
	switch amt := body["amount"].(type) {
	case string:
		claim.Amount = amt
	case int64:
		claim.Amount = fmt.Sprintf("%d", amt)
	case uint64:
		claim.Amount = fmt.Sprintf("%d", amt)
	}
	if network, ok := body["network"].(string); ok {
		claim.Network = network
	}
	if claim.PayerAddress == "" {
		return nil, errors.New("payment claim carries no payer address")
	}
	return claim, nil
}

// Context plumbing for the recording middleware.
type gateCtxKey int

const (
	claimCtxKey gateCtxKey = iota
	skippedCtxKey
)

// ClaimFromContext returns the payment claim attached by the middleware.
func ClaimFromContext(ctx context.Context) (*Claim, bool) {
	c, ok := ctx.Value(claimCtxKey).(*Claim)
	return c, ok
}

// SkippedFromContext reports whether the gate waved the request through in
// disabled mode.
func SkippedFromContext(ctx context.Context) bool {
	skipped, _ := ctx.Value(skippedCtxKey).(bool)
	return skipped
}

// Middleware returns the payment gate HTTP middleware for protected routes.
// In disabled mode it is a pass-through that marks the request skipped. In
// testnet/mainnet a request without the x-payment header is rejected with a
// 402 challenge; a present header always passes, with decode failures
// logged only, since the downstream verifier is authoritative.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.mode == ModeDisabled {
			ctx := context.WithValue(r.Context(), skippedCtxKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		header := r.Header.Get(HeaderPayment)
		if header == "" {
			challenge, err := g.EncodeChallenge()
			if err != nil {
				g.log.Error("Failed to encode x402 challenge", "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.Header().Set(HeaderPaymentRequired, challenge)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprintf(w, `{"error":"payment required","amount":%q,"network":%q}`, g.amount, g.mode.Network())
			return
		}

		ctx := r.Context()
		claim, err := DecodeClaim(header)
		if err != nil {
			g.log.Warn("Malformed x-payment header ignored", "err", err)
		} else {
			ctx = context.WithValue(ctx, claimCtxKey, claim)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FreeSkills are exempt from the gate regardless of mode.
var FreeSkills = map[string]bool{
	"get_supported_circuits": true,
	"verify_proof":           true,
	"request_signing":        true,
	"request_payment":        true,
	"check_status":           true,
}

// SkillProtected reports whether a skill invocation must pass the gate.
func SkillProtected(skill string) bool {
	return !FreeSkills[skill]
}
