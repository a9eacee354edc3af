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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nullifier-labs/proofd/kvstore"
)

// CacheKeyInputs identify a proof up to byte equality: equal inputs always
// hash to equal keys.
type CacheKeyInputs struct {
	CircuitID   string
	Address     string
	Scope       string
	CountryList []string
	IsIncluded  *bool
}

// CachedProof is the artifact stored per cache key.
type CachedProof struct {
	Proof           string    `json:"proof"`
	PublicInputs    string    `json:"publicInputs"`
	ProofWithInputs string    `json:"proofWithInputs"`
	Nullifier       string    `json:"nullifier"`
	SignalHash      string    `json:"signalHash"`
	ProofID         string    `json:"proofId"`
	CircuitID       string    `json:"circuitId"`
	AttestationDoc  string    `json:"attestationDocument,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ErrCacheMiss is returned by Cache.Get for an absent key.
var ErrCacheMiss = errors.New("prover: cache miss")

// Cache stores prior proof results under a deterministic fingerprint.
type Cache struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewCache creates a proof cache with the given entry TTL.
func NewCache(kv kvstore.Store, ttl time.Duration) *Cache {
	return &Cache{kv: kv, ttl: ttl}
}

// Key computes the stable cache key: "proof:" + SHA-256 of the canonical
// JSON encoding of the inputs. encoding/json writes object keys sorted and
// preserves array order, which makes the encoding canonical.
func (c *Cache) Key(in CacheKeyInputs) string {
	canonical := map[string]any{
		"circuitId": in.CircuitID,
		"address":   strings.ToLower(in.Address),
		"scope":     in.Scope,
	}
	if len(in.CountryList) > 0 {
		canonical["countryList"] = in.CountryList
	}
	if in.IsIncluded != nil {
		canonical["isIncluded"] = *in.IsIncluded
	}
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return "proof:" + hex.EncodeToString(sum[:])
}

// Get loads a cached proof, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) (*CachedProof, error) {
	raw, err := c.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("proof cache get: %w", err)
	}
	var p CachedProof
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("proof cache decode: %w", err)
	}
	return &p, nil
}

// Set stores a proof result under key.
func (c *Cache) Set(ctx context.Context, key string, p *CachedProof) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("proof cache encode: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(raw), c.ttl); err != nil {
		return fmt.Errorf("proof cache set: %w", err)
	}
	return nil
}

// Invalidate removes a cache entry.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}
