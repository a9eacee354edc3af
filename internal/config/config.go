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

// Package config loads the agent's process configuration from the
// environment, with an optional .env file merged in first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/tee"
)

// Defaults for everything that has a sensible one.
const (
	DefaultPort         = 4002
	DefaultAgentName    = "proofd"
	DefaultPrice        = "$0.10"
	DefaultSigningTTL   = 300 * time.Second
	DefaultEnclavePort  = 5000
	DefaultPollInterval = time.Second
	DefaultWorkers      = 2
	DefaultSendTimeout  = 5 * time.Minute
	DefaultSettleEvery  = 30 * time.Second
	DefaultRateLimit    = 60

	// DefaultAttestationIndexer is the public EAS attestation indexer.
	DefaultAttestationIndexer = "https://base.easscan.org/graphql"
)

// Config is the fully resolved process configuration.
type Config struct {
	Port      int
	BaseURL   string
	AgentName string
	Version   string

	// Payments.
	PaymentMode      payments.Mode
	Price            string
	PaymentRecipient string // settlement destination, required unless disabled
	SettleInterval   time.Duration

	// Storage. An empty RedisURL selects the in-memory store.
	RedisURL string

	// Chain.
	ChainRPCURL        string
	ProverPrivateKey   string // hex, no 0x prefix required
	IdentityRegistry   string
	ReputationRegistry string

	// Attestation indexer.
	AttestationURL string

	// Prover toolchain.
	WitnessBin string
	ProverBin  string
	CircuitDir string

	// TEE.
	TEEMode     tee.Mode
	EnclaveCID  uint32
	EnclavePort uint32

	// Task engine.
	SigningTTL   time.Duration
	Workers      int
	PollInterval time.Duration
	SendTimeout  time.Duration

	// Rate limiting, per client address. Zero max disables the limiter.
	RateLimitMax    int64
	RateLimitWindow time.Duration
}

// Load resolves the configuration from the environment. A .env file in the
// working directory is merged in first; set envFile to override its path.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err == nil {
		log.Info("Loaded environment file", "path", envFile)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:               envInt("PORT", DefaultPort),
		BaseURL:            os.Getenv("PUBLIC_BASE_URL"),
		AgentName:          envString("AGENT_NAME", DefaultAgentName),
		Version:            envString("AGENT_VERSION", "dev"),
		Price:              envString("PROOF_PRICE", DefaultPrice),
		PaymentRecipient:   os.Getenv("PAYMENT_RECIPIENT"),
		SettleInterval:     envDuration("SETTLEMENT_INTERVAL", DefaultSettleEvery),
		RedisURL:           os.Getenv("REDIS_URL"),
		ChainRPCURL:        os.Getenv("CHAIN_RPC_URL"),
		ProverPrivateKey:   os.Getenv("PROVER_PRIVATE_KEY"),
		IdentityRegistry:   os.Getenv("IDENTITY_REGISTRY_ADDRESS"),
		ReputationRegistry: os.Getenv("REPUTATION_REGISTRY_ADDRESS"),
		AttestationURL:     envString("ATTESTATION_GRAPHQL_URL", DefaultAttestationIndexer),
		WitnessBin:         envString("NARGO_PATH", "nargo"),
		ProverBin:          envString("BB_PATH", "bb"),
		CircuitDir:         envString("CIRCUIT_DIR", "./circuits"),
		EnclaveCID:         uint32(envInt("ENCLAVE_CID", 0)),
		EnclavePort:        uint32(envInt("ENCLAVE_PORT", DefaultEnclavePort)),
		SigningTTL:         envDuration("SIGNING_TTL", DefaultSigningTTL),
		Workers:            envInt("WORKER_COUNT", DefaultWorkers),
		PollInterval:       envDuration("WORKER_POLL_INTERVAL", DefaultPollInterval),
		SendTimeout:        envDuration("SEND_TIMEOUT", DefaultSendTimeout),
		RateLimitMax:       int64(envInt("RATE_LIMIT_MAX", DefaultRateLimit)),
		RateLimitWindow:    envDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	mode, err := payments.ParseMode(envString("PAYMENT_MODE", string(payments.ModeDisabled)))
	if err != nil {
		return nil, err
	}
	cfg.PaymentMode = mode

	teeMode, err := tee.ParseMode(envString("TEE_MODE", string(tee.ModeAuto)))
	if err != nil {
		return nil, err
	}
	cfg.TEEMode = teeMode

	if cfg.PaymentMode != payments.ModeDisabled && cfg.PaymentRecipient == "" {
		return nil, fmt.Errorf("PAYMENT_RECIPIENT is required when PAYMENT_MODE is %s", cfg.PaymentMode)
	}
	return cfg, nil
}

// PaymentEnabled reports whether the x402 gate is active.
func (c *Config) PaymentEnabled() bool { return c.PaymentMode != payments.ModeDisabled }

// ChainEnabled reports whether on-chain features (settlement, identity,
// reputation) can be wired.
func (c *Config) ChainEnabled() bool {
	return c.ChainRPCURL != "" && c.ProverPrivateKey != ""
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
		return fallback
	}
	return n
}

// envDuration accepts either a Go duration string ("30s") or a bare number
// of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn("Ignoring unparseable duration", "key", key, "value", v)
	return fallback
}
