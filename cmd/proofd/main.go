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

// proofd is the autonomous proving agent daemon. It serves the REST, A2A
// and MCP frontends over one listener and drives proof generation through
// the configured TEE provider.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/api"
	"github.com/nullifier-labs/proofd/attestation"
	"github.com/nullifier-labs/proofd/chain"
	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/internal/config"
	"github.com/nullifier-labs/proofd/kvstore"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/prover"
	"github.com/nullifier-labs/proofd/ratelimit"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
	"github.com/nullifier-labs/proofd/tee"
	"github.com/nullifier-labs/proofd/worker"
)

const (
	taskTTL    = 24 * time.Hour
	contextTTL = 24 * time.Hour
	cacheTTL   = time.Hour
	paymentTTL = 7 * 24 * time.Hour
)

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LevelInfo)
	log.SetDefault(log.NewLogger(glogger))

	if err := run(); err != nil {
		log.Error("Fatal error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PROOFD_ENV_FILE"))
	if err != nil {
		return err
	}
	log.Info("Starting proofd", "version", cfg.Version, "port", cfg.Port,
		"payments", cfg.PaymentMode, "tee", cfg.TEEMode, "circuits", len(circuits.All()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage. Redis when configured, in-process memory otherwise.
	var kv kvstore.Store
	if cfg.RedisURL != "" {
		kv, err = kvstore.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect key-value store: %w", err)
		}
	} else {
		log.Warn("No REDIS_URL set, using in-memory store; state will not survive restarts")
		kv = kvstore.NewMemory()
	}
	defer kv.Close()

	tasks := task.NewStore(kv, taskTTL, contextTTL)
	bus := task.NewBus(task.DefaultBuffer)
	requests := flow.NewRequestStore(kv, cfg.SigningTTL, cfg.BaseURL)
	facilitator := payments.NewFacilitator(kv, paymentTTL)
	gate := payments.NewGate(cfg.PaymentMode, cfg.PaymentRecipient, cfg.Price)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitMax > 0 {
		limiter = ratelimit.New(kv, "api", cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	// The prover toolchain and its TEE wrapper. Auto mode probes the
	// enclave and falls back to local proving.
	driver := prover.NewDriver(prover.Config{
		WitnessBin: cfg.WitnessBin,
		ProverBin:  cfg.ProverBin,
		CircuitDir: cfg.CircuitDir,
	})
	provider := tee.Resolve(ctx, cfg.TEEMode, driver, cfg.EnclaveCID, cfg.EnclavePort, 0)
	log.Info("TEE provider resolved", "mode", provider.Mode())

	defaultChainID := uint64(chain.ChainBaseSepolia)
	if cfg.PaymentMode == payments.ModeMainnet {
		defaultChainID = chain.ChainBase
	}

	// On-chain pieces are optional: without an RPC endpoint and key the
	// agent still proves, it just cannot settle or register.
	var (
		wallet     *chain.Wallet
		settlement *payments.SettlementWorker
		reputation *chain.Reputation
	)
	if cfg.ChainEnabled() {
		wallet, err = chain.NewWallet(ctx, cfg.ChainRPCURL, cfg.ProverPrivateKey,
			common.HexToAddress(cfg.PaymentMode.USDCAddress()))
		if err != nil {
			return fmt.Errorf("chain wallet: %w", err)
		}
		log.Info("Chain wallet ready", "address", wallet.Address(), "chain", wallet.ChainID())

		if cfg.PaymentEnabled() {
			settlement = payments.NewSettlementWorker(facilitator, wallet,
				common.HexToAddress(cfg.PaymentRecipient), cfg.SettleInterval)
			settlement.Start()
			defer settlement.Stop()
		}
		if cfg.ReputationRegistry != "" {
			reputation = chain.NewReputation(wallet, common.HexToAddress(cfg.ReputationRegistry))
			defer reputation.Wait()
		}
	} else {
		log.Warn("Chain features disabled, set CHAIN_RPC_URL and PROVER_PRIVATE_KEY to enable")
	}

	deps := skills.Deps{
		Tasks:          tasks,
		Requests:       requests,
		TEE:            provider,
		Cache:          prover.NewCache(kv, cacheTTL),
		Verifier:       chain.NewVerifier(cfg.ChainRPCURL, defaultChainID),
		Attestation:    attestation.NewClient(cfg.AttestationURL),
		Facilitator:    facilitator,
		PaymentMode:    cfg.PaymentMode,
		Price:          cfg.Price,
		BaseURL:        cfg.BaseURL,
		DefaultChainID: defaultChainID,
	}
	if reputation != nil {
		deps.Reputation = reputation
	}
	dispatcher := skills.NewDispatcher(deps)

	flows := flow.NewOrchestrator(kv, requests,
		func(ctx context.Context, req *flow.Request) (string, error) {
			t := task.New("", skills.SkillGenerateProof, map[string]any{
				"circuitId": req.CircuitID,
				"scope":     req.Scope,
				"requestId": req.ID,
			})
			return t.ID, tasks.Create(ctx, t)
		},
		func(ctx context.Context, taskID string) (task.State, error) {
			t, err := tasks.Get(ctx, taskID)
			if err != nil {
				return "", err
			}
			return t.Status.State, nil
		},
		!cfg.PaymentEnabled())

	pool := worker.New(tasks, bus, dispatcher, cfg.Workers, cfg.PollInterval)
	pool.Start()
	defer pool.Stop()

	server := api.NewServer(api.Config{
		Port:        cfg.Port,
		BaseURL:     cfg.BaseURL,
		AgentName:   cfg.AgentName,
		Version:     cfg.Version,
		Price:       cfg.Price,
		PaymentMode: cfg.PaymentMode,
		SendTimeout: cfg.SendTimeout,
	}, dispatcher, tasks, bus, requests, flows, gate, facilitator, provider, limiter)

	// Identity registration is best effort and must not delay startup.
	if wallet != nil && cfg.IdentityRegistry != "" {
		registrar := chain.NewRegistrar(wallet, common.HexToAddress(cfg.IdentityRegistry))
		go registrar.AutoRegister(ctx, server.AgentCard())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
