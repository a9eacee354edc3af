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

// Package prover drives the ZK prover binary: it marshals circuit inputs,
// invokes the witness-generation and proving subprocesses, and collects
// the resulting proof bytes. It also owns the deterministic proof cache.
package prover

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/circuits"
)

// StageTimeout bounds each prover subprocess stage.
const StageTimeout = 120 * time.Second

// Config locates the prover toolchain.
type Config struct {
	WitnessBin string // witness generator (nargo)
	ProverBin  string // proving backend (bb)
	CircuitDir string // compiled circuit packages, one subdir per circuit id
	WorkDir    string // parent for per-invocation scratch dirs ("" = os temp)

	StageTimeout time.Duration // StageTimeout when zero
}

// Result is one completed proof.
type Result struct {
	Proof           string `json:"proof"`           // hex
	PublicInputs    string `json:"publicInputs"`    // hex
	ProofWithInputs string `json:"proofWithInputs"` // hex
}

// Driver invokes the prover toolchain for one circuit at a time.
type Driver struct {
	cfg Config
	log log.Logger
}

// NewDriver creates a prover driver.
func NewDriver(cfg Config) *Driver {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = StageTimeout
	}
	return &Driver{cfg: cfg, log: log.New("module", "prover")}
}

// Prove generates a proof for circuitID over in. The scratch directory is
// removed on every exit path.
func (d *Driver) Prove(ctx context.Context, circuitID string, in *Inputs) (*Result, error) {
	if _, ok := circuits.Get(circuitID); !ok {
		return nil, fmt.Errorf("unknown circuit %q", circuitID)
	}
	input, err := in.CircuitTOML()
	if err != nil {
		return nil, fmt.Errorf("marshal circuit inputs: %w", err)
	}

	workDir, err := os.MkdirTemp(d.cfg.WorkDir, "prove-"+circuitID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	proverFile := filepath.Join(workDir, "Prover.toml")
	if err := os.WriteFile(proverFile, []byte(input), 0o600); err != nil {
		return nil, fmt.Errorf("write prover input: %w", err)
	}

	circuitPkg := filepath.Join(d.cfg.CircuitDir, circuitID)
	witnessFile := filepath.Join(workDir, "witness.gz")
	start := time.Now()

	// Stage 1: witness generation.
	if err := d.runStage(ctx, "witness", d.cfg.WitnessBin,
		"execute",
		"--program-dir", circuitPkg,
		"--prover-file", proverFile,
		"--witness-path", witnessFile,
	); err != nil {
		return nil, err
	}

	// Stage 2: proof generation with a keccak oracle hash, so the proof
	// verifies cheaply on the EVM.
	if err := d.runStage(ctx, "prove", d.cfg.ProverBin,
		"prove",
		"-b", filepath.Join(circuitPkg, "target", circuitID+".json"),
		"-w", witnessFile,
		"--oracle_hash", "keccak",
		"-o", workDir,
	); err != nil {
		return nil, err
	}

	proof, err := os.ReadFile(filepath.Join(workDir, "proof"))
	if err != nil {
		return nil, fmt.Errorf("read proof output: %w", err)
	}
	publicInputs, err := os.ReadFile(filepath.Join(workDir, "public_inputs"))
	if err != nil {
		return nil, fmt.Errorf("read public inputs output: %w", err)
	}

	d.log.Info("Proof generated", "circuit", circuitID, "elapsed", time.Since(start).Round(time.Millisecond), "bytes", len(proof))
	return &Result{
		Proof:           hexutil.Encode(proof),
		PublicInputs:    hexutil.Encode(publicInputs),
		ProofWithInputs: hexutil.Encode(append(append([]byte{}, publicInputs...), proof...)),
	}, nil
}

// runStage runs one subprocess stage under the stage timeout, surfacing
// captured stderr in the error.
func (d *Driver) runStage(ctx context.Context, stage, bin string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.StageTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.log.Debug("Running prover stage", "stage", stage, "bin", bin)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("prover %s stage timed out after %s", stage, d.cfg.StageTimeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("prover %s stage failed: %s", stage, msg)
	}
	return nil
}
