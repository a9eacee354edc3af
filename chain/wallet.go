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

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// erc20ABI covers the single write the settlement path needs.
var erc20ABI = mustParseABI(`[{
	"type": "function", "name": "transfer", "stateMutability": "nonpayable",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "amount", "type": "uint256"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`)

// Wallet signs and sends transactions with the agent's operator key. It
// implements payments.Transferer through TransferUSDC.
type Wallet struct {
	key     *ecdsa.PrivateKey
	backend Backend
	chainID *big.Int
	usdc    common.Address
	log     log.Logger
}

// NewWallet dials rpcURL, resolves the chain id and binds the operator key.
func NewWallet(ctx context.Context, rpcURL, hexKey string, usdc common.Address) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return newWallet(ctx, client, key, usdc)
}

func newWallet(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, usdc common.Address) (*Wallet, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	return &Wallet{
		key:     key,
		backend: backend,
		chainID: chainID,
		usdc:    usdc,
		log:     log.New("module", "chain/wallet"),
	}, nil
}

// Address is the operator address derived from the key.
func (w *Wallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// ChainID is the connected chain.
func (w *Wallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

// TransferUSDC sends amount (6-decimal base units) of USDC to the payee and
// waits for the transfer to be mined.
func (w *Wallet) TransferUSDC(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack transfer: %w", err)
	}
	receipt, err := w.Transact(ctx, w.usdc, data)
	if err != nil {
		return common.Hash{}, err
	}
	w.log.Info("USDC transfer mined", "to", to, "amount", amount, "tx", receipt.TxHash)
	return receipt.TxHash, nil
}

// Transact signs a contract call against to, submits it and waits for the
// receipt, failing on a reverted execution.
func (w *Wallet) Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	from := w.Address()
	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gas price: %w", err)
	}
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, w.backend, signed)
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signed.Hash())
	}
	return receipt, nil
}

// call performs a read-only call against to.
func (w *Wallet) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return w.backend.CallContract(ctx, ethereum.CallMsg{From: w.Address(), To: &to, Data: data}, nil)
}
