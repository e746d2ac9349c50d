package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const withdrawContractABI = `[{
	"type": "function",
	"name": "issueToken",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "receiver", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "originTokenNetwork", "type": "uint32"},
		{"name": "originTokenAddress", "type": "address"},
		{"name": "tokenName", "type": "string"},
		{"name": "tokenSymbol", "type": "string"},
		{"name": "tokenDecimals", "type": "uint8"}
	],
	"outputs": []
}]`

var WithdrawABI = mustParseABI(withdrawContractABI)

// IssueTokenArgs are the arguments of the withdraw contract's issueToken.
type IssueTokenArgs struct {
	Receiver           common.Address
	Amount             *big.Int
	OriginTokenNetwork uint32
	OriginTokenAddress common.Address
	TokenName          string
	TokenSymbol        string
	TokenDecimals      uint8
}

// WithdrawBackend is what a withdraw contract call needs from a node.
// *ethclient.Client satisfies it.
type WithdrawBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// WithdrawContract submits signed issueToken calls.
type WithdrawContract struct {
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	backend  WithdrawBackend
	contract *bind.BoundContract
}

func NewWithdrawContract(address common.Address, chainID uint64, privateKeyHex string, backend WithdrawBackend) (*WithdrawContract, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "error instantiating private key")
	}
	return &WithdrawContract{
		address:  address,
		chainID:  new(big.Int).SetUint64(chainID),
		key:      key,
		backend:  backend,
		contract: bind.NewBoundContract(address, WithdrawABI, backend, backend, backend),
	}, nil
}

func (w *WithdrawContract) Address() common.Address {
	return w.address
}

func (w *WithdrawContract) Signer() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

// SignerBalance is the signer's native balance at the latest block.
func (w *WithdrawContract) SignerBalance(ctx context.Context) (*big.Int, error) {
	balance, err := w.backend.BalanceAt(ctx, w.Signer(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "error getting signer balance")
	}
	return balance, nil
}

// IssueToken sends the transaction; gas is estimated by the node.
func (w *WithdrawContract) IssueToken(ctx context.Context, args IssueTokenArgs) (*ethtypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "error instantiating contract call")
	}
	nonce, err := w.backend.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, errors.Wrap(err, "error getting nonce for wallet")
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.Value = big.NewInt(0)
	auth.Context = ctx

	tx, err := w.contract.Transact(auth, "issueToken",
		args.Receiver,
		args.Amount,
		args.OriginTokenNetwork,
		args.OriginTokenAddress,
		args.TokenName,
		args.TokenSymbol,
		args.TokenDecimals,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error calling issueToken")
	}
	return tx, nil
}

// WaitConfirmed waits until tx is mined successfully and buried under
// confirmations blocks (the inclusion block counts as the first).
func (w *WithdrawContract) WaitConfirmed(ctx context.Context, tx *ethtypes.Transaction, confirmations uint64, poll time.Duration) (*ethtypes.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "error waiting for %s", tx.Hash().Hex())
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, errors.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	if err := WaitForDepth(ctx, w.backend, receipt.BlockNumber.Uint64(), confirmations, poll); err != nil {
		return receipt, err
	}
	return receipt, nil
}

type blockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// WaitForDepth blocks until the chain head is at least
// inclusionBlock + confirmations - 1, or ctx is done.
func WaitForDepth(ctx context.Context, b blockNumberer, inclusionBlock, confirmations uint64, poll time.Duration) error {
	if confirmations == 0 {
		confirmations = 1
	}
	target := inclusionBlock + confirmations - 1
	for {
		head, err := b.BlockNumber(ctx)
		if err == nil && head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for block %d", target)
		case <-time.After(poll):
		}
	}
}
