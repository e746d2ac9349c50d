package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gomidenbridge/EVMRPC"
	"gomidenbridge/MidenRPC"
	"gomidenbridge/db"
	"gomidenbridge/types"
)

// ErrUnknownDestination is returned for exits whose destination chain has no
// registered dispatcher of the matching kind.
var ErrUnknownDestination = errors.New("unknown destination chain")

const (
	nativeSymbol   = "WETH"
	nativeDecimals = 18
)

// exitNamespace seeds the deterministic per-exit delivery keys.
var exitNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gomidenbridge/exit"))

// ExitKey identifies the delivery of one exit to its destination. Retries of
// the same exit produce the same key.
func ExitKey(exit db.Exit) string {
	return uuid.NewSHA1(exitNamespace, []byte(fmt.Sprintf("%d:%d", exit.To.ChainID, exit.ID))).String()
}

// Dispatcher delivers an exit to one destination chain and returns a
// reference to the delivery (note id, tx hash).
type Dispatcher interface {
	Kind() types.ChainKind
	Dispatch(ctx context.Context, exit db.Exit) (string, error)
}

// Dispatchers is the destination registry, keyed by chain id.
type Dispatchers map[uint64]Dispatcher

// For resolves the dispatcher of a destination; the recorded kind must match.
func (d Dispatchers) For(to types.ChainRef) (Dispatcher, error) {
	disp, ok := d[to.ChainID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDestination, "chain %d", to.ChainID)
	}
	if disp.Kind() != to.ChainKind {
		return nil, errors.Wrapf(ErrUnknownDestination, "chain %d is %s, exit says %s", to.ChainID, disp.Kind(), to.ChainKind)
	}
	return disp, nil
}

// Minter is the part of the Miden service a dispatcher uses.
type Minter interface {
	Mint(ctx context.Context, req MidenRPC.MintRequest, idempotencyKey string) (*MidenRPC.MintedNote, error)
}

type MidenDispatcher struct {
	api Minter
	log zerolog.Logger
}

func NewMidenDispatcher(chainID uint64, api Minter, log zerolog.Logger) *MidenDispatcher {
	return &MidenDispatcher{
		api: api,
		log: log.With().Str("component", "miden_dispatcher").Uint64("chain", chainID).Logger(),
	}
}

func (d *MidenDispatcher) Kind() types.ChainKind {
	return types.ChainKindMiden
}

func (d *MidenDispatcher) Dispatch(ctx context.Context, exit db.Exit) (string, error) {
	d.log.Debug().Uint64("exit", exit.ID).Msg("exit is about to relay to miden chain")
	req, err := mintRequest(exit)
	if err != nil {
		return "", err
	}
	note, err := d.api.Mint(ctx, req, ExitKey(exit))
	if err != nil {
		return "", errors.Wrapf(err, "error minting exit %d", exit.ID)
	}
	d.log.Debug().Uint64("exit", exit.ID).Str("note", note.NoteID).Str("tx", note.TransactionID).Msg("deposit relayed to miden")
	return note.NoteID, nil
}

// isNativeAsset reports the sentinel for the origin chain's native coin.
func isNativeAsset(exit db.Exit) bool {
	return exit.AssetOrigin.ChainID == 0 && common.HexToAddress(exit.AssetAddress) == (common.Address{})
}

func mintRequest(exit db.Exit) (MidenRPC.MintRequest, error) {
	if exit.AssetOrigin.ChainID > math.MaxUint32 {
		return MidenRPC.MintRequest{}, errors.Errorf("exit %d origin network %d does not fit uint32", exit.ID, exit.AssetOrigin.ChainID)
	}
	asset := MidenRPC.Asset{
		OriginNetwork: uint32(exit.AssetOrigin.ChainID),
		OriginAddress: exit.AssetAddress,
	}
	if exit.AssetSymbol != nil {
		asset.AssetSymbol = *exit.AssetSymbol
	}
	if exit.AssetDecimals != nil {
		asset.Decimals = *exit.AssetDecimals
	}
	if isNativeAsset(exit) {
		asset.AssetSymbol = nativeSymbol
		asset.Decimals = nativeDecimals
	}
	return MidenRPC.MintRequest{
		Asset:     asset,
		Recipient: calldataHex(exit.Calldata),
		Amount:    json.Number(exit.AssetAmount.String()),
	}, nil
}

// TokenIssuer is the withdraw contract as seen by the EVM dispatcher.
type TokenIssuer interface {
	IssueToken(ctx context.Context, args EVMRPC.IssueTokenArgs) (*ethtypes.Transaction, error)
	WaitConfirmed(ctx context.Context, tx *ethtypes.Transaction, confirmations uint64, poll time.Duration) (*ethtypes.Receipt, error)
}

type EVMDispatcher struct {
	contract      TokenIssuer
	confirmations uint64
	poll          time.Duration
	log           zerolog.Logger
}

// NewEVMDispatcher waits for max(1, finalizationGap) confirmations per call.
func NewEVMDispatcher(chainID uint64, contract TokenIssuer, finalizationGap uint64, poll time.Duration, log zerolog.Logger) *EVMDispatcher {
	confirmations := finalizationGap
	if confirmations < 1 {
		confirmations = 1
	}
	return &EVMDispatcher{
		contract:      contract,
		confirmations: confirmations,
		poll:          poll,
		log:           log.With().Str("component", "evm_dispatcher").Uint64("chain", chainID).Logger(),
	}
}

func (d *EVMDispatcher) Kind() types.ChainKind {
	return types.ChainKindEVM
}

func (d *EVMDispatcher) Dispatch(ctx context.Context, exit db.Exit) (string, error) {
	args, err := issueTokenArgs(exit)
	if err != nil {
		return "", err
	}
	tx, err := d.contract.IssueToken(ctx, args)
	if err != nil {
		return "", errors.Wrapf(err, "error relaying exit %d", exit.ID)
	}
	d.log.Debug().Uint64("exit", exit.ID).Str("tx", tx.Hash().Hex()).Msg("transaction sent")

	if _, err := d.contract.WaitConfirmed(ctx, tx, d.confirmations, d.poll); err != nil {
		return "", errors.Wrapf(err, "exit %d", exit.ID)
	}
	d.log.Debug().Uint64("exit", exit.ID).Str("tx", tx.Hash().Hex()).Uint64("confirmations", d.confirmations).Msg("transaction verified")
	return tx.Hash().Hex(), nil
}

func issueTokenArgs(exit db.Exit) (EVMRPC.IssueTokenArgs, error) {
	if exit.Receiver == nil || !common.IsHexAddress(*exit.Receiver) {
		return EVMRPC.IssueTokenArgs{}, errors.Errorf("exit %d has no evm receiver", exit.ID)
	}
	if !common.IsHexAddress(exit.AssetAddress) {
		return EVMRPC.IssueTokenArgs{}, errors.Errorf("exit %d has malformed asset address %q", exit.ID, exit.AssetAddress)
	}
	if exit.AssetOrigin.ChainID > math.MaxUint32 {
		return EVMRPC.IssueTokenArgs{}, errors.Errorf("exit %d origin network %d does not fit uint32", exit.ID, exit.AssetOrigin.ChainID)
	}
	if exit.AssetAmount.IsNegative() || !exit.AssetAmount.Equal(exit.AssetAmount.Truncate(0)) {
		return EVMRPC.IssueTokenArgs{}, errors.Errorf("exit %d amount %s is not a token unit count", exit.ID, exit.AssetAmount)
	}

	var symbol, name string
	var decimals uint8
	if exit.AssetSymbol != nil {
		symbol = *exit.AssetSymbol
	}
	if exit.AssetDecimals != nil {
		decimals = *exit.AssetDecimals
	}
	if exit.AssetName != nil && *exit.AssetName != "" {
		name = *exit.AssetName
	} else {
		name = symbol + " wrapped"
	}

	return EVMRPC.IssueTokenArgs{
		Receiver:           common.HexToAddress(*exit.Receiver),
		Amount:             exit.AssetAmount.BigInt(),
		OriginTokenNetwork: uint32(exit.AssetOrigin.ChainID),
		OriginTokenAddress: common.HexToAddress(exit.AssetAddress),
		TokenName:          name,
		TokenSymbol:        symbol,
		TokenDecimals:      decimals,
	}, nil
}
