package workers

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gomidenbridge/EVMRPC"
	"gomidenbridge/config"
	"gomidenbridge/db"
	"gomidenbridge/types"
)

// EVMScanner records finalized bridge exits of one EVM chain.
type EVMScanner struct {
	chain    config.EVMChainConfig
	ref      types.ChainRef
	bridge   common.Address
	rpc      EVMRPC.ChainReader
	store    *db.Store
	registry *types.ChainRegistry
	log      zerolog.Logger
}

func NewEVMScanner(chain config.EVMChainConfig, rpc EVMRPC.ChainReader, store *db.Store, registry *types.ChainRegistry, log zerolog.Logger) *EVMScanner {
	return &EVMScanner{
		chain:    chain,
		ref:      types.ChainRef{ChainID: chain.ChainID, ChainKind: types.ChainKindEVM},
		bridge:   common.HexToAddress(chain.BridgeAddress),
		rpc:      rpc,
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "evm_scanner").Uint64("chain", chain.ChainID).Logger(),
	}
}

// Verify fails when the rpc serves a different chain than configured.
func (s *EVMScanner) Verify(ctx context.Context) error {
	return EVMRPC.VerifyChainID(ctx, s.rpc, s.chain.ChainID)
}

func (s *EVMScanner) Task(log zerolog.Logger) *Task {
	return NewTask("evm_scan:"+strconv.FormatUint(s.chain.ChainID, 10), s.chain.PollInterval, s.Tick, log)
}

// scanWindow returns the next inclusive block window, or ok=false when there
// is nothing finalized past the watermark yet.
func scanWindow(watermark, minStart, head, gap, batch uint64) (start, end uint64, ok bool) {
	start = watermark + 1
	if minStart > start {
		start = minStart
	}
	if head < gap || batch == 0 {
		return start, 0, false
	}
	end = start + batch - 1
	if finalized := head - gap; finalized < end {
		end = finalized
	}
	if end <= start {
		return start, end, false
	}
	return start, end, true
}

// Tick scans one window. Exits and the scan record commit together; any
// failure leaves the watermark where it was.
func (s *EVMScanner) Tick(ctx context.Context) error {
	head, err := s.rpc.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "error getting last EVM block")
	}
	watermark, err := s.store.LastScannedBlock(ctx, s.ref)
	if err != nil {
		return err
	}

	start, end, ok := scanWindow(watermark, s.chain.StartBlock, head, s.chain.FinalizationGap, s.chain.BatchSize)
	if !ok {
		s.log.Debug().Uint64("head", head).Uint64("watermark", watermark).Msg("no finalized blocks to scan")
		return nil
	}
	s.log.Info().Uint64("from", start).Uint64("to", end).Uint64("head", head).Msg("scanning blocks")

	logs, err := s.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{s.bridge},
		Topics:    [][]common.Hash{{EVMRPC.BridgeEventTopic}},
	})
	if err != nil {
		return errors.Wrapf(err, "error querying logs %d-%d", start, end)
	}

	exits := s.exitsFromLogs(logs)

	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.InsertExits(ctx, exits); err != nil {
			return err
		}
		return tx.InsertScan(ctx, &db.ScanRecord{Chain: s.ref, StartBlock: start, EndBlock: end})
	})
	if err != nil {
		return errors.Wrapf(err, "error saving scan %d-%d", start, end)
	}

	label := s.ref.String()
	exitsRecorded.WithLabelValues(label).Add(float64(len(exits)))
	scanWindows.WithLabelValues(label).Inc()
	watermarkGauge.WithLabelValues(label).Set(float64(end))
	s.log.Info().Int("logs", len(logs)).Int("exits", len(exits)).Uint64("to", end).Msg("scan saved")
	return nil
}

func (s *EVMScanner) exitsFromLogs(logs []ethtypes.Log) []db.Exit {
	label := s.ref.String()
	events := make([]EVMRPC.BridgeEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := EVMRPC.DecodeBridgeEvent(l)
		if err != nil {
			decodeFailures.WithLabelValues(label).Inc()
			s.log.Warn().Err(err).Msg("skipping undecodable log")
			continue
		}
		if ev.MetadataErr != nil {
			decodeFailures.WithLabelValues(label).Inc()
			s.log.Warn().Err(ev.MetadataErr).Str("tx", ev.TxHash.Hex()).Uint32("depositCount", ev.DepositCount).Msg("bridge event metadata ignored")
		}
		events = append(events, ev)
	}

	pairs, unmatched := EVMRPC.PairEvents(events)
	for _, a := range unmatched {
		pairingMisses.WithLabelValues(label).Inc()
		s.log.Debug().Str("tx", a.TxHash.Hex()).Uint32("depositCount", a.DepositCount).Msg("asset leaf without message leaf dropped")
	}

	exits := make([]db.Exit, 0, len(pairs))
	for _, p := range pairs {
		exits = append(exits, pairToExit(p, s.registry))
	}
	return exits
}

func pairToExit(p EVMRPC.BridgePair, registry *types.ChainRegistry) db.Exit {
	msg := p.Message.MessageMetadata
	callAddress := p.Message.CallAddress().Hex()

	exit := db.Exit{
		From:         registry.Ref(uint64(p.Asset.OriginNetwork)),
		To:           registry.Ref(uint64(p.Asset.DestinationNetwork)),
		AssetOrigin:  registry.Ref(uint64(msg.OriginalNetwork)),
		AssetAddress: msg.OriginalAddress.Hex(),
		AssetAmount:  db.NewAmount(decimal.NewFromBigInt(p.Asset.Amount, 0)),
		Sender:       db.StrPtr(p.Asset.OriginAddress.Hex()),
		Receiver:     db.StrPtr(callAddress),
		CallAddress:  db.StrPtr(callAddress),
		TxID:         db.StrPtr(p.Asset.TxHash.Hex()),
		BlockNumber:  p.Asset.BlockNumber,
	}
	if len(msg.CallData) > 0 {
		exit.Calldata = msg.CallData
	}
	if meta := p.Asset.AssetMetadata; meta != nil {
		exit.AssetName = db.StrPtr(meta.Name)
		exit.AssetSymbol = db.StrPtr(meta.Symbol)
		decimals := meta.Decimals
		exit.AssetDecimals = &decimals
	}
	return exit
}

// calldataHex renders stored calldata the way destination services expect it.
func calldataHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}
