package workers

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gomidenbridge/MidenRPC"
	"gomidenbridge/config"
	"gomidenbridge/db"
	"gomidenbridge/types"
)

// MidenPoller is what the Miden scanner needs from the Miden service.
type MidenPoller interface {
	Poll(ctx context.Context, fromHeight uint64) (*MidenRPC.PolledEvents, error)
}

// MidenScanner records bridge notes of one Miden chain. The service only
// reports committed notes, so no finalization gap applies.
type MidenScanner struct {
	chain    config.MidenChainConfig
	ref      types.ChainRef
	api      MidenPoller
	store    *db.Store
	registry *types.ChainRegistry
	log      zerolog.Logger
}

func NewMidenScanner(chain config.MidenChainConfig, api MidenPoller, store *db.Store, registry *types.ChainRegistry, log zerolog.Logger) *MidenScanner {
	return &MidenScanner{
		chain:    chain,
		ref:      types.ChainRef{ChainID: chain.ChainID, ChainKind: types.ChainKindMiden},
		api:      api,
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "miden_scanner").Uint64("chain", chain.ChainID).Logger(),
	}
}

func (s *MidenScanner) Task(log zerolog.Logger) *Task {
	return NewTask("miden_scan:"+strconv.FormatUint(s.chain.ChainID, 10), s.chain.PollInterval, s.Tick, log)
}

func (s *MidenScanner) Tick(ctx context.Context) error {
	watermark, err := s.store.LastScannedBlock(ctx, s.ref)
	if err != nil {
		return err
	}
	start := watermark + 1
	if s.chain.StartBlock > start {
		start = s.chain.StartBlock
	}

	polled, err := s.api.Poll(ctx, start)
	if err != nil {
		return errors.Wrapf(err, "error polling miden from %d", start)
	}
	if polled.ChainTip < start {
		s.log.Debug().Uint64("chainTip", polled.ChainTip).Uint64("from", start).Msg("no new blocks")
		return nil
	}

	exits := make([]db.Exit, 0, len(polled.Events))
	for _, ev := range polled.Events {
		exits = append(exits, s.eventToExit(ev))
	}
	s.log.Info().Int("exits", len(exits)).Uint64("from", start).Uint64("to", polled.ChainTip).Msg("found exits from chain")

	err = s.store.Transaction(ctx, func(tx *db.Store) error {
		if err := tx.InsertExits(ctx, exits); err != nil {
			return err
		}
		return tx.InsertScan(ctx, &db.ScanRecord{Chain: s.ref, StartBlock: start, EndBlock: polled.ChainTip})
	})
	if err != nil {
		return errors.Wrapf(err, "error saving scan %d-%d", start, polled.ChainTip)
	}

	label := s.ref.String()
	exitsRecorded.WithLabelValues(label).Add(float64(len(exits)))
	scanWindows.WithLabelValues(label).Inc()
	watermarkGauge.WithLabelValues(label).Set(float64(polled.ChainTip))
	s.log.Info().Uint64("to", polled.ChainTip).Msg("scan saved")
	return nil
}

func (s *MidenScanner) eventToExit(ev MidenRPC.ExitEvent) db.Exit {
	decimals := ev.Asset.Decimals
	exit := db.Exit{
		From:          s.ref,
		To:            s.registry.Ref(ev.DestinationChain),
		AssetOrigin:   s.registry.Ref(uint64(ev.Asset.OriginNetwork)),
		AssetAddress:  ev.Asset.OriginAddress,
		AssetAmount:   db.NewAmount(ev.Amount),
		AssetSymbol:   db.StrPtr(ev.Asset.AssetSymbol),
		AssetDecimals: &decimals,
		Receiver:      db.StrPtr(ev.Receiver),
		TxID:          db.StrPtr(ev.NoteID),
		BlockNumber:   ev.BlockNumber,
	}
	if ev.CallAddress != nil {
		exit.CallAddress = db.StrPtr(*ev.CallAddress)
	}
	if ev.CallData != nil && *ev.CallData != "" {
		data, err := hexutil.Decode(*ev.CallData)
		if err != nil {
			decodeFailures.WithLabelValues(s.ref.String()).Inc()
			s.log.Warn().Err(err).Str("note", ev.NoteID).Msg("malformed calldata ignored")
		} else {
			exit.Calldata = data
		}
	}
	return exit
}
