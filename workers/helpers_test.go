package workers

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gomidenbridge/EVMRPC"
	"gomidenbridge/db"
	"gomidenbridge/types"
)

const (
	testEVMChain   = uint64(11155111)
	testMidenChain = uint64(7)
)

var testBridge = common.HexToAddress("0x528e26b25a34a4A5d0dbDa1d57D318153d2ED582")

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRegistry() *types.ChainRegistry {
	return types.NewChainRegistry([]uint64{testEVMChain}, []uint64{testMidenChain})
}

// fakeChain serves a fixed head and a set of logs filtered by block range.
type fakeChain struct {
	mu      sync.Mutex
	chainID uint64
	head    uint64
	headErr error
	logsErr error
	logs    []ethtypes.Log
	queries []ethereum.FilterQuery
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(f.chainID), nil
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []ethtypes.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

type bridgeLeaf struct {
	leafType     EVMRPC.LeafType
	originNet    uint32
	originAddr   common.Address
	destNet      uint32
	destAddr     common.Address
	amount       *big.Int
	metadata     []byte
	depositCount uint32
}

func makeBridgeLog(t *testing.T, leaf bridgeLeaf, block uint64, index uint) ethtypes.Log {
	t.Helper()
	amount := leaf.amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	data, err := EVMRPC.BridgeABI.Events["BridgeEvent"].Inputs.Pack(
		uint8(leaf.leafType),
		leaf.originNet,
		leaf.originAddr,
		leaf.destNet,
		leaf.destAddr,
		amount,
		leaf.metadata,
		leaf.depositCount,
	)
	require.NoError(t, err)
	return ethtypes.Log{
		Address:     testBridge,
		Topics:      []common.Hash{EVMRPC.BridgeEventTopic},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block<<16 | uint64(index))),
	}
}

// depositLogs returns the asset and message leaf of one bridged transfer.
func depositLogs(t *testing.T, block uint64, depositCount uint32, amount int64, receiver common.Address, destNet uint32) []ethtypes.Log {
	t.Helper()
	assetMeta, err := EVMRPC.EncodeAssetMetadata(EVMRPC.AssetMetadata{Name: "Test Token", Symbol: "TT", Decimals: 6})
	require.NoError(t, err)
	msgMeta, err := EVMRPC.EncodeMessageMetadata(EVMRPC.MessageMetadata{
		DependsOnIndex:  big.NewInt(int64(depositCount) + 1),
		OriginalNetwork: uint32(testEVMChain),
		OriginalAddress: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		CallData:        []byte{0xca, 0xfe},
	})
	require.NoError(t, err)

	return []ethtypes.Log{
		makeBridgeLog(t, bridgeLeaf{
			leafType:     EVMRPC.LeafTypeAsset,
			originNet:    uint32(testEVMChain),
			originAddr:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
			destNet:      destNet,
			amount:       big.NewInt(amount),
			metadata:     assetMeta,
			depositCount: depositCount,
		}, block, 0),
		makeBridgeLog(t, bridgeLeaf{
			leafType:     EVMRPC.LeafTypeMessage,
			originNet:    uint32(testEVMChain),
			destNet:      destNet,
			destAddr:     receiver,
			metadata:     msgMeta,
			depositCount: depositCount + 1,
		}, block, 1),
	}
}

func pendingExits(t *testing.T, store *db.Store) []db.Exit {
	t.Helper()
	exits, _, err := store.PendingExitsPage(context.Background(), 1000, 0)
	require.NoError(t, err)
	return exits
}

// seedExits inserts n pending exits towards the given destination.
func seedExits(t *testing.T, store *db.Store, n int, to types.ChainRef) []db.Exit {
	t.Helper()
	symbol := "TT"
	decimals := uint8(6)
	exits := make([]db.Exit, 0, n)
	for i := 0; i < n; i++ {
		receiver := common.BigToAddress(big.NewInt(int64(0xabc + i))).Hex()
		exits = append(exits, db.Exit{
			From:          types.ChainRef{ChainID: testEVMChain, ChainKind: types.ChainKindEVM},
			To:            to,
			AssetOrigin:   types.ChainRef{ChainID: testEVMChain, ChainKind: types.ChainKindEVM},
			AssetAddress:  "0x1111111111111111111111111111111111111111",
			AssetAmount:   db.NewAmount(decimal.NewFromInt(int64(100 + i))),
			AssetSymbol:   &symbol,
			AssetDecimals: &decimals,
			Receiver:      &receiver,
			Calldata:      []byte{0x01, byte(i)},
			BlockNumber:   uint64(10 + i),
		})
	}
	require.NoError(t, store.InsertExits(context.Background(), exits))
	return exits
}

// recordingDispatcher delivers everything except the exit ids in failOn.
type recordingDispatcher struct {
	mu        sync.Mutex
	kind      types.ChainKind
	failOn    map[uint64]error
	delivered []uint64
}

func (d *recordingDispatcher) Kind() types.ChainKind {
	return d.kind
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, exit db.Exit) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[exit.ID]; err != nil {
		return "", err
	}
	d.delivered = append(d.delivered, exit.ID)
	return "ref", nil
}

func (d *recordingDispatcher) Delivered() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.delivered...)
}

func isFulfilled(t *testing.T, store *db.Store, exitID uint64) bool {
	t.Helper()
	var n int64
	require.NoError(t, store.Client().Model(&db.Fulfill{}).Where("exit_id = ?", exitID).Count(&n).Error)
	return n > 0
}
