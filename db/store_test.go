package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomidenbridge/types"
)

var (
	evmChain   = types.ChainRef{ChainID: 11155111, ChainKind: types.ChainKindEVM}
	midenChain = types.ChainRef{ChainID: 7, ChainKind: types.ChainKindMiden}
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleExit(block uint64, amount string) Exit {
	return Exit{
		From:         evmChain,
		To:           midenChain,
		AssetOrigin:  types.ChainRef{ChainID: 0, ChainKind: types.ChainKindEVM},
		AssetAddress: "0x0000000000000000000000000000000000000000",
		AssetAmount:  NewAmount(decimal.RequireFromString(amount)),
		Receiver:     StrPtr("0x0000000000000000000000000000000000000abc"),
		BlockNumber:  block,
	}
}

func isFulfilled(t *testing.T, s *Store, exitID uint64) bool {
	t.Helper()
	var n int64
	require.NoError(t, s.Client().Model(&Fulfill{}).Where("exit_id = ?", exitID).Count(&n).Error)
	return n > 0
}

func insertExits(t *testing.T, s *Store, n int) []uint64 {
	t.Helper()
	exits := make([]Exit, 0, n)
	for i := 0; i < n; i++ {
		exits = append(exits, sampleExit(uint64(100+i), "100"))
	}
	require.NoError(t, s.InsertExits(context.Background(), exits))
	ids := make([]uint64, 0, n)
	for _, e := range exits {
		require.NotZero(t, e.ID)
		ids = append(ids, e.ID)
	}
	return ids
}

func TestOpen_FileBackedSQLite(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DriverSQLite, filepath.Join(dir, "nested", "relayer.db"), true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "nested", "relayer.db"))
	assert.NoError(t, s.Close())

	_, err = Open("mysql", "whatever", false)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestStore_Watermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.LastScannedBlock(ctx, evmChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), w)

	require.NoError(t, s.InsertScan(ctx, &ScanRecord{Chain: evmChain, StartBlock: 1, EndBlock: 100}))
	require.NoError(t, s.InsertScan(ctx, &ScanRecord{Chain: evmChain, StartBlock: 101, EndBlock: 140}))
	require.NoError(t, s.InsertScan(ctx, &ScanRecord{Chain: midenChain, StartBlock: 1, EndBlock: 9000}))

	w, err = s.LastScannedBlock(ctx, evmChain)
	require.NoError(t, err)
	assert.Equal(t, uint64(140), w)

	// same id under another kind is another ledger
	w, err = s.LastScannedBlock(ctx, types.ChainRef{ChainID: evmChain.ChainID, ChainKind: types.ChainKindMiden})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), w)

	recs, err := s.ScanRecords(ctx, evmChain)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, recs[0].EndBlock+1, recs[1].StartBlock)
	assert.False(t, recs[0].CreatedAt.IsZero())

	assert.Error(t, s.InsertScan(ctx, &ScanRecord{Chain: evmChain, StartBlock: 200, EndBlock: 150}))
}

func TestStore_TransactionIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx *Store) error {
		require.NoError(t, tx.InsertExits(ctx, []Exit{sampleExit(5, "1")}))
		require.NoError(t, tx.InsertScan(ctx, &ScanRecord{Chain: evmChain, StartBlock: 1, EndBlock: 10}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, total, err := s.PendingExitsPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	w, err := s.LastScannedBlock(ctx, evmChain)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestStore_PendingExitsPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := insertExits(t, s, 7)

	page, total, err := s.PendingExitsPage(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, page, 3)
	assert.Equal(t, ids[:3], exitIDs(page))

	page, _, err = s.PendingExitsPage(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[6:], exitIDs(page))

	require.NoError(t, s.Fulfill(ctx, ids[:3]))

	page, total, err = s.PendingExitsPage(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, ids[3:6], exitIDs(page))

	// fulfilled ids never come back on any page
	for idx := 0; idx < 3; idx++ {
		page, _, err = s.PendingExitsPage(ctx, 3, idx)
		require.NoError(t, err)
		for _, e := range page {
			assert.NotContains(t, ids[:3], e.ID)
		}
	}

	_, _, err = s.PendingExitsPage(ctx, 0, 0)
	assert.Error(t, err)
}

func TestStore_FulfillRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := insertExits(t, s, 2)

	require.NoError(t, s.Fulfill(ctx, ids[:1]))
	assert.Error(t, s.Fulfill(ctx, ids[:1]))

	// a batch containing an already fulfilled exit fails as a whole
	err := s.Transaction(ctx, func(tx *Store) error {
		return tx.Fulfill(ctx, ids)
	})
	assert.Error(t, err)

	assert.False(t, isFulfilled(t, s, ids[1]))
	assert.True(t, isFulfilled(t, s, ids[0]))
}

func TestStore_RejectsUnknownChainKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := sampleExit(1, "1")
	bad.To = types.ChainRef{ChainID: 7, ChainKind: "solana"}
	assert.Error(t, s.InsertExits(ctx, []Exit{sampleExit(1, "1"), bad}))

	_, total, err := s.PendingExitsPage(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	err = s.InsertScan(ctx, &ScanRecord{Chain: types.ChainRef{ChainID: 1}, StartBlock: 1, EndBlock: 2})
	assert.Error(t, err)
}

func TestStore_LatestExitBlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.LatestExitBlock(ctx, evmChain.ChainID)
	require.NoError(t, err)
	assert.Zero(t, b)

	insertExits(t, s, 4)
	b, err = s.LatestExitBlock(ctx, evmChain.ChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(103), b)

	b, err = s.LatestExitBlock(ctx, midenChain.ChainID)
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestStore_AmountKeepsPrecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 2^256 - 1
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	exit := sampleExit(1, huge)
	exit.Calldata = []byte{0xde, 0xad}
	exit.AssetDecimals = new(uint8)
	*exit.AssetDecimals = 18
	require.NoError(t, s.InsertExits(ctx, []Exit{exit}))

	page, _, err := s.PendingExitsPage(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, huge, page[0].AssetAmount.String())
	assert.Equal(t, []byte{0xde, 0xad}, page[0].Calldata)
	assert.Equal(t, midenChain, page[0].To)
	require.NotNil(t, page[0].AssetDecimals)
	assert.Equal(t, uint8(18), *page[0].AssetDecimals)
	assert.Nil(t, page[0].AssetName)
}

func exitIDs(exits []Exit) []uint64 {
	ids := make([]uint64, 0, len(exits))
	for _, e := range exits {
		ids = append(ids, e.ID)
	}
	return ids
}
