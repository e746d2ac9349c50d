package workers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gomidenbridge/EVMRPC"
	"gomidenbridge/MidenRPC"
	"gomidenbridge/db"
	"gomidenbridge/types"
)

type mockMinter struct {
	mock.Mock
}

func (m *mockMinter) Mint(ctx context.Context, req MidenRPC.MintRequest, key string) (*MidenRPC.MintedNote, error) {
	args := m.Called(ctx, req, key)
	note, _ := args.Get(0).(*MidenRPC.MintedNote)
	return note, args.Error(1)
}

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) IssueToken(ctx context.Context, a EVMRPC.IssueTokenArgs) (*ethtypes.Transaction, error) {
	args := m.Called(ctx, a)
	tx, _ := args.Get(0).(*ethtypes.Transaction)
	return tx, args.Error(1)
}

func (m *mockIssuer) WaitConfirmed(ctx context.Context, tx *ethtypes.Transaction, confirmations uint64, poll time.Duration) (*ethtypes.Receipt, error) {
	args := m.Called(ctx, tx, confirmations, poll)
	r, _ := args.Get(0).(*ethtypes.Receipt)
	return r, args.Error(1)
}

func testExit() db.Exit {
	symbol := "TT"
	decimals := uint8(6)
	receiver := "0x0000000000000000000000000000000000000aBc"
	return db.Exit{
		ID:            42,
		From:          types.ChainRef{ChainID: testMidenChain, ChainKind: types.ChainKindMiden},
		To:            types.ChainRef{ChainID: testEVMChain, ChainKind: types.ChainKindEVM},
		AssetOrigin:   types.ChainRef{ChainID: testEVMChain, ChainKind: types.ChainKindEVM},
		AssetAddress:  "0x1111111111111111111111111111111111111111",
		AssetAmount:   db.NewAmount(decimal.RequireFromString("1000000000000000000000")),
		AssetSymbol:   &symbol,
		AssetDecimals: &decimals,
		Receiver:      &receiver,
		Calldata:      []byte{0xbe, 0xef},
	}
}

func TestDispatchers_For(t *testing.T) {
	d := Dispatchers{
		testMidenChain: NewMidenDispatcher(testMidenChain, &mockMinter{}, zerolog.Nop()),
	}
	disp, err := d.For(types.ChainRef{ChainID: testMidenChain, ChainKind: types.ChainKindMiden})
	require.NoError(t, err)
	assert.Equal(t, types.ChainKindMiden, disp.Kind())

	_, err = d.For(types.ChainRef{ChainID: 1, ChainKind: types.ChainKindEVM})
	assert.ErrorIs(t, err, ErrUnknownDestination)
	_, err = d.For(types.ChainRef{ChainID: testMidenChain, ChainKind: types.ChainKindEVM})
	assert.ErrorIs(t, err, ErrUnknownDestination)
}

func TestExitKey(t *testing.T) {
	a := testExit()
	b := testExit()
	assert.Equal(t, ExitKey(a), ExitKey(b))

	b.ID = 43
	assert.NotEqual(t, ExitKey(a), ExitKey(b))
	b.ID = a.ID
	b.To.ChainID = 1
	assert.NotEqual(t, ExitKey(a), ExitKey(b))
}

func TestMintRequest(t *testing.T) {
	exit := testExit()
	req, err := mintRequest(exit)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1000000000000000000000"), req.Amount)
	assert.Equal(t, "0xbeef", req.Recipient)
	assert.Equal(t, "TT", req.Asset.AssetSymbol)
	assert.Equal(t, uint8(6), req.Asset.Decimals)
	assert.Equal(t, uint32(testEVMChain), req.Asset.OriginNetwork)

	native := testExit()
	native.AssetOrigin = types.ChainRef{ChainID: 0, ChainKind: types.ChainKindEVM}
	native.AssetAddress = "0x0000000000000000000000000000000000000000"
	native.AssetSymbol = nil
	native.AssetDecimals = nil
	req, err = mintRequest(native)
	require.NoError(t, err)
	assert.Equal(t, "WETH", req.Asset.AssetSymbol)
	assert.Equal(t, uint8(18), req.Asset.Decimals)

	// a zero address on a real chain is not the native sentinel
	zeroOnChain := testExit()
	zeroOnChain.AssetAddress = "0x0000000000000000000000000000000000000000"
	req, err = mintRequest(zeroOnChain)
	require.NoError(t, err)
	assert.Equal(t, "TT", req.Asset.AssetSymbol)
}

func TestMintRequest_OriginNetworkOverflow(t *testing.T) {
	exit := testExit()
	exit.AssetOrigin.ChainID = math.MaxUint32 + 1
	_, err := mintRequest(exit)
	assert.Error(t, err)

	m := &mockMinter{}
	_, err = NewMidenDispatcher(testMidenChain, m, zerolog.Nop()).Dispatch(context.Background(), exit)
	assert.Error(t, err)
	m.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything, mock.Anything)
}

func TestMidenDispatcher(t *testing.T) {
	exit := testExit()
	req, err := mintRequest(exit)
	require.NoError(t, err)
	m := &mockMinter{}
	m.On("Mint", mock.Anything, req, ExitKey(exit)).
		Return(&MidenRPC.MintedNote{NoteID: "note-1"}, nil).Once()

	ref, err := NewMidenDispatcher(testMidenChain, m, zerolog.Nop()).Dispatch(context.Background(), exit)
	require.NoError(t, err)
	assert.Equal(t, "note-1", ref)
	m.AssertExpectations(t)
}

func TestMidenDispatcher_Failure(t *testing.T) {
	m := &mockMinter{}
	m.On("Mint", mock.Anything, mock.Anything, mock.Anything).Return(nil, MidenRPC.ErrBadStatus)

	_, err := NewMidenDispatcher(testMidenChain, m, zerolog.Nop()).Dispatch(context.Background(), testExit())
	assert.ErrorIs(t, err, MidenRPC.ErrBadStatus)
}

func TestIssueTokenArgs(t *testing.T) {
	args, err := issueTokenArgs(testExit())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xabc"), args.Receiver)
	assert.Equal(t, "1000000000000000000000", args.Amount.String())
	assert.Equal(t, uint32(testEVMChain), args.OriginTokenNetwork)
	assert.Equal(t, "TT wrapped", args.TokenName)
	assert.Equal(t, "TT", args.TokenSymbol)
	assert.Equal(t, uint8(6), args.TokenDecimals)

	named := testExit()
	name := "Test Token"
	named.AssetName = &name
	args, err = issueTokenArgs(named)
	require.NoError(t, err)
	assert.Equal(t, "Test Token", args.TokenName)

	noReceiver := testExit()
	noReceiver.Receiver = nil
	_, err = issueTokenArgs(noReceiver)
	assert.Error(t, err)

	fractional := testExit()
	fractional.AssetAmount = db.NewAmount(decimal.RequireFromString("1.5"))
	_, err = issueTokenArgs(fractional)
	assert.Error(t, err)
}

func TestEVMDispatcher(t *testing.T) {
	exit := testExit()
	want, err := issueTokenArgs(exit)
	require.NoError(t, err)
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})

	issuer := &mockIssuer{}
	issuer.On("IssueToken", mock.Anything, want).Return(tx, nil).Once()
	// a zero finalization gap still waits for inclusion
	issuer.On("WaitConfirmed", mock.Anything, tx, uint64(1), time.Millisecond).Return(&ethtypes.Receipt{Status: 1}, nil).Once()

	ref, err := NewEVMDispatcher(testEVMChain, issuer, 0, time.Millisecond, zerolog.Nop()).Dispatch(context.Background(), exit)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash().Hex(), ref)
	issuer.AssertExpectations(t)
}

func TestEVMDispatcher_WaitsForGap(t *testing.T) {
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 2, Gas: 21000, GasPrice: big.NewInt(1)})

	issuer := &mockIssuer{}
	issuer.On("IssueToken", mock.Anything, mock.Anything).Return(tx, nil)
	issuer.On("WaitConfirmed", mock.Anything, tx, uint64(12), time.Millisecond).Return(nil, errors.New("transaction reverted"))

	_, err := NewEVMDispatcher(testEVMChain, issuer, 12, time.Millisecond, zerolog.Nop()).Dispatch(context.Background(), testExit())
	assert.Error(t, err)
	issuer.AssertExpectations(t)
}
