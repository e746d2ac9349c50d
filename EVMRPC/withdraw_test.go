package EVMRPC

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type climbingHead struct {
	head  atomic.Uint64
	calls atomic.Int32
	fail  int32
}

func (c *climbingHead) BlockNumber(ctx context.Context) (uint64, error) {
	n := c.calls.Add(1)
	if n <= c.fail {
		return 0, errors.New("rpc down")
	}
	return c.head.Add(1), nil
}

func TestWaitForDepth(t *testing.T) {
	h := &climbingHead{fail: 2}
	h.head.Store(99)

	err := WaitForDepth(context.Background(), h, 100, 3, time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h.head.Load(), uint64(102))
}

func TestWaitForDepth_ZeroConfirmationsMeansInclusion(t *testing.T) {
	h := &climbingHead{}
	h.head.Store(99)

	require.NoError(t, WaitForDepth(context.Background(), h, 100, 0, time.Millisecond))
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestWaitForDepth_ContextDone(t *testing.T) {
	h := &climbingHead{fail: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WaitForDepth(ctx, h, 100, 1, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewWithdrawContract(t *testing.T) {
	// well-known hardhat account #0
	key := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	w, err := NewWithdrawContract(common.HexToAddress("0x2bA64EFB7A4Ec8983E22A49c81fa216AC33f383A"), 31337, key, nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), w.Signer())

	_, err = NewWithdrawContract(common.Address{}, 1, "not-a-key", nil)
	assert.Error(t, err)
}

func TestWithdrawABI_PacksIssueToken(t *testing.T) {
	data, err := WithdrawABI.Pack("issueToken",
		common.HexToAddress("0xABC"),
		common.Big1,
		uint32(0),
		common.Address{},
		"Wrapped Ether",
		"WETH",
		uint8(18),
	)
	require.NoError(t, err)
	assert.Equal(t, WithdrawABI.Methods["issueToken"].ID, data[:4])
}
