package handlers

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gomidenbridge/db"
	"gomidenbridge/types"
)

// Store is the read side of the ledger the handlers expose.
type Store interface {
	LastScannedBlock(ctx context.Context, chain types.ChainRef) (uint64, error)
	LatestExitBlock(ctx context.Context, chainID uint64) (uint64, error)
	PendingExitsPage(ctx context.Context, pageSize, pageIndex int) ([]db.Exit, int64, error)
}

// SignerBalance reports the native balance of a destination signer.
type SignerBalance interface {
	Signer() common.Address
	SignerBalance(ctx context.Context) (*big.Int, error)
}

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type APIStateResponse struct {
	Status       string       `json:"status"`
	Message      string       `json:"message"`
	PendingExits int64        `json:"pendingExits"`
	Chains       []ChainState `json:"chains"`
}

type ChainState struct {
	Chain           types.ChainRef `json:"chain"`
	Watermark       uint64         `json:"watermark"`
	LatestExitBlock uint64         `json:"latestExitBlock"`
}

type APIPendingExitsResponse struct {
	Status string    `json:"status"`
	Total  int64     `json:"total"`
	Page   int       `json:"page"`
	Size   int       `json:"size"`
	Exits  []db.Exit `json:"exits"`
}

type APIBlockResponse struct {
	Status string         `json:"status"`
	Chain  types.ChainRef `json:"chain"`
	Block  uint64         `json:"block"`
}

type APIBalanceResponse struct {
	Status  string         `json:"status"`
	Chain   types.ChainRef `json:"chain"`
	Address string         `json:"address"`
	Balance string         `json:"balance"`
}
