package types

import "fmt"

// ChainKind tells which ledger family a chain id belongs to.
// It is persisted next to the chain id so records stay readable after config changes.
type ChainKind string

const (
	ChainKindEVM   ChainKind = "evm"
	ChainKindMiden ChainKind = "miden"
)

func (k ChainKind) Valid() bool {
	return k == ChainKindEVM || k == ChainKindMiden
}

// ChainRef jointly identifies one ledger.
type ChainRef struct {
	ChainID   uint64    `gorm:"column:chain_id;not null" json:"chainId"`
	ChainKind ChainKind `gorm:"column:chain_kind;type:varchar(16);not null" json:"chainKind"`
}

func (c ChainRef) String() string {
	return fmt.Sprintf("%s:%d", c.ChainKind, c.ChainID)
}

// ChainRegistry resolves chain kinds from the configured id sets.
// Built once at startup and never mutated afterwards.
type ChainRegistry struct {
	evm   map[uint64]struct{}
	miden map[uint64]struct{}
}

func NewChainRegistry(evmChainIDs, midenChainIDs []uint64) *ChainRegistry {
	r := &ChainRegistry{
		evm:   make(map[uint64]struct{}, len(evmChainIDs)),
		miden: make(map[uint64]struct{}, len(midenChainIDs)),
	}
	for _, id := range evmChainIDs {
		r.evm[id] = struct{}{}
	}
	for _, id := range midenChainIDs {
		r.miden[id] = struct{}{}
	}
	return r
}

// KindOf returns miden for ids in the Miden set and evm for everything else,
// unknown ids included. Unknown destinations are rejected later by the relayer.
func (r *ChainRegistry) KindOf(chainID uint64) ChainKind {
	if _, ok := r.miden[chainID]; ok {
		return ChainKindMiden
	}
	return ChainKindEVM
}

func (r *ChainRegistry) Ref(chainID uint64) ChainRef {
	return ChainRef{ChainID: chainID, ChainKind: r.KindOf(chainID)}
}

func (r *ChainRegistry) IsEVM(chainID uint64) bool {
	_, ok := r.evm[chainID]
	return ok
}

func (r *ChainRegistry) IsMiden(chainID uint64) bool {
	_, ok := r.miden[chainID]
	return ok
}
