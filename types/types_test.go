package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChainRegistry_KindOf(t *testing.T) {
	r := NewChainRegistry([]uint64{1, 11155111}, []uint64{7})

	assert.Equal(t, ChainKindEVM, r.KindOf(1))
	assert.Equal(t, ChainKindMiden, r.KindOf(7))
	// unknown ids fall back to evm
	assert.Equal(t, ChainKindEVM, r.KindOf(999))

	assert.True(t, r.IsEVM(11155111))
	assert.False(t, r.IsEVM(999))
	assert.True(t, r.IsMiden(7))

	assert.Equal(t, ChainRef{ChainID: 7, ChainKind: ChainKindMiden}, r.Ref(7))
	assert.Equal(t, "miden:7", r.Ref(7).String())
}

func TestChainKind_Valid(t *testing.T) {
	assert.True(t, ChainKindEVM.Valid())
	assert.True(t, ChainKindMiden.Valid())
	assert.False(t, ChainKind("solana").Valid())
}
