package poolindex

import (
	"math/big"
	"testing"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestUpdate_BuildsBidirectionalAdjacency(t *testing.T) {
	idx := New()
	a, b := domain.Address{0x1}, domain.Address{0x2}

	idx.Update(domain.PoolState{Pool: a, Reserve0: big.NewInt(100), Reserve1: big.NewInt(100)}, []domain.Address{b})

	assert.ElementsMatch(t, []domain.Address{b}, idx.Neighbors(a))
	assert.ElementsMatch(t, []domain.Address{a}, idx.Neighbors(b))
	assert.ElementsMatch(t, []domain.Address{a}, idx.Pools())
}

func TestCodeExists_DefaultsFalse(t *testing.T) {
	idx := New()
	token := domain.Address{0x9}
	assert.False(t, idx.CodeExists(token))
	idx.MarkCodeExists(token)
	assert.True(t, idx.CodeExists(token))
}

func TestPruneStaleBefore_RemovesOldPoolAndItsEdges(t *testing.T) {
	idx := New()
	a, b := domain.Address{0x1}, domain.Address{0x2}
	idx.Update(domain.PoolState{Pool: a, Reserve0: big.NewInt(1), Reserve1: big.NewInt(1), LastChangeBlk: 10}, []domain.Address{b})
	idx.Update(domain.PoolState{Pool: b, Reserve0: big.NewInt(1), Reserve1: big.NewInt(1), LastChangeBlk: 100}, nil)

	removed := idx.PruneStaleBefore(50)

	assert.Equal(t, 1, removed)
	_, ok := idx.Pool(a)
	assert.False(t, ok)
	assert.Empty(t, idx.Neighbors(b))
}
