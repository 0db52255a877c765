package pendingpool

import (
	"math/big"
	"testing"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTx(seed byte, proto, token string, seenAgo time.Duration) domain.PendingTx {
	var h domain.Hash
	h[0] = seed
	return domain.PendingTx{
		Hash:        h,
		Value:       big.NewInt(1),
		ProtocolTag: proto,
		Token:       token,
		FirstSeen:   time.Now().Add(-seenAgo),
	}
}

func TestIngestAndGet(t *testing.T) {
	s := New(10, time.Minute, nil)
	tx := mkTx(1, "uniswap_v2", "0xabc", 0)
	s.Ingest(tx)

	got, ok := s.Get(tx.Hash)
	require.True(t, ok)
	assert.Equal(t, tx.Hash, got.Hash)
	assert.Equal(t, 1, s.Len())
}

func TestIngestDuplicateIsNoOp(t *testing.T) {
	s := New(10, time.Minute, nil)
	tx := mkTx(1, "", "", 0)
	s.Ingest(tx)
	s.Ingest(tx)
	assert.Equal(t, 1, s.Len())
}

func TestCapacityEvictsLRU(t *testing.T) {
	s := New(2, time.Minute, nil)
	tx1 := mkTx(1, "", "", 0)
	tx2 := mkTx(2, "", "", 0)
	tx3 := mkTx(3, "", "", 0)

	s.Ingest(tx1)
	s.Ingest(tx2)
	s.Ingest(tx3) // should evict tx1 (least recently touched)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(tx1.Hash)
	assert.False(t, ok)
	_, ok = s.Get(tx3.Hash)
	assert.True(t, ok)
}

func TestEvictExpired(t *testing.T) {
	s := New(10, 100*time.Millisecond, nil)
	old := mkTx(1, "", "", time.Second)
	fresh := mkTx(2, "", "", 0)
	s.Ingest(old)
	s.Ingest(fresh)

	n := s.EvictExpired(time.Now())
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(fresh.Hash)
	assert.True(t, ok)
}

func TestQueryRelevantFiltersByWatchList(t *testing.T) {
	s := New(10, time.Minute, []string{"uniswap_v2"})
	in := mkTx(1, "uniswap_v2", "", 0)
	out := mkTx(2, "sushiswap", "", 0)
	s.Ingest(in)
	s.Ingest(out)

	relevant := s.QueryRelevant()
	require.Len(t, relevant, 1)
	assert.Equal(t, in.Hash, relevant[0].Hash)
}

func TestByTokenIndexConsistentAfterRemove(t *testing.T) {
	s := New(10, time.Minute, nil)
	tx := mkTx(1, "", "0xtoken", 0)
	s.Ingest(tx)
	assert.Len(t, s.ByToken("0xtoken"), 1)

	s.Remove(tx.Hash)
	assert.Len(t, s.ByToken("0xtoken"), 0)
	_, ok := s.Get(tx.Hash)
	assert.False(t, ok)
}
