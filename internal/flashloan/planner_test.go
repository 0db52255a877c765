package flashloan

import (
	"math/big"
	"testing"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	liquidity map[domain.Address]*big.Int
	block     uint64
	fail      map[domain.Address]bool
}

func (s stubFetcher) VenueLiquidity(addr domain.Address) (*big.Int, uint64, error) {
	if s.fail[addr] {
		return nil, 0, assertErr
	}
	return s.liquidity[addr], s.block, nil
}

var assertErr = &stubError{"fetch failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

func TestSelect_PicksMinCostWithTieBreak(t *testing.T) {
	venues := []VenueConfig{
		{VenueID: "balancer", Address: addr(1), FeeFraction: big.NewRat(1, 10000)},
		{VenueID: "aave", Address: addr(2), FeeFraction: big.NewRat(9, 10000)},
		{VenueID: "zeta", Address: addr(3), FeeFraction: big.NewRat(1, 10000)}, // same fee as balancer
	}
	fetcher := stubFetcher{
		liquidity: map[domain.Address]*big.Int{
			addr(1): big.NewInt(1000),
			addr(2): big.NewInt(1000),
			addr(3): big.NewInt(1000),
		},
		block: 100,
	}
	p := New(venues, big.NewRat(9, 10), time.Minute, fetcher, zerolog.Nop())
	p.Refresh()

	venueID, ok := p.Select(big.NewInt(100), big.NewInt(0))
	require.True(t, ok)
	assert.Equal(t, "balancer", venueID) // alphabetically before "zeta" on fee tie
}

func TestSelect_NoneWhenInsufficientLiquidity(t *testing.T) {
	venues := []VenueConfig{{VenueID: "aave", Address: addr(1), FeeFraction: big.NewRat(9, 10000)}}
	fetcher := stubFetcher{liquidity: map[domain.Address]*big.Int{addr(1): big.NewInt(10)}, block: 1}
	p := New(venues, big.NewRat(1, 1), time.Minute, fetcher, zerolog.Nop())
	p.Refresh()

	_, ok := p.Select(big.NewInt(1000), big.NewInt(0))
	assert.False(t, ok)
}

func TestRefresh_FailurePreservesLastKnownMarkedStale(t *testing.T) {
	venue := VenueConfig{VenueID: "aave", Address: addr(1), FeeFraction: big.NewRat(9, 10000)}
	fetcher := stubFetcher{
		liquidity: map[domain.Address]*big.Int{addr(1): big.NewInt(1000)},
		block:     1,
	}
	p := New([]VenueConfig{venue}, big.NewRat(1, 1), time.Minute, fetcher, zerolog.Nop())
	p.Refresh()

	snap, ok := p.Snapshot("aave")
	require.True(t, ok)
	assert.False(t, snap.Stale)

	fetcher.fail = map[domain.Address]bool{addr(1): true}
	p.fetcher = fetcher
	p.Refresh()

	snap, ok = p.Snapshot("aave")
	require.True(t, ok)
	assert.True(t, snap.Stale)
	// stale snapshots are excluded from Select entirely
	_, ok = p.Select(big.NewInt(100), big.NewInt(0))
	assert.False(t, ok)
}
