// Package flashloan implements the flash-loan planner (spec.md §4.4):
// holds provider snapshots, refreshes them on an interval, and selects the
// cheapest venue with sufficient liquidity for a (token, amount).
//
// Snapshot publication is copy-on-write (spec.md §5: "refresher builds a
// new snapshot and atomically publishes it; readers never block writers"),
// grounded on the teacher's market_regime index-snapshot refresh pattern
// (atomic.Pointer swap, readers never touching a mutex).
package flashloan

import (
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/rs/zerolog"
)

// ReserveFetcher is the subset of the chain-client contract (spec.md §1:
// "chain client" is an external collaborator) that the planner needs to
// refresh a venue's liquidity.
type ReserveFetcher interface {
	VenueLiquidity(venueAddress domain.Address) (*big.Int, uint64, error)
}

// snapshotTable is the copy-on-write payload: venue id -> snapshot.
type snapshotTable map[string]domain.ProviderSnapshot

// Planner selects the cheapest flash-loan venue for a given (token,
// amount). Select is total (spec.md §4.4): it never returns an error,
// only a venue or "none".
type Planner struct {
	table atomic.Pointer[snapshotTable]

	venues       []VenueConfig
	policy       *big.Rat // max-loanable = current-liquidity * policy
	staleAfter   time.Duration
	fetcher      ReserveFetcher
	log          zerolog.Logger
}

// VenueConfig seeds one provider identity. Defaults per spec.md §9 Open
// Question #1 (fee table from core/flash_loan.py): AAVE 0.09%, dYdX 0%,
// Balancer 0.01%, Uniswap 0.05%.
type VenueConfig struct {
	VenueID     string
	Address     domain.Address
	FeeFraction *big.Rat
}

// DefaultVenues returns the union of provider identities with the fee
// table resolved per spec.md §9 Open Question #1.
func DefaultVenues() []VenueConfig {
	return []VenueConfig{
		{VenueID: "aave", FeeFraction: big.NewRat(9, 10000)},
		{VenueID: "dydx", FeeFraction: big.NewRat(0, 1)},
		{VenueID: "balancer", FeeFraction: big.NewRat(1, 10000)},
		{VenueID: "uniswap", FeeFraction: big.NewRat(5, 10000)},
	}
}

// New creates a Planner. policyMultiple bounds max-loanable as a fraction
// of current liquidity (e.g. big.NewRat(9,10) == 90%).
func New(venues []VenueConfig, policyMultiple *big.Rat, staleAfter time.Duration, fetcher ReserveFetcher, log zerolog.Logger) *Planner {
	p := &Planner{
		venues:     venues,
		policy:     policyMultiple,
		staleAfter: staleAfter,
		fetcher:    fetcher,
		log:        log.With().Str("component", "flashloan_planner").Logger(),
	}
	empty := make(snapshotTable)
	p.table.Store(&empty)
	return p
}

// Refresh queries the chain client for each venue's current liquidity and
// atomically publishes a new snapshot table. A single venue's failure
// marks only that venue stale, preserving its last-known snapshot rather
// than invalidating the whole table (spec.md §4.4).
func (p *Planner) Refresh() {
	current := *p.table.Load()
	next := make(snapshotTable, len(p.venues))
	for k, v := range current {
		next[k] = v
	}

	for _, venue := range p.venues {
		liquidity, block, err := p.fetcher.VenueLiquidity(venue.Address)
		if err != nil {
			p.log.Warn().Err(err).Str("venue", venue.VenueID).Msg("flash-loan refresh failed, marking stale")
			if prev, ok := next[venue.VenueID]; ok {
				prev.Stale = true
				next[venue.VenueID] = prev
			}
			continue
		}

		maxLoanable := applyPolicy(liquidity, p.policy)
		next[venue.VenueID] = domain.ProviderSnapshot{
			VenueID:          venue.VenueID,
			VenueAddress:     venue.Address,
			CurrentLiquidity: liquidity,
			MaxLoanable:      maxLoanable,
			FeeFraction:      venue.FeeFraction,
			ObservedAtBlock:  block,
			Stale:            false,
		}
	}

	p.table.Store(&next)
}

func applyPolicy(liquidity *big.Int, policy *big.Rat) *big.Int {
	if policy == nil {
		return new(big.Int).Set(liquidity)
	}
	liquidityRat := new(big.Rat).SetInt(liquidity)
	maxRat := new(big.Rat).Mul(liquidityRat, policy)
	out := new(big.Int)
	out.Quo(maxRat.Num(), maxRat.Denom())
	return out
}

// candidate is an internal scoring row used by Select.
type candidate struct {
	snapshot domain.ProviderSnapshot
	cost     *big.Rat
}

// Select returns the venue ID with the minimum cost
// (feeFraction*amount + estimatedGasCost) among providers with sufficient
// liquidity, ties broken by lower fee fraction then alphabetic venue ID.
// Returns ("", false) if none qualify — spec.md §4.4: total, never errors.
func (p *Planner) Select(amount *big.Int, estimatedGasCost *big.Int) (string, bool) {
	table := *p.table.Load()

	var candidates []candidate
	for _, snap := range table {
		if snap.Stale {
			continue
		}
		if snap.CurrentLiquidity == nil || snap.CurrentLiquidity.Cmp(amount) < 0 {
			continue
		}
		amountRat := new(big.Rat).SetInt(amount)
		feeCost := new(big.Rat).Mul(snap.FeeFraction, amountRat)
		gasCostRat := new(big.Rat).SetInt(estimatedGasCost)
		totalCost := new(big.Rat).Add(feeCost, gasCostRat)
		candidates = append(candidates, candidate{snapshot: snap, cost: totalCost})
	}

	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if cmp := candidates[i].cost.Cmp(candidates[j].cost); cmp != 0 {
			return cmp < 0
		}
		if cmp := candidates[i].snapshot.FeeFraction.Cmp(candidates[j].snapshot.FeeFraction); cmp != 0 {
			return cmp < 0
		}
		return candidates[i].snapshot.VenueID < candidates[j].snapshot.VenueID
	})

	return candidates[0].snapshot.VenueID, true
}

// Snapshot returns a copy of the current snapshot for venueID, if present.
func (p *Planner) Snapshot(venueID string) (domain.ProviderSnapshot, bool) {
	table := *p.table.Load()
	snap, ok := table[venueID]
	return snap, ok
}

// RefreshID tags one refresh cycle so log lines across venues can be
// correlated by callers (e.g. the scheduler's FlashloanRefreshJob).
func RefreshID() string { return uuid.NewString() }
