// Package strategy implements the strategy contract and the five
// concrete strategy families of spec.md §4.5: arbitrage, front-run,
// sandwich, JIT liquidity, and new-pool sniper.
//
// Grounded on aristath-sentinel/trader/internal/modules/opportunities/
// calculators' OpportunityCalculator interface and CalculatorRegistry.
package strategy

import (
	"math/big"
	"time"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
)

// Observation is whatever the scheduler delivers to Analyze: a new
// pending tx for front-run/sandwich/JIT, a pool-creation event for the
// sniper, or a periodic probe for arbitrage (spec.md §4.5).
type Observation interface{}

// PendingTxObservation wraps a newly observed victim candidate.
type PendingTxObservation struct {
	Tx domain.PendingTx
}

// PoolCreatedObservation wraps a pool-creation event for the sniper.
type PoolCreatedObservation struct {
	Factory      domain.Address
	Pool         domain.Address
	Token        domain.Address
	InitialDepth *big.Int
	Block        uint64
}

// ProbeObservation is the periodic tick-driven probe arbitrage runs on;
// it carries no payload beyond the tick itself.
type ProbeObservation struct{}

// PoolView is the read-only pool/reserve access every strategy consults
// (spec.md §4.3/§4.4: numeric kernel and flash-loan planner sit behind
// this rather than each strategy touching storage directly).
type PoolView interface {
	Pool(addr domain.Address) (domain.PoolState, bool)
	Pools() []domain.Address                         // every pool known to the observer, cycle-enumeration seeds
	Neighbors(addr domain.Address) []domain.Address // pools reachable in one hop, for cycle enumeration
	CodeExists(addr domain.Address) bool             // token code-presence check, used by the sniper
}

// FinancingPlanner is the subset of the flash-loan planner's contract a
// strategy needs to ask "can this be financed, and at what cost".
type FinancingPlanner interface {
	Select(amount *big.Int, estimatedGasCost *big.Int) (venueID string, ok bool)
	Snapshot(venueID string) (domain.ProviderSnapshot, bool)
}

// Snapshots bundles the read-only collaborators Analyze consults, so its
// signature doesn't grow every time a new strategy needs another one
// (spec.md §4.5: "must be pure relative to the provided snapshots").
type Snapshots struct {
	Pools     PoolView
	Financing FinancingPlanner
	Cfg       config.Config
}

// Strategy is the per-family contract from spec.md §4.5.
type Strategy interface {
	// ID is the stable identifier used for cooldown tracking and logging.
	ID() string

	// IsReady enforces per-strategy cooldown and warm-up.
	IsReady(now, lastExec time.Time, cfg config.Config) bool

	// Analyze inspects tick/observation against the given snapshots and
	// returns a Result: Void when no opportunity exists, a value on
	// success. Must be deterministic given the same inputs.
	Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity]

	// Build asks the bundle builder to shape the transactions for a
	// previously analyzed opportunity. May decline (Void) if
	// construction-time conditions invalidate it.
	Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle]
}
