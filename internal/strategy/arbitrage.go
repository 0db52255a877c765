package strategy

import (
	"fmt"
	"math/big"
	"time"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/numerics"
)

const maxCycleLength = 3

// amountLadder is the preset sweep from spec.md §4.5 ("{0.1, 1, 2, 5}
// native units"), in wei at 18 decimals.
var amountLadder = []*big.Int{
	big.NewInt(100000000000000000),  // 0.1
	big.NewInt(1000000000000000000), // 1
	big.NewInt(2000000000000000000), // 2
	big.NewInt(5000000000000000000), // 5
}

// Arbitrage enumerates pool-connectivity cycles up to maxCycleLength and
// picks the maximum-profit amount on the best cycle, using no victim
// reference (spec.md §4.5).
type Arbitrage struct {
	GasCost *big.Int // estimated gas cost for one cycle traversal, native units
}

func (a *Arbitrage) ID() string { return string(domain.StrategyArbitrage) }

// IsReady fires on every cooldown-spaced probe; there is no warm-up
// beyond the shared strategy warm-up.
func (a *Arbitrage) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	if now.Sub(lastExec) < cfg.StrategyCooldown {
		return false
	}
	return true
}

func (a *Arbitrage) Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity] {
	if _, ok := obs.(ProbeObservation); !ok {
		return domain.Void[domain.Opportunity](fmt.Errorf("arbitrage: expects a periodic probe observation"))
	}

	gasCost := a.GasCost
	if gasCost == nil {
		gasCost = big.NewInt(0)
	}

	bestProfit := (*big.Int)(nil)
	var bestPath []domain.Address
	var bestPrincipal *big.Int

	for _, start := range snap.Pools.Pools() {
		cycles := enumerateCycles(snap.Pools, start, maxCycleLength)
		for _, cycle := range cycles {
			legs, ok := legsForCycle(snap.Pools, cycle)
			if !ok {
				continue
			}

			profits, err := numerics.ProfitSweep(legs, amountLadder, gasCost)
			if err != nil {
				continue
			}
			idx := numerics.BestProfit(profits)
			if idx < 0 {
				continue
			}

			if bestProfit == nil || profits[idx].Cmp(bestProfit) > 0 {
				bestProfit = profits[idx]
				bestPath = cycle
				bestPrincipal = amountLadder[idx]
			}
		}
	}

	if bestProfit == nil || bestProfit.Sign() <= 0 {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	return domain.Ok(domain.Opportunity{
		Strategy:        domain.StrategyArbitrage,
		Path:            bestPath,
		Principal:       bestPrincipal,
		ExpectedGross:   new(big.Int).Add(bestProfit, new(big.Int).Add(bestPrincipal, gasCost)),
		ExpectedGasCost: gasCost,
		ObservedAtBlock: tick.Number,
	})
}

func (a *Arbitrage) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	legs := make([]bundle.LegTemplate, len(opp.Path))
	for i, pool := range opp.Path {
		legs[i] = bundle.LegTemplate{
			To:           pool,
			GasLimit:     200000,
			Variant:      domain.TxEIP1559,
			ProfitPerGas: big.NewRat(int64(len(opp.Path)-i), 1), // stable ordering hint; builder re-sorts on ties only
		}
	}
	return builder.Build(opp, legs, bundle.ShapeArbitrage, params)
}

// enumerateCycles finds simple cycles starting and ending at start, with
// length in [2, maxLen], via bounded depth-first search over Neighbors.
// Determinism (spec.md §4.5 "reproducible results") relies on the
// PoolView returning neighbors in a stable order.
func enumerateCycles(pools PoolView, start domain.Address, maxLen int) [][]domain.Address {
	var cycles [][]domain.Address
	var path []domain.Address
	visited := map[domain.Address]bool{start: true}

	var dfs func(current domain.Address, depth int)
	dfs = func(current domain.Address, depth int) {
		if depth > maxLen {
			return
		}
		for _, next := range pools.Neighbors(current) {
			if next == start && depth >= 2 {
				cycle := append([]domain.Address(nil), path...)
				cycle = append(cycle, current)
				cycles = append(cycles, cycle)
				continue
			}
			if visited[next] || depth >= maxLen {
				continue
			}
			visited[next] = true
			path = append(path, current)
			dfs(next, depth+1)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}

	dfs(start, 1)
	return cycles
}

// legsForCycle resolves each pool in the cycle to a numerics.PathLeg,
// reading reserves in the cycle's traversal order.
func legsForCycle(pools PoolView, cycle []domain.Address) ([]numerics.PathLeg, bool) {
	legs := make([]numerics.PathLeg, 0, len(cycle))
	for _, addr := range cycle {
		state, ok := pools.Pool(addr)
		if !ok {
			return nil, false
		}
		legs = append(legs, numerics.PathLeg{
			Reserve0: state.Reserve0,
			Reserve1: state.Reserve1,
			FeeBps:   state.FeeBps,
		})
	}
	return legs, true
}
