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

// sniperPercents is the preset slippage sweep from spec.md §4.5
// ("{1%, 5%, 10%, 20%} of initial liquidity").
var sniperPercents = []int64{1, 5, 10, 20}

const (
	sniperDefaultFeeBps = 30 // typical new-pool fee tier, used when the pool isn't yet in PoolView
	sniperGasUnits      = 160000
)

// NewPoolSniper buys into a freshly created pool on a whitelisted factory
// as soon as it is observed, expecting early price appreciation
// (spec.md §4.5).
type NewPoolSniper struct{}

func (n *NewPoolSniper) ID() string { return string(domain.StrategySniper) }

func (n *NewPoolSniper) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	return now.Sub(lastExec) >= cfg.StrategyCooldown
}

func (n *NewPoolSniper) Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity] {
	created, ok := obs.(PoolCreatedObservation)
	if !ok {
		return domain.Void[domain.Opportunity](fmt.Errorf("sniper: expects a pool-creation observation"))
	}

	if !factoryWhitelisted(created.Factory, snap.Cfg.Dexes) {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}
	if !snap.Pools.CodeExists(created.Token) {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}
	if created.InitialDepth == nil || created.InitialDepth.Sign() <= 0 {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	reserve0, reserve1, feeBps := sniperPoolShape(snap.Pools, created)

	principals := make([]*big.Int, len(sniperPercents))
	for i, pct := range sniperPercents {
		principals[i] = new(big.Int).Quo(new(big.Int).Mul(created.InitialDepth, big.NewInt(pct)), big.NewInt(100))
	}

	slippages, err := numerics.PriceImpactSweep(reserve0, reserve1, feeBps, principals)
	if err != nil {
		return domain.Fail[domain.Opportunity](err)
	}

	gasPrice := new(big.Int).SetUint64(tick.BaseFee)
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(sniperGasUnits))

	bestIdx := -1
	var bestProfit *big.Int
	for i, principal := range principals {
		profit := sniperProfit(principal, slippages[i], gasCost)
		if profit.Sign() <= 0 {
			continue
		}
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			bestProfit = profit
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	return domain.Ok(domain.Opportunity{
		Strategy:        domain.StrategySniper,
		Path:            []domain.Address{created.Pool},
		Principal:       principals[bestIdx],
		ExpectedGross:   new(big.Int).Add(bestProfit, new(big.Int).Add(principals[bestIdx], gasCost)),
		ExpectedGasCost: gasCost,
		ObservedAtBlock: created.Block,
	})
}

func (n *NewPoolSniper) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	if len(opp.Path) == 0 {
		return domain.Fail[domain.Bundle](fmt.Errorf("sniper: opportunity missing pool address"))
	}
	legs := []bundle.LegTemplate{
		{To: opp.Path[0], Value: opp.Principal, GasLimit: sniperGasUnits, Variant: domain.TxEIP1559},
	}
	return builder.Build(opp, legs, bundle.ShapeArbitrage, params) // single own leg, no victim reference
}

func factoryWhitelisted(factory domain.Address, dexes []config.DexConfig) bool {
	hex := factory.Hex()
	for _, d := range dexes {
		if d.Factory == hex {
			return true
		}
	}
	return false
}

// sniperPoolShape reads the real reserves if the pool has already reached
// PoolView, otherwise approximates a freshly created symmetric pool split
// evenly across both sides of initial liquidity.
func sniperPoolShape(pools PoolView, created PoolCreatedObservation) (r0, r1 *big.Int, feeBps int64) {
	if state, ok := pools.Pool(created.Pool); ok {
		return state.Reserve0, state.Reserve1, state.FeeBps
	}
	half := new(big.Int).Quo(created.InitialDepth, big.NewInt(2))
	return half, half, sniperDefaultFeeBps
}

// sniperProfit heuristically prices the early-mover advantage as the
// position's slippage-implied value gain, net of gas; there is no
// counterparty trade to model as there would be for front-run/sandwich.
func sniperProfit(principal *big.Int, slippage *big.Rat, gasCost *big.Int) *big.Int {
	gainRat := new(big.Rat).Mul(new(big.Rat).SetInt(principal), slippage)
	gain := new(big.Int).Quo(gainRat.Num(), gainRat.Denom())
	profit := new(big.Int).Sub(gain, gasCost)
	return profit
}
