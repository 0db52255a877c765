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

// frontRunMultiples is the preset principal ladder from spec.md §4.5,
// expressed as victim-value multiples scaled by 10 to stay in integers.
var frontRunMultiples = []int64{5, 10, 15, 20} // / 10 == 0.5, 1.0, 1.5, 2.0

// FrontRun buys ahead of a large pending swap and sells back once the
// victim's trade has moved the price (spec.md §4.5).
type FrontRun struct {
	GasCost *big.Int
}

func (f *FrontRun) ID() string { return string(domain.StrategyFrontRun) }

func (f *FrontRun) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	return now.Sub(lastExec) >= cfg.StrategyCooldown
}

func (f *FrontRun) Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity] {
	pendingObs, ok := obs.(PendingTxObservation)
	if !ok {
		return domain.Void[domain.Opportunity](fmt.Errorf("frontrun: expects a pending-tx observation"))
	}
	victim := pendingObs.Tx
	if victim.Receiver == nil {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	minTarget, ok := new(big.Int).SetString(snap.Cfg.MinTargetValueWei, 10)
	if !ok {
		return domain.Fail[domain.Opportunity](fmt.Errorf("frontrun: invalid MinTargetValueWei %q", snap.Cfg.MinTargetValueWei))
	}
	if victim.Value == nil || victim.Value.Cmp(minTarget) < 0 {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	pool, ok := snap.Pools.Pool(*victim.Receiver)
	if !ok {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	gasCost := f.GasCost
	if gasCost == nil {
		gasCost = big.NewInt(0)
	}

	principals := make([]*big.Int, len(frontRunMultiples))
	for i, m := range frontRunMultiples {
		principals[i] = new(big.Int).Quo(new(big.Int).Mul(victim.Value, big.NewInt(m)), big.NewInt(10))
	}

	slippages, err := numerics.PriceImpactSweep(pool.Reserve0, pool.Reserve1, pool.FeeBps, principals)
	if err != nil {
		return domain.Fail[domain.Opportunity](err)
	}
	_ = slippages // monotone non-decreasing: the ladder is already impact-ranked ascending

	for i, principal := range principals {
		profit := frontRunProfit(pool, principal, victim.Value, gasCost)
		if profit.Sign() > 0 {
			return domain.Ok(domain.Opportunity{
				Strategy:        domain.StrategyFrontRun,
				Path:            []domain.Address{*victim.Receiver},
				Principal:       principal,
				ExpectedGross:   new(big.Int).Add(profit, new(big.Int).Add(principal, gasCost)),
				ExpectedGasCost: gasCost,
				ObservedAtBlock: tick.Number,
				VictimHash:      &victim.Hash,
			})
		}
		_ = i
	}

	return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
}

func (f *FrontRun) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	if opp.VictimHash == nil || len(opp.Path) == 0 {
		return domain.Fail[domain.Bundle](fmt.Errorf("frontrun: opportunity missing victim hash or path"))
	}
	legs := []bundle.LegTemplate{
		{To: opp.Path[0], Value: opp.Principal, GasLimit: 180000, Variant: domain.TxEIP1559},
		{IsVictimRef: true, VictimHash: opp.VictimHash, GasLimit: 180000},
	}
	return builder.Build(opp, legs, bundle.ShapeFrontRun, params)
}

// frontRunProfit estimates net profit: buy `principal` before the victim,
// let the victim's swap shift the price, then sell the position back.
func frontRunProfit(pool domain.PoolState, principal, victimValue, gasCost *big.Int) *big.Int {
	frontOut := quoteOutput(pool.Reserve0, pool.Reserve1, pool.FeeBps, principal)

	afterFrontR0 := new(big.Int).Add(pool.Reserve0, principal)
	afterFrontR1 := new(big.Int).Sub(pool.Reserve1, frontOut)

	victimOut := quoteOutput(afterFrontR0, afterFrontR1, pool.FeeBps, victimValue)
	afterVictimR0 := new(big.Int).Add(afterFrontR0, victimValue)
	afterVictimR1 := new(big.Int).Sub(afterFrontR1, victimOut)

	sellOut := quoteOutput(afterVictimR1, afterVictimR0, pool.FeeBps, frontOut)

	profit := new(big.Int).Sub(sellOut, principal)
	profit.Sub(profit, gasCost)
	return profit
}

// quoteOutput is the same constant-product-with-fee formula the numeric
// kernel applies internally, reused here because the front-run profit
// model needs to chain three swaps rather than one sweep.
func quoteOutput(r0, r1 *big.Int, feeBps int64, amountIn *big.Int) *big.Int {
	fee := big.NewRat(feeBps, 10000)
	oneMinusFee := new(big.Rat).Sub(big.NewRat(1, 1), fee)

	amountInRat := new(big.Rat).SetInt(amountIn)
	effectiveIn := new(big.Rat).Mul(amountInRat, oneMinusFee)

	r0Rat := new(big.Rat).SetInt(r0)
	r1Rat := new(big.Rat).SetInt(r1)
	denom := new(big.Rat).Add(r0Rat, effectiveIn)

	numerator := new(big.Rat).Mul(r1Rat, effectiveIn)
	outRat := new(big.Rat).Quo(numerator, denom)

	out := new(big.Int)
	out.Quo(outRat.Num(), outRat.Denom())
	return out
}
