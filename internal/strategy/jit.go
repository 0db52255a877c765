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

// jitMultiples is the preset principal ladder from spec.md §4.5
// ("{0.5, 1, 2, 5}*victim"), scaled by 10 to stay in integers.
var jitMultiples = []int64{5, 10, 20, 50}

const jitGasUnits = 350000 // add-liquidity + remove-liquidity + victim pass-through

// JITLiquidity borrows via flash loan, adds liquidity immediately ahead
// of a victim's swap, and removes it immediately after, earning a slice
// of the swap fee without taking directional risk (spec.md §4.5).
type JITLiquidity struct{}

func (j *JITLiquidity) ID() string { return string(domain.StrategyJIT) }

func (j *JITLiquidity) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	return now.Sub(lastExec) >= cfg.StrategyCooldown
}

func (j *JITLiquidity) Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity] {
	pendingObs, ok := obs.(PendingTxObservation)
	if !ok {
		return domain.Void[domain.Opportunity](fmt.Errorf("jit: expects a pending-tx observation"))
	}
	victim := pendingObs.Tx
	if victim.Receiver == nil || victim.Value == nil {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	pool, ok := snap.Pools.Pool(*victim.Receiver)
	if !ok {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	principals := make([]*big.Int, len(jitMultiples))
	for i, m := range jitMultiples {
		principals[i] = new(big.Int).Quo(new(big.Int).Mul(victim.Value, big.NewInt(m)), big.NewInt(10))
	}

	slippages, err := numerics.PriceImpactSweep(pool.Reserve0, pool.Reserve1, pool.FeeBps, principals)
	if err != nil {
		return domain.Fail[domain.Opportunity](err)
	}
	_ = slippages

	gasPrice := new(big.Int).SetUint64(tick.BaseFee)
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(jitGasUnits))

	for _, principal := range principals {
		venueID, ok := snap.Financing.Select(principal, gasCost)
		if !ok {
			continue
		}
		venue, ok := snap.Financing.Snapshot(venueID)
		if !ok {
			continue
		}

		profit := jitProfit(pool, principal, victim.Value, venue.FeeFraction, gasCost)
		if profit.Sign() > 0 {
			return domain.Ok(domain.Opportunity{
				Strategy:        domain.StrategyJIT,
				Path:            []domain.Address{*victim.Receiver},
				Principal:       principal,
				ExpectedGross:   new(big.Int).Add(profit, new(big.Int).Add(principal, gasCost)),
				ExpectedGasCost: gasCost,
				RequiresLoan:    true,
				ObservedAtBlock: tick.Number,
				VictimHash:      &victim.Hash,
			})
		}
	}

	return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
}

func (j *JITLiquidity) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	if opp.VictimHash == nil || len(opp.Path) == 0 {
		return domain.Fail[domain.Bundle](fmt.Errorf("jit: opportunity missing victim hash or path"))
	}
	legs := []bundle.LegTemplate{
		{To: opp.Path[0], Value: opp.Principal, GasLimit: 170000, Variant: domain.TxEIP1559}, // add liquidity
		{IsVictimRef: true, VictimHash: opp.VictimHash, GasLimit: 170000},
		{To: opp.Path[0], GasLimit: 180000, Variant: domain.TxEIP1559}, // remove liquidity
	}
	return builder.Build(opp, legs, bundle.ShapeSandwich, params)
}

// jitProfit estimates the LP's share of the swap fee the victim pays
// while the flash-loan-financed position is in the pool, net of the
// provider's own fee and gas.
func jitProfit(pool domain.PoolState, principal, victimValue *big.Int, providerFee *big.Rat, gasCost *big.Int) *big.Int {
	depth := pool.Depth()
	poolWithPrincipal := new(big.Int).Add(depth, principal)
	if poolWithPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}

	swapFee := big.NewRat(pool.FeeBps, 10000)
	victimFeePaid := new(big.Rat).Mul(new(big.Rat).SetInt(victimValue), swapFee)

	shareNum := new(big.Rat).SetInt(principal)
	shareDen := new(big.Rat).SetInt(poolWithPrincipal)
	share := new(big.Rat).Quo(shareNum, shareDen)

	earnedRat := new(big.Rat).Mul(victimFeePaid, share)
	earned := new(big.Int).Quo(earnedRat.Num(), earnedRat.Denom())

	loanFeeRat := new(big.Rat).Mul(new(big.Rat).SetInt(principal), providerFee)
	loanFee := new(big.Int).Quo(loanFeeRat.Num(), loanFeeRat.Denom())

	profit := new(big.Int).Sub(earned, loanFee)
	profit.Sub(profit, gasCost)
	return profit
}
