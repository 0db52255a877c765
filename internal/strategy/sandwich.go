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

// backAmountNum/backAmountDen express the back-leg multiple from
// spec.md §4.5 ("back-amount = front-amount * 1.02") as an integer
// fraction so the computation stays on *big.Int.
const (
	backAmountNum = 102
	backAmountDen = 100
	gasUnitsPerHop = 150000
)

// Sandwich wraps a victim swap with a front-run buy and a back-run sell
// using the numeric kernel's closed-form optimum (spec.md §4.5).
type Sandwich struct{}

func (s *Sandwich) ID() string { return string(domain.StrategySandwich) }

func (s *Sandwich) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	return now.Sub(lastExec) >= cfg.StrategyCooldown
}

func (s *Sandwich) Analyze(tick domain.BlockTick, obs Observation, snap Snapshots) domain.Result[domain.Opportunity] {
	pendingObs, ok := obs.(PendingTxObservation)
	if !ok {
		return domain.Void[domain.Opportunity](fmt.Errorf("sandwich: expects a pending-tx observation"))
	}
	victim := pendingObs.Tx
	if victim.Receiver == nil || victim.Value == nil {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	pool, ok := snap.Pools.Pool(*victim.Receiver)
	if !ok {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	gasPrice := new(big.Int).SetUint64(tick.BaseFee)
	front, gross := numerics.SandwichOptimum(victim.Value, pool.Depth(), gasPrice, gasUnitsPerHop)
	if front.Sign() == 0 {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}

	return domain.Ok(domain.Opportunity{
		Strategy:  domain.StrategySandwich,
		Path:      []domain.Address{*victim.Receiver},
		Principal: front,
		// ExpectedGross is Σ output-value, matching the other strategies'
		// convention (principal returned by the back-run plus the
		// extraction itself), so opp.ExpectedGross - opp.Principal yields
		// the extraction gross uniformly across strategies.
		ExpectedGross:   new(big.Int).Add(front, gross),
		ExpectedGasCost: new(big.Int).Mul(gasPrice, big.NewInt(2*gasUnitsPerHop)),
		ObservedAtBlock: tick.Number,
		VictimHash:      &victim.Hash,
	})
}

func (s *Sandwich) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	if opp.VictimHash == nil || len(opp.Path) == 0 {
		return domain.Fail[domain.Bundle](fmt.Errorf("sandwich: opportunity missing victim hash or path"))
	}
	back := new(big.Int).Mul(opp.Principal, big.NewInt(backAmountNum))
	back.Quo(back, big.NewInt(backAmountDen))

	legs := []bundle.LegTemplate{
		{To: opp.Path[0], Value: opp.Principal, GasLimit: gasUnitsPerHop, Variant: domain.TxEIP1559},
		{IsVictimRef: true, VictimHash: opp.VictimHash, GasLimit: gasUnitsPerHop},
		{To: opp.Path[0], Value: back, GasLimit: gasUnitsPerHop, Variant: domain.TxEIP1559},
	}
	return builder.Build(opp, legs, bundle.ShapeSandwich, params)
}
