// Package bundle implements the bundle builder and bid optimizer of
// spec.md §4.6: it orders transactions, assigns gas/tip, enforces the
// profit-per-gas floor, simulates, and signs, producing a Bundle or
// declining. The builder never mutates the Opportunity it was given.
//
// Grounded on aristath-sentinel/trader/internal/modules/trading's
// TradeSafetyService validation-chain shape (each stage can reject and the
// rest is skipped) and the SyncCycleJob.Run critical-step sequencing.
package bundle

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/halvard/chainsentinel/internal/domain"
)

// Shape selects the ordering rule for a set of leg templates, per
// spec.md §4.6 step 2.
type Shape int

const (
	// ShapeSandwich is the fixed [pre, victim-ref, post] ordering used by
	// sandwich and JIT-liquidity strategies.
	ShapeSandwich Shape = iota
	// ShapeFrontRun is a single own transaction strictly before the
	// victim reference.
	ShapeFrontRun
	// ShapeArbitrage sorts internal transactions by profit-per-gas
	// descending; it carries no victim reference.
	ShapeArbitrage
)

// LegTemplate is an unsigned, ungassed candidate leg. The builder turns
// these into domain.BundleLeg values after gas shaping and signing.
type LegTemplate struct {
	To           domain.Address
	Value        *big.Int
	Input        []byte
	GasLimit     uint64
	IsVictimRef  bool
	VictimHash   *domain.Hash
	MaxFeeHint   *big.Int // tx.max_fee_hint, spec.md §4.6 step 3
	ProfitPerGas *big.Rat // required for ShapeArbitrage ordering
	Variant      domain.TxVariant
}

// SimResult mirrors the relay's simulate response (spec.md §4.7).
type SimResult struct {
	Success    bool
	GrossValue *big.Int
	TotalGas   uint64
	Error      string
}

// Simulator is the subset of the relay-client contract the builder needs.
type Simulator interface {
	Simulate(b domain.Bundle, stateBlock uint64) (SimResult, error)
}

// Signer is the external signer contract from spec.md §1: sign(tx) ->
// signed_bytes. Unsigned references (victim legs) are never passed to it.
type Signer interface {
	Sign(leg domain.BundleLeg) ([]byte, error)
}

// BidPredictor is the pluggable scalar priority-fee predictor from
// spec.md §1 ("the bid-optimization hook is a pluggable scalar
// predictor"). When installed, its output overrides the default
// priority-fee calculation, clamped to [1 gwei, 100 gwei].
type BidPredictor interface {
	PredictPriorityFee(leg LegTemplate, baseFee *big.Int) (*big.Int, bool)
}

const (
	gwei = 1_000_000_000
)

var (
	minPriorityFee = big.NewInt(1 * gwei)
	maxPriorityFee = big.NewInt(100 * gwei)
)

// Params carries everything Build needs beyond the Opportunity and legs.
type Params struct {
	BaseFee       *big.Int
	TargetBlock   uint64
	StateBlock    uint64
	ExpectedGross *big.Int // from the Opportunity; simulate must clear 90% of this
	Signer        Signer
	Relay         Simulator
	BidPredictor  BidPredictor // optional
}

// Builder produces Bundles from Opportunities. It holds no per-call state;
// all inputs are explicit so the same Builder can serve every strategy.
type Builder struct{}

// NewBuilder constructs a Builder. There is no configuration: every knob
// (fee floor, simulate slack) is either a spec-fixed constant or passed in
// Params/domain.Opportunity.
func NewBuilder() *Builder { return &Builder{} }

// Build runs the five-step pipeline from spec.md §4.6 and returns a fresh
// Bundle, or a void Result describing why it declined.
func (b *Builder) Build(opp domain.Opportunity, legs []LegTemplate, shape Shape, p Params) domain.Result[domain.Bundle] {
	if len(legs) == 0 {
		return domain.Void[domain.Bundle](fmt.Errorf("bundle: no legs to build"))
	}

	ordered, err := order(legs, shape)
	if err != nil {
		return domain.Fail[domain.Bundle](err)
	}

	gassed := gasShape(ordered, p.BaseFee, p.BidPredictor)

	bundleLegs := make([]domain.BundleLeg, len(gassed))
	for i, t := range gassed {
		bundleLegs[i] = toBundleLeg(t, p.BaseFee)
	}

	draft := domain.Bundle{
		Legs:        bundleLegs,
		TargetBlock: p.TargetBlock,
		Strategy:    opp.Strategy,
	}
	if len(gassed) > 0 {
		draft.BidTipPerGas = gassed[0].resolvedPriorityFee
	}

	if err := draft.Validate(); err != nil {
		return domain.Fail[domain.Bundle](err)
	}

	if err := checkProfitabilityFloor(opp, draft, p.BaseFee); err != nil {
		return domain.Void[domain.Bundle](err)
	}

	if p.Relay != nil {
		sim, err := p.Relay.Simulate(draft, p.StateBlock)
		if err != nil {
			return domain.Fail[domain.Bundle](fmt.Errorf("bundle: simulate: %w", err))
		}
		if !sim.Success {
			return domain.Void[domain.Bundle](fmt.Errorf("bundle: simulation failed: %s", sim.Error))
		}
		floor := simulateFloor(p.ExpectedGross)
		if sim.GrossValue.Cmp(floor) < 0 {
			return domain.Void[domain.Bundle](fmt.Errorf("bundle: simulated gross %s below floor %s", sim.GrossValue, floor))
		}
	}

	if p.Signer != nil {
		for i := range draft.Legs {
			if draft.Legs[i].VictimRef != nil {
				continue // unsigned references pass through unmodified
			}
			raw, err := p.Signer.Sign(draft.Legs[i])
			if err != nil {
				return domain.Fail[domain.Bundle](fmt.Errorf("bundle: sign leg %d: %w", i, err))
			}
			draft.Legs[i].Raw = raw
		}
	}

	return domain.Ok(draft)
}

// simulateFloor returns expectedGross * 0.9 (spec.md §4.6 step 4 / §8
// invariant 2).
func simulateFloor(expectedGross *big.Int) *big.Int {
	floor := new(big.Int).Mul(expectedGross, big.NewInt(9))
	floor.Quo(floor, big.NewInt(10))
	return floor
}

// checkProfitabilityFloor rejects a bundle whose aggregate value/gas ratio
// is not strictly positive (spec.md §4.6 step 1). Value is
// Σ output-value − Σ principal (opp.ExpectedGross − opp.Principal); gas
// cost is Σ gas_limit·effective-price over the gassed legs, using the same
// EIP-1559 effective-price rule the relay charges against.
func checkProfitabilityFloor(opp domain.Opportunity, b domain.Bundle, baseFee *big.Int) error {
	gasCost := new(big.Int)
	for _, leg := range b.Legs {
		price := leg.Gas.EffectivePrice(baseFee)
		if price == nil {
			continue
		}
		gasCost.Add(gasCost, new(big.Int).Mul(new(big.Int).SetUint64(leg.GasLimit), price))
	}
	if gasCost.Sign() <= 0 {
		return fmt.Errorf("bundle: zero aggregate gas cost: %w", domain.ErrNegativeProfit)
	}

	gross := opp.ExpectedGross
	if gross == nil {
		gross = big.NewInt(0)
	}
	principal := opp.Principal
	if principal == nil {
		principal = big.NewInt(0)
	}
	value := new(big.Int).Sub(gross, principal)
	if value.Sign() <= 0 {
		return fmt.Errorf("bundle: value %s over gas cost %s is not profitable: %w", value, gasCost, domain.ErrNegativeProfit)
	}
	return nil
}

func order(legs []LegTemplate, shape Shape) ([]LegTemplate, error) {
	switch shape {
	case ShapeSandwich:
		return orderSandwich(legs)
	case ShapeFrontRun:
		return orderFrontRun(legs)
	case ShapeArbitrage:
		return orderArbitrage(legs), nil
	default:
		return nil, fmt.Errorf("bundle: unknown shape %d", shape)
	}
}

// orderSandwich enforces [pre, victim-ref, post]: exactly one victim leg,
// with the remaining two (front, back) placed around it in the order
// they were given (front first, back second).
func orderSandwich(legs []LegTemplate) ([]LegTemplate, error) {
	var victim *LegTemplate
	var others []LegTemplate
	for i := range legs {
		if legs[i].IsVictimRef {
			if victim != nil {
				return nil, fmt.Errorf("bundle: sandwich shape given more than one victim reference")
			}
			v := legs[i]
			victim = &v
			continue
		}
		others = append(others, legs[i])
	}
	if victim == nil {
		return nil, fmt.Errorf("bundle: sandwich shape requires a victim reference leg")
	}
	if len(others) < 1 {
		return nil, fmt.Errorf("bundle: sandwich shape requires at least a front leg")
	}

	out := []LegTemplate{others[0], *victim}
	if len(others) > 1 {
		out = append(out, others[1:]...)
	}
	return out, nil
}

// orderFrontRun places the single own transaction strictly before the
// victim reference.
func orderFrontRun(legs []LegTemplate) ([]LegTemplate, error) {
	var victim *LegTemplate
	var own *LegTemplate
	for i := range legs {
		if legs[i].IsVictimRef {
			if victim != nil {
				return nil, fmt.Errorf("bundle: frontrun shape given more than one victim reference")
			}
			v := legs[i]
			victim = &v
		} else {
			own = &legs[i]
		}
	}
	if victim == nil || own == nil {
		return nil, fmt.Errorf("bundle: frontrun shape requires exactly one own leg and one victim reference")
	}
	return []LegTemplate{*own, *victim}, nil
}

// orderArbitrage sorts internal transactions by profit-per-gas descending.
// Arbitrage bundles carry no victim reference.
func orderArbitrage(legs []LegTemplate) []LegTemplate {
	out := append([]LegTemplate(nil), legs...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].ProfitPerGas, out[j].ProfitPerGas
		if pi == nil || pj == nil {
			return false
		}
		return pi.Cmp(pj) > 0
	})
	return out
}

// gassedLeg pairs a template with its resolved priority fee for bundle-wide
// bid reporting.
type gassedLeg struct {
	LegTemplate
	resolvedMaxFee      *big.Int
	resolvedPriorityFee *big.Int
}

// gasShape applies spec.md §4.6 step 3 to every leg.
func gasShape(legs []LegTemplate, baseFee *big.Int, predictor BidPredictor) []gassedLeg {
	out := make([]gassedLeg, len(legs))
	baseFeeBoosted := new(big.Int).Mul(baseFee, big.NewInt(12))
	baseFeeBoosted.Quo(baseFeeBoosted, big.NewInt(10)) // *1.2

	for i, t := range legs {
		maxFee := new(big.Int).Set(baseFeeBoosted)
		if t.MaxFeeHint != nil && t.MaxFeeHint.Cmp(maxFee) > 0 {
			maxFee = new(big.Int).Set(t.MaxFeeHint)
		}

		priorityFee := new(big.Int).Quo(maxFee, big.NewInt(10)) // *0.1

		if predictor != nil {
			if predicted, ok := predictor.PredictPriorityFee(t, baseFee); ok {
				priorityFee = clamp(predicted, minPriorityFee, maxPriorityFee)
			}
		}

		out[i] = gassedLeg{LegTemplate: t, resolvedMaxFee: maxFee, resolvedPriorityFee: priorityFee}
	}
	return out
}

func clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

func toBundleLeg(t gassedLeg, baseFee *big.Int) domain.BundleLeg {
	leg := domain.BundleLeg{
		Variant:   t.Variant,
		VictimRef: t.VictimHash,
		GasLimit:  t.GasLimit,
		To:        t.To,
		Value:     t.Value,
		Input:     t.Input,
		Gas: domain.GasPricing{
			MaxFee:      t.resolvedMaxFee,
			PriorityFee: t.resolvedPriorityFee,
		},
	}
	return leg
}
