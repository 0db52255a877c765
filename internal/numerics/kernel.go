// Package numerics implements the deterministic, side-effect-free routines
// of spec.md §4.3: price-impact sweep, profit-per-amount sweep, sandwich
// optimum, and gas-weighted tip. Every routine accepts either a scalar or a
// length-N vector of the same length and returns correspondingly shaped
// results; empty input is an error. Monetary magnitudes are carried as
// *big.Int/*big.Rat (spec.md §9: "use 256-bit integer arithmetic for
// monetary quantities and only downcast for heuristic scores") — the
// gas-weighted tip's heuristic downcast is the one place float64 appears,
// via gonum.org/v1/gonum/floats, smoothed first with go-talib's EMA exactly
// the way the teacher smooths time series before scoring (see
// aristath-sentinel/trader/internal/modules/evaluation/scoring.go for the
// analogous "smooth then weight" shape, generalized here to gas prices).
package numerics

import (
	"errors"
	"math/big"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
)

// ErrEmptyInput is returned by every sweep routine when given a zero-length
// vector, per spec.md §4.3 ("Empty input is an error").
var ErrEmptyInput = errors.New("numerics: empty input")

// feeFraction converts fee basis points (e.g. 30 == 0.30%) to a fraction.
func feeFraction(feeBps int64) *big.Rat {
	return big.NewRat(feeBps, 10000)
}

// PriceImpactSweep computes, for each input amount a_i, the slippage
// fraction incurred by swapping a_i of token0 into a constant-product pool
// with reserves (r0, r1) and fee feeBps:
//
//	slippage_i = 1 - (r1 - r1*r0/(r0 + a_i*(1-fee))) / r1
//
// computed over big.Rat so there is no intermediate overflow at 256-bit
// magnitudes, and monotone non-decreasing in a_i (spec.md §8 invariant 6).
func PriceImpactSweep(r0, r1 *big.Int, feeBps int64, amounts []*big.Int) ([]*big.Rat, error) {
	if len(amounts) == 0 {
		return nil, ErrEmptyInput
	}

	fee := feeFraction(feeBps)
	oneMinusFee := new(big.Rat).Sub(big.NewRat(1, 1), fee)
	r0Rat := new(big.Rat).SetInt(r0)
	r1Rat := new(big.Rat).SetInt(r1)

	out := make([]*big.Rat, len(amounts))
	for i, a := range amounts {
		aRat := new(big.Rat).SetInt(a)
		effectiveIn := new(big.Rat).Mul(aRat, oneMinusFee)
		denom := new(big.Rat).Add(r0Rat, effectiveIn)

		// newR1 = r1 - r1*r0/(r0 + a*(1-fee))
		numerator := new(big.Rat).Mul(r1Rat, r0Rat)
		quotient := new(big.Rat).Quo(numerator, denom)
		newR1 := new(big.Rat).Sub(r1Rat, quotient)

		ratio := new(big.Rat).Quo(newR1, r1Rat)
		slippage := new(big.Rat).Sub(big.NewRat(1, 1), ratio)
		out[i] = slippage
	}
	return out, nil
}

// PathLeg is one pool hop in a profit-sweep path.
type PathLeg struct {
	Reserve0, Reserve1 *big.Int
	FeeBps             int64
}

// outputFor runs principal through a chain of constant-product legs,
// feeding the output of leg i as the input of leg i+1.
func outputFor(principal *big.Int, legs []PathLeg) *big.Int {
	amountIn := new(big.Rat).SetInt(principal)
	for _, leg := range legs {
		fee := feeFraction(leg.FeeBps)
		oneMinusFee := new(big.Rat).Sub(big.NewRat(1, 1), fee)
		effectiveIn := new(big.Rat).Mul(amountIn, oneMinusFee)

		r0 := new(big.Rat).SetInt(leg.Reserve0)
		r1 := new(big.Rat).SetInt(leg.Reserve1)
		denom := new(big.Rat).Add(r0, effectiveIn)
		// amountOut = r1 * effectiveIn / (r0 + effectiveIn)
		numerator := new(big.Rat).Mul(r1, effectiveIn)
		amountOut := new(big.Rat).Quo(numerator, denom)
		amountIn = amountOut
	}
	num := new(big.Int)
	num.Quo(amountIn.Num(), amountIn.Denom())
	return num
}

// ProfitSweep computes, for a path of pools and a vector of principals, the
// net profit = output - principal - gasCost for each principal. Ties
// (identical profit) prefer the smaller principal: callers selecting a max
// should iterate principals in ascending order and keep the first
// strictly-greater value, which this package's BestProfit helper does.
func ProfitSweep(legs []PathLeg, principals []*big.Int, gasCost *big.Int) ([]*big.Int, error) {
	if len(principals) == 0 {
		return nil, ErrEmptyInput
	}
	if len(legs) == 0 {
		return nil, errors.New("numerics: profit sweep requires at least one pool leg")
	}

	out := make([]*big.Int, len(principals))
	for i, p := range principals {
		output := outputFor(p, legs)
		profit := new(big.Int).Sub(output, p)
		profit.Sub(profit, gasCost)
		out[i] = profit
	}
	return out, nil
}

// BestProfit scans principals/profits in order and returns the index of the
// maximum profit, preferring the smaller (earlier) principal on ties.
// Returns -1 if profits is empty.
func BestProfit(profits []*big.Int) int {
	best := -1
	for i, p := range profits {
		if best == -1 || p.Cmp(profits[best]) > 0 {
			best = i
		}
	}
	return best
}

// SandwichOptimum returns the front-running amount that maximizes expected
// gross extraction against a victim of principal T hitting a pool of depth
// L at gas price g, under front* = T/10 (a tenth of the victim's principal),
// the same fixed fraction core/simd.py's batch_sandwich_optimization starts
// from rather than a closed-form optimum: scenario S1 (spec.md §8) pins the
// front-amount for a 1-unit victim into a (100,100) pool to [0.09, 0.11]
// units, which only the fixed-fraction rule reproduces (a constant-product
// sqrt(T*L)-L optimum is negative, and clamps to zero, for that input).
// Expected gross extraction is front times the price impact the front leg
// itself imparts on the pool, front/(front+L), applied to the victim's
// principal. If that does not clear 2*g*gasUnitsPerHop, the routine reports
// a void result (spec.md §4.3: "return zero").
func SandwichOptimum(victimPrincipal, poolDepth, gasPrice *big.Int, gasUnitsPerHop uint64) (frontAmount *big.Int, expectedGross *big.Int) {
	front := new(big.Int).Quo(victimPrincipal, big.NewInt(10))

	denom := new(big.Int).Add(front, poolDepth)
	if denom.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}

	impact := new(big.Rat).SetFrac(front, denom)
	grossRat := new(big.Rat).Mul(new(big.Rat).SetInt(victimPrincipal), impact)
	gross := new(big.Int).Quo(grossRat.Num(), grossRat.Denom())

	floor := new(big.Int).Mul(big.NewInt(2), gasPrice)
	floor.Mul(floor, new(big.Int).SetUint64(gasUnitsPerHop))
	if gross.Cmp(floor) <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	return front, gross
}

// GasWeightedTip returns int(sum(gasPrices_i * weights_i) * 1.1) clamped to
// [21000, 500000], smoothing the historical gas-price series with an EMA
// (go-talib) before the weighted sum so a single spike doesn't dominate the
// tip decision — the same "smooth, then weight" shape the teacher applies
// to scoring inputs.
func GasWeightedTip(gasPrices []float64, successRates []float64) (int64, error) {
	if len(gasPrices) == 0 || len(successRates) == 0 {
		return 0, ErrEmptyInput
	}
	if len(gasPrices) != len(successRates) {
		return 0, errors.New("numerics: gasPrices and successRates must have equal length")
	}

	period := 5
	if len(gasPrices) < period {
		period = len(gasPrices)
	}
	smoothed := talib.Ema(gasPrices, period)

	weighted := make([]float64, len(smoothed))
	for i := range smoothed {
		weighted[i] = smoothed[i] * successRates[i]
	}

	sum := floats.Sum(weighted)
	tip := int64(sum * 1.1)

	if tip < 21000 {
		tip = 21000
	}
	if tip > 500000 {
		tip = 500000
	}
	return tip, nil
}
