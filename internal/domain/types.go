// Package domain holds the shared data model for the ordering pipeline:
// pending transactions, pool state, provider snapshots, opportunities and
// bundles. Types here are plain data — behavior lives in the owning
// components (pendingpool, strategy, bundle, ...).
package domain

import (
	"math/big"
	"time"
)

// Hash is a 32-byte transaction hash.
type Hash [32]byte

// Address is a 20-byte chain address.
type Address [20]byte

// Hex renders the address as a lowercase "0x"-prefixed hex string, the
// canonical form used for whitelist/factory comparisons.
func (a Address) Hex() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 2+len(a)*2)
	buf[0], buf[1] = '0', 'x'
	for i, b := range a {
		buf[2+i*2] = hextable[b>>4]
		buf[3+i*2] = hextable[b&0x0f]
	}
	return string(buf)
}

// TxVariant is a tagged sum over the transaction shapes the builder can
// produce. Replaces the dynamic dict-shaped transaction of the source
// implementation (see SPEC_FULL §5): the builder maps an Opportunity to a
// single concrete variant at construction time and never mutates it again.
type TxVariant int

const (
	// TxLegacy is a pre-EIP-1559 transaction using a single gas price.
	TxLegacy TxVariant = iota
	// TxEIP1559 carries separate max-fee and priority-fee fields.
	TxEIP1559
	// TxEIP4844 is a blob-carrying transaction (not used for bundle legs
	// today, but recognized so the type is exhaustive over what a signer
	// may hand back).
	TxEIP4844
)

func (v TxVariant) String() string {
	switch v {
	case TxLegacy:
		return "legacy"
	case TxEIP1559:
		return "eip1559"
	case TxEIP4844:
		return "eip4844"
	default:
		return "unknown"
	}
}

// GasPricing carries whichever of the two gas-pricing shapes applies to a
// transaction. For TxLegacy only GasPrice is populated; for TxEIP1559/4844
// MaxFee and PriorityFee are populated and GasPrice is left nil; the
// price paid at a given base fee is derived by EffectivePrice.
type GasPricing struct {
	GasPrice    *big.Int
	MaxFee      *big.Int
	PriorityFee *big.Int
}

// EffectivePrice returns min(MaxFee, baseFee+PriorityFee) for EIP-1559
// pricing, or GasPrice for legacy pricing.
func (g GasPricing) EffectivePrice(baseFee *big.Int) *big.Int {
	if g.MaxFee == nil {
		return g.GasPrice
	}
	tip := new(big.Int).Add(baseFee, g.PriorityFee)
	if tip.Cmp(g.MaxFee) > 0 {
		return new(big.Int).Set(g.MaxFee)
	}
	return tip
}

// PendingTx is an observed, unconfirmed transaction broadcast to the
// network. See SPEC_FULL §3 / original spec.md §3.
type PendingTx struct {
	Hash        Hash
	Sender      Address
	Receiver    *Address // optional: contract creation has no receiver
	Value       *big.Int // native value, unsigned 256-bit
	Gas         GasPricing
	GasLimit    uint64
	Nonce       uint64
	Input       []byte
	ProtocolTag string // decoded protocol, e.g. "uniswap_v2", "" if unknown
	Token       string // routed token address (hex), "" if unknown
	FirstSeen   time.Time
}

// PoolState is a snapshot of one AMM pool's reserves.
type PoolState struct {
	Pool           Address
	Reserve0       *big.Int
	Reserve1       *big.Int
	FeeBps         int64
	LastChangeBlk  uint64
}

// Depth returns sqrt(reserve0 * reserve1) as a derived value — never stored,
// always computed from the current reserves.
func (p PoolState) Depth() *big.Int {
	product := new(big.Int).Mul(p.Reserve0, p.Reserve1)
	return new(big.Int).Sqrt(product)
}

// ProviderSnapshot is a point-in-time view of a flash-loan venue's
// liquidity, published copy-on-write by the flash-loan planner's refresher.
type ProviderSnapshot struct {
	VenueID         string
	VenueAddress    Address
	CurrentLiquidity *big.Int
	MaxLoanable      *big.Int // <= CurrentLiquidity * policy multiple
	FeeFraction      *big.Rat
	ObservedAtBlock  uint64
	Stale            bool
}

// StrategyTag identifies which strategy family produced an Opportunity.
type StrategyTag string

const (
	StrategyArbitrage StrategyTag = "arbitrage"
	StrategyFrontRun  StrategyTag = "frontrun"
	StrategySandwich  StrategyTag = "sandwich"
	StrategyJIT       StrategyTag = "jit_liquidity"
	StrategySniper    StrategyTag = "new_pool_sniper"
)

// Opportunity is an immutable description of a value-extraction setup found
// by a strategy. Becomes stale once any referenced pool's LastChangeBlk
// advances past ObservedAtBlock.
type Opportunity struct {
	Strategy          StrategyTag
	Path              []Address // ordered pool/venue addresses
	Principal         *big.Int
	Currency          string
	ExpectedGross     *big.Int
	ExpectedGasCost    *big.Int
	SuccessProbability float64 // [0,1]
	RequiresLoan       bool
	ObservedAtBlock    uint64
	VictimHash         *Hash // set for frontrun/sandwich/jit, nil for arbitrage/sniper
}

// IsStale reports whether any of the pools this opportunity was computed
// against has advanced past the observed block.
func (o Opportunity) IsStale(latest map[Address]uint64) bool {
	for _, addr := range o.Path {
		if lc, ok := latest[addr]; ok && lc > o.ObservedAtBlock {
			return true
		}
	}
	return false
}

// BundleLeg is one transaction in a Bundle.
type BundleLeg struct {
	Variant    TxVariant
	Raw        []byte   // signed raw bytes, nil until bundle.Builder.Build signs the leg
	VictimRef  *Hash    // set if this leg is a pass-through reference to a third-party tx
	GasLimit   uint64
	Gas        GasPricing
	To         Address
	Value      *big.Int
	Input      []byte
}

// Bundle is an ordered, atomic sequence of transactions submitted to the
// relay. At most one leg may carry a VictimRef, and it must sit between a
// front leg and an optional back leg, matching the owning strategy's shape.
type Bundle struct {
	Legs        []BundleLeg
	TargetBlock uint64
	BidTipPerGas *big.Int
	Strategy    StrategyTag
}

// VictimIndex returns the index of the victim-reference leg, or -1 if the
// bundle has none (arbitrage bundles never do).
func (b Bundle) VictimIndex() int {
	for i, leg := range b.Legs {
		if leg.VictimRef != nil {
			return i
		}
	}
	return -1
}

// Validate enforces the "at most one victim reference" bundle invariant.
func (b Bundle) Validate() error {
	count := 0
	for _, leg := range b.Legs {
		if leg.VictimRef != nil {
			count++
		}
	}
	if count > 1 {
		return ErrMultipleVictimRefs
	}
	return nil
}

// BundleID is the relay-assigned identifier for a submitted bundle.
type BundleID string

// BundleStatus is the relay's inclusion state for a submitted bundle.
type BundleStatus string

const (
	BundlePending  BundleStatus = "pending"
	BundleIncluded BundleStatus = "included"
	BundleDropped  BundleStatus = "dropped"
)
