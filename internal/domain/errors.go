package domain

import "errors"

// Sentinel errors distinguishing the error kinds from spec.md §7 / SPEC_FULL §9.
// Opportunity-void and safety-rejected are normal control flow; invariant
// violations are fatal.
var (
	// ErrNoOpportunity means a strategy found nothing actionable in this
	// tick — not a failure.
	ErrNoOpportunity = errors.New("domain: no opportunity")

	// ErrStaleSnapshot means the snapshot an Opportunity or Bundle was
	// built against has since advanced.
	ErrStaleSnapshot = errors.New("domain: stale snapshot")

	// ErrNoProvider means the flash-loan planner found no venue with
	// sufficient liquidity.
	ErrNoProvider = errors.New("domain: no qualifying flash-loan provider")

	// ErrMultipleVictimRefs is an invariant violation: a bundle may
	// reference at most one victim transaction.
	ErrMultipleVictimRefs = errors.New("domain: bundle references more than one victim transaction")

	// ErrNegativeProfit means a candidate bundle's value/gas ratio is not
	// positive — opportunity-void, not a failure.
	ErrNegativeProfit = errors.New("domain: non-positive profit per gas")
)

// Result is an explicit result type distinguishing "no opportunity" from
// "operational failure" (SPEC_FULL §5, spec.md §9 REDESIGN FLAGS). Callers
// that only care about success can still use the Err field; callers that
// need to branch on kind should compare Err against the sentinels above
// with errors.Is.
type Result[T any] struct {
	Value T
	Void   bool // true: legitimately nothing to do, Err may still describe why
	Err    error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Void returns a Result signaling "no opportunity", carrying reason as Err.
func Void[T any](reason error) Result[T] {
	return Result[T]{Void: true, Err: reason}
}

// Fail wraps an operational failure.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// IsFailure reports whether this result represents an operational failure
// (as opposed to success or a void/no-opportunity outcome).
func (r Result[T]) IsFailure() bool {
	return !r.Void && r.Err != nil
}

// BlockTick carries one observed new canonical head block.
type BlockTick struct {
	Number    uint64
	BaseFee   uint64 // wei per gas, fits uint64 for any realistic chain
	GasUsed   uint64
	GasLimit  uint64
	Timestamp int64
}
