// Package poolindex is the concrete, in-process PoolView (spec.md §4.5:
// strategies "scan graph of pool connectivity") that the scheduler keeps
// current from chain-observer pool-reserve and pool-creation events.
//
// Grounded on aristath-sentinel/internal/clientdata's keyed-store-with-
// secondary-lookup shape, generalized from a single hash->value map to a
// reserve table plus an adjacency list for cycle enumeration.
package poolindex

import (
	"sync"

	"github.com/halvard/chainsentinel/internal/domain"
)

// Index is the event-loop thread's private pool/reserve state (spec.md §5:
// "C2 is the event-loop thread's private state; cross-thread readers
// receive snapshot copies"). The same ownership rule applies here: only the
// scheduler's event loop calls Update; strategies only ever read through
// the PoolView subset of this type's methods.
type Index struct {
	mu        sync.RWMutex
	pools     map[domain.Address]domain.PoolState
	neighbors map[domain.Address]map[domain.Address]struct{}
	codeSeen  map[domain.Address]bool
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		pools:     make(map[domain.Address]domain.PoolState),
		neighbors: make(map[domain.Address]map[domain.Address]struct{}),
		codeSeen:  make(map[domain.Address]bool),
	}
}

// Update records a pool's current reserves and its one-hop neighbors (the
// other pools it shares a routed token with). The chain observer supplies
// both together since domain.PoolState alone carries no token identity.
func (idx *Index) Update(state domain.PoolState, neighbors []domain.Address) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.pools[state.Pool] = state

	set, ok := idx.neighbors[state.Pool]
	if !ok {
		set = make(map[domain.Address]struct{})
		idx.neighbors[state.Pool] = set
	}
	for _, n := range neighbors {
		set[n] = struct{}{}
		back, ok := idx.neighbors[n]
		if !ok {
			back = make(map[domain.Address]struct{})
			idx.neighbors[n] = back
		}
		back[state.Pool] = struct{}{}
	}
}

// MarkCodeExists records that a token address resolved to a non-empty code
// account, used by the new-pool sniper's code-presence check.
func (idx *Index) MarkCodeExists(token domain.Address) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.codeSeen[token] = true
}

// Pool returns the current reserve snapshot for addr.
func (idx *Index) Pool(addr domain.Address) (domain.PoolState, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.pools[addr]
	return s, ok
}

// Pools returns every pool address currently known, the seed set for cycle
// enumeration.
func (idx *Index) Pools() []domain.Address {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]domain.Address, 0, len(idx.pools))
	for addr := range idx.pools {
		out = append(out, addr)
	}
	return out
}

// Neighbors returns the pools reachable from addr in one hop.
func (idx *Index) Neighbors(addr domain.Address) []domain.Address {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set, ok := idx.neighbors[addr]
	if !ok {
		return nil
	}
	out := make([]domain.Address, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// CodeExists reports whether addr has ever been observed with contract
// code, used by the new-pool sniper to reject phantom tokens.
func (idx *Index) CodeExists(addr domain.Address) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.codeSeen[addr]
}

// PruneStaleBefore drops pools that haven't changed since before cutoff
// block, keeping the graph bounded as pools go quiet. Edges touching a
// dropped pool are removed from its neighbors' adjacency sets too.
func (idx *Index) PruneStaleBefore(cutoff uint64) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for addr, state := range idx.pools {
		if state.LastChangeBlk >= cutoff {
			continue
		}
		delete(idx.pools, addr)
		delete(idx.codeSeen, addr)
		for neighbor := range idx.neighbors[addr] {
			delete(idx.neighbors[neighbor], addr)
		}
		delete(idx.neighbors, addr)
		removed++
	}
	return removed
}
