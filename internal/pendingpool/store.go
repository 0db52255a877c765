// Package pendingpool implements the bounded, TTL-indexed repository of
// observed pending transactions (spec.md §4.2). It is the event-loop
// thread's private state (spec.md §5): all mutation happens on a single
// goroutine via the Store's own locking, and readers receive snapshot
// copies rather than references into internal structures.
//
// Grounded on aristath-sentinel/internal/clientdata: its per-table TTL
// constants (ttl.go) and cache-then-expire repository shape
// (repository.go, cleanup_job.go) are adapted here from a SQL-backed cache
// to an in-process map, since pendingpool.Store must be readable without
// round-tripping through a database on every strategy tick.
package pendingpool

import (
	"container/list"
	"sync"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
)

// DefaultTTL is the default eviction age for a pending transaction
// (spec.md §4.2: "default 300 s").
const DefaultTTL = 300 * time.Second

// entry is the internal bookkeeping record backing one stored PendingTx.
type entry struct {
	tx       domain.PendingTx
	lruElem  *list.Element
}

// Store is a bounded mapping from hash to PendingTx, with secondary
// indices by decoded protocol tag and by routed token (spec.md §4.2).
type Store struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	byHash   map[domain.Hash]*entry
	byProto  map[string]map[domain.Hash]struct{}
	byToken  map[string]map[domain.Hash]struct{}
	lru      *list.List // front = most recently touched

	watchList map[string]struct{} // protocols relevant to query_relevant
}

// New creates a Store with the given capacity (LRU eviction at the limit)
// and TTL. A zero ttl defaults to DefaultTTL.
func New(capacity int, ttl time.Duration, watchList []string) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	watch := make(map[string]struct{}, len(watchList))
	for _, w := range watchList {
		watch[w] = struct{}{}
	}
	return &Store{
		capacity:  capacity,
		ttl:       ttl,
		byHash:    make(map[domain.Hash]*entry),
		byProto:   make(map[string]map[domain.Hash]struct{}),
		byToken:   make(map[string]map[domain.Hash]struct{}),
		lru:       list.New(),
		watchList: watch,
	}
}

// Ingest inserts tx if not already present, rebuilding secondary indices.
// If the store is at capacity it evicts the least-recently-touched entry
// before inserting; per spec.md §4.2 this drop is silent (no error).
func (s *Store) Ingest(tx domain.PendingTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[tx.Hash]; exists {
		return
	}

	if s.capacity > 0 && len(s.byHash) >= s.capacity {
		s.evictLRULocked()
	}

	elem := s.lru.PushFront(tx.Hash)
	e := &entry{tx: tx, lruElem: elem}
	s.byHash[tx.Hash] = e
	s.indexLocked(tx)
}

func (s *Store) indexLocked(tx domain.PendingTx) {
	if tx.ProtocolTag != "" {
		set, ok := s.byProto[tx.ProtocolTag]
		if !ok {
			set = make(map[domain.Hash]struct{})
			s.byProto[tx.ProtocolTag] = set
		}
		set[tx.Hash] = struct{}{}
	}
	if tx.Token != "" {
		set, ok := s.byToken[tx.Token]
		if !ok {
			set = make(map[domain.Hash]struct{})
			s.byToken[tx.Token] = set
		}
		set[tx.Hash] = struct{}{}
	}
}

func (s *Store) unindexLocked(tx domain.PendingTx) {
	if tx.ProtocolTag != "" {
		if set, ok := s.byProto[tx.ProtocolTag]; ok {
			delete(set, tx.Hash)
			if len(set) == 0 {
				delete(s.byProto, tx.ProtocolTag)
			}
		}
	}
	if tx.Token != "" {
		if set, ok := s.byToken[tx.Token]; ok {
			delete(set, tx.Hash)
			if len(set) == 0 {
				delete(s.byToken, tx.Token)
			}
		}
	}
}

// evictLRULocked removes the least-recently-touched entry. Caller must
// hold s.mu.
func (s *Store) evictLRULocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	hash := back.Value.(domain.Hash)
	s.removeLocked(hash)
}

// removeLocked deletes hash from the primary table and all secondary
// indices, leaving no partially-indexed state observable afterward
// (spec.md §4.2 invariant).
func (s *Store) removeLocked(hash domain.Hash) {
	e, ok := s.byHash[hash]
	if !ok {
		return
	}
	s.unindexLocked(e.tx)
	s.lru.Remove(e.lruElem)
	delete(s.byHash, hash)
}

// EvictExpired removes every entry whose FirstSeen is older than the
// store's TTL relative to now.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.Hash
	for hash, e := range s.byHash {
		if now.Sub(e.tx.FirstSeen) >= s.ttl {
			expired = append(expired, hash)
		}
	}
	for _, h := range expired {
		s.removeLocked(h)
	}
	return len(expired)
}

// Remove deletes hash unconditionally — used when the chain observer
// reports the transaction was included or dropped.
func (s *Store) Remove(hash domain.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(hash)
}

// Get returns a copy of the stored PendingTx for hash, if present.
func (s *Store) Get(hash domain.Hash) (domain.PendingTx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byHash[hash]
	if !ok {
		return domain.PendingTx{}, false
	}
	return e.tx, true
}

// QueryRelevant returns copies of every stored entry whose decoded protocol
// is in the operator's watch list (spec.md §4.2). With an empty watch list
// it returns every stored entry.
func (s *Store) QueryRelevant() []domain.PendingTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.watchList) == 0 {
		out := make([]domain.PendingTx, 0, len(s.byHash))
		for _, e := range s.byHash {
			out = append(out, e.tx)
		}
		return out
	}

	var out []domain.PendingTx
	for proto := range s.watchList {
		for hash := range s.byProto[proto] {
			out = append(out, s.byHash[hash].tx)
		}
	}
	return out
}

// ByToken returns copies of every stored entry routed through token.
func (s *Store) ByToken(token string) []domain.PendingTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PendingTx
	for hash := range s.byToken[token] {
		out = append(out, s.byHash[hash].tx)
	}
	return out
}

// Len returns the number of currently stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}
