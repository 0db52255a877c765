// Package relay implements the relay-client proxy of spec.md §4.7: a
// caching wrapper over the out-of-scope relay wire protocol (spec.md §1)
// that bounds inclusion-poll fan-out with a 500ms status cache, surfaces
// typed submit errors, and gives submit at-most-once semantics per
// (bundle-hash, target-block).
//
// Grounded on aristath-sentinel/trader/internal/clients/tradernet's
// rate-limited SDK client wrapper and its cached-response shape.
package relay

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/domain"
)

// Transport is the out-of-scope relay wire protocol (spec.md §1): HTTPS
// transport to the private block-builder. The Client wraps it with
// caching, idempotency, and typed errors; the Transport itself does no
// bookkeeping.
type Transport interface {
	Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error)
	Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error)
	Status(id domain.BundleID) (domain.BundleStatus, error)
}

// ErrKind distinguishes transport failures from duplicate submissions so
// callers can decide whether to retry.
type ErrKind int

const (
	ErrKindTransport ErrKind = iota
	ErrKindDuplicate
)

// SubmitError is the typed error surfaced by Submit (spec.md §4.7: "On
// transport error, submit returns a typed error").
type SubmitError struct {
	Kind ErrKind
	Err  error
}

func (e *SubmitError) Error() string { return e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }

const statusCacheTTL = 500 * time.Millisecond

type statusCacheEntry struct {
	status   domain.BundleStatus
	cachedAt time.Time
}

type submissionKey struct {
	bundleHash  [32]byte
	targetBlock uint64
}

// Client is the proxy described by spec.md §4.7.
type Client struct {
	transport Transport

	mu           sync.Mutex
	submissions  map[submissionKey]domain.BundleID
	statusCache  map[domain.BundleID]statusCacheEntry
}

// New creates a relay Client proxying transport.
func New(transport Transport) *Client {
	return &Client{
		transport:   transport,
		submissions: make(map[submissionKey]domain.BundleID),
		statusCache: make(map[domain.BundleID]statusCacheEntry),
	}
}

// Simulate has no side effects and is never cached or deduplicated.
func (c *Client) Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error) {
	return c.transport.Simulate(b, stateBlock)
}

// Submit is at-most-once per (bundle-hash, target-block): a second
// Submit for the same key returns the first call's BundleID without
// invoking the transport again (spec.md §4.7 / §8 idempotence property).
func (c *Client) Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error) {
	key := submissionKey{bundleHash: hashBundle(b), targetBlock: targetBlock}

	c.mu.Lock()
	if id, ok := c.submissions[key]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.transport.Submit(b, targetBlock)
	if err != nil {
		return "", &SubmitError{Kind: ErrKindTransport, Err: fmt.Errorf("relay: submit: %w", err)}
	}

	c.mu.Lock()
	if existing, ok := c.submissions[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.submissions[key] = id
	c.mu.Unlock()

	return id, nil
}

// Status returns the cached status if it was fetched within the last
// 500ms, otherwise fetches and caches a fresh one (spec.md §4.7).
func (c *Client) Status(id domain.BundleID) (domain.BundleStatus, error) {
	c.mu.Lock()
	if entry, ok := c.statusCache[id]; ok && time.Since(entry.cachedAt) < statusCacheTTL {
		c.mu.Unlock()
		return entry.status, nil
	}
	c.mu.Unlock()

	status, err := c.transport.Status(id)
	if err != nil {
		return "", fmt.Errorf("relay: status: %w", err)
	}

	c.mu.Lock()
	c.statusCache[id] = statusCacheEntry{status: status, cachedAt: time.Now()}
	c.mu.Unlock()

	return status, nil
}

func hashBundle(b domain.Bundle) [32]byte {
	h := sha256.New()
	for _, leg := range b.Legs {
		h.Write(leg.Raw)
		if leg.VictimRef != nil {
			h.Write(leg.VictimRef[:])
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewBundleID generates a locally-unique placeholder ID, used by reference
// Transport implementations that don't assign their own.
func NewBundleID() domain.BundleID {
	return domain.BundleID(uuid.NewString())
}
