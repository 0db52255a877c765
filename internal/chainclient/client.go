// Package chainclient implements the chain observer of spec.md §4.1: a
// boundary the rest of the pipeline consumes through the narrow
// ChainClient interface, plus one concrete WebSocketChainClient adapter
// so the module runs end to end without a real RPC endpoint wired in.
// The wire protocol the adapter speaks to its upstream is out of scope
// per spec.md §1 ("external chain client"); what's specified here is the
// reconnect/backoff/degraded-signal behavior spec.md §4.1 requires of
// whatever adapter sits behind the interface.
//
// Grounded on aristath-sentinel/internal/clients/tradernet's
// MarketStatusWebSocket: connect/subscribe/read-loop/reconnect-loop
// structure, mutex-guarded connection state, and exponential-backoff
// reconnection with a capped delay and an unbounded retry count beyond
// the "loud" attempt threshold.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/scheduler"
	"github.com/halvard/chainsentinel/internal/strategy"
	"github.com/rs/zerolog"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second

	baseReconnectDelay   = 1 * time.Second
	maxReconnectDelay    = 60 * time.Second
	loudReconnectAttempt = 5 // beyond this, failures are logged at Warn instead of Error

	// degradedAfter is the sustained-outage threshold spec.md §4.1 calls
	// for: once disconnected this long, reconnectLoop publishes one
	// degraded incident and won't publish a second until reconnection
	// succeeds.
	degradedAfter = 30 * time.Second

	// reserveQueryTimeout bounds how long VenueLiquidity waits for a
	// matching response before treating the upstream as unresponsive.
	reserveQueryTimeout = 5 * time.Second
)

// Config configures one WebSocketChainClient.
type Config struct {
	URL string
}

// ChainClient is the full chain-observer contract this package's adapter
// satisfies: the three lazy sequences from spec.md §4.1
// (BlockTicks/PendingTxs, plus pool-reserve as request/response via
// VenueLiquidity), the pool-graph feed the scheduler consumes
// (PoolUpdates/PoolCreations/CodeConfirmations), and the emergency
// cancel-broadcast safety.Canceler needs. Consumers should depend on the
// narrower interface they actually need (scheduler.ChainFeed,
// flashloan.ReserveFetcher, safety.Canceler) rather than this one.
type ChainClient interface {
	BlockTicks() <-chan domain.BlockTick
	PendingTxs() <-chan domain.PendingTx
	PoolUpdates() <-chan scheduler.PoolUpdate
	PoolCreations() <-chan strategy.PoolCreatedObservation
	CodeConfirmations() <-chan domain.Address

	VenueLiquidity(venueAddress domain.Address) (*big.Int, uint64, error)
	CancelPending(tx domain.PendingTx, gasPriceMultiplier *big.Rat) error

	Start() error
	Stop() error
}

// WebSocketChainClient is the reference ChainClient adapter: one
// long-lived WebSocket connection, read in a background goroutine,
// reconnected with exponential backoff on any read/dial failure.
type WebSocketChainClient struct {
	cfg Config
	bus *events.Manager
	log zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	stopped    bool
	stopChan   chan struct{}
	lastGoodAt time.Time
	degraded   bool

	blockTicks        chan domain.BlockTick
	pendingTxs        chan domain.PendingTx
	poolUpdates       chan scheduler.PoolUpdate
	poolCreations     chan strategy.PoolCreatedObservation
	codeConfirmations chan domain.Address

	nextRequestID uint64
	pendingMu     sync.Mutex
	pending       map[uint64]chan wireReserveResponse
}

// New creates a WebSocketChainClient. Every channel is created with a
// buffer so a slow consumer doesn't immediately block the read loop on a
// single message; the scheduler's event loop is
// expected to drain these promptly (spec.md §5).
func New(cfg Config, bus *events.Manager, log zerolog.Logger) *WebSocketChainClient {
	return &WebSocketChainClient{
		cfg:               cfg,
		bus:               bus,
		log:               log.With().Str("component", "chainclient").Logger(),
		stopChan:          make(chan struct{}),
		blockTicks:        make(chan domain.BlockTick, 16),
		pendingTxs:        make(chan domain.PendingTx, 256),
		poolUpdates:       make(chan scheduler.PoolUpdate, 256),
		poolCreations:     make(chan strategy.PoolCreatedObservation, 16),
		codeConfirmations: make(chan domain.Address, 64),
		pending:           make(map[uint64]chan wireReserveResponse),
	}
}

func (c *WebSocketChainClient) BlockTicks() <-chan domain.BlockTick                   { return c.blockTicks }
func (c *WebSocketChainClient) PendingTxs() <-chan domain.PendingTx                   { return c.pendingTxs }
func (c *WebSocketChainClient) PoolUpdates() <-chan scheduler.PoolUpdate              { return c.poolUpdates }
func (c *WebSocketChainClient) PoolCreations() <-chan strategy.PoolCreatedObservation { return c.poolCreations }
func (c *WebSocketChainClient) CodeConfirmations() <-chan domain.Address             { return c.codeConfirmations }

// Start dials the upstream and begins the read loop. A failed initial
// dial does not return an error to the caller beyond logging it — the
// reconnect loop takes over immediately, matching spec.md §4.1's "never
// crashes the pipeline."
func (c *WebSocketChainClient) Start() error {
	c.log.Info().Str("url", c.cfg.URL).Msg("starting chain client")
	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("initial connect failed, reconnecting in background")
		go c.reconnectLoop()
		return nil
	}
	go c.readLoop()
	return nil
}

// Stop closes the connection and stops any in-progress reconnect loop.
func (c *WebSocketChainClient) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopChan)
	return c.disconnect()
}

func (c *WebSocketChainClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("chainclient: dial: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.lastGoodAt = time.Now()
	c.log.Info().Msg("connected to chain feed")
	return nil
}

func (c *WebSocketChainClient) disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

// IsConnected reports current connection status.
func (c *WebSocketChainClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// VenueLiquidity satisfies flashloan.ReserveFetcher: it sends a
// pool-reserve request and blocks for a matching response, or times out.
func (c *WebSocketChainClient) VenueLiquidity(venueAddress domain.Address) (*big.Int, uint64, error) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if !connected || conn == nil {
		return nil, 0, fmt.Errorf("chainclient: not connected")
	}

	id := atomic.AddUint64(&c.nextRequestID, 1)
	respCh := make(chan wireReserveResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := wireReserveRequest{RequestID: id, Venue: venueAddress.Hex()}
	if err := c.writeEnvelope(wireTypeReserveQuery, req); err != nil {
		return nil, 0, fmt.Errorf("chainclient: reserve query: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, 0, fmt.Errorf("chainclient: reserve query: %s", resp.Error)
		}
		liquidity, ok := new(big.Int).SetString(resp.Liquidity, 10)
		if !ok {
			return nil, 0, fmt.Errorf("chainclient: reserve query: malformed liquidity %q", resp.Liquidity)
		}
		return liquidity, resp.LastUpdated, nil
	case <-time.After(reserveQueryTimeout):
		return nil, 0, fmt.Errorf("chainclient: reserve query: timed out after %s", reserveQueryTimeout)
	}
}

// CancelPending satisfies safety.Canceler: it broadcasts a self-pay
// replacement at gasPriceMultiplier times the original tx's gas price,
// the mechanism spec.md §4.8's emergency procedure uses to displace
// in-flight transactions. Fire-and-forget beyond the write itself — the
// emergency procedure doesn't wait for inclusion.
func (c *WebSocketChainClient) CancelPending(tx domain.PendingTx, gasPriceMultiplier *big.Rat) error {
	original := tx.Gas.EffectivePrice(big.NewInt(0))
	if original == nil {
		original = big.NewInt(0)
	}
	boosted := new(big.Rat).Mul(new(big.Rat).SetInt(original), gasPriceMultiplier)
	boostedInt := new(big.Int).Quo(boosted.Num(), boosted.Denom())

	req := wireCancelRequest{
		Sender:   tx.Sender.Hex(),
		Nonce:    tx.Nonce,
		GasPrice: boostedInt.String(),
	}
	return c.writeEnvelope(wireTypeCancel, req)
}
