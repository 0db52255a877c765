package chainclient

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/scheduler"
	"github.com/halvard/chainsentinel/internal/strategy"
)

// Wire message type tags. The envelope is a two-element JSON array,
// `[type, payload]`, the same shape as the teacher's own tradernet
// WebSocket protocol (`["markets", data]`).
const (
	wireTypeBlockTick    = "block_tick"
	wireTypePendingTx    = "pending_tx"
	wireTypePoolUpdate   = "pool_update"
	wireTypePoolCreated  = "pool_created"
	wireTypeCodeConfirm  = "code_confirm"
	wireTypeReserveQuery = "reserve_query"
	wireTypeReserveResp  = "reserve_response"
	wireTypeCancel       = "cancel"
)

type wireBlockTick struct {
	Number    uint64 `json:"number"`
	BaseFee   uint64 `json:"base_fee_wei"`
	GasUsed   uint64 `json:"gas_used"`
	GasLimit  uint64 `json:"gas_limit"`
	Timestamp int64  `json:"timestamp"`
}

type wirePendingTx struct {
	Hash        string  `json:"hash"`
	Sender      string  `json:"sender"`
	Receiver    *string `json:"receiver"`
	Value       string  `json:"value"`
	GasPrice    string  `json:"gas_price"`
	MaxFee      string  `json:"max_fee"`
	PriorityFee string  `json:"priority_fee"`
	GasLimit    uint64  `json:"gas_limit"`
	Nonce       uint64  `json:"nonce"`
	Input       string  `json:"input"`
	ProtocolTag string  `json:"protocol_tag"`
	Token       string  `json:"token"`
}

type wirePoolUpdate struct {
	Pool          string   `json:"pool"`
	Reserve0      string   `json:"reserve0"`
	Reserve1      string   `json:"reserve1"`
	FeeBps        int64    `json:"fee_bps"`
	LastChangeBlk uint64   `json:"last_change_block"`
	Neighbors     []string `json:"neighbors"`
}

type wirePoolCreated struct {
	Factory      string `json:"factory"`
	Pool         string `json:"pool"`
	Token        string `json:"token"`
	InitialDepth string `json:"initial_depth"`
	Block        uint64 `json:"block"`
}

type wireCodeConfirm struct {
	Address string `json:"address"`
}

type wireReserveRequest struct {
	RequestID uint64 `json:"request_id"`
	Venue     string `json:"venue"`
}

type wireReserveResponse struct {
	RequestID   uint64 `json:"request_id"`
	Liquidity   string `json:"liquidity"`
	LastUpdated uint64 `json:"last_updated_block"`
	Error       string `json:"error,omitempty"`
}

type wireCancelRequest struct {
	Sender   string `json:"sender"`
	Nonce    uint64 `json:"nonce"`
	GasPrice string `json:"gas_price"`
}

func parseAddress(s string) (domain.Address, error) {
	var addr domain.Address
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("chainclient: invalid address %q: %w", s, err)
	}
	if len(b) != len(addr) {
		return addr, fmt.Errorf("chainclient: address %q has %d bytes, want %d", s, len(b), len(addr))
	}
	copy(addr[:], b)
	return addr, nil
}

func parseHash(s string) (domain.Hash, error) {
	var h domain.Hash
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("chainclient: invalid hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("chainclient: hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("chainclient: invalid integer %q", s)
	}
	return v, nil
}

// handleMessage dispatches one decoded envelope to its typed handler,
// mirroring the teacher's own channel-name switch in
// MarketStatusWebSocket.handleMessage. Parse failures are logged and
// swallowed — one malformed message must not kill the read loop (spec.md
// §4.1: "never crashes the pipeline").
func (c *WebSocketChainClient) handleMessage(raw []byte) error {
	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("chainclient: malformed envelope: %w", err)
	}
	if len(envelope) < 2 {
		return fmt.Errorf("chainclient: envelope too short: %d elements", len(envelope))
	}

	var msgType string
	if err := json.Unmarshal(envelope[0], &msgType); err != nil {
		return fmt.Errorf("chainclient: malformed message type: %w", err)
	}

	switch msgType {
	case wireTypeBlockTick:
		return c.handleBlockTick(envelope[1])
	case wireTypePendingTx:
		return c.handlePendingTx(envelope[1])
	case wireTypePoolUpdate:
		return c.handlePoolUpdate(envelope[1])
	case wireTypePoolCreated:
		return c.handlePoolCreated(envelope[1])
	case wireTypeCodeConfirm:
		return c.handleCodeConfirm(envelope[1])
	case wireTypeReserveResp:
		return c.handleReserveResponse(envelope[1])
	default:
		c.log.Debug().Str("type", msgType).Msg("ignoring unknown message type")
		return nil
	}
}

func (c *WebSocketChainClient) handleBlockTick(payload json.RawMessage) error {
	var w wireBlockTick
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: block_tick: %w", err)
	}
	c.mu.Lock()
	c.lastGoodAt = time.Now()
	c.mu.Unlock()

	tick := domain.BlockTick{Number: w.Number, BaseFee: w.BaseFee, GasUsed: w.GasUsed, GasLimit: w.GasLimit, Timestamp: w.Timestamp}
	select {
	case c.blockTicks <- tick:
	default:
		c.log.Warn().Uint64("block", w.Number).Msg("block tick dropped, consumer not keeping up")
	}
	return nil
}

func (c *WebSocketChainClient) handlePendingTx(payload json.RawMessage) error {
	var w wirePendingTx
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: pending_tx: %w", err)
	}
	hash, err := parseHash(w.Hash)
	if err != nil {
		return err
	}
	sender, err := parseAddress(w.Sender)
	if err != nil {
		return err
	}
	var receiver *domain.Address
	if w.Receiver != nil {
		r, err := parseAddress(*w.Receiver)
		if err != nil {
			return err
		}
		receiver = &r
	}
	value, err := parseBig(w.Value)
	if err != nil {
		return err
	}
	gasPrice, err := parseBig(w.GasPrice)
	if err != nil {
		return err
	}
	maxFee, err := parseBig(w.MaxFee)
	if err != nil {
		return err
	}
	priorityFee, err := parseBig(w.PriorityFee)
	if err != nil {
		return err
	}
	input, err := hex.DecodeString(strings.TrimPrefix(w.Input, "0x"))
	if err != nil {
		return fmt.Errorf("chainclient: pending_tx: invalid input: %w", err)
	}

	gas := domain.GasPricing{GasPrice: gasPrice}
	if w.MaxFee != "" {
		gas = domain.GasPricing{MaxFee: maxFee, PriorityFee: priorityFee}
	}

	tx := domain.PendingTx{
		Hash:        hash,
		Sender:      sender,
		Receiver:    receiver,
		Value:       value,
		Gas:         gas,
		GasLimit:    w.GasLimit,
		Nonce:       w.Nonce,
		Input:       input,
		ProtocolTag: w.ProtocolTag,
		Token:       w.Token,
		FirstSeen:   time.Now(),
	}

	select {
	case c.pendingTxs <- tx:
	default:
		c.log.Warn().Str("hash", w.Hash).Msg("pending tx dropped, consumer not keeping up")
	}
	return nil
}

func (c *WebSocketChainClient) handlePoolUpdate(payload json.RawMessage) error {
	var w wirePoolUpdate
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: pool_update: %w", err)
	}
	pool, err := parseAddress(w.Pool)
	if err != nil {
		return err
	}
	reserve0, err := parseBig(w.Reserve0)
	if err != nil {
		return err
	}
	reserve1, err := parseBig(w.Reserve1)
	if err != nil {
		return err
	}
	neighbors := make([]domain.Address, 0, len(w.Neighbors))
	for _, n := range w.Neighbors {
		addr, err := parseAddress(n)
		if err != nil {
			return err
		}
		neighbors = append(neighbors, addr)
	}

	update := scheduler.PoolUpdate{
		State: domain.PoolState{
			Pool:          pool,
			Reserve0:      reserve0,
			Reserve1:      reserve1,
			FeeBps:        w.FeeBps,
			LastChangeBlk: w.LastChangeBlk,
		},
		Neighbors: neighbors,
	}

	select {
	case c.poolUpdates <- update:
	default:
		c.log.Warn().Str("pool", w.Pool).Msg("pool update dropped, consumer not keeping up")
	}
	return nil
}

func (c *WebSocketChainClient) handlePoolCreated(payload json.RawMessage) error {
	var w wirePoolCreated
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: pool_created: %w", err)
	}
	factory, err := parseAddress(w.Factory)
	if err != nil {
		return err
	}
	pool, err := parseAddress(w.Pool)
	if err != nil {
		return err
	}
	token, err := parseAddress(w.Token)
	if err != nil {
		return err
	}
	depth, err := parseBig(w.InitialDepth)
	if err != nil {
		return err
	}

	obs := strategy.PoolCreatedObservation{
		Factory:      factory,
		Pool:         pool,
		Token:        token,
		InitialDepth: depth,
		Block:        w.Block,
	}

	select {
	case c.poolCreations <- obs:
	default:
		c.log.Warn().Str("pool", w.Pool).Msg("pool creation dropped, consumer not keeping up")
	}
	return nil
}

func (c *WebSocketChainClient) handleCodeConfirm(payload json.RawMessage) error {
	var w wireCodeConfirm
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: code_confirm: %w", err)
	}
	addr, err := parseAddress(w.Address)
	if err != nil {
		return err
	}

	select {
	case c.codeConfirmations <- addr:
	default:
		c.log.Warn().Str("address", w.Address).Msg("code confirmation dropped, consumer not keeping up")
	}
	return nil
}

func (c *WebSocketChainClient) handleReserveResponse(payload json.RawMessage) error {
	var w wireReserveResponse
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("chainclient: reserve_response: %w", err)
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[w.RequestID]
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debug().Uint64("request_id", w.RequestID).Msg("reserve response for unknown or timed-out request")
		return nil
	}

	select {
	case ch <- w:
	default:
	}
	return nil
}
