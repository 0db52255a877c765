package chainclient

import (
	"math/big"
	"testing"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *WebSocketChainClient {
	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	return New(Config{URL: "wss://example.invalid"}, bus, zerolog.Nop())
}

func TestParseAddress_RoundTripsHex(t *testing.T) {
	addr, err := parseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", addr.Hex())
}

func TestParseAddress_RejectsWrongLength(t *testing.T) {
	_, err := parseAddress("0xaa")
	assert.Error(t, err)
}

func TestParseBig_EmptyStringIsZero(t *testing.T) {
	v, err := parseBig("")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), v)
}

func TestParseBig_RejectsGarbage(t *testing.T) {
	_, err := parseBig("not-a-number")
	assert.Error(t, err)
}

func TestHandleMessage_BlockTickReachesChannel(t *testing.T) {
	c := newTestClient()
	msg := []byte(`["block_tick", {"number": 100, "base_fee_wei": 10000000000, "gas_used": 5, "gas_limit": 30000000, "timestamp": 1700000000}]`)

	require.NoError(t, c.handleMessage(msg))

	select {
	case tick := <-c.blockTicks:
		assert.Equal(t, uint64(100), tick.Number)
		assert.Equal(t, uint64(10000000000), tick.BaseFee)
	default:
		t.Fatal("expected a block tick on the channel")
	}
}

func TestHandleMessage_PendingTxReachesChannel(t *testing.T) {
	c := newTestClient()
	msg := []byte(`["pending_tx", {
		"hash": "0x` + pad64("aa") + `",
		"sender": "0x` + pad40("bb") + `",
		"value": "1000000",
		"gas_price": "9000000000",
		"gas_limit": 21000,
		"nonce": 5,
		"input": "0x",
		"protocol_tag": "uniswap_v2",
		"token": "0x` + pad40("cc") + `"
	}]`)

	require.NoError(t, c.handleMessage(msg))

	select {
	case tx := <-c.pendingTxs:
		assert.Equal(t, uint64(21000), tx.GasLimit)
		assert.Equal(t, "uniswap_v2", tx.ProtocolTag)
		assert.Equal(t, big.NewInt(9000000000), tx.Gas.GasPrice)
	default:
		t.Fatal("expected a pending tx on the channel")
	}
}

func TestHandleMessage_PoolUpdateCarriesNeighbors(t *testing.T) {
	c := newTestClient()
	msg := []byte(`["pool_update", {
		"pool": "0x` + pad40("11") + `",
		"reserve0": "500000",
		"reserve1": "500000",
		"fee_bps": 30,
		"last_change_block": 42,
		"neighbors": ["0x` + pad40("22") + `"]
	}]`)

	require.NoError(t, c.handleMessage(msg))

	select {
	case update := <-c.poolUpdates:
		assert.Len(t, update.Neighbors, 1)
		assert.Equal(t, int64(30), update.State.FeeBps)
	default:
		t.Fatal("expected a pool update on the channel")
	}
}

func TestHandleMessage_UnknownTypeIsIgnoredNotFatal(t *testing.T) {
	c := newTestClient()
	err := c.handleMessage([]byte(`["mystery", {}]`))
	assert.NoError(t, err)
}

func TestHandleMessage_ReserveResponseDeliversToWaiter(t *testing.T) {
	c := newTestClient()
	ch := make(chan wireReserveResponse, 1)
	c.pendingMu.Lock()
	c.pending[7] = ch
	c.pendingMu.Unlock()

	msg := []byte(`["reserve_response", {"request_id": 7, "liquidity": "123456", "last_updated_block": 99}]`)
	require.NoError(t, c.handleMessage(msg))

	select {
	case resp := <-ch:
		assert.Equal(t, "123456", resp.Liquidity)
	default:
		t.Fatal("expected a reserve response delivered to the waiting channel")
	}
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	assert.Equal(t, baseReconnectDelay, backoffDelay(1))
	assert.Less(t, backoffDelay(2), backoffDelay(3))
	assert.Equal(t, maxReconnectDelay, backoffDelay(20))
}

func TestVenueLiquidity_FailsWhenNotConnected(t *testing.T) {
	c := newTestClient()
	_, _, err := c.VenueLiquidity(domain.Address{0xaa})
	assert.Error(t, err)
}

func pad40(suffix string) string {
	return pad(suffix, 40)
}

func pad64(suffix string) string {
	return pad(suffix, 64)
}

func pad(suffix string, width int) string {
	out := make([]byte, width)
	for i := range out {
		out[i] = '0'
	}
	copy(out[width-len(suffix):], suffix)
	return string(out)
}
