package scheduler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/flashloan"
	"github.com/halvard/chainsentinel/internal/pendingpool"
	"github.com/halvard/chainsentinel/internal/poolindex"
	"github.com/halvard/chainsentinel/internal/relay"
	"github.com/halvard/chainsentinel/internal/safety"
	"github.com/halvard/chainsentinel/internal/strategy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	ticks       chan domain.BlockTick
	pendingTxs  chan domain.PendingTx
	poolUpdates chan PoolUpdate
	poolCreates chan strategy.PoolCreatedObservation
	codeConfirm chan domain.Address
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		ticks:       make(chan domain.BlockTick, 4),
		pendingTxs:  make(chan domain.PendingTx, 4),
		poolUpdates: make(chan PoolUpdate, 4),
		poolCreates: make(chan strategy.PoolCreatedObservation, 4),
		codeConfirm: make(chan domain.Address, 4),
	}
}

func (f *fakeFeed) BlockTicks() <-chan domain.BlockTick                        { return f.ticks }
func (f *fakeFeed) PendingTxs() <-chan domain.PendingTx                        { return f.pendingTxs }
func (f *fakeFeed) PoolUpdates() <-chan PoolUpdate                             { return f.poolUpdates }
func (f *fakeFeed) PoolCreations() <-chan strategy.PoolCreatedObservation      { return f.poolCreates }
func (f *fakeFeed) CodeConfirmations() <-chan domain.Address                   { return f.codeConfirm }

// fakeStrategy fires exactly once, on a ProbeObservation, to exercise the
// loop's dispatch->gate->build->submit pipeline without depending on any
// one real strategy family's numeric preconditions.
type fakeStrategy struct {
	fired bool
}

func (s *fakeStrategy) ID() string { return "fake" }
func (s *fakeStrategy) IsReady(now, lastExec time.Time, cfg config.Config) bool {
	return !s.fired
}
func (s *fakeStrategy) Analyze(tick domain.BlockTick, obs strategy.Observation, snap strategy.Snapshots) domain.Result[domain.Opportunity] {
	if _, ok := obs.(strategy.ProbeObservation); !ok {
		return domain.Void[domain.Opportunity](domain.ErrNoOpportunity)
	}
	s.fired = true
	return domain.Ok(domain.Opportunity{
		Strategy:        "fake",
		Path:            []domain.Address{{0xAA}},
		Principal:       big.NewInt(1_000_000),
		ExpectedGross:   big.NewInt(2_000_000),
		ExpectedGasCost: big.NewInt(100_000),
		ObservedAtBlock: tick.Number,
	})
}
func (s *fakeStrategy) Build(opp domain.Opportunity, builder *bundle.Builder, params bundle.Params) domain.Result[domain.Bundle] {
	legs := []bundle.LegTemplate{{To: opp.Path[0], Value: opp.Principal, GasLimit: 100000, Variant: domain.TxEIP1559}}
	return builder.Build(opp, legs, bundle.ShapeArbitrage, params)
}

type stubTransport struct {
	submitted int
}

func (s *stubTransport) Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error) {
	return bundle.SimResult{Success: true, GrossValue: big.NewInt(2_000_000), TotalGas: 100000}, nil
}
func (s *stubTransport) Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error) {
	s.submitted++
	return relay.NewBundleID(), nil
}
func (s *stubTransport) Status(id domain.BundleID) (domain.BundleStatus, error) {
	return domain.BundleIncluded, nil
}

type stubSigner struct{}

func (stubSigner) Sign(leg domain.BundleLeg) ([]byte, error) { return []byte{0x01}, nil }

func testCfg() config.Config {
	return config.Config{
		MinProfitWei:       "1",
		MaxGasPriceGwei:    10_000,
		MaxPositionSizeWei: "1000000000000",
		MaxDailyGasSpendWei: "1000000000000",
		MaxDailyLossWei:     "1000000000000",
		TxRateWindow:        time.Minute,
		MaxTxPerWindow:      1000,
		MaxSlippage:         1.0,
		NetworkBaseFeeCeilingGwei: 100_000,
		MaxBlockAge:               time.Hour,
		Strategies:                []string{"fake"},
		StrategyCooldown:          0,
		StrategyWarmup:            0,
	}
}

func newTestLoop(t *testing.T, feed *fakeFeed, transport *stubTransport, strat *fakeStrategy) *Loop {
	t.Helper()
	cfg := testCfg()
	registry := strategy.New(zerolog.Nop())
	registry.Register(strat)

	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	supervisor := safety.New(cfg, nil, nil, nil, bus, nil, zerolog.Nop())

	pool := pendingpool.New(100, time.Hour, nil)
	pools := poolindex.New()
	financing := flashloan.New(nil, nil, time.Hour, nil, zerolog.Nop())
	relayClient := relay.New(transport)

	loop := NewLoop(feed, pool, pools, financing, registry, bundle.NewBuilder(), relayClient, stubSigner{}, supervisor, bus, cfg, zerolog.Nop())
	loop.Wire()
	return loop
}

// TestRun_TickDrivesDispatchAndSubmit exercises the full onTick ->
// dispatch -> handleOpportunity -> submit pipeline through one real tick,
// using a fake strategy so the test doesn't depend on any one strategy
// family's numeric preconditions.
func TestRun_TickDrivesDispatchAndSubmit(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	strat := &fakeStrategy{}
	loop := newTestLoop(t, feed, transport, strat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	feed.ticks <- domain.BlockTick{Number: 100, BaseFee: 10_000_000_000, Timestamp: time.Now().Unix()}

	require.Eventually(t, func() bool { return transport.submitted == 1 }, time.Second, time.Millisecond)
	assert.True(t, strat.fired)

	cancel()
	<-done
}

// TestDispatch_MismatchedObservationDeclinesSilently checks that a
// strategy given an observation it doesn't expect contributes no
// opportunity and submits nothing, rather than erroring the whole pass.
func TestDispatch_MismatchedObservationDeclinesSilently(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	strat := &fakeStrategy{}
	loop := newTestLoop(t, feed, transport, strat)

	loop.dispatch(domain.BlockTick{Number: 1}, func(string) strategy.Observation {
		return strategy.PendingTxObservation{}
	})

	assert.Equal(t, 0, transport.submitted)
	assert.False(t, strat.fired)
}

// TestHandleOpportunity_SafetyGateRejectsBelowProfitFloor verifies that an
// opportunity whose expected profit falls below the configured floor
// never reaches Build/Submit.
func TestHandleOpportunity_SafetyGateRejectsBelowProfitFloor(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	strat := &fakeStrategy{}
	loop := newTestLoop(t, feed, transport, strat)
	cfg := testCfg()
	cfg.MinProfitWei = "999999999999999999999999"
	loop.cfg = cfg
	loop.supervisor = safety.New(cfg, nil, nil, nil, loop.bus, nil, zerolog.Nop())

	opp := domain.Opportunity{
		Strategy:        "fake",
		Path:            []domain.Address{{0xAA}},
		Principal:       big.NewInt(1_000_000),
		ExpectedGross:   big.NewInt(2_000_000),
		ExpectedGasCost: big.NewInt(100_000),
		ObservedAtBlock: 1,
	}

	loop.handleOpportunity(domain.BlockTick{Number: 1, BaseFee: 1_000_000_000, Timestamp: time.Now().Unix()}, opp)

	assert.Equal(t, 0, transport.submitted)
	assert.Empty(t, loop.outstanding)
}

// TestOnTick_PrunesStaleOutstandingBundles confirms a bundle whose
// target_block has fallen two or more blocks behind is dropped without
// ever polling its status.
func TestOnTick_PrunesStaleOutstandingBundles(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	strat := &fakeStrategy{fired: true} // already fired, so onTick's own dispatch adds nothing new
	loop := newTestLoop(t, feed, transport, strat)

	stale := domain.BundleID("stale-bundle")
	loop.outstanding[stale] = outstandingBundle{id: stale, targetBlock: 10}

	loop.onTick(domain.BlockTick{Number: 13, Timestamp: time.Now().Unix()})

	assert.NotContains(t, loop.outstanding, stale)
}

// TestPollOutstanding_IncludedSettlesAndRemoves checks the included branch
// records a settlement and drops the bundle from the outstanding table.
func TestPollOutstanding_IncludedSettlesAndRemoves(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	strat := &fakeStrategy{}
	loop := newTestLoop(t, feed, transport, strat)

	id := domain.BundleID("included-bundle")
	loop.outstanding[id] = outstandingBundle{
		id:          id,
		targetBlock: 5,
		principal:   big.NewInt(1_000_000),
		gasCost:     big.NewInt(100_000),
		expected:    big.NewInt(2_000_000),
	}

	loop.pollOutstanding()

	assert.NotContains(t, loop.outstanding, id)
}

// TestPollOutstanding_PendingLeavesBundleInPlace checks the still-pending
// branch takes no action and keeps the bundle tracked.
func TestPollOutstanding_PendingLeavesBundleInPlace(t *testing.T) {
	feed := newFakeFeed()
	transport := &pendingTransport{}
	strat := &fakeStrategy{}
	loop := newTestLoop(t, feed, &stubTransport{}, strat)
	loop.relay = relay.New(transport)

	id := domain.BundleID("pending-bundle")
	loop.outstanding[id] = outstandingBundle{id: id, targetBlock: 5}

	loop.pollOutstanding()

	assert.Contains(t, loop.outstanding, id)
}

type pendingTransport struct{}

func (pendingTransport) Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error) {
	return bundle.SimResult{Success: true}, nil
}
func (pendingTransport) Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error) {
	return relay.NewBundleID(), nil
}
func (pendingTransport) Status(id domain.BundleID) (domain.BundleStatus, error) {
	return domain.BundlePending, nil
}
