package scheduler

import (
	"math/big"
	"testing"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/flashloan"
	"github.com/halvard/chainsentinel/internal/safety"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorJob_PublishesWarningOnStaleBlock(t *testing.T) {
	cfg := testCfg()
	cfg.MaxBlockAge = time.Millisecond

	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	supervisor := safety.New(cfg, nil, nil, nil, bus, nil, zerolog.Nop())

	var warnings []events.Incident
	bus.Bus().Subscribe(events.EventIncident, func(_ events.EventType, payload interface{}) {
		if incident, ok := payload.(events.Incident); ok && incident.Level == events.LevelWarning {
			warnings = append(warnings, incident)
		}
	})

	feed := newFakeFeed()
	loop := newTestLoop(t, feed, &stubTransport{}, &fakeStrategy{})
	// loop.LatestTick() defaults to the zero BlockTick (epoch timestamp),
	// which is already far older than the 1ms MaxBlockAge above.

	job := &MonitorJob{Supervisor: supervisor, Bus: bus, Loop: loop}
	require.NoError(t, job.Run())

	assert.NotEmpty(t, warnings)
}

func TestDailyResetJob_ResetsMetricsPreservingTrigger(t *testing.T) {
	cfg := testCfg()
	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	supervisor := safety.New(cfg, nil, nil, nil, bus, nil, zerolog.Nop())
	supervisor.Observe(events.Incident{Level: events.LevelCritical, Component: "test", Reason: "forced trip"})
	supervisor.RecordSubmission(big.NewInt(1_000), big.NewInt(100), time.Now())

	job := &DailyResetJob{Supervisor: supervisor}
	require.NoError(t, job.Run())

	triggered, _ := supervisor.IsTriggered()
	assert.True(t, triggered)
	assert.Equal(t, 0, supervisor.Snapshot().PositionInFlight.Sign())
}

type stubReserveFetcher struct{}

func (stubReserveFetcher) VenueLiquidity(domain.Address) (*big.Int, uint64, error) {
	return big.NewInt(1_000_000), 1, nil
}

func TestFlashloanRefreshJob_CallsRefresh(t *testing.T) {
	planner := flashloan.New(flashloan.DefaultVenues(), nil, time.Hour, stubReserveFetcher{}, zerolog.Nop())
	job := &FlashloanRefreshJob{Planner: planner, Log: zerolog.Nop()}

	require.NoError(t, job.Run())

	_, ok := planner.Snapshot("aave")
	assert.True(t, ok)
}

func TestTxWatchJob_PollsOutstanding(t *testing.T) {
	feed := newFakeFeed()
	transport := &stubTransport{}
	loop := newTestLoop(t, feed, transport, &fakeStrategy{})

	id := domain.BundleID("watched-bundle")
	loop.outstanding[id] = outstandingBundle{
		id:          id,
		targetBlock: 1,
		principal:   big.NewInt(1_000_000),
		gasCost:     big.NewInt(100_000),
		expected:    big.NewInt(2_000_000),
	}

	job := &TxWatchJob{Loop: loop}
	require.NoError(t, job.Run())

	assert.NotContains(t, loop.outstanding, id)
}
