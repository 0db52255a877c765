// Periodic Job adapters for the wall-clock-cadence half of C9: the
// monitor task, the daily safety reset, the flash-loan refresh cycle, and
// the tx-watch poll. Each is a thin Job wrapper the same shape as the
// teacher's own DeploymentJob/SyncCycleJob: a small config struct plus
// Name()/Run().
package scheduler

import (
	"time"

	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/flashloan"
	"github.com/halvard/chainsentinel/internal/safety"
	"github.com/rs/zerolog"
)

// MonitorJob is the periodic health check from spec.md §4.9: "calls C8
// resource+network checks, updates metrics, records WARNING incidents."
// It never trips the breaker directly; it only raises incidents, which
// the supervisor observes through the bus subscription set up by
// Loop.Wire, keeping this job itself gate-free.
type MonitorJob struct {
	Supervisor *safety.Supervisor
	Bus        *events.Manager
	Loop       *Loop
}

func (j *MonitorJob) Name() string { return "safety_monitor" }

func (j *MonitorJob) Run() error {
	if err := j.Supervisor.CheckResource(); err != nil {
		j.Bus.Publish(events.LevelWarning, "monitor", err.Error(), nil)
	}
	tick := j.Loop.LatestTick()
	blockAge := time.Since(time.Unix(tick.Timestamp, 0))
	if err := j.Supervisor.CheckNetwork(tick.BaseFee, blockAge); err != nil {
		j.Bus.Publish(events.LevelWarning, "monitor", err.Error(), nil)
	}
	return nil
}

// DailyResetJob zeroes the rolling safety metrics on the configured
// interval (spec.md §4.8), preserving the triggered flag.
type DailyResetJob struct {
	Supervisor *safety.Supervisor
}

func (j *DailyResetJob) Name() string { return "daily_safety_reset" }

func (j *DailyResetJob) Run() error {
	j.Supervisor.DailyReset()
	return nil
}

// FlashloanRefreshJob drives C5's periodic snapshot refresh.
type FlashloanRefreshJob struct {
	Planner *flashloan.Planner
	Log     zerolog.Logger
}

func (j *FlashloanRefreshJob) Name() string { return "flashloan_refresh" }

func (j *FlashloanRefreshJob) Run() error {
	cycleID := flashloan.RefreshID()
	j.Log.Debug().Str("cycle_id", cycleID).Msg("refreshing flash-loan provider snapshots")
	j.Planner.Refresh()
	return nil
}

// TxWatchJob is the tx-watch task from spec.md §4.9.
type TxWatchJob struct {
	Loop *Loop
}

func (j *TxWatchJob) Name() string { return "tx_watch" }

func (j *TxWatchJob) Run() error {
	j.Loop.pollOutstanding()
	return nil
}
