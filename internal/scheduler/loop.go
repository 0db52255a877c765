// Loop is the event-driven half of C9: the tick, ingest, and strategy
// tasks from spec.md §4.9, all running as one cooperative goroutine that
// only ever blocks in its own select statement (spec.md §5: "Suspension
// points... every await-equivalent awaiting another task's output").
package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/flashloan"
	"github.com/halvard/chainsentinel/internal/poolindex"
	"github.com/halvard/chainsentinel/internal/relay"
	"github.com/halvard/chainsentinel/internal/safety"
	"github.com/halvard/chainsentinel/internal/strategy"
	"github.com/rs/zerolog"
)

// PoolUpdate pairs a fresh reserve snapshot with the pool's current
// one-hop neighbors; the chain observer supplies both together since
// domain.PoolState alone carries no token identity (see poolindex.Index).
type PoolUpdate struct {
	State     domain.PoolState
	Neighbors []domain.Address
}

// ChainFeed is the subset of the chain observer (C1) the loop consumes:
// three lazy sequences plus pool-reserve and code-presence updates
// (spec.md §4.1). Closing a channel is this feed's cancellation signal.
type ChainFeed interface {
	BlockTicks() <-chan domain.BlockTick
	PendingTxs() <-chan domain.PendingTx
	PoolUpdates() <-chan PoolUpdate
	PoolCreations() <-chan strategy.PoolCreatedObservation
	CodeConfirmations() <-chan domain.Address
}

// outstandingBundle is tracked from submit until a terminal status or
// target_block+2 has passed (spec.md §4.9 tx-watch task).
type outstandingBundle struct {
	id          domain.BundleID
	targetBlock uint64
	strategy    domain.StrategyTag
	principal   *big.Int
	gasCost     *big.Int
	expected    *big.Int
}

// Loop owns every piece of event-loop-private state named in spec.md §5:
// the pending-tx store, the pool index, and the outstanding-bundle table.
// Nothing outside this type's own goroutine and the tx-watch poll (a
// deliberate, mutex-guarded exception — see pollOutstanding) mutates them.
type Loop struct {
	feed ChainFeed

	pendingPool interface {
		Ingest(domain.PendingTx)
		EvictExpired(time.Time) int
	}
	pools      *poolindex.Index
	financing  *flashloan.Planner
	strategies *strategy.Registry
	builder    *bundle.Builder
	relay      *relay.Client
	signer     bundle.Signer
	supervisor *safety.Supervisor
	bus        *events.Manager
	cfg        config.Config
	log        zerolog.Logger

	// latestTick is read by MonitorJob from the cron goroutine as well as
	// written by the event loop goroutine on every tick, so it is the one
	// other piece of state (besides outstanding) that crosses a goroutine
	// boundary; atomic.Pointer gives readers a consistent snapshot without
	// a mutex, the same copy-on-write shape flashloan.Planner uses for its
	// snapshot table.
	latestTick atomic.Pointer[domain.BlockTick]

	outMu       sync.Mutex
	outstanding map[domain.BundleID]outstandingBundle
}

// NewLoop wires every collaborator the event loop needs. The caller
// subscribes the supervisor to bus separately (see Wire), keeping this
// constructor a plain aggregate rather than a place that also performs
// side-effecting registration.
func NewLoop(
	feed ChainFeed,
	pendingPool interface {
		Ingest(domain.PendingTx)
		EvictExpired(time.Time) int
	},
	pools *poolindex.Index,
	financing *flashloan.Planner,
	strategies *strategy.Registry,
	builder *bundle.Builder,
	relayClient *relay.Client,
	signer bundle.Signer,
	supervisor *safety.Supervisor,
	bus *events.Manager,
	cfg config.Config,
	log zerolog.Logger,
) *Loop {
	return &Loop{
		feed:        feed,
		pendingPool: pendingPool,
		pools:       pools,
		financing:   financing,
		strategies:  strategies,
		builder:     builder,
		relay:       relayClient,
		signer:      signer,
		supervisor:  supervisor,
		bus:         bus,
		cfg:         cfg,
		log:         log.With().Str("component", "scheduler_loop").Logger(),
		outstanding: make(map[domain.BundleID]outstandingBundle),
	}
}

// Wire subscribes the supervisor to every incident the bus carries,
// replacing the cyclic supervisor<->loop reference the teacher would have
// used with a one-way subscription (SPEC_FULL §9 REDESIGN FLAGS).
func (l *Loop) Wire() {
	l.bus.Bus().Subscribe(events.EventIncident, func(_ events.EventType, payload interface{}) {
		if incident, ok := payload.(events.Incident); ok {
			l.supervisor.Observe(incident)
		}
	})
}

// Run is the single cooperative event loop. It returns when ctx is
// cancelled, having observed the cancellation through at most one
// suspension point (spec.md §5: "Stop signals reach all tasks promptly").
func (l *Loop) Run(ctx context.Context) {
	l.log.Info().Msg("event loop started")
	defer l.log.Info().Msg("event loop stopped")

	ticks := l.feed.BlockTicks()
	pendingTxs := l.feed.PendingTxs()
	poolUpdates := l.feed.PoolUpdates()
	poolCreations := l.feed.PoolCreations()
	codeConfirmations := l.feed.CodeConfirmations()

	for {
		select {
		case <-ctx.Done():
			return

		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			l.onTick(tick)

		case tx, ok := <-pendingTxs:
			if !ok {
				pendingTxs = nil
				continue
			}
			l.onPendingTx(tx)

		case pu, ok := <-poolUpdates:
			if !ok {
				poolUpdates = nil
				continue
			}
			l.pools.Update(pu.State, pu.Neighbors)

		case created, ok := <-poolCreations:
			if !ok {
				poolCreations = nil
				continue
			}
			l.onPoolCreated(created)

		case token, ok := <-codeConfirmations:
			if !ok {
				codeConfirmations = nil
				continue
			}
			l.pools.MarkCodeExists(token)
		}
	}
}

// onTick updates the loop's tick context, prunes bundles whose
// target_block has fallen two or more blocks behind (spec.md §4.9: "prune
// old bundles (target <= current-2)"), evicts expired pending-tx entries,
// and gives every probe-driven strategy (arbitrage) a wake.
func (l *Loop) onTick(tick domain.BlockTick) {
	l.latestTick.Store(&tick)

	l.outMu.Lock()
	for id, ob := range l.outstanding {
		if ob.targetBlock+2 <= tick.Number {
			delete(l.outstanding, id)
			l.log.Warn().Str("bundle_id", string(id)).Uint64("target_block", ob.targetBlock).Msg("bundle pruned without terminal status, assuming dropped")
		}
	}
	l.outMu.Unlock()

	l.pendingPool.EvictExpired(time.Unix(tick.Timestamp, 0))

	l.dispatch(tick, func(string) strategy.Observation { return strategy.ProbeObservation{} })
}

// onPendingTx ingests the transaction into the pending-tx store and wakes
// every victim-driven strategy (front-run, sandwich, JIT).
func (l *Loop) onPendingTx(tx domain.PendingTx) {
	l.pendingPool.Ingest(tx)
	l.dispatch(l.LatestTick(), func(string) strategy.Observation {
		return strategy.PendingTxObservation{Tx: tx}
	})
}

// onPoolCreated wakes the new-pool sniper.
func (l *Loop) onPoolCreated(created strategy.PoolCreatedObservation) {
	l.dispatch(l.LatestTick(), func(string) strategy.Observation { return created })
}

// LatestTick returns the most recently observed block tick, the zero
// value before the first tick arrives. Safe to call from any goroutine
// (see the atomic.Pointer field comment above).
func (l *Loop) LatestTick() domain.BlockTick {
	if t := l.latestTick.Load(); t != nil {
		return *t
	}
	return domain.BlockTick{}
}

// dispatch runs one registry pass and carries every resulting opportunity
// through the safety gate, build, and submit steps. A strategy whose
// Analyze call doesn't match the supplied observation kind declines
// silently (domain.Void) rather than failing, so calling every strategy's
// gate on every event is safe — see internal/strategy's Analyze
// implementations, each of which type-asserts its expected Observation.
func (l *Loop) dispatch(tick domain.BlockTick, observationFor func(string) strategy.Observation) {
	snap := strategy.Snapshots{Pools: l.pools, Financing: l.financing, Cfg: l.cfg}

	opportunities := l.strategies.RunReady(time.Now(), tick, observationFor, snap, l.cfg)
	for _, opp := range opportunities {
		l.handleOpportunity(tick, opp)
	}
}

// handleOpportunity runs the C8 gate, then build-simulate-sign-submit in
// that order (spec.md §5: "analyze -> build -> simulate -> submit happens
// in that total order for a given Opportunity").
func (l *Loop) handleOpportunity(tick domain.BlockTick, opp domain.Opportunity) {
	log := l.log.With().Str("strategy", string(opp.Strategy)).Logger()

	strat, err := l.strategies.Get(string(opp.Strategy))
	if err != nil {
		log.Error().Err(err).Msg("opportunity references unregistered strategy")
		return
	}

	var to domain.Address
	if len(opp.Path) > 0 {
		to = opp.Path[0]
	}
	expectedProfit := new(big.Int).Sub(opp.ExpectedGross, opp.Principal)
	expectedProfit.Sub(expectedProfit, opp.ExpectedGasCost)
	baseFee := new(big.Int).SetUint64(tick.BaseFee)
	gasPrice := new(big.Int).Mul(baseFee, big.NewInt(12))
	gasPrice.Quo(gasPrice, big.NewInt(10)) // the same *1.2 boost the builder applies

	check := safety.TxCheck{
		To:             to,
		Value:          opp.Principal,
		GasPrice:       gasPrice,
		GasCost:        opp.ExpectedGasCost,
		ExpectedProfit: expectedProfit,
		BaseFeeWei:     tick.BaseFee,
		LastBlockAge:   time.Since(time.Unix(tick.Timestamp, 0)),
		Now:            time.Now(),
	}
	if err := l.supervisor.ValidateTx(check); err != nil {
		l.bus.Publish(events.LevelWarning, "scheduler", fmt.Sprintf("opportunity rejected by safety gate: %v", err), map[string]interface{}{"strategy": string(opp.Strategy)})
		return
	}

	params := bundle.Params{
		BaseFee:       baseFee,
		TargetBlock:   tick.Number + 1,
		StateBlock:    tick.Number,
		ExpectedGross: opp.ExpectedGross,
		Signer:        l.signer,
		Relay:         l.relay,
	}

	result := strat.Build(opp, l.builder, params)
	if result.IsFailure() {
		log.Error().Err(result.Err).Msg("bundle build failed")
		return
	}
	if result.Void {
		log.Debug().Err(result.Err).Msg("bundle declined")
		return
	}

	built := result.Value
	id, err := l.relay.Submit(built, params.TargetBlock)
	if err != nil {
		l.bus.Publish(events.LevelWarning, "scheduler", fmt.Sprintf("submit failed: %v", err), map[string]interface{}{"strategy": string(opp.Strategy)})
		return
	}

	l.supervisor.RecordSubmission(opp.Principal, opp.ExpectedGasCost, check.Now)

	l.outMu.Lock()
	l.outstanding[id] = outstandingBundle{
		id:          id,
		targetBlock: params.TargetBlock,
		strategy:    opp.Strategy,
		principal:   opp.Principal,
		gasCost:     opp.ExpectedGasCost,
		expected:    opp.ExpectedGross,
	}
	l.outMu.Unlock()

	l.bus.Publish(events.LevelInfo, "scheduler", "bundle submitted", map[string]interface{}{
		"bundle_id":    string(id),
		"strategy":     string(opp.Strategy),
		"target_block": params.TargetBlock,
	})
}

// pollOutstanding is the tx-watch task (spec.md §4.9): it polls C7 status
// for each outstanding bundle until included or dropped. Unlike the
// channel-driven tasks above, this one runs on the cron scheduler's own
// goroutine (a periodic poll has no natural channel to block on), so
// access to the outstanding table is mutex-guarded rather than owned
// solely by the event-loop goroutine.
func (l *Loop) pollOutstanding() {
	l.outMu.Lock()
	snapshot := make([]outstandingBundle, 0, len(l.outstanding))
	for _, ob := range l.outstanding {
		snapshot = append(snapshot, ob)
	}
	l.outMu.Unlock()

	for _, ob := range snapshot {
		status, err := l.relay.Status(ob.id)
		if err != nil {
			l.log.Warn().Err(err).Str("bundle_id", string(ob.id)).Msg("status poll failed")
			continue
		}

		switch status {
		case domain.BundleIncluded:
			realizedPnL := new(big.Int).Sub(ob.expected, ob.principal)
			realizedPnL.Sub(realizedPnL, ob.gasCost)
			l.supervisor.RecordSettlement(ob.principal, realizedPnL)
			l.bus.Publish(events.LevelInfo, "scheduler", "bundle included", map[string]interface{}{"bundle_id": string(ob.id)})
			l.removeOutstanding(ob.id)
		case domain.BundleDropped:
			l.supervisor.RecordSettlement(ob.principal, new(big.Int))
			l.bus.Publish(events.LevelInfo, "scheduler", "bundle dropped", map[string]interface{}{"bundle_id": string(ob.id)})
			l.removeOutstanding(ob.id)
		case domain.BundlePending:
			// still outstanding; the tick task's pruning above will give
			// up on it once target_block+2 has passed.
		}
	}
}

func (l *Loop) removeOutstanding(id domain.BundleID) {
	l.outMu.Lock()
	delete(l.outstanding, id)
	l.outMu.Unlock()
}
