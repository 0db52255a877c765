// Command server wires every module of the ordering pipeline together and
// runs it as one process: the event-driven loop (tick/ingest/strategy),
// the wall-clock-cadence jobs (monitor/daily-reset/flash-loan-refresh/
// tx-watch), and the operator control surface, all sharing one safety
// supervisor and one incident bus.
//
// Grounded on aristath-sentinel/trader/cmd/server/main.go: sequential
// component construction with fail-fast logging, a scheduler started
// before the HTTP server, the server launched in its own goroutine, and
// signal.Notify-driven graceful shutdown with a bounded context.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halvard/chainsentinel/internal/apiserver"
	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/chainclient"
	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/halvard/chainsentinel/internal/flashloan"
	"github.com/halvard/chainsentinel/internal/pendingpool"
	"github.com/halvard/chainsentinel/internal/poolindex"
	"github.com/halvard/chainsentinel/internal/relay"
	"github.com/halvard/chainsentinel/internal/safety"
	"github.com/halvard/chainsentinel/internal/scheduler"
	"github.com/halvard/chainsentinel/internal/signerclient"
	"github.com/halvard/chainsentinel/internal/storage"
	"github.com/halvard/chainsentinel/internal/strategy"
	"github.com/halvard/chainsentinel/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting chainsentinel")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := storage.Open(storage.Config{
		Path:    cfg.DataDir + "/chainsentinel.db",
		Profile: storage.ProfileStandard,
		Name:    "chainsentinel",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := storage.InitSchema(db); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	emergencyStore := storage.NewEmergencyStore(db)
	ledger := storage.NewLedger(db, log)

	bus := events.NewBus()
	mgr := events.NewManager(bus, log)
	mgr.Bus().Subscribe(events.EventIncident, ledger.Observe)

	chainClient := chainclient.New(chainclient.Config{URL: cfg.RPCURL}, mgr, log)

	supervisor := safety.New(*cfg, safety.GopsutilProbe{}, chainClient, emergencyStore, mgr, func() { os.Exit(1) }, log)

	if err := chainClient.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start chain client")
	}
	defer chainClient.Stop()

	pools := poolindex.New()
	pendingPool := pendingpool.New(10000, pendingpool.DefaultTTL, nil)

	venues, err := convertVenues(cfg.FlashloanVenues)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse flash-loan venue configuration")
	}
	financing := flashloan.New(venues, big.NewRat(9, 10), 2*time.Minute, chainClient, log)
	financing.Refresh()

	registry := strategy.New(log)
	registry.Register(&strategy.Arbitrage{GasCost: big.NewInt(0)})
	registry.Register(&strategy.FrontRun{GasCost: big.NewInt(0)})
	registry.Register(&strategy.Sandwich{})
	registry.Register(&strategy.JITLiquidity{})
	registry.Register(&strategy.NewPoolSniper{})

	builder := bundle.NewBuilder()

	var transport relay.Transport = relay.NewHTTPTransport(cfg.RelayURL)
	relayClient := relay.New(transport)

	var signer bundle.Signer
	if cfg.SignerURL != "" {
		signer = signerclient.New(cfg.SignerURL, cfg.SignerKeyID, cfg.SignerPassword)
	}

	loop := scheduler.NewLoop(chainClient, pendingPool, pools, financing, registry, builder, relayClient, signer, supervisor, mgr, *cfg, log)
	loop.Wire()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	sched := scheduler.New(log, mgr)
	sched.Start()
	defer sched.Stop()

	if err := sched.AddJob("@every 60s", &scheduler.MonitorJob{Supervisor: supervisor, Bus: mgr, Loop: loop}); err != nil {
		log.Fatal().Err(err).Msg("failed to register safety_monitor job")
	}
	if err := sched.AddJob("0 0 0 * * *", &scheduler.DailyResetJob{Supervisor: supervisor}); err != nil {
		log.Fatal().Err(err).Msg("failed to register daily_safety_reset job")
	}
	if err := sched.AddJob("@every 2m", &scheduler.FlashloanRefreshJob{Planner: financing, Log: log}); err != nil {
		log.Fatal().Err(err).Msg("failed to register flashloan_refresh job")
	}
	if err := sched.AddJob("@every 2s", &scheduler.TxWatchJob{Loop: loop}); err != nil {
		log.Fatal().Err(err).Msg("failed to register tx_watch job")
	}

	srv := apiserver.New(apiserver.Config{Log: log, Supervisor: supervisor, Port: cfg.APIPort, DevMode: cfg.DevMode})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("control surface stopped")
		}
	}()
	log.Info().Int("port", cfg.APIPort).Msg("control surface started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control surface forced to shutdown")
	}

	log.Info().Msg("chainsentinel stopped")
}

// convertVenues maps the environment-sourced venue configuration (plain
// strings and floats, since config has no big.Int/big.Rat representation)
// into the planner's domain-typed VenueConfig.
func convertVenues(in []config.FlashloanVenueConfig) ([]flashloan.VenueConfig, error) {
	out := make([]flashloan.VenueConfig, 0, len(in))
	for _, v := range in {
		var addr domain.Address
		if v.Address != "" {
			parsed, err := parseAddress(v.Address)
			if err != nil {
				return nil, fmt.Errorf("venue %s: %w", v.VenueID, err)
			}
			addr = parsed
		}
		fee := new(big.Rat).SetFloat64(v.FeeFraction)
		if fee == nil {
			return nil, fmt.Errorf("venue %s: invalid fee fraction %v", v.VenueID, v.FeeFraction)
		}
		out = append(out, flashloan.VenueConfig{VenueID: v.VenueID, Address: addr, FeeFraction: fee})
	}
	return out, nil
}

func parseAddress(s string) (domain.Address, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return domain.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	var addr domain.Address
	if len(raw) != len(addr) {
		return domain.Address{}, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
