package safety

import (
	"math/big"
	"testing"
	"time"

	"github.com/halvard/chainsentinel/internal/config"
	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/halvard/chainsentinel/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		MinProfitWei:              "100",
		MaxGasPriceGwei:           100,
		MaxPositionSizeWei:        "1000",
		MaxDailyGasSpendWei:       "1000",
		MaxDailyLossWei:           "500",
		TxRateWindow:              time.Second,
		MaxTxPerWindow:            3,
		MaxSlippage:               0.05,
		NetworkBaseFeeCeilingGwei: 500,
		MaxBlockAge:               60 * time.Second,
	}
}

func newTestSupervisor() *Supervisor {
	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	return New(testConfig(), nil, nil, nil, bus, nil, zerolog.Nop())
}

func TestCheckPositionSize_TripsOverCap(t *testing.T) {
	s := newTestSupervisor()
	err := s.CheckPositionSize(big.NewInt(1001))
	require.Error(t, err)
	var be *BreakerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "position-size", be.Breaker)
}

func TestCheckGasPrice_TripsOverCeiling(t *testing.T) {
	s := newTestSupervisor()
	err := s.CheckGasPrice(big.NewInt(101 * gwei))
	require.Error(t, err)
}

func TestCheckGasPrice_PassesUnderCeiling(t *testing.T) {
	s := newTestSupervisor()
	err := s.CheckGasPrice(big.NewInt(99 * gwei))
	assert.NoError(t, err)
}

func TestCheckTxRate_TripsAtLimit(t *testing.T) {
	s := newTestSupervisor()
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.RecordSubmission(big.NewInt(0), big.NewInt(0), now)
	}
	err := s.CheckTxRate(now)
	require.Error(t, err)
}

func TestCheckMinProfit_TripsBelowFloor(t *testing.T) {
	s := newTestSupervisor()
	err := s.CheckMinProfit(big.NewInt(50))
	require.Error(t, err)
}

func TestCheckWhitelist_EmptyListAllowsEverything(t *testing.T) {
	s := newTestSupervisor()
	err := s.CheckWhitelist(domain.Address{0x1})
	assert.NoError(t, err)
}

func TestCheckWhitelist_NonEmptyListRejectsUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.ContractWhitelist = []string{domain.Address{0x2}.Hex()}
	bus := events.NewManager(events.NewBus(), zerolog.Nop())
	s := New(cfg, nil, nil, nil, bus, nil, zerolog.Nop())

	assert.NoError(t, s.CheckWhitelist(domain.Address{0x2}))
	assert.Error(t, s.CheckWhitelist(domain.Address{0x3}))
}

func TestCheckDailyLoss_TripsAtCap(t *testing.T) {
	s := newTestSupervisor()
	s.RecordSettlement(big.NewInt(0), big.NewInt(-500))
	err := s.CheckDailyLoss()
	require.Error(t, err)
}

func TestDailyReset_PreservesTriggered(t *testing.T) {
	s := newTestSupervisor()
	s.trip("test")
	s.RecordSubmission(big.NewInt(10), big.NewInt(10), time.Now())

	s.DailyReset()

	triggered, reason := s.IsTriggered()
	assert.True(t, triggered)
	assert.Equal(t, "test", reason)
	assert.Equal(t, 0, s.metrics.PositionInFlight.Sign())
}

func TestRiskLevel_EscalatesOnCriticalIncident(t *testing.T) {
	s := newTestSupervisor()
	assert.Equal(t, RiskLow, s.RiskLevel())

	s.Observe(events.Incident{Level: events.LevelWarning, Component: "test", Reason: "warn"})
	assert.Equal(t, RiskMedium, s.RiskLevel())

	s.Observe(events.Incident{Level: events.LevelCritical, Component: "test", Reason: "crit"})
	assert.Equal(t, RiskHigh, s.RiskLevel())

	triggered, _ := s.IsTriggered()
	assert.True(t, triggered, "a CRITICAL incident must also trip the global breaker")
}

func TestValidateTx_FailsFastWhenTriggered(t *testing.T) {
	s := newTestSupervisor()
	s.trip("manual")

	err := s.ValidateTx(TxCheck{
		To:             domain.Address{0x1},
		Value:          big.NewInt(1),
		GasPrice:       big.NewInt(1),
		GasCost:        big.NewInt(1),
		ExpectedProfit: big.NewInt(1000),
		Now:            time.Now(),
	})
	require.Error(t, err)
}
