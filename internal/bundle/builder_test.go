package bundle

import (
	"math/big"
	"testing"

	"github.com/halvard/chainsentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okRelay struct {
	gross *big.Int
}

func (r okRelay) Simulate(b domain.Bundle, stateBlock uint64) (SimResult, error) {
	return SimResult{Success: true, GrossValue: r.gross, TotalGas: 300000}, nil
}

type failRelay struct{ gross *big.Int }

func (r failRelay) Simulate(b domain.Bundle, stateBlock uint64) (SimResult, error) {
	return SimResult{Success: true, GrossValue: r.gross}, nil
}

type stubSigner struct{}

func (stubSigner) Sign(leg domain.BundleLeg) ([]byte, error) { return []byte{0xAA}, nil }

func victimHash() *domain.Hash {
	h := domain.Hash{0x01}
	return &h
}

func TestBuild_SandwichShapeAndGasFloor(t *testing.T) {
	legs := []LegTemplate{
		{To: domain.Address{1}, GasLimit: 100000, Variant: domain.TxEIP1559},
		{IsVictimRef: true, VictimHash: victimHash(), GasLimit: 100000},
		{To: domain.Address{2}, GasLimit: 100000, Variant: domain.TxEIP1559},
	}

	opp := domain.Opportunity{Strategy: domain.StrategySandwich, ExpectedGross: big.NewInt(1000)}
	p := Params{
		BaseFee:       big.NewInt(10 * gwei),
		TargetBlock:   101,
		StateBlock:    100,
		ExpectedGross: big.NewInt(1000),
		Signer:        stubSigner{},
		Relay:         okRelay{gross: big.NewInt(1000)},
	}

	result := NewBuilder().Build(opp, legs, ShapeSandwich, p)
	require.False(t, result.IsFailure(), "%v", result.Err)
	require.False(t, result.Void, "%v", result.Err)

	b := result.Value
	require.Len(t, b.Legs, 3)
	assert.Equal(t, 1, b.VictimIndex())
	assert.Nil(t, b.Legs[1].Raw, "victim leg must not be signed")
	assert.NotNil(t, b.Legs[0].Raw)
	assert.NotNil(t, b.Legs[2].Raw)

	expectedMaxFee := big.NewInt(12 * gwei) // baseFee * 1.2
	assert.Equal(t, 0, b.Legs[0].Gas.MaxFee.Cmp(expectedMaxFee))
}

func TestBuild_ArbitrageOrdersByProfitPerGasDescending(t *testing.T) {
	legs := []LegTemplate{
		{To: domain.Address{1}, GasLimit: 50000, ProfitPerGas: big.NewRat(1, 1)},
		{To: domain.Address{2}, GasLimit: 50000, ProfitPerGas: big.NewRat(3, 1)},
		{To: domain.Address{3}, GasLimit: 50000, ProfitPerGas: big.NewRat(2, 1)},
	}
	opp := domain.Opportunity{Strategy: domain.StrategyArbitrage, ExpectedGross: big.NewInt(1000)}
	p := Params{
		BaseFee:       big.NewInt(10 * gwei),
		ExpectedGross: big.NewInt(1000),
		Relay:         okRelay{gross: big.NewInt(1000)},
	}

	result := NewBuilder().Build(opp, legs, ShapeArbitrage, p)
	require.False(t, result.IsFailure())
	b := result.Value
	assert.Equal(t, domain.Address{2}, b.Legs[0].To)
	assert.Equal(t, domain.Address{3}, b.Legs[1].To)
	assert.Equal(t, domain.Address{1}, b.Legs[2].To)
	assert.Equal(t, -1, b.VictimIndex())
}

func TestBuild_DeclinesOnSlippageAtSimulate(t *testing.T) {
	legs := []LegTemplate{
		{To: domain.Address{1}, GasLimit: 50000, ProfitPerGas: big.NewRat(1, 1)},
	}
	opp := domain.Opportunity{Strategy: domain.StrategyArbitrage, ExpectedGross: big.NewInt(1000)}
	p := Params{
		BaseFee:       big.NewInt(10 * gwei),
		ExpectedGross: big.NewInt(1000),
		Relay:         failRelay{gross: big.NewInt(800)}, // 0.8 * expected, below the 0.9 floor
	}

	result := NewBuilder().Build(opp, legs, ShapeArbitrage, p)
	assert.True(t, result.Void)
	assert.Error(t, result.Err)
}

func TestBuild_DeclinesOnNonPositiveProfitFloor(t *testing.T) {
	legs := []LegTemplate{
		{To: domain.Address{1}, GasLimit: 50000, ProfitPerGas: big.NewRat(1, 1)},
	}
	opp := domain.Opportunity{
		Strategy:      domain.StrategyArbitrage,
		ExpectedGross: big.NewInt(500),
		Principal:     big.NewInt(600), // output-value does not even cover principal
	}
	p := Params{
		BaseFee:       big.NewInt(10 * gwei),
		ExpectedGross: big.NewInt(500),
		Relay:         okRelay{gross: big.NewInt(500)},
	}

	result := NewBuilder().Build(opp, legs, ShapeArbitrage, p)
	assert.True(t, result.Void, "%v", result.Err)
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, domain.ErrNegativeProfit)
}

func TestBuild_RejectsMultipleVictimRefs(t *testing.T) {
	legs := []LegTemplate{
		{IsVictimRef: true, VictimHash: victimHash(), GasLimit: 1},
		{IsVictimRef: true, VictimHash: victimHash(), GasLimit: 1},
	}
	opp := domain.Opportunity{Strategy: domain.StrategySandwich}
	p := Params{BaseFee: big.NewInt(1)}

	result := NewBuilder().Build(opp, legs, ShapeSandwich, p)
	require.True(t, result.IsFailure())
}
