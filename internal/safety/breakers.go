package safety

import (
	"fmt"
	"math/big"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
)

const (
	resourceCeilingPercent = 90.0
	gwei                   = 1_000_000_000
)

// BreakerError names which of the ten breakers tripped, so callers (and
// tests) can branch on kind without parsing the message.
type BreakerError struct {
	Breaker string
	Detail  string
}

func (e *BreakerError) Error() string {
	return fmt.Sprintf("safety: %s breaker tripped: %s", e.Breaker, e.Detail)
}

func trip(breaker, detail string) error {
	return &BreakerError{Breaker: breaker, Detail: detail}
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("safety: invalid wei amount %q", s)
	}
	return v, nil
}

// CheckPositionSize trips when cumulative in-flight position plus this
// transaction's value would exceed the configured cap.
func (s *Supervisor) CheckPositionSize(txValue *big.Int) error {
	cap_, err := parseWei(s.cfg.MaxPositionSizeWei)
	if err != nil {
		return err
	}
	s.mu.Lock()
	total := new(big.Int).Add(s.metrics.PositionInFlight, txValue)
	s.mu.Unlock()
	if total.Cmp(cap_) > 0 {
		return trip("position-size", fmt.Sprintf("in-flight %s + tx %s exceeds cap %s", s.metrics.PositionInFlight, txValue, cap_))
	}
	return nil
}

// CheckGasPrice trips when the transaction's gas price exceeds the
// configured ceiling.
func (s *Supervisor) CheckGasPrice(gasPriceWei *big.Int) error {
	ceiling := new(big.Int).Mul(big.NewInt(s.cfg.MaxGasPriceGwei), big.NewInt(gwei))
	if gasPriceWei.Cmp(ceiling) > 0 {
		return trip("gas-price", fmt.Sprintf("gas price %s exceeds ceiling %s", gasPriceWei, ceiling))
	}
	return nil
}

// CheckDailyGas trips when cumulative gas spend today plus this
// transaction's gas cost would exceed the daily cap.
func (s *Supervisor) CheckDailyGas(gasCost *big.Int) error {
	cap_, err := parseWei(s.cfg.MaxDailyGasSpendWei)
	if err != nil {
		return err
	}
	s.mu.Lock()
	total := new(big.Int).Add(s.metrics.GasSpentToday, gasCost)
	s.mu.Unlock()
	if total.Cmp(cap_) > 0 {
		return trip("daily-gas", fmt.Sprintf("daily gas spend %s exceeds cap %s", total, cap_))
	}
	return nil
}

// CheckTxRate trips when MaxTxPerWindow submissions have already
// occurred within TxRateWindow of now, so one more would exceed the limit.
func (s *Supervisor) CheckTxRate(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.cfg.TxRateWindow)
	count := 0
	kept := s.metrics.Submissions[:0]
	for _, t := range s.metrics.Submissions {
		if t.After(cutoff) {
			kept = append(kept, t)
			count++
		}
	}
	s.metrics.Submissions = kept

	if count >= s.cfg.MaxTxPerWindow {
		return trip("tx-rate", fmt.Sprintf("%d submissions within %s exceeds limit %d", count, s.cfg.TxRateWindow, s.cfg.MaxTxPerWindow))
	}
	return nil
}

// CheckMinProfit trips when expected profit falls below the configured
// floor.
func (s *Supervisor) CheckMinProfit(expectedProfit *big.Int) error {
	floor, err := parseWei(s.cfg.MinProfitWei)
	if err != nil {
		return err
	}
	if expectedProfit.Cmp(floor) < 0 {
		return trip("min-profit", fmt.Sprintf("expected profit %s below floor %s", expectedProfit, floor))
	}
	return nil
}

// CheckSlippage trips when |actual - expected| / expected exceeds
// MaxSlippage.
func (s *Supervisor) CheckSlippage(actual, expected *big.Int) error {
	if expected.Sign() == 0 {
		return nil
	}
	diff := new(big.Int).Sub(actual, expected)
	diff.Abs(diff)
	diffRat := new(big.Rat).SetInt(diff)
	expectedRat := new(big.Rat).SetInt(expected)
	ratio := new(big.Rat).Quo(diffRat, expectedRat)
	cap_ := new(big.Rat).SetFloat64(s.cfg.MaxSlippage)
	if cap_ != nil && ratio.Cmp(cap_) > 0 {
		f, _ := ratio.Float64()
		return trip("slippage", fmt.Sprintf("observed slippage %.4f exceeds cap %.4f", f, s.cfg.MaxSlippage))
	}
	return nil
}

// CheckDailyLoss trips when rolling PnL today has dropped to or below
// the negative daily-loss cap.
func (s *Supervisor) CheckDailyLoss() error {
	cap_, err := parseWei(s.cfg.MaxDailyLossWei)
	if err != nil {
		return err
	}
	negCap := new(big.Int).Neg(cap_)
	s.mu.Lock()
	pnl := new(big.Int).Set(s.metrics.PnLToday)
	s.mu.Unlock()
	if pnl.Cmp(negCap) <= 0 {
		return trip("daily-loss", fmt.Sprintf("rolling PnL %s at or below -%s", pnl, cap_))
	}
	return nil
}

// CheckWhitelist trips when the destination address is not on a
// non-empty whitelist.
func (s *Supervisor) CheckWhitelist(to domain.Address) error {
	if len(s.cfg.ContractWhitelist) == 0 {
		return nil
	}
	hex := to.Hex()
	for _, w := range s.cfg.ContractWhitelist {
		if w == hex {
			return nil
		}
	}
	return trip("contract-whitelist", fmt.Sprintf("%s not in whitelist", hex))
}

// CheckResource trips when CPU, memory, or disk utilization exceeds 90%.
func (s *Supervisor) CheckResource() error {
	if s.resource == nil {
		return nil
	}
	if cpuPct, err := s.resource.CPUPercent(); err == nil && cpuPct > resourceCeilingPercent {
		return trip("resource", fmt.Sprintf("CPU at %.1f%%", cpuPct))
	}
	if memPct, err := s.resource.MemPercent(); err == nil && memPct > resourceCeilingPercent {
		return trip("resource", fmt.Sprintf("RAM at %.1f%%", memPct))
	}
	if diskPct, err := s.resource.DiskPercent(s.cfg.DataDir); err == nil && diskPct > resourceCeilingPercent {
		return trip("resource", fmt.Sprintf("disk at %.1f%%", diskPct))
	}
	return nil
}

// CheckNetwork trips when the observed base fee exceeds the configured
// ceiling, or the last block is older than MaxBlockAge.
func (s *Supervisor) CheckNetwork(baseFeeWei uint64, lastBlockAge time.Duration) error {
	ceiling := uint64(s.cfg.NetworkBaseFeeCeilingGwei) * gwei
	if baseFeeWei > ceiling {
		return trip("network", fmt.Sprintf("base fee %d wei exceeds ceiling %d wei", baseFeeWei, ceiling))
	}
	if lastBlockAge > s.cfg.MaxBlockAge {
		return trip("network", fmt.Sprintf("last block age %s exceeds %s", lastBlockAge, s.cfg.MaxBlockAge))
	}
	return nil
}
