package service

import (
	"testing"
	"time"

	"github.com/dushixiang/strata/internal/config"
	"github.com/stretchr/testify/require"
)

func TestCheckBuyPerTradeCap(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxEthPerTrade: 0.01})
	now := time.Now()

	err := inst.CheckBuy(0.02, now)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// 拒绝不扣减任何计数
	runSpent, daySpent, trades := inst.BudgetSnapshot()
	require.Zero(t, runSpent)
	require.Zero(t, daySpent)
	require.Zero(t, trades)

	require.NoError(t, inst.CheckBuy(0.01, now))
}

func TestCheckBuyPerRunCap(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxEthPerRun: 0.1})
	now := time.Now()

	require.NoError(t, inst.CheckBuy(0.06, now))
	inst.CommitBuy(0.06, now)

	require.ErrorIs(t, inst.CheckBuy(0.06, now), ErrBudgetExceeded)
	require.NoError(t, inst.CheckBuy(0.04, now))
}

func TestCheckBuyPerDayCapRollsOverAtUTCMidnight(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxEthPerDay: 0.1})
	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)

	inst.CommitBuy(0.08, day1)
	require.ErrorIs(t, inst.CheckBuy(0.05, day1), ErrBudgetExceeded)

	// 跨过 UTC 日界后日计数清零
	require.NoError(t, inst.CheckBuy(0.05, day2))
}

func TestDayRolloverDoesNotResetRunTotal(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxEthPerRun: 0.1, MaxEthPerDay: 1})
	day1 := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)

	inst.CommitBuy(0.08, day1)
	require.ErrorIs(t, inst.CheckBuy(0.05, day2), ErrBudgetExceeded)
}

func TestTradeCountCap(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxTradesPerRun: 2})
	now := time.Now()

	require.NoError(t, inst.CheckBuy(0.01, now))
	inst.CommitBuy(0.01, now)
	require.NoError(t, inst.CheckSell(now))
	inst.CommitSell()

	require.ErrorIs(t, inst.CheckBuy(0.01, now), ErrBudgetExceeded)
	require.ErrorIs(t, inst.CheckSell(now), ErrBudgetExceeded)
}

func TestSellConsumesOnlyTradeCount(t *testing.T) {
	inst := newTestInstance(config.RiskConf{MaxEthPerRun: 0.1, MaxTradesPerRun: 10})
	now := time.Now()

	inst.CommitSell()
	runSpent, daySpent, trades := inst.BudgetSnapshot()
	require.Zero(t, runSpent)
	require.Zero(t, daySpent)
	require.Equal(t, 1, trades)

	// 卖出不占用 ETH 预算，买入额度不受影响
	require.NoError(t, inst.CheckBuy(0.1, now))
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	inst := newTestInstance(config.RiskConf{})
	now := time.Now()

	require.NoError(t, inst.CheckBuy(1000, now))
	require.NoError(t, inst.CheckSell(now))
}
