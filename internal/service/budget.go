package service

import (
	"fmt"
	"time"
)

// budgetState 运行期预算计数：本次运行花费、当日（UTC）花费、本次运行交易笔数。
// 日计数在跨过 UTC 日界时清零。
type budgetState struct {
	runSpent float64
	daySpent float64
	dayKey   string
	trades   int
}

// rollover 跨日清零
func (b *budgetState) rollover(now time.Time) {
	key := utcDayKey(now)
	if key != b.dayKey {
		b.dayKey = key
		b.daySpent = 0
	}
}

// CheckBuy 买入前的预算校验。四项检查全部通过才允许提交，
// 任何一项失败都不会扣减任何计数。
func (i *Instance) CheckBuy(amountEth float64, now time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget.rollover(now)

	limits := i.Limits
	if limits.MaxEthPerTrade > 0 && amountEth > limits.MaxEthPerTrade {
		return fmt.Errorf("%w: amount %.6f exceeds per-trade cap %.6f", ErrBudgetExceeded, amountEth, limits.MaxEthPerTrade)
	}
	if limits.MaxEthPerRun > 0 && i.budget.runSpent+amountEth > limits.MaxEthPerRun {
		return fmt.Errorf("%w: run total %.6f would exceed per-run cap %.6f", ErrBudgetExceeded, i.budget.runSpent+amountEth, limits.MaxEthPerRun)
	}
	if limits.MaxEthPerDay > 0 && i.budget.daySpent+amountEth > limits.MaxEthPerDay {
		return fmt.Errorf("%w: day total %.6f would exceed per-day cap %.6f", ErrBudgetExceeded, i.budget.daySpent+amountEth, limits.MaxEthPerDay)
	}
	if limits.MaxTradesPerRun > 0 && i.budget.trades+1 > limits.MaxTradesPerRun {
		return fmt.Errorf("%w: trade count would exceed per-run cap %d", ErrBudgetExceeded, limits.MaxTradesPerRun)
	}
	return nil
}

// CheckSell 卖出只消耗交易笔数预算，不占用 ETH 预算
func (i *Instance) CheckSell(now time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget.rollover(now)

	if i.Limits.MaxTradesPerRun > 0 && i.budget.trades+1 > i.Limits.MaxTradesPerRun {
		return fmt.Errorf("%w: trade count would exceed per-run cap %d", ErrBudgetExceeded, i.Limits.MaxTradesPerRun)
	}
	return nil
}

// CommitBuy 买入成交后扣减预算
func (i *Instance) CommitBuy(amountEth float64, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget.rollover(now)
	i.budget.runSpent += amountEth
	i.budget.daySpent += amountEth
	i.budget.trades++
}

// CommitSell 卖出成交后扣减交易笔数
func (i *Instance) CommitSell() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget.trades++
}

// BudgetSnapshot 预算使用情况，供状态查询
func (i *Instance) BudgetSnapshot() (runSpent, daySpent float64, trades int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.budget.runSpent, i.budget.daySpent, i.budget.trades
}
