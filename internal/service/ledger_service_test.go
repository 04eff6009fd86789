package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (*LedgerService, *Instance, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	svc := NewLedgerService(db, testLogger())
	inst := newTestInstance(config.RiskConf{})
	require.NoError(t, db.Create(&models.Run{
		ID:         inst.Run.ID,
		StrategyID: inst.StrategyID,
		StartedAt:  time.Now(),
		Mode:       models.RunModeDelegate,
		DryRun:     true,
	}).Error)
	return svc, inst, db
}

func buySettled(eth, tokens, fee float64) Settled {
	return Settled{
		Pair:        "0xpair",
		Token:       "0xtoken",
		TxHash:      "0xhash",
		Status:      models.TradeStatusConfirmed,
		AmountEth:   eth,
		AmountToken: tokens,
		Fee:         fee,
		At:          time.Now(),
	}
}

func TestRecordBuyBuildsPosition(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	trade, err := svc.RecordBuy(ctx, inst, buySettled(1.0, 100, 0.01))
	require.NoError(t, err)
	require.Equal(t, models.TradeSideBuy, trade.Side)
	require.InDelta(t, -0.01, trade.Pnl, 1e-12)

	position, err := svc.PositionRepo.FindByRunAndPair(ctx, inst.Run.ID, "0xpair")
	require.NoError(t, err)
	require.InDelta(t, 100.0, position.TokenHeld, 1e-12)
	require.InDelta(t, 0.99, position.CostBasisEth, 1e-12)
}

func TestRecordSellWeightedAverage(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	// 建仓 100 枚 / 成本 1.0 ETH
	_, err := svc.RecordBuy(ctx, inst, buySettled(1.0, 100, 0))
	require.NoError(t, err)

	// 卖出 40%：移除 0.4 ETH 成本
	sell := buySettled(0.5, 40, 0)
	trade, err := svc.RecordSell(ctx, inst, sell)
	require.NoError(t, err)
	require.Equal(t, models.TradeSideSell, trade.Side)
	require.InDelta(t, 0.5-0.4, trade.Pnl, 1e-12)

	position, err := svc.PositionRepo.FindByRunAndPair(ctx, inst.Run.ID, "0xpair")
	require.NoError(t, err)
	require.InDelta(t, 60.0, position.TokenHeld, 1e-12)
	require.InDelta(t, 0.6, position.CostBasisEth, 1e-12)
}

func TestRecordSellFullSaleRemovesExactRemainder(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.RecordBuy(ctx, inst, buySettled(1.0, 100, 0))
	require.NoError(t, err)

	_, err = svc.RecordSell(ctx, inst, buySettled(0.5, 40, 0))
	require.NoError(t, err)

	// 清仓剩余 60 枚：精确移除剩余成本，不留浮点残渣
	trade, err := svc.RecordSell(ctx, inst, buySettled(0.7, 60, 0))
	require.NoError(t, err)
	require.InDelta(t, 0.7-0.6, trade.Pnl, 1e-12)

	position, err := svc.PositionRepo.FindByRunAndPair(ctx, inst.Run.ID, "0xpair")
	require.NoError(t, err)
	require.Zero(t, position.TokenHeld)
	require.Zero(t, position.CostBasisEth)
}

func TestRecordSellWithoutPosition(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	// 无持仓卖出：不移除成本，净回收全部计为收益
	trade, err := svc.RecordSell(ctx, inst, buySettled(0.3, 10, 0))
	require.NoError(t, err)
	require.InDelta(t, 0.3, trade.Pnl, 1e-12)
}

func TestCumulativePnlSnapshottedPerTrade(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.RecordBuy(ctx, inst, buySettled(1.0, 100, 0.01))
	require.NoError(t, err)

	trade, err := svc.RecordSell(ctx, inst, buySettled(1.2, 100, 0))
	require.NoError(t, err)
	// -0.01 (买入手续费) + 1.2 - 0.99 (全部剩余成本)
	require.InDelta(t, -0.01+1.2-0.99, trade.CumulativePnl, 1e-12)
	require.InDelta(t, trade.CumulativePnl, inst.CumulativePnl(), 1e-12)
}

func TestTradeIdxSequence(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	first, err := svc.RecordBuy(ctx, inst, buySettled(0.1, 10, 0))
	require.NoError(t, err)
	second, err := svc.RecordBuy(ctx, inst, buySettled(0.1, 10, 0))
	require.NoError(t, err)

	require.Equal(t, 0, first.Idx)
	require.Equal(t, 1, second.Idx)
	require.Equal(t, 2, inst.NextIdx())
}

func TestTradeIdxConflictRetries(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	// 另一个写入者抢先占用了序号 0
	_, err := svc.RecordBuy(ctx, inst, buySettled(0.1, 10, 0))
	require.NoError(t, err)

	// 实例误以为下一个序号仍是 0，冲突后应重读并顺延
	inst.SetNextIdx(0)
	trade, err := svc.RecordBuy(ctx, inst, buySettled(0.1, 10, 0))
	require.NoError(t, err)
	require.Equal(t, 1, trade.Idx)
	require.Equal(t, 2, inst.NextIdx())
}

func TestEthFlow(t *testing.T) {
	svc, inst, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.RecordBuy(ctx, inst, buySettled(1.0, 100, 0.01))
	require.NoError(t, err)
	_, err = svc.RecordSell(ctx, inst, buySettled(0.6, 50, 0.02))
	require.NoError(t, err)

	flow, err := svc.EthFlow(ctx, inst.Run.ID)
	require.NoError(t, err)
	require.InDelta(t, -1.0+0.6-0.02, flow, 1e-12)
}
