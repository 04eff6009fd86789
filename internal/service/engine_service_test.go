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

func setupEngine(t *testing.T) (*EngineService, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	conf := testConfig()
	logger := testLogger()

	ledgerService := NewLedgerService(db, logger)
	gateway := NewGatewayService(ledgerService, nil, logger)
	params := NewParamService(db, logger)
	return NewEngineService(db, params, gateway, ledgerService, logger, conf), db
}

func newEngineInstance(t *testing.T, db *gorm.DB, code string) *Instance {
	t.Helper()
	require.NoError(t, db.Create(&models.Strategy{
		ID:       "strategy-test",
		Name:     "engine",
		Exchange: "test",
		Code:     code,
		Params:   "{}",
		Status:   models.StrategyStatusActive,
	}).Error)
	inst := newTestInstance(config.RiskConf{SlippageBps: 100})
	require.NoError(t, db.Create(&models.Run{
		ID: inst.Run.ID, StrategyID: inst.StrategyID, StartedAt: time.Now(),
		InitialCapital: 1.0, Mode: models.RunModeDelegate, DryRun: true,
	}).Error)
	return inst
}

func TestTickExecutesTradeAndReschedules(t *testing.T) {
	engine, db := setupEngine(t)
	code := `
// @param amount eth 0.001
function main(bot) {
	var trade = bot.buy("DOGE", bot.params.amount);
	bot.log("bought " + trade.amountToken + " tokens");
	bot.schedule("5m");
}
`
	inst := newEngineInstance(t, db, code)

	decision, err := engine.Tick(context.Background(), inst)
	require.NoError(t, err)
	require.True(t, decision.Reschedule)
	require.Equal(t, 5*time.Minute, decision.Delay)

	// 成交落库
	var trades []models.Trade
	require.NoError(t, db.Find(&trades, "run_id = ?", inst.Run.ID).Error)
	require.Len(t, trades, 1)
	require.Equal(t, models.TradeSideBuy, trades[0].Side)
	require.InDelta(t, 0.001, trades[0].AmountEth, 1e-12)

	// LastRunAt 已更新
	var strategy models.Strategy
	require.NoError(t, db.First(&strategy, "id = ?", inst.StrategyID).Error)
	require.NotNil(t, strategy.LastRunAt)
}

func TestTickWithoutScheduleCompletes(t *testing.T) {
	engine, db := setupEngine(t)
	inst := newEngineInstance(t, db, `function main(bot) { bot.log("done"); }`)

	decision, err := engine.Tick(context.Background(), inst)
	require.NoError(t, err)
	require.False(t, decision.Reschedule)
}

func TestTickThrownErrorSurfaces(t *testing.T) {
	engine, db := setupEngine(t)
	inst := newEngineInstance(t, db, `function main(bot) { throw new Error("strategy bug"); }`)

	_, err := engine.Tick(context.Background(), inst)
	require.Error(t, err)
	require.Contains(t, err.Error(), "strategy bug")
}

func TestTickRejectedTradeIsCatchable(t *testing.T) {
	engine, db := setupEngine(t)
	// 超出模拟盘余额的买入抛出异常，策略可以捕获并继续
	code := `
function main(bot) {
	var caught = false;
	try {
		bot.buy("DOGE", 100);
	} catch (e) {
		caught = true;
		bot.log("rejected: " + e);
	}
	if (!caught) {
		throw new Error("expected rejection");
	}
	bot.schedule("once");
}
`
	inst := newEngineInstance(t, db, code)

	decision, err := engine.Tick(context.Background(), inst)
	require.NoError(t, err)
	require.False(t, decision.Reschedule)
}

func TestTickValidatesCodeEveryRun(t *testing.T) {
	engine, db := setupEngine(t)
	inst := newEngineInstance(t, db, idleStrategyCode)

	_, err := engine.Tick(context.Background(), inst)
	require.NoError(t, err)

	// 外部把代码改成违禁内容，下一个 tick 必须拒绝执行
	require.NoError(t, db.Model(&models.Strategy{}).Where("id = ?", inst.StrategyID).
		Update("code", `function main(bot) { eval("1"); }`).Error)

	_, err = engine.Tick(context.Background(), inst)
	require.Error(t, err)
	require.Contains(t, err.Error(), "validation failed")
}

func TestTickStoppedMidRunReturnsStoppedError(t *testing.T) {
	engine, db := setupEngine(t)
	inst := newEngineInstance(t, db, `
function main(bot) {
	bot.buy("DOGE", 0.001);
}
`)

	// 停止请求已置位：第一个能力调用边界就会抛出，tick 以停止错误结束
	inst.Stop()
	_, err := engine.Tick(context.Background(), inst)
	require.ErrorIs(t, err, ErrStrategyStopped)
}

func TestTickPassesParamsToStrategy(t *testing.T) {
	engine, db := setupEngine(t)
	code := `
// @param label string hello
function main(bot) {
	if (bot.params.label !== "hello") {
		throw new Error("param missing");
	}
	if (typeof bot.params._now !== "number") {
		throw new Error("_now missing");
	}
	bot.schedule("once");
}
`
	inst := newEngineInstance(t, db, code)

	_, err := engine.Tick(context.Background(), inst)
	require.NoError(t, err)
}
