package service

import (
	"context"
	"testing"
	"time"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/xe"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const idleStrategyCode = `
function main(bot) {
	bot.log("idle tick");
	bot.schedule("1h");
}
`

func testConfig() *config.Config {
	return &config.Config{
		Runtime: config.RuntimeConf{LogBuffer: 100},
		Risk:    config.RiskConf{SlippageBps: 100},
		Exchanges: map[string]config.ExchangeConf{
			"test": {
				DryRun:         true,
				Mode:           models.RunModeDelegate,
				InitialCapital: 1.0,
				Pairs:          map[string]string{"DOGE": "0x000000000000000000000000000000000000d09e"},
			},
		},
	}
}

func setupLifecycle(t *testing.T) (*LifecycleService, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	conf := testConfig()
	logger := testLogger()

	ledgerService := NewLedgerService(db, logger)
	gateway := NewGatewayService(ledgerService, nil, logger)
	params := NewParamService(db, logger)
	engine := NewEngineService(db, params, gateway, ledgerService, logger, conf)
	return NewLifecycleService(db, engine, nil, logger, conf), db
}

func createStrategy(t *testing.T, db *gorm.DB, id, exchange, status string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Strategy{
		ID:       id,
		Name:     "strategy " + id,
		Exchange: exchange,
		Code:     idleStrategyCode,
		Params:   "{}",
		Status:   status,
	}).Error)
}

func TestStartAndStop(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	require.NoError(t, svc.Start(ctx, "s1"))
	require.True(t, svc.Running("s1"))

	var strategy models.Strategy
	require.NoError(t, db.First(&strategy, "id = ?", "s1").Error)
	require.Equal(t, models.StrategyStatusActive, strategy.Status)

	require.NoError(t, svc.Stop(ctx, "s1"))
	require.False(t, svc.Running("s1"))

	require.NoError(t, db.First(&strategy, "id = ?", "s1").Error)
	require.Equal(t, models.StrategyStatusPaused, strategy.Status)

	// 运行记录已关闭
	var run models.Run
	require.NoError(t, db.First(&run, "strategy_id = ?", "s1").Error)
	require.NotNil(t, run.StoppedAt)
}

func TestStartTwiceFails(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	require.NoError(t, svc.Start(ctx, "s1"))
	require.ErrorIs(t, svc.Start(ctx, "s1"), xe.ErrStrategyRunning)

	require.NoError(t, svc.Stop(ctx, "s1"))
}

func TestStopNotRunningFails(t *testing.T) {
	svc, db := setupLifecycle(t)
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	require.ErrorIs(t, svc.Stop(context.Background(), "s1"), xe.ErrStrategyNotRunning)
}

func TestStartUnknownStrategyFails(t *testing.T) {
	svc, _ := setupLifecycle(t)
	require.ErrorIs(t, svc.Start(context.Background(), "ghost"), xe.ErrStrategyNotFound)
}

func TestStartEmptyCodeFails(t *testing.T) {
	svc, db := setupLifecycle(t)
	require.NoError(t, db.Create(&models.Strategy{
		ID: "s1", Name: "empty", Exchange: "test", Code: "", Status: models.StrategyStatusDraft,
	}).Error)

	require.ErrorIs(t, svc.Start(context.Background(), "s1"), xe.ErrStrategyCodeEmpty)
}

func TestStartUnconfiguredExchangeFails(t *testing.T) {
	svc, db := setupLifecycle(t)
	createStrategy(t, db, "s1", "nowhere", models.StrategyStatusDraft)

	require.ErrorIs(t, svc.Start(context.Background(), "s1"), xe.ErrExchangeNotConfig)
}

func TestRestartReusesOpenRun(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	// 未关闭的运行记录在重启后复用
	open := models.Run{
		ID: "run-open", StrategyID: "s1", StartedAt: time.Now(),
		InitialCapital: 1.0, Mode: models.RunModeDelegate, DryRun: true,
	}
	require.NoError(t, db.Create(&open).Error)

	require.NoError(t, svc.Start(ctx, "s1"))
	svc.mu.Lock()
	inst := svc.registry["s1"]
	svc.mu.Unlock()
	require.Equal(t, "run-open", inst.Run.ID)

	require.NoError(t, svc.Stop(ctx, "s1"))
}

func TestRestartRestoresTradeIndexAndPnl(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	open := models.Run{
		ID: "run-open", StrategyID: "s1", StartedAt: time.Now(),
		InitialCapital: 1.0, Mode: models.RunModeDelegate, DryRun: true,
	}
	require.NoError(t, db.Create(&open).Error)
	require.NoError(t, db.Create(&models.Trade{
		ID: "t0", RunID: "run-open", Idx: 0, Side: models.TradeSideBuy,
		Pair: "0xpair", Status: models.TradeStatusSimulated,
		AmountEth: 0.1, CumulativePnl: -0.002, ExecutedAt: time.Now(),
	}).Error)

	require.NoError(t, svc.Start(ctx, "s1"))
	svc.mu.Lock()
	inst := svc.registry["s1"]
	svc.mu.Unlock()
	require.Equal(t, 1, inst.NextIdx())
	require.InDelta(t, -0.002, inst.CumulativePnl(), 1e-12)

	require.NoError(t, svc.Stop(ctx, "s1"))
}

func TestResumeAllContinuesPastFailures(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()

	// 一个交易所配置缺失，一个正常
	createStrategy(t, db, "broken", "nowhere", models.StrategyStatusActive)
	createStrategy(t, db, "healthy", "test", models.StrategyStatusActive)

	svc.ResumeAll(ctx)

	require.False(t, svc.Running("broken"))
	require.True(t, svc.Running("healthy"))

	var broken models.Strategy
	require.NoError(t, db.First(&broken, "id = ?", "broken").Error)
	require.Equal(t, models.StrategyStatusError, broken.Status)

	require.NoError(t, svc.Stop(ctx, "healthy"))
}

func TestLogsRetainedAfterStop(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	require.NoError(t, svc.Start(ctx, "s1"))
	require.NoError(t, svc.Stop(ctx, "s1"))

	logs := svc.Logs("s1")
	require.NotEmpty(t, logs)
	found := false
	for _, entry := range logs {
		if entry.Message == "strategy stopped" {
			found = true
		}
	}
	require.True(t, found)
}

func TestStatusReflectsRunningState(t *testing.T) {
	svc, db := setupLifecycle(t)
	ctx := context.Background()
	createStrategy(t, db, "s1", "test", models.StrategyStatusDraft)

	status, err := svc.Status(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, false, status["running"])

	require.NoError(t, svc.Start(ctx, "s1"))
	status, err = svc.Status(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, true, status["running"])
	require.Equal(t, models.RunModeDelegate, status["mode"])

	require.NoError(t, svc.Stop(ctx, "s1"))
}
