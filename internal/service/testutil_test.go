package service

import (
	"testing"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupDB 内存 sqlite，每个测试独立
func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		models.Strategy{}, models.Run{}, models.Trade{}, models.Position{},
	))
	return db
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// newTestInstance 模拟盘运行实例
func newTestInstance(limits config.RiskConf) *Instance {
	run := &models.Run{
		ID:             "run-test",
		StrategyID:     "strategy-test",
		InitialCapital: 1.0,
		Mode:           models.RunModeDelegate,
		DryRun:         true,
	}
	session := &Session{
		Mode:    models.RunModeDelegate,
		DryRun:  true,
		GateKey: "test-exchange",
	}
	exConf := config.ExchangeConf{
		DryRun:         true,
		InitialCapital: 1.0,
		Pairs:          map[string]string{"DOGE": "0x000000000000000000000000000000000000d09e"},
	}
	return NewInstance("strategy-test", run, exConf, limits, session, 100)
}
