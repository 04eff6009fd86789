//go:build wireinject
// +build wireinject

package internal

import (
	"net/http"
	"time"

	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/handler"
	"github.com/dushixiang/strata/internal/service"
	"github.com/dushixiang/strata/internal/telegram"
)

const (
	telegramHTTPTimeout = 10 * time.Second
)

var (
	handlerSet = wire.NewSet(
		handler.NewRuntimeHandler,
	)

	runtimeSet = wire.NewSet(
		service.NewLedgerService,
		service.NewGatewayService,
		service.NewParamService,
		service.NewEngineService,
		service.NewLifecycleService,
		service.NewStrategyService,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		runtimeSet,
		provideTelegram,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}

// provideTelegram provides telegram instance
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	if !conf.Telegram.Enabled {
		return nil
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		ChatID: conf.Telegram.ChatID,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}

	return tg
}
