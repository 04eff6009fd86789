package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/handler"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/service"
	"github.com/dushixiang/strata/internal/telegram"
	"github.com/dushixiang/strata/pkg/nostd"
	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewStrataApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewStrataApp() orz.Application {
	return &StrataApp{}
}

var _ orz.Application = (*StrataApp)(nil)

type AppComponents struct {
	RuntimeHandler *handler.RuntimeHandler

	// Strategy runtime services
	StrategyService  *service.StrategyService
	LifecycleService *service.LifecycleService
	EngineService    *service.EngineService
	GatewayService   *service.GatewayService
	LedgerService    *service.LedgerService
	ParamService     *service.ParamService

	Telegram *telegram.Telegram
}

type StrataApp struct {
	components *AppComponents
	conf       *config.Config
}

// GetComponents 获取应用组件
func (r *StrataApp) GetComponents() *AppComponents {
	return r.components
}

func (r *StrataApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		models.Strategy{}, models.Run{}, models.Trade{}, models.Position{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	api := e.Group("/api")
	{
		if r.components.RuntimeHandler != nil {
			r.components.RuntimeHandler.RegisterRoutes(api)
		}
	}

	return nil
}

func (r *StrataApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Strata Strategy Runtime Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.Telegram != nil {
		go components.Telegram.Start()
	}

	// 恢复上次仍处于运行状态的策略
	go components.LifecycleService.ResumeAll(context.Background())

	return nil
}
