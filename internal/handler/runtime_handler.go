package handler

import (
	"net/http"

	"github.com/dushixiang/strata/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RuntimeHandler 策略运行时HTTP处理器
type RuntimeHandler struct {
	strategyService  *service.StrategyService
	lifecycleService *service.LifecycleService
	logger           *zap.Logger
}

// NewRuntimeHandler 创建运行时处理器
func NewRuntimeHandler(
	strategyService *service.StrategyService,
	lifecycleService *service.LifecycleService,
	logger *zap.Logger,
) *RuntimeHandler {
	return &RuntimeHandler{
		strategyService:  strategyService,
		lifecycleService: lifecycleService,
		logger:           logger,
	}
}

// RegisterRoutes 注册路由
func (h *RuntimeHandler) RegisterRoutes(g *echo.Group) {
	strategies := g.Group("/strategies")
	strategies.GET("", h.ListStrategies)
	strategies.POST("", h.CreateStrategy)
	strategies.GET("/:id", h.GetStrategy)
	strategies.PUT("/:id", h.UpdateStrategy)
	strategies.DELETE("/:id", h.DeleteStrategy)
	strategies.GET("/:id/schema", h.GetSchema)
	strategies.POST("/:id/start", h.StartStrategy)
	strategies.POST("/:id/stop", h.StopStrategy)
	strategies.GET("/:id/status", h.GetStatus)
	strategies.GET("/:id/logs", h.GetLogs)
}

type strategyRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Exchange string `json:"exchange" validate:"required,max=50"`
	Code     string `json:"code" validate:"required"`
}

// ListStrategies 策略列表
// GET /api/strategies
func (h *RuntimeHandler) ListStrategies(c echo.Context) error {
	strategies, err := h.strategyService.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategies)
}

// CreateStrategy 新建策略
// POST /api/strategies
func (h *RuntimeHandler) CreateStrategy(c echo.Context) error {
	var req strategyRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	strategy, err := h.strategyService.Create(c.Request().Context(), req.Name, req.Exchange, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategy)
}

// GetStrategy 策略详情
// GET /api/strategies/:id
func (h *RuntimeHandler) GetStrategy(c echo.Context) error {
	strategy, err := h.strategyService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategy)
}

// UpdateStrategy 更新策略
// PUT /api/strategies/:id
func (h *RuntimeHandler) UpdateStrategy(c echo.Context) error {
	var req strategyRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	strategy, err := h.strategyService.Update(c.Request().Context(), c.Param("id"), req.Name, req.Exchange, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategy)
}

// DeleteStrategy 删除策略
// DELETE /api/strategies/:id
func (h *RuntimeHandler) DeleteStrategy(c echo.Context) error {
	if err := h.strategyService.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// GetSchema 策略参数声明
// GET /api/strategies/:id/schema
func (h *RuntimeHandler) GetSchema(c echo.Context) error {
	params, err := h.strategyService.Schema(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, params)
}

// StartStrategy 启动策略
// POST /api/strategies/:id/start
func (h *RuntimeHandler) StartStrategy(c echo.Context) error {
	if err := h.lifecycleService.Start(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// StopStrategy 停止策略
// POST /api/strategies/:id/stop
func (h *RuntimeHandler) StopStrategy(c echo.Context) error {
	if err := h.lifecycleService.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// GetStatus 运行状态
// GET /api/strategies/:id/status
func (h *RuntimeHandler) GetStatus(c echo.Context) error {
	status, err := h.lifecycleService.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// GetLogs 策略日志（运行中或最近一次运行保留的缓冲）
// GET /api/strategies/:id/logs
func (h *RuntimeHandler) GetLogs(c echo.Context) error {
	logs := h.lifecycleService.Logs(c.Param("id"))
	if logs == nil {
		logs = []service.LogEntry{}
	}
	return c.JSON(http.StatusOK, logs)
}
