package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/jsvm"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/repo"
	"github.com/dushixiang/strata/internal/xe"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StrategyService 策略定义的增删改查；保存前校验源代码
type StrategyService struct {
	logger *zap.Logger

	*orz.Service
	*repo.StrategyRepo

	lifecycle *LifecycleService
	runtime   config.RuntimeConf
}

// NewStrategyService 创建策略服务
func NewStrategyService(db *gorm.DB, lifecycle *LifecycleService, logger *zap.Logger, conf *config.Config) *StrategyService {
	return &StrategyService{
		logger:       logger,
		Service:      orz.NewService(db),
		StrategyRepo: repo.NewStrategyRepo(db),
		lifecycle:    lifecycle,
		runtime:      conf.Runtime,
	}
}

// Create 新建策略，初始状态为草稿
func (s *StrategyService) Create(ctx context.Context, name, exchange, code string) (*models.Strategy, error) {
	if err := s.validateCode(code); err != nil {
		return nil, err
	}
	strategy := models.Strategy{
		ID:       ulid.Make().String(),
		Name:     name,
		Exchange: exchange,
		Code:     code,
		Params:   "{}",
		Status:   models.StrategyStatusDraft,
	}
	if err := s.StrategyRepo.Create(ctx, &strategy); err != nil {
		return nil, err
	}
	s.logger.Info("strategy created", zap.String("strategy_id", strategy.ID), zap.String("name", name))
	return &strategy, nil
}

// Update 更新策略。运行中的策略也允许修改，下一个 tick 会重新编译生效。
func (s *StrategyService) Update(ctx context.Context, id, name, exchange, code string) (*models.Strategy, error) {
	strategy, err := s.StrategyRepo.FindById(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xe.ErrStrategyNotFound
		}
		return nil, err
	}
	if err := s.validateCode(code); err != nil {
		return nil, err
	}
	strategy.Name = name
	strategy.Exchange = exchange
	strategy.Code = code
	if err := s.StrategyRepo.Save(ctx, &strategy); err != nil {
		return nil, err
	}
	s.logger.Info("strategy updated", zap.String("strategy_id", id))
	return &strategy, nil
}

// Delete 删除策略；运行中的策略需要先停止
func (s *StrategyService) Delete(ctx context.Context, id string) error {
	if _, err := s.StrategyRepo.FindById(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xe.ErrStrategyNotFound
		}
		return err
	}
	if s.lifecycle.Running(id) {
		return xe.ErrStrategyRunning
	}
	return s.StrategyRepo.DeleteById(ctx, id)
}

// List 全部策略
func (s *StrategyService) List(ctx context.Context) ([]models.Strategy, error) {
	return s.StrategyRepo.FindAll(ctx)
}

// Get 按 ID 查询
func (s *StrategyService) Get(ctx context.Context, id string) (models.Strategy, error) {
	strategy, err := s.StrategyRepo.FindById(ctx, id)
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return strategy, xe.ErrStrategyNotFound
	}
	return strategy, err
}

// Schema 提取策略的参数声明，供前端渲染参数表单
func (s *StrategyService) Schema(ctx context.Context, id string) ([]jsvm.Param, error) {
	strategy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsvm.ExtractParams(strategy.Code), nil
}

func (s *StrategyService) validateCode(code string) error {
	if code == "" {
		return xe.ErrStrategyCodeEmpty
	}
	maxBytes := s.runtime.MaxCodeBytes
	if maxBytes <= 0 {
		maxBytes = jsvm.DefaultMaxCodeBytes
	}
	if err := jsvm.Validate(code, maxBytes); err != nil {
		return fmt.Errorf("%w: %v", xe.ErrStrategyCodeInvalid, err)
	}
	if _, err := jsvm.Compile("strategy.js", code); err != nil {
		return fmt.Errorf("%w: %v", xe.ErrStrategyCodeInvalid, err)
	}
	return nil
}
