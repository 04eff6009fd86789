package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dushixiang/strata/internal/jsvm"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/repo"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ParamService 参数校对：每个 tick 执行前，把保存的参数值对照源码声明的
// 类型模式做校验与修复，外部编辑引入的漂移因此可以自愈
type ParamService struct {
	logger *zap.Logger

	*repo.StrategyRepo
}

// NewParamService 创建参数校对服务
func NewParamService(db *gorm.DB, logger *zap.Logger) *ParamService {
	return &ParamService{
		logger:       logger,
		StrategyRepo: repo.NewStrategyRepo(db),
	}
}

// ReconcileResult 一次校对的结果
type ReconcileResult struct {
	Params  map[string]any // 干净的参数包
	Fixed   []string       // 被重置为默认值的键
	Extra   []string       // 被丢弃的未声明键
	Changed bool
}

// Reconcile 校对并修复策略参数。声明为空的策略不做校对，原样透传。
// 有任何修复时回写存储并返回变化摘要。
func (s *ParamService) Reconcile(ctx context.Context, strategy *models.Strategy) (*ReconcileResult, error) {
	schema := jsvm.ExtractParams(strategy.Code)

	stored := map[string]any{}
	parseFailed := false
	if trimmed := strings.TrimSpace(strategy.Params); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &stored); err != nil {
			parseFailed = true
			stored = map[string]any{}
		}
	}

	// 无声明的策略不做校对
	if len(schema) == 0 {
		return &ReconcileResult{Params: stored}, nil
	}

	result := &ReconcileResult{Params: make(map[string]any, len(schema))}
	declared := make(map[string]struct{}, len(schema))

	for _, p := range schema {
		declared[p.Key] = struct{}{}
		fallback := defaultValue(p)

		raw, ok := stored[p.Key]
		if !ok {
			result.Params[p.Key] = fallback
			continue
		}
		value, err := coerce(p, raw)
		if err != nil {
			result.Params[p.Key] = fallback
			result.Fixed = append(result.Fixed, p.Key)
			continue
		}
		result.Params[p.Key] = value
	}

	for key := range stored {
		if _, ok := declared[key]; !ok {
			result.Extra = append(result.Extra, key)
		}
	}

	result.Changed = parseFailed || len(result.Fixed) > 0 || len(result.Extra) > 0
	if result.Changed {
		cleaned, err := json.Marshal(result.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cleaned params: %w", err)
		}
		if err := s.StrategyRepo.UpdateParams(ctx, strategy.ID, string(cleaned)); err != nil {
			s.logger.Error("failed to persist repaired params",
				zap.String("strategy_id", strategy.ID), zap.Error(err))
		}
		strategy.Params = string(cleaned)
	}
	return result, nil
}

// Summary 修复摘要，写入策略日志
func (r *ReconcileResult) Summary() string {
	parts := make([]string, 0, 2)
	if len(r.Fixed) > 0 {
		parts = append(parts, fmt.Sprintf("reset to defaults: %s", strings.Join(r.Fixed, ", ")))
	}
	if len(r.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("dropped undeclared: %s", strings.Join(r.Extra, ", ")))
	}
	if len(parts) == 0 {
		return "params repaired: stored values were unreadable"
	}
	return "params repaired: " + strings.Join(parts, "; ")
}

// defaultValue 按声明类型解析默认值，解析失败时取类型零值；
// 枚举默认值不在候选里时退回第一个候选
func defaultValue(p jsvm.Param) any {
	switch p.Type {
	case jsvm.ParamTypeBool:
		return cast.ToBool(p.Default)
	case jsvm.ParamTypeInt:
		return cast.ToInt(p.Default)
	case jsvm.ParamTypeBps:
		return clampInt(cast.ToInt(p.Default), 0, 5000)
	case jsvm.ParamTypeNumber, jsvm.ParamTypeEth:
		return cast.ToFloat64(p.Default)
	case jsvm.ParamTypePercent:
		return clampFloat(cast.ToFloat64(p.Default), 0, 100)
	case jsvm.ParamTypeEnum:
		if len(p.Choices) == 0 {
			return p.Default
		}
		for _, c := range p.Choices {
			if c == p.Default {
				return p.Default
			}
		}
		return p.Choices[0]
	default:
		return p.Default
	}
}

// coerce 把存储的原始值按声明类型转换，转换失败由调用方回退默认值
func coerce(p jsvm.Param, raw any) (any, error) {
	switch p.Type {
	case jsvm.ParamTypeBool:
		return cast.ToBoolE(raw)
	case jsvm.ParamTypeInt:
		return cast.ToIntE(raw)
	case jsvm.ParamTypeBps:
		v, err := cast.ToIntE(raw)
		if err != nil {
			return nil, err
		}
		return clampInt(v, 0, 5000), nil
	case jsvm.ParamTypeNumber, jsvm.ParamTypeEth:
		return cast.ToFloat64E(raw)
	case jsvm.ParamTypePercent:
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, err
		}
		return clampFloat(v, 0, 100), nil
	case jsvm.ParamTypeEnum:
		v, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		for _, c := range p.Choices {
			if c == v {
				return v, nil
			}
		}
		return nil, fmt.Errorf("value %q not in choices", v)
	default:
		return cast.ToStringE(raw)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
