package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/jsvm"
	"github.com/dushixiang/strata/internal/repo"
	"github.com/dushixiang/strata/pkg/schedule"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EngineService 执行引擎：每个 tick 装载一次策略代码，注入能力对象并调用
// main 入口。策略对宿主的全部访问都只能经过能力对象。
type EngineService struct {
	logger *zap.Logger

	*repo.StrategyRepo

	params  *ParamService
	gateway *GatewayService
	ledger  *LedgerService
	runtime config.RuntimeConf
}

// NewEngineService 创建执行引擎
func NewEngineService(
	db *gorm.DB,
	params *ParamService,
	gateway *GatewayService,
	ledger *LedgerService,
	logger *zap.Logger,
	conf *config.Config,
) *EngineService {
	return &EngineService{
		logger:       logger,
		StrategyRepo: repo.NewStrategyRepo(db),
		params:       params,
		gateway:      gateway,
		ledger:       ledger,
		runtime:      conf.Runtime,
	}
}

// Tick 执行一次策略 tick，返回调度决定。
// 停止请求表现为 ErrStrategyStopped，其余错误都视为不可恢复的 tick 失败。
func (s *EngineService) Tick(ctx context.Context, inst *Instance) (schedule.Decision, error) {
	tick := inst.bumpTick()

	strategy, err := s.StrategyRepo.FindById(ctx, inst.StrategyID)
	if err != nil {
		return schedule.Decision{}, fmt.Errorf("failed to load strategy: %w", err)
	}

	// 每个 tick 都重新校验源码，外部编辑过的代码在下一个 tick 生效
	if err := jsvm.Validate(strategy.Code, s.runtime.MaxCodeBytes); err != nil {
		inst.Log(LogLevelError, fmt.Sprintf("code validation failed: %v", err))
		return schedule.Decision{}, fmt.Errorf("code validation failed: %w", err)
	}

	hash := sha256.Sum256([]byte(strategy.Code))
	if inst.program == nil || hash != inst.codeHash {
		program, err := jsvm.Compile(strategy.ID, strategy.Code)
		if err != nil {
			inst.Log(LogLevelError, fmt.Sprintf("code compilation failed: %v", err))
			return schedule.Decision{}, fmt.Errorf("code compilation failed: %w", err)
		}
		inst.program = program
		inst.codeHash = hash
	}

	// 参数校对每个 tick 都执行，外部编辑引入的漂移自动修复
	reconciled, err := s.params.Reconcile(ctx, &strategy)
	if err != nil {
		return schedule.Decision{}, fmt.Errorf("failed to reconcile params: %w", err)
	}
	if reconciled.Changed {
		inst.Log(LogLevelInfo, reconciled.Summary())
		s.logger.Info("strategy params repaired",
			zap.String("strategy_id", strategy.ID),
			zap.Strings("fixed", reconciled.Fixed),
			zap.Strings("extra", reconciled.Extra))
	}

	now := time.Now()
	bag := reconciled.Params
	if bag == nil {
		bag = map[string]any{}
	}
	bag["_now"] = now.UnixMilli()
	bag["_time"] = now.Format(time.RFC3339)

	runner, err := jsvm.NewRunner(inst.program)
	if err != nil {
		inst.Log(LogLevelError, fmt.Sprintf("failed to load strategy program: %v", err))
		return schedule.Decision{}, err
	}

	inst.lastSchedule = nil
	inst.scheduled = false

	capability := s.buildCapability(ctx, inst, runner, bag)
	callErr := runner.CallMain(capability)

	if err := s.StrategyRepo.UpdateLastRunAt(ctx, strategy.ID, now); err != nil {
		s.logger.Warn("failed to persist last run time", zap.String("strategy_id", strategy.ID), zap.Error(err))
	}

	if callErr != nil {
		if inst.Stopped() {
			return schedule.Decision{}, ErrStrategyStopped
		}
		inst.Log(LogLevelError, fmt.Sprintf("tick #%d failed: %v", tick, callErr))
		return schedule.Decision{}, callErr
	}
	if inst.Stopped() {
		return schedule.Decision{}, ErrStrategyStopped
	}

	// tick 内没有调用 schedule 视为策略自然完成，不是错误
	if !inst.scheduled {
		inst.Log(LogLevelInfo, fmt.Sprintf("tick #%d completed without rescheduling, run complete", tick))
		return schedule.Decision{Reschedule: false}, nil
	}

	decision, err := schedule.Next(inst.lastSchedule, time.Now())
	if err != nil {
		inst.Log(LogLevelError, fmt.Sprintf("invalid schedule spec: %v", err))
		return schedule.Decision{Reschedule: false}, nil
	}
	if decision.Reschedule {
		inst.Log(LogLevelInfo, fmt.Sprintf("tick #%d done, next run in %s", tick, decision.Delay.Round(time.Second)))
	} else {
		inst.Log(LogLevelInfo, fmt.Sprintf("tick #%d done, run complete", tick))
	}
	return decision, nil
}
