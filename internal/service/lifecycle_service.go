package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/repo"
	"github.com/dushixiang/strata/internal/telegram"
	"github.com/dushixiang/strata/internal/xe"
	"github.com/dushixiang/strata/pkg/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LifecycleService 生命周期管理器：持有运行实例注册表，负责策略的
// 启动、停止、恢复，并驱动每个实例的 tick 循环。
// 每个策略同一时刻至多一个运行实例。
type LifecycleService struct {
	logger *zap.Logger

	*orz.Service
	*repo.StrategyRepo
	*repo.RunRepo
	*repo.TradeRepo
	*repo.PositionRepo

	engine *EngineService
	tg     *telegram.Telegram
	conf   *config.Config

	mu       sync.Mutex
	registry map[string]*Instance
	// 停止后的日志缓冲保留，供事后查询
	lastLogs map[string]*logBuffer
}

// NewLifecycleService 创建生命周期管理器
func NewLifecycleService(
	db *gorm.DB,
	engine *EngineService,
	tg *telegram.Telegram,
	logger *zap.Logger,
	conf *config.Config,
) *LifecycleService {
	return &LifecycleService{
		logger:       logger,
		Service:      orz.NewService(db),
		StrategyRepo: repo.NewStrategyRepo(db),
		RunRepo:      repo.NewRunRepo(db),
		TradeRepo:    repo.NewTradeRepo(db),
		PositionRepo: repo.NewPositionRepo(db),
		engine:       engine,
		tg:           tg,
		conf:         conf,
		registry:     make(map[string]*Instance),
		lastLogs:     make(map[string]*logBuffer),
	}
}

// Start 启动策略。已在运行、代码为空、交易所未配置都会失败且不产生副作用。
func (s *LifecycleService) Start(ctx context.Context, strategyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry[strategyID]; ok {
		return xe.ErrStrategyRunning
	}

	strategy, err := s.StrategyRepo.FindById(ctx, strategyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xe.ErrStrategyNotFound
		}
		return err
	}
	if strategy.Code == "" {
		return xe.ErrStrategyCodeEmpty
	}

	exConf, ok := s.conf.Exchanges[strategy.Exchange]
	if !ok {
		return fmt.Errorf("%w: exchange %q", xe.ErrExchangeNotConfig, strategy.Exchange)
	}
	session, err := s.buildSession(strategy.Exchange, exConf)
	if err != nil {
		return err
	}

	run, err := s.findOrCreateRun(ctx, &strategy, exConf, session)
	if err != nil {
		return err
	}

	inst := NewInstance(strategy.ID, run, exConf, s.conf.Risk, session, s.conf.Runtime.LogBuffer)

	// 从持久化数据恢复：下一个交易序号与累计盈亏
	lastIdx, err := s.TradeRepo.FindLastIdx(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to restore trade index: %w", err)
	}
	inst.SetNextIdx(lastIdx + 1)
	if lastIdx >= 0 {
		if last, err := s.TradeRepo.FindLastByRunID(ctx, run.ID); err == nil {
			inst.SetCumulativePnl(last.CumulativePnl)
		}
	}

	s.registry[strategy.ID] = inst

	if err := s.StrategyRepo.UpdateStatus(ctx, strategy.ID, models.StrategyStatusActive); err != nil {
		s.logger.Error("failed to persist active status", zap.String("strategy_id", strategy.ID), zap.Error(err))
	}

	inst.Log(LogLevelInfo, fmt.Sprintf("strategy started (run %s, mode %s, dry-run %v)", run.ID, session.Mode, session.DryRun))
	s.logger.Info("strategy started",
		zap.String("strategy_id", strategy.ID),
		zap.String("run_id", run.ID),
		zap.String("mode", session.Mode),
		zap.Bool("dry_run", session.DryRun))
	s.notify(fmt.Sprintf("策略已启动: %s", strategy.Name))

	// 启动后立即执行第一个 tick
	go s.runLoop(inst)
	return nil
}

// Stop 停止策略。置停止标志唤醒等待中的 tick，日志缓冲保留供事后查询。
func (s *LifecycleService) Stop(ctx context.Context, strategyID string) error {
	s.mu.Lock()
	inst, ok := s.registry[strategyID]
	if !ok {
		s.mu.Unlock()
		return xe.ErrStrategyNotRunning
	}
	inst.Stop()
	inst.Log(LogLevelInfo, "strategy stopped")
	s.lastLogs[strategyID] = inst.LogsBuffer()
	delete(s.registry, strategyID)
	s.mu.Unlock()

	if err := s.StrategyRepo.UpdateStatus(ctx, strategyID, models.StrategyStatusPaused); err != nil {
		s.logger.Error("failed to persist paused status", zap.String("strategy_id", strategyID), zap.Error(err))
	}
	if err := s.RunRepo.Close(ctx, inst.Run.ID, time.Now()); err != nil {
		s.logger.Error("failed to close run", zap.String("run_id", inst.Run.ID), zap.Error(err))
	}

	s.logger.Info("strategy stopped", zap.String("strategy_id", strategyID), zap.String("run_id", inst.Run.ID))
	s.notify(fmt.Sprintf("策略已停止: %s", strategyID))
	return nil
}

// Status 查询策略状态；未运行时返回持久化状态
func (s *LifecycleService) Status(ctx context.Context, strategyID string) (map[string]any, error) {
	strategy, err := s.StrategyRepo.FindById(ctx, strategyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xe.ErrStrategyNotFound
		}
		return nil, err
	}

	s.mu.Lock()
	inst, running := s.registry[strategyID]
	s.mu.Unlock()

	status := map[string]any{
		"strategy_id": strategy.ID,
		"name":        strategy.Name,
		"status":      strategy.Status,
		"running":     running,
		"last_run_at": strategy.LastRunAt,
	}
	if running {
		runSpent, daySpent, trades := inst.BudgetSnapshot()
		status["run_id"] = inst.Run.ID
		status["dry_run"] = inst.Session.DryRun
		status["mode"] = inst.Session.Mode
		status["ticks"] = inst.Ticks()
		status["cumulative_pnl"] = inst.CumulativePnl()
		status["budget"] = map[string]any{
			"run_spent_eth": runSpent,
			"day_spent_eth": daySpent,
			"trades":        trades,
		}
	}
	return status, nil
}

// Running 策略是否有运行中的实例
func (s *LifecycleService) Running(strategyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[strategyID]
	return ok
}

// Logs 策略日志（运行中或停止后保留的缓冲）
func (s *LifecycleService) Logs(strategyID string) []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.registry[strategyID]; ok {
		return inst.Logs()
	}
	if buf, ok := s.lastLogs[strategyID]; ok {
		return buf.Snapshot()
	}
	return nil
}

// ResumeAll 进程启动时恢复所有持久化为 active 的策略；
// 单个失败只记日志并标记 error，不影响其余策略
func (s *LifecycleService) ResumeAll(ctx context.Context) {
	strategies, err := s.StrategyRepo.FindByStatus(ctx, models.StrategyStatusActive)
	if err != nil {
		s.logger.Error("failed to load active strategies for resume", zap.Error(err))
		return
	}
	for _, strategy := range strategies {
		if err := s.Start(ctx, strategy.ID); err != nil {
			s.logger.Error("failed to resume strategy",
				zap.String("strategy_id", strategy.ID), zap.Error(err))
			if err := s.StrategyRepo.UpdateStatus(ctx, strategy.ID, models.StrategyStatusError); err != nil {
				s.logger.Error("failed to persist error status", zap.String("strategy_id", strategy.ID), zap.Error(err))
			}
			continue
		}
		s.logger.Info("strategy resumed", zap.String("strategy_id", strategy.ID))
	}
}

// runLoop 每个策略实例一个 goroutine：睡到下一个执行点或停止信号，
// 同一策略任一时刻只有一个在途 tick。
func (s *LifecycleService) runLoop(inst *Instance) {
	ctx := context.Background()
	var delay time.Duration

	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-inst.StopC():
				timer.Stop()
				return
			}
		}
		if inst.Stopped() {
			return
		}

		decision, err := s.engine.Tick(ctx, inst)
		if err != nil {
			if errors.Is(err, ErrStrategyStopped) || inst.Stopped() {
				return
			}
			s.failInstance(ctx, inst, err)
			return
		}
		if !decision.Reschedule {
			s.completeInstance(ctx, inst)
			return
		}
		delay = decision.Delay
	}
}

// failInstance tick 不可恢复失败：状态置 error，循环停止，需要手动重启。
// 运行记录保持打开，重启后继续沿用。
func (s *LifecycleService) failInstance(ctx context.Context, inst *Instance, tickErr error) {
	s.mu.Lock()
	if current, ok := s.registry[inst.StrategyID]; !ok || current != inst {
		s.mu.Unlock()
		return
	}
	s.lastLogs[inst.StrategyID] = inst.LogsBuffer()
	delete(s.registry, inst.StrategyID)
	s.mu.Unlock()

	if err := s.StrategyRepo.UpdateStatus(ctx, inst.StrategyID, models.StrategyStatusError); err != nil {
		s.logger.Error("failed to persist error status", zap.String("strategy_id", inst.StrategyID), zap.Error(err))
	}
	s.logger.Error("strategy tick failed, halting",
		zap.String("strategy_id", inst.StrategyID), zap.Error(tickErr))
	s.notify(fmt.Sprintf("策略执行出错，已停止: %s\n%v", inst.StrategyID, tickErr))
}

// completeInstance 策略自然完成（不再调度）：关闭运行记录
func (s *LifecycleService) completeInstance(ctx context.Context, inst *Instance) {
	s.mu.Lock()
	if current, ok := s.registry[inst.StrategyID]; !ok || current != inst {
		s.mu.Unlock()
		return
	}
	s.lastLogs[inst.StrategyID] = inst.LogsBuffer()
	delete(s.registry, inst.StrategyID)
	s.mu.Unlock()

	if err := s.StrategyRepo.UpdateStatus(ctx, inst.StrategyID, models.StrategyStatusPaused); err != nil {
		s.logger.Error("failed to persist paused status", zap.String("strategy_id", inst.StrategyID), zap.Error(err))
	}
	if err := s.RunRepo.Close(ctx, inst.Run.ID, time.Now()); err != nil {
		s.logger.Error("failed to close run", zap.String("run_id", inst.Run.ID), zap.Error(err))
	}
	s.logger.Info("strategy run complete", zap.String("strategy_id", inst.StrategyID), zap.String("run_id", inst.Run.ID))
}

// buildSession 按交易所配置构建链上会话；模拟盘不触链
func (s *LifecycleService) buildSession(name string, exConf config.ExchangeConf) (*Session, error) {
	mode := exConf.Mode
	if mode == "" {
		mode = models.RunModeDelegate
	}
	if mode != models.RunModeDelegate && mode != models.RunModeDirect {
		return nil, fmt.Errorf("%w: exchange %q has unknown mode %q", xe.ErrExchangeNotConfig, name, mode)
	}

	session := &Session{
		Mode:    mode,
		DryRun:  exConf.DryRun,
		GateKey: name,
		User:    common.HexToAddress(exConf.UserAddress),
	}
	if exConf.DryRun {
		return session, nil
	}

	if exConf.RPC == "" {
		return nil, fmt.Errorf("%w: exchange %q has no rpc endpoint", xe.ErrExchangeNotConfig, name)
	}
	client, err := chain.NewClient(exConf.RPC, exConf.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect exchange %q: %w", name, err)
	}
	session.Client = client
	session.NewPair = func(addr common.Address) chain.Pair {
		return chain.NewPairClient(client, addr)
	}

	switch mode {
	case models.RunModeDelegate:
		if exConf.Ledger == "" || exConf.OperatorKey == "" {
			return nil, fmt.Errorf("%w: exchange %q needs ledger address and operator key for delegate mode", xe.ErrExchangeNotConfig, name)
		}
		operatorKey, err := chain.ParseKey(exConf.OperatorKey)
		if err != nil {
			return nil, fmt.Errorf("exchange %q: %w", name, err)
		}
		session.Ledger = chain.NewLedgerClient(client, common.HexToAddress(exConf.Ledger), operatorKey)
	case models.RunModeDirect:
		if exConf.UserKey == "" {
			return nil, fmt.Errorf("%w: exchange %q needs user key for direct mode", xe.ErrExchangeNotConfig, name)
		}
		userKey, err := chain.ParseKey(exConf.UserKey)
		if err != nil {
			return nil, fmt.Errorf("exchange %q: %w", name, err)
		}
		session.UserKey = userKey
		session.User = chain.KeyAddress(userKey)
	}
	return session, nil
}

// findOrCreateRun 查找未关闭的运行记录，没有才新建
func (s *LifecycleService) findOrCreateRun(ctx context.Context, strategy *models.Strategy, exConf config.ExchangeConf, session *Session) (*models.Run, error) {
	existing, err := s.RunRepo.FindOpenByStrategyID(ctx, strategy.ID)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load open run: %w", err)
	}

	run := models.Run{
		ID:             ulid.Make().String(),
		StrategyID:     strategy.ID,
		StartedAt:      time.Now(),
		InitialCapital: exConf.InitialCapital,
		Mode:           session.Mode,
		DryRun:         session.DryRun,
		UserAddress:    session.User.Hex(),
	}
	if err := s.RunRepo.Create(ctx, &run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

func (s *LifecycleService) notify(msg string) {
	if s.tg == nil {
		return
	}
	if err := s.tg.NotifyDefault(msg); err != nil {
		s.logger.Warn("failed to send telegram notification", zap.Error(err))
	}
}
