package service

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/repo"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 序号冲突（并发修复重读）时的最大重试次数
const maxIdxRetries = 3

// LedgerService 持仓与已实现盈亏台账：加权平均成本法记账，
// 每笔成交后更新持仓并追加交易记录
type LedgerService struct {
	logger *zap.Logger

	*orz.Service
	*repo.TradeRepo
	*repo.PositionRepo
}

// NewLedgerService 创建台账服务
func NewLedgerService(db *gorm.DB, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		logger:       logger,
		Service:      orz.NewService(db),
		TradeRepo:    repo.NewTradeRepo(db),
		PositionRepo: repo.NewPositionRepo(db),
	}
}

// Settled 网关结算出的一笔成交
type Settled struct {
	Pair        string
	Token       string
	TxHash      string
	Status      string
	AmountEth   float64 // ETH 侧总额（买入为总支出，卖出为总回收）
	AmountToken float64 // 代币侧数量
	Fee         float64 // 合约手续费（ETH）
	GasEth      float64 // gas 成本（ETH）
	At          time.Time
}

// RecordBuy 买入结算：持仓增加实际到手数量，成本增加净投入（总支出减手续费）。
// 买入不产生收益，已实现盈亏为手续费的相反数。
func (s *LedgerService) RecordBuy(ctx context.Context, inst *Instance, settled Settled) (*models.Trade, error) {
	position := s.loadPosition(ctx, inst.Run.ID, settled.Pair, settled.Token)

	position.Token = settled.Token
	position.TokenHeld += settled.AmountToken
	position.CostBasisEth += settled.AmountEth - settled.Fee

	pnl := -settled.Fee
	pnlPercent := 0.0
	if settled.AmountEth > 0 {
		pnlPercent = pnl / settled.AmountEth * 100
	}

	return s.persist(ctx, inst, position, settled, models.TradeSideBuy, pnl, pnlPercent)
}

// RecordSell 卖出结算：按卖出占比移除成本（加权平均法）；清仓时精确移除
// 全部剩余成本，避免浮点残渣。已实现盈亏 = 净回收 - 移除的成本。
func (s *LedgerService) RecordSell(ctx context.Context, inst *Instance, settled Settled) (*models.Trade, error) {
	position := s.loadPosition(ctx, inst.Run.ID, settled.Pair, settled.Token)

	heldBefore := position.TokenHeld
	var costRemoved float64
	if heldBefore > 0 && settled.AmountToken >= heldBefore {
		// 清仓：全部成本一次移除，持仓归零
		costRemoved = position.CostBasisEth
		position.TokenHeld = 0
		position.CostBasisEth = 0
	} else if heldBefore > 0 {
		costRemoved = position.CostBasisEth * settled.AmountToken / heldBefore
		position.TokenHeld -= settled.AmountToken
		position.CostBasisEth -= costRemoved
	}

	// 防止舍入导致负值
	if position.TokenHeld < 0 {
		position.TokenHeld = 0
	}
	if position.CostBasisEth < 0 {
		position.CostBasisEth = 0
	}

	netProceeds := settled.AmountEth - settled.Fee
	pnl := netProceeds - costRemoved
	pnlPercent := 0.0
	if settled.AmountEth > 0 {
		pnlPercent = pnl / settled.AmountEth * 100
	}

	return s.persist(ctx, inst, position, settled, models.TradeSideSell, pnl, pnlPercent)
}

// EthSpent 从交易历史推算模拟盘余额变动：买入支出为负、卖出净回收为正
func (s *LedgerService) EthFlow(ctx context.Context, runID string) (float64, error) {
	trades, err := s.TradeRepo.FindByRunID(ctx, runID)
	if err != nil {
		return 0, err
	}
	flow := 0.0
	for _, t := range trades {
		switch t.Side {
		case models.TradeSideBuy:
			flow -= t.AmountEth
		case models.TradeSideSell:
			flow += t.AmountEth - t.Fee
		}
	}
	return flow, nil
}

// loadPosition 读取持仓；读失败与持久化失败同等对待：成交已在链上结算，
// 记日志后按空持仓基线继续记账，不中断交易
func (s *LedgerService) loadPosition(ctx context.Context, runID, pair, token string) *models.Position {
	position, err := s.PositionRepo.FindByRunAndPair(ctx, runID, pair)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("failed to load position, recording against empty baseline",
				zap.String("run_id", runID),
				zap.String("pair", pair),
				zap.Error(err))
		}
		return &models.Position{RunID: runID, Pair: pair, Token: token}
	}
	return &position
}

// persist 写入持仓与交易记录。持久化失败只记日志不回滚交易：
// 交易已在链上结算，运行时选择继续推进而不是阻塞在持久化上。
func (s *LedgerService) persist(ctx context.Context, inst *Instance, position *models.Position, settled Settled, side string, pnl, pnlPercent float64) (*models.Trade, error) {
	inst.mu.Lock()
	inst.cumulativePnl += pnl
	cumulative := inst.cumulativePnl
	idx := inst.nextIdx
	inst.mu.Unlock()

	trade := &models.Trade{
		ID:            ulid.Make().String(),
		RunID:         inst.Run.ID,
		Idx:           idx,
		Side:          side,
		Pair:          settled.Pair,
		Token:         settled.Token,
		TxHash:        settled.TxHash,
		Status:        settled.Status,
		AmountEth:     settled.AmountEth,
		AmountToken:   settled.AmountToken,
		Fee:           settled.Fee,
		GasEth:        settled.GasEth,
		Pnl:           pnl,
		PnlPercent:    pnlPercent,
		CumulativePnl: cumulative,
		ExecutedAt:    settled.At,
	}

	if err := s.PositionRepo.Upsert(ctx, position); err != nil {
		s.logger.Error("failed to persist position, trade already settled",
			zap.String("run_id", inst.Run.ID),
			zap.String("pair", settled.Pair),
			zap.Error(err))
	}

	if err := s.appendTrade(ctx, inst, trade); err != nil {
		s.logger.Error("failed to persist trade record, trade already settled",
			zap.String("run_id", inst.Run.ID),
			zap.Int("idx", trade.Idx),
			zap.Error(err))
	}

	inst.SetNextIdx(trade.Idx + 1)
	return trade, nil
}

// appendTrade 追加交易记录；序号冲突时重读最后序号后重试
func (s *LedgerService) appendTrade(ctx context.Context, inst *Instance, trade *models.Trade) error {
	var err error
	for attempt := 0; attempt <= maxIdxRetries; attempt++ {
		if err = s.TradeRepo.Create(ctx, trade); err == nil {
			return nil
		}
		last, readErr := s.TradeRepo.FindLastIdx(ctx, inst.Run.ID)
		if readErr != nil {
			return err
		}
		trade.Idx = last + 1
	}
	return err
}
