package repo

import (
	"context"
	"errors"

	"github.com/dushixiang/strata/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewTradeRepo(db *gorm.DB) *TradeRepo {
	return &TradeRepo{
		Repository: orz.NewRepository[models.Trade, string](db),
	}
}

type TradeRepo struct {
	orz.Repository[models.Trade, string]
}

// FindLastIdx 读取运行内最后一条交易的序号，没有记录时返回 -1
func (r TradeRepo) FindLastIdx(ctx context.Context, runID string) (int, error) {
	var trade models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("run_id = ?", runID).
		Order("idx DESC").
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return -1, nil
		}
		return -1, err
	}
	return trade.Idx, nil
}

// FindLastByRunID 读取运行内最后一条交易记录
func (r TradeRepo) FindLastByRunID(ctx context.Context, runID string) (m models.Trade, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("run_id = ?", runID).
		Order("idx DESC").
		First(&m).Error
	return m, err
}

// FindByRunID 读取运行内全部交易记录，按序号升序
func (r TradeRepo) FindByRunID(ctx context.Context, runID string) ([]models.Trade, error) {
	var trades []models.Trade
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("run_id = ?", runID).
		Order("idx ASC").
		Find(&trades).Error
	return trades, err
}
