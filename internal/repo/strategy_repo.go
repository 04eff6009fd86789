package repo

import (
	"context"
	"time"

	"github.com/dushixiang/strata/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewStrategyRepo(db *gorm.DB) *StrategyRepo {
	return &StrategyRepo{
		Repository: orz.NewRepository[models.Strategy, string](db),
	}
}

type StrategyRepo struct {
	orz.Repository[models.Strategy, string]
}

// FindByStatus 根据状态查找策略
func (r StrategyRepo) FindByStatus(ctx context.Context, status string) ([]models.Strategy, error) {
	var strategies []models.Strategy
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&strategies).Error
	return strategies, err
}

// UpdateStatus 更新策略状态
func (r StrategyRepo) UpdateStatus(ctx context.Context, id, status string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("status", status).Error
}

// UpdateParams 回写修复后的参数
func (r StrategyRepo) UpdateParams(ctx context.Context, id, params string) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("params", params).Error
}

// UpdateLastRunAt 更新最近执行时间
func (r StrategyRepo) UpdateLastRunAt(ctx context.Context, id string, at time.Time) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("last_run_at", at).Error
}
