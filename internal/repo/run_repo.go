package repo

import (
	"context"
	"time"

	"github.com/dushixiang/strata/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewRunRepo(db *gorm.DB) *RunRepo {
	return &RunRepo{
		Repository: orz.NewRepository[models.Run, string](db),
	}
}

type RunRepo struct {
	orz.Repository[models.Run, string]
}

// FindOpenByStrategyID 查找策略当前未关闭的运行记录
func (r RunRepo) FindOpenByStrategyID(ctx context.Context, strategyID string) (m models.Run, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("strategy_id = ? AND stopped_at IS NULL", strategyID).
		Order("started_at DESC").
		First(&m).Error
	return m, err
}

// Close 关闭运行记录（写入停止时间）
func (r RunRepo) Close(ctx context.Context, id string, at time.Time) error {
	db := r.GetDB(ctx)
	return db.Table(r.GetTableName()).
		Where("id = ?", id).
		Update("stopped_at", at).Error
}
