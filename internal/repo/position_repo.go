package repo

import (
	"context"

	"github.com/dushixiang/strata/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewPositionRepo(db *gorm.DB) *PositionRepo {
	return &PositionRepo{
		Repository: orz.NewRepository[models.Position, string](db),
	}
}

// PositionRepo 持仓使用 (run_id, pair) 复合主键，只通过下面的定制方法访问
type PositionRepo struct {
	orz.Repository[models.Position, string]
}

// FindByRunAndPair 查找运行内某交易对的持仓
func (r PositionRepo) FindByRunAndPair(ctx context.Context, runID, pair string) (m models.Position, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("run_id = ? AND pair = ?", runID, pair).
		First(&m).Error
	return m, err
}

// FindByRunID 查找运行内全部持仓
func (r PositionRepo) FindByRunID(ctx context.Context, runID string) ([]models.Position, error) {
	var positions []models.Position
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("run_id = ?", runID).
		Find(&positions).Error
	return positions, err
}

// Upsert 写入或覆盖持仓
func (r PositionRepo) Upsert(ctx context.Context, position *models.Position) error {
	db := r.GetDB(ctx)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "pair"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "token_held", "cost_basis_eth", "updated_at"}),
	}).Create(position).Error
}
