package models

import (
	"time"
)

// Position 持仓信息，按 (run_id, pair) 维护；每次成交后覆盖更新
type Position struct {
	RunID        string    `gorm:"primaryKey;type:varchar(26)" json:"run_id"`  // 所属运行
	Pair         string    `gorm:"primaryKey;type:varchar(42)" json:"pair"`    // 交易对地址
	Token        string    `gorm:"type:varchar(42)" json:"token"`              // 代币地址
	TokenHeld    float64   `gorm:"type:decimal(30,18)" json:"token_held"`      // 持有代币数量，不允许为负
	CostBasisEth float64   `gorm:"type:decimal(30,18)" json:"cost_basis_eth"`  // 累计成本（ETH），不允许为负
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Position) TableName() string {
	return "positions"
}
