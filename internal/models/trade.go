package models

import (
	"time"
)

// 交易方向与结算状态
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"

	TradeStatusConfirmed = "confirmed" // 链上确认
	TradeStatusSimulated = "simulated" // 模拟盘成交
)

// Trade 交易记录，只追加不修改
type Trade struct {
	ID            string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	RunID         string    `gorm:"type:varchar(26);not null;uniqueIndex:idx_run_trade" json:"run_id"` // 所属运行
	Idx           int       `gorm:"not null;uniqueIndex:idx_run_trade" json:"idx"`                     // 运行内单调递增序号
	Side          string    `gorm:"type:varchar(4);not null" json:"side"`                              // buy/sell
	Pair          string    `gorm:"type:varchar(42);not null;index" json:"pair"`                       // 交易对地址
	Token         string    `gorm:"type:varchar(42)" json:"token"`                                     // 代币地址
	TxHash        string    `gorm:"type:varchar(80);index" json:"tx_hash"`                             // 交易哈希，模拟盘为 sim- 前缀
	Status        string    `gorm:"type:varchar(10);not null" json:"status"`                           // confirmed/simulated
	AmountEth     float64   `gorm:"type:decimal(30,18)" json:"amount_eth"`                             // ETH 侧金额
	AmountToken   float64   `gorm:"type:decimal(30,18)" json:"amount_token"`                           // 代币侧金额
	Fee           float64   `gorm:"type:decimal(30,18)" json:"fee"`                                    // 合约抽取的手续费（ETH）
	GasEth        float64   `gorm:"type:decimal(30,18)" json:"gas_eth"`                                // Gas 成本（ETH）
	Pnl           float64   `gorm:"type:decimal(30,18)" json:"pnl"`                                    // 已实现盈亏（ETH）
	PnlPercent    float64   `gorm:"type:decimal(20,8)" json:"pnl_percent"`                             // 已实现盈亏百分比
	CumulativePnl float64   `gorm:"type:decimal(30,18)" json:"cumulative_pnl"`                         // 写入时刻的累计盈亏快照
	ExecutedAt    time.Time `gorm:"not null;index" json:"executed_at"`                                 // 成交时间
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Trade) TableName() string {
	return "trades"
}
