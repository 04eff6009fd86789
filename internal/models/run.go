package models

import (
	"time"
)

// 执行模式
const (
	RunModeDelegate = "delegate" // 通过共享的委托合约下单
	RunModeDirect   = "direct"   // 使用用户自己的私钥直接下单
)

// Run 一次策略运行，从启动到停止；进程重启时会复用未关闭的记录
type Run struct {
	ID             string     `gorm:"primaryKey;type:varchar(26)" json:"id"`
	StrategyID     string     `gorm:"type:varchar(26);not null;index" json:"strategy_id"` // 所属策略
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`                         // 启动时间
	StoppedAt      *time.Time `json:"stopped_at"`                                         // 停止时间，为空表示仍在运行
	InitialCapital float64    `gorm:"type:decimal(20,8)" json:"initial_capital"`          // 初始资金（ETH）
	Mode           string     `gorm:"type:varchar(10);not null" json:"mode"`              // delegate/direct
	DryRun         bool       `gorm:"not null" json:"dry_run"`                            // 是否为模拟盘
	UserAddress    string     `gorm:"type:varchar(42)" json:"user_address"`               // 代为交易的链上用户地址
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Run) TableName() string {
	return "runs"
}

// IsOpen 是否仍在运行中
func (r *Run) IsOpen() bool {
	return r.StoppedAt == nil
}
