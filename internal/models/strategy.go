package models

import (
	"time"

	"gorm.io/gorm"
)

// 策略状态
const (
	StrategyStatusDraft  = "draft"  // 草稿，尚未运行过
	StrategyStatusActive = "active" // 正在运行
	StrategyStatusPaused = "paused" // 已手动停止
	StrategyStatusError  = "error"  // 执行出错，需要手动重启
)

// Strategy 用户策略定义
type Strategy struct {
	ID        string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Name      string         `gorm:"type:varchar(100);not null" json:"name"`            // 策略名称
	Exchange  string         `gorm:"type:varchar(50);not null;index" json:"exchange"`   // 交易所标识，对应配置中的交易所
	Code      string         `gorm:"type:text" json:"code"`                             // 策略源代码（JavaScript）
	Params    string         `gorm:"type:text" json:"params"`                           // 保存的参数值（JSON key->value）
	Status    string         `gorm:"type:varchar(10);not null;index" json:"status"`     // draft/active/paused/error
	LastRunAt *time.Time     `json:"last_run_at"`                                       // 最近一次执行时间
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (Strategy) TableName() string {
	return "strategies"
}
