package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams       = orz.NewError(10400, "参数无效")
	ErrStrategyNotFound    = orz.NewError(10404, "策略不存在")
	ErrStrategyRunning     = orz.NewError(10100, "策略已在运行中")
	ErrStrategyNotRunning  = orz.NewError(10101, "策略未在运行")
	ErrStrategyCodeEmpty   = orz.NewError(10102, "策略代码为空")
	ErrExchangeNotConfig   = orz.NewError(10103, "交易所未配置，请先在配置文件中补全接入信息")
	ErrStrategyCodeInvalid = orz.NewError(10104, "策略代码校验失败")
)
