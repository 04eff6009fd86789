package service

import "errors"

// 交易提交前的拒绝原因与链上重试耗尽，调用方用 errors.Is 区分
var (
	ErrBudgetExceeded      = errors.New("trade rejected: risk budget exceeded")
	ErrInsufficientBalance = errors.New("trade rejected: insufficient balance")
	ErrStrategyStopped     = errors.New("strategy stopped")
	ErrSlippageExhausted   = errors.New("trade abandoned: slippage retries exhausted")
)
