package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dushixiang/strata/internal/jsvm"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/pkg/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cast"
)

// buildCapability 构造注入策略的能力对象。这是策略唯一的宿主出口：
// 交易所操作、调度、日志、时间。每个操作入口都检查停止标志，
// 返回的 error 会在策略侧表现为可捕获的异常。
func (s *EngineService) buildCapability(ctx context.Context, inst *Instance, runner *jsvm.Runner, params map[string]any) *goja.Object {
	rt := runner.Runtime()
	bot := rt.NewObject()

	_ = bot.Set("params", params)

	_ = bot.Set("isDryRun", func() bool {
		return inst.Session.DryRun
	})

	_ = bot.Set("now", func() int64 {
		return time.Now().UnixMilli()
	})

	_ = bot.Set("log", func(message goja.Value) {
		inst.Log(LogLevelInfo, cast.ToString(message.Export()))
	})

	// 一个 tick 内可以多次调用，最后一次生效
	_ = bot.Set("schedule", func(spec goja.Value) error {
		if inst.Stopped() {
			return ErrStrategyStopped
		}
		inst.lastSchedule = spec.Export()
		inst.scheduled = true
		return nil
	})

	_ = bot.Set("assets", func() []map[string]any {
		out := make([]map[string]any, 0, len(inst.Exchange.Pairs))
		for symbol, pair := range inst.Exchange.Pairs {
			out = append(out, map[string]any{"symbol": symbol, "pair": pair})
		}
		return out
	})

	_ = bot.Set("asset", func(ref string) (map[string]any, error) {
		if inst.Stopped() {
			return nil, ErrStrategyStopped
		}
		pairAddr, err := s.resolvePair(inst, ref)
		if err != nil {
			return nil, err
		}
		return s.describeAsset(ctx, inst, ref, pairAddr)
	})

	_ = bot.Set("price", func(ref string) (float64, error) {
		if inst.Stopped() {
			return 0, ErrStrategyStopped
		}
		pairAddr, err := s.resolvePair(inst, ref)
		if err != nil {
			return 0, err
		}
		return s.referencePrice(ctx, inst, pairAddr)
	})

	_ = bot.Set("balance", func() (float64, error) {
		if inst.Stopped() {
			return 0, ErrStrategyStopped
		}
		return s.ethBalance(ctx, inst)
	})

	_ = bot.Set("tokenBalance", func(ref string) (float64, error) {
		if inst.Stopped() {
			return 0, ErrStrategyStopped
		}
		pairAddr, err := s.resolvePair(inst, ref)
		if err != nil {
			return 0, err
		}
		return s.tokenBalance(ctx, inst, pairAddr)
	})

	_ = bot.Set("buy", func(ref string, amountEth float64) (map[string]any, error) {
		pairAddr, err := s.resolvePair(inst, ref)
		if err != nil {
			return nil, err
		}
		trade, err := s.gateway.Buy(ctx, inst, pairAddr, amountEth)
		if err != nil {
			return nil, err
		}
		return tradeView(trade), nil
	})

	_ = bot.Set("sell", func(ref string, amountToken float64) (map[string]any, error) {
		pairAddr, err := s.resolvePair(inst, ref)
		if err != nil {
			return nil, err
		}
		trade, err := s.gateway.Sell(ctx, inst, pairAddr, amountToken)
		if err != nil {
			return nil, err
		}
		return tradeView(trade), nil
	})

	return bot
}

// resolvePair 交易对引用：配置里的符号或 0x 地址
func (s *EngineService) resolvePair(inst *Instance, ref string) (string, error) {
	if addr, ok := inst.Exchange.Pairs[ref]; ok {
		return addr, nil
	}
	if strings.HasPrefix(ref, "0x") && common.IsHexAddress(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("unknown asset %q", ref)
}

func (s *EngineService) describeAsset(ctx context.Context, inst *Instance, ref, pairAddr string) (map[string]any, error) {
	view := map[string]any{"symbol": ref, "pair": pairAddr}
	if inst.Session.DryRun {
		view["price"] = 1.0 / simTokensPerEth
		return view, nil
	}

	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := s.gateway.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return nil, err
	}
	reserveEth, reserveToken, err := pair.Reserves(ctx)
	if err != nil {
		return nil, err
	}
	view["token"] = token.Hex()
	view["reserveEth"] = chain.WeiToEth(reserveEth)
	view["reserveToken"] = chain.WeiToEth(reserveToken)
	if rT := chain.WeiToEth(reserveToken); rT > 0 {
		view["price"] = chain.WeiToEth(reserveEth) / rT
	}
	return view, nil
}

// referencePrice 参考价：储备量比值，模拟盘为固定兑换率
func (s *EngineService) referencePrice(ctx context.Context, inst *Instance, pairAddr string) (float64, error) {
	if inst.Session.DryRun {
		return 1.0 / simTokensPerEth, nil
	}
	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	reserveEth, reserveToken, err := pair.Reserves(ctx)
	if err != nil {
		return 0, err
	}
	rT := chain.WeiToEth(reserveToken)
	if rT <= 0 {
		return 0, fmt.Errorf("pair has no liquidity")
	}
	return chain.WeiToEth(reserveEth) / rT, nil
}

// ethBalance 模拟盘从初始资金与历史成交推算，链上模式按路径查询
func (s *EngineService) ethBalance(ctx context.Context, inst *Instance) (float64, error) {
	if inst.Session.DryRun {
		flow, err := s.ledger.EthFlow(ctx, inst.Run.ID)
		if err != nil {
			return 0, err
		}
		return inst.Run.InitialCapital + flow, nil
	}
	if inst.Session.Mode == models.RunModeDelegate {
		balance, err := inst.Session.Ledger.BalanceOf(ctx, inst.Session.User)
		if err != nil {
			return 0, err
		}
		return chain.WeiToEth(balance), nil
	}
	balance, err := inst.Session.Client.EthBalance(ctx, inst.Session.User)
	if err != nil {
		return 0, err
	}
	return chain.WeiToEth(balance), nil
}

func (s *EngineService) tokenBalance(ctx context.Context, inst *Instance, pairAddr string) (float64, error) {
	if inst.Session.DryRun {
		position, err := s.ledger.PositionRepo.FindByRunAndPair(ctx, inst.Run.ID, pairAddr)
		if err != nil {
			return 0, nil
		}
		return position.TokenHeld, nil
	}

	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := s.gateway.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return 0, err
	}
	if inst.Session.Mode == models.RunModeDelegate {
		balance, err := inst.Session.Ledger.TokenBalanceOf(ctx, inst.Session.User, token)
		if err != nil {
			return 0, err
		}
		return chain.WeiToEth(balance), nil
	}
	balance, err := inst.Session.Client.TokenBalance(ctx, token, inst.Session.User)
	if err != nil {
		return 0, err
	}
	return chain.WeiToEth(balance), nil
}

// tradeView 成交记录在策略侧的形态
func tradeView(trade *models.Trade) map[string]any {
	return map[string]any{
		"idx":         trade.Idx,
		"side":        trade.Side,
		"pair":        trade.Pair,
		"txHash":      trade.TxHash,
		"status":      trade.Status,
		"amountEth":   trade.AmountEth,
		"amountToken": trade.AmountToken,
		"fee":         trade.Fee,
		"gasEth":      trade.GasEth,
		"pnl":         trade.Pnl,
		"pnlPercent":  trade.PnlPercent,
	}
}
