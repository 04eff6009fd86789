package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/internal/telegram"
	"github.com/dushixiang/strata/pkg/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	// nonce 冲突时最多立即重发 4 次（每次重新读取 nonce）
	maxNonceRetries = 4
	// 滑点回滚时最多提交 5 次，每次把最小可接受产出减半，之后放弃
	maxSlippageAttempts = 5
	// 链上交易的 deadline 窗口
	txDeadline = 60 * time.Second
	// 模拟盘的确定性兑换率：1 ETH = 1e6 代币
	simTokensPerEth = 1e6
)

// GatewayService 交易执行网关。三条互斥路径：模拟盘、委托合约、直连。
// 共享操作员账户的写入通过每键一个的串行闸门排队，保证同一账户
// 任一时刻只有一笔在途交易。
type GatewayService struct {
	logger *zap.Logger
	ledger *LedgerService
	tg     *telegram.Telegram

	gateMu sync.Mutex
	gates  map[string]chan struct{}
}

// NewGatewayService 创建交易网关
func NewGatewayService(ledger *LedgerService, tg *telegram.Telegram, logger *zap.Logger) *GatewayService {
	return &GatewayService{
		logger: logger,
		ledger: ledger,
		tg:     tg,
		gates:  make(map[string]chan struct{}),
	}
}

// Buy 买入。预算校验、余额校验全部通过后才会提交；
// 任何拒绝都不会扣减预算。
func (g *GatewayService) Buy(ctx context.Context, inst *Instance, pairAddr string, amountEth float64) (*models.Trade, error) {
	if inst.Stopped() {
		return nil, ErrStrategyStopped
	}
	if amountEth <= 0 {
		return nil, fmt.Errorf("buy amount must be positive")
	}

	now := time.Now()
	if err := inst.CheckBuy(amountEth, now); err != nil {
		inst.Log(LogLevelError, err.Error())
		return nil, err
	}

	if !inst.Session.DryRun {
		if err := g.checkBuyBalance(ctx, inst, amountEth); err != nil {
			inst.Log(LogLevelError, err.Error())
			return nil, err
		}
	}

	var (
		settled Settled
		err     error
	)
	switch {
	case inst.Session.DryRun:
		settled, err = g.simulateBuy(ctx, inst, pairAddr, amountEth)
	case inst.Session.Mode == models.RunModeDelegate:
		settled, err = g.delegateBuy(ctx, inst, pairAddr, amountEth)
	default:
		settled, err = g.directBuy(ctx, inst, pairAddr, amountEth)
	}
	if err != nil {
		inst.Log(LogLevelError, fmt.Sprintf("buy %s failed: %v", pairAddr, err))
		return nil, err
	}

	trade, err := g.ledger.RecordBuy(ctx, inst, settled)
	if err != nil {
		return nil, err
	}
	inst.CommitBuy(amountEth, now)
	g.logTrade(inst, trade)
	return trade, nil
}

// Sell 卖出。只消耗交易笔数预算。
func (g *GatewayService) Sell(ctx context.Context, inst *Instance, pairAddr string, amountToken float64) (*models.Trade, error) {
	if inst.Stopped() {
		return nil, ErrStrategyStopped
	}
	if amountToken <= 0 {
		return nil, fmt.Errorf("sell amount must be positive")
	}

	now := time.Now()
	if err := inst.CheckSell(now); err != nil {
		inst.Log(LogLevelError, err.Error())
		return nil, err
	}

	var (
		settled Settled
		err     error
	)
	switch {
	case inst.Session.DryRun:
		settled, err = g.simulateSell(ctx, inst, pairAddr, amountToken)
	case inst.Session.Mode == models.RunModeDelegate:
		settled, err = g.delegateSell(ctx, inst, pairAddr, amountToken)
	default:
		settled, err = g.directSell(ctx, inst, pairAddr, amountToken)
	}
	if err != nil {
		inst.Log(LogLevelError, fmt.Sprintf("sell %s failed: %v", pairAddr, err))
		return nil, err
	}

	trade, err := g.ledger.RecordSell(ctx, inst, settled)
	if err != nil {
		return nil, err
	}
	inst.CommitSell()
	g.logTrade(inst, trade)
	return trade, nil
}

// checkBuyBalance 真实盘买入要求可查询余额覆盖买入额；
// 余额不足与预算耗尽是两种不同的拒绝原因
func (g *GatewayService) checkBuyBalance(ctx context.Context, inst *Instance, amountEth float64) error {
	var (
		balance *big.Int
		err     error
	)
	switch inst.Session.Mode {
	case models.RunModeDelegate:
		balance, err = inst.Session.Ledger.BalanceOf(ctx, inst.Session.User)
	default:
		balance, err = inst.Session.Client.EthBalance(ctx, inst.Session.User)
	}
	if err != nil {
		return fmt.Errorf("failed to query balance: %w", err)
	}
	if chain.WeiToEth(balance) < amountEth {
		return fmt.Errorf("%w: balance %.6f < amount %.6f", ErrInsufficientBalance, chain.WeiToEth(balance), amountEth)
	}
	return nil
}

// ---------- 模拟盘 ----------

// simulateBuy 模拟盘买入：不触链，使用确定性兑换率合成成交
func (g *GatewayService) simulateBuy(ctx context.Context, inst *Instance, pairAddr string, amountEth float64) (Settled, error) {
	flow, err := g.ledger.EthFlow(ctx, inst.Run.ID)
	if err == nil && inst.Run.InitialCapital > 0 && inst.Run.InitialCapital+flow < amountEth {
		return Settled{}, fmt.Errorf("%w: simulated balance %.6f < amount %.6f", ErrInsufficientBalance, inst.Run.InitialCapital+flow, amountEth)
	}

	inst.Log(LogLevelInfo, fmt.Sprintf("[dry-run] buy %.6f ETH on %s", amountEth, pairAddr))
	return Settled{
		Pair:        pairAddr,
		Token:       pairAddr,
		TxHash:      "sim-" + ulid.Make().String(),
		Status:      models.TradeStatusSimulated,
		AmountEth:   amountEth,
		AmountToken: amountEth * simTokensPerEth,
		At:          time.Now(),
	}, nil
}

// simulateSell 模拟盘卖出，最多卖出当前持仓
func (g *GatewayService) simulateSell(ctx context.Context, inst *Instance, pairAddr string, amountToken float64) (Settled, error) {
	position, err := g.ledger.PositionRepo.FindByRunAndPair(ctx, inst.Run.ID, pairAddr)
	if err != nil || position.TokenHeld < amountToken {
		return Settled{}, fmt.Errorf("%w: held %.6f < sell amount %.6f", ErrInsufficientBalance, position.TokenHeld, amountToken)
	}

	inst.Log(LogLevelInfo, fmt.Sprintf("[dry-run] sell %.6f tokens on %s", amountToken, pairAddr))
	return Settled{
		Pair:        pairAddr,
		Token:       position.Token,
		TxHash:      "sim-" + ulid.Make().String(),
		Status:      models.TradeStatusSimulated,
		AmountEth:   amountToken / simTokensPerEth,
		AmountToken: amountToken,
		At:          time.Now(),
	}, nil
}

// ---------- 委托路径 ----------

// delegateBuy 通过委托合约买入：恒定乘积报价扣除合约手续费后
// 按滑点容忍折算最小产出，串行闸门内提交并按失败类型重试
func (g *GatewayService) delegateBuy(ctx context.Context, inst *Instance, pairAddr string, amountEth float64) (Settled, error) {
	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := g.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return Settled{}, err
	}

	minOut, err := g.quoteBuy(ctx, inst, pair, amountEth)
	if err != nil {
		return Settled{}, err
	}

	settlement, err := g.submitDelegate(ctx, inst, func(minOut *big.Int) (*chain.Settlement, error) {
		return inst.Session.Ledger.ExecuteBuy(ctx, inst.Session.User, pair.Address(),
			chain.EthToWei(amountEth), minOut, time.Now().Add(txDeadline))
	}, minOut)
	if err != nil {
		return Settled{}, err
	}

	return Settled{
		Pair:        pairAddr,
		Token:       token.Hex(),
		TxHash:      settlement.TxHash,
		Status:      models.TradeStatusConfirmed,
		AmountEth:   chain.WeiToEth(settlement.AmountIn),
		AmountToken: chain.WeiToEth(settlement.AmountOut),
		Fee:         chain.WeiToEth(settlement.Fee),
		GasEth:      chain.WeiToEth(settlement.GasCost),
		At:          time.Now(),
	}, nil
}

// delegateSell 通过委托合约卖出
func (g *GatewayService) delegateSell(ctx context.Context, inst *Instance, pairAddr string, amountToken float64) (Settled, error) {
	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := g.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return Settled{}, err
	}

	minOut, err := g.quoteSell(ctx, inst, pair, amountToken)
	if err != nil {
		return Settled{}, err
	}

	settlement, err := g.submitDelegate(ctx, inst, func(minOut *big.Int) (*chain.Settlement, error) {
		return inst.Session.Ledger.ExecuteSell(ctx, inst.Session.User, pair.Address(),
			chain.EthToWei(amountToken), minOut, time.Now().Add(txDeadline))
	}, minOut)
	if err != nil {
		return Settled{}, err
	}

	return Settled{
		Pair:        pairAddr,
		Token:       token.Hex(),
		TxHash:      settlement.TxHash,
		Status:      models.TradeStatusConfirmed,
		AmountEth:   chain.WeiToEth(settlement.AmountOut),
		AmountToken: chain.WeiToEth(settlement.AmountIn),
		Fee:         chain.WeiToEth(settlement.Fee),
		GasEth:      chain.WeiToEth(settlement.GasCost),
		At:          time.Now(),
	}, nil
}

// submitDelegate 串行闸门内提交委托交易并分类重试：
// nonce 冲突立即重发（合约客户端每次重新读取 nonce），最多 4 次；
// 滑点回滚把最小产出减半重发，最多提交 5 次后放弃；其余错误直接上抛
func (g *GatewayService) submitDelegate(ctx context.Context, inst *Instance, submit func(minOut *big.Int) (*chain.Settlement, error), minOut *big.Int) (*chain.Settlement, error) {
	release, err := g.acquireGate(ctx, inst)
	if err != nil {
		return nil, err
	}
	defer release()

	nonceRetries := 0
	attempts := 0
	for {
		// 提交与重试前都检查停止标志
		if inst.Stopped() {
			return nil, ErrStrategyStopped
		}

		attempts++
		settlement, err := submit(minOut)
		if err == nil {
			return settlement, nil
		}

		switch {
		case chain.IsNonceConflict(err) && nonceRetries < maxNonceRetries:
			nonceRetries++
			inst.Log(LogLevelInfo, fmt.Sprintf("nonce conflict, resubmitting (%d/%d)", nonceRetries, maxNonceRetries))
			g.logger.Warn("nonce conflict, resubmitting", zap.Int("retry", nonceRetries), zap.Error(err))
		case chain.IsSlippageRevert(err):
			if attempts >= maxSlippageAttempts {
				inst.Log(LogLevelError, fmt.Sprintf("slippage retries exhausted after %d attempts", attempts))
				return nil, fmt.Errorf("%w: %v", ErrSlippageExhausted, err)
			}
			minOut = new(big.Int).Div(minOut, big.NewInt(2))
			inst.Log(LogLevelInfo, fmt.Sprintf("slippage exceeded, retrying with min output halved (attempt %d/%d)", attempts+1, maxSlippageAttempts))
			g.logger.Warn("slippage exceeded, halving min output", zap.Int("attempt", attempts), zap.Error(err))
		default:
			return nil, err
		}
	}
}

// acquireGate 获取操作员账户的串行闸门；同一键的写入先进先出排队
func (g *GatewayService) acquireGate(ctx context.Context, inst *Instance) (func(), error) {
	g.gateMu.Lock()
	gate, ok := g.gates[inst.Session.GateKey]
	if !ok {
		gate = make(chan struct{}, 1)
		g.gates[inst.Session.GateKey] = gate
	}
	g.gateMu.Unlock()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-inst.StopC():
		return nil, ErrStrategyStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---------- 直连路径 ----------

// directBuy 用户私钥直连买入。没有中间合约事件可读，
// 成交金额与 gas 通过前后余额采样推断。
func (g *GatewayService) directBuy(ctx context.Context, inst *Instance, pairAddr string, amountEth float64) (Settled, error) {
	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := g.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return Settled{}, err
	}

	minOut, err := g.quoteBuy(ctx, inst, pair, amountEth)
	if err != nil {
		return Settled{}, err
	}

	tokenBefore, err := inst.Session.Client.TokenBalance(ctx, token, inst.Session.User)
	if err != nil {
		return Settled{}, err
	}

	if inst.Stopped() {
		return Settled{}, ErrStrategyStopped
	}
	txHash, gasCost, err := pair.BuyDirect(ctx, inst.Session.UserKey, chain.EthToWei(amountEth), minOut)
	if err != nil {
		return Settled{}, err
	}

	tokenAfter, err := inst.Session.Client.TokenBalance(ctx, token, inst.Session.User)
	if err != nil {
		return Settled{}, err
	}

	received := new(big.Int).Sub(tokenAfter, tokenBefore)
	return Settled{
		Pair:        pairAddr,
		Token:       token.Hex(),
		TxHash:      txHash,
		Status:      models.TradeStatusConfirmed,
		AmountEth:   amountEth,
		AmountToken: chain.WeiToEth(received),
		GasEth:      chain.WeiToEth(gasCost),
		At:          time.Now(),
	}, nil
}

// directSell 用户私钥直连卖出
func (g *GatewayService) directSell(ctx context.Context, inst *Instance, pairAddr string, amountToken float64) (Settled, error) {
	pair := inst.Session.NewPair(common.HexToAddress(pairAddr))
	token, err := g.pairToken(ctx, inst, pairAddr, pair)
	if err != nil {
		return Settled{}, err
	}

	minOut, err := g.quoteSell(ctx, inst, pair, amountToken)
	if err != nil {
		return Settled{}, err
	}

	ethBefore, err := inst.Session.Client.EthBalance(ctx, inst.Session.User)
	if err != nil {
		return Settled{}, err
	}

	if inst.Stopped() {
		return Settled{}, ErrStrategyStopped
	}
	txHash, gasCost, err := pair.SellDirect(ctx, inst.Session.UserKey, chain.EthToWei(amountToken), minOut)
	if err != nil {
		return Settled{}, err
	}

	ethAfter, err := inst.Session.Client.EthBalance(ctx, inst.Session.User)
	if err != nil {
		return Settled{}, err
	}

	// 回收额 = 余额增量 + gas 支出
	proceeds := new(big.Int).Sub(ethAfter, ethBefore)
	proceeds.Add(proceeds, gasCost)
	return Settled{
		Pair:        pairAddr,
		Token:       token.Hex(),
		TxHash:      txHash,
		Status:      models.TradeStatusConfirmed,
		AmountEth:   chain.WeiToEth(proceeds),
		AmountToken: amountToken,
		GasEth:      chain.WeiToEth(gasCost),
		At:          time.Now(),
	}, nil
}

// ---------- 报价 ----------

// quoteBuy 恒定乘积近似报价：投入扣除合约手续费后换算产出，
// 再按滑点容忍折算为最小可接受产出
func (g *GatewayService) quoteBuy(ctx context.Context, inst *Instance, pair chain.Pair, amountEth float64) (*big.Int, error) {
	reserveEth, reserveToken, err := pair.Reserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read reserves: %w", err)
	}
	feeBps, err := g.ledgerFeeBps(ctx, inst)
	if err != nil {
		return nil, err
	}

	rE, rT := chain.WeiToEth(reserveEth), chain.WeiToEth(reserveToken)
	if rE <= 0 || rT <= 0 {
		return nil, fmt.Errorf("pair has no liquidity")
	}

	inNet := amountEth * (1 - float64(feeBps)/10000)
	out := rT * inNet / (rE + inNet)
	minOut := out * (1 - float64(inst.Limits.SlippageBps)/10000)
	return chain.EthToWei(minOut), nil
}

// quoteSell 卖出方向的恒定乘积报价，手续费在 ETH 产出侧扣除
func (g *GatewayService) quoteSell(ctx context.Context, inst *Instance, pair chain.Pair, amountToken float64) (*big.Int, error) {
	reserveEth, reserveToken, err := pair.Reserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read reserves: %w", err)
	}
	feeBps, err := g.ledgerFeeBps(ctx, inst)
	if err != nil {
		return nil, err
	}

	rE, rT := chain.WeiToEth(reserveEth), chain.WeiToEth(reserveToken)
	if rE <= 0 || rT <= 0 {
		return nil, fmt.Errorf("pair has no liquidity")
	}

	out := rE * amountToken / (rT + amountToken)
	outNet := out * (1 - float64(feeBps)/10000)
	minOut := outNet * (1 - float64(inst.Limits.SlippageBps)/10000)
	return chain.EthToWei(minOut), nil
}

// ledgerFeeBps 委托模式读合约手续费，直连模式没有中间抽成
func (g *GatewayService) ledgerFeeBps(ctx context.Context, inst *Instance) (int64, error) {
	if inst.Session.Mode != models.RunModeDelegate || inst.Session.Ledger == nil {
		return 0, nil
	}
	feeBps, err := inst.Session.Ledger.FeeBps(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger fee: %w", err)
	}
	return feeBps, nil
}

// pairToken 读取交易对的底层代币地址并缓存到实例
func (g *GatewayService) pairToken(ctx context.Context, inst *Instance, pairAddr string, pair chain.Pair) (common.Address, error) {
	if token, ok := inst.pairTokens[pairAddr]; ok {
		return token, nil
	}
	token, err := pair.Token(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read pair token: %w", err)
	}
	inst.pairTokens[pairAddr] = token
	return token, nil
}

// logTrade 成交写入策略日志并推送通知
func (g *GatewayService) logTrade(inst *Instance, trade *models.Trade) {
	msg := fmt.Sprintf("%s %s: %.6f ETH / %.6f tokens, pnl %.6f ETH (tx %s)",
		trade.Side, trade.Pair, trade.AmountEth, trade.AmountToken, trade.Pnl, trade.TxHash)
	inst.Log(LogLevelTrade, msg)
	g.logger.Info("trade settled",
		zap.String("strategy_id", inst.StrategyID),
		zap.String("run_id", inst.Run.ID),
		zap.String("side", trade.Side),
		zap.String("pair", trade.Pair),
		zap.Float64("amount_eth", trade.AmountEth),
		zap.Float64("pnl", trade.Pnl),
		zap.String("tx", trade.TxHash))

	if g.tg != nil {
		if err := g.tg.NotifyDefault(msg); err != nil {
			g.logger.Warn("failed to send telegram notification", zap.Error(err))
		}
	}
}
