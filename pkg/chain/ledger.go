package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Ledger 委托合约接口，网关通过它代用户执行买卖
type Ledger interface {
	// 只读
	BalanceOf(ctx context.Context, user common.Address) (*big.Int, error)
	TokenBalanceOf(ctx context.Context, user, token common.Address) (*big.Int, error)
	FeeBps(ctx context.Context) (int64, error)

	// 写入，成交金额以合约事件为准
	ExecuteBuy(ctx context.Context, user, pair common.Address, ethIn, minTokensOut *big.Int, deadline time.Time) (*Settlement, error)
	ExecuteSell(ctx context.Context, user, pair common.Address, tokenIn, minEthOut *big.Int, deadline time.Time) (*Settlement, error)
}

// LedgerClient 委托合约客户端，使用共享的操作员私钥签名
type LedgerClient struct {
	client      *Client
	address     common.Address
	operatorKey *ecdsa.PrivateKey
}

var _ Ledger = (*LedgerClient)(nil)

// NewLedgerClient 创建委托合约客户端
func NewLedgerClient(client *Client, address common.Address, operatorKey *ecdsa.PrivateKey) *LedgerClient {
	return &LedgerClient{
		client:      client,
		address:     address,
		operatorKey: operatorKey,
	}
}

// BalanceOf 查询用户在合约中的 ETH 余额
func (l *LedgerClient) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	data, err := l.client.ledgerABI.Pack("balanceOf", user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	result, err := l.client.call(ctx, l.address, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	var balance *big.Int
	if err := l.client.ledgerABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	return balance, nil
}

// TokenBalanceOf 查询用户在合约中的代币余额
func (l *LedgerClient) TokenBalanceOf(ctx context.Context, user, token common.Address) (*big.Int, error) {
	data, err := l.client.ledgerABI.Pack("tokenBalanceOf", user, token)
	if err != nil {
		return nil, fmt.Errorf("failed to pack tokenBalanceOf: %w", err)
	}
	result, err := l.client.call(ctx, l.address, data)
	if err != nil {
		return nil, fmt.Errorf("failed to call tokenBalanceOf: %w", err)
	}
	var balance *big.Int
	if err := l.client.ledgerABI.UnpackIntoInterface(&balance, "tokenBalanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack tokenBalanceOf: %w", err)
	}
	return balance, nil
}

// FeeBps 查询合约当前的手续费基点
func (l *LedgerClient) FeeBps(ctx context.Context) (int64, error) {
	data, err := l.client.ledgerABI.Pack("feeBps")
	if err != nil {
		return 0, fmt.Errorf("failed to pack feeBps: %w", err)
	}
	result, err := l.client.call(ctx, l.address, data)
	if err != nil {
		return 0, fmt.Errorf("failed to call feeBps: %w", err)
	}
	var fee *big.Int
	if err := l.client.ledgerABI.UnpackIntoInterface(&fee, "feeBps", result); err != nil {
		return 0, fmt.Errorf("failed to unpack feeBps: %w", err)
	}
	return fee.Int64(), nil
}

// ExecuteBuy 代用户买入，成交金额从 Executed 事件读取
func (l *LedgerClient) ExecuteBuy(ctx context.Context, user, pair common.Address, ethIn, minTokensOut *big.Int, deadline time.Time) (*Settlement, error) {
	data, err := l.client.ledgerABI.Pack("executeBuy", user, pair, ethIn, minTokensOut, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeBuy: %w", err)
	}
	return l.submit(ctx, data)
}

// ExecuteSell 代用户卖出，成交金额从 Executed 事件读取
func (l *LedgerClient) ExecuteSell(ctx context.Context, user, pair common.Address, tokenIn, minEthOut *big.Int, deadline time.Time) (*Settlement, error) {
	data, err := l.client.ledgerABI.Pack("executeSell", user, pair, tokenIn, minEthOut, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeSell: %w", err)
	}
	return l.submit(ctx, data)
}

// submit 以操作员身份提交交易并等待上链
func (l *LedgerClient) submit(ctx context.Context, data []byte) (*Settlement, error) {
	from := KeyAddress(l.operatorKey)

	nonce, err := l.client.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := l.client.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := l.client.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &l.address,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, l.address, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(l.client.chainID), l.operatorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := l.client.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	mined, err := l.client.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if mined.receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}

	settlement, err := l.parseExecuted(mined.receipt.Logs)
	if err != nil {
		return nil, err
	}
	settlement.TxHash = signed.Hash().Hex()
	settlement.GasCost = mined.gasCost
	return settlement, nil
}

// parseExecuted 从回执日志中解析 Executed 事件；合约可能抽取自身手续费，
// 所以实际成交额必须读事件而不是假定等于请求值
func (l *LedgerClient) parseExecuted(logs []*ethtypes.Log) (*Settlement, error) {
	event := l.client.ledgerABI.Events["Executed"]
	for _, entry := range logs {
		if entry.Address != l.address || len(entry.Topics) == 0 || entry.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.NonIndexed().Unpack(entry.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Executed event: %w", err)
		}
		if len(values) != 4 {
			return nil, fmt.Errorf("unexpected Executed event shape: %d values", len(values))
		}
		return &Settlement{
			AmountIn:  values[1].(*big.Int),
			AmountOut: values[2].(*big.Int),
			Fee:       values[3].(*big.Int),
		}, nil
	}
	return nil, fmt.Errorf("Executed event not found in receipt")
}
