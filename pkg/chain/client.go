package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// weiPerEth 1 ETH = 1e18 wei
var weiPerEth = new(big.Float).SetFloat64(1e18)

// Client 链上客户端，持有节点连接与 ABI
type Client struct {
	eth       *ethclient.Client
	chainID   *big.Int
	ledgerABI abi.ABI
	pairABI   abi.ABI
	erc20ABI  abi.ABI
}

// NewClient 连接 RPC 节点并解析内置 ABI
func NewClient(rpcURL string, chainID int64) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}

	ledgerABI, err := abi.JSON(strings.NewReader(LedgerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger abi: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	return &Client{
		eth:       eth,
		chainID:   big.NewInt(chainID),
		ledgerABI: ledgerABI,
		pairABI:   pairABI,
		erc20ABI:  erc20ABI,
	}, nil
}

// ParseKey 解析 hex 私钥
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// KeyAddress 私钥对应的地址
func KeyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// EthBalance 查询地址的 ETH 余额（wei）
func (c *Client) EthBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query eth balance: %w", err)
	}
	return balance, nil
}

// TokenBalance 查询地址的 ERC20 代币余额
func (c *Client) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	result, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("failed to query token balance: %w", err)
	}
	var balance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

// WeiToEth wei 转 ETH（float64，仅用于记账展示层）
func WeiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return f
}

// EthToWei ETH 转 wei
func EthToWei(eth float64) *big.Int {
	wei, _ := new(big.Float).Mul(new(big.Float).SetFloat64(eth), weiPerEth).Int(nil)
	return wei
}

// IsNonceConflict 判断是否为 nonce 冲突类错误
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "invalid nonce") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}

// IsSlippageRevert 判断是否为滑点超限回滚
func IsSlippageRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "slippage") ||
		strings.Contains(msg, "insufficient_output_amount") ||
		strings.Contains(msg, "insufficient output amount")
}

// call 执行只读合约调用
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, callMsg(to, data), nil)
}

// waitReceipt 轮询等待交易上链
func (c *Client) waitReceipt(ctx context.Context, txHash common.Hash) (*receiptResult, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
			return &receiptResult{receipt: receipt, gasCost: gasCost}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
