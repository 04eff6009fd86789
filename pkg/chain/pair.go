package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Pair 交易对接口：储备量报价与 direct 模式下的直连买卖
type Pair interface {
	Address() common.Address
	Reserves(ctx context.Context) (reserveEth, reserveToken *big.Int, err error)
	Token(ctx context.Context) (common.Address, error)

	// 直连写入使用用户自己的私钥；成交金额由调用方对比前后余额推断
	BuyDirect(ctx context.Context, key *ecdsa.PrivateKey, ethIn, minTokensOut *big.Int) (txHash string, gasCost *big.Int, err error)
	SellDirect(ctx context.Context, key *ecdsa.PrivateKey, tokenIn, minEthOut *big.Int) (txHash string, gasCost *big.Int, err error)
}

// PairClient 交易对合约客户端
type PairClient struct {
	client  *Client
	address common.Address
}

var _ Pair = (*PairClient)(nil)

// NewPairClient 创建交易对客户端
func NewPairClient(client *Client, address common.Address) *PairClient {
	return &PairClient{client: client, address: address}
}

// Address 交易对合约地址
func (p *PairClient) Address() common.Address {
	return p.address
}

// Reserves 读取当前储备量（ETH 侧、代币侧）
func (p *PairClient) Reserves(ctx context.Context) (*big.Int, *big.Int, error) {
	data, err := p.client.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack getReserves: %w", err)
	}
	result, err := p.client.call(ctx, p.address, data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call getReserves: %w", err)
	}
	values, err := p.client.pairABI.Unpack("getReserves", result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack getReserves: %w", err)
	}
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("unexpected getReserves shape: %d values", len(values))
	}
	return values[0].(*big.Int), values[1].(*big.Int), nil
}

// Token 读取交易对底层代币地址
func (p *PairClient) Token(ctx context.Context) (common.Address, error) {
	data, err := p.client.pairABI.Pack("token")
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack token: %w", err)
	}
	result, err := p.client.call(ctx, p.address, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to call token: %w", err)
	}
	var token common.Address
	if err := p.client.pairABI.UnpackIntoInterface(&token, "token", result); err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack token: %w", err)
	}
	return token, nil
}

// BuyDirect 直连买入，ETH 随交易转入
func (p *PairClient) BuyDirect(ctx context.Context, key *ecdsa.PrivateKey, ethIn, minTokensOut *big.Int) (string, *big.Int, error) {
	data, err := p.client.pairABI.Pack("buy", minTokensOut)
	if err != nil {
		return "", nil, fmt.Errorf("failed to pack buy: %w", err)
	}
	return p.submit(ctx, key, ethIn, data)
}

// SellDirect 直连卖出
func (p *PairClient) SellDirect(ctx context.Context, key *ecdsa.PrivateKey, tokenIn, minEthOut *big.Int) (string, *big.Int, error) {
	data, err := p.client.pairABI.Pack("sell", tokenIn, minEthOut)
	if err != nil {
		return "", nil, fmt.Errorf("failed to pack sell: %w", err)
	}
	return p.submit(ctx, key, big.NewInt(0), data)
}

func (p *PairClient) submit(ctx context.Context, key *ecdsa.PrivateKey, value *big.Int, data []byte) (string, *big.Int, error) {
	from := KeyAddress(key)

	nonce, err := p.client.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := p.client.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := p.client.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &p.address,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, p.address, value, gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(p.client.chainID), key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := p.client.eth.SendTransaction(ctx, signed); err != nil {
		return "", nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	mined, err := p.client.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return "", nil, err
	}
	if mined.receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", nil, fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), mined.gasCost, nil
}
