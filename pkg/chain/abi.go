package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LedgerABI 委托合约：代多个用户记账并执行买卖，收取自身手续费
const LedgerABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenBalanceOf","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"feeBps","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"executeBuy","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"pair","type":"address"},{"name":"ethIn","type":"uint256"},{"name":"minTokensOut","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"executeSell","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"pair","type":"address"},{"name":"tokenIn","type":"uint256"},{"name":"minEthOut","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"Executed","inputs":[{"name":"user","type":"address","indexed":true},{"name":"pair","type":"address","indexed":true},{"name":"isBuy","type":"bool","indexed":false},{"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false}]}
]`

// PairABI 交易对：储备量读取与直连买卖
const PairABI = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserveEth","type":"uint256"},{"name":"reserveToken","type":"uint256"}]},
	{"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"buy","stateMutability":"payable","inputs":[{"name":"minTokensOut","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"sell","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"uint256"},{"name":"minEthOut","type":"uint256"}],"outputs":[]}
]`

// ERC20ABI 仅包含用到的只读方法
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Settlement 一笔链上成交的实际结算结果
type Settlement struct {
	TxHash    string
	AmountIn  *big.Int // 实际投入（买入为 ETH，卖出为代币）
	AmountOut *big.Int // 实际获得（买入为代币，卖出为 ETH）
	Fee       *big.Int // 合约抽取的手续费（ETH 计）
	GasCost   *big.Int // Gas 成本（wei）
}

type receiptResult struct {
	receipt *types.Receipt
	gasCost *big.Int
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
