package config

type Config struct {
	Telegram  TelegramConf            `json:"telegram"`
	Runtime   RuntimeConf             `json:"runtime"`
	Risk      RiskConf                `json:"risk"`
	Exchanges map[string]ExchangeConf `json:"exchanges"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type RuntimeConf struct {
	MaxCodeBytes int `json:"max_code_bytes"` // 策略源码大小上限（字节），默认 131072
	LogBuffer    int `json:"log_buffer"`     // 每个策略保留的日志条数，默认 500
}

// RiskConf 风控预算，策略启动时快照一次，运行期间不变
type RiskConf struct {
	MaxEthPerTrade  float64 `json:"max_eth_per_trade"`  // 单笔最大买入（ETH）
	MaxEthPerRun    float64 `json:"max_eth_per_run"`    // 单次运行最大买入总额（ETH）
	MaxEthPerDay    float64 `json:"max_eth_per_day"`    // 单日（UTC）最大买入总额（ETH）
	MaxTradesPerRun int     `json:"max_trades_per_run"` // 单次运行最大交易笔数
	SlippageBps     int     `json:"slippage_bps"`       // 默认滑点容忍（基点，0-5000）
}

// Normalized 返回滑点钳制到 [0,5000] 后的快照
func (c RiskConf) Normalized() RiskConf {
	if c.SlippageBps < 0 {
		c.SlippageBps = 0
	}
	if c.SlippageBps > 5000 {
		c.SlippageBps = 5000
	}
	return c
}

// ExchangeConf 单个交易所（链上 DEX）的接入配置
type ExchangeConf struct {
	RPC            string            `json:"rpc"`             // 节点 RPC 地址
	ChainID        int64             `json:"chain_id"`        // 链 ID
	Ledger         string            `json:"ledger"`          // 委托合约地址
	OperatorKey    string            `json:"operator_key"`    // 委托模式下共享的操作员私钥（hex）
	UserKey        string            `json:"user_key"`        // direct 模式下用户私钥（hex）
	UserAddress    string            `json:"user_address"`    // 代为交易的用户地址
	Mode           string            `json:"mode"`            // delegate/direct
	DryRun         bool              `json:"dry_run"`         // true 时不触链，仅模拟成交
	InitialCapital float64           `json:"initial_capital"` // 新运行的初始资金（ETH）
	Pairs          map[string]string `json:"pairs"`           // 符号 -> 交易对合约地址
}
