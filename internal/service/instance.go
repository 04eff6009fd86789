package service

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dushixiang/strata/internal/config"
	"github.com/dushixiang/strata/internal/models"
	"github.com/dushixiang/strata/pkg/chain"
	"github.com/ethereum/go-ethereum/common"
)

// 日志级别
const (
	LogLevelInfo  = "info"
	LogLevelError = "error"
	LogLevelTrade = "trade"
)

// LogEntry 策略日志缓冲中的一条记录
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// logBuffer 有界滚动日志，写满后淘汰最旧的记录；停止后仍保留供查询
type logBuffer struct {
	mu      sync.Mutex
	limit   int
	entries []LogEntry
}

func newLogBuffer(limit int) *logBuffer {
	if limit <= 0 {
		limit = 500
	}
	return &logBuffer{limit: limit}
}

func (b *logBuffer) Append(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, LogEntry{At: time.Now(), Level: level, Message: message})
	if len(b.entries) > b.limit {
		b.entries = b.entries[len(b.entries)-b.limit:]
	}
}

func (b *logBuffer) Snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Session 一次运行的链上交易会话。dry run 模式下链上字段为空。
type Session struct {
	Mode   string // delegate/direct
	DryRun bool

	User    common.Address
	UserKey *ecdsa.PrivateKey // direct 模式使用

	Ledger  chain.Ledger                         // delegate 模式的委托合约
	NewPair func(addr common.Address) chain.Pair // 交易对客户端工厂
	Client  *chain.Client                        // direct 模式的余额采样

	// 共享操作员账户的串行化键：同一键的链上写入全局排队
	GateKey string
}

// Instance 一个正在运行的策略实例，仅存在于内存
type Instance struct {
	StrategyID string
	Run        *models.Run
	Exchange   config.ExchangeConf
	Limits     config.RiskConf
	Session    *Session

	logs *logBuffer

	mu            sync.Mutex
	ticks         int
	nextIdx       int
	cumulativePnl float64
	budget        budgetState

	// tick 内状态，仅由 tick goroutine 访问
	program      *goja.Program
	codeHash     [sha256.Size]byte
	pairTokens   map[string]common.Address // 交易对地址 -> 代币地址缓存
	lastSchedule any                       // 本 tick 最后一次 schedule() 调用，最后一次生效
	scheduled    bool

	stopOnce sync.Once
	stopC    chan struct{}
}

// NewInstance 创建运行实例
func NewInstance(strategyID string, run *models.Run, exchange config.ExchangeConf, limits config.RiskConf, session *Session, logLimit int) *Instance {
	return &Instance{
		StrategyID: strategyID,
		Run:        run,
		Exchange:   exchange,
		Limits:     limits.Normalized(),
		Session:    session,
		logs:       newLogBuffer(logLimit),
		pairTokens: make(map[string]common.Address),
		stopC:      make(chan struct{}),
		budget:     budgetState{dayKey: utcDayKey(time.Now())},
	}
}

// Stop 置停止标志并唤醒正在等待的 tick
func (i *Instance) Stop() {
	i.stopOnce.Do(func() {
		close(i.stopC)
	})
}

// Stopped 是否已请求停止；能力对象的每次调用边界都会检查
func (i *Instance) Stopped() bool {
	select {
	case <-i.stopC:
		return true
	default:
		return false
	}
}

// StopC 停止信号
func (i *Instance) StopC() <-chan struct{} {
	return i.stopC
}

// Log 追加一条策略日志
func (i *Instance) Log(level, message string) {
	i.logs.Append(level, message)
}

// Logs 当前日志快照
func (i *Instance) Logs() []LogEntry {
	return i.logs.Snapshot()
}

// LogsBuffer 日志缓冲本体，停止后由生命周期管理器保留
func (i *Instance) LogsBuffer() *logBuffer {
	return i.logs
}

// Ticks 已执行的 tick 次数
func (i *Instance) Ticks() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ticks
}

func (i *Instance) bumpTick() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ticks++
	return i.ticks
}

// NextIdx 下一条交易记录的序号
func (i *Instance) NextIdx() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.nextIdx
}

// SetNextIdx 启动恢复或序号冲突重试后矫正
func (i *Instance) SetNextIdx(idx int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextIdx = idx
}

// CumulativePnl 当前累计已实现盈亏
func (i *Instance) CumulativePnl() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cumulativePnl
}

// SetCumulativePnl 启动时从历史恢复
func (i *Instance) SetCumulativePnl(v float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cumulativePnl = v
}

func utcDayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
