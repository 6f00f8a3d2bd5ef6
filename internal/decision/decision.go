package decision

import (
	"context"
	"fmt"
)

// Action 是决策的动作枚举。
type Action string

const (
	ActionIdle      Action = "IDLE"
	ActionTrade     Action = "TRADE"
	ActionYield     Action = "YIELD"
	ActionRebalance Action = "REBAL"
)

// KnownAction 检查动作是否为支持的枚举值。
func KnownAction(action Action) bool {
	switch action {
	case ActionIdle, ActionTrade, ActionYield, ActionRebalance:
		return true
	default:
		return false
	}
}

// Origin 标记决策由哪个来源产生。
type Origin string

const (
	OriginRule      Origin = "rule"
	OriginInference Origin = "inference"
)

// Decision 是一次决策循环的动作提案。校验阶段不会修改原值，
// 而是产出一个新的、被钳制过的 Decision。
type Decision struct {
	Action Action  `json:"action"`
	Target string  `json:"target,omitempty"`
	Amount float64 `json:"amount,omitempty"`
	Reason string  `json:"reason"`
	Source Origin  `json:"source"`
}

// Idle 构造一个带原因的 IDLE 决策。
func Idle(source Origin, reason string) Decision {
	return Decision{Action: ActionIdle, Reason: reason, Source: source}
}

// String 便于日志输出。
func (d Decision) String() string {
	switch d.Action {
	case ActionTrade:
		return fmt.Sprintf("TRADE %.6f -> %s (%s)", d.Amount, d.Target, d.Reason)
	case ActionYield:
		return fmt.Sprintf("YIELD %.6f (%s)", d.Amount, d.Reason)
	default:
		return fmt.Sprintf("%s (%s)", d.Action, d.Reason)
	}
}

// PeerBalance 是快照中单个同伴的余额视图。读取失败时 Balance 为 nil，
// 快照只保证尽力而为的一致性。
type PeerBalance struct {
	PeerID  string   `json:"peer_id"`
	Balance *float64 `json:"balance"`
}

// Snapshot 是决策源消费的只读状态包，每个循环重新构建，构建后不再修改。
type Snapshot struct {
	AgentID       string        `json:"agent_id"`
	Balance       float64       `json:"balance"`
	CycleNumber   uint64        `json:"cycle_number"`
	TradeCount    uint64        `json:"trade_count"`
	TotalVolume   float64       `json:"total_volume"`
	Peers         []PeerBalance `json:"peers"`
	MaxTradePerTx float64       `json:"max_trade_per_tx"`
}

// HasPeer 判断目标是否能解析到快照中的已知同伴。
func (s Snapshot) HasPeer(target string) bool {
	for _, peer := range s.Peers {
		if peer.PeerID == target {
			return true
		}
	}
	return false
}

// Limits 是安全校验与规则决策共用的硬性常量。
type Limits struct {
	MaxTradePerTx  float64
	BalanceFloor   float64
	TradeThreshold float64
	YieldRate      float64
}

// Source 是决策源能力：从快照产出一个未经校验的决策提案。
// 规则实现不会阻塞；推理实现可能在外部调用上挂起，须尊重 ctx。
type Source interface {
	Decide(ctx context.Context, snapshot Snapshot) (Decision, error)
}
