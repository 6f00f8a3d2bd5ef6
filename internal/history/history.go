// Package history persists the per-agent decision trail so operators can
// audit what each agent decided and executed across restarts.
package history

import (
	"context"
	"time"
)

// Record 是一条决策留痕。
type Record struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Cycle     uint64    `json:"cycle"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 定义决策留痕的存储能力。
type Store interface {
	// Append 追加一条留痕。
	Append(ctx context.Context, record Record) error
	// ListRecent 按时间倒序返回指定 agent 最近的留痕；
	// agentID 为空表示不过滤。
	ListRecent(ctx context.Context, agentID string, limit int) ([]Record, error)
	// Close 释放底层资源。
	Close() error
}
