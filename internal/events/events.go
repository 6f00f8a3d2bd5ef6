// Package events carries the lifecycle event stream the orchestrators emit:
// one flat record per decision, executed action, and cycle error, fanned out
// to in-process subscribers and optionally mirrored to an external sink.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type 标识事件种类。
type Type string

const (
	// TypeDecision 在每轮决策校验完成后发出。
	TypeDecision Type = "decision"
	// TypeAction 在动作执行成功后发出。
	TypeAction Type = "action"
	// TypeError 在循环出错时发出。
	TypeError Type = "error"
)

// Event 是编排器发出的扁平事件记录。不同类型只填各自相关的字段。
type Event struct {
	ID         string  `json:"id"`
	Type       Type    `json:"type"`
	AgentID    string  `json:"agent_id"`
	Cycle      uint64  `json:"cycle"`
	Balance    float64 `json:"balance"`
	PrevState  string  `json:"prev_state,omitempty"`
	NextState  string  `json:"next_state,omitempty"`
	Action     string  `json:"action,omitempty"`
	Target     string  `json:"target,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	Source     string  `json:"source,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	TxHash     string  `json:"tx_hash,omitempty"`
	Error      string  `json:"error,omitempty"`
	OccurredAt int64   `json:"occurred_at"`
}

// NewEvent 生成带 ID 和时间戳的事件骨架，调用方补齐业务字段。
func NewEvent(eventType Type, agentID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		AgentID:    agentID,
		OccurredAt: time.Now().Unix(),
	}
}
