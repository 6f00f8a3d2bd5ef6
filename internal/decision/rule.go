package decision

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RuleSource 是确定性的优先级阶梯决策源。规则按固定顺序求值，
// 第一条命中的规则直接胜出，不做打分。
type RuleSource struct {
	limits Limits

	mu  sync.Mutex
	rng *rand.Rand
}

// RuleOption 定义 RuleSource 的可选配置。
type RuleOption func(*RuleSource)

// WithRand 注入随机数发生器，测试可借此固定种子。
func WithRand(rng *rand.Rand) RuleOption {
	return func(s *RuleSource) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// NewRuleSource 构造规则决策源。
func NewRuleSource(limits Limits, opts ...RuleOption) *RuleSource {
	s := &RuleSource{limits: limits}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Decide 实现 Source。规则源从不挂起，ctx 仅为满足接口契约。
func (s *RuleSource) Decide(_ context.Context, snapshot Snapshot) (Decision, error) {
	// 1. 余额跌破下限：任何动作都不安全。
	if snapshot.Balance < s.limits.BalanceFloor {
		return Idle(OriginRule, "too low to act safely"), nil
	}

	// 2. 周期性收益结算。
	if snapshot.CycleNumber%7 == 0 {
		return Decision{
			Action: ActionYield,
			Amount: snapshot.Balance * s.limits.YieldRate,
			Reason: fmt.Sprintf("yield cycle %d", snapshot.CycleNumber),
			Source: OriginRule,
		}, nil
	}

	// 3. 周期性再平衡，需要至少一个同伴。
	if snapshot.CycleNumber%12 == 0 && len(snapshot.Peers) > 0 {
		return Decision{
			Action: ActionRebalance,
			Reason: fmt.Sprintf("rebalance cycle %d", snapshot.CycleNumber),
			Source: OriginRule,
		}, nil
	}

	// 4. 余额充裕时随机小额交易。
	if len(snapshot.Peers) > 0 && snapshot.Balance > s.limits.TradeThreshold {
		maxTrade := s.maxTradePerTx(snapshot)
		ceiling := snapshot.Balance * 0.1
		if maxTrade < ceiling {
			ceiling = maxTrade
		}

		s.mu.Lock()
		peer := snapshot.Peers[s.rng.Intn(len(snapshot.Peers))]
		amount := s.rng.Float64() * ceiling
		s.mu.Unlock()

		return Decision{
			Action: ActionTrade,
			Target: peer.PeerID,
			Amount: amount,
			Reason: fmt.Sprintf("balance %.6f above trade threshold", snapshot.Balance),
			Source: OriginRule,
		}, nil
	}

	// 5. 无规则命中。
	return Idle(OriginRule, "no rule matched"), nil
}

func (s *RuleSource) maxTradePerTx(snapshot Snapshot) float64 {
	if snapshot.MaxTradePerTx > 0 {
		return snapshot.MaxTradePerTx
	}
	return s.limits.MaxTradePerTx
}

var _ Source = (*RuleSource)(nil)
