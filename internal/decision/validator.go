package decision

import "math"

// Validate 对决策提案施加硬性约束，返回钳制后的新决策。
// 规则与推理两条决策路径的输出都必须经过这里，且享有同等权限。
// 纯函数：相同输入永远得到相同输出。
//
// 规则按固定顺序应用：
//  1. 未知动作或非法金额 -> IDLE；
//  2. TRADE 金额超过单笔上限 -> 钳制到上限；
//  3. TRADE 扣款后跌破余额下限 -> 整体替换为 IDLE；
//  4. TRADE 目标无法解析为快照中的同伴 -> IDLE。
func Validate(d Decision, snapshot Snapshot, limits Limits) Decision {
	if !KnownAction(d.Action) {
		return Idle(d.Source, "invalid action")
	}
	if math.IsNaN(d.Amount) || math.IsInf(d.Amount, 0) || d.Amount < 0 {
		return Idle(d.Source, "invalid amount")
	}

	if d.Action != ActionTrade {
		return d
	}

	validated := d
	if validated.Amount > limits.MaxTradePerTx {
		validated.Amount = limits.MaxTradePerTx
	}
	if snapshot.Balance-validated.Amount < limits.BalanceFloor {
		return Idle(d.Source, "would breach balance floor")
	}
	if !snapshot.HasPeer(validated.Target) {
		return Idle(d.Source, "unresolvable trade target")
	}
	return validated
}
