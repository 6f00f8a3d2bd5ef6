package agent

import (
	"context"

	"AgentVault/internal/decision"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/protocol"
	"AgentVault/internal/wallet"
)

// WalletResolver 按标识解析钱包句柄，钱包注册表实现了它。
type WalletResolver interface {
	Wallet(agentID string) (wallet.Wallet, bool)
}

// Executor 把校验后的决策翻译成对流动性协议的调用。
// 它假定输入已经过 Validate，不再重复安全检查。
type Executor struct {
	venue    protocol.Venue
	resolver WalletResolver
}

// NewExecutor 创建执行器。
func NewExecutor(venue protocol.Venue, resolver WalletResolver) *Executor {
	return &Executor{venue: venue, resolver: resolver}
}

// Execute 执行一个决策。IDLE 与零额 YIELD 不产生回执。
// peers 是当前同伴标识列表，仅 REBAL 使用。
func (e *Executor) Execute(ctx context.Context, self wallet.Wallet, d decision.Decision, peers []string) (*wallet.Receipt, error) {
	switch d.Action {
	case decision.ActionIdle:
		return nil, nil

	case decision.ActionTrade:
		target, ok := e.resolver.Wallet(d.Target)
		if !ok {
			return nil, xerrors.New(xerrors.CodeNotFound, "交易目标没有注册钱包",
				xerrors.WithMetadata("target", d.Target))
		}
		receipt, err := e.venue.ExecuteTrade(ctx, self, target.Identifier(), d.Amount)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "交易执行失败")
		}
		return receipt, nil

	case decision.ActionYield:
		receipt, err := e.venue.SimulateYield(ctx, self, d.Amount)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "收益结算失败")
		}
		return receipt, nil

	case decision.ActionRebalance:
		pool := make([]wallet.Wallet, 0, len(peers)+1)
		pool = append(pool, self)
		for _, peerID := range peers {
			if peer, ok := e.resolver.Wallet(peerID); ok {
				pool = append(pool, peer)
			}
		}
		if len(pool) < 2 {
			// 没有可参与的同伴，再平衡退化为空操作。
			return nil, nil
		}
		target, err := e.meanBalance(ctx, pool)
		if err != nil {
			return nil, err
		}
		if err := e.venue.RebalancePool(ctx, pool, target); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "再平衡执行失败")
		}
		return nil, nil

	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的动作: "+string(d.Action))
	}
}

// meanBalance 计算钱包池的平均余额，作为再平衡目标。
func (e *Executor) meanBalance(ctx context.Context, pool []wallet.Wallet) (float64, error) {
	var total float64
	for _, w := range pool {
		balance, err := w.Balance(ctx)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeWalletFailure, err, "读取余额失败",
				xerrors.WithMetadata("wallet", w.Identifier()))
		}
		total += balance
	}
	return total / float64(len(pool)), nil
}
