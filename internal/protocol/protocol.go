// Package protocol defines the liquidity venue collaborator the action
// executor drives, plus an in-process simulated venue for tests and the sim
// profile.
package protocol

import (
	"context"

	"AgentVault/internal/wallet"
)

// Venue 定义了执行层依赖的流动性协议能力。
type Venue interface {
	// ExecuteTrade 从 from 钱包向目标标识转账成交。
	ExecuteTrade(ctx context.Context, from wallet.Wallet, toIdentifier string, amount float64) (*wallet.Receipt, error)
	// SimulateYield 为钱包结算一笔收益，无收益时返回 nil。
	SimulateYield(ctx context.Context, w wallet.Wallet, amount float64) (*wallet.Receipt, error)
	// RebalancePool 将一组钱包的余额向目标值靠拢。
	RebalancePool(ctx context.Context, wallets []wallet.Wallet, targetBalance float64) error
}
