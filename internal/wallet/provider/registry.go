// Package provider builds the wallet registry once at process start. The
// registry is passed by reference to every component that needs a wallet
// handle; nothing in the system reaches for ambient singletons.
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"AgentVault/internal/config"
	"AgentVault/internal/wallet"
	"AgentVault/internal/wallet/ethereum"
	"AgentVault/internal/wallet/memory"
)

// Registry manages the wallet handles keyed by agent identifier.
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]wallet.Wallet
	closers []func()
}

// NewRegistry instantiates wallets for every configured agent.
func NewRegistry(ctx context.Context, cfg config.WalletConfig, agentIDs []string) (*Registry, error) {
	reg := &Registry{wallets: make(map[string]wallet.Wallet)}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewRegistryWithBank(memory.NewBank(), cfg, agentIDs)
	case "ethereum":
		for _, def := range cfg.Ethereum {
			keyHex := os.Getenv(def.PrivateKeyEnv)
			if strings.TrimSpace(keyHex) == "" {
				reg.Close()
				return nil, fmt.Errorf("环境变量 %s 未提供钱包 %s 的私钥", def.PrivateKeyEnv, def.AgentID)
			}
			handle, err := ethereum.NewWallet(ctx, ethereum.Config{
				Name:          def.AgentID,
				RPCURL:        def.RPCURL,
				PrivateKeyHex: keyHex,
				ChainID:       def.ChainID,
			})
			if err != nil {
				reg.Close()
				return nil, fmt.Errorf("初始化钱包 %s 失败: %w", def.AgentID, err)
			}
			reg.wallets[def.AgentID] = handle
			reg.closers = append(reg.closers, handle.Close)
		}
	default:
		return nil, fmt.Errorf("未知的钱包驱动: %s", cfg.Driver)
	}

	if len(reg.wallets) == 0 {
		return nil, errors.New("未配置任何钱包")
	}
	return reg, nil
}

// NewRegistryWithBank opens a memory account per agent on the caller's bank.
// The caller keeps the bank reference, e.g. to credit simulated yield.
func NewRegistryWithBank(bank *memory.Bank, cfg config.WalletConfig, agentIDs []string) (*Registry, error) {
	if bank == nil {
		return nil, errors.New("内存银行不能为空")
	}
	reg := &Registry{wallets: make(map[string]wallet.Wallet)}
	for _, id := range agentIDs {
		handle, err := bank.Open(id, cfg.InitialBalance)
		if err != nil {
			return nil, fmt.Errorf("开立内存账户 %s 失败: %w", id, err)
		}
		reg.wallets[id] = handle
	}
	if len(reg.wallets) == 0 {
		return nil, errors.New("未配置任何钱包")
	}
	return reg, nil
}

// NewFromHandles wraps pre-built wallet handles, mainly for tests.
func NewFromHandles(handles map[string]wallet.Wallet) *Registry {
	wallets := make(map[string]wallet.Wallet, len(handles))
	for id, handle := range handles {
		wallets[id] = handle
	}
	return &Registry{wallets: wallets}
}

// Wallet returns the handle registered for the given agent.
func (r *Registry) Wallet(agentID string) (wallet.Wallet, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.wallets[agentID]
	return handle, ok
}

// AgentIDs returns the sorted identifiers of all registered wallets.
func (r *Registry) AgentIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.wallets))
	for id := range r.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases every wallet that holds external connections.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, closeFn := range r.closers {
		closeFn()
	}
	r.closers = nil
	r.wallets = map[string]wallet.Wallet{}
}
