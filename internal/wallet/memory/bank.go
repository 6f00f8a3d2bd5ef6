package memory

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/wallet"

	"github.com/google/uuid"
)

// Bank 在进程内维护一组账户，是仿真运行与测试使用的托管实现。
// 所有账户共享一把锁，转账在锁内完成借贷两侧的变更。
type Bank struct {
	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	balance float64
	secret  []byte
}

// NewBank 创建一个空的内存银行。
func NewBank() *Bank {
	return &Bank{accounts: make(map[string]*account)}
}

// Open 开立一个新账户并返回其钱包句柄。账户已存在时返回错误。
func (b *Bank) Open(id string, initial float64) (*Wallet, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "账户标识不能为空")
	}
	if initial < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "初始余额不能为负")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成账户密钥失败")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[id]; ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("账户 %s 已存在", id))
	}
	b.accounts[id] = &account{balance: initial, secret: secret}
	return &Wallet{bank: b, id: id}, nil
}

// Handle 返回已开立账户的钱包句柄。
func (b *Bank) Handle(id string) (*Wallet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[id]; !ok {
		return nil, false
	}
	return &Wallet{bank: b, id: id}, true
}

// Credit 直接向账户入账，用于仿真收益发放。
func (b *Bank) Credit(id string, amount float64) error {
	if amount < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "入账金额不能为负")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 不存在", id))
	}
	acct.balance += amount
	return nil
}

func (b *Bank) balance(id string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.accounts[id]
	if !ok {
		return 0, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 不存在", id))
	}
	return acct.balance, nil
}

func (b *Bank) transfer(from, to string, amount float64) (*wallet.Receipt, error) {
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须为正")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src, ok := b.accounts[from]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 不存在", from))
	}
	dst, ok := b.accounts[to]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 不存在", to))
	}
	if src.balance < amount {
		return nil, xerrors.New(xerrors.CodeWalletFailure, fmt.Sprintf("账户 %s 余额不足", from))
	}

	src.balance -= amount
	dst.balance += amount
	return &wallet.Receipt{
		TxHash:      uuid.NewString(),
		From:        from,
		To:          to,
		Amount:      amount,
		SubmittedAt: time.Now().Unix(),
	}, nil
}

func (b *Bank) sign(id string, intent wallet.TransferIntent) ([]byte, error) {
	b.mu.Lock()
	acct, ok := b.accounts[id]
	b.mu.Unlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("账户 %s 不存在", id))
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "编码转账意图失败")
	}
	mac := hmac.New(sha256.New, acct.secret)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Wallet 是内存银行中单个账户的句柄，实现 wallet.Wallet。
type Wallet struct {
	bank *Bank
	id   string
}

// Identifier 实现 wallet.Wallet。
func (w *Wallet) Identifier() string { return w.id }

// Balance 实现 wallet.Wallet。
func (w *Wallet) Balance(_ context.Context) (float64, error) {
	return w.bank.balance(w.id)
}

// Transfer 实现 wallet.Wallet。
func (w *Wallet) Transfer(_ context.Context, destination string, amount float64) (*wallet.Receipt, error) {
	return w.bank.transfer(w.id, destination, amount)
}

// PartialSign 在意图上追加本账户的 HMAC 签名。重复签名会覆盖同名键，
// 调用方据此获得按签名者去重的语义。
func (w *Wallet) PartialSign(_ context.Context, intent wallet.SignedIntent) (wallet.SignedIntent, error) {
	sig, err := w.bank.sign(w.id, intent.Intent)
	if err != nil {
		return intent, err
	}
	signed := intent.Clone()
	signed.Signatures[w.id] = sig
	return signed, nil
}

// Broadcast 将凑齐签名的意图落账。签名校验由多签协调器完成，
// 银行只负责余额变更。
func (w *Wallet) Broadcast(_ context.Context, intent wallet.SignedIntent) (*wallet.Receipt, error) {
	if len(intent.Signatures) == 0 {
		return nil, xerrors.New(xerrors.CodeBroadcastFailure, "签名为空的意图不能广播")
	}
	receipt, err := w.bank.transfer(intent.Intent.From, intent.Intent.To, intent.Intent.Amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBroadcastFailure, err, "内存银行落账失败")
	}
	return receipt, nil
}

var _ wallet.Wallet = (*Wallet)(nil)
