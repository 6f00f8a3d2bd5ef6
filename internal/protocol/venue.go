package protocol

import (
	"context"
	"log/slog"
	"sort"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/wallet"
	"AgentVault/pkg/logger"

	"github.com/google/uuid"
)

// Crediter 是收益入账能力，内存银行实现了它。
type Crediter interface {
	Credit(id string, amount float64) error
}

// SimulatedVenue 是进程内的仿真撮合场所：交易即直接转账，
// 收益通过 Crediter 入账（未配置时仅生成回执），再平衡用贪心搬运。
type SimulatedVenue struct {
	crediter Crediter
}

// VenueOption 定义 SimulatedVenue 的可选配置。
type VenueOption func(*SimulatedVenue)

// WithCrediter 注入收益入账通道。
func WithCrediter(crediter Crediter) VenueOption {
	return func(v *SimulatedVenue) {
		v.crediter = crediter
	}
}

// NewSimulatedVenue 构造仿真场所。
func NewSimulatedVenue(opts ...VenueOption) *SimulatedVenue {
	v := &SimulatedVenue{}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// ExecuteTrade 实现 Venue：直接走钱包转账。
func (v *SimulatedVenue) ExecuteTrade(ctx context.Context, from wallet.Wallet, toIdentifier string, amount float64) (*wallet.Receipt, error) {
	if from == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易缺少出账钱包")
	}
	receipt, err := from.Transfer(ctx, toIdentifier, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "仿真交易失败")
	}
	return receipt, nil
}

// SimulateYield 实现 Venue。金额为零时视为无收益，返回 nil。
func (v *SimulatedVenue) SimulateYield(_ context.Context, w wallet.Wallet, amount float64) (*wallet.Receipt, error) {
	if w == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "收益结算缺少钱包")
	}
	if amount <= 0 {
		return nil, nil
	}
	if v.crediter != nil {
		if err := v.crediter.Credit(w.Identifier(), amount); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "收益入账失败")
		}
	}
	return &wallet.Receipt{
		TxHash:      uuid.NewString(),
		From:        "yield-pool",
		To:          w.Identifier(),
		Amount:      amount,
		SubmittedAt: time.Now().Unix(),
	}, nil
}

// RebalancePool 实现 Venue。贪心地让最大盈余方向最大缺口方搬运，
// 每一步都严格缩小最大盈余，钱包集合有限，因此必然终止；
// 但在余额高度倾斜时不保证搬运次数最优。
func (v *SimulatedVenue) RebalancePool(ctx context.Context, wallets []wallet.Wallet, targetBalance float64) error {
	if len(wallets) < 2 {
		return nil
	}

	type position struct {
		w       wallet.Wallet
		balance float64
	}
	positions := make([]position, 0, len(wallets))
	for _, w := range wallets {
		if w == nil {
			continue
		}
		balance, err := w.Balance(ctx)
		if err != nil {
			// 读不到余额的钱包不参与本轮再平衡。
			logger.L().Warn("再平衡跳过余额读取失败的钱包",
				slog.String("wallet", w.Identifier()),
				slog.Any("error", err),
			)
			continue
		}
		positions = append(positions, position{w: w, balance: balance})
	}
	if len(positions) < 2 {
		return nil
	}

	const tolerance = 1e-9

	donors := make([]position, 0, len(positions))
	receivers := make([]position, 0, len(positions))
	for _, p := range positions {
		switch {
		case p.balance > targetBalance+tolerance:
			donors = append(donors, p)
		case p.balance < targetBalance-tolerance:
			receivers = append(receivers, p)
		}
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].balance > donors[j].balance })
	sort.Slice(receivers, func(i, j int) bool { return receivers[i].balance < receivers[j].balance })

	di, ri := 0, 0
	for di < len(donors) && ri < len(receivers) {
		surplus := donors[di].balance - targetBalance
		deficit := targetBalance - receivers[ri].balance
		amount := surplus
		if deficit < amount {
			amount = deficit
		}
		if amount <= tolerance {
			break
		}

		if _, err := donors[di].w.Transfer(ctx, receivers[ri].w.Identifier(), amount); err != nil {
			return xerrors.Wrap(xerrors.CodeExecutorFailure, err, "再平衡转账失败")
		}
		donors[di].balance -= amount
		receivers[ri].balance += amount

		if donors[di].balance <= targetBalance+tolerance {
			di++
		}
		if receivers[ri].balance >= targetBalance-tolerance {
			ri++
		}
	}
	return nil
}

var _ Venue = (*SimulatedVenue)(nil)
