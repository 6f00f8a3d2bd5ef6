package multisig

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/observability/alerting"
	"AgentVault/internal/wallet"
	"AgentVault/pkg/logger"

	"github.com/google/uuid"
)

// WalletResolver 按签名者标识解析钱包，钱包注册表实现了它。
type WalletResolver interface {
	Wallet(agentID string) (wallet.Wallet, bool)
}

// Coordinator 管理多签提案的创建、会签与执行。
// 单把粗粒度锁贯穿全部状态迁移，包括 Execute 的广播阶段，
// 以此保证同一提案绝不会被广播两次。
//
// TODO: 提案没有过期清理，长期运行的进程需要一个保留策略。
type Coordinator struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	resolver  WalletResolver
	alerts    alerting.Dispatcher
}

// CoordinatorOption 定义协调器的可选依赖。
type CoordinatorOption func(*Coordinator)

// WithAlertDispatcher 注入告警分发器，广播失败时通知运维渠道。
func WithAlertDispatcher(alerts alerting.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.alerts = alerts
	}
}

// NewCoordinator 创建协调器。
func NewCoordinator(resolver WalletResolver, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		proposals: make(map[string]*Proposal),
		resolver:  resolver,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CreateProposal 创建一个提案。授权名单 = 提案者 ∪ cosigners，
// 门限必须满足 1 <= M <= N。提案者的签名在创建时立即落下，
// 因此 M=1 的提案创建即 APPROVED。
func (c *Coordinator) CreateProposal(ctx context.Context, proposerID, to string, amount float64, description string, requiredSigners int, cosigners []string) (*Proposal, error) {
	if proposerID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提案缺少提案者")
	}
	if to == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提案缺少转账目标")
	}
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "提案金额必须为正数")
	}

	authorized := []string{proposerID}
	seen := map[string]struct{}{proposerID: {}}
	for _, id := range cosigners {
		if id == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "会签者标识不能为空")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		authorized = append(authorized, id)
	}
	if requiredSigners < 1 || requiredSigners > len(authorized) {
		return nil, xerrors.New(CodeThresholdInvalid, "",
			xerrors.WithMetadata("required", strconv.Itoa(requiredSigners)),
			xerrors.WithMetadata("authorized", strconv.Itoa(len(authorized))),
		)
	}

	proposerWallet, ok := c.resolver.Wallet(proposerID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "提案者没有注册钱包",
			xerrors.WithMetadata("proposer_id", proposerID))
	}

	intent := wallet.NewSignedIntent(proposerWallet.Identifier(), to, amount, description)
	signed, err := proposerWallet.PartialSign(ctx, intent)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "提案者预签名失败")
	}

	proposal := &Proposal{
		ID:                uuid.NewString(),
		ProposerID:        proposerID,
		Description:       description,
		RequiredSigners:   requiredSigners,
		AuthorizedSigners: authorized,
		Status:            StatusPending,
		Intent:            signed,
		CreatedAt:         time.Now(),
	}
	if proposal.SignerCount() >= requiredSigners {
		proposal.Status = StatusApproved
	}

	c.mu.Lock()
	c.proposals[proposal.ID] = proposal
	snapshot := proposal.snapshot()
	c.mu.Unlock()

	logger.Audit().Info("多签提案已创建",
		slog.String("proposal_id", proposal.ID),
		slog.String("proposer_id", proposerID),
		slog.String("to", to),
		slog.Float64("amount", amount),
		slog.Int("required_signers", requiredSigners),
		slog.Int("authorized_signers", len(authorized)),
		slog.String("status", string(snapshot.Status)),
	)
	return snapshot, nil
}

// CoSign 让授权签名者在提案上追加部分签名。重复会签是无害的幂等操作；
// 达到门限之后的追加会签同样被接受，只是不再触发状态迁移。
// 签名数首次达到门限的那一次会签把 PENDING 迁移到 APPROVED，且只迁移一次。
func (c *Coordinator) CoSign(ctx context.Context, proposalID, signerID string) (*Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proposal, ok := c.proposals[proposalID]
	if !ok {
		return nil, xerrors.New(CodeProposalNotFound, "",
			xerrors.WithMetadata("proposal_id", proposalID))
	}
	if !proposal.authorized(signerID) {
		logger.Audit().Warn("未授权的会签被拒绝",
			slog.String("proposal_id", proposalID),
			slog.String("signer_id", signerID),
		)
		return nil, xerrors.New(CodeSignerUnauthorized, "",
			xerrors.WithMetadata("proposal_id", proposalID),
			xerrors.WithMetadata("signer_id", signerID),
		)
	}
	// EXECUTED 和 REJECTED 是终态；APPROVED 仍可继续收签名。
	if proposal.Status != StatusPending && proposal.Status != StatusApproved {
		return nil, xerrors.New(CodeProposalInvalidState, "",
			xerrors.WithMetadata("proposal_id", proposalID),
			xerrors.WithMetadata("status", string(proposal.Status)),
		)
	}

	signerWallet, ok := c.resolver.Wallet(signerID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "签名者没有注册钱包",
			xerrors.WithMetadata("signer_id", signerID))
	}
	// 签名以钱包标识为键，重复会签直接返回当前快照。
	if proposal.HasSigned(signerWallet.Identifier()) {
		return proposal.snapshot(), nil
	}

	signed, err := signerWallet.PartialSign(ctx, proposal.Intent)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWalletFailure, err, "部分签名失败")
	}
	proposal.Intent = signed

	if proposal.Status == StatusPending && proposal.SignerCount() >= proposal.RequiredSigners {
		proposal.Status = StatusApproved
		logger.Audit().Info("多签提案已达到门限",
			slog.String("proposal_id", proposalID),
			slog.Int("signatures", proposal.SignerCount()),
			slog.Int("required", proposal.RequiredSigners),
		)
	} else {
		logger.Audit().Info("多签提案收到会签",
			slog.String("proposal_id", proposalID),
			slog.String("signer_id", signerID),
			slog.Int("signatures", proposal.SignerCount()),
			slog.Int("required", proposal.RequiredSigners),
		)
	}
	return proposal.snapshot(), nil
}

// Execute 广播一个 APPROVED 提案。锁贯穿广播全程：并发 Execute 中
// 只有一个能进入广播，其余要么看到 EXECUTED 要么等待结果。
// 广播失败时提案停留在 APPROVED，调用方可重试。
func (c *Coordinator) Execute(ctx context.Context, proposalID string) (*wallet.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proposal, ok := c.proposals[proposalID]
	if !ok {
		return nil, xerrors.New(CodeProposalNotFound, "",
			xerrors.WithMetadata("proposal_id", proposalID))
	}
	switch proposal.Status {
	case StatusApproved:
	case StatusExecuted:
		return nil, xerrors.New(CodeProposalExecuted, "",
			xerrors.WithMetadata("proposal_id", proposalID))
	default:
		return nil, xerrors.New(CodeProposalNotApproved, "",
			xerrors.WithMetadata("proposal_id", proposalID),
			xerrors.WithMetadata("status", string(proposal.Status)),
		)
	}

	proposerWallet, ok := c.resolver.Wallet(proposal.ProposerID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "提案者没有注册钱包",
			xerrors.WithMetadata("proposer_id", proposal.ProposerID))
	}

	receipt, err := proposerWallet.Broadcast(ctx, proposal.Intent)
	if err != nil {
		// 状态保持 APPROVED，允许重试。
		logger.Audit().Error("多签提案广播失败",
			slog.String("proposal_id", proposalID),
			slog.Any("error", err),
		)
		wrapped := xerrors.Wrap(xerrors.CodeBroadcastFailure, err, "提案广播失败",
			xerrors.WithMetadata("proposal_id", proposalID))
		if c.alerts != nil {
			event := alerting.FromError(wrapped, proposal.ProposerID)
			event.ProposalID = proposalID
			if alertErr := c.alerts.Notify(ctx, event); alertErr != nil {
				logger.L().Warn("发送广播失败告警失败", slog.Any("error", alertErr))
			}
		}
		return nil, wrapped
	}

	proposal.Status = StatusExecuted
	proposal.ExecutedAt = time.Now()
	proposal.Result = receipt

	logger.Audit().Info("多签提案已执行",
		slog.String("proposal_id", proposalID),
		slog.String("tx_hash", receipt.TxHash),
		slog.Float64("amount", receipt.Amount),
	)
	result := *receipt
	return &result, nil
}

// Reject 否决一个 PENDING 提案。只有授权签名者或提案者可以否决。
func (c *Coordinator) Reject(ctx context.Context, proposalID, signerID string) (*Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proposal, ok := c.proposals[proposalID]
	if !ok {
		return nil, xerrors.New(CodeProposalNotFound, "",
			xerrors.WithMetadata("proposal_id", proposalID))
	}
	if signerID != proposal.ProposerID && !proposal.authorized(signerID) {
		return nil, xerrors.New(CodeSignerUnauthorized, "",
			xerrors.WithMetadata("proposal_id", proposalID),
			xerrors.WithMetadata("signer_id", signerID),
		)
	}
	if proposal.Status != StatusPending {
		return nil, xerrors.New(CodeProposalInvalidState, "",
			xerrors.WithMetadata("proposal_id", proposalID),
			xerrors.WithMetadata("status", string(proposal.Status)),
		)
	}

	proposal.Status = StatusRejected
	logger.Audit().Info("多签提案已否决",
		slog.String("proposal_id", proposalID),
		slog.String("rejected_by", signerID),
	)
	return proposal.snapshot(), nil
}

// Get 返回提案的只读快照。
func (c *Coordinator) Get(proposalID string) (*Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proposal, ok := c.proposals[proposalID]
	if !ok {
		return nil, xerrors.New(CodeProposalNotFound, "",
			xerrors.WithMetadata("proposal_id", proposalID))
	}
	return proposal.snapshot(), nil
}

// List 返回全部提案快照，按创建时间升序。
func (c *Coordinator) List() []*Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Proposal, 0, len(c.proposals))
	for _, proposal := range c.proposals {
		out = append(out, proposal.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
