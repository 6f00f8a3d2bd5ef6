// Package multisig implements M-of-N transfer authorization: proposals
// accumulate partial signatures from authorized signers and only a proposal
// that reached its threshold can be broadcast, exactly once.
package multisig

import (
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/wallet"
)

// Status 表示提案的生命周期状态。
type Status string

const (
	// StatusPending 提案已创建，签名尚未凑齐。
	StatusPending Status = "PENDING"
	// StatusApproved 签名数达到门限，可以执行。
	StatusApproved Status = "APPROVED"
	// StatusExecuted 提案已广播上链，终态。
	StatusExecuted Status = "EXECUTED"
	// StatusRejected 提案被否决，终态。
	StatusRejected Status = "REJECTED"
)

// 多签模块专用错误码。
const (
	CodeProposalNotFound     xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeProposalInvalidState xerrors.Code = "PROPOSAL_INVALID_STATE"
	CodeSignerUnauthorized   xerrors.Code = "SIGNER_UNAUTHORIZED"
	CodeThresholdInvalid     xerrors.Code = "THRESHOLD_INVALID"
	CodeProposalNotApproved  xerrors.Code = "PROPOSAL_NOT_APPROVED"
	CodeProposalExecuted     xerrors.Code = "PROPOSAL_ALREADY_EXECUTED"
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:  "proposal not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeProposalInvalidState, xerrors.Attributes{
		Message:  "proposal state does not allow this operation",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSignerUnauthorized, xerrors.Attributes{
		Message:  "signer is not authorized for this proposal",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeThresholdInvalid, xerrors.Attributes{
		Message:  "signature threshold is invalid",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeProposalNotApproved, xerrors.Attributes{
		Message:  "proposal has not reached its signature threshold",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeProposalExecuted, xerrors.Attributes{
		Message:  "proposal was already executed",
		Severity: xerrors.SeverityWarning,
	})
}

// Proposal 是一个待授权的转账提案。RequiredSigners 为门限 M，
// AuthorizedSigners 为允许签名的 N 个身份。
type Proposal struct {
	ID                string              `json:"id"`
	ProposerID        string              `json:"proposer_id"`
	Description       string              `json:"description,omitempty"`
	RequiredSigners   int                 `json:"required_signers"`
	AuthorizedSigners []string            `json:"authorized_signers"`
	Status            Status              `json:"status"`
	Intent            wallet.SignedIntent `json:"intent"`
	CreatedAt         time.Time           `json:"created_at"`
	ExecutedAt        time.Time           `json:"executed_at,omitempty"`
	Result            *wallet.Receipt     `json:"result,omitempty"`
}

// SignerCount 返回已收集的签名数。
func (p *Proposal) SignerCount() int {
	if p == nil {
		return 0
	}
	return len(p.Intent.Signatures)
}

// HasSigned 判断指定签名者是否已经签过。
func (p *Proposal) HasSigned(signerID string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Intent.Signatures[signerID]
	return ok
}

// authorized 判断签名者是否在授权名单中。
func (p *Proposal) authorized(signerID string) bool {
	for _, id := range p.AuthorizedSigners {
		if id == signerID {
			return true
		}
	}
	return false
}

// snapshot 返回提案的深拷贝，供对外读取。
func (p *Proposal) snapshot() *Proposal {
	clone := *p
	clone.AuthorizedSigners = append([]string(nil), p.AuthorizedSigners...)
	clone.Intent = p.Intent.Clone()
	if p.Result != nil {
		result := *p.Result
		clone.Result = &result
	}
	return &clone
}
