package wallet

import (
	"context"
	"time"
)

// Receipt 记录一次链上转账的结果。
type Receipt struct {
	TxHash      string  `json:"tx_hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	SubmittedAt int64   `json:"submitted_at"`
}

// TransferIntent 描述一笔尚未广播的转账意图，是多签流程的签名对象。
type TransferIntent struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// SignedIntent 在转账意图之上累积各方的部分签名。
// Signatures 以签名者标识为键；同一签名者最多出现一次。
type SignedIntent struct {
	Intent     TransferIntent    `json:"intent"`
	Signatures map[string][]byte `json:"signatures"`
}

// NewSignedIntent 构造一个尚未携带任何签名的签名载体。
func NewSignedIntent(from, to string, amount float64, description string) SignedIntent {
	return SignedIntent{
		Intent: TransferIntent{
			From:        from,
			To:          to,
			Amount:      amount,
			Description: description,
			CreatedAt:   time.Now().Unix(),
		},
		Signatures: make(map[string][]byte),
	}
}

// Clone 返回签名载体的深拷贝，避免调用方持有内部 map。
func (s SignedIntent) Clone() SignedIntent {
	clone := s
	clone.Signatures = make(map[string][]byte, len(s.Signatures))
	for signer, sig := range s.Signatures {
		copied := make([]byte, len(sig))
		copy(copied, sig)
		clone.Signatures[signer] = copied
	}
	return clone
}

// Wallet 定义了资金托管方必须提供的能力。实现负责密钥与链路，
// 上层只依赖该接口完成余额读取、转账、部分签名与广播。
type Wallet interface {
	// Identifier 返回钱包的稳定标识（地址或账户名）。
	Identifier() string
	// Balance 返回当前余额，单位为链的原生计量单位。
	Balance(ctx context.Context) (float64, error)
	// Transfer 直接向目标地址转账并返回回执。
	Transfer(ctx context.Context, destination string, amount float64) (*Receipt, error)
	// PartialSign 在签名载体上追加本钱包的签名并返回新的载体。
	PartialSign(ctx context.Context, intent SignedIntent) (SignedIntent, error)
	// Broadcast 将凑齐签名的意图广播上链。
	Broadcast(ctx context.Context, intent SignedIntent) (*Receipt, error)
}
