package decision

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/llm"
	"AgentVault/pkg/logger"
)

// defaultInferenceTimeout 是推理调用的兜底超时。
const defaultInferenceTimeout = 15 * time.Second

// FallbackObserver 在推理失败回退到规则决策时收到通知，用于审计。
// 回退对调用方透明，观察者不得影响决策结果。
type FallbackObserver func(agentID string, cause error)

// InferenceSource 将外部推理后端包装为决策源。它组合（而非继承）一个
// 规则决策源：推理调用失败、超时或返回非法内容时，静默改用规则决策。
// 推理输出没有任何特权，与规则输出一样要经过 Validate。
type InferenceSource struct {
	client   llm.Client
	fallback *RuleSource
	timeout  time.Duration
	observer FallbackObserver
}

// InferenceOption 定义 InferenceSource 的可选配置。
type InferenceOption func(*InferenceSource)

// WithTimeout 覆盖推理调用的超时时间。
func WithTimeout(timeout time.Duration) InferenceOption {
	return func(s *InferenceSource) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithFallbackObserver 注册回退观察者。
func WithFallbackObserver(observer FallbackObserver) InferenceOption {
	return func(s *InferenceSource) {
		s.observer = observer
	}
}

// NewInferenceSource 构造推理决策源。fallback 不能为空。
func NewInferenceSource(client llm.Client, fallback *RuleSource, opts ...InferenceOption) *InferenceSource {
	s := &InferenceSource{
		client:   client,
		fallback: fallback,
		timeout:  defaultInferenceTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Decide 实现 Source。对调用方而言永远返回一个合法类型的决策：
// 推理路径的任何失败都转化为同一快照上的规则决策。
func (s *InferenceSource) Decide(ctx context.Context, snapshot Snapshot) (Decision, error) {
	proposal, err := s.infer(ctx, snapshot)
	if err == nil {
		return proposal, nil
	}

	logger.L().Warn("推理决策失败，回退到规则决策",
		slog.String("agent_id", snapshot.AgentID),
		slog.Uint64("cycle", snapshot.CycleNumber),
		slog.Any("error", err),
	)
	if s.observer != nil {
		s.observer(snapshot.AgentID, err)
	}
	return s.fallback.Decide(ctx, snapshot)
}

func (s *InferenceSource) infer(ctx context.Context, snapshot Snapshot) (Decision, error) {
	if s.client == nil {
		return Decision{}, xerrors.New(xerrors.CodeInferenceFailure, "未配置推理后端")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "序列化快照失败")
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Infer(inferCtx, payload)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return Decision{}, xerrors.Wrap(xerrors.CodeTimeout, err, "推理调用超时")
		}
		return Decision{}, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "推理调用失败")
	}

	var decoded struct {
		Action string  `json:"action"`
		Target string  `json:"target"`
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeInferenceFailure, err, "解析推理响应失败")
	}
	action := Action(strings.ToUpper(strings.TrimSpace(decoded.Action)))
	if action == "" {
		return Decision{}, xerrors.New(xerrors.CodeInferenceFailure, "推理响应缺少 action 字段")
	}

	reason := strings.TrimSpace(decoded.Reason)
	if reason == "" {
		reason = "inference proposal"
	}

	// 未知动作原样返回，由 Validate 统一替换为 IDLE。
	return Decision{
		Action: action,
		Target: strings.TrimSpace(decoded.Target),
		Amount: decoded.Amount,
		Reason: reason,
		Source: OriginInference,
	}, nil
}

var _ Source = (*InferenceSource)(nil)
