package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AgentVault/internal/decision"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/events"
	"AgentVault/internal/history"
	"AgentVault/internal/observability/alerting"
	"AgentVault/internal/wallet"
	"AgentVault/pkg/logger"
)

// State 是编排器的有限状态，取值与动作枚举一致。
// 出错的循环会把状态强制拉回 IDLE。
type State string

const (
	StateIdle      State = "IDLE"
	StateTrade     State = "TRADE"
	StateYield     State = "YIELD"
	StateRebalance State = "REBAL"
)

// defaultCycleInterval 是未配置时的决策循环间隔。
const defaultCycleInterval = 10 * time.Second

// Runtime 是编排器运行状态的只读快照。
type Runtime struct {
	AgentID     string  `json:"agent_id"`
	State       State   `json:"state"`
	CycleCount  uint64  `json:"cycle_count"`
	TradeCount  uint64  `json:"trade_count"`
	TotalVolume float64 `json:"total_volume"`
	Running     bool    `json:"running"`
}

// Orchestrator 驱动单个 agent 的决策循环。所有循环在同一个
// goroutine 中串行执行：上一轮未结束时，下一轮只会延后，不会并发。
type Orchestrator struct {
	agentID  string
	source   decision.Source
	executor *Executor
	resolver WalletResolver
	limits   decision.Limits
	bus      events.Publisher
	store    history.Store
	alerts   alerting.Dispatcher

	mu      sync.Mutex
	self    wallet.Wallet
	peers   []string
	runtime Runtime

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	log *slog.Logger
}

// OrchestratorOption 定义编排器的可选依赖。
type OrchestratorOption func(*Orchestrator)

// WithEventPublisher 注入事件发布端。
func WithEventPublisher(bus events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithHistoryStore 注入决策留痕存储。
func WithHistoryStore(store history.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithAlertDispatcher 注入告警分发器。
func WithAlertDispatcher(alerts alerting.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.alerts = alerts
	}
}

// NewOrchestrator 创建编排器。创建即完成初始化：
// agent 必须在注册表中已有钱包，否则返回初始化失败。
func NewOrchestrator(agentID string, resolver WalletResolver, source decision.Source, executor *Executor, limits decision.Limits, opts ...OrchestratorOption) (*Orchestrator, error) {
	if agentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 标识不能为空")
	}
	if source == nil || executor == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少决策源或执行器")
	}
	self, ok := resolver.Wallet(agentID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "agent 没有注册钱包",
			xerrors.WithMetadata("agent_id", agentID))
	}

	o := &Orchestrator{
		agentID:  agentID,
		source:   source,
		executor: executor,
		resolver: resolver,
		limits:   limits,
		self:     self,
		runtime: Runtime{
			AgentID: agentID,
			State:   StateIdle,
		},
		log: logger.Named("agent").With(slog.String("agent_id", agentID)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// SetPeers 热替换同伴列表，下一轮循环立即生效。
func (o *Orchestrator) SetPeers(peers []string) {
	cleaned := make([]string, 0, len(peers))
	for _, id := range peers {
		if id != "" && id != o.agentID {
			cleaned = append(cleaned, id)
		}
	}
	o.mu.Lock()
	o.peers = cleaned
	o.mu.Unlock()
}

// Status 返回运行状态快照。
func (o *Orchestrator) Status() Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runtime
}

// Start 启动决策循环。重复调用是无害的空操作。
// 启动后先立刻执行一轮，再按 interval 周期推进。
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCycleInterval
	}

	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.cancel != nil {
		return
	}

	stopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	o.mu.Lock()
	o.runtime.Running = true
	o.mu.Unlock()

	go o.loop(ctx, stopCtx, interval, o.done)
	o.log.Info("决策循环已启动", slog.Duration("interval", interval))
}

// Stop 停止决策循环并等待进行中的一轮完成。重复调用是无害的空操作。
// 取消只作用于调度：进行中的一轮跑在 Start 传入的 ctx 上，不会被打断。
func (o *Orchestrator) Stop() {
	o.loopMu.Lock()
	cancel := o.cancel
	done := o.done
	o.cancel = nil
	o.done = nil
	o.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	o.mu.Lock()
	o.runtime.Running = false
	o.mu.Unlock()
	o.log.Info("决策循环已停止")
}

// loop 串行推进决策循环。ticker 只缓冲一个滞后信号，
// 慢循环导致的超时节拍被顺延执行，不会并发也不会成批补跑。
// 循环本体跑在 cycleCtx 上；stopCtx 只决定是否调度下一轮。
func (o *Orchestrator) loop(cycleCtx, stopCtx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.runCycle(cycleCtx)
	for {
		select {
		case <-stopCtx.Done():
			return
		case <-ticker.C:
			if stopCtx.Err() != nil {
				return
			}
			o.runCycle(cycleCtx)
		}
	}
}

// runCycle 执行一轮完整的决策循环。任何失败都把状态拉回 IDLE
// 并发出错误事件，循环本身继续存活。
func (o *Orchestrator) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	o.runtime.CycleCount++
	cycle := o.runtime.CycleCount
	prevState := o.runtime.State
	peers := append([]string(nil), o.peers...)
	runtime := o.runtime
	o.mu.Unlock()

	snapshot, err := o.buildSnapshot(ctx, cycle, runtime, peers)
	if err != nil {
		o.failCycle(ctx, cycle, prevState, 0, err)
		return
	}

	proposal, err := o.source.Decide(ctx, snapshot)
	if err != nil {
		o.failCycle(ctx, cycle, prevState, snapshot.Balance, err)
		return
	}
	validated := decision.Validate(proposal, snapshot, o.limits)
	if validated.Action != proposal.Action || validated.Amount != proposal.Amount {
		o.log.Info("决策被安全校验修正",
			slog.String("proposed", proposal.String()),
			slog.String("validated", validated.String()),
		)
	}

	o.publishDecision(cycle, prevState, State(validated.Action), snapshot.Balance, validated)

	receipt, err := o.executor.Execute(ctx, o.self, validated, peers)
	if err != nil {
		o.failCycle(ctx, cycle, prevState, snapshot.Balance, err)
		return
	}

	nextState := State(validated.Action)
	o.mu.Lock()
	o.runtime.State = nextState
	if validated.Action == decision.ActionTrade {
		o.runtime.TradeCount++
		o.runtime.TotalVolume += validated.Amount
	}
	o.mu.Unlock()

	o.publishAction(cycle, prevState, nextState, snapshot.Balance, validated, receipt)
	o.appendHistory(ctx, cycle, validated, receipt)

	o.log.Info("决策循环完成",
		slog.Uint64("cycle", cycle),
		slog.String("decision", validated.String()),
		slog.String("state", string(nextState)),
	)
}

// buildSnapshot 构建本轮的只读快照。同伴余额读取失败记为 nil，
// 不中断本轮决策。
func (o *Orchestrator) buildSnapshot(ctx context.Context, cycle uint64, runtime Runtime, peers []string) (decision.Snapshot, error) {
	balance, err := o.self.Balance(ctx)
	if err != nil {
		return decision.Snapshot{}, xerrors.Wrap(xerrors.CodeWalletFailure, err, "读取自身余额失败")
	}

	peerBalances := make([]decision.PeerBalance, 0, len(peers))
	for _, peerID := range peers {
		peer, ok := o.resolver.Wallet(peerID)
		if !ok {
			continue
		}
		view := decision.PeerBalance{PeerID: peerID}
		if peerBalance, err := peer.Balance(ctx); err == nil {
			view.Balance = &peerBalance
		} else {
			o.log.Warn("读取同伴余额失败",
				slog.String("peer_id", peerID),
				slog.Any("error", err),
			)
		}
		peerBalances = append(peerBalances, view)
	}

	return decision.Snapshot{
		AgentID:       o.agentID,
		Balance:       balance,
		CycleNumber:   cycle,
		TradeCount:    runtime.TradeCount,
		TotalVolume:   runtime.TotalVolume,
		Peers:         peerBalances,
		MaxTradePerTx: o.limits.MaxTradePerTx,
	}, nil
}

// failCycle 统一处理循环失败：状态回 IDLE、发错误事件、按需告警。
func (o *Orchestrator) failCycle(ctx context.Context, cycle uint64, prevState State, balance float64, err error) {
	o.mu.Lock()
	o.runtime.State = StateIdle
	o.mu.Unlock()

	o.log.Error("决策循环失败",
		slog.Uint64("cycle", cycle),
		slog.Any("error", err),
	)

	if o.bus != nil {
		event := events.NewEvent(events.TypeError, o.agentID)
		event.Cycle = cycle
		event.Balance = balance
		event.PrevState = string(prevState)
		event.NextState = string(StateIdle)
		event.Error = err.Error()
		o.bus.Publish(event)
	}

	if o.alerts != nil && xerrors.ShouldAlert(err) {
		if alertErr := o.alerts.Notify(ctx, alerting.FromError(err, o.agentID)); alertErr != nil {
			o.log.Warn("发送告警失败", slog.Any("error", alertErr))
		}
	}
}

func (o *Orchestrator) publishDecision(cycle uint64, prevState, nextState State, balance float64, d decision.Decision) {
	if o.bus == nil {
		return
	}
	event := events.NewEvent(events.TypeDecision, o.agentID)
	event.Cycle = cycle
	event.Balance = balance
	event.PrevState = string(prevState)
	event.NextState = string(nextState)
	event.Action = string(d.Action)
	event.Target = d.Target
	event.Amount = d.Amount
	event.Source = string(d.Source)
	event.Reason = d.Reason
	o.bus.Publish(event)
}

func (o *Orchestrator) publishAction(cycle uint64, prevState, nextState State, balance float64, d decision.Decision, receipt *wallet.Receipt) {
	if o.bus == nil {
		return
	}
	event := events.NewEvent(events.TypeAction, o.agentID)
	event.Cycle = cycle
	event.Balance = balance
	event.PrevState = string(prevState)
	event.NextState = string(nextState)
	event.Action = string(d.Action)
	event.Target = d.Target
	event.Amount = d.Amount
	event.Source = string(d.Source)
	event.Reason = d.Reason
	if receipt != nil {
		event.TxHash = receipt.TxHash
	}
	o.bus.Publish(event)
}

// appendHistory 尽力写入留痕，失败只记日志，不影响循环。
func (o *Orchestrator) appendHistory(ctx context.Context, cycle uint64, d decision.Decision, receipt *wallet.Receipt) {
	if o.store == nil {
		return
	}
	record := history.Record{
		AgentID:   o.agentID,
		Cycle:     cycle,
		Action:    string(d.Action),
		Target:    d.Target,
		Amount:    d.Amount,
		Source:    string(d.Source),
		Reason:    d.Reason,
		CreatedAt: time.Now(),
	}
	if receipt != nil {
		record.TxHash = receipt.TxHash
	}
	if err := o.store.Append(ctx, record); err != nil {
		o.log.Warn("写入决策留痕失败", slog.Any("error", err))
	}
}
