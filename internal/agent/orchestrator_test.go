package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"AgentVault/internal/decision"
	"AgentVault/internal/events"
	"AgentVault/internal/history"
	"AgentVault/internal/protocol"
	"AgentVault/internal/wallet"
	"AgentVault/internal/wallet/memory"
)

var orchestratorLimits = decision.Limits{
	MaxTradePerTx:  0.01,
	BalanceFloor:   0.003,
	TradeThreshold: 0.02,
	YieldRate:      0.001,
}

type bankResolver struct {
	bank *memory.Bank
}

func (r *bankResolver) Wallet(agentID string) (wallet.Wallet, bool) {
	return r.bank.Handle(agentID)
}

// scriptedSource 按脚本逐轮吐出决策，脚本耗尽后一直 IDLE。
type scriptedSource struct {
	decisions []decision.Decision
	index     atomic.Int64
	snapshots chan decision.Snapshot
}

func (s *scriptedSource) Decide(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
	if s.snapshots != nil {
		select {
		case s.snapshots <- snapshot:
		default:
		}
	}
	i := int(s.index.Add(1)) - 1
	if i < len(s.decisions) {
		return s.decisions[i], nil
	}
	return decision.Idle(decision.OriginRule, "script exhausted"), nil
}

type failingSource struct{}

func (failingSource) Decide(context.Context, decision.Snapshot) (decision.Decision, error) {
	return decision.Decision{}, errors.New("decision backend down")
}

// slowSource 在决策中停留一段时间，并记录并发进入的最大深度。
type slowSource struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxDepth atomic.Int32
}

func (s *slowSource) Decide(ctx context.Context, _ decision.Snapshot) (decision.Decision, error) {
	depth := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		current := s.maxDepth.Load()
		if depth <= current || s.maxDepth.CompareAndSwap(current, depth) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return decision.Idle(decision.OriginRule, "slow"), nil
}

func newTestHarness(t *testing.T, source decision.Source) (*Orchestrator, *events.Bus, *memory.Bank) {
	t.Helper()
	bank := memory.NewBank()
	for _, id := range []string{"agent-1", "agent-2"} {
		if _, err := bank.Open(id, 1.0); err != nil {
			t.Fatalf("failed to open account %s: %v", id, err)
		}
	}
	resolver := &bankResolver{bank: bank}
	venue := protocol.NewSimulatedVenue(protocol.WithCrediter(bank))
	executor := NewExecutor(venue, resolver)
	bus := events.NewBus()

	o, err := NewOrchestrator("agent-1", resolver, source, executor, orchestratorLimits,
		WithEventPublisher(bus),
		WithHistoryStore(history.NewMemoryStore()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.SetPeers([]string{"agent-2"})
	return o, bus, bank
}

func waitForEvent(t *testing.T, ch <-chan events.Event, eventType events.Type) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-ch:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestOrchestratorRequiresRegisteredWallet(t *testing.T) {
	bank := memory.NewBank()
	resolver := &bankResolver{bank: bank}
	executor := NewExecutor(protocol.NewSimulatedVenue(), resolver)

	if _, err := NewOrchestrator("ghost", resolver, &scriptedSource{}, executor, orchestratorLimits); err == nil {
		t.Fatalf("expected error for agent without wallet")
	}
}

func TestOrchestratorRunsImmediateCycleAndTracksTrade(t *testing.T) {
	source := &scriptedSource{decisions: []decision.Decision{
		{Action: decision.ActionTrade, Target: "agent-2", Amount: 0.005, Reason: "scripted", Source: decision.OriginRule},
	}}
	o, bus, bank := newTestHarness(t, source)
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, time.Hour)
	defer o.Stop()

	action := waitForEvent(t, ch, events.TypeAction)
	if action.Action != string(decision.ActionTrade) || action.Amount != 0.005 {
		t.Fatalf("unexpected action event: %+v", action)
	}
	if action.TxHash == "" {
		t.Fatalf("trade event must carry the receipt hash")
	}

	status := o.Status()
	if status.CycleCount != 1 || status.TradeCount != 1 || status.TotalVolume != 0.005 {
		t.Fatalf("unexpected runtime: %+v", status)
	}
	if status.State != StateTrade {
		t.Fatalf("expected TRADE state, got %s", status.State)
	}

	peer, _ := bank.Handle("agent-2")
	balance, _ := peer.Balance(context.Background())
	if balance != 1.005 {
		t.Fatalf("trade did not move funds: %f", balance)
	}
}

func TestOrchestratorStartIsIdempotent(t *testing.T) {
	source := &scriptedSource{}
	o, _, _ := newTestHarness(t, source)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, time.Hour)
	o.Start(ctx, time.Hour)
	defer o.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := o.Status().CycleCount; got != 1 {
		t.Fatalf("double start must not double the loop, cycles=%d", got)
	}
}

func TestOrchestratorStopIsIdempotentAndWaits(t *testing.T) {
	source := &slowSource{delay: 100 * time.Millisecond}
	o, _, _ := newTestHarness(t, source)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, time.Hour)
	time.Sleep(20 * time.Millisecond)

	o.Stop()
	o.Stop()

	if o.Status().Running {
		t.Fatalf("runtime must report stopped")
	}
	if source.inFlight.Load() != 0 {
		t.Fatalf("stop must wait for the in-flight cycle")
	}
}

// parkedSource 进入决策后停在原地，直到测试放行，
// 放行时报告它看到的 ctx 状态。
type parkedSource struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (s *parkedSource) Decide(ctx context.Context, _ decision.Snapshot) (decision.Decision, error) {
	close(s.entered)
	<-s.release
	s.ctxErr <- ctx.Err()
	return decision.Idle(decision.OriginRule, "parked"), nil
}

func TestOrchestratorStopDoesNotAbortInFlightCycle(t *testing.T) {
	source := &parkedSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	o, _, _ := newTestHarness(t, source)

	o.Start(context.Background(), time.Hour)
	<-source.entered

	stopped := make(chan struct{})
	go func() {
		o.Stop()
		close(stopped)
	}()

	// 等 Stop 的取消动作落地后再放行决策。
	time.Sleep(50 * time.Millisecond)
	close(source.release)

	if err := <-source.ctxErr; err != nil {
		t.Fatalf("stop must not cancel the in-flight cycle: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop never returned")
	}
	if o.Status().CycleCount != 1 {
		t.Fatalf("in-flight cycle must complete exactly once, got %d", o.Status().CycleCount)
	}
}

func TestOrchestratorDecisionEventCarriesNextState(t *testing.T) {
	source := &scriptedSource{decisions: []decision.Decision{
		{Action: decision.ActionTrade, Target: "agent-2", Amount: 0.005, Reason: "scripted", Source: decision.OriginRule},
	}}
	o, bus, _ := newTestHarness(t, source)
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, time.Hour)
	defer o.Stop()

	event := waitForEvent(t, ch, events.TypeDecision)
	if event.PrevState != string(StateIdle) || event.NextState != string(StateTrade) {
		t.Fatalf("decision event must carry both states: %+v", event)
	}
}

func TestOrchestratorCyclesNeverOverlap(t *testing.T) {
	source := &slowSource{delay: 50 * time.Millisecond}
	o, _, _ := newTestHarness(t, source)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	o.Stop()

	if depth := source.maxDepth.Load(); depth > 1 {
		t.Fatalf("cycles overlapped, max depth %d", depth)
	}
	if cycles := o.Status().CycleCount; cycles < 2 {
		t.Fatalf("expected multiple cycles, got %d", cycles)
	}
}

func TestOrchestratorCycleErrorForcesIdle(t *testing.T) {
	o, bus, _ := newTestHarness(t, failingSource{})
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, time.Hour)
	defer o.Stop()

	event := waitForEvent(t, ch, events.TypeError)
	if event.Error == "" || event.NextState != string(StateIdle) {
		t.Fatalf("unexpected error event: %+v", event)
	}
	if o.Status().State != StateIdle {
		t.Fatalf("error must force IDLE, got %s", o.Status().State)
	}
}

func TestOrchestratorSnapshotSeesUpdatedPeers(t *testing.T) {
	source := &scriptedSource{snapshots: make(chan decision.Snapshot, 8)}
	o, _, bank := newTestHarness(t, source)
	if _, err := bank.Open("agent-3", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	o.Start(ctx, 20*time.Millisecond)
	defer o.Stop()

	first := <-source.snapshots
	if len(first.Peers) != 1 || first.Peers[0].PeerID != "agent-2" {
		t.Fatalf("unexpected initial peers: %+v", first.Peers)
	}
	if first.Peers[0].Balance == nil || *first.Peers[0].Balance != 1.0 {
		t.Fatalf("peer balance missing from snapshot: %+v", first.Peers[0])
	}

	o.SetPeers([]string{"agent-2", "agent-3"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-source.snapshots:
			if len(snap.Peers) == 2 {
				return
			}
		case <-deadline:
			t.Fatalf("peer update never reached the snapshot")
		}
	}
}
