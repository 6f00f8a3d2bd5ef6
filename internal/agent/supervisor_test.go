package agent

import (
	"context"
	"testing"
	"time"

	"AgentVault/internal/decision"
	"AgentVault/internal/protocol"
	"AgentVault/internal/wallet/memory"
)

func newSupervisorHarness(t *testing.T, agentIDs ...string) (*Supervisor, *bankResolver, *Executor) {
	t.Helper()
	bank := memory.NewBank()
	for _, id := range agentIDs {
		if _, err := bank.Open(id, 1.0); err != nil {
			t.Fatalf("failed to open account %s: %v", id, err)
		}
	}
	resolver := &bankResolver{bank: bank}
	executor := NewExecutor(protocol.NewSimulatedVenue(protocol.WithCrediter(bank)), resolver)
	return NewSupervisor(time.Hour), resolver, executor
}

func TestSupervisorWiresAllToAllPeers(t *testing.T) {
	supervisor, resolver, executor := newSupervisorHarness(t, "agent-1", "agent-2", "agent-3")

	sources := make(map[string]*scriptedSource)
	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		source := &scriptedSource{snapshots: make(chan decision.Snapshot, 4)}
		sources[id] = source
		o, err := NewOrchestrator(id, resolver, source, executor, orchestratorLimits)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := supervisor.Register(context.Background(), o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	supervisor.StartAll(ctx)
	defer supervisor.StopAll()

	snap := <-sources["agent-1"].snapshots
	if len(snap.Peers) != 2 {
		t.Fatalf("expected 2 peers for agent-1, got %+v", snap.Peers)
	}
	for _, peer := range snap.Peers {
		if peer.PeerID == "agent-1" {
			t.Fatalf("agent must not be its own peer")
		}
	}
}

func TestSupervisorRejectsDuplicateRegistration(t *testing.T) {
	supervisor, resolver, executor := newSupervisorHarness(t, "agent-1")

	o, err := NewOrchestrator("agent-1", resolver, &scriptedSource{}, executor, orchestratorLimits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := supervisor.Register(context.Background(), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := supervisor.Register(context.Background(), o); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestSupervisorStartAndStopAreIdempotent(t *testing.T) {
	supervisor, resolver, executor := newSupervisorHarness(t, "agent-1", "agent-2")

	for _, id := range []string{"agent-1", "agent-2"} {
		o, err := NewOrchestrator(id, resolver, &scriptedSource{}, executor, orchestratorLimits)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := supervisor.Register(context.Background(), o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	supervisor.StartAll(ctx)
	supervisor.StartAll(ctx)

	time.Sleep(50 * time.Millisecond)
	for _, runtime := range supervisor.Status() {
		if !runtime.Running {
			t.Fatalf("agent %s not running", runtime.AgentID)
		}
		if runtime.CycleCount != 1 {
			t.Fatalf("agent %s ran %d cycles, expected 1", runtime.AgentID, runtime.CycleCount)
		}
	}

	supervisor.StopAll()
	supervisor.StopAll()
	for _, runtime := range supervisor.Status() {
		if runtime.Running {
			t.Fatalf("agent %s still running after stop", runtime.AgentID)
		}
	}
}

func TestSupervisorStatusSortedByAgentID(t *testing.T) {
	supervisor, resolver, executor := newSupervisorHarness(t, "agent-c", "agent-a", "agent-b")

	for _, id := range []string{"agent-c", "agent-a", "agent-b"} {
		o, err := NewOrchestrator(id, resolver, &scriptedSource{}, executor, orchestratorLimits)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := supervisor.Register(context.Background(), o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	status := supervisor.Status()
	want := []string{"agent-a", "agent-b", "agent-c"}
	for i, runtime := range status {
		if runtime.AgentID != want[i] {
			t.Fatalf("status not sorted: got %s at %d", runtime.AgentID, i)
		}
	}
}
