package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "AgentVault/internal/errors"
	"AgentVault/pkg/logger"
)

// Supervisor 管理一组编排器的共同生命周期，并维护全连接的同伴视图：
// 每个 agent 的同伴是除它自己以外的所有已注册 agent。
type Supervisor struct {
	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
	started       bool
	interval      time.Duration

	log *slog.Logger
}

// NewSupervisor 创建监督器。
func NewSupervisor(interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	return &Supervisor{
		orchestrators: make(map[string]*Orchestrator),
		interval:      interval,
		log:           logger.Named("supervisor"),
	}
}

// Register 注册一个编排器并刷新全体同伴视图。
// 监督器已启动时，新注册的编排器立即启动。
func (s *Supervisor) Register(ctx context.Context, o *Orchestrator) error {
	if o == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "编排器不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orchestrators[o.agentID]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 已注册: "+o.agentID)
	}
	s.orchestrators[o.agentID] = o
	s.refreshPeersLocked()

	if s.started {
		o.Start(ctx, s.interval)
	}
	return nil
}

// StartAll 启动全部编排器。重复调用是无害的空操作。
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, o := range s.orchestrators {
		o.Start(ctx, s.interval)
	}
	s.log.Info("全部 agent 已启动", slog.Int("count", len(s.orchestrators)))
}

// StopAll 停止全部编排器并等待进行中的循环完成。
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	running := make([]*Orchestrator, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		running = append(running, o)
	}
	s.mu.Unlock()

	for _, o := range running {
		o.Stop()
	}
	s.log.Info("全部 agent 已停止", slog.Int("count", len(running)))
}

// AgentIDs 返回已注册的 agent 标识，按字典序。
func (s *Supervisor) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orchestrators))
	for id := range s.orchestrators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status 返回全部编排器的运行状态快照。
func (s *Supervisor) Status() []Runtime {
	s.mu.Lock()
	orchestrators := make([]*Orchestrator, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		orchestrators = append(orchestrators, o)
	}
	s.mu.Unlock()

	out := make([]Runtime, 0, len(orchestrators))
	for _, o := range orchestrators {
		out = append(out, o.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// refreshPeersLocked 重建每个编排器的同伴列表。调用方持有 s.mu。
func (s *Supervisor) refreshPeersLocked() {
	ids := make([]string, 0, len(s.orchestrators))
	for id := range s.orchestrators {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for id, o := range s.orchestrators {
		peers := make([]string, 0, len(ids)-1)
		for _, candidate := range ids {
			if candidate != id {
				peers = append(peers, candidate)
			}
		}
		o.SetPeers(peers)
	}
}
