package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentVault/internal/agent"
	"AgentVault/internal/config"
	"AgentVault/internal/decision"
	"AgentVault/internal/events"
	"AgentVault/internal/history"
	"AgentVault/internal/llm"
	"AgentVault/internal/llm/openai"
	"AgentVault/internal/multisig"
	"AgentVault/internal/observability/alerting"
	"AgentVault/internal/protocol"
	"AgentVault/internal/wallet/memory"
	"AgentVault/internal/wallet/provider"
	"AgentVault/pkg/logger"
)

// main 是 AgentVault 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentvaultd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTVAULT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentvault.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 钱包注册表。memory 驱动共享一个进程内银行，ethereum 驱动逐个拨号。
	agentIDs := cfg.Agents.IDs
	if cfg.Wallet.Driver == "ethereum" {
		agentIDs = make([]string, 0, len(cfg.Wallet.Ethereum))
		for _, w := range cfg.Wallet.Ethereum {
			agentIDs = append(agentIDs, w.AgentID)
		}
	}

	var bank *memory.Bank
	var registry *provider.Registry
	if cfg.Wallet.Driver == "memory" || cfg.Wallet.Driver == "" {
		bank = memory.NewBank()
		registry, err = provider.NewRegistryWithBank(bank, cfg.Wallet, agentIDs)
	} else {
		registry, err = provider.NewRegistry(ctx, cfg.Wallet, agentIDs)
	}
	if err != nil {
		return err
	}
	defer registry.Close()

	// 事件总线与外发通道。
	var sink events.Sink
	switch cfg.Events.Driver {
	case "", "memory":
	case "redis":
		sink, err = events.NewRedisSink(events.RedisSinkConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Stream:   cfg.Events.Redis.Stream,
		})
		if err != nil {
			return err
		}
	case "rabbitmq":
		sink, err = events.NewRabbitMQSink(events.RabbitMQSinkConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Exchange: cfg.Events.RabbitMQ.Exchange,
			Durable:  cfg.Events.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}

	busOpts := []events.BusOption{}
	if sink != nil {
		busOpts = append(busOpts, events.WithSink(sink))
	}
	bus := events.NewBus(busOpts...)
	defer bus.Close()

	// 决策留痕存储。
	var store history.Store
	switch cfg.History.Driver {
	case "", "memory":
		store = history.NewMemoryStore(history.WithCapacity(10_000))
	case "mysql":
		store, err = history.NewMySQLStore(history.MySQLConfig{
			DSN:          cfg.History.MySQL.DSN,
			MaxOpenConns: cfg.History.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.History.MySQL.MaxIdleConns,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的历史存储驱动: %s", cfg.History.Driver)
	}
	defer store.Close()

	// 推理客户端。provider 为空时全部 agent 走规则决策。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	// 告警通道。未配置 webhook 时不挂告警器。
	var alerts alerting.Dispatcher
	if cfg.Alerting.Slack.WebhookURL != "" {
		alerts = alerting.NewFanout(&alerting.SlackNotifier{
			Sender:    &alerting.WebhookSlackSender{WebhookURL: cfg.Alerting.Slack.WebhookURL},
			ChannelID: cfg.Alerting.Slack.Channel,
		})
	}

	// 多签协调器与调度循环共用同一个钱包注册表和告警通道。
	coordOpts := []multisig.CoordinatorOption{}
	if alerts != nil {
		coordOpts = append(coordOpts, multisig.WithAlertDispatcher(alerts))
	}
	coordinator := multisig.NewCoordinator(registry, coordOpts...)
	logger.L().Info("多签协调器已就绪",
		slog.Int("pending_proposals", len(coordinator.List())))

	limits := decision.Limits{
		MaxTradePerTx:  cfg.Limits.MaxTradePerTx,
		BalanceFloor:   cfg.Limits.BalanceFloor,
		TradeThreshold: cfg.Limits.TradeThreshold,
		YieldRate:      cfg.Limits.YieldRate,
	}

	venueOpts := []protocol.VenueOption{}
	if bank != nil {
		venueOpts = append(venueOpts, protocol.WithCrediter(bank))
	}
	venue := protocol.NewSimulatedVenue(venueOpts...)
	executor := agent.NewExecutor(venue, registry)

	supervisor := agent.NewSupervisor(cfg.Agents.Interval())
	for _, agentID := range registry.AgentIDs() {
		rule := decision.NewRuleSource(limits,
			decision.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))))
		var source decision.Source = rule
		if llmClient != nil {
			source = decision.NewInferenceSource(llmClient, rule,
				decision.WithTimeout(cfg.Inference.Timeout()))
		}

		orchOpts := []agent.OrchestratorOption{
			agent.WithEventPublisher(bus),
			agent.WithHistoryStore(store),
		}
		if alerts != nil {
			orchOpts = append(orchOpts, agent.WithAlertDispatcher(alerts))
		}
		orchestrator, err := agent.NewOrchestrator(agentID, registry, source, executor, limits, orchOpts...)
		if err != nil {
			return err
		}
		if err := supervisor.Register(ctx, orchestrator); err != nil {
			return err
		}
	}

	supervisor.StartAll(ctx)
	defer supervisor.StopAll()

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Inference.Provider {
	case "":
		return nil, nil
	case "openai":
		apiKey := cfg.Inference.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("openai provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Inference.OpenAI.BaseURL,
			Model:   cfg.Inference.OpenAI.Model,
			Timeout: cfg.Inference.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的推理 provider: %s", cfg.Inference.Provider)
	}
}
