package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 agentvaultd 在启动阶段需要加载的全部配置。
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Inference InferenceConfig `yaml:"inference"`
	Agents    AgentsConfig    `yaml:"agents"`
	Limits    LimitsConfig    `yaml:"limits"`
	Events    EventsConfig    `yaml:"events"`
	History   HistoryConfig   `yaml:"history"`
	Alerting  AlertingConfig  `yaml:"alerting"`
}

// AlertingConfig 配置关键失败的告警通道。未配置时不发送告警。
type AlertingConfig struct {
	Slack SlackAlertConfig `yaml:"slack"`
}

// SlackAlertConfig 描述 Slack Incoming Webhook 通道。
type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// LoggerConfig 控制结构化日志与审计流。
type LoggerConfig struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"`
	Output string      `yaml:"output"`
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志文件的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WalletConfig 选择托管驱动：memory（进程内仿真银行）或 ethereum。
type WalletConfig struct {
	Driver         string                 `yaml:"driver"`
	InitialBalance float64                `yaml:"initial_balance"`
	Ethereum       []EthereumWalletConfig `yaml:"ethereum"`
}

// EthereumWalletConfig 描述单个代理的链上钱包。私钥只允许通过环境变量注入。
type EthereumWalletConfig struct {
	AgentID       string `yaml:"agent_id"`
	RPCURL        string `yaml:"rpc_url"`
	PrivateKeyEnv string `yaml:"private_key_env"`
	ChainID       int64  `yaml:"chain_id"`
}

// InferenceConfig 配置推理决策源。Provider 为空时只使用规则决策。
type InferenceConfig struct {
	Provider       string       `yaml:"provider"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig `yaml:"openai"`
}

// Timeout 返回推理调用的超时时间。
func (c InferenceConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig 描述 OpenAI 兼容端点的调用方式。
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
}

// ResolveAPIKey 返回配置或环境变量中的 API Key。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// AgentsConfig 描述代理集合及其调度间隔。
type AgentsConfig struct {
	IDs             []string `yaml:"ids"`
	IntervalSeconds int      `yaml:"interval_seconds"`
}

// Interval 返回决策循环的调度间隔。
func (c AgentsConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LimitsConfig 是安全校验与规则决策共用的硬性常量。
type LimitsConfig struct {
	MaxTradePerTx  float64 `yaml:"max_trade_per_tx"`
	BalanceFloor   float64 `yaml:"balance_floor"`
	TradeThreshold float64 `yaml:"trade_threshold"`
	YieldRate      float64 `yaml:"yield_rate"`
}

// EventsConfig 选择事件外发通道：memory（仅进程内订阅）、redis 或 rabbitmq。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件流的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// RabbitMQConfig 描述 RabbitMQ 事件交换机的连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Durable  bool   `yaml:"durable"`
}

// HistoryConfig 选择动作历史的存储驱动：memory 或 mysql。
type HistoryConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig 描述 MySQL 历史库的连接参数。
type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// Load 解析指定路径的 YAML 配置文件并填充默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Wallet.Driver == "" {
		c.Wallet.Driver = "memory"
	}
	if c.Wallet.InitialBalance <= 0 {
		c.Wallet.InitialBalance = 1.0
	}
	if len(c.Agents.IDs) == 0 && c.Wallet.Driver == "memory" {
		c.Agents.IDs = []string{"agent-1", "agent-2", "agent-3"}
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}

	if c.Limits.MaxTradePerTx <= 0 {
		c.Limits.MaxTradePerTx = 0.01
	}
	if c.Limits.BalanceFloor <= 0 {
		c.Limits.BalanceFloor = 0.003
	}
	if c.Limits.TradeThreshold <= 0 {
		c.Limits.TradeThreshold = 0.02
	}
	if c.Limits.YieldRate <= 0 {
		c.Limits.YieldRate = 0.001
	}
}

// validate 检查无法用默认值弥补的配置错误。
func (c *Config) validate() error {
	switch c.Wallet.Driver {
	case "memory":
	case "ethereum":
		if len(c.Wallet.Ethereum) == 0 {
			return errors.New("ethereum 驱动需要至少配置一个钱包")
		}
		for _, w := range c.Wallet.Ethereum {
			if strings.TrimSpace(w.AgentID) == "" {
				return errors.New("ethereum 钱包缺少 agent_id")
			}
			if strings.TrimSpace(w.RPCURL) == "" {
				return fmt.Errorf("钱包 %s 缺少 rpc_url", w.AgentID)
			}
			if strings.TrimSpace(w.PrivateKeyEnv) == "" {
				return fmt.Errorf("钱包 %s 缺少 private_key_env", w.AgentID)
			}
		}
	default:
		return fmt.Errorf("未知的钱包驱动: %s", c.Wallet.Driver)
	}

	if c.Limits.BalanceFloor >= c.Limits.TradeThreshold {
		return errors.New("balance_floor 必须小于 trade_threshold")
	}
	return nil
}
