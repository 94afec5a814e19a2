package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crosschain-transfer/pkg/logger"
)

// DefaultPath 是未设置 TRANSFERD_CONFIG 时使用的配置文件。
const DefaultPath = "configs/transferd.json"

// Config 描述 transferd 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Chains   ChainsConfig   `json:"chains"`
	Web3     Web3Config     `json:"web3"`
	Storage  StorageConfig  `json:"storage"`
	Lock     LockConfig     `json:"lock"`
	Events   EventsConfig   `json:"events"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  logger.Config  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	// Secrets 只来自环境变量，不参与 JSON 编解码。
	Secrets Secrets `json:"-"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// ChainsConfig 指向链注册表 YAML 文件。
type ChainsConfig struct {
	File string `json:"file"`
}

// Web3Config 控制链上调用的超时与回执等待策略。
type Web3Config struct {
	CallTimeoutSeconds    int  `json:"call_timeout_seconds"`
	WaitReceipts          bool `json:"wait_receipts"`
	ReceiptTimeoutSeconds int  `json:"receipt_timeout_seconds"`
	VerifyChainIDs        bool `json:"verify_chain_ids"`
}

// StorageConfig 统一描述流水数据库与 Redis 的连接信息。
type StorageConfig struct {
	Journal JournalConfig `json:"journal"`
	Redis   RedisConfig   `json:"redis"`
}

// JournalConfig 选择流水存储实现：memory、mysql 或 sqlite。
type JournalConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// RedisConfig 描述共享的 Redis 连接。
type RedisConfig struct {
	Address string `json:"address"`
	DB      int    `json:"db"`
}

// LockConfig 选择提交锁实现：local 或 redis。
type LockConfig struct {
	Driver     string `json:"driver"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// EventsConfig 选择事件发布方式：none、log、redis、rabbitmq，可用逗号组合。
type EventsConfig struct {
	Driver      string         `json:"driver"`
	RedisList   string         `json:"redis_list"`
	RedisMaxLen int64          `json:"redis_max_len"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述事件队列，URL 可由 TRANSFERD_RABBITMQ_URL 覆盖。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Queue    string `json:"queue"`
	Durable  bool   `json:"durable"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	Log      bool            `json:"log"`
	Webhooks []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个告警回调。
type WebhookConfig struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// MetricsConfig 配置独立的指标端口，为空时只通过 API 服务的 /metrics 暴露。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Load 解析指定路径的 JSON 配置文件，并叠加环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Chains.File == "" {
		c.Chains.File = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.File) {
		c.Chains.File = filepath.Join(baseDir, c.Chains.File)
	}

	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 180
	}

	c.Storage.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Journal.Driver))
	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Storage.Journal.Driver == "sqlite" && c.Storage.Journal.DSN == "" {
		c.Storage.Journal.DSN = filepath.Join(baseDir, "data", "transfers.db")
	}

	c.Lock.Driver = strings.ToLower(strings.TrimSpace(c.Lock.Driver))
	if c.Lock.Driver == "" {
		c.Lock.Driver = "local"
	}
	if c.Lock.TTLSeconds <= 0 {
		c.Lock.TTLSeconds = 120
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate 检查配置组合是否可用。
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Journal.Driver {
	case "memory":
	case "mysql", "sqlite":
		if c.Storage.Journal.DSN == "" {
			errs = append(errs, fmt.Errorf("流水存储 %s 需要 DSN", c.Storage.Journal.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的流水存储: %s", c.Storage.Journal.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("redis 锁需要 storage.redis.address"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的锁实现: %s", c.Lock.Driver))
	}

	for _, driver := range c.EventDrivers() {
		switch driver {
		case "none", "log":
		case "redis":
			if c.Storage.Redis.Address == "" {
				errs = append(errs, errors.New("redis 事件发布需要 storage.redis.address"))
			}
		case "rabbitmq":
			if c.Events.RabbitMQ.URL == "" {
				errs = append(errs, errors.New("rabbitmq 事件发布需要 URL"))
			}
		default:
			errs = append(errs, fmt.Errorf("不支持的事件发布方式: %s", driver))
		}
	}

	if strings.TrimSpace(c.Secrets.SigningKey) == "" {
		errs = append(errs, fmt.Errorf("未配置交易签名私钥 (%s)", envSigningKey))
	}
	return errors.Join(errs...)
}

// EventDrivers 返回拆分后的事件发布方式。
func (c *Config) EventDrivers() []string {
	var drivers []string
	for _, part := range strings.Split(c.Events.Driver, ",") {
		if part = strings.TrimSpace(part); part != "" {
			drivers = append(drivers, part)
		}
	}
	return drivers
}

// ShutdownTimeout 返回优雅关闭等待时间。
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// CallTimeout 返回单次链上调用超时，0 表示不限制。
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Web3.CallTimeoutSeconds) * time.Second
}

// ReceiptTimeout 返回等待回执的最长时间。
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Web3.ReceiptTimeoutSeconds) * time.Second
}

// LockTTL 返回分布式锁的过期时间。
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// LogValue 避免配置整体写入日志时泄露密钥。
func (s Secrets) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("signing_key_set", s.SigningKey != ""),
		slog.Int("api_tokens", len(s.APITokens)),
		slog.Bool("redis_password_set", s.RedisPassword != ""),
	)
}
