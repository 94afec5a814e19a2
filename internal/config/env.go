package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envConfigPath = "TRANSFERD_CONFIG"
	envSigningKey = "TRANSFERD_SIGNING_KEY"
)

// Secrets 保存只允许从环境变量注入的敏感配置。
type Secrets struct {
	SigningKey    string   `env:"TRANSFERD_SIGNING_KEY"`
	APITokens     []string `env:"TRANSFERD_API_TOKENS" envSeparator:","`
	RedisPassword string   `env:"TRANSFERD_REDIS_PASSWORD"`
}

// overrides 是允许环境变量覆盖的非敏感字段。
type overrides struct {
	ListenAddress string `env:"TRANSFERD_LISTEN_ADDRESS"`
	ChainsFile    string `env:"TRANSFERD_CHAINS_FILE"`
	JournalDriver string `env:"TRANSFERD_JOURNAL_DRIVER"`
	JournalDSN    string `env:"TRANSFERD_JOURNAL_DSN"`
	RedisAddress  string `env:"TRANSFERD_REDIS_ADDRESS"`
	RabbitMQURL   string `env:"TRANSFERD_RABBITMQ_URL"`
	EventsDriver  string `env:"TRANSFERD_EVENTS_DRIVER"`
	LogLevel      string `env:"TRANSFERD_LOG_LEVEL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv 读取 .env 文件，已存在的环境变量不会被覆盖，文件不存在时忽略。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", path, err)
		}
	}
	return nil
}

// Path 返回配置文件路径。
func Path() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultPath
}

func (c *Config) applyEnv() error {
	if err := ParseEnv(&c.Secrets); err != nil {
		return err
	}
	var o overrides
	if err := ParseEnv(&o); err != nil {
		return err
	}
	setIf(&c.Server.Address, o.ListenAddress)
	setIf(&c.Chains.File, o.ChainsFile)
	setIf(&c.Storage.Journal.Driver, o.JournalDriver)
	setIf(&c.Storage.Journal.DSN, o.JournalDSN)
	setIf(&c.Storage.Redis.Address, o.RedisAddress)
	setIf(&c.Events.RabbitMQ.URL, o.RabbitMQURL)
	setIf(&c.Events.Driver, o.EventsDriver)
	setIf(&c.Logging.Level, o.LogLevel)
	return nil
}

func setIf(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
