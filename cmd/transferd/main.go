package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"crosschain-transfer/internal/api"
	"crosschain-transfer/internal/chain"
	"crosschain-transfer/internal/config"
	"crosschain-transfer/internal/events"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/lock"
	"crosschain-transfer/internal/observability/alerting"
	"crosschain-transfer/internal/observability/metrics"
	"crosschain-transfer/internal/storage/redis"
	"crosschain-transfer/internal/storage/sqldb"
	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3/provider"
	"crosschain-transfer/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

// main 是跨链转账服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("transferd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("transferd")

	chains, err := chain.LoadFile(cfg.Chains.File)
	if err != nil {
		return err
	}
	appLog.Info("链注册表加载完成", slog.Int("chains", chains.Len()), slog.Any("ids", chains.IDs()))

	var redisClient *goredis.Client
	if needsRedis(cfg) {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			Address:     cfg.Storage.Redis.Address,
			Password:    cfg.Secrets.RedisPassword,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.Driver == "redis" {
		locker = redis.NewLocker(redisClient, redis.LockConfig{Prefix: cfg.Lock.Prefix, TTL: cfg.LockTTL()})
	}

	registry, err := provider.NewRegistry(ctx, chains, provider.Options{
		SigningKey:     cfg.Secrets.SigningKey,
		Locker:         locker,
		CallTimeout:    cfg.CallTimeout(),
		WaitReceipts:   cfg.Web3.WaitReceipts,
		ReceiptTimeout: cfg.ReceiptTimeout(),
		VerifyChainIDs: cfg.Web3.VerifyChainIDs,
	})
	if err != nil {
		return err
	}
	defer registry.Close()
	appLog.Info("签名账户就绪", slog.String("account", registry.Account().Hex()))

	orchestrator, err := transfer.NewOrchestrator(chains, registry)
	if err != nil {
		return err
	}

	store, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(cfg, redisClient)
	if err != nil {
		_ = store.Close()
		return err
	}

	service, err := transfer.NewService(orchestrator,
		transfer.WithJournal(store),
		transfer.WithPublisher(publisher),
		transfer.WithAlerts(buildAlerts(cfg)),
	)
	if err != nil {
		_ = store.Close()
		if publisher != nil {
			_ = publisher.Close()
		}
		return err
	}
	defer func() {
		if err := service.Close(); err != nil {
			appLog.Warn("关闭转账服务失败", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, service, chains,
		api.WithProber(registry),
		api.WithAPITokens(cfg.Secrets.APITokens...),
		api.WithShutdownTimeout(cfg.ShutdownTimeout()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func needsRedis(cfg *config.Config) bool {
	if cfg.Lock.Driver == "redis" {
		return true
	}
	for _, driver := range cfg.EventDrivers() {
		if driver == "redis" {
			return true
		}
	}
	return false
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	jc := cfg.Storage.Journal
	if jc.Driver == "memory" {
		return journal.NewMemoryStore(), nil
	}
	dialect, err := sqldb.ParseDialect(jc.Driver)
	if err != nil {
		return nil, err
	}
	if dialect == sqldb.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(jc.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	store, err := journal.OpenSQLStore(ctx, sqldb.Config{
		Dialect:         dialect,
		DSN:             jc.DSN,
		MaxOpenConns:    jc.MaxOpenConns,
		MaxIdleConns:    jc.MaxIdleConns,
		ConnMaxLifetime: time.Duration(jc.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildPublisher(cfg *config.Config, redisClient *goredis.Client) (events.Publisher, error) {
	var publishers events.Multi
	closeAll := func() { _ = publishers.Close() }
	for _, driver := range cfg.EventDrivers() {
		switch driver {
		case "none":
		case "log":
			publishers = append(publishers, events.NewLogPublisher(logger.Named("events")))
		case "redis":
			p, err := events.NewRedisPublisher(redisClient, events.RedisConfig{
				List:   cfg.Events.RedisList,
				MaxLen: cfg.Events.RedisMaxLen,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			publishers = append(publishers, p)
		case "rabbitmq":
			p, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
				URL:      cfg.Events.RabbitMQ.URL,
				Exchange: cfg.Events.RabbitMQ.Exchange,
				Queue:    cfg.Events.RabbitMQ.Queue,
				Durable:  cfg.Events.RabbitMQ.Durable,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			publishers = append(publishers, p)
		}
	}
	if len(publishers) == 0 {
		return nil, nil
	}
	return publishers, nil
}

func buildAlerts(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alerting")})
	}
	for _, hook := range cfg.Alerting.Webhooks {
		if hook.URL == "" {
			continue
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    hook.URL,
			Format: alerting.Channel(hook.Format),
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
