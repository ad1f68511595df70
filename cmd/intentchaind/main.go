package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"IntentChain/internal/agentauth"
	"IntentChain/internal/api"
	"IntentChain/internal/chain"
	"IntentChain/internal/config"
	"IntentChain/internal/intent"
	"IntentChain/internal/member"
	"IntentChain/internal/ratelimit"
	"IntentChain/internal/session"
	"IntentChain/pkg/logger"
)

// main 是意图守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("intentchaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("INTENTCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "intentchain.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer limiter.Close()

	memberStore, sessionStore, intentStore, err := buildStores(cfg)
	if err != nil {
		return err
	}

	events, err := buildEvents(cfg)
	if err != nil {
		return err
	}

	chains, err := chain.NewRegistry(ctx, cfg.Chains, true)
	if err != nil {
		return err
	}
	defer chains.Close()

	members := member.NewService(memberStore, limiter)
	defer members.Close()

	sessions := session.NewManager(sessionStore, cfg.Auth.AppDomain)
	defer sessions.Close()

	verifier := agentauth.NewVerifier(members.Directory())

	intents := intent.NewService(intentStore, events, limiter, chains)
	defer intents.Close()

	server := api.NewServer(cfg.Server.Address, cfg.Server.SecureCookies, api.Deps{
		Members:  members,
		Sessions: sessions,
		Verifier: verifier,
		Intents:  intents,
		Chains:   chains,
	})

	logger.L().Info("intentchaind 启动", "address", cfg.Server.Address, "storage", cfg.Storage.Driver)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildStores(cfg *config.Config) (member.Store, session.Store, intent.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return member.NewMemoryStore(), session.NewMemoryStore(), intent.NewMemoryStore(), nil
	case "mysql":
		memberStore, err := member.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		sessionStore, err := session.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			_ = memberStore.Close()
			return nil, nil, nil, err
		}
		intentStore, err := intent.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			_ = memberStore.Close()
			_ = sessionStore.Close()
			return nil, nil, nil, err
		}
		return memberStore, sessionStore, intentStore, nil
	default:
		return nil, nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func buildEvents(cfg *config.Config) (intent.Publisher, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return intent.NewMemoryPublisher(), nil
	case "redis":
		return intent.NewRedisPublisher(intent.RedisPublisherConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.Redis.Queue,
		})
	case "rabbitmq":
		return intent.NewRabbitMQPublisher(intent.RabbitMQPublisherConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Events.Driver)
	}
}

func buildLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	switch cfg.RateLimit.Driver {
	case "none":
		return ratelimit.NopLimiter{}, nil
	case "", "memory":
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit,
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second), nil
	case "redis":
		return ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			Address:  cfg.RateLimit.Redis.Address,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
			Limit:    cfg.RateLimit.Limit,
			Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的限流驱动: %s", cfg.RateLimit.Driver)
	}
}
