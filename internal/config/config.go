package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"IntentChain/internal/chain"
)

// Config 描述 intentchaind 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Storage   StorageConfig      `yaml:"storage"`
	Events    EventsConfig       `yaml:"events"`
	RateLimit RateLimitConfig    `yaml:"rateLimit"`
	Auth      AuthConfig         `yaml:"auth"`
	Chains    []chain.Definition `yaml:"chains"`
	Log       LogConfig          `yaml:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
	// SecureCookies 控制会话 Cookie 是否带 Secure 标记，生产环境应开启。
	SecureCookies bool `yaml:"secureCookies"`
}

// StorageConfig 描述意图、成员与会话的持久化后端。
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | mysql
	DSN    string `yaml:"dsn"`
}

// EventsConfig 描述状态事件的投递通道。
type EventsConfig struct {
	Driver string `yaml:"driver"` // memory | redis | rabbitmq

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Queue    string `yaml:"queue"`
	} `yaml:"redis"`

	RabbitMQ struct {
		URL     string `yaml:"url"`
		Queue   string `yaml:"queue"`
		Durable bool   `yaml:"durable"`
	} `yaml:"rabbitmq"`
}

// RateLimitConfig 描述创建类操作的限流后端。
type RateLimitConfig struct {
	Driver        string `yaml:"driver"` // none | memory | redis
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"windowSeconds"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// AuthConfig 描述钱包登录的参数。
type AuthConfig struct {
	// AppDomain 出现在挑战消息里，供用户在钱包中确认登录目标。
	AppDomain string `yaml:"appDomain"`
}

// LogConfig 控制日志输出与审计流。
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"outputPaths"`

	Audit struct {
		Enabled    bool   `yaml:"enabled"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"maxSizeMb"`
		MaxBackups int    `yaml:"maxBackups"`
		MaxAgeDays int    `yaml:"maxAgeDays"`
	} `yaml:"audit"`
}

// Load 解析指定路径的 YAML 配置文件。
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

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = "memory"
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 60
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Auth.AppDomain == "" {
		c.Auth.AppDomain = "intentchain.local"
	}
	if len(c.Chains) == 0 {
		c.Chains = []chain.Definition{
			{ChainID: 1, Name: "mainnet", NativeSymbol: "ETH"},
			{ChainID: 8453, Name: "base", NativeSymbol: "ETH"},
		}
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.driver 为 mysql 时必须提供 storage.dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}

	switch strings.ToLower(c.Events.Driver) {
	case "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("events.driver 为 redis 时必须提供 events.redis.address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.driver 为 rabbitmq 时必须提供 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}

	switch strings.ToLower(c.RateLimit.Driver) {
	case "none", "memory":
	case "redis":
		if c.RateLimit.Redis.Address == "" {
			return errors.New("rateLimit.driver 为 redis 时必须提供 rateLimit.redis.address")
		}
	default:
		return fmt.Errorf("不支持的限流驱动: %s", c.RateLimit.Driver)
	}
	return nil
}
