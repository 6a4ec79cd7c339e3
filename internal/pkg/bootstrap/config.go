// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置：文件 → 环境变量 → Nacos 覆盖
type Config struct {
	App      AppConfig      `yaml:"app"`
	API      APIConfig      `yaml:"api"`
	Batching BatchingConfig `yaml:"batching"`
	Infra    InfraConfig    `yaml:"infra"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	// Session 是 auto-batch 签名的作用域，同一管理会话的实例共享
	Session    string        `yaml:"session"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	// DiscoveryService 非空时通过 Nacos 解析上游地址，覆盖 BaseURL 的主机部分
	DiscoveryService string `yaml:"discovery_service"`
}

type BatchingConfig struct {
	PageSize     int           `yaml:"page_size"`
	MaxPages     int           `yaml:"max_pages"`
	Concurrency  int           `yaml:"concurrency"`
	Eligibility  string        `yaml:"eligibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Nacos struct {
		Addrs     string `yaml:"addrs"`
		Namespace string `yaml:"namespace"`
		Group     string `yaml:"group"`
		DataID    string `yaml:"data_id"`
		Register  bool   `yaml:"register"`
	} `yaml:"nacos"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers     string `yaml:"brokers"`
		NoticeTopic string `yaml:"notice_topic"`
		StatusTopic string `yaml:"status_topic"`
		GroupID     string `yaml:"group_id"`
	} `yaml:"kafka"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	ZooKeeper struct {
		Servers        string        `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"session_timeout"`
	} `yaml:"zookeeper"`
}

// KafkaBrokers 返回拆分后的 broker 列表
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Infra.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// DefaultConfig 返回所有默认值
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			Name:     "dispatch-service",
			Port:     8080,
			LogLevel: "info",
			Session:  "default",
		},
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Batching: BatchingConfig{
			PageSize:     50,
			MaxPages:     20,
			Concurrency:  4,
			PollInterval: 30 * time.Second,
		},
	}
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Infra.Nacos.DataID = "dispatch-service.yaml"
	cfg.Infra.Kafka.NoticeTopic = "dispatch-notices"
	cfg.Infra.Kafka.StatusTopic = "shipment-status-events"
	cfg.Infra.Kafka.GroupID = "dispatch-service"
	cfg.Infra.ZooKeeper.SessionTimeout = 5 * time.Second
	return cfg
}

// LoadConfig 读取配置文件并应用环境变量覆盖；文件不存在时只用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay 把配置中心下发的 YAML 叠加到 c 的副本上
func (c *Config) Overlay(content string) (*Config, error) {
	next := *c
	if strings.TrimSpace(content) == "" {
		return &next, nil
	}
	if err := yaml.Unmarshal([]byte(content), &next); err != nil {
		return nil, fmt.Errorf("parse config overlay: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

// Validate 校验必须项并把越界值拉回默认
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" && c.API.DiscoveryService == "" {
		return errors.New("config: api.base_url is required")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: invalid app.port %d", c.App.Port)
	}
	if c.Batching.PageSize <= 0 {
		c.Batching.PageSize = 50
	}
	if c.Batching.MaxPages <= 0 {
		c.Batching.MaxPages = 20
	}
	if c.Batching.Concurrency <= 0 {
		c.Batching.Concurrency = 1
	}
	if c.Batching.PollInterval <= 0 {
		c.Batching.PollInterval = 30 * time.Second
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	return nil
}

// applyEnv 用环境变量覆盖部署相关的配置项
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("API_BASE_URL", &cfg.API.BaseURL)
	str("API_TOKEN", &cfg.API.Token)
	str("LOG_LEVEL", &cfg.App.LogLevel)
	str("ADMIN_SESSION", &cfg.App.Session)
	str("BATCH_ELIGIBILITY", &cfg.Batching.Eligibility)
	str("JAEGER_ENDPOINT", &cfg.Infra.Jaeger.Endpoint)
	str("NACOS_SERVER_ADDRS", &cfg.Infra.Nacos.Addrs)
	str("NACOS_NAMESPACE", &cfg.Infra.Nacos.Namespace)
	str("NACOS_GROUP", &cfg.Infra.Nacos.Group)
	str("REDIS_ADDRS", &cfg.Infra.Redis.Addrs)
	str("KAFKA_BROKERS", &cfg.Infra.Kafka.Brokers)
	str("MYSQL_DSN", &cfg.Infra.MySQL.DSN)
	str("ZK_SERVERS", &cfg.Infra.ZooKeeper.Servers)

	if v, ok := lookup("HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	if v, ok := lookup("POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Batching.PollInterval = d
		}
	}
}

var (
	currentConfig atomic.Pointer[Config]
	listenersMu   sync.Mutex
	listeners     []func(*Config)
)

// GetCurrentConfig 返回当前生效的配置；未初始化时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// SetCurrentConfig 替换当前配置并通知所有监听者
func SetCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
	listenersMu.Lock()
	fns := append([]func(*Config){}, listeners...)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
}

// OnConfigChange 注册配置变更回调
func OnConfigChange(fn func(*Config)) {
	listenersMu.Lock()
	listeners = append(listeners, fn)
	listenersMu.Unlock()
}
