// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/nacos"
	"dispatch/internal/tracing"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

type cleanup struct {
	name string
	fn   func(ctx context.Context) error
}

// AppCtx 是交给各服务组装依赖时使用的上下文
type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config *Config
	// Ctx 在关停开始时被取消，后台 goroutine 应以它为根
	Ctx context.Context

	cleanups *[]cleanup
}

// OnShutdown 注册一个清理动作；关停时按注册的逆序执行
func (a AppCtx) OnShutdown(name string, fn func(ctx context.Context) error) {
	*a.cleanups = append(*a.cleanups, cleanup{name: name, fn: fn})
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	ConfigPath  string
	// RegisterHandlers 组装服务的依赖并注册 HTTP 路由
	RegisterHandlers func(appCtx AppCtx) error
}

// StartService 封装了通用的启动和优雅关停逻辑。
func StartService(info AppInfo) {
	// 1. 配置：文件 → 环境变量
	cfg, err := LoadConfig(info.ConfigPath)
	if err != nil {
		logger.Init(info.ServiceName, "info")
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(info.ServiceName, cfg.App.LogLevel)
	log := logger.Ctx(context.Background())
	SetCurrentConfig(cfg)
	OnConfigChange(func(c *Config) {
		if lvl, err := zerolog.ParseLevel(c.App.LogLevel); err == nil && c.App.LogLevel != "" {
			zerolog.SetGlobalLevel(lvl)
		}
	})

	// 2. Nacos：配置覆盖 + 服务注册
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.Addrs != "" {
		nacosClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.Addrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize nacos client")
		}
		watchRemoteConfig(nacosClient, cfg)
		cfg = GetCurrentConfig()
	}

	// 3. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer provider")
	}

	// 4. 组装服务
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	var cleanups []cleanup
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		appCtx := AppCtx{Mux: mux, Nacos: nacosClient, Config: cfg, Ctx: rootCtx, cleanups: &cleanups}
		if err := info.RegisterHandlers(appCtx); err != nil {
			log.Fatal().Err(err).Msg("Failed to assemble service")
		}
	}

	// 5. 创建并启动 HTTP Server
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.App.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("Could not listen")
		}
	}()

	var ip string
	if nacosClient != nil && cfg.Infra.Nacos.Register {
		if ip, err = getOutboundIP(); err != nil {
			log.Fatal().Err(err).Msg("Failed to get outbound IP address")
		}
		if err := nacosClient.RegisterServiceInstance(info.ServiceName, ip, cfg.App.Port); err != nil {
			log.Fatal().Err(err).Msg("Failed to register service with nacos")
		}
	}

	// 6. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Str("service", info.ServiceName).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// a. 先从注册中心摘除，再停止接收请求
	if ip != "" {
		if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, cfg.App.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	}

	// b. 停止后台任务，按注册逆序清理
	cancelRoot()
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(ctx); err != nil {
			log.Error().Err(err).Str("component", cleanups[i].name).Msg("Cleanup failed")
		}
	}

	// c. 刷出缓冲的 trace
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}
	if nacosClient != nil {
		nacosClient.Close()
	}
	log.Info().Str("service", info.ServiceName).Msg("Gracefully shut down")
}

// watchRemoteConfig 拉取配置中心的覆盖并监听后续变更
func watchRemoteConfig(client *nacos.Client, base *Config) {
	log := logger.Ctx(context.Background())
	dataID := base.Infra.Nacos.DataID

	apply := func(content string) {
		next, err := base.Overlay(content)
		if err != nil {
			log.Error().Err(err).Str("data_id", dataID).Msg("Ignoring invalid remote config")
			return
		}
		SetCurrentConfig(next)
		log.Info().Str("data_id", dataID).Msg("Remote config applied")
	}

	content, err := client.GetConfig(dataID)
	if err != nil {
		log.Warn().Err(err).Str("data_id", dataID).Msg("Remote config unavailable, using local config")
	} else {
		apply(content)
	}
	if err := client.ListenConfig(dataID, apply); err != nil {
		log.Warn().Err(err).Str("data_id", dataID).Msg("Failed to listen for remote config changes")
	}
}

// getOutboundIP 返回访问外网时使用的本机 IP，用于服务注册
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// GetEnv 从环境变量中读取配置，不存在时返回 fallback
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
