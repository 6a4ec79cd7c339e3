// cmd/dispatch-service/main.go
package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"dispatch/internal/pkg/bootstrap"
	"dispatch/internal/pkg/httpclient"
	"dispatch/internal/pkg/logger"
	"dispatch/internal/pkg/mq"
	"dispatch/internal/pkg/nacos"
	"dispatch/internal/pkg/redis"
	"dispatch/internal/service/dispatch/application"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"
	"dispatch/internal/service/dispatch/infrastructure"
	"dispatch/internal/service/dispatch/infrastructure/adapter"
	"dispatch/internal/service/dispatch/infrastructure/rule"
	"dispatch/internal/service/dispatch/interfaces"
	"dispatch/internal/zookeeper"

	"go.opentelemetry.io/otel"
)

const (
	serviceName     = "dispatch-service"
	batchLockName   = "auto-batch"
	runJournalLimit = 500
)

// main 函数是应用的"组装根" (Composition Root)
func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		ConfigPath:       bootstrap.GetEnv("CONFIG_FILE", "configs/dispatch.yaml"),
		RegisterHandlers: assemble,
	})
}

// assemble 创建并组装所有依赖项，注册路由并启动后台任务
func assemble(app bootstrap.AppCtx) error {
	cfg := app.Config
	log := logger.Ctx(app.Ctx)
	tracer := otel.Tracer(serviceName)

	// 1. 上游 REST API
	baseURL, err := resolveBaseURL(cfg.API, app.Nacos)
	if err != nil {
		return err
	}
	client := httpclient.NewClient(tracer, baseURL, cfg.API.Token, cfg.API.Timeout)
	orders := adapter.NewOrderHTTPAdapter(client)
	shipments := adapter.NewShipmentHTTPAdapter(client)

	// 2. 可选的资格规则
	var filter port.OrderFilter
	if cfg.Batching.Eligibility != "" {
		celFilter, err := rule.NewCELOrderFilter(cfg.Batching.Eligibility)
		if err != nil {
			return err
		}
		filter = celFilter
		log.Info().Str("rule", celFilter.String()).Msg("Eligibility rule enabled")
	}

	// 3. 签名存储：配置了 Redis 时跨实例共享
	var store port.SignatureStore = adapter.NewMemorySignatureStore()
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return err
		}
		app.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
		redisStore, err := adapter.NewRedisSignatureStore(redisClient, cfg.App.Session, cfg.App.SessionTTL)
		if err != nil {
			return err
		}
		store = redisStore
	}

	// 4. 跨实例分批锁
	var lock port.BatchLock
	if cfg.Infra.ZooKeeper.Servers != "" {
		conn, err := zookeeper.Connect(cfg.Infra.ZooKeeper.Servers, cfg.Infra.ZooKeeper.SessionTimeout)
		if err != nil {
			return err
		}
		app.OnShutdown("zookeeper", func(context.Context) error { conn.Close(); return nil })
		zkLock, err := zookeeper.NewDistributedLock(conn, batchLockName+"-"+cfg.App.Session)
		if err != nil {
			return err
		}
		lock = adapter.NewZookeeperBatchLock(zkLock)
	}

	// 5. 分批流水
	var runs domain.BatchRunRepository = infrastructure.NewMemoryBatchRunRepository(runJournalLimit)
	if cfg.Infra.MySQL.DSN != "" {
		db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL.DSN)
		if err != nil {
			return err
		}
		app.OnShutdown("mysql", func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		runs = infrastructure.NewGormBatchRunRepository(db)
	}

	// 6. 提示：WebSocket 总是启用，Kafka 可选
	hub := interfaces.NewNoticeHub()
	app.OnShutdown("notice-hub", func(context.Context) error { hub.Close(); return nil })
	notices := adapter.FanoutPublisher{hub}
	brokers := cfg.KafkaBrokers()
	if len(brokers) > 0 {
		writer := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.NoticeTopic)
		app.OnShutdown("kafka-writer", func(context.Context) error { return writer.Close() })
		notices = append(notices, adapter.NewNoticeKafkaAdapter(writer))
	}

	// 7. 应用服务
	grouper := application.NewBatchGrouper(shipments, filter, cfg.Batching.Concurrency, tracer)
	trigger := application.NewAutoBatchTrigger(grouper, store, lock, notices, runs, tracer)
	service := application.NewDispatchApplicationService(orders, shipments, grouper, trigger, notices, runs, tracer,
		application.Options{PageSize: cfg.Batching.PageSize, MaxPages: cfg.Batching.MaxPages})

	// 8. 驱动适配器
	poller := interfaces.NewOrderPoller(service, cfg.Batching.PollInterval)
	service.SetRefresher(poller)
	poller.Start(app.Ctx)
	app.OnShutdown("order-poller", poller.Stop)

	if len(brokers) > 0 {
		reader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.StatusTopic, cfg.Infra.Kafka.GroupID)
		consumer := interfaces.NewStatusEventConsumer(reader, service)
		consumer.Start(app.Ctx)
		app.OnShutdown("status-consumer", func(context.Context) error { return consumer.Stop() })
	}

	interfaces.NewDispatchHandler(service, hub).RegisterRoutes(app.Mux)
	return nil
}

// resolveBaseURL 在配置了服务名时通过 Nacos 找到一个健康的上游实例
func resolveBaseURL(api bootstrap.APIConfig, nacosClient *nacos.Client) (string, error) {
	if api.DiscoveryService == "" || nacosClient == nil {
		return api.BaseURL, nil
	}
	ip, port, err := nacosClient.DiscoverServiceInstance(api.DiscoveryService)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(api.BaseURL)
	if err != nil || u.Scheme == "" {
		return fmt.Sprintf("http://%s:%d", ip, port), nil
	}
	u.Host = ip + ":" + strconv.Itoa(port)
	return u.String(), nil
}
