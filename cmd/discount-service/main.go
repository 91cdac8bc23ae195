// cmd/discount-service/main.go
package main

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"cafeteria/internal/pkg/bootstrap"
	"cafeteria/internal/pkg/clock"
	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/pkg/secret"
	"cafeteria/internal/service/discount/application"
	"cafeteria/internal/service/discount/infrastructure"
	"cafeteria/internal/service/discount/infrastructure/adapter"
	"cafeteria/internal/service/discount/infrastructure/rule"
	"cafeteria/internal/service/discount/interfaces"
	"cafeteria/internal/service/discount/port"
	"cafeteria/internal/zookeeper"
)

// main 函数是应用的"组装根" (Composition Root)
// 负责根据配置创建并组装所有依赖，然后启动服务。
func main() {
	cfg, err := bootstrap.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel, cfg.Service.LogPretty)

	clk, err := clock.NewSystem(cfg.Service.TimeZone)
	if err != nil {
		log.Fatal().Err(err).Str("time_zone", cfg.Service.TimeZone).Msg("load time zone")
	}

	db, err := infrastructure.OpenMySQL(mysqlConfig(cfg.Infra.MySQL), clk.Location)
	if err != nil {
		log.Fatal().Err(err).Msg("open mysql")
	}
	store := infrastructure.NewGormStore(db)
	if cfg.Infra.MySQL.AutoMigrate {
		if err := store.AutoMigrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("migrate discount tables")
		}
	}

	engine, err := rule.NewCELEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("build rule engine")
	}

	// 关闭时按逆序释放资源
	var closers []io.Closer
	closers = append(closers, sqlCloser{db})

	locker, closer, err := newLocker(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("lock", cfg.Discount.Lock).Msg("build locker")
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	var publisher port.EventPublisher
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		writer := adapter.NewKafkaWriter(cfg.Infra.Kafka.Brokers)
		closers = append(closers, writer)
		publisher = adapter.NewKafkaEventPublisher(writer, cfg.Infra.Kafka.Topic)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	validator := application.NewValidator(store, store, store, clk, secret.NewVerifier(cfg.Discount.HashTokens), engine)
	service := application.NewDiscountService(
		validator,
		store,
		clk,
		application.Policy{
			BarcodeActiveDuration: cfg.Discount.BarcodeActiveDuration,
			TaggingMinInterval:    cfg.Discount.TaggingMinInterval,
			RequireFirstToday:     cfg.Discount.RequireFirstToday,
			OperationTimeout:      cfg.Discount.OperationTimeout,
			PublishTimeout:        cfg.Discount.PublishTimeout,
		},
		locker,
		publisher,
		otel.Tracer(cfg.Service.Name),
		application.NewMetrics(registry),
	)
	handler := interfaces.NewDiscountHandler(service, registry)

	err = bootstrap.StartService(context.Background(), cfg, bootstrap.AppInfo{
		ServiceName: cfg.Service.Name,
		Port:        cfg.Service.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(context.Context) {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i].Close(); err != nil {
					log.Error().Err(err).Msg("release resource")
				}
			}
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("discount service stopped")
	}
}

func newLocker(cfg *bootstrap.Config) (port.Locker, io.Closer, error) {
	switch cfg.Discount.Lock {
	case bootstrap.LockRedis:
		rc := cfg.Infra.Redis
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return adapter.NewRedisLocker(client, rc.KeyPrefix, rc.LockTTL, rc.LockWait), client, nil
	case bootstrap.LockZookeeper:
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		return adapter.NewZookeeperLocker(conn, cfg.Infra.Zookeeper.LockWait), zkCloser{conn: conn}, nil
	default:
		return adapter.NewLocalLocker(), nil, nil
	}
}

func mysqlConfig(c bootstrap.MySQLConfig) infrastructure.MySQLConfig {
	return infrastructure.MySQLConfig{
		DSN:             c.DSN,
		Addr:            c.Addr,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

type sqlCloser struct{ db *gorm.DB }

func (c sqlCloser) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type zkCloser struct{ conn interface{ Close() } }

func (c zkCloser) Close() error {
	c.conn.Close()
	return nil
}
