package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockbridge/internal/api"
	"stockbridge/internal/config"
	"stockbridge/internal/consumer"
	"stockbridge/internal/erp"
	"stockbridge/internal/metrics"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	"stockbridge/internal/scheduler"
	"stockbridge/internal/service"
	"stockbridge/pkg/logger"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// 2. Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 3. Initialize Infrastructure
	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = initRedis(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	locker, closeLocker, err := initLocker(cfg, rdb)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 4. Initialize Repositories
	queueRepo := repository.NewQueueRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	orderRepo := repository.NewPurchaseOrderRepository(db)
	inboxRepo := repository.NewInboxRepository(db)
	cursorRepo := repository.NewCursorRepository(db)
	clientRepo := repository.NewIntegrationClientRepository(db)

	// 5. Initialize Services
	observer := metrics.NewPrometheusObserver()

	transport := erp.NewHTTPTransport(erp.HTTPConfig{
		BaseURL:            cfg.ERP.BaseURL,
		Timeout:            cfg.ERP.Timeout,
		InsecureSkipVerify: cfg.ERP.InsecureSkipVerify,
		RequestsPerSecond:  cfg.ERP.RequestsPerSecond,
		LogPayloads:        cfg.ERP.LogPayloads,
	})
	sessions := erp.NewSessionManager(transport, erp.Credentials{
		CompanyDB: cfg.ERP.CompanyDB,
		UserName:  cfg.ERP.Username,
		Password:  cfg.ERP.Password,
	}, observer)

	policy, err := service.NewRetryPolicy(cfg.Dispatch.RetryPolicy, cfg.Dispatch.RetryDelay, cfg.Dispatch.MaxAttempts)
	if err != nil {
		return err
	}
	dispatcher := service.NewDispatcher(db, queueRepo, docRepo, auditRepo, orderRepo, sessions, policy, observer, service.DispatcherOptions{
		StaleAfter:         cfg.Dispatch.StaleAfter,
		ReclaimUnconfirmed: cfg.Dispatch.ReclaimUnconfirmed,
	})

	clock := service.NewSourceClock(cfg.Source.Timezone, cfg.Source.TZOffsetMinutes)
	cursors := service.NewCursorStore(cursorRepo, clock, cfg.Sync.Lookback)

	var poSync *service.PurchaseOrderSync
	if cfg.Source.DSN != "" {
		sourceDB, err := initSourceDB(cfg.Source)
		if err != nil {
			return err
		}
		poSync = service.NewPurchaseOrderSync(
			repository.NewSQLOrderSource(sourceDB, cfg.Source.QueryTimeout),
			orderRepo, cursors, clock,
			service.PurchaseOrderSyncConfig{BatchSize: cfg.Source.BatchSize, Overlap: cfg.Sync.Overlap},
			observer,
		)
	} else {
		logger.Warn("source.dsn not set, purchase order sync disabled")
	}

	docSvc := service.NewDocumentService(db, docRepo, queueRepo, auditRepo)
	authSvc := service.NewAuthService(rdb, cfg.Auth)

	// 6. Initialize Jobs (Background Tasks)
	dispatchJob := scheduler.NewJob("dispatch", cfg.Dispatch.Interval, cfg.ERP.Timeout*time.Duration(max(cfg.Dispatch.BatchSize, 1)), locker, observer,
		func(ctx context.Context) error {
			_, err := dispatcher.DispatchBatch(ctx, cfg.Dispatch.BatchSize)
			return err
		})
	syncJob := scheduler.NewJob("purchase_order_sync", cfg.Sync.Interval, cfg.Sync.Interval, locker, observer,
		func(ctx context.Context) error {
			if poSync == nil {
				return nil
			}
			_, err := poSync.SyncOnce(ctx)
			return err
		})

	integration := service.NewIntegration(dispatcher, poSync, cursors, auditRepo, dispatchJob, syncJob, cfg.Dispatch.BatchSize)

	sched := scheduler.New()
	if cfg.Dispatch.Enabled {
		sched.Add(dispatchJob)
	}
	if cfg.Sync.Enabled && poSync != nil {
		sched.Add(syncJob)
	}
	sched.Start(ctx)

	var kafkaConsumer *consumer.Consumer
	if cfg.Kafka.Enabled {
		router := service.NewPOEventRouter(service.NewInbox(inboxRepo, observer), orderRepo)
		kafkaConsumer = consumer.New(consumer.NewReader(cfg.Kafka), router, cfg.Kafka.MaxAttempts, cfg.Kafka.RetryBackoff)
		go func() {
			logger.Info("starting purchase order event consumer", zap.Strings("topics", cfg.Kafka.Topics))
			if err := kafkaConsumer.Run(ctx); err != nil {
				logger.Error("event consumer stopped", zap.Error(err))
			}
		}()
	}

	// 7. Setup HTTP Server
	checks := map[string]api.HealthCheck{"database": auditRepo.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	handlers := api.Handlers{
		Documents:   api.NewDocumentHandler(docSvc, integration),
		Integration: api.NewIntegrationHandler(integration),
		Health:      api.NewHealthHandler(checks),
	}
	if rdb != nil {
		handlers.Auth = api.NewAuthHandler(authSvc)
	} else {
		logger.Warn("redis.addr not set, operator login disabled")
	}
	r := api.RegisterRoutes(handlers, api.RouterOptions{
		ClientKeys:        clientRepo,
		Redis:             rdb,
		JWTSecret:         []byte(cfg.Auth.JWTSecret),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Env:               cfg.Server.Environment,
		DevPass:           cfg.Auth.DevPass,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Start Server
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown Signal Wait
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	// Create a deadline to wait for current requests to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Signal all workers to stop and let in-flight items settle
	cancel()
	sched.Wait()
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			logger.Warn("event consumer close failed", zap.Error(err))
		}
	}
	sessions.Close(shutdownCtx)

	logger.Info("server exited properly")
	return nil
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

// initLocker picks the cross-instance job lock. "none" relies on the
// in-process guard alone.
func initLocker(cfg *config.Config, rdb *redis.Client) (scheduler.Locker, func(), error) {
	switch cfg.Scheduler.LockBackend {
	case "", "none":
		return scheduler.NopLocker{}, func() {}, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("scheduler.lock_backend=redis needs redis.addr")
		}
		return scheduler.NewRedisLocker(redislock.New(rdb), cfg.Scheduler.LockTTL), func() {}, nil
	case "etcd":
		cli, err := initEtcd(cfg.Etcd)
		if err != nil {
			return nil, nil, err
		}
		ttl := int(cfg.Scheduler.LockTTL.Seconds())
		session, err := concurrency.NewSession(cli, concurrency.WithTTL(max(ttl, 5)))
		if err != nil {
			cli.Close()
			return nil, nil, fmt.Errorf("failed to open etcd session: %w", err)
		}
		return scheduler.NewEtcdLocker(session), func() {
			session.Close()
			cli.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown scheduler.lock_backend %q", cfg.Scheduler.LockBackend)
	}
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		logger.Warn("failed to install otelgorm plugin", zap.Error(err))
	}

	// Simple auto-migrate for dev convenience
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// initSourceDB opens the ERP's SQL Server database. It is only read.
func initSourceDB(cfg config.SourceConfig) (*gorm.DB, error) {
	db, err := gorm.Open(sqlserver.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}
