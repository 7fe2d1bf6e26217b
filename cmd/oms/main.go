package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/config"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/middleware"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/handler"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/repository"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/service"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/sse"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/cache"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/kafka"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/siigo"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/storage"
	"github.com/jecaicedo27/toppingfrozen-sub006/internal/shared/whatsapp"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	var configPath string
	rootCmd := &cobra.Command{
		Use:          "oms",
		Short:        "order management service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./configs/config.yaml)")
	rootCmd.AddCommand(
		serveCommand(&configPath),
		migrateCommand(&configPath),
		siigoCommand(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := initDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: zapLogger, db: db}, nil
}

func migrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			if err := migrate(a.db, a.logger); err != nil {
				return err
			}
			a.logger.Info("Database migration completed")
			return nil
		},
	}
}

func migrate(db *gorm.DB, zapLogger *zap.Logger) error {
	if err := db.AutoMigrate(entity.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, sql := range entity.PostMigrations {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("post migration warning", zap.String("sql", sql), zap.Error(err))
		}
	}
	return nil
}

func siigoCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siigo",
		Short: "SIIGO maintenance commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import [invoice-id]",
		Short: "import one invoice as an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			if !a.cfg.Siigo.Enabled() {
				return siigo.ErrNoCredentials
			}
			svc := service.NewServices(service.Deps{
				DB:     a.db,
				Repos:  repository.NewRepositories(a.db),
				Policy: policyFrom(a.cfg),
				Siigo:  newSiigoClient(a.cfg.Siigo, a.logger),
				Logger: a.logger,
			})
			res, err := svc.Siigo.ImportInvoice(cmd.Context(), args[0], entity.SyncManual)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s %s (%s, created=%v)\n", res.OrderNumber, res.OrderID, res.ParsingStatus, res.Created)
			return nil
		},
	})
	return cmd
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	cfg, zapLogger, db := a.cfg, a.logger, a.db

	zapLogger.Info("Starting oms service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	if err := migrate(db, zapLogger); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := service.Deps{
		DB:     db,
		Repos:  repository.NewRepositories(db),
		Policy: policyFrom(cfg),
		Logger: zapLogger,
	}

	rdb := initRedis(cfg.Redis)
	store := cache.New(rdb)
	if err := store.Ping(ctx); err != nil {
		zapLogger.Warn("Redis not reachable, packaging locks and balance cache disabled", zap.Error(err))
	} else {
		deps.Locks = store
		deps.Cache = store
	}

	if cfg.MinIO.Endpoint != "" {
		objects, err := storage.New(storage.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			zapLogger.Warn("MinIO init failed, evidence upload disabled", zap.Error(err))
		} else if err := objects.EnsureBucket(ctx); err != nil {
			zapLogger.Warn("MinIO bucket check failed, evidence upload disabled", zap.Error(err))
		} else {
			deps.Objects = objects
		}
	}

	var siigoClient *siigo.Client
	if cfg.Siigo.Enabled() {
		siigoClient = newSiigoClient(cfg.Siigo, zapLogger)
		deps.Siigo = siigoClient
	} else {
		zapLogger.Warn("SIIGO credentials missing, import and closure write-back disabled")
	}

	hub := sse.NewHub(zapLogger)
	deps.Notifier = hub

	services := service.NewServices(deps)

	var queue handler.Enqueuer
	if siigoClient != nil {
		scheduler := service.NewScheduler(services.Siigo, service.SchedulerConfig{
			PollInterval: cfg.Siigo.PollInterval,
			MaxBackoff:   cfg.Siigo.MaxBackoff,
			Lookback:     cfg.Siigo.Lookback,
		})
		queue = scheduler
		go scheduler.Run(ctx)
	}

	var sinks []service.OutboxSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			zapLogger.Warn("Kafka producer init failed, broker relay disabled", zap.Error(err))
		} else {
			defer producer.Close()
			sinks = append(sinks, service.NewBrokerSink(producer, cfg.Kafka.Topic))
		}
	}
	if cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "" {
		wa := whatsapp.NewClient(whatsapp.Config{
			BaseURL:       cfg.WhatsApp.BaseURL,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Language:      cfg.WhatsApp.Language,
		})
		sinks = append(sinks, service.NewCustomerMessageSink(wa, cfg.WhatsApp.Templates))
	}
	if len(sinks) > 0 {
		relay := service.NewOutboxRelay(db, deps.Repos.Outbox, zapLogger, sinks...)
		go relay.Run(ctx)
	}

	if err := handler.InitValidator(); err != nil {
		zapLogger.Warn("validator translations not registered", zap.Error(err))
	}
	handlers := handler.NewHandlers(services, hub, queue, zapLogger)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/sse"})))

	registerHealth(router, db, store)
	handler.RegisterRoutes(router, handlers, handler.RouteConfig{
		JWTSecret:    cfg.JWT.Secret,
		WebhookToken: cfg.Siigo.WebhookToken,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE connections are long-lived
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	rdb.Close()

	zapLogger.Info("Server exited")
	return nil
}

func registerHealth(r *gin.Engine, db *gorm.DB, store *cache.Store) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "database": err.Error()})
			return
		}
		redisStatus := "ok"
		if err := store.Ping(c.Request.Context()); err != nil {
			redisStatus = err.Error()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": redisStatus})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})
}

func policyFrom(cfg *config.Config) service.Policy {
	p := service.DefaultPolicy()
	// Load already rejected malformed amounts.
	p.CashTolerance, p.DepositTolerance, p.BaseBalance, _ = cfg.Reconciliation.Amounts()
	p.RequirePackagingEvidence = cfg.Packaging.RequireEvidence
	p.EnforcePackagingLock = cfg.Packaging.EnforceLock
	if cfg.Packaging.LockTTL > 0 {
		p.PackagingLockTTL = cfg.Packaging.LockTTL
	}
	if cfg.Reconciliation.BalanceCacheTTL > 0 {
		p.BalanceCacheTTL = cfg.Reconciliation.BalanceCacheTTL
	}
	return p
}

func newSiigoClient(cfg config.SiigoConfig, zapLogger *zap.Logger) *siigo.Client {
	return siigo.NewClient(siigo.Config{
		BaseURL:           cfg.BaseURL,
		Username:          cfg.Username,
		AccessKey:         cfg.AccessKey,
		PartnerID:         cfg.PartnerID,
		MinInterval:       cfg.MinInterval,
		MaxRetries:        cfg.MaxRetries,
		ReceiptDocumentID: cfg.ReceiptDocumentID,
		CashPaymentID:     cfg.CashPaymentID,
		TransferPaymentID: cfg.TransferPaymentID,
	}, zapLogger)
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
