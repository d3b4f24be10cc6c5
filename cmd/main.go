package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carechat/backend/internal/access"
	"carechat/backend/internal/api/handler"
	"carechat/backend/internal/attach"
	"carechat/backend/internal/auth"
	"carechat/backend/internal/chathub"
	"carechat/backend/internal/cleanup"
	"carechat/backend/internal/config"
	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/events"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"
	"carechat/backend/internal/notify"
	"carechat/backend/internal/ratelimit"
	"carechat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.L().Fatal("postgres connection failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.L().Fatal("redis connection failed", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Question{},
		&models.Appointment{},
		&models.Message{},
	); err != nil {
		logger.L().Fatal("migrations failed", zap.Error(err))
	}
	return db, rdb
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, relying on environment")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, rdb := setupDependencies(cfg)
	store := storage.NewService(db)
	state := ephemeral.NewState(ephemeral.NewRedisStore(rdb))
	evaluator := access.NewEvaluator(store)
	limiter := ratelimit.NewLimiter(rdb)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	var notifier *notify.TelegramNotifier
	if cfg.TelegramBotToken != "" {
		notifier, err = notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramOpsChatID)
		if err != nil {
			logger.L().Warn("telegram notifier disabled", zap.Error(err))
		}
	}

	// interface-typed so a nil *TelegramNotifier does not masquerade as a
	// non-nil interface value
	var hubNotifier chathub.Notifier
	var alerter cleanup.Alerter
	if notifier != nil {
		hubNotifier = notifier
		alerter = notifier
	}

	hub := chathub.NewManagerService(store, state, evaluator, limiter, hubNotifier)
	go hub.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitor := cleanup.NewService(store, state, alerter)
	if err := janitor.Start(ctx); err != nil {
		logger.L().Fatal("cleanup scheduler failed to start", zap.Error(err))
	}

	if cfg.AMQPURL != "" {
		consumer := events.NewAppointmentConsumer(cfg.AMQPURL, cfg.AppointmentEventQueue, janitor)
		go consumer.Run(ctx)
	} else {
		logger.L().Warn("amqp url not configured, appointment events disabled")
	}

	var attachments attach.ObjectStore
	if cfg.MinioEndpoint != "" {
		attachments, err = attach.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.L().Fatal("object store init failed", zap.Error(err))
		}
	} else {
		logger.L().Warn("object store not configured, file messages disabled")
	}

	r := gin.Default()
	h := handler.NewHandler(hub, store, verifier, evaluator, limiter, attachments)
	h.RegisterRoutes(r)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.L().Info("chat service listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Warn("shutdown incomplete", zap.Error(err))
	}
	hub.Stop()
}
