// Maintenance CLI for operators: runs the cleanup jobs on demand and closes
// threads outside the normal appointment event flow.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"carechat/backend/internal/cleanup"
	"carechat/backend/internal/config"
	"carechat/backend/internal/ephemeral"
	"carechat/backend/internal/logger"
	"carechat/backend/internal/models"
	"carechat/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func usage() {
	fmt.Println("Usage: admin <command> [args]")
	fmt.Println("  cleanup                       remove ephemeral state of old terminal threads")
	fmt.Println("  archive                       archive threads past the retention window")
	fmt.Println("  sweep                         prune stale typing indicators")
	fmt.Println("  close <question_id> <status>  set appointment status (completed|cancelled|no_show)")
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	store := storage.NewService(db)
	state := ephemeral.NewState(ephemeral.NewRedisStore(rdb))
	janitor := cleanup.NewService(store, state, nil)

	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "cleanup":
		if err := janitor.CleanupTerminalThreads(time.Now()); err != nil {
			log.Fatalf("cleanup failed: %v", err)
		}
		fmt.Println("Terminal thread cleanup complete.")
	case "archive":
		if err := janitor.ArchiveOldThreads(time.Now()); err != nil {
			log.Fatalf("archive failed: %v", err)
		}
		fmt.Println("Archive pass complete.")
	case "sweep":
		if err := janitor.SweepEphemeral(); err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		fmt.Println("Ephemeral sweep complete.")
	case "close":
		if len(os.Args) != 4 {
			usage()
		}
		questionID := os.Args[2]
		status := models.AppointmentStatus(os.Args[3])
		if !status.Terminal() {
			fmt.Println("Status must be completed, cancelled or no_show.")
			os.Exit(1)
		}
		if err := janitor.HandleAppointmentStatus(questionID, status); err != nil {
			log.Fatalf("close failed: %v", err)
		}
		fmt.Printf("Question %s closed as %s.\n", questionID, status)
	default:
		usage()
	}
}
