package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"hireline/internal/config"
	"hireline/internal/database"
	"hireline/internal/metrics"
	"hireline/internal/tasks"
	"hireline/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
	})

	scoreHandler := worker.NewResumeScoreHandler(db, worker.HeuristicScorer{}, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeResumeScore, scoreHandler)

	logger.Info("worker service started", slog.String("redis_addr", cfg.Redis.Addr()))

	if err := server.Run(mux); err != nil {
		log.Fatalf("run worker server: %v", err)
	}
}
