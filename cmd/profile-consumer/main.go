package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
	"github.com/hackgods/medical-appointment-scheduling/internal/db"
	"github.com/hackgods/medical-appointment-scheduling/internal/logging"
	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
	redisclient "github.com/hackgods/medical-appointment-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Init("profile-consumer", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("profile-consumer", cfg.Env)
	logger.Info().Str("channel", profile.Channel).Msg("profile-consumer starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresPool)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPool)
	cancelRedis()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	bus := redisclient.NewEventBus(rdb, logger)
	msgs, err := bus.Subscribe(rootCtx, profile.Channel)
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe error")
	}

	consumer := profile.NewConsumer(profile.NewPgRepository(pgPool), logger)
	consumer.Run(rootCtx, msgs)

	logger.Info().Msg("shutting down profile-consumer")
}
