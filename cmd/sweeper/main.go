package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-scheduling/internal/appointment"
	"github.com/hackgods/medical-appointment-scheduling/internal/config"
	"github.com/hackgods/medical-appointment-scheduling/internal/db"
	"github.com/hackgods/medical-appointment-scheduling/internal/logging"
	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
	redisclient "github.com/hackgods/medical-appointment-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Init("sweeper", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("sweeper", cfg.Env)
	logger.Info().
		Dur("reminder_interval", cfg.ReminderSweepInterval).
		Dur("no_show_interval", cfg.NoShowSweepInterval).
		Dur("drain_interval", cfg.ReminderDrainInterval).
		Msg("sweeper starting up")

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
	delayed := redisclient.NewDelayedQueue(rdb, redisclient.DefaultDelayedKey)
	publisher := appointment.NewBusPublisher(bus, delayed)
	profiles := profile.NewDirectory(profile.NewPgRepository(pgPool), logger)
	sweeper := appointment.NewSweeper(appointment.NewPgRepository(pgPool), publisher, profiles, cfg.Rules, logger)

	// Run once at startup
	runReminders(rootCtx, sweeper, logger)
	runNoShows(rootCtx, sweeper, logger)
	drainDelayed(rootCtx, delayed, bus, logger)

	reminderTicker := time.NewTicker(cfg.ReminderSweepInterval)
	defer reminderTicker.Stop()
	drainTicker := time.NewTicker(cfg.ReminderDrainInterval)
	defer drainTicker.Stop()

	// the no-show pass fires on wall-clock multiples of its interval
	noShowTimer := time.NewTimer(time.Until(appointment.NextAlignedRun(time.Now(), cfg.NoShowSweepInterval)))
	defer noShowTimer.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweeper")
			return
		case <-reminderTicker.C:
			runReminders(rootCtx, sweeper, logger)
		case <-drainTicker.C:
			drainDelayed(rootCtx, delayed, bus, logger)
		case <-noShowTimer.C:
			runNoShows(rootCtx, sweeper, logger)
			noShowTimer.Reset(time.Until(appointment.NextAlignedRun(time.Now(), cfg.NoShowSweepInterval)))
		}
	}
}

func runReminders(ctx context.Context, sweeper *appointment.Sweeper, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	res, err := sweeper.RunReminders(runCtx, start)
	if err != nil {
		logger.Error().Err(err).Msg("reminder sweep error")
		return
	}
	logger.Info().
		Int("sent_24h", res.Sent24h).
		Int("sent_1h", res.Sent1h).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("reminder sweep complete")
}

func runNoShows(ctx context.Context, sweeper *appointment.Sweeper, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	n, err := sweeper.RunNoShows(runCtx, start)
	if err != nil {
		logger.Error().Err(err).Int("marked", n).Msg("no-show sweep error")
		return
	}
	logger.Info().Int("marked", n).Dur("took", time.Since(start)).Msg("no-show sweep complete")
}

func drainDelayed(ctx context.Context, delayed *redisclient.DelayedQueue, bus *redisclient.EventBus, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := delayed.DrainDue(runCtx, bus, appointment.ChannelReminders, time.Now())
	if err != nil {
		logger.Error().Err(err).Int("released", n).Msg("delayed reminder drain error")
		return
	}
	if n > 0 {
		logger.Info().Int("released", n).Msg("released delayed reminders")
	}
}
