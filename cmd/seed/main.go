package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-scheduling/internal/appointment"
	"github.com/hackgods/medical-appointment-scheduling/internal/config"
	"github.com/hackgods/medical-appointment-scheduling/internal/db"
	"github.com/hackgods/medical-appointment-scheduling/internal/logging"
	"github.com/hackgods/medical-appointment-scheduling/internal/profile"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Init("seed", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Init("seed", cfg.Env)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	_ = gofakeit.Seed(time.Now().UnixNano())

	profiles := profile.NewPgRepository(pool)
	schedules := appointment.NewPgRepository(pool)

	doctors := getInt("SEED_DOCTORS", 100)
	patients := getInt("SEED_PATIENTS", 9000)

	if err := seedDoctors(ctx, profiles, schedules, doctors, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, profiles, patients, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

// seedDoctors creates doctor profiles with a weekday schedule: a morning and an
// afternoon block split by a lunch break, with start times varying per doctor.
func seedDoctors(ctx context.Context, profiles profile.Repository, schedules *appointment.PgRepository, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		d := profile.DoctorSummary{
			ID:        uuid.New(),
			Name:      "Dr. " + gofakeit.Name(),
			Specialty: specialties[gofakeit.Number(0, len(specialties)-1)],
			UpdatedAt: now,
		}
		if err := profiles.UpsertDoctor(ctx, d); err != nil {
			return err
		}

		morningStart := appointment.NewTimeOfDay(gofakeit.Number(7, 9), 0)
		lunch := appointment.NewTimeOfDay(12, 0)
		afternoonEnd := appointment.NewTimeOfDay(gofakeit.Number(16, 19), 30*gofakeit.Number(0, 1))

		for day := time.Monday; day <= time.Friday; day++ {
			for _, w := range [][2]appointment.TimeOfDay{
				{morningStart, lunch},
				{lunch + 60, afternoonEnd},
			} {
				rule := &appointment.DoctorAvailability{
					ID:        uuid.New(),
					DoctorID:  d.ID,
					DayOfWeek: day,
					StartTime: w[0],
					EndTime:   w[1],
				}
				if err := schedules.InsertAvailability(ctx, rule); err != nil {
					return err
				}
			}
		}
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, profiles profile.Repository, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const progressEvery = 500

	now := time.Now().UTC()
	for i := 0; i < count; i++ {
		p := profile.PatientSummary{
			ID:        uuid.New(),
			Name:      gofakeit.Name(),
			Email:     gofakeit.Email(),
			UpdatedAt: now,
		}
		if err := profiles.UpsertPatient(ctx, p); err != nil {
			return err
		}
		if (i+1)%progressEvery == 0 || i+1 == count {
			logger.Info().Int("done", i+1).Int("total", count).Msg("patients seeded")
		}
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
