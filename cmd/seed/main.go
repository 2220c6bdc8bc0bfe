package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/etiba/appointment-scheduling/internal/appointment"
	"github.com/etiba/appointment-scheduling/internal/config"
	"github.com/etiba/appointment-scheduling/internal/db"
	"github.com/etiba/appointment-scheduling/internal/logger"
	"github.com/etiba/appointment-scheduling/internal/schedule"
)

var timezones = []string{
	"UTC",
	"Europe/London",
	"Europe/Berlin",
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Asia/Tokyo",
	"Australia/Sydney",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, lg); err != nil {
		lg.Fatal("migrations failed", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctors := envInt("SEED_DOCTORS", 25)
	patients := envInt("SEED_PATIENTS", 2000)

	if err := seedDoctors(ctx, pool, lg, doctors); err != nil {
		lg.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, lg, patients); err != nil {
		lg.Fatal("seed patients", zap.Error(err))
	}

	lg.Info("seed complete", zap.Int("doctors", doctors), zap.Int("patients", patients))
}

// seedDoctors inserts doctors with a Mon-Fri 09:00-17:00 week and a 12:00-13:00
// break. Roughly one in five also gets an upcoming unavailability period.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, lg *zap.Logger, count int) error {
	lg.Info("seeding doctors", zap.Int("count", count))

	repo := appointment.NewPgRepository(pool)
	breakStart := schedule.MustTimeOfDay("12:00")
	breakEnd := schedule.MustTimeOfDay("13:00")

	week := make([]schedule.WeeklySlot, 0, 5)
	for day := schedule.Monday; day <= schedule.Friday; day++ {
		week = append(week, schedule.WeeklySlot{
			Day:        day,
			Start:      schedule.MustTimeOfDay("09:00"),
			End:        schedule.MustTimeOfDay("17:00"),
			BreakStart: &breakStart,
			BreakEnd:   &breakEnd,
			Active:     true,
		})
	}

	return repo.WithTx(ctx, func(ctx context.Context) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			tz := timezones[gofakeit.Number(0, len(timezones)-1)]

			if _, err := db.Conn(ctx, pool).Exec(ctx, `
				INSERT INTO doctors (id, user_id, full_name, timezone)
				VALUES ($1, $2, $3, $4)
			`, id, uuid.New(), "Dr. "+gofakeit.Name(), tz); err != nil {
				return err
			}

			if _, err := repo.ReplaceWeeklySlots(ctx, id, week); err != nil {
				return err
			}

			if gofakeit.Number(1, 5) == 1 {
				from := schedule.DateOf(time.Now().AddDate(0, 0, gofakeit.Number(7, 60)))
				if err := repo.CreateUnavailability(ctx, &schedule.UnavailabilityPeriod{
					DoctorID:  id,
					StartDate: from,
					EndDate:   from.AddDate(0, 0, gofakeit.Number(0, 6)),
					Reason:    gofakeit.RandomString([]string{"vacation", "conference", "training"}),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, lg *zap.Logger, count int) error {
	lg.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				if _, err := tx.Exec(ctx, `
					INSERT INTO patients (id, user_id, full_name, email)
					VALUES ($1, $2, $3, $4)
				`, uuid.New(), uuid.New(), gofakeit.Name(), gofakeit.Email()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		lg.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
