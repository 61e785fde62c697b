package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/app"
	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/logger"
)

func main() {
	customers := flag.Int("customers", 2000, "number of fake customers")
	days := flag.Int("days", 14, "days of slots to generate from today")
	capacity := flag.Int("capacity", 40, "units per slot")
	tz := flag.String("timezone", "UTC", "venue timezone")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.Env).Named("seed")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedCustomers(ctx, a.Pool, *customers, log); err != nil {
		log.Fatal("seed customers", zap.Error(err))
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatal("timezone", zap.Error(err))
	}
	today := time.Now().In(loc)
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	serviceID := uuid.New()

	created, total, err := a.Booking.GenerateSlots(ctx, booking.SlotTemplate{
		ServiceID: serviceID,
		Location:  loc,
		From:      from,
		To:        from.AddDate(0, 0, *days-1),
		StartTimes: []time.Duration{
			12 * time.Hour,
			18 * time.Hour,
			20*time.Hour + 30*time.Minute,
		},
		Length:   90 * time.Minute,
		Capacity: *capacity,
	})
	if err != nil {
		log.Fatal("seed slots", zap.Error(err))
	}

	log.Info("seed complete",
		zap.Int("customers", *customers),
		zap.Stringer("service_id", serviceID),
		zap.Int("slots_created", created),
		zap.Int("slots_total", total),
	)
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, count int, log *zap.Logger) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO customers (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		log.Info("customers seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}
