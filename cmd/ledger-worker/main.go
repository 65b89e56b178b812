package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aifitworld/aifitworld-api/internal/config"
	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/database"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/retry"
)

type reconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (*ledger.ReconcileReport, error)
	ReconcileAll(ctx context.Context, batchSize int) (*ledger.ReconcileSummary, error)
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "ledger-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Dur("interval", cfg.ReconcileInterval).Msg("Starting ledger-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.LedgerStoreRetries
	svc := ledger.NewService(
		ledger.NewPostgresStore(db, cfg.LedgerStoreTimeout),
		ledger.WithCache(ledger.NewRedisBalanceCache(rdb, cfg.LedgerBalanceCacheTTL)),
		ledger.WithPublisher(ledger.NewRedisPublisher(rdb)),
		ledger.WithRetryPolicy(policy),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wake := make(chan string, 8)
	go subscribeWakeups(ctx, rdb, wake)

	run(ctx, svc, cfg.ReconcileInterval, cfg.ReconcileBatchSize, wake)
	log.Info().Msg("ledger-worker stopped")
}

// run reconciles everyone on each tick and on "all" wake-ups; a wake-up
// carrying a user id reconciles just that user.
func run(ctx context.Context, svc reconciler, interval time.Duration, batch int, wake <-chan string) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcileAll(ctx, svc, batch)
		case msg := <-wake:
			if msg == "all" {
				reconcileAll(ctx, svc, batch)
				continue
			}
			userID, err := uuid.Parse(msg)
			if err != nil {
				log.Warn().Str("message", msg).Msg("Ignoring malformed reconcile request")
				continue
			}
			report, err := svc.Reconcile(ctx, userID)
			if err != nil {
				log.Error().Err(err).Str("user_id", msg).Msg("Reconcile failed")
				continue
			}
			log.Info().
				Str("user_id", msg).
				Int64("drift", report.Drift).
				Bool("corrected", report.Corrected).
				Msg("User reconciled")
		}
	}
}

func reconcileAll(ctx context.Context, svc reconciler, batch int) {
	start := time.Now()
	summary, err := svc.ReconcileAll(ctx, batch)
	if err != nil {
		log.Error().Err(err).Msg("Reconcile pass failed")
		return
	}
	event := log.Info()
	if summary.Corrected > 0 {
		event = log.Warn()
	}
	event.
		Int("checked", summary.Checked).
		Int("corrected", summary.Corrected).
		Dur("took", time.Since(start)).
		Msg("Reconcile pass done")
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, wake chan<- string) {
	sub := rdb.Subscribe(ctx, ledger.ReconcileChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			select {
			case wake <- msg.Payload:
			default:
			}
		}
	}
}
