package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixelvault/pixelvault/internal/config"
	"github.com/pixelvault/pixelvault/internal/database"
	"github.com/pixelvault/pixelvault/internal/httpapi"
	"github.com/pixelvault/pixelvault/internal/provider"
	"github.com/pixelvault/pixelvault/internal/repository"
	"github.com/pixelvault/pixelvault/internal/service"
	"github.com/pixelvault/pixelvault/internal/storage"
	"github.com/pixelvault/pixelvault/internal/worker"
	"github.com/pixelvault/pixelvault/pkg/logger"
)

const (
	refundGracePeriod = 5 * time.Minute
	reconcileBatch    = 100
	requeueBatch      = 500
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewJobRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	promoRepo := repository.NewPromoRepository(db)

	synth := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, logr)

	var uploader service.Uploader
	if cfg.RehostEnabled() {
		up, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = up
	}

	creditService := service.NewCreditService(logr, userRepo, jobRepo, ledgerRepo)
	apiKeyService := service.NewApiKeyService(logr, apiKeyRepo, userRepo)
	userService := service.NewUserService(logr, userRepo, creditService, apiKeyService, cfg.SignupBonusCredits)
	billingService := service.NewBillingService(logr, packageRepo, userRepo, ledgerRepo, cfg.DefaultCurrency)
	promoService := service.NewPromoService(logr, promoRepo, creditService)
	generationService := service.NewGenerationService(logr, jobRepo, creditService, synth, uploader, cfg.AttemptTimeout, cfg.RetryBackoff, cfg.MaxAttempts)

	pool := worker.NewPool(cfg.WorkerCount, cfg.QueueSize, generationService, logr)
	pool.Start(ctx)
	defer pool.Stop()

	jobService := service.NewJobService(logr, jobRepo, creditService, pool)

	if err := billingService.EnsureDefaultPackages(ctx); err != nil {
		log.Fatalf("ensure default packages: %v", err)
	}

	// Repair refunds lost to a crash between a job failing and its
	// compensating credit landing.
	if repaired, err := creditService.ReconcileRefunds(ctx, refundGracePeriod, reconcileBatch); err != nil {
		logr.Error("refund reconciliation failed", "err", err)
	} else if repaired > 0 {
		logr.Info("refund reconciliation repaired entries", "count", repaired)
	}

	// Jobs a previous process was running when it died are stuck in
	// processing; return them to pending so the requeue below retries them.
	// The cutoff leaves room for a full attempt cycle so a job started just
	// before a fast restart is not stolen from a still-draining worker.
	staleCutoff := time.Now().Add(-time.Duration(cfg.MaxAttempts) * (cfg.AttemptTimeout + cfg.RetryBackoff))
	if reset, err := jobRepo.ResetStaleProcessing(ctx, staleCutoff); err != nil {
		logr.Error("reset stale processing jobs failed", "err", err)
	} else if reset > 0 {
		logr.Info("reset stale processing jobs", "count", reset)
	}

	// Jobs admitted by a previous process but never started were only queued
	// in memory; put them back on the queue.
	if ids, err := jobRepo.ListPendingIDs(ctx, requeueBatch); err != nil {
		logr.Error("requeue pending jobs failed", "err", err)
	} else {
		for _, id := range ids {
			if err := pool.Enqueue(ctx, id); err != nil {
				logr.Error("requeue job failed", "job_id", id, "err", err)
				break
			}
		}
		if len(ids) > 0 {
			logr.Info("requeued pending jobs", "count", len(ids))
		}
	}

	server := httpapi.NewServer(cfg.ListenAddr, logr, userService, jobService, creditService, billingService, apiKeyService, promoService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
