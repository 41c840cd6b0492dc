package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaconvert/artifacts"
	"mediaconvert/config"
	"mediaconvert/conversions"
	"mediaconvert/engine"
	"mediaconvert/identity"
	"mediaconvert/logger"
	"mediaconvert/quota"
	"mediaconvert/retention"
	"mediaconvert/routes"
	"mediaconvert/scheduler"
	"mediaconvert/store"
	"mediaconvert/transcode"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogFile, true); err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	logger.Info("Starting mediaconvert server initialization")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store
	logger.Debugf("Opening %s job store", cfg.StoreDriver)
	if cfg.StoreDriver == "pebble" {
		if err := os.MkdirAll(config.GetDataDir(), os.ModePerm); err != nil {
			logger.Fatalf("Failed to create data directory: %v", err)
		}
	}
	jobs, err := store.Open(ctx, cfg.StoreDriver, cfg.JobsDBPath, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to open job store: %v", err)
	}
	defer jobs.Close()
	logger.Info("Job store initialized successfully")

	// Artifact store
	blobs, err := artifacts.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize %s artifact store: %v", cfg.ArtifactBackend, err)
	}
	if c, ok := blobs.(io.Closer); ok {
		defer c.Close()
	}
	logger.Infof("Artifact store initialized (%s)", cfg.ArtifactBackend)

	transcoder := transcode.NewCommandTranscoder(transcode.Tools{
		FFmpeg:  cfg.FFmpegPath,
		FFprobe: cfg.FFprobePath,
		Magick:  cfg.MagickPath,
		Cwebp:   cfg.CwebpPath,
	})
	if missing := transcoder.CheckTools(); len(missing) > 0 {
		logger.Warnf("Conversion tools not found: %v; affected formats will fail", missing)
	}

	eng := engine.New(jobs, blobs, transcoder, engine.Options{
		JobTimeout:   cfg.JobTimeout,
		ImageTimeout: cfg.ImageTimeout,
		JobTTL:       cfg.JobTTL,
		ScratchDir:   cfg.ScratchDir,
	})

	// Jobs left processing by a previous run have no owner any more, unless
	// another replica shares the store
	sweeper := retention.NewSweeper(jobs, blobs, cfg.StaleAfter, cfg.FailedRetention)
	if cfg.SharedJobStore() {
		logger.Info("Job store is shared, interrupted jobs are left to the stale-jobs task")
	} else {
		logger.Info("Scanning for interrupted jobs on startup")
	}
	if n, err := sweeper.RecoverOrphans(ctx, cfg.SharedJobStore()); err != nil {
		logger.Errorf("Failed to scan for interrupted jobs: %v", err)
	} else if n > 0 {
		logger.Infof("Interrupted jobs scan completed (%d failed)", n)
	}

	optimizer := retention.NewOptimizer(jobs, blobs, cfg.KeepCount)
	locker, closeLocker := newLocker(ctx, cfg)
	defer closeLocker()
	sched := scheduler.New(locker)
	sched.Add("retention", cfg.RetentionInterval, func(ctx context.Context) error {
		_, err := optimizer.OptimizeAll(ctx)
		return err
	})
	sched.Add("stale-jobs", cfg.StaleInterval, func(ctx context.Context) error {
		_, err := sweeper.FailStale(ctx)
		return err
	})
	sched.Add("cleanup", cfg.CleanupInterval, func(ctx context.Context) error {
		_, err := sweeper.Cleanup(ctx)
		return err
	})
	sched.Start(ctx)

	verifier := identity.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer, time.Minute)
	if verifier == nil {
		logger.Warn("No JWT secret configured, every request is treated as anonymous")
	}

	svc := conversions.NewService(jobs, blobs, eng, quota.NewGuard(jobs, cfg.AnonymousDailyLimit), cfg.MaxUploadBytes)
	deps := routes.Deps{
		Conversions: svc,
		Resolver:    identity.NewResolver(verifier, cfg.TrustProxy),
		Checks: []routes.Check{
			{Name: "jobs", Ping: jobs.Ping},
			{Name: "artifacts", Ping: blobs.Ping},
		},
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if local, ok := blobs.(*artifacts.LocalStore); ok {
		deps.FilesDir = local.Dir()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("mediaconvert server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown failed: %v", err)
	}
	sched.Stop()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Conversions did not finish before shutdown: %v", err)
	}
	logger.Info("mediaconvert server stopped")
}

// newLocker returns a Redis-backed task lock when REDIS_ADDR is set so only
// one replica runs each maintenance task. Without Redis the lock is
// process-local.
func newLocker(ctx context.Context, cfg *config.Config) (scheduler.Locker, func()) {
	if cfg.RedisAddr == "" {
		return scheduler.NewLocalLocker(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Errorf("Failed to connect to Redis at %s, using a process-local task lock: %v", cfg.RedisAddr, err)
		rdb.Close()
		return scheduler.NewLocalLocker(), func() {}
	}
	logger.Info("Connected to Redis successfully")
	return scheduler.NewRedisLocker(rdb, ""), func() { rdb.Close() }
}
