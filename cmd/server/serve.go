package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/socialnet/backend/internal/api"
	"github.com/socialnet/backend/internal/auth"
	"github.com/socialnet/backend/internal/cache"
	"github.com/socialnet/backend/internal/config"
	"github.com/socialnet/backend/internal/db"
	"github.com/socialnet/backend/internal/encoder"
	"github.com/socialnet/backend/internal/health"
	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/media"
	"github.com/socialnet/backend/internal/metrics"
	"github.com/socialnet/backend/internal/reconcile"
	"github.com/socialnet/backend/internal/storage"
	"github.com/socialnet/backend/internal/sweeper"
	"github.com/socialnet/backend/internal/transcode"
	"github.com/socialnet/backend/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the transcoding workers",
	RunE:  runServe,
}

// backends are the stores selected by JOB_STORE.
type backends struct {
	database *db.DB
	cache    *cache.Cache
	jobs     transcode.Store
	media    media.Store
	courses  reconcile.CourseContent
}

func (b *backends) close() {
	if b.cache != nil {
		b.cache.Close()
	}
	if b.database != nil {
		b.database.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if cfg.JobStore != config.StoreMemory {
		database, err := db.New(cfg.DatabaseDSN())
		if err != nil {
			return nil, err
		}
		b.database = database
		if err := database.Migrate(ctx); err != nil {
			b.close()
			return nil, err
		}
	}

	c, err := cache.New(cfg.RedisURL)
	switch {
	case err == nil:
		b.cache = c
	case cfg.JobStore == config.StoreRedis:
		b.close()
		return nil, fmt.Errorf("redis job store: %w", err)
	default:
		log.Warn(ctx, "redis unavailable, running without cache and event bus", err)
	}

	switch cfg.JobStore {
	case config.StorePostgres:
		b.jobs = db.NewJobRepository(b.database)
	case config.StoreRedis:
		b.jobs = transcode.NewRedisStore(b.cache.Client())
	default:
		b.jobs = transcode.NewMemoryStore()
	}

	if b.database != nil {
		b.media = db.NewMediaRepository(b.database)
		b.courses = db.NewCourseRepository(b.database)
	} else {
		b.media = media.NewMemoryStore()
		b.courses = reconcile.NewMemoryCourses()
	}
	if b.cache != nil {
		b.media = media.NewCachedStore(b.media, b.cache, media.DefaultCacheTTL)
	}

	return b, nil
}

// bucketEnsurer is implemented by drivers that can create their bucket.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	blobs, err := storage.New(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if be, ok := blobs.(bucketEnsurer); ok {
		if err := be.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}

	enc, err := encoder.New(encoder.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		WorkDir:     cfg.WorkDir,
		Logger:      log.WithComponent("encoder"),
	})
	if err != nil {
		return err
	}
	if err := enc.CheckBinaries(); err != nil {
		log.Warn(ctx, "encoder binaries missing, jobs will fail until installed", err)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	m := metrics.New()
	dispatcher := transcode.NewDispatcher(transcode.DispatcherConfig{
		Store:       b.jobs,
		Encoder:     enc,
		Blobs:       blobs,
		Recorder:    m,
		Logger:      log.WithComponent("dispatcher"),
		WorkerCount: cfg.WorkerCount,
		QueueSize:   cfg.QueueSize,
		EventBuffer: cfg.EventBuffer,
		JobTimeout:  cfg.JobTimeout,
	})
	m.SetQueueStats(dispatcher.Stats)

	// websocket hub outlives the dispatcher so the last events still reach clients
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(log.WithComponent("websocket"))
	hub.SetCounter(m)
	go hub.Run(hubCtx)
	notifier := websocket.NewNotifier(hub)

	fanout := transcode.NewFanout(log.WithComponent("events")).
		Add("reconciler", reconcile.New(b.media, b.courses, log.WithComponent("reconcile")))

	if b.cache != nil && cfg.PublishRedis {
		fanout.Add("redis", transcode.NewRedisPublisher(b.cache.Client()))

		sub := transcode.SubscribeAllEvents(hubCtx, b.cache.Client())
		defer sub.Close()
		if err := sub.Ready(ctx); err != nil {
			return fmt.Errorf("subscribe to job events: %w", err)
		}
		go websocket.Relay(hubCtx, sub.Channel(), notifier)
	} else {
		fanout.Add("websocket", notifier)
	}

	fanoutDone := make(chan struct{})
	go func() {
		defer close(fanoutDone)
		fanout.Run(dispatcher.Events())
	}()

	if err := dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	dispatcher.Start()

	sw, err := sweeper.New(sweeper.Config{
		Dir:      enc.WorkDir(),
		MaxAge:   cfg.SweepMaxAge,
		Schedule: cfg.SweepSchedule,
		Requeuer: dispatcher,
		Logger:   log.WithComponent("sweeper"),
	})
	if err != nil {
		return err
	}
	sw.Start()

	authService := auth.NewService(cfg.JWTSecret)
	checker := health.NewChecker(&health.CheckerConfig{
		DB:           sqlDB(b.database),
		Redis:        redisClient(b.cache),
		StorageCheck: blobs.Ping,
		EncoderCheck: func(context.Context) error { return enc.CheckBinaries() },
		Probes: []health.Probe{{
			Name:     "queue",
			Optional: true,
			Check: func(context.Context) error {
				if s := dispatcher.Stats(); s.Queued >= s.Capacity {
					return transcode.ErrQueueFull
				}
				return nil
			},
		}},
		Version: Version,
	})

	router := api.NewRouter(api.RouterConfig{
		Auth:           authService,
		Transcode:      transcode.NewService(b.jobs, dispatcher),
		Enricher:       media.NewEnricher(b.media, log.WithComponent("enrich")),
		Health:         health.NewHandler(checker),
		Metrics:        m,
		WS:             websocket.NewHandler(hub, authService, cfg.AllowedOrigins),
		Logger:         log.WithComponent("api"),
		AllowedOrigins: cfg.AllowedOrigins,
		UploadDir:      cfg.UploadDir,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", logger.Fields{
			"addr":      cfg.ServerAddr,
			"job_store": cfg.JobStore,
			"workers":   cfg.WorkerCount,
			"queue":     cfg.QueueSize,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
	case err := <-serverErr:
		if err != nil {
			log.Error(context.Background(), "server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown incomplete", err)
	}
	if err := sw.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "sweeper stop incomplete", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "dispatcher stop incomplete", err)
	}

	select {
	case <-fanoutDone:
	case <-shutdownCtx.Done():
		log.Warn(shutdownCtx, "event delivery did not finish", shutdownCtx.Err())
	}
	stopHub()

	log.Info(context.Background(), "shutdown complete")
	return nil
}

func sqlDB(d *db.DB) *sql.DB {
	if d == nil {
		return nil
	}
	return d.DB
}

func redisClient(c *cache.Cache) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}
