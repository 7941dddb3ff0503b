package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liuweiq/snsworker/config"
	"liuweiq/snsworker/internal/browser"
	"liuweiq/snsworker/internal/crawler"
	"liuweiq/snsworker/internal/proxybind"
	"liuweiq/snsworker/internal/ratelimit"
	"liuweiq/snsworker/internal/session"
	"liuweiq/snsworker/logger"
	"liuweiq/snsworker/services/cache"
	"liuweiq/snsworker/services/jobstore"
	"liuweiq/snsworker/services/publisher"
	"liuweiq/snsworker/services/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	godotenv.Load()

	logger.Init()
	log := logger.Default

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	profiles, err := config.Profiles(cfg.ProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load platform profiles")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("proxy_mode", cfg.ProxyMode).
		Str("cache_backend", cfg.CacheBackend).
		Msg("Starting crawl worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	engine := crawler.NewEngine(
		cfg,
		profiles,
		ratelimit.NewRegistry(),
		services.Proxies,
		services.Sessions,
		browser.NewRodDriver(cfg.Headless),
		crawler.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderToken, cfg.HTTPTimeout),
	)

	processor := worker.NewProcessor(
		engine,
		services.Jobs,
		services.Publisher,
		publisher.NewCallbackSender(cfg.CallbackTimeout),
		worker.BudgetConfig{Enabled: cfg.DailyBudgetEnabled, Units: cfg.DailyBudgetUnits},
	)
	w := worker.NewWorker(services.Jobs, processor, cfg.WorkerIdleSleep)

	workerDone := make(chan struct{})
	go func() {
		log.Info().Msg("Starting crawl worker loop")
		w.Start(ctx)
		close(workerDone)
	}()

	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		<-workerDone
	case <-workerDone:
		log.Info().Msg("Worker exited")
	}

	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services.
type Services struct {
	Cache     cache.CacheService
	Jobs      jobstore.Store
	Publisher publisher.Publisher
	Sessions  session.Store
	Proxies   *proxybind.Manager

	redis *redis.Client
}

// Cleanup closes everything in reverse dependency order.
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Jobs != nil {
		s.Jobs.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

// initializeServices wires the storage backends. Redis carries the job
// queue, result streams and session store; when it is unreachable the
// worker degrades to in-process stores so local runs still work.
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancel()

	if redisUp {
		services.redis = redisClient
		services.Jobs = jobstore.NewRedisStore(redisClient, cfg.JobQueueKey)
		services.Publisher = publisher.NewRedisPublisher(ctx, redisClient,
			cfg.ResultStreamName, cfg.ResultStreamCount, cfg.StreamMaxLength)
		services.Sessions = session.NewRedisStore(redisClient, cfg.SessionSecret,
			cfg.SessionMaxIdle, cfg.SessionFailThreshold)
		logger.Info("Connected to Redis at %s (DB: %d, queue: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.JobQueueKey)
	} else {
		redisClient.Close()
		services.Jobs = jobstore.NewMemoryStore()
		services.Publisher = publisher.NewNopPublisher()
		services.Sessions = session.NewMemoryStore(cfg.SessionMaxIdle, cfg.SessionFailThreshold)
		logger.Error("Redis unreachable at %s, running with in-memory stores", cfg.RedisAddr)
	}

	switch cfg.CacheBackend {
	case "memcache":
		services.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
		logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	case "redis":
		if !redisUp {
			services.Cache = cache.NewMemoryCacheService()
			break
		}
		services.Cache = cache.NewRedisCacheService(redisClient)
	default:
		services.Cache = cache.NewMemoryCacheService()
	}

	if mode := proxybind.Mode(cfg.ProxyMode); mode != proxybind.ModeOff {
		var source proxybind.Source
		if cfg.ProxyPoolEnabled {
			source = proxybind.NewPoolSource(nil)
		} else if cfg.ProxyServer != "" {
			source = proxybind.StaticSource{
				Server:   cfg.ProxyServer,
				Username: cfg.ProxyUsername,
				Password: cfg.ProxyPassword,
			}
		}
		if source != nil {
			services.Proxies = proxybind.NewManager(mode, cfg.ProxyTTL,
				cfg.ProxyRotateThreshold, services.Cache, source)
		} else {
			logger.Info("No proxy source configured, proxy binding disabled")
		}
	}

	return services, nil
}
