package main

import (
	"context"
	"errors"
	"log"
	"os"

	"task-master/backend/internal/cache"
	"task-master/backend/internal/config"
	"task-master/backend/internal/database"
	"task-master/backend/internal/events"
	"task-master/backend/internal/middleware"
	"task-master/backend/internal/monitoring"
	"task-master/backend/internal/server"
	"task-master/backend/internal/services"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Println("=== Task Master API ===")
	log.Printf("Environment: %s", cfg.Server.Environment)
	log.Printf("Listen address: %s", cfg.GetServerAddr())
	log.Printf("Redis configured: %t", cfg.HasRedis())

	manager := database.NewManager(&database.PoolConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		LogLevel:        database.ParseLogLevel(cfg.Database.LogLevel),
		AutoMigrate:     cfg.Database.AutoMigrate,
	}, database.WithConnectTimeout(cfg.Database.ConnectTimeout))

	// warm the pool so the first request does not pay for the connect
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer cancel()
		if _, err := manager.Acquire(ctx); err != nil {
			log.Printf("[database] warm-up failed, will retry on demand: %v", err)
		}
	}()

	monitor := monitoring.NewMonitor()
	monitor.RegisterHealthCheck("database", true, manager.Health)
	monitor.RegisterStats("database", manager.Stats)

	var (
		redisClient *redis.Client
		shared      cache.Cache
		notifier    services.ChangeNotifier
		subscriber  *events.Subscriber
	)

	origin := events.NewOrigin()

	if cfg.HasRedis() {
		redisClient, err = cache.NewRedisClient(&cache.CacheConfig{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to configure redis: %v", err)
		}

		redisCache := cache.NewRedisCacheWithClient(redisClient, nil)
		shared = redisCache
		notifier = events.NewPublisher(redisClient, origin)
		monitor.RegisterHealthCheck("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var taskService services.TaskService = services.NewTaskService(manager)

	if cfg.Cache.Enabled {
		multiLevel := cache.NewMultiLevelCache(shared, cache.DefaultLocalTTL)
		cached := services.NewCachedTaskService(taskService, multiLevel, notifier, cfg.Cache.ListTTL)
		taskService = cached
		monitor.RegisterStats("cache", multiLevel.Stats)

		if redisClient != nil {
			subscriber = events.NewSubscriber(redisClient, origin)
			err := subscriber.Start(context.Background(), func(ctx context.Context, ev events.TaskChangeEvent) {
				cached.MarkStale(ev.OwnerID)
				multiLevel.InvalidateLocal(services.ListingPattern(ev.OwnerID))
			})
			if err != nil {
				// peers still converge through the local TTL
				log.Printf("[events] subscriber not started: %v", err)
				subscriber = nil
			}
		}
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize, cfg.RateLimit.CleanupInterval)
	}

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		Tasks:       taskService,
		Identity:    middleware.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		RateLimiter: rateLimiter,
		Monitor:     monitor,
	})

	srv := server.New(cfg, router)
	listenErr := srv.Start()
	go func() {
		if err := <-listenErr; err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// one operation: gfshutdown runs separate operations concurrently, and
	// the stores must outlive the HTTP drain
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"task-master": func(ctx context.Context) error {
			return runShutdown(ctx, []shutdownStep{
				{name: "http-server", stop: srv.Stop},
				{name: "events", stop: func(ctx context.Context) error {
					if subscriber == nil {
						return nil
					}
					return subscriber.Stop()
				}},
				{name: "redis", stop: func(ctx context.Context) error {
					if redisClient == nil {
						return nil
					}
					if err := redisClient.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
						return err
					}
					return nil
				}},
				{name: "database", stop: func(ctx context.Context) error {
					return manager.Close()
				}},
			})
		},
	})

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}
