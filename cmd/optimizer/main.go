package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/llm-optimizer/config"
	"github.com/vnmchuo/llm-optimizer/internal/auth"
	"github.com/vnmchuo/llm-optimizer/internal/cache"
	"github.com/vnmchuo/llm-optimizer/internal/cost"
	"github.com/vnmchuo/llm-optimizer/internal/embedding"
	"github.com/vnmchuo/llm-optimizer/internal/inference/anthropic"
	"github.com/vnmchuo/llm-optimizer/internal/optimizer"
	"github.com/vnmchuo/llm-optimizer/internal/routing"
	"github.com/vnmchuo/llm-optimizer/internal/scoring"
	"github.com/vnmchuo/llm-optimizer/internal/seeder"
	"github.com/vnmchuo/llm-optimizer/internal/server"
	"github.com/vnmchuo/llm-optimizer/internal/telemetry"
	"github.com/vnmchuo/llm-optimizer/internal/tier"
	"github.com/vnmchuo/llm-optimizer/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-optimizer", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Connect PostgreSQL (optional: auth + persistent cost history)
	var pool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("PostgreSQL connected")
	}

	// 4. Connect Redis (optional: cache backend + rate limiting). An
	// unreachable Redis is not fatal; the cache degrades in-process.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unreachable, starting with in-memory cache: %v", err)
		} else {
			log.Println("Redis connected")
		}
	}

	// 5. Tier table + routing policy
	table := tier.Default()
	scorer := scoring.New(scoring.DefaultConfig())
	routingCfg := routing.DefaultConfig()
	routingCfg.SimpleThreshold = cfg.SimpleThreshold
	routingCfg.CapableThreshold = cfg.CapableThreshold
	policy, err := routing.NewPolicy(table, routingCfg, scorer)
	if err != nil {
		log.Fatalf("failed to build routing policy: %v", err)
	}

	// 6. Tiered cache
	exact := cache.NewExactStore(rdb, cfg.CacheOpTimeout, cfg.CacheHealthEvery)
	var embedder cache.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = embedding.NewOpenAI(cfg.OpenAIAPIKey)
		log.Println("Similarity matching enabled")
	}
	index := cache.NewSimilarityIndex(embedder, cfg.SimilarityMaxScan)
	smartCache := cache.NewSmartCache(exact, index, cfg.CacheTTL, cfg.SimilarityThreshold)

	// 7. Cost tracker (+ optional persistence)
	var trackerOpts []cost.Option
	if pool != nil {
		trackerOpts = append(trackerOpts, cost.WithStore(cost.NewPostgresStore(pool)))
	}
	tracker := cost.NewTracker(table, trackerOpts...)

	// 8. Optimizer facade
	tracer := otel.GetTracerProvider().Tracer("llm-optimizer")
	client := anthropic.New(cfg.AnthropicAPIKey)
	optCfg := optimizer.DefaultConfig()
	optCfg.MaxAttempts = cfg.MaxAttempts
	optCfg.MaxTokens = cfg.MaxTokens
	opt, err := optimizer.New(smartCache, policy, client, tracker, table, optCfg, tracer)
	if err != nil {
		log.Fatalf("failed to build optimizer: %v", err)
	}

	// 9. Auth + rate limiting
	var authMiddleware auth.Middleware
	if pool != nil {
		authStore := auth.NewPostgresStore(pool)
		authMiddleware = auth.NewMiddleware(authStore, rdb)
		if os.Getenv("RUN_SEED") == "true" {
			seeder.SeedTestAPIKey(ctx, authStore)
		}
	} else {
		authMiddleware = auth.NewStaticMiddleware("default")
	}

	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	}

	// 10. History surface: prefer the persistent store when configured
	var history server.History = tracker
	if pool != nil {
		history = cost.NewPostgresStore(pool)
	}
	handler := server.NewHandler(opt, history, limiter, tracer)

	// 11. Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-optimizer"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/answer", handler.HandleAnswer)
		r.Get("/v1/stats", handler.HandleStats)
		r.Get("/v1/usage", handler.HandleUsage)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("LLM Optimizer starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
