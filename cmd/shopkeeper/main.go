package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shopkeeper/backend/internal/api"
	"github.com/shopkeeper/backend/internal/behavior"
	"github.com/shopkeeper/backend/internal/chat"
	"github.com/shopkeeper/backend/internal/circuitbreaker"
	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/config"
	"github.com/shopkeeper/backend/internal/coupon"
	"github.com/shopkeeper/backend/internal/events"
	"github.com/shopkeeper/backend/internal/infra"
	"github.com/shopkeeper/backend/internal/logging"
	"github.com/shopkeeper/backend/internal/metrics"
	"github.com/shopkeeper/backend/internal/orchestrator"
	"github.com/shopkeeper/backend/internal/provider"
	"github.com/shopkeeper/backend/internal/ratelimit"
	"github.com/shopkeeper/backend/internal/session"
	"github.com/shopkeeper/backend/internal/tools"
	"github.com/shopkeeper/backend/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	defaultPath := os.Getenv("SHOPKEEPER_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/shopkeeper.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("shopkeeper exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// Providers
	registry := provider.NewRegistry(cfg.Providers)
	executor := provider.NewExecutor(registry, provider.NewOpenAIClient(nil), provider.ExecutorOptions{
		Policy: provider.RetryPolicy{
			MaxAttempts: cfg.ProviderPolicy.MaxAttempts,
			Backoff:     provider.BackoffSchedule(cfg.ProviderPolicy.Backoff()...),
			Retryable:   provider.IsRetryable,
		},
		AttemptTimeout: cfg.ProviderPolicy.AttemptTimeout(),
		Logger:         logging.WithComponent(logger, "provider"),
		Metrics:        m,
	})
	if err := executor.Ready(); err != nil {
		logger.Warn("[Startup] no providers configured; chat turns will be refused", "error", err)
	} else {
		logger.Info("[Startup] providers loaded", "count", registry.Len())
	}

	// Governance
	governor := ratelimit.NewGovernor(ratelimit.Config{
		PerIdentity:    cfg.RateLimit.PerIdentity,
		Window:         cfg.RateLimit.Window(),
		GlobalDailyCap: cfg.RateLimit.GlobalDailyCap,
	}, ratelimit.WithLogger(logging.WithComponent(logger, "ratelimit")))
	go governor.Run(ctx, 5*time.Minute)

	sessions := session.NewMemoryStore()

	// Collaborators
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(""), logging.WithComponent(logger, "breaker"),
		func(name string, state circuitbreaker.State) { m.SetBreakerState(name, int(state)) })

	collabTimeout := time.Duration(cfg.Collaborators.TimeoutSeconds) * time.Second
	var search collaborator.Searcher
	if cfg.Search.URL != "" {
		search = collaborator.NewHTTPSearch(cfg.Search.URL, time.Duration(cfg.Search.TimeoutSeconds)*time.Second, breakers.Get("search"))
	} else {
		logger.Warn("[Startup] search.url not set; replies will not be grounded in the catalog")
	}
	var cart collaborator.Cart
	if cfg.Collaborators.CartURL != "" {
		cart = collaborator.NewHTTPCart(cfg.Collaborators.CartURL, collabTimeout, breakers.Get("cart"))
	}
	var images collaborator.ImageGenerator
	if cfg.Collaborators.ImageURL != "" {
		images = collaborator.NewHTTPImageGenerator(cfg.Collaborators.ImageURL, collabTimeout, breakers.Get("image"))
	}
	var outfits collaborator.OutfitBuilder
	if cfg.Collaborators.OutfitURL != "" {
		outfits = collaborator.NewHTTPOutfitBuilder(cfg.Collaborators.OutfitURL, collabTimeout, breakers.Get("outfit"))
	}

	var profiles collaborator.ProfileStore = collaborator.NewMemoryProfileStore()
	if cfg.Profiles.DSN != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pg, err := collaborator.OpenPostgresProfileStore(pctx, cfg.Profiles.DSN)
		cancel()
		if err != nil {
			logger.Warn("[Startup] profile database unavailable, continuing without profiles", "error", err)
		} else {
			defer pg.Close()
			profiles = pg
			logger.Info("[Startup] profile store: postgres")
		}
	}

	// Redis-backed coupons and event relay, with in-memory fallback
	bus := events.NewEventBus(logging.WithComponent(logger, "events"))
	var emitter events.Emitter = bus
	var couponStore coupon.Store = coupon.NewMemoryStore()

	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("[Startup] redis unavailable, using in-memory coupons and events", "error", err)
		} else {
			defer rdb.Close()
			couponStore = coupon.NewRedisStore(rdb, cfg.Coupons.KeyPrefix)
			relay, err := events.NewRedisRelay(ctx, bus, rdb, "shopkeeper:events", logging.WithComponent(logger, "events"))
			if err != nil {
				logger.Warn("[Startup] event relay disabled", "error", err)
			} else {
				defer relay.Close()
				emitter = relay
			}
		}
	}

	coupons := coupon.NewService(couponStore, coupon.Options{
		MinPercent: cfg.Coupons.MinPercent,
		MaxPercent: cfg.Coupons.MaxPercent,
		TTL:        cfg.Coupons.TTL(),
		Logger:     logging.WithComponent(logger, "coupon"),
		Metrics:    m,
	})

	// Pipeline
	dispatcher := tools.NewDispatcher(tools.Deps{
		Search:   search,
		Cart:     cart,
		Images:   images,
		Outfits:  outfits,
		Coupons:  coupons,
		Sessions: sessions,
		Events:   emitter,
		Metrics:  m,
		Logger:   logging.WithComponent(logger, "tools"),
	})
	orch := orchestrator.New(executor, search, profiles, orchestrator.Options{
		TopK:          cfg.Search.TopK,
		SearchTimeout: time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
		Logger:        logging.WithComponent(logger, "orchestrator"),
	})
	chatSvc := chat.NewService(chat.Deps{
		Governor:     governor,
		Sessions:     sessions,
		Haggler:      behavior.NewHaggler(cfg.Haggle.PenaltyPercent),
		Orchestrator: orch,
		Tools:        dispatcher,
		Ready:        executor.Ready,
		Events:       emitter,
		Metrics:      m,
		Logger:       logging.WithComponent(logger, "chat"),
	})

	server := api.NewServer(api.Deps{
		Chat:           chatSvc,
		Coupons:        coupons,
		Sessions:       sessions,
		Governor:       governor,
		Breakers:       breakers,
		Events:         websocket.NewStreamer(bus, cfg.Server.AllowedOrigins, logging.WithComponent(logger, "websocket")),
		Gatherer:       reg,
		Ready:          executor.Ready,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logging.WithComponent(logger, "api"),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// A turn can spend several attempt timeouts walking the provider list.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Startup] shopkeeper listening", "addr", httpServer.Addr, "env", cfg.Server.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[Shutdown] signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
