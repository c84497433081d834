package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/flowershop/internal/domain/cart"
	"github.com/xenking/flowershop/internal/domain/discount"
	"github.com/xenking/flowershop/internal/domain/order"
	"github.com/xenking/flowershop/internal/handler"
	"github.com/xenking/flowershop/internal/payment/yookassa"
	"github.com/xenking/flowershop/internal/storage/postgres"
	"github.com/xenking/flowershop/pkg/health"
	"github.com/xenking/flowershop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the expiry
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Rate limit counters are shared through Redis when configured.
	var (
		limitStore  httpmiddleware.RateLimitStore
		memoryStore *httpmiddleware.MemoryStore
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, health.WithFailureThreshold(5))
		limitStore = httpmiddleware.NewRedisStore(rdb)
		lg.Info("Using shared rate limit store", zap.String("redis", cfg.Redis.Addr))
	} else {
		memoryStore = httpmiddleware.NewMemoryStore()
		limitStore = memoryStore
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	pickupRepo := postgres.NewPickupRepository(pool)
	cartStore := postgres.NewCartStore(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Domain services.
	prices := discount.NewRepoResolver(discountRepo)
	cartService := cart.NewService(cartStore, productRepo, prices)
	gateway := yookassa.New(yookassa.Config{
		ShopID:     cfg.Payment.ShopID,
		SecretKey:  cfg.Payment.SecretKey,
		BaseURL:    cfg.Payment.BaseURL,
		ReturnURL:  cfg.Payment.ReturnURL,
		Timeout:    cfg.Payment.Timeout,
		MaxRetries: cfg.Payment.MaxRetries,
	}, yookassa.WithTracerProvider(m.TracerProvider()))
	orderService := order.NewService(cartStore, productRepo, prices, pickupRepo, orderRepo, gateway,
		order.WithExpiration(cfg.Orders.Expiration),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)

	// HTTP handlers.
	handlerCfg := handler.Config{
		TrustForwardedFor: cfg.Webhook.TrustForwardedFor,
		CreateOrderLimit: httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.OrderCreateMax,
			Window: time.Minute,
			Prefix: "orders:",
			Store:  limitStore,
		}),
	}
	if cfg.Webhook.VerifySource {
		cidrs := cfg.Webhook.AllowedNetworks
		if len(cidrs) == 0 {
			cidrs = handler.YooKassaNetworks
		}
		if handlerCfg.WebhookNetworks, err = handler.ParseNetworks(cidrs); err != nil {
			return errors.Wrap(err, "parse webhook networks")
		}
	}
	h := handler.New(handlerCfg, productRepo, prices, orderService, cartService,
		handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret)))

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Order creation waits on the gateway, including retries.
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
					ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
					Prefix: "api:",
					Store:  limitStore,
				}),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.LogRequests(),
			),
			"flowershop",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runExpirySweeper(gctx, lg.Named("sweeper"), orderService, cfg.Orders.SweepInterval, cfg.Orders.SweepBatch)
		return nil
	})
	if memoryStore != nil {
		g.Go(func() error {
			memoryStore.RunSweeper(gctx, max(cfg.RateLimit.Window, time.Minute))
			return nil
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
