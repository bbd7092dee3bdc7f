package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/harvest-fulfillment/internal/dispatch"
	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/handler"
	"github.com/xenking/harvest-fulfillment/internal/kafka"
	"github.com/xenking/harvest-fulfillment/internal/payment"
	"github.com/xenking/harvest-fulfillment/internal/repository"
	"github.com/xenking/harvest-fulfillment/internal/sms"
	"github.com/xenking/harvest-fulfillment/pkg/health"
	"github.com/xenking/harvest-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Bool("all_or_nothing", cfg.Orders.AllOrNothing),
	)

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.Add(health.Readiness, "postgres", health.Ping(pool), health.WithTimeout(5*time.Second))
	healthSvc.Add(health.Liveness, "goroutines", health.Goroutines(10000))

	productRepo := repository.NewProductRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		healthSvc.Add(health.Readiness, "redis", health.Redis(rdb))
	}

	dispatchCfg := dispatch.Config{
		Notifications: notificationRepo,
		Directory:     userRepo,
		Timeout:       cfg.Orders.DispatchTimeout,
		MeterProvider: m.MeterProvider(),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Named("kafka"))
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Warn("Close kafka producer", zap.Error(err))
			}
		}()
		dispatchCfg.Publisher = producer
		// Only a sustained broker outage takes the instance out of rotation.
		healthSvc.Add(health.Readiness, "kafka", health.Kafka(cfg.Kafka.Brokers),
			health.WithFailureThreshold(6))
	}
	if cfg.SMS.URL != "" {
		dispatchCfg.SMS = sms.New(sms.Config{
			URL:     cfg.SMS.URL,
			Token:   cfg.SMS.Token,
			Timeout: cfg.SMS.Timeout,
		}, m.TracerProvider(), m.MeterProvider())
	}
	dispatcher, err := dispatch.New(dispatchCfg)
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}

	serviceOpts := []order.Option{
		order.WithAllOrNothing(cfg.Orders.AllOrNothing),
		order.WithDispatcher(dispatcher),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	if cfg.Payment.URL != "" {
		gateway := payment.NewClient(payment.Config{
			URL:         cfg.Payment.URL,
			Token:       cfg.Payment.Token,
			CallbackURL: cfg.Payment.CallbackURL,
			Timeout:     cfg.Payment.Timeout,
		}, m.TracerProvider(), m.MeterProvider())
		serviceOpts = append(serviceOpts, order.WithPayments(
			payment.NewIdempotent(gateway, rdb, cfg.Payment.IdempotencyTTL),
			userRepo,
			cfg.Payment.Currency,
		))
	}
	orderService, err := order.NewService(productRepo, orderRepo, serviceOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	h := handler.New(handler.Config{CallbackSecret: cfg.Payment.CallbackSecret}, orderService, productRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		lg.Info("Waiting for pending side effects")
		dispatcher.Wait()
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
