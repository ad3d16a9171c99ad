// cmd/server/server.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/api"
	"github.com/codr1/courtside/internal/api/auth"
	"github.com/codr1/courtside/internal/api/availability"
	"github.com/codr1/courtside/internal/api/bookings"
	"github.com/codr1/courtside/internal/api/events"
	"github.com/codr1/courtside/internal/api/payments"
	"github.com/codr1/courtside/internal/api/slotlocks"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/email"
	"github.com/codr1/courtside/internal/locks"
	"github.com/codr1/courtside/internal/mq"
	"github.com/codr1/courtside/internal/obs"
	"github.com/codr1/courtside/internal/ratelimit"
	"github.com/codr1/courtside/internal/realtime"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/scheduler"
)

const devJWTSecret = "courtside-development-secret"

// app owns every long-lived dependency the handlers use.
type app struct {
	db        *db.DB
	redis     redis.UniversalClient
	memory    *locks.MemoryStore
	limiter   *ratelimit.Limiter
	registry  *realtime.Registry
	publisher *mq.Publisher
	payments  *mq.PaymentConsumer
	notifier  *email.Notifier
	scheduler *scheduler.Service
	service   *booking.Service
	verifier  *auth.Verifier
	tracing   obs.ShutdownFunc

	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.tracing, err = obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:     cfg.Features.EnableTracing,
		Endpoint:    cfg.Features.OTLPEndpoint,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.db, err = db.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store, err := a.lockStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	manager := locks.NewManager(store, a.db.Queries, locks.Config{
		TTL:          cfg.Locks.TTL,
		MaxPerHolder: cfg.Locks.MaxPerHolder,
	})

	a.registry = realtime.NewRegistry(cfg.Realtime.BufferSize)
	var sinks []realtime.Sink
	if cfg.AMQP.URL != "" {
		a.publisher, err = mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		sinks = append(sinks, a.publisher)
	}
	broadcaster := realtime.NewBroadcaster(a.registry, realtime.NewRecentIDs(cfg.Realtime.DedupWindow, nil), sinks...)

	opts := []booking.Option{}
	if cfg.Secrets.AWSAccessKeyID != "" && cfg.Email.Sender != "" {
		ses, err := email.NewSESClient(ctx, cfg.Secrets.AWSAccessKeyID, cfg.Secrets.AWSSecretAccessKey, cfg.Email.Region, cfg.Email.Sender)
		if err != nil {
			return nil, fmt.Errorf("init ses: %w", err)
		}
		a.notifier = email.NewNotifier(ses, a.db.Queries, cfg.Email.Sender)
		opts = append(opts, booking.WithNotifier(a.notifier))
	} else {
		log.Ctx(ctx).Warn().Msg("SES not configured, booking emails disabled")
	}
	a.service = booking.NewService(a.db, schedule.NewResolver(a.db.Queries), manager, broadcaster, opts...)

	if cfg.AMQP.URL != "" && cfg.AMQP.PaymentQueue != "" {
		a.payments = mq.NewPaymentConsumer(a.service, cfg.AMQP.PaymentQueue)
		if err := a.payments.Connect(cfg.AMQP.URL, cfg.AMQP.Exchange); err != nil {
			return nil, fmt.Errorf("connect payment consumer: %w", err)
		}
	}

	a.scheduler, err = scheduler.New()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	if err := scheduler.RegisterSweepJobs(a.scheduler, a.service, cfg.Sweeps.CompletionCron, cfg.Sweeps.LockEvictionCron); err != nil {
		return nil, fmt.Errorf("register sweeps: %w", err)
	}
	a.scheduler.Start()

	secret := cfg.Secrets.JWTSecret
	if secret == "" {
		log.Ctx(ctx).Warn().Msg("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	a.verifier = auth.NewVerifier(secret)

	a.limiter = ratelimit.New(ratelimit.DefaultConfig())

	availability.InitHandlers(a.service)
	slotlocks.InitHandlers(a.service, a.limiter, cfg.App.TrustProxy)
	bookings.InitHandlers(a.service)
	payments.InitHandlers(a.service, cfg.Secrets.PaymentCallbackKey, cfg.Secrets.StripeWebhookSecret)
	events.InitHandlers(a.service, a.db.Queries, a.registry,
		realtime.RoomPolicy{LegacyJoinAllClubs: cfg.Realtime.LegacyJoinAllClubs},
		cfg.Realtime.KeepAlive)

	return a, nil
}

func (a *app) lockStore(ctx context.Context, cfg *config.Config) (locks.Store, error) {
	switch cfg.Locks.Backend {
	case config.LockBackendRedis:
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Ctx(ctx).Info().Str("addr", cfg.Redis.Addr).Msg("Using redis lock store")
		return locks.NewRedisStore(a.redis, cfg.Redis.KeyPrefix, cfg.Locks.TTL), nil
	default:
		a.memory = locks.NewMemoryStore(nil)
		// The lock eviction job removes expired locks and announces them.
		a.memory.DisableCleanup()
		log.Ctx(ctx).Info().Msg("Using in-memory lock store")
		return a.memory, nil
	}
}

// Close releases everything newApp opened. Safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.scheduler != nil {
			if err := a.scheduler.Stop(); err != nil {
				log.Error().Err(err).Msg("Failed to stop scheduler")
			}
		}
		if a.payments != nil {
			_ = a.payments.Close()
		}
		if a.registry != nil {
			a.registry.Close()
		}
		if a.notifier != nil {
			a.notifier.Wait()
		}
		if a.publisher != nil {
			_ = a.publisher.Close()
		}
		if a.limiter != nil {
			a.limiter.Close()
		}
		if a.memory != nil {
			a.memory.Close()
		}
		if a.redis != nil {
			_ = a.redis.Close()
		}
		if a.db != nil {
			_ = a.db.Close()
		}
		if a.tracing != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.tracing(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to flush traces")
			}
		}
	})
}

func newServer(cfg *config.Config, a *app) *http.Server {
	router := http.NewServeMux()

	// Setup middleware chain
	handler := api.ChainMiddleware(
		router,
		api.WithAuth(a.verifier),
		api.WithLogging,
		api.WithRecovery,
		api.WithTracing,
		api.WithRequestID,
		api.WithContentType,
	)

	// Register routes
	registerRoutes(router)

	return &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/v1/availability", availability.HandleAvailability)

	// Slot locks
	mux.HandleFunc("POST /api/v1/locks", slotlocks.HandleAcquire)
	mux.HandleFunc("DELETE /api/v1/locks/{token}", slotlocks.HandleRelease)
	mux.HandleFunc("POST /api/v1/locks/{token}/extend", slotlocks.HandleExtend)

	// Bookings
	mux.HandleFunc("POST /api/v1/bookings", bookings.HandleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", bookings.HandleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", bookings.HandleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/status", bookings.HandleUpdateStatus)

	// Payments
	mux.HandleFunc("POST /api/v1/payments/callback", payments.HandleCallback)
	mux.HandleFunc("POST /api/v1/payments/stripe/webhook", payments.HandleStripeWebhook)

	// Realtime
	mux.HandleFunc("GET /api/v1/events", events.HandleEvents)
}
