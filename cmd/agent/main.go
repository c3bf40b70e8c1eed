package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/agent"
	"github.com/lalithlochan/beacon/internal/bridge"
	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/control"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/logstream"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/push"
	"github.com/lalithlochan/beacon/internal/statestore"
	"github.com/lalithlochan/beacon/internal/store"
	"github.com/lalithlochan/beacon/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon agent",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.String("origin", cfg.Origin),
	)

	ctx := context.Background()

	// Shared advisory device storage. The agent runs without it, but loses
	// duplicate suppression across restarts and the token fallback.
	storageClient, err := statestore.New(ctx, statestore.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to device storage: %w", err)
	}
	defer storageClient.Close()

	deviceStorage := statestore.NewStore(storageClient, logger)

	// Optional durable mirror
	var mirror *db.Repository
	if cfg.MirrorEnabled() {
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			logger.Warn("mirror database unavailable, mirroring disabled",
				zap.Error(err),
				zap.String("host", cfg.DBHost),
			)
		} else {
			defer database.Close()
			mirror = db.NewRepository(database, logger)
		}
	}

	// Display channels
	var channels []notify.Notifier

	if cfg.NotifyWebhookURL != "" {
		channels = append(channels, notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.NotifyWebhookURL,
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		}, logger))
	}

	if cfg.NotifyEmail != "" {
		sesNotifier, err := notify.NewSESNotifier(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			ToEmail:   cfg.NotifyEmail,
		}, logger)
		if err != nil {
			logger.Warn("email channel unavailable", zap.Error(err))
		} else {
			channels = append(channels, sesNotifier)
		}
	}

	if cfg.NotifyPhone != "" {
		snsNotifier, err := notify.NewSNSNotifier(ctx, notify.SNSConfig{
			Region:      cfg.SNSRegion,
			PhoneNumber: cfg.NotifyPhone,
		}, logger)
		if err != nil {
			logger.Warn("sms channel unavailable", zap.Error(err))
		} else {
			channels = append(channels, snsNotifier)
		}
	}

	if len(channels) == 0 {
		channels = append(channels, notify.NewLogNotifier(logger))
	}

	notifier := notify.NewMultiNotifier(logger, channels...)

	logger.Info("display channels configured",
		zap.Bool("webhook", cfg.NotifyWebhookURL != ""),
		zap.Bool("email", cfg.NotifyEmail != ""),
		zap.Bool("sms", cfg.NotifyPhone != ""),
	)

	// Worker side
	b := bridge.New(logger)
	source := upstream.NewSessionSource(15*time.Second, logger)

	worker := agent.New(agent.Config{
		Version:  cfg.Version,
		Origin:   cfg.Origin,
		APIURL:   cfg.APIBaseURL,
		TakeOver: true,
	}, b, source, deviceStorage, notifier, agent.NewMemoryViews(), logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go worker.Start(workerCtx)

	// Page side of the bridge, answered from device storage
	go b.ServePage(workerCtx, control.NewStorageResponder(deviceStorage))

	logger.Info("background worker started")

	// Seed the session from config when a fallback credential is present
	if cfg.APIToken != "" {
		if err := deviceStorage.SaveTokenFallback(ctx, cfg.APIToken); err != nil {
			logger.Warn("token fallback not persisted", zap.Error(err))
		}

		ackCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ack, err := b.Authenticate(ackCtx, cfg.APIToken, cfg.UserID, cfg.APIBaseURL)
		cancel()
		if err != nil {
			logger.Warn("startup session hand-off not acknowledged", zap.Error(err))
		} else {
			logger.Info("startup session bridged", zap.Bool("token_received", ack.TokenReceived))
		}
	}

	// Authenticated REST client for the store, the push subscription, and
	// the log stream URL
	apiClient := upstream.New(upstream.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
	}, logger)

	notifStore := store.New(apiClient, mirrorOrNil(mirror), logger)
	go notifStore.StartAutoRefresh(workerCtx, time.Duration(cfg.RefreshInterval)*time.Second)

	// Prune mirrored rows past the retention window
	if mirror != nil {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					pruneCtx, cancel := context.WithTimeout(workerCtx, 30*time.Second)
					pruned, err := mirror.Prune(pruneCtx, 30*24*time.Hour)
					cancel()
					if err != nil {
						logger.Warn("mirror prune failed", zap.Error(err))
					} else if pruned > 0 {
						logger.Info("mirror pruned", zap.Int64("rows", pruned))
					}
				}
			}
		}()
	}

	// Push delivery: register the subscription and consume the queue
	if cfg.PushQueueURL != "" && cfg.APIToken != "" {
		subID, err := apiClient.SubscribePush(ctx, upstream.PushSubscription{
			Endpoint: cfg.PushQueueURL,
			Keys: upstream.PushKeys{
				P256dh: cfg.PushKeyP256dh,
				Auth:   cfg.PushKeyAuth,
			},
			UserAgent: "beacon/" + cfg.Version,
		})
		if err != nil {
			logger.Warn("push subscription failed, consuming queue anyway", zap.Error(err))
		} else {
			logger.Info("push subscription registered", zap.String("subscription_id", subID))
		}

		consumer, err := push.NewConsumer(ctx, push.Config{
			Region:   cfg.PushQueueRegion,
			QueueURL: cfg.PushQueueURL,
		}, worker, logger)
		if err != nil {
			logger.Warn("push consumer unavailable, push delivery disabled", zap.Error(err))
		} else {
			go consumer.Run(workerCtx)
			logger.Info("push consumer started")
		}
	}

	// Live log stream
	var logs *logstream.Client
	if cfg.StreamEnabled {
		// StreamURL carries the token pre-escaped in the query string
		logs = logstream.New(logstream.Config{
			URL: apiClient.StreamURL(),
		}, logger)
		go logs.Run(workerCtx)
		logger.Info("log stream follower started")
	}

	// Control surface
	rateLimiter := statestore.NewRateLimiter(storageClient, logger, statestore.RateLimitConfig{
		Limit:  100,
		Window: 1 * time.Minute,
	})

	handler := control.NewHandler(logger, control.HandlerConfig{
		Bridge:  b,
		Agent:   worker,
		Store:   notifStore,
		Logs:    logs,
		Tokens:  deviceStorage,
		Mirror:  mirrorReaderOrNil(mirror),
		Cache:   deviceStorage,
		Version: cfg.Version,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(control.RateLimitMiddleware(rateLimiter, logger, control.IPKeyFunc))

		r.Post("/session", handler.CreateSession)
		r.Delete("/session", handler.DeleteSession)
		r.Post("/check", handler.ForceCheck)
		r.Post("/skip-waiting", handler.SkipWaiting)

		r.Post("/seen-ids", handler.ReportSeenIDs)

		r.Get("/notifications", handler.ListNotifications)
		r.Get("/notifications/{id}", handler.GetNotification)
		r.Post("/notifications/{id}/read", handler.MarkRead)
		r.Post("/notifications/read-all", handler.MarkAllRead)
		r.Delete("/notifications/{id}", handler.Archive)

		r.Post("/clicks", handler.HandleClick)

		r.Get("/logs", handler.GetLogs)
		r.Post("/logs/pause", handler.PauseLogs)
		r.Post("/logs/resume", handler.ResumeLogs)

		r.Get("/status", handler.Status)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("control server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("agent stopped gracefully")
	}

	return nil
}

// mirrorOrNil keeps the store's nil check working through the interface: a
// nil *db.Repository must become a nil store.Mirror, not a non-nil interface
// holding a nil pointer.
func mirrorOrNil(repo *db.Repository) store.Mirror {
	if repo == nil {
		return nil
	}
	return repo
}

func mirrorReaderOrNil(repo *db.Repository) control.MirrorReader {
	if repo == nil {
		return nil
	}
	return repo
}
