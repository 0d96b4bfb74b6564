// Package main is the entry point for the appointment desk server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/appointment-desk/backend/internal/api"
	"github.com/appointment-desk/backend/internal/api/handlers"
	"github.com/appointment-desk/backend/internal/api/middleware"
	"github.com/appointment-desk/backend/internal/appointments"
	"github.com/appointment-desk/backend/internal/availability"
	"github.com/appointment-desk/backend/internal/booking"
	"github.com/appointment-desk/backend/internal/calendar"
	"github.com/appointment-desk/backend/internal/config"
	"github.com/appointment-desk/backend/internal/feed"
	"github.com/appointment-desk/backend/internal/invalidation"
	"github.com/appointment-desk/backend/internal/logging"
	"github.com/appointment-desk/backend/internal/scheduling"
	"github.com/appointment-desk/backend/internal/session"
	"github.com/appointment-desk/backend/internal/storage"
	"github.com/appointment-desk/backend/internal/storage/redisstore"
	"github.com/appointment-desk/backend/internal/telemetry"
	"github.com/appointment-desk/backend/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// Parse command-line flags. Non-empty values override the config.
	configPath := flag.String("config", "", "Path to a config file")
	addr := flag.String("addr", "", "HTTP server address")
	dataDir := flag.String("data", "", "Data directory for the SQLite database")
	staticDir := flag.String("static", "", "Directory for static frontend files")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.HTTPAddr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Allow overriding version via environment (e.g., injected by container build/runtime)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting appointment desk", zap.String("version", version), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "appointment-desk",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("flushing traces failed", zap.Error(err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Scheduling API and operator session
	apiConfig := scheduling.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.APITimeout, Location: loc}
	httpClient := telemetry.HTTPClient(cfg.APITimeout)
	seed := session.Context{SessionID: cfg.SessionID, CSRFToken: cfg.CSRFToken}

	var sessions session.Provider = session.NewStatic(seed)
	if cfg.SessionRemote {
		bootstrap := scheduling.NewClient(apiConfig, httpClient, sessions, logger)
		remote := session.NewRemote(bootstrap, seed, cfg.SessionRefresh.String(), logger)
		if err := remote.Start(ctx); err != nil {
			return fmt.Errorf("fetching operator session: %w", err)
		}
		defer remote.Stop()
		sessions = remote
	}
	client := scheduling.NewClient(apiConfig, httpClient, sessions, logger)

	// Invalidation bus and the components that write through it
	bus := invalidation.NewBus()
	appts := appointments.NewClient(client, bus, loc, logger)
	resolver := availability.NewResolver(client, loc, logger)

	// Relay hub
	hub := websocket.NewHub(logger)
	broadcaster := websocket.NewEventBroadcaster(hub, logger)

	wizards := booking.NewSessions(resolver, appts, loc, logger)
	wizards.OnComplete(broadcaster.BookingCompleted)
	defer wizards.CloseAll()

	view := calendar.NewView(appts, loc, logger)
	view.OnRefresh(broadcaster.CalendarRefreshed)
	selection := calendar.NewSelection(view, appts, sessions, logger)
	recent := appointments.NewRecentView(appts, logger)

	// Notification persistence
	var (
		store  feed.Store
		pinger handlers.Pinger
	)
	switch cfg.NotificationStore {
	case config.StoreRedis:
		rdb, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisStore := redisstore.New(rdb, "appointment-desk:")
		store, pinger = redisStore, redisStore
		logger.Info("notification store ready", zap.String("store", "redis"), zap.String("addr", cfg.RedisAddr))
	default:
		db, err := storage.Open(ctx, filepath.Join(cfg.DataDir, "appointment-desk.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := storage.Migrate(ctx, db, logger); err != nil {
			return err
		}
		store = storage.NewNotificationRepository(db)
		pinger = db
		logger.Info("notification store ready", zap.String("store", "sqlite"), zap.String("path", db.Path()))
	}

	// Live notification feed
	notifications := feed.New(store, logger, feed.WithListener(broadcaster), feed.WithInvalidation(bus))
	policy := feed.ReconnectPolicy{
		MaxAttempts: cfg.StreamMaxReconnects,
		Initial:     cfg.StreamBackoffInitial,
		Max:         cfg.StreamBackoffMax,
	}
	var transport feed.Transport
	switch cfg.StreamTransport {
	case config.TransportWebSocket:
		transport = feed.NewWebSocket(cfg.StreamURL, sessions, policy, logger)
	default:
		transport = feed.NewSSE(cfg.StreamURL, telemetry.HTTPClient(0), sessions, policy, logger)
	}

	retention := feed.NewRetention(notifications, cfg.NotificationRetention, logger)
	if err := retention.Start("@hourly"); err != nil {
		return fmt.Errorf("scheduling notification retention: %w", err)
	}
	defer retention.Stop()

	calendarChanges, unsubscribeCalendar := bus.Subscribe(16)
	defer unsubscribeCalendar()
	recentChanges, unsubscribeRecent := bus.Subscribe(16)
	defer unsubscribeRecent()

	handler := api.NewRouter(api.Dependencies{
		Store:       pinger,
		API:         client,
		Catalog:     client,
		Updater:     appts,
		Sessions:    sessions,
		Wizards:     wizards,
		Calendar:    view,
		Selection:   selection,
		Recent:      recent,
		Feed:        notifications,
		Hub:         hub,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
		StaticDir:   cfg.StaticDir,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		notifications.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := transport.Run(ctx, notifications); err != nil {
			// The feed reports the disconnect; the rest of the dashboard
			// keeps serving.
			logger.Warn("push stream stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		view.Run(ctx, calendarChanges)
		return nil
	})
	g.Go(func() error {
		recent.Run(ctx, recentChanges)
		return nil
	})
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Initial loads; failures are kept in the views and retried on the
	// next invalidation.
	g.Go(func() error {
		if _, err := view.Refresh(ctx); err != nil {
			logger.Warn("initial calendar load failed", zap.Error(err))
		}
		if _, err := recent.Refresh(ctx); err != nil {
			logger.Warn("initial recent appointments load failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
