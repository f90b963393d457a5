package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browsergate/internal/api"
	"github.com/shehryarbajwa/browsergate/internal/browser"
	"github.com/shehryarbajwa/browsergate/internal/config"
	"github.com/shehryarbajwa/browsergate/internal/liveview"
	"github.com/shehryarbajwa/browsergate/internal/ratelimit"
	"github.com/shehryarbajwa/browsergate/internal/session"
	"github.com/shehryarbajwa/browsergate/internal/store"
)

// engineLauncher adapts the concrete browser engine to the session
// manager's Launcher interface.
type engineLauncher struct {
	engine *browser.Engine
}

func (l engineLauncher) Launch(ctx context.Context, sessionID string) (session.Instance, error) {
	return l.engine.Launch(ctx, sessionID)
}

func (l engineLauncher) Attach(ctx context.Context, connectURL string) (session.Instance, error) {
	return l.engine.Attach(ctx, connectURL)
}

func main() {
	log := logrus.New()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.Load(os.Getenv("BROWSERGATE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	log.Info("Starting browsergate...")

	// Browser engine (and container pool for the docker backend)
	engine, err := browser.NewEngine(browser.Config{
		Backend:     cfg.Backend,
		DockerImage: cfg.DockerImage,
	}, log)
	if err != nil {
		log.Fatalf("Failed to start browser engine: %v", err)
	}
	defer engine.Close()
	log.WithField("backend", cfg.Backend).Info("Browser engine ready")

	if cfg.Backend == "docker" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := engine.EnsureImage(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure browser image: %v", err)
		}
		cancel()
		log.WithField("image", cfg.DockerImage).Info("Browser image ready")
	}

	// Session record store
	var st store.Store
	switch cfg.StoreDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		st, err = store.NewPostgres(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect session store: %v", err)
		}
	default:
		st = store.NewMemory()
	}
	defer st.Close()
	log.WithField("driver", cfg.StoreDriver).Info("Session store ready")

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.Addr
	}

	// Session manager
	sessions := session.NewManager(engineLauncher{engine}, st, session.Config{
		MaxSessions:     cfg.MaxSessions,
		SessionTimeout:  cfg.SessionTimeout,
		NavigateTimeout: cfg.NavigateTimeout,
		BaseURL:         baseURL,
	}, log)
	log.WithField("maxSessions", cfg.MaxSessions).Info("Session manager ready")

	// Live view streamer
	live := liveview.NewStreamer(sessions, cfg.LiveViewInterval, log)

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RatePerMinute, cfg.RateBurst)
	log.WithFields(logrus.Fields{
		"perMinute": cfg.RatePerMinute,
		"burst":     cfg.RateBurst,
	}).Info("Rate limiter ready")

	// HTTP routes
	handler := api.NewHandler(sessions, cfg.CreateTimeout, log)
	router := handler.SetupRoutes(live, limiter, cfg.RatePerMinute, log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	sessions.Shutdown(ctx)

	log.Info("Server stopped")
}
