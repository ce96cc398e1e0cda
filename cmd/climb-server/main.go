package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/intermernet/climbsignups/internal/api"
	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/auth"
	"github.com/intermernet/climbsignups/internal/club"
	"github.com/intermernet/climbsignups/internal/config"
	"github.com/intermernet/climbsignups/internal/database"
	"github.com/intermernet/climbsignups/internal/docstore"
	"github.com/intermernet/climbsignups/internal/email"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// brokerBuffer is the per-subscriber queue length of the realtime broker.
const brokerBuffer = 64

// main is the entry point for the climbing club sign-up server.
func main() {
	mintUID := flag.String("mint-token", "", "print a custom sign-in token for this user id and exit")
	mintTTL := flag.Duration("mint-ttl", 7*24*time.Hour, "lifetime of a token printed by -mint-token")
	flag.Parse()

	// --- 1. Load Configuration ---
	if err := godotenv.Load(); err != nil {
		logger.Info.Println("No .env file found, using environment variables from the system.")
	}

	cfg, err := config.New()
	if err != nil {
		logger.Error.Fatalf("Failed to load application configuration: %v", err)
	}

	logFile, err := logger.Init(cfg.LogDir)
	if err != nil {
		logger.Error.Fatalf("Failed to initialise logging in %s: %v", cfg.LogDir, err)
	}
	defer logFile.Close()
	logger.SetLogLevel(cfg.Env)

	authService := auth.NewService(cfg.JwtSecret, cfg.TokenTTL)
	if *mintUID != "" {
		token, err := authService.MintCustomToken(*mintUID, *mintTTL)
		if err != nil {
			logger.Error.Fatalf("Failed to mint custom token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 2. Document Store ---
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Error.Fatalf("Failed to initialise document store: %v", err)
	}

	broker := realtime.NewBroker(brokerBuffer)
	var storeOpts []docstore.Option
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Error.Fatalf("Redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn.Printf("Redis close error: %v", err)
			}
		}()

		relay := realtime.NewRelay(broker, redisClient, cfg.RedisChannel)
		go relay.Run(ctx)
		storeOpts = append(storeOpts, docstore.WithPublisher(relay))
		logger.Info.Printf("Relaying document changes through redis channel %s", cfg.RedisChannel)
	}
	store := docstore.NewStore(backend, broker, storeOpts...)
	defer store.Close()

	// --- 3. View Machines, Email and API ---
	hub := app.NewHub(ctx, app.Config{
		DB:       store,
		Cols:     club.NewCollections(cfg.AppID),
		Events:   broker,
		AdminIDs: cfg.AdminUserIDs,
		BaseURL:  cfg.ParsedPublicBaseURL,
		Dedupe:   cfg.SignupDedupe,
	})
	defer hub.Close()

	sender := email.New(email.Settings{
		SMTP: email.SMTPServerConfig{
			Host:     cfg.SmtpHost,
			Port:     cfg.SmtpPort,
			Username: cfg.SmtpUser,
			Password: cfg.SmtpPass,
			Sender:   cfg.SmtpSender,
		},
		ResendAPIKey: cfg.ResendAPIKey,
		From:         cfg.EmailFrom,
	})

	serverAPI := api.NewServer(cfg, store, authService, hub, broker, sender)
	router := chi.NewRouter()
	serverAPI.RegisterRoutes(router)
	logger.Info.Printf("API routes registered; %d admin user(s) configured.", len(cfg.AdminUserIDs))

	// --- 4. Start the HTTP Server ---
	// Request contexts derive from ctx so open streams end on shutdown.
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info.Printf("Climb sign-up server starting on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn.Printf("Shutdown error: %v", err)
	}
}

// openBackend picks postgres when DATABASE_URL is set and the embedded
// SQLite file under DATA_PATH otherwise.
func openBackend(ctx context.Context, cfg *config.Config) (docstore.Backend, error) {
	if cfg.DatabaseURL != "" {
		pg, err := database.NewPgService(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info.Println("Using postgres document store.")
		return pg, nil
	}

	if err := os.MkdirAll(cfg.DbPath, 0755); err != nil {
		return nil, fmt.Errorf("could not create database directory at %s: %w", cfg.DbPath, err)
	}
	path := filepath.Join(cfg.DbPath, "climb.db")
	svc, err := database.NewService(path)
	if err != nil {
		return nil, err
	}
	logger.Info.Printf("Using SQLite document store at %s.", path)
	return svc, nil
}
