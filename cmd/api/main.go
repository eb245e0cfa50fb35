// Package main is the entry point for the messaging API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rentease/messaging/internal/config"
	"github.com/rentease/messaging/internal/handler"
	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	natsclient "github.com/rentease/messaging/internal/nats"
	"github.com/rentease/messaging/internal/service"
	"github.com/rentease/messaging/pkg/logger"
	"github.com/rentease/messaging/pkg/tracing"
)

func main() {
	tokenFor := flag.String("token-for", "", "print a bearer token for `userID` from the seed file and exit")
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	seed, err := service.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatal("failed to load directory seed", zap.String("path", cfg.SeedFile), zap.Error(err))
	}
	directory := service.NewDirectory(seed)

	if *tokenFor != "" {
		if err := printToken(directory, cfg, *tokenFor); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	log.Info("starting messaging API server",
		zap.Int("users", len(seed.Users)),
		zap.Int("leases", len(seed.Leases)),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "rentease-messaging", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var (
		publisher service.EventPublisher
		events    handler.Pinger
	)
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err := natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			cancel()
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		err = streamManager.EnsureStream(connectCtx)
		cancel()
		if err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}

		publisher = streamManager
		events = natsClient
	} else {
		log.Warn("NATS_URL not set, domain events are disabled")
	}

	conversationSvc := service.NewConversationService(directory, publisher, log)
	messageSvc := service.NewMessageService(conversationSvc, publisher, log)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:           cfg.JWTSecret,
		AllowedOrigins:      cfg.AllowedOrigins,
		RateLimitRequests:   cfg.RateLimitRequests,
		IPRateLimitRequests: cfg.IPRateLimitRequests,
		RateLimitWindow:     cfg.RateLimitWindow,
		Directory:           directory,
		Conversations:       conversationSvc,
		Messages:            messageSvc,
		Events:              events,
		Logger:              log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// printToken signs a development token for a seeded user.
func printToken(directory *service.Directory, cfg *config.Config, userID string) error {
	user, ok := directory.User(userID)
	if !ok {
		return fmt.Errorf("user %q: %w", userID, model.ErrNotFound)
	}
	token, err := middleware.NewToken(cfg.JWTSecret, user.ID, user.Role, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
