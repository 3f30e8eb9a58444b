package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"chatmeter/internal/app"
	"chatmeter/internal/auth"
	"chatmeter/internal/billing"
	"chatmeter/internal/chat"
	"chatmeter/internal/config"
	"chatmeter/internal/idempotency"
	"chatmeter/internal/store"
)

func main() {
	// Create a context that will be canceled on program termination
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	cfg := config.Get()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Could not open database: %v", err)
	}

	users := store.NewUsers(db)
	tokenLedger := store.NewLedger(db)
	chatLog := store.NewChatLog(db)

	// Pick the response backend: real model when a key is configured,
	// canned response otherwise.
	var generator chat.Generator = chat.StaticGenerator{}
	if cfg.OpenAIAPIKey != "" {
		generator = chat.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIAPIURL, "")
		log.Println("Using OpenAI response backend")
	} else {
		log.Println("No model API key configured, using static responses")
	}

	chatSvc := chat.NewService(tokenLedger, chatLog, generator, chat.WithRequestCost(cfg.ChatCost))
	authSvc := auth.NewService(users, cfg.JWTSecret)

	opts := []app.Option{}

	// Initialize Stripe reporting if an API key is provided
	if cfg.StripeAPIKey != "" {
		reporter, err := billing.NewReporter(cfg.StripeAPIKey)
		if err != nil {
			log.Printf("Failed to initialize Stripe reporting: %v", err)
		} else {
			opts = append(opts, app.WithBilling(reporter))
			log.Println("Stripe top-up reporting enabled")
		}
	}

	// Initialize idempotency store if a path is provided
	if cfg.IdempotencyDBPath != "" {
		idem, err := idempotency.Open(cfg.IdempotencyDBPath)
		if err != nil {
			log.Printf("Failed to open idempotency store: %v", err)
		} else {
			defer idem.Close()
			opts = append(opts, app.WithIdempotencyStore(idem))
		}
	}

	a := app.NewApp(authSvc, chatSvc, tokenLedger, opts...)

	// Hourly usage summary
	c := cron.New()
	c.AddFunc("@hourly", func() {
		count, err := chatLog.CountSince(context.Background(), time.Now().Add(-time.Hour))
		if err != nil {
			log.Printf("Usage summary failed: %v", err)
			return
		}
		log.Printf("Usage summary: %d chats served, %d tokens spent in the last hour", count, count*cfg.ChatCost)
	})
	c.Start()
	defer c.Stop()

	// Start HTTP server with graceful shutdown
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: a.Router,
	}

	// Start the server in a goroutine
	go func() {
		log.Printf("Starting server on %s...", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Create a deadline for server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	} else {
		log.Println("Server gracefully stopped")
	}
}
