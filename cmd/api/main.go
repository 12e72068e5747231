package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/chat-gateway/internal/config"
	"github.com/zhouzirui/chat-gateway/internal/handler"
	chatHandler "github.com/zhouzirui/chat-gateway/internal/handler/chat"
	"github.com/zhouzirui/chat-gateway/internal/identity"
	"github.com/zhouzirui/chat-gateway/internal/limiter"
	"github.com/zhouzirui/chat-gateway/internal/service/ai"
	"github.com/zhouzirui/chat-gateway/internal/store"
	"github.com/zhouzirui/chat-gateway/internal/validate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// The generator is the gateway's whole purpose; refuse to start without it.
	aiService, err := ai.NewService(ctx, cfg.AI, cfg.Gateway.SystemPrompt)
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	log.Println("AI service initialized successfully")

	rateLimiter := limiter.New(cfg.Gateway.MaxRequests, cfg.Gateway.Window)
	convStore := store.New(cfg.Gateway.MaxHistory)
	validator := validate.New(cfg.Gateway.MaxMessageChars)
	deriver := identity.New(cfg.Gateway.JWTSecret)

	go runSweeper(ctx, cfg.Gateway, rateLimiter, convStore)

	chatH := chatHandler.New(aiService, rateLimiter, convStore, validator, deriver, cfg.Gateway.RequestTimeout)
	router := handler.NewRouter(chatH)

	startServer(ctx, cfg.Server, router)
}

// runSweeper periodically reclaims aged-out rate buckets and idle sessions so
// lazily created per-identity state cannot grow without bound.
func runSweeper(ctx context.Context, cfg config.GatewayConfig, l *limiter.Limiter, s *store.Store) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets := l.Sweep()
			sessions := s.Sweep(cfg.SessionTTL)
			if buckets > 0 || sessions > 0 {
				log.Printf("[sweep] reclaimed %d rate buckets, %d idle sessions", buckets, sessions)
			}
		}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat gateway listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
