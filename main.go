package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/romiteld/eva-assistant-sub007/audit"
	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/command"
	"github.com/romiteld/eva-assistant-sub007/config"
	"github.com/romiteld/eva-assistant-sub007/router"
	"github.com/romiteld/eva-assistant-sub007/server"
	"github.com/romiteld/eva-assistant-sub007/session"
	"github.com/romiteld/eva-assistant-sub007/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisClient := connectRedis(cfg)
	if redisClient != nil {
		// Sole owner of the client; registry and sink only borrow it
		defer redisClient.Close()
	}

	gate := auth.NewGate(cfg.AuthPurpose, cfg.MaxSessionsPerUser, cfg.RateLimitPerWindow, cfg.RateLimitWindow)
	registry := session.NewRegistry(cfg, gate, redisClient)

	var sink audit.Sink
	if redisClient != nil {
		sink = audit.NewRedisSink(redisClient, cfg.SessionTimeout)
	} else {
		sink = audit.NewMemorySink(10000)
	}
	defer sink.Close()

	executor := command.NewExecutor(cfg.CommandMaxAttempts, cfg.CommandBaseDelay)
	registerCommands(executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge, err := upstream.NewBridge(ctx, cfg.GeminiAPIKey, cfg.UpstreamModel, cfg.AssistantPrompt,
		cfg.UpstreamConnectTimeout, upstream.RetryPolicy{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
		})
	if err != nil {
		log.Fatalf("Failed to create upstream bridge: %v", err)
	}

	rt := router.New(gate, executor, sink, cfg.MaxMessageBytes)
	srv := server.New(cfg, gate, registry, bridge, rt)

	go registry.StartCleanupRoutine(ctx)

	monitor := session.NewMonitor(registry, cfg.HeartbeatInterval)
	go monitor.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// connectRedis tries Redis, but the relay runs without it: sessions stay
// in memory and the audit trail falls back to the in-process ring.
func connectRedis(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unavailable (%v), continuing without it", err)
		return nil
	}
	return client
}

// registerCommands wires the development command set. Real deployments
// replace these bodies with CRM and calendar integrations.
func registerCommands(e *command.Executor) {
	e.Register("schedule_meeting", func(_ context.Context, params map[string]interface{}, userID string) (interface{}, error) {
		log.Printf("📅 schedule_meeting for %s: %v", userID, params)
		return map[string]interface{}{"scheduled": true, "details": params}, nil
	})
	e.Register("send_email", func(_ context.Context, params map[string]interface{}, userID string) (interface{}, error) {
		log.Printf("✉️ send_email for %s: %v", userID, params)
		return map[string]interface{}{"sent": true}, nil
	})
	e.Register("lookup_candidate", func(_ context.Context, params map[string]interface{}, userID string) (interface{}, error) {
		log.Printf("🔎 lookup_candidate for %s: %v", userID, params)
		return map[string]interface{}{"found": false, "query": params}, nil
	})
}
