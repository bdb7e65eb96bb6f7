package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admitly/chat-core/internal/chat"
	"github.com/admitly/chat-core/internal/config"
	"github.com/admitly/chat-core/internal/database"
	"github.com/admitly/chat-core/internal/gateway"
	"github.com/admitly/chat-core/internal/httpapi"
	"github.com/admitly/chat-core/internal/identity"
	"github.com/admitly/chat-core/internal/messaging"
	"github.com/admitly/chat-core/internal/metrics"
	"github.com/admitly/chat-core/internal/notification"
	"github.com/admitly/chat-core/internal/presence"
	"github.com/admitly/chat-core/internal/ratelimit"
	"github.com/admitly/chat-core/internal/relationship"
	"github.com/admitly/chat-core/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("Admissions chat server starting")
	log.Printf("  listen_addr:        %s", cfg.ListenAddr)
	log.Printf("  worker_pool:        %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections:    %d", cfg.MaxConnections)
	log.Printf("  read_timeout:       %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:      %s", cfg.WriteTimeout)
	log.Printf("  heartbeat_interval: %s", cfg.HeartbeatInterval)
	log.Printf("  heartbeat_timeout:  %s", cfg.HeartbeatTimeout)
	log.Printf("  migrate_on_start:   %t", cfg.MigrateOnStart)
	log.Printf("  redis_addr:         %s", cfg.RedisAddr)
	log.Printf("  nats_enabled:       %t", cfg.NATSEnabled)
	log.Printf("  nats_url:           %s", cfg.NATSURL)
	log.Printf("  server_name:        %s", cfg.ServerName)

	// --- Postgres ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	// --- Redis (presence + rate limits). Optional: the server runs without. ---
	var (
		tracker *presence.Tracker
		limiter *ratelimit.Limiter
	)
	tracker, err = presence.NewTracker(cfg.RedisAddr, cfg.ServerName)
	if err != nil {
		log.Printf("redis unavailable, presence and rate limits disabled: %v", err)
		tracker = nil
	} else {
		limiter = ratelimit.NewLimiter(tracker.Client())
	}

	// --- Fan-out: NATS room bus across instances, or in-process only. ---
	hub := presence.NewHub()
	var (
		bus        presence.Bus = presence.LocalBus{Hub: hub}
		natsClient *messaging.NATSClient
	)
	if cfg.NATSEnabled {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chat-core-" + cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		roomBus := messaging.NewRoomBus(natsClient)
		if err := roomBus.Attach(hub); err != nil {
			log.Fatalf("failed to subscribe room bus: %v", err)
		}
		bus = roomBus
	}
	fanout := presence.NewBroadcaster(bus)

	// --- Services ---
	directory := identity.NewPostgresDirectory(db)
	eligibility := relationship.NewGate(directory, relationship.NewPostgresLedger(db))
	chats := chat.NewService(chat.NewPostgresStore(db), eligibility)
	notes := notification.NewService(notification.NewPostgresStore(db), fanout)

	if natsClient != nil {
		if err := notification.NewBridge(notes).Start(natsClient); err != nil {
			log.Fatalf("failed to subscribe application events: %v", err)
		}
	}

	var toucher identity.Toucher
	if tracker != nil {
		toucher = tracker
	}
	auth := identity.NewGate(identity.NewTokens(cfg.JWTSecret), directory, toucher)

	// --- Realtime + REST on one listener ---
	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.HeartbeatInterval,
			Timeout:  cfg.HeartbeatTimeout,
		},
	}
	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, auth, dispatcher.Dispatch)
	server.SetLimiter(limiter)

	opts := []gateway.Option{gateway.WithLimiter(limiter)}
	if tracker != nil {
		opts = append(opts, gateway.WithTracker(tracker))
	}
	gateway.New(chats, notes, hub, fanout, opts...).Attach(server, dispatcher)

	server.Mount("/metrics", metrics.Handler())
	api := httpapi.New(auth, chats, notes)
	if tracker != nil {
		api.SetPresence(tracker)
	}
	server.Mount("/", api.Router())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if natsClient != nil {
			natsClient.Close()
		}
		if tracker != nil {
			if err := tracker.Close(); err != nil {
				log.Printf("presence tracker close error: %v", err)
			}
		}
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	<-stopped
	log.Println("server stopped")
}
