package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"scheduler/server/internal/access"
	"scheduler/server/internal/config"
	"scheduler/server/internal/events"
	internalhttp "scheduler/server/internal/http"
	"scheduler/server/internal/invite"
	"scheduler/server/internal/membership"
	"scheduler/server/internal/memstore"
	"scheduler/server/internal/redisstore"
	"scheduler/server/internal/repository"
	"scheduler/server/internal/session"
	"scheduler/server/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL == "memory" {
		// Dev mode without a database; state is lost on restart.
		st = memstore.New()
		log.Printf("using in-memory store")
	} else {
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connection failed: %v", err)
		}
		defer pool.Close()
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("schema init failed: %v", err)
		}
		st = repository.NewStore(pool)
	}

	var sessionStore store.SessionStore = st
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		sessionStore = redisstore.NewSessionStore(redisClient)
		log.Printf("sessions stored in redis at %s", cfg.RedisAddr)
	}

	sessions := session.NewManager(sessionStore, st, cfg.SessionTTL, cfg.StoreRetries, cfg.StoreRetryBackoff)
	resolver := access.NewResolver(sessions, st)
	invites := invite.NewEngine(st, st, st, resolver, cfg.GenericInviteUses)
	members := membership.NewTracker(st, st)
	eventSvc := events.NewService(st, st, st)

	server := internalhttp.NewServer(cfg, st, sessions, invites, members, resolver, eventSvc)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("scheduler http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
