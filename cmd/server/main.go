package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/speak-arena/internal/chatlog"
	"github.com/suPer8Hu/speak-arena/internal/clock"
	"github.com/suPer8Hu/speak-arena/internal/config"
	"github.com/suPer8Hu/speak-arena/internal/db"
	"github.com/suPer8Hu/speak-arena/internal/httpapi"
	"github.com/suPer8Hu/speak-arena/internal/httpapi/handlers"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
	"github.com/suPer8Hu/speak-arena/internal/profile"
	"github.com/suPer8Hu/speak-arena/internal/room"
	"github.com/suPer8Hu/speak-arena/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb, &profile.Profile{}, &room.Room{}, &room.Participant{}, &moderation.AuditEvent{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("redis ping: %v", err)
	}
	cancel()

	// the audit trail is optional; chat keeps working without a broker
	var events moderation.EventPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbit unavailable, moderation events disabled: %v", err)
	} else {
		defer pub.Close()
		events = pub
	}

	r, h := httpapi.NewRouter(gdb, cfg, chatlog.NewRedisLog(rdb), events, clock.System{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// open chat streams end with the process signal instead of holding Shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go sweepIdle(ctx, h)

	go func() {
		log.Printf("server listening addr=%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	// let pending profile mirrors land before the DB goes away
	h.Progress.Wait()
}

const (
	sweepEvery = time.Minute
	idleAfter  = 15 * time.Minute
)

// sweepIdle evicts chat sessions and progression engines nobody has touched lately.
func sweepIdle(ctx context.Context, h *handlers.Handler) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, engines := h.Sweep(idleAfter)
			if sessions > 0 || engines > 0 {
				log.Printf("[sweep] evicted sessions=%d engines=%d", sessions, engines)
			}
		}
	}
}
