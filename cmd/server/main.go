package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/chat"
	"github.com/suPer8Hu/chat-rooms/internal/config"
	"github.com/suPer8Hu/chat-rooms/internal/db"
	"github.com/suPer8Hu/chat-rooms/internal/httpapi"
	"github.com/suPer8Hu/chat-rooms/internal/realtime"
	"github.com/suPer8Hu/chat-rooms/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-rooms/internal/store/redisstore"
)

// presence is what the server needs from a presence backend.
type presence interface {
	realtime.Presence
	Online(ctx context.Context, sessionID string) (map[uint64]int, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Error("automigrate", "err", err)
		os.Exit(1)
	}

	var pres presence = realtime.NewLocalPresence()
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, using in-process presence", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rds.Close()
			pres = rds
		}
	}

	var sink chat.AuditSink
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("rabbitmq unavailable, audit stream disabled", "err", err)
		} else {
			defer pub.Close()
			sink = pub
		}
	}

	registry := realtime.NewRegistry(log)
	svc := chat.NewService(repo, chat.Options{
		Broadcaster: registry,
		Audit:       sink,
		Logger:      log,
	})
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	socket := realtime.NewHandler(svc, verifier, registry, realtime.HandlerOptions{
		AuthTimeout:     cfg.WSAuthTimeout,
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		CheckOrigin:     originChecker(cfg),
		Presence:        pres,
		Logger:          log,
	})

	r := httpapi.NewRouter(cfg, httpapi.Deps{
		Chat:     svc,
		Verifier: verifier,
		Presence: pres,
		Socket:   socket,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server started", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	// sockets are hijacked, so Shutdown does not wait for them
	registry.Shutdown()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func originChecker(cfg config.Config) func(*http.Request) bool {
	if cfg.AllowAllOrigins() {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(cfg.CORSAllowedOrigins))
	for _, o := range cfg.CORSAllowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
