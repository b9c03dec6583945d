package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/domain"
	"prism-board/events"
	"prism-board/jobs"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.CheckServer(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	redisOpts, err := config.RedisOptions(cfg.RedisConnStr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	publishers := events.Fanout{events.NewRedisPublisher(rc, cfg.UpdatesChannel)}
	if cfg.EventsQueue != "" && cfg.StorageConnStr != "" {
		qp, err := events.NewQueuePublisher(cfg.StorageConnStr, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		publishers = append(publishers, qp)
	}

	opts := []domain.Option{
		domain.WithBoardCache(storage.NewBoardCache(rc, cfg.BoardCacheTTL)),
		domain.WithPublisher(publishers),
	}
	svc := api.Services{
		Projects: domain.NewProjectService(store, opts...),
		Sprints:  domain.NewSprintService(store, opts...),
		Boards:   domain.NewBoardService(store, opts...),
	}

	var auth *api.Auth
	if cfg.AuthTestSecret != "" {
		auth = api.NewAuth(nil, "", "", []byte(cfg.AuthTestSecret), cfg.JWKSCacheTTL)
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer(), nil, cfg.JWKSCacheTTL)
	}

	broker := api.NewBroker()
	go events.Subscribe(ctx, rc, cfg.UpdatesChannel, broker.HandleEvent)

	sweep, err := jobs.NewOverdueSweep(svc.Sprints, rc, cfg.OverdueInterval, cfg.OverdueRenotify)
	if err != nil {
		log.Fatalf("overdue sweep: %v", err)
	}
	if err := sweep.Start(ctx); err != nil {
		log.Fatalf("overdue sweep: %v", err)
	}
	defer func() {
		if err := sweep.Stop(); err != nil {
			log.WithError(err).Warn("overdue sweep shutdown")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.Use(e)
	api.Register(e, api.Deps{
		Services: svc,
		Auth:     auth,
		Deduper:  api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Broker:   broker,
		Logger:   log.StandardLogger(),
		Health: []func(context.Context) error{
			func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		},
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}
