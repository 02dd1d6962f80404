package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"confianza-backend/internal/api"
	"confianza-backend/internal/config"
	"confianza-backend/internal/dedup"
	"confianza-backend/internal/mercadopago"
	"confianza-backend/internal/queue"
	"confianza-backend/internal/ratelimit"
	"confianza-backend/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logrus.New()
	if cfg.Env != "dev" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.WithError(err).Fatal("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	evidenceQueue := queue.NewEvidenceQueueWithClient(redisClient, cfg.VisibilityTimeout)
	webhookDedup := dedup.New(redisClient, cfg.WebhookDedupTTL)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	payments := mercadopago.New(cfg.MPAPIBase, cfg.AppBaseURL, cfg.MPAccessToken, cfg.MPTimeout)

	server := api.New(cfg, st, payments, limiter, webhookDedup, evidenceQueue, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.WithField("port", cfg.HTTPPort).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
