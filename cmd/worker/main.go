package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"confianza-backend/internal/config"
	"confianza-backend/internal/queue"
	"confianza-backend/internal/store"
	"confianza-backend/internal/telemetry"
	"confianza-backend/internal/worker"
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

	q := queue.NewEvidenceQueue(cfg)

	photos, err := worker.NewPhotoHandler(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("init photo handler")
	}

	processor := worker.NewProcessor(cfg, q, st, photos.Handle, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"visibility":      cfg.VisibilityTimeout.String(),
		"backoff_initial": cfg.BackoffInitial.String(),
	}).Info("evidence worker started")
	if err := processor.Run(ctx); err != nil {
		log.WithError(err).Info("worker stopped")
	}
}
