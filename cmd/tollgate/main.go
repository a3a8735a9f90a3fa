// Package main запускает HTTP-сервер и обработчики очереди сервиса tollgate.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/tollgate/internal/cache"
	"github.com/mmeshcher/tollgate/internal/config"
	"github.com/mmeshcher/tollgate/internal/handler"
	"github.com/mmeshcher/tollgate/internal/metrics"
	"github.com/mmeshcher/tollgate/internal/queue"
	"github.com/mmeshcher/tollgate/internal/report"
	"github.com/mmeshcher/tollgate/internal/repository"
	"github.com/mmeshcher/tollgate/internal/service"
)

const memoryQueueCapacity = 1000

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	m := metrics.New()

	var broker queue.Broker
	if cfg.AMQPURL != "" {
		rb, err := queue.NewRabbitBroker(cfg.AMQPURL, cfg.QueueName, logger)
		if err != nil {
			sugar.Fatalw("broker initialization error", "error", err.Error())
		}
		broker = rb
	} else {
		sugar.Warn("RABBITMQ_URL is not set, using in-memory queue")
		broker = queue.NewMemoryBroker(memoryQueueCapacity, queue.DeliveryLimit, logger)
	}
	defer broker.Close()

	opts := service.Options{
		Publisher: broker,
		Metrics:   m,
		StatsTTL:  cfg.StatsCacheTTL,
	}
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(context.Background(), cfg.RedisAddr)
		if err != nil {
			sugar.Warnw("redis unavailable, stats cache disabled", "error", err.Error())
		} else {
			defer client.Close()
			opts.Cache = cache.NewRedisCache(client)
		}
	}

	svc := service.NewService(repo, logger, opts)

	history := report.NewHistoryRecorder(repo, logger)
	aggregator := report.NewAggregator(repo, history, cfg.ReportTimeout, m, logger)

	dispatcher := queue.NewDispatcher(broker, svc, cfg.DispatcherWorkers, cfg.DispatcherMaxInFlight, m, logger)

	h := handler.NewHandler(svc, aggregator, repo, m.Handler(), logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Обработчики асинхронно загружаемых пакетов
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting tollgate server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
