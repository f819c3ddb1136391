package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/imageflow/internal/ingestion"
	"github.com/your-org/imageflow/pkg/config"
	"github.com/your-org/imageflow/pkg/kafka"
	"github.com/your-org/imageflow/pkg/logger"
	"github.com/your-org/imageflow/pkg/metrics"
	"github.com/your-org/imageflow/pkg/ratelimit"
	"github.com/your-org/imageflow/pkg/storage/objectstore"
	"github.com/your-org/imageflow/pkg/storage/recordstore"
	"github.com/your-org/imageflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogEncoding)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	mode, err := recordstore.ParseMode(cfg.Table.UpsertMode)
	if err != nil {
		logr.Fatal("invalid table upsert mode", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ingestMetrics := metrics.NewIngestion(reg)

	var publisher ingestion.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.IngestedTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
	} else {
		logr.Info("kafka brokers not configured; ingested events disabled")
	}

	service := ingestion.NewService(ingestion.Params{
		Blobs:     objectstore.NewUploader(nil),
		Records:   recordstore.NewUpserter(nil),
		Publisher: publisher,
		Targets: ingestion.Targets{
			Blob: objectstore.Target{
				ConnectionString: cfg.Storage.ConnectionString,
				Container:        cfg.Storage.ContainerName,
			},
			Table: recordstore.Target{
				ConnectionString: cfg.Table.ConnectionString,
				Table:            cfg.Table.Name,
			},
			PartitionKey: cfg.Table.PartitionKey,
			RowKey:       cfg.Table.RowKey,
			Mode:         mode,
		},
		Logger:  logr,
		Metrics: ingestMetrics,
	})

	var uploadMW []func(http.Handler) http.Handler
	if cfg.Upload.RateLimitRPS > 0 {
		uploadMW = append(uploadMW, ratelimit.New(cfg.Upload.RateLimitRPS, cfg.Upload.RateLimitBurst).Middleware)
	}

	handler := ingestion.NewHTTPHandler(ingestion.HandlerParams{
		Service:      service,
		Logger:       logr,
		Metrics:      ingestMetrics,
		MaxSizeBytes: cfg.Upload.MaxSizeBytes,
		FormMemBytes: cfg.Upload.MultipartMemBytes,
		UploadMW:     uploadMW,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logr.Info("metrics server starting", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logr.Error("metrics server shutdown failed", zap.Error(err))
		}
		if err := service.Close(shutdownCtx); err != nil {
			logr.Error("service shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("ingestion service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("container", cfg.Storage.ContainerName),
		zap.String("table", cfg.Table.Name),
		zap.Stringer("upsert_mode", mode),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
}
