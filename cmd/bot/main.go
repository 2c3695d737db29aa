package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tslm9/logostamp/internal/assets"
	"github.com/tslm9/logostamp/internal/config"
	"github.com/tslm9/logostamp/internal/imaging"
	"github.com/tslm9/logostamp/internal/session"
	"github.com/tslm9/logostamp/internal/store"
	"github.com/tslm9/logostamp/internal/telegram"
	"github.com/tslm9/logostamp/internal/telemetry"
	"github.com/tslm9/logostamp/internal/webhook"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  telemetry.DefaultServiceName,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := imaging.Startup(); err != nil {
		logger.Fatalf("imaging runtime startup failed: %v", err)
	}
	defer imaging.Shutdown()

	assetStore, err := buildAssetStore(ctx, cfg.Assets, logger)
	if err != nil {
		logger.Fatalf("asset store setup failed: %v", err)
	}

	client, err := telegram.NewClient(telegram.Config{
		Token:   cfg.Bot.Token,
		Timeout: time.Duration(cfg.Bot.PollSeconds+30) * time.Second,
	})
	if err != nil {
		logger.Fatalf("telegram client setup failed: %v", err)
	}

	opts := session.Options{
		OwnerChatID:  cfg.Bot.OwnerChatID,
		OwnerContact: cfg.Bot.OwnerContact,
	}

	if cfg.Database.DSN != "" {
		usageStore, err := store.NewPostgresUsageStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("usage store setup failed: %v", err)
		}
		defer func() {
			if err := usageStore.Close(); err != nil {
				logger.Printf("usage store close error: %v", err)
			}
		}()
		opts.Usage = usageStore
		logger.Printf("usage accounting enabled backend=postgres")
	} else {
		opts.Usage = store.NewMemoryUsageStore()
	}

	if cfg.Events.URL != "" {
		opts.Events = webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Events.Secret,
			MaxAttempts:   3,
		})
		opts.EventsURL = cfg.Events.URL
		logger.Printf("operator events enabled endpoint=%s", cfg.Events.URL)
	}

	engine := session.NewEngine(
		logger,
		assetStore,
		client,
		client,
		imaging.NewNormalizer(assetStore, logger, cfg.Imaging.DwebpPath),
		imaging.NewCompositor(assetStore, cfg.Imaging.JPEGQuality),
		opts,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", engine.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:         cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Metrics.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("metrics server failed: %v", err)
		}
	}()

	poller := telegram.NewPoller(client, engine, logger, cfg.Bot.PollSeconds)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		logger.Printf("polling for updates every %ds", cfg.Bot.PollSeconds)
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("poller stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	cancel()
	<-pollerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func buildAssetStore(ctx context.Context, cfg config.AssetConfig, logger *log.Logger) (assets.Store, error) {
	switch cfg.Backend {
	case "minio":
		objectStore, err := assets.NewObjectStore(assets.ObjectConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			UseSSL:   cfg.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Printf("asset store backend=minio bucket=%s", cfg.Bucket)
		return objectStore, nil
	default:
		diskStore, err := assets.NewDiskStore(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		logger.Printf("asset store backend=disk")
		return diskStore, nil
	}
}
