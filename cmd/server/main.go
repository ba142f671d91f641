package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/technosupport/ts-aoi/internal/aggregate"
	"github.com/technosupport/ts-aoi/internal/api"
	"github.com/technosupport/ts-aoi/internal/barcodelink"
	"github.com/technosupport/ts-aoi/internal/camera"
	"github.com/technosupport/ts-aoi/internal/config"
	"github.com/technosupport/ts-aoi/internal/detect"
	"github.com/technosupport/ts-aoi/internal/dispatch"
	"github.com/technosupport/ts-aoi/internal/events"
	"github.com/technosupport/ts-aoi/internal/golden"
	"github.com/technosupport/ts-aoi/internal/metrics"
	"github.com/technosupport/ts-aoi/internal/platform/paths"
	"github.com/technosupport/ts-aoi/internal/products"
	"github.com/technosupport/ts-aoi/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := paths.EnsureDirs(cfg.Server.SharedRoot); err != nil {
		return fmt.Errorf("prepare shared folder: %w", err)
	}

	m := metrics.New()

	// Product configs and golden samples live under the config root; the
	// watcher picks up edits made directly on disk.
	productStore := products.NewStore(cfg.Server.ConfigRoot, log)
	productStore.StartWatcher(ctx)
	goldenStore := golden.NewStore(cfg.Server.ConfigRoot, log)

	// Detectors. The feature extractor degrades to histograms when no ONNX
	// model is configured or loadable.
	extractor := detect.NewExtractor(cfg.Detect.ModelPath, cfg.Detect.ONNXLibrary, log)
	registry := detect.NewRegistry(
		detect.NewCompareDetector(goldenStore, extractor, m, log),
		detect.NewBarcodeDetector(detect.ZXingDecoder{}),
		detect.NewOCRDetector(detect.NewHTTPEngine(cfg.Detect.OCRURL, cfg.Detect.OCRTimeout)),
		detect.NewColorDetector(),
	)
	dispatcher := dispatch.New(registry, m, cfg.Server.Workers, log)

	// Optional backends degrade to no-ops when unconfigured or unreachable.
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	linker := barcodelink.New(cfg.Link.URL, rdb, m, log)
	aggregator := aggregate.New(linker, log)

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATS.URL, nats.Name("ts-aoi-server"))
		if err != nil {
			log.Warn("nats connect failed, inspection events disabled",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
			nc = nil
		} else {
			defer nc.Close()
		}
	}
	publisher := events.NewPublisher(nc, cfg.NATS.Subject, cfg.NATS.MaxRetries, log)

	// The server owns the capture hardware. Without real optics attached it
	// runs the simulator so the whole pipeline stays exercisable.
	driver := camera.NewSimulator(cfg.Client.SettleDelay, log)
	ctrl := camera.NewController(driver, log)
	if err := driver.Initialize(ctx, cfg.Client.CameraSerial, 305, 1200); err != nil {
		log.Warn("camera initialization failed, sessions will be rejected", zap.Error(err))
	}

	sessions := session.NewManager(cfg.Server.SharedRoot, ctrl.Ready, log)
	sessions.StartSweeper(ctx)
	defer sessions.CloseAll()

	srv := &api.Server{
		Products:    productStore,
		Sessions:    sessions,
		Goldens:     goldenStore,
		Dispatcher:  dispatcher,
		Aggregator:  aggregator,
		Events:      publisher,
		Metrics:     m,
		SharedRoot:  cfg.Server.SharedRoot,
		CameraReady: ctrl.Ready,
		Log:         log,
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
