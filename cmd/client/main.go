package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/technosupport/ts-aoi/internal/camera"
	"github.com/technosupport/ts-aoi/internal/client"
	"github.com/technosupport/ts-aoi/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	product := flag.String("product", "", "product to inspect (overrides config)")
	barcodes := flag.String("barcodes", "", "manual device barcodes, e.g. 1=SN001,2=SN002")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *product != "" {
		cfg.Client.Product = *product
	}
	if cfg.Client.Product == "" {
		fmt.Fprintln(os.Stderr, "no product selected: pass -product or set client.product")
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiClient := client.NewAPI(cfg.Client.ServerURL, log)
	if err := apiClient.Health(ctx); err != nil {
		log.Fatal("server unreachable", zap.String("url", cfg.Client.ServerURL), zap.Error(err))
	}

	driver := camera.NewSimulator(cfg.Client.SettleDelay, log)
	ctrl := camera.NewController(driver, log)

	hostname, _ := os.Hostname()
	orch := client.NewOrchestrator(apiClient, ctrl, client.Options{
		Product:      cfg.Client.Product,
		ClientInfo:   "aoi-client@" + hostname,
		CameraSerial: cfg.Client.CameraSerial,
		SharedRoot:   cfg.Server.SharedRoot,
	}, log)

	manual, err := parseBarcodes(*barcodes)
	if err != nil {
		log.Fatal("invalid -barcodes", zap.Error(err))
	}
	for id, code := range manual {
		orch.SetBarcode(id, code)
	}

	resp, err := orch.Run(ctx)
	if err != nil {
		log.Fatal("inspection failed", zap.Error(err))
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))

	if !resp.Summary.Passed {
		os.Exit(2)
	}
}

// parseBarcodes parses "1=SN001,2=SN002" into device id to barcode.
func parseBarcodes(s string) (map[int]string, error) {
	out := make(map[int]string)
	if s == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		id, code, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not device=barcode", pair)
		}
		deviceID, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("entry %q: device id: %w", pair, err)
		}
		out[deviceID] = strings.TrimSpace(code)
	}
	return out, nil
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
