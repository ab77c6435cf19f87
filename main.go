// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traceproc/internal/config"
	"traceproc/internal/ingest"
	"traceproc/internal/kernel/proctrack"
	"traceproc/internal/logger"
	"traceproc/internal/metrics"
	"traceproc/internal/storage"
)

var (
	version = "0.1.0"
)

func main() {
	// Load configuration (flags + optional TOML file)
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// -generate-config ran and wants a clean exit
		return
	}

	// Configure loggers based on configuration
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	if cfg.Server.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			http.ListenAndServe("localhost:6060", nil)
		}()
	}

	log.Info().
		Str("version", version).
		Str("input", cfg.Ingest.Input).
		Str("format", cfg.Ingest.Format).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Msg("Starting traceproc")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	format, err := ingest.ParseFormat(cfg.Ingest.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ingest format")
	}

	st := storage.NewTraceStorage()
	tracker := proctrack.New(st)
	driver := ingest.NewDriver(tracker, st, format)
	log.Debug().Msg("- Tracker and driver created")

	// Register metrics before ingestion starts so partial progress scrapes
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewTrackerCollector(tracker, st))

	http.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>Traceproc</title></head>
            <body>
            <h1>Traceproc v` + version + ` </h1>
            <p><a href="` + cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	log.Info().Str("address", cfg.Server.ListenAddress).Msg("Starting HTTP server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Ingest the trace in the background; the server keeps answering
	// scrapes while (and after) the file drains.
	ingestDone := make(chan error, 1)
	go func() {
		input, err := openInput(cfg.Ingest.Input)
		if err != nil {
			ingestDone <- err
			return
		}
		defer input.Close()
		ingestDone <- driver.Run(ctx, input)
	}()

	select {
	case err := <-ingestDone:
		if err != nil {
			log.Error().Err(err).Msg("Trace ingestion failed")
		} else {
			counts := tracker.Counts()
			log.Info().
				Uint64("threads", counts.ThreadsStarted).
				Uint64("processes", counts.ProcessesStarted).
				Int64("pending_associations", counts.PendingAssociations).
				Msg("Trace ingestion finished, serving metrics until signalled")
		}
		<-ctx.Done()
	case <-ctx.Done():
	}

	log.Info().Msg("Received shutdown signal, shutting down gracefully...")

	// Start graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	} else {
		log.Debug().Msg("HTTP server shut down cleanly")
	}

	log.Info().Msg("Traceproc stopped gracefully")
}

// openInput resolves the configured input path, with "-" meaning stdin.
func openInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace input: %w", err)
	}
	return f, nil
}
