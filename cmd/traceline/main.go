// Package main implements the traceline ingestion service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/traceline/traceline/internal/app"
	"github.com/traceline/traceline/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address for the ingestion server")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Traceline - Agent Telemetry Ingestion Service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: traceline [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  traceline --data-dir /data/traceline\n")
		fmt.Fprintf(os.Stderr, "  traceline --config /etc/traceline/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TRACELINE_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TRACELINE_HTTP_ADDR      HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  TRACELINE_STORAGE_MODE   Storage backend (file, bulk-store, auto)\n")
		fmt.Fprintf(os.Stderr, "  TRACELINE_DATABASE_URL   Postgres DSN for bulk-store mode\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("traceline version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Optional .env for local development; environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Storage.FilePath = ""
		cfg.Client.SpoolPath = ""
		cfg.Archive.Path = ""
		cfg.Resolve()
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
