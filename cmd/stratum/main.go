// Package main implements the unified stratum binary. A single process can
// run the ingest and query surfaces together or separately based on the
// -mode flag; the object store backend is selected by a required
// positional argument.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/stratumlake/stratum/internal/app"
	"github.com/stratumlake/stratum/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		addr        string
		mode        string
		stagingDir  string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.StringVar(&mode, "mode", "", "Service mode: all, ingest, query")
	flag.StringVar(&stagingDir, "staging-dir", "", "Local directory for staging files")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "stratum - log and event observability engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stratum <local-store|s3-store|blob-store|gcs-store> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stratum local-store\n")
		fmt.Fprintf(os.Stderr, "  stratum s3-store -mode ingest\n")
		fmt.Fprintf(os.Stderr, "  stratum local-store -config /etc/stratum/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  P_MODE                  Service mode (all, ingest, query)\n")
		fmt.Fprintf(os.Stderr, "  P_ADDR                  HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  P_USERNAME / P_PASSWORD Basic auth credentials\n")
		fmt.Fprintf(os.Stderr, "  P_STAGING_DIR           Local staging directory\n")
		fmt.Fprintf(os.Stderr, "  P_S3_URL / P_S3_BUCKET / P_S3_ACCESS_KEY / P_S3_SECRET_KEY / P_S3_REGION\n")
		fmt.Fprintf(os.Stderr, "  P_AZR_URL / P_AZR_CONTAINER\n")
		fmt.Fprintf(os.Stderr, "  P_GCS_BUCKET\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("stratum version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	storeType := args[0]

	cfg, err := loadConfig(configFile, storeType, addr, mode, stagingDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig builds a Config from defaults or a file, then overlays
// environment variables and finally command-line flags, in that order of
// increasing precedence. The store-type positional argument always wins:
// it is the one setting the CLI requires on every invocation.
func loadConfig(configFile, storeType, addr, mode, stagingDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if addr != "" {
		cfg.Addr = addr
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if stagingDir != "" {
		cfg.StagingDir = stagingDir
	}

	if err := config.ApplyStoreType(cfg, storeType); err != nil {
		return nil, err
	}

	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                       STRATUM                              ║")
	log.Printf("║        log and event observability engine                 ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:    %s", cfg.Mode)
	log.Printf("  Addr:    %s", cfg.Addr)
	log.Printf("  Store:   %s", cfg.Store.Type)
	log.Printf("  Staging: %s", cfg.StagingDir)
	log.Printf("  Cluster role: %s", cfg.Cluster.Role)
	if cfg.Bus.Enabled {
		log.Printf("  Bus: %d broker(s), %d topic binding(s)", len(cfg.Bus.Brokers), len(cfg.Bus.Bindings))
	}
	log.Printf("")
}
