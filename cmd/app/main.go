package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ESStats/internal/di"
	"ESStats/internal/domain/models"
	"ESStats/internal/usecase"
	"ESStats/pkg/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  serve        run the HTTP read API
  import-csv   import one CSV file of 1m bars
  init-schema  create tables on the configured backend

Run "%s <command> -h" for command flags.
`, os.Args[0], os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "import-csv":
		runImport(os.Args[2:])
	case "init-schema":
		runInitSchema(os.Args[2:])
	default:
		usage()
	}
}

func loadConfig(fs *flag.FlagSet, args []string) *config.Config {
	configPath := fs.String("config", "config/config.yaml", "config file path")
	fs.Parse(args)

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	log.Printf("env=%s backend=%s", cfg.Environment, cfg.Backend.Type)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import-csv", flag.ExitOnError)
	file := fs.String("file", "", "CSV file to import (required)")
	symbol := fs.String("symbol", "ES", "instrument symbol")
	timezone := fs.String("timezone", "", "input timestamp timezone (default: config import.input_timezone)")
	mergePolicy := fs.String("merge-policy", "", "skip or overwrite (default: config import.merge_policy)")
	cfg := loadConfig(fs, args)

	if *file == "" {
		log.Fatalf("import-csv: -file is required")
	}

	policy, err := cfg.DefaultMergePolicy()
	if err != nil {
		log.Fatalf("config merge policy: %v", err)
	}
	if *mergePolicy != "" {
		policy, err = models.ParseMergePolicy(*mergePolicy)
		if err != nil {
			log.Fatalf("parse -merge-policy: %v", err)
		}
	}
	tz := cfg.Import.InputTimezone
	if *timezone != "" {
		tz = *timezone
	}

	importer, err := di.InitializeImporter(cfg)
	if err != nil {
		log.Fatalf("importer initialization failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary, err := importer.ImportCSV(ctx, usecase.ImportRequest{
		FilePath:           *file,
		Symbol:             *symbol,
		InputTimezone:      tz,
		MergePolicy:        policy,
		BarIntervalSeconds: cfg.Import.BarIntervalSeconds,
	})
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("encode summary: %v", err)
	}
	fmt.Println(string(out))
}

func runInitSchema(args []string) {
	fs := flag.NewFlagSet("init-schema", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	store, err := di.InitializeStore(cfg)
	if err != nil {
		log.Fatalf("store initialization failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Init(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}
	log.Printf("schema ready backend=%s", cfg.Backend.Type)
}
