package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lottery-engine/internal/backtest"
	"lottery-engine/internal/cfg"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		dataPath    = flag.String("data", "", "Data directory (bolt) or file (csv, json); defaults to DATA_PATH")
		dataFormat  = flag.String("format", "auto", "Data format: auto, bolt, csv, json")
		variantName = flag.String("variant", "ssq", "Lottery type: ssq, dlt, fc3d, pl3, pl5, custom")
		algorithms  = flag.String("algorithms", "", "Comma-separated algorithms (default random_forest,neural_network,statistical)")
		trainWindow = flag.Int("train-window", backtest.DefaultTrainWindow, "Drawings before the first evaluated drawing")
		step        = flag.Int("step", backtest.DefaultStep, "Retrain every this many drawings")
		parallelism = flag.Int("parallel", 0, "Algorithms trained concurrently (0 = all)")
		outputPath  = flag.String("output", "backtest_results", "Output directory for reports")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	variant, err := lottery.ParseVariant(*variantName)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid lottery type")
	}
	algos, err := parseAlgorithms(*algorithms)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid algorithm list")
	}

	// The config supplies algorithm overrides and the feature window; the
	// backtest still runs with defaults when none is present.
	var config *cfg.Settings
	if c, err := cfg.Load(); err != nil {
		log.Warn().Err(err).Msg("Config unavailable, using defaults")
	} else {
		config = &c
		if *dataPath == "" {
			*dataPath = c.DataPath
		}
	}
	if *dataPath == "" {
		log.Fatal().Msg("No data path given")
	}

	fmt.Println("=== Backtest Configuration ===")
	fmt.Printf("Lottery Type: %s\n", variant.DisplayName())
	fmt.Printf("Data: %s (%s)\n", *dataPath, *dataFormat)
	fmt.Printf("Train Window: %d, Step: %d\n", *trainWindow, *step)
	fmt.Printf("Output Directory: %s\n", *outputPath)
	fmt.Println("==============================")

	loader := backtest.NewDataLoader(variant)
	if err := loadData(loader, *dataFormat, *dataPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to load data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := backtest.NewEngine(config, loader, backtest.Options{
		Algorithms:  algos,
		TrainWindow: *trainWindow,
		Step:        *step,
		Parallelism: *parallelism,
	}, nil)

	start := time.Now()
	log.Info().Int("drawings", loader.GetDataCount()).Msg("Starting backtest...")
	if err := engine.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	reporter := backtest.NewReporter(engine.GetResults(), *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("Failed to generate reports")
	}
	reporter.PrintSummary()

	log.Info().
		Str("output", *outputPath).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest completed successfully")
}

// loadData resolves "auto" from the path: directories are bolt stores,
// files are picked by extension.
func loadData(loader *backtest.DataLoader, format, path string) error {
	if format == "auto" {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat path: %w", err)
		}
		switch {
		case info.IsDir():
			format = "bolt"
		case strings.HasSuffix(path, ".csv"):
			format = "csv"
		case strings.HasSuffix(path, ".json"):
			format = "json"
		default:
			return fmt.Errorf("cannot determine file format for: %s", path)
		}
	}

	var store *storage.Store
	if format == "bolt" || format == "boltdb" {
		s, err := storage.New(path)
		if err != nil {
			return fmt.Errorf("failed to open BoltDB: %w", err)
		}
		defer s.Close()
		store = s
	}
	return loader.Load(format, path, store)
}

// parseAlgorithms parses a comma-separated algorithm list; empty means defaults.
func parseAlgorithms(list string) ([]ml.AlgorithmType, error) {
	var out []ml.AlgorithmType
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		algo, err := ml.ParseAlgorithm(s)
		if err != nil {
			return nil, err
		}
		out = append(out, algo)
	}
	return out, nil
}
