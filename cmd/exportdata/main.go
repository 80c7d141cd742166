package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		dataPath   = flag.String("data", "data", "Data directory of the bolt store")
		outputPath = flag.String("output", "drawings.csv", "Output file; the extension picks csv or json")
		variant    = flag.String("variant", "ssq", "Lottery type to export")
		days       = flag.Int("days", 0, "Export only drawings from the last N days (0 for all)")
	)
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	v, err := lottery.ParseVariant(*variant)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid lottery type")
	}

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	var draws []lottery.Drawing
	if *days > 0 {
		draws, err = store.GetDrawings(v, time.Now().UTC().AddDate(0, 0, -*days), time.Now().UTC())
	} else {
		draws, err = store.AllDrawings(v)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read drawings")
	}
	if len(draws) == 0 {
		log.Warn().Str("variant", string(v)).Msg("No drawings to export")
		return
	}

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}
	switch strings.ToLower(filepath.Ext(*outputPath)) {
	case ".json":
		err = writeJSON(*outputPath, draws)
	case ".csv":
		err = writeCSV(*outputPath, draws)
	default:
		err = fmt.Errorf("unsupported output extension %q", filepath.Ext(*outputPath))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}

	log.Info().
		Str("variant", string(v)).
		Int("drawings", len(draws)).
		Str("output", *outputPath).
		Msg("Export completed")
}

func writeJSON(path string, draws []lottery.Drawing) error {
	data, err := json.MarshalIndent(draws, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal drawings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// writeCSV uses the column layout the backtest loader reads.
func writeCSV(path string, draws []lottery.Drawing) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"draw_number", "draw_date", "numbers", "special_numbers"})
	for _, d := range draws {
		w.Write([]string{d.DrawNumber, d.DrawDate.Format("2006-01-02"), joinInts(d.Numbers), joinInts(d.SpecialNumbers)})
	}
	w.Flush()
	return w.Error()
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}
