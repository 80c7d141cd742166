package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		dataPath = flag.String("data", "data", "Data directory of the bolt store")
		variants = flag.String("variant", "ssq", "Comma-separated lottery types")
		count    = flag.Int("count", 500, "Drawings to generate per lottery type")
		seed     = flag.Int64("seed", 42, "Random seed")
		start    = flag.String("start", "", "First draw date (YYYY-MM-DD); defaults to count days before today")
	)
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *count <= 0 {
		log.Fatal().Int("count", *count).Msg("count must be positive")
	}
	vs, err := lottery.ParseVariants(strings.Split(*variants, ","))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid lottery type")
	}

	first := time.Now().UTC().AddDate(0, 0, -*count)
	if *start != "" {
		if first, err = time.Parse("2006-01-02", *start); err != nil {
			log.Fatal().Err(err).Msg("Invalid start date format")
		}
	}

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	gen := lottery.NewGenerator(*seed)
	for _, v := range vs {
		draws := gen.Generate(v, *count, first)
		if err := store.StoreDrawings(draws); err != nil {
			log.Fatal().Err(err).Str("variant", string(v)).Msg("Failed to store drawings")
		}
		total, _ := store.CountDrawings(v)
		log.Info().
			Str("variant", string(v)).
			Int("generated", len(draws)).
			Int("stored_total", total).
			Time("from", draws[0].DrawDate).
			Time("to", draws[len(draws)-1].DrawDate).
			Msg("Generated drawings")
	}
}
