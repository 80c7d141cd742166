package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"lottery-engine/internal/api"
	"lottery-engine/internal/client"
	"lottery-engine/internal/lottery"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		server     = flag.String("server", "http://localhost:8080", "Engine base URL")
		command    = flag.String("cmd", "predict", "Command: predict, train, compare, list, trained, collect, drift, events")
		variant    = flag.String("variant", "ssq", "Lottery type")
		algorithm  = flag.String("algorithm", "statistical", "Algorithm for predict")
		ensemble   = flag.Bool("ensemble", false, "Predict with the ensemble instead of one algorithm")
		algorithms = flag.String("algorithms", "", "Comma-separated algorithms for train or the ensemble")
		days       = flag.Int("days", 0, "Historical drawings to use (train, collect)")
		force      = flag.Bool("force", false, "Regenerate stored drawings on collect")
		timeout    = flag.Duration("timeout", 5*time.Minute, "Request timeout")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	v, err := lottery.ParseVariant(*variant)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid lottery type")
	}
	names := splitList(*algorithms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c := client.New(*server, *timeout)

	switch *command {
	case "predict":
		out, err := c.Predict(ctx, api.PredictionRequest{
			Variant:            v,
			Algorithm:          *algorithm,
			UseEnsemble:        *ensemble,
			EnsembleAlgorithms: names,
			HistoricalDays:     *days,
		})
		exitOn(err)
		fmt.Printf("%s prediction (%d ms)\n", v.DisplayName(), out.ComputationTimeMs)
		fmt.Printf("  Numbers: %v\n", out.Numbers)
		if len(out.SpecialNumbers) > 0 {
			fmt.Printf("  Special: %v\n", out.SpecialNumbers)
		}
		fmt.Printf("  Confidence: %s\n", formatFloats(out.Confidence))
	case "train":
		res, err := c.Train(ctx, api.TrainingRequest{Variant: v, Algorithms: names, HistoricalDays: *days})
		exitOn(err)
		printAccuracies(res)
	case "compare":
		rows, err := c.Compare(ctx, v)
		exitOn(err)
		fmt.Printf("%-16s %9s %9s %9s %9s %10s\n", "ALGORITHM", "ACCURACY", "PRECISION", "RECALL", "F1", "TRAIN_MS")
		for _, r := range rows {
			fmt.Printf("%-16s %9.4f %9.4f %9.4f %9.4f %10d\n", r.AlgorithmName, r.Accuracy, r.Precision, r.Recall, r.F1Score, r.TrainingTimeMs)
		}
	case "list":
		algos, err := c.Available(ctx, v)
		exitOn(err)
		for _, a := range algos {
			fmt.Println(a)
		}
	case "trained":
		rankings, err := c.Rankings(ctx, v)
		exitOn(err)
		for i, r := range rankings {
			fmt.Printf("%d. %-16s %.4f\n", i+1, r.Algorithm, r.Accuracy)
		}
	case "collect":
		res, err := c.Collect(ctx, api.DataCollectionRequest{Variants: []lottery.Variant{v}, Days: *days, ForceRefresh: *force})
		exitOn(err)
		for name, n := range res {
			fmt.Printf("%s: %d drawings written\n", name, n)
		}
	case "drift":
		report, err := c.Drift(ctx, v)
		exitOn(err)
		printJSON(report)
	case "events":
		events := make(chan api.Event, 16)
		go func() {
			if err := c.Subscribe(ctx, events); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Event stream ended")
			}
		}()
		for {
			select {
			case ev := <-events:
				printJSON(ev)
			case <-ctx.Done():
				return
			}
		}
	default:
		log.Fatal().Str("cmd", *command).Msg("Unknown command")
	}
}

func exitOn(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("Request failed")
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%.3f", x)
	}
	return strings.Join(parts, " ")
}

func printAccuracies(res map[string]float64) {
	names := make([]string, 0, len(res))
	for n := range res {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		status := "ok"
		if res[n] == 0 {
			status = "failed"
		}
		fmt.Printf("%-16s %.4f  %s\n", n, res[n], status)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
