package ml

import (
	"testing"
	"time"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

var fixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fixtureWindow keeps extracted training sets small enough for fast tests.
const fixtureWindow = 10

func syntheticDrawings(v lottery.Variant, n int) []lottery.Drawing {
	return lottery.NewGenerator(7).Generate(v, n, fixtureStart)
}

// syntheticData extracts training data from n generated drawings and
// returns the drawings too, for use as prediction history.
func syntheticData(t *testing.T, v lottery.Variant, n int) (*TrainingData, []lottery.Drawing) {
	t.Helper()
	draws := syntheticDrawings(v, n)
	cfg := features.DefaultConfig()
	cfg.WindowSize = fixtureWindow
	data, err := features.NewExtractor().Extract(draws, cfg)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	return data, draws
}

// smallParams shrinks every model so the suite trains in well under a second.
var smallParams = map[AlgorithmType]map[string]any{
	RandomForestType:  {"n_estimators": 5, "max_depth": 4},
	NeuralNetworkType: {"hidden_layers": []any{8}, "epochs": 3, "batch_size": 16},
	LSTMType:          {"hidden_size": 6, "num_layers": 1, "sequence_length": 3, "epochs": 3},
	ARIMAType:         {"p": 2, "d": 1, "q": 1},
	StatisticalType:   {"window_size": 30},
}

func smallConfig(v lottery.Variant, t AlgorithmType) AlgorithmConfig {
	cfg := NewAlgorithmConfig(v)
	if t == HybridType {
		for name, params := range smallParams {
			cfg.Parameters[string(name)] = params
		}
		return cfg
	}
	for k, val := range smallParams[t] {
		cfg.Parameters[k] = val
	}
	return cfg
}

func newSmallModel(t *testing.T, v lottery.Variant, algo AlgorithmType) (PredictionAlgorithm, AlgorithmConfig) {
	t.Helper()
	cfg := smallConfig(v, algo)
	m, err := newBaseModel(algo, cfg)
	if err != nil {
		t.Fatalf("newBaseModel(%s) failed: %v", algo, err)
	}
	return m, cfg
}

func predictionInput(v lottery.Variant, history []lottery.Drawing) *PredictionInput {
	return &PredictionInput{
		Variant:    v,
		History:    history,
		TargetDate: history[len(history)-1].DrawDate.AddDate(0, 0, 1),
	}
}

// checkOutput asserts the count, range and distinctness invariants.
func checkOutput(t *testing.T, v lottery.Variant, out *PredictionOutput) {
	t.Helper()
	if len(out.Numbers) != v.MainCount() {
		t.Fatalf("expected %d numbers, got %v", v.MainCount(), out.Numbers)
	}
	if len(out.Confidence) != len(out.Numbers) {
		t.Errorf("expected one confidence per number, got %d for %d", len(out.Confidence), len(out.Numbers))
	}
	checkDistinctInRange(t, "main", out.Numbers, v.MaxNumber())

	if !v.HasSpecial() {
		if len(out.SpecialNumbers) != 0 {
			t.Errorf("variant %s has no specials, got %v", v, out.SpecialNumbers)
		}
		return
	}
	if len(out.SpecialNumbers) != v.SpecialCount() {
		t.Fatalf("expected %d special numbers, got %v", v.SpecialCount(), out.SpecialNumbers)
	}
	checkDistinctInRange(t, "special", out.SpecialNumbers, v.SpecialMax())
}

func checkDistinctInRange(t *testing.T, kind string, nums []int, max int) {
	t.Helper()
	seen := make(map[int]bool, len(nums))
	for _, n := range nums {
		if n < 1 || n > max {
			t.Errorf("%s number %d outside [1, %d]", kind, n, max)
		}
		if seen[n] {
			t.Errorf("duplicate %s number %d in %v", kind, n, nums)
		}
		seen[n] = true
	}
}
