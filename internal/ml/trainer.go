package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// ModelTrainer trains fresh models for one variant and keeps the trained
// instances with their latest evaluation.
type ModelTrainer struct {
	variant lottery.Variant
	metrics MetricsInterface
	drift   *DriftDetector

	mu          sync.RWMutex
	trained     map[AlgorithmType]PredictionAlgorithm
	order       []AlgorithmType
	performance map[AlgorithmType]*EvaluationMetrics
}

// NewModelTrainer returns a trainer for v. A nil metrics receiver discards
// observations.
func NewModelTrainer(v lottery.Variant, metrics MetricsInterface) *ModelTrainer {
	return &ModelTrainer{
		variant:     v,
		metrics:     orNop(metrics),
		trained:     make(map[AlgorithmType]PredictionAlgorithm),
		performance: make(map[AlgorithmType]*EvaluationMetrics),
	}
}

// SetDriftDetector makes every successful training run reset the drift
// baseline to its feature matrix.
func (t *ModelTrainer) SetDriftDetector(d *DriftDetector) {
	t.mu.Lock()
	t.drift = d
	t.mu.Unlock()
}

// Variant is the lottery variant served by the trainer.
func (t *ModelTrainer) Variant() lottery.Variant { return t.variant }

// TrainAlgorithm trains a new instance of name and stores it on success.
// A failed run leaves any previously trained instance in place.
func (t *ModelTrainer) TrainAlgorithm(name string, data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	algo, err := ParseAlgorithm(name)
	if err != nil {
		return 0, err
	}
	if !cfg.Variant.Valid() {
		cfg.Variant = t.variant
	}
	model, err := newBaseModel(algo, cfg)
	if err != nil {
		return 0, err
	}
	if h, ok := model.(*Hybrid); ok {
		h.SetMetrics(t.metrics)
	}

	variant := string(t.variant)
	start := time.Now()
	t.metrics.TrainingsInc(variant, string(algo))
	accuracy, err := model.Train(data, cfg)
	t.metrics.TrainingDurationObserve(variant, string(algo), time.Since(start).Seconds())
	if err != nil {
		t.metrics.TrainingFailuresInc(variant, string(algo))
		return 0, fmt.Errorf("train %s: %w", algo, err)
	}

	t.mu.Lock()
	if _, exists := t.trained[algo]; !exists {
		t.order = append(t.order, algo)
	}
	t.trained[algo] = model
	n := len(t.trained)
	drift := t.drift
	t.mu.Unlock()

	t.metrics.ModelAccuracySet(variant, string(algo), accuracy)
	t.metrics.TrainedModelsSet(variant, n)
	if drift != nil {
		names := features.Names(t.variant, data.Config)
		if err := drift.SetBaseline(names, data.Features); err != nil {
			log.Warn().Err(err).Str("variant", variant).Msg("Failed to persist drift baseline")
		}
	}
	log.Info().
		Str("variant", variant).
		Str("algorithm", string(algo)).
		Float64("accuracy", accuracy).
		Dur("duration", time.Since(start)).
		Msg("Model trained")
	return accuracy, nil
}

// TrainAll trains every available algorithm. Failures are collected per
// algorithm and never stop the loop.
func (t *ModelTrainer) TrainAll(data *TrainingData, cfg AlgorithmConfig) (map[AlgorithmType]float64, map[AlgorithmType]error) {
	return t.TrainSelected(AllAlgorithms, data, cfg)
}

// TrainSelected trains the given algorithms with the same semantics as TrainAll.
func (t *ModelTrainer) TrainSelected(algos []AlgorithmType, data *TrainingData, cfg AlgorithmConfig) (map[AlgorithmType]float64, map[AlgorithmType]error) {
	results := make(map[AlgorithmType]float64, len(algos))
	failures := make(map[AlgorithmType]error)
	for _, algo := range algos {
		acc, err := t.TrainAlgorithm(string(algo), data, cfg)
		if err != nil {
			log.Error().Err(err).Str("variant", string(t.variant)).Str("algorithm", string(algo)).Msg("Training failed")
			failures[algo] = err
			continue
		}
		results[algo] = acc
	}
	return results, failures
}

// Predict runs a trained model.
func (t *ModelTrainer) Predict(algo AlgorithmType, input *PredictionInput) (*PredictionOutput, error) {
	t.mu.RLock()
	model, ok := t.trained[algo]
	t.mu.RUnlock()
	if !ok {
		return nil, lottery.AlgorithmError("model %s not trained or found", algo)
	}

	variant := string(t.variant)
	start := time.Now()
	t.metrics.PredictionsInc(variant, string(algo))
	out, err := model.Predict(input)
	t.metrics.PredictionLatencyObserve(variant, string(algo), time.Since(start).Seconds())
	if err != nil {
		t.metrics.PredictionFailuresInc(variant, string(algo))
		return nil, err
	}
	return out, nil
}

// Model returns a deep copy of a trained model.
func (t *ModelTrainer) Model(algo AlgorithmType) (PredictionAlgorithm, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.trained[algo]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Compare evaluates every trained model on test and remembers the result
// as that model's performance.
func (t *ModelTrainer) Compare(test *TrainingData) (map[AlgorithmType]*EvaluationMetrics, error) {
	if err := checkTrainingData(test); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[AlgorithmType]*EvaluationMetrics, len(t.trained))
	for _, algo := range t.order {
		m, err := t.trained[algo].Evaluate(test)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", algo, err)
		}
		out[algo] = m
		t.performance[algo] = m
	}
	return out, nil
}

// Best returns the algorithm with the highest compared accuracy.
func (t *ModelTrainer) Best() (AlgorithmType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best AlgorithmType
	found := false
	for _, algo := range t.order {
		m, ok := t.performance[algo]
		if !ok {
			continue
		}
		if !found || m.Accuracy > t.performance[best].Accuracy {
			best, found = algo, true
		}
	}
	return best, found
}

// ListAvailable returns every algorithm the trainer can build.
func (t *ModelTrainer) ListAvailable() []AlgorithmType {
	return append([]AlgorithmType(nil), AllAlgorithms...)
}

// ListTrained returns the trained algorithms in training order.
func (t *ModelTrainer) ListTrained() []AlgorithmType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]AlgorithmType(nil), t.order...)
}

// Performance returns the last comparison result for algo.
func (t *ModelTrainer) Performance(algo AlgorithmType) (*EvaluationMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.performance[algo]
	return m, ok
}

// ModelPath is where SaveAll writes algo's snapshot inside dir.
func (t *ModelTrainer) ModelPath(dir string, algo AlgorithmType) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", algo, t.variant))
}

// SaveAll writes every trained model to dir.
func (t *ModelTrainer) SaveAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return lottery.WrapAlgorithm(err, "create model directory %s", dir)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, algo := range t.order {
		if err := t.trained[algo].SaveModel(t.ModelPath(dir, algo)); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll restores every model that has a snapshot in dir and returns the
// algorithms it loaded. Missing snapshots are not an error.
func (t *ModelTrainer) LoadAll(dir string, cfg AlgorithmConfig) ([]AlgorithmType, error) {
	if !cfg.Variant.Valid() {
		cfg.Variant = t.variant
	}
	var loaded []AlgorithmType
	var errs []error
	for _, algo := range AllAlgorithms {
		path := t.ModelPath(dir, algo)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		model, err := newBaseModel(algo, cfg)
		if err != nil {
			return loaded, err
		}
		if err := model.LoadModel(path); err != nil {
			errs = append(errs, err)
			continue
		}
		if h, ok := model.(*Hybrid); ok {
			h.SetMetrics(t.metrics)
		}
		t.mu.Lock()
		if _, exists := t.trained[algo]; !exists {
			t.order = append(t.order, algo)
		}
		t.trained[algo] = model
		t.mu.Unlock()
		loaded = append(loaded, algo)
	}
	t.metrics.TrainedModelsSet(string(t.variant), len(t.ListTrained()))
	return loaded, errors.Join(errs...)
}

// EnsemblePredict counts how many of the named models picked each number
// and keeps the most picked ones.
func (t *ModelTrainer) EnsemblePredict(names []AlgorithmType, input *PredictionInput) (*PredictionOutput, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}
	start := time.Now()

	t.mu.RLock()
	preds := collectPredictions(t.trained, names, input)
	t.mu.RUnlock()
	if len(preds) == 0 {
		return nil, lottery.AlgorithmError("no valid predictions from specified algorithms")
	}
	return ensembleOutput(input.Variant, majorityVote(preds), preds, names, start), nil
}

// SortedAlgorithms returns the keys of m in catalog order.
func SortedAlgorithms[V any](m map[AlgorithmType]V) []AlgorithmType {
	out := make([]AlgorithmType, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	rank := make(map[AlgorithmType]int, len(AllAlgorithms))
	for i, a := range AllAlgorithms {
		rank[a] = i
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out
}
