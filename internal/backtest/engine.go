// Package backtest replays historical drawings through the model zoo in
// walk-forward fashion and scores every prediction against the actual draw.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lottery-engine/internal/cfg"
	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTrainWindow   = 100
	DefaultStep          = 10
	DefaultFeatureWindow = 20
)

// Options control a walk-forward run. Zero values take the defaults.
type Options struct {
	Algorithms []ml.AlgorithmType
	// TrainWindow is the index of the first predicted drawing.
	TrainWindow int
	// Step is the number of predicted drawings between retrains.
	Step          int
	FeatureWindow int
	// Parallelism bounds concurrent model training; 0 trains every algorithm at once.
	Parallelism int
	// AlgorithmConfig overrides the per-algorithm settings taken from cfg.Settings.
	AlgorithmConfig func(ml.AlgorithmType) ml.AlgorithmConfig
}

// Engine represents the backtesting engine
type Engine struct {
	config  *cfg.Settings
	data    *DataLoader
	opts    Options
	metrics ml.MetricsInterface
	results *Results
}

// Record is one scored prediction
type Record struct {
	DrawNumber       string           `json:"draw_number"`
	DrawDate         time.Time        `json:"draw_date"`
	Algorithm        ml.AlgorithmType `json:"algorithm"`
	Predicted        []int            `json:"predicted"`
	PredictedSpecial []int            `json:"predicted_special,omitempty"`
	Actual           []int            `json:"actual"`
	ActualSpecial    []int            `json:"actual_special,omitempty"`
	Hits             int              `json:"hits"`
	SpecialHits      int              `json:"special_hits"`
	Confidence       float64          `json:"confidence"`
}

// AlgorithmResult aggregates the records of one algorithm
type AlgorithmResult struct {
	Algorithm          ml.AlgorithmType `json:"algorithm"`
	Predictions        int              `json:"predictions"`
	TrainingFailures   int              `json:"training_failures"`
	PredictionFailures int              `json:"prediction_failures"`
	TotalHits          int              `json:"total_hits"`
	SpecialHits        int              `json:"special_hits"`
	HitRate            float64          `json:"hit_rate"`
	SpecialHitRate     float64          `json:"special_hit_rate"`
	AvgHits            float64          `json:"avg_hits"`
	BestHit            int              `json:"best_hit"`
	HitDistribution    map[int]int      `json:"hit_distribution"`
	AvgConfidence      float64          `json:"avg_confidence"`
	confidenceSum      float64
}

// Results holds backtesting results
type Results struct {
	Variant       lottery.Variant                       `json:"lottery_type"`
	TrainWindow   int                                   `json:"train_window"`
	Step          int                                   `json:"step"`
	FeatureWindow int                                   `json:"feature_window"`
	StartTime     time.Time                             `json:"start_time"`
	EndTime       time.Time                             `json:"end_time"`
	Drawings      int                                   `json:"drawings"`
	Evaluated     int                                   `json:"evaluated_drawings"`
	Retrains      int                                   `json:"retrains"`
	RandomHitRate float64                               `json:"random_hit_rate"`
	Elapsed       time.Duration                         `json:"elapsed_ns"`
	Algorithms    map[ml.AlgorithmType]*AlgorithmResult `json:"algorithms"`
	Order         []ml.AlgorithmType                    `json:"order"`
	Records       []Record                              `json:"-"`
	mu            sync.RWMutex
}

// NewEngine creates a new backtesting engine. A nil config uses the default
// algorithm parameters and a nil metrics receiver discards observations.
func NewEngine(config *cfg.Settings, data *DataLoader, opts Options, metrics ml.MetricsInterface) *Engine {
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = []ml.AlgorithmType{ml.RandomForestType, ml.NeuralNetworkType, ml.StatisticalType}
	}
	if opts.TrainWindow <= 0 {
		opts.TrainWindow = DefaultTrainWindow
	}
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.FeatureWindow <= 0 {
		opts.FeatureWindow = DefaultFeatureWindow
		if config != nil && config.WindowSize > 0 {
			opts.FeatureWindow = config.WindowSize
		}
	}

	v := data.Variant()
	results := &Results{
		Variant:       v,
		TrainWindow:   opts.TrainWindow,
		Step:          opts.Step,
		FeatureWindow: opts.FeatureWindow,
		Algorithms:    make(map[ml.AlgorithmType]*AlgorithmResult, len(opts.Algorithms)),
		Order:         append([]ml.AlgorithmType(nil), opts.Algorithms...),
		RandomHitRate: float64(v.MainCount()) / float64(v.MaxNumber()),
	}
	for _, algo := range opts.Algorithms {
		results.Algorithms[algo] = &AlgorithmResult{Algorithm: algo, HitDistribution: make(map[int]int)}
	}

	return &Engine{
		config:  config,
		data:    data,
		opts:    opts,
		metrics: metrics,
		results: results,
	}
}

func (e *Engine) algorithmConfig(algo ml.AlgorithmType) ml.AlgorithmConfig {
	v := e.data.Variant()
	if e.opts.AlgorithmConfig != nil {
		c := e.opts.AlgorithmConfig(algo)
		c.Variant = v
		return c
	}
	if e.config != nil {
		return e.config.AlgorithmConfig(string(algo), v)
	}
	return ml.NewAlgorithmConfig(v)
}

func (e *Engine) validate() error {
	n := e.data.GetDataCount()
	if e.opts.TrainWindow < e.opts.FeatureWindow+2 {
		return lottery.InvalidParameter("train window %d must exceed the feature window %d by at least 2", e.opts.TrainWindow, e.opts.FeatureWindow)
	}
	if n <= e.opts.TrainWindow {
		return lottery.InvalidParameter("need more than %d drawings for a train window of %d, got %d", e.opts.TrainWindow, e.opts.TrainWindow, n)
	}
	for _, algo := range e.opts.Algorithms {
		if _, err := ml.ParseAlgorithm(string(algo)); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the backtest. Models are retrained on every drawing before
// index i each Step predictions and never see drawing i before predicting it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.validate(); err != nil {
		return err
	}
	draws := e.data.Drawings()
	v := e.data.Variant()
	started := time.Now()

	log.Info().
		Str("variant", string(v)).
		Time("start", e.data.StartTime).
		Time("end", e.data.EndTime).
		Int("drawings", len(draws)).
		Int("train_window", e.opts.TrainWindow).
		Int("step", e.opts.Step).
		Msg("Starting backtest")

	var trainer *ml.ModelTrainer
	for i := e.opts.TrainWindow; i < len(draws); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if (i-e.opts.TrainWindow)%e.opts.Step == 0 {
			t, err := e.retrain(ctx, draws[:i])
			if err != nil {
				return err
			}
			trainer = t
		}

		input := &ml.PredictionInput{
			Variant:    v,
			History:    draws[:i],
			TargetDate: draws[i].DrawDate,
		}
		for _, algo := range e.opts.Algorithms {
			e.predict(trainer, algo, input, draws[i])
		}
		e.results.mu.Lock()
		e.results.Evaluated++
		e.results.mu.Unlock()
	}

	e.results.mu.Lock()
	e.results.Drawings = len(draws)
	e.results.StartTime = draws[e.opts.TrainWindow].DrawDate
	e.results.EndTime = draws[len(draws)-1].DrawDate
	e.results.Elapsed = time.Since(started)
	e.results.mu.Unlock()

	e.calculateMetrics()

	log.Info().
		Str("variant", string(v)).
		Int("evaluated", e.results.Evaluated).
		Int("retrains", e.results.Retrains).
		Dur("elapsed", e.results.Elapsed).
		Msg("Backtest completed")
	return nil
}

// retrain fits a fresh trainer on history, training the algorithms concurrently.
func (e *Engine) retrain(ctx context.Context, history []lottery.Drawing) (*ml.ModelTrainer, error) {
	v := e.data.Variant()
	fc := features.DefaultConfig()
	fc.WindowSize = e.opts.FeatureWindow
	data, err := features.NewExtractor().Extract(history, fc)
	if err != nil {
		return nil, fmt.Errorf("extract features at drawing %d: %w", len(history), err)
	}

	trainer := ml.NewModelTrainer(v, e.metrics)
	g, _ := errgroup.WithContext(ctx)
	if e.opts.Parallelism > 0 {
		g.SetLimit(e.opts.Parallelism)
	}
	for _, algo := range e.opts.Algorithms {
		algo := algo
		g.Go(func() error {
			if _, err := trainer.TrainAlgorithm(string(algo), data, e.algorithmConfig(algo)); err != nil {
				log.Warn().Err(err).
					Str("algorithm", string(algo)).
					Int("history", len(history)).
					Msg("Backtest training failed")
				e.results.mu.Lock()
				e.results.Algorithms[algo].TrainingFailures++
				e.results.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.results.mu.Lock()
	e.results.Retrains++
	e.results.mu.Unlock()

	log.Debug().
		Int("history", len(history)).
		Int("samples", data.Len()).
		Int("trained", len(trainer.ListTrained())).
		Msg("Backtest models retrained")
	return trainer, nil
}

func (e *Engine) predict(trainer *ml.ModelTrainer, algo ml.AlgorithmType, input *ml.PredictionInput, actual lottery.Drawing) {
	out, err := trainer.Predict(algo, input)

	e.results.mu.Lock()
	defer e.results.mu.Unlock()
	res := e.results.Algorithms[algo]
	if err != nil {
		res.PredictionFailures++
		return
	}

	rec := Record{
		DrawNumber:       actual.DrawNumber,
		DrawDate:         actual.DrawDate,
		Algorithm:        algo,
		Predicted:        out.Numbers,
		PredictedSpecial: out.SpecialNumbers,
		Actual:           actual.Numbers,
		ActualSpecial:    actual.SpecialNumbers,
		Hits:             countHits(out.Numbers, actual.Numbers),
		SpecialHits:      countHits(out.SpecialNumbers, actual.SpecialNumbers),
		Confidence:       mean(out.Confidence),
	}
	e.results.Records = append(e.results.Records, rec)

	res.Predictions++
	res.TotalHits += rec.Hits
	res.SpecialHits += rec.SpecialHits
	res.HitDistribution[rec.Hits]++
	res.confidenceSum += rec.Confidence
	if rec.Hits > res.BestHit {
		res.BestHit = rec.Hits
	}
}

// countHits counts predicted numbers found in actual. Each actual number is
// matched at most once.
func countHits(predicted, actual []int) int {
	remaining := make(map[int]int, len(actual))
	for _, n := range actual {
		remaining[n]++
	}
	hits := 0
	for _, n := range predicted {
		if remaining[n] > 0 {
			remaining[n]--
			hits++
		}
	}
	return hits
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (e *Engine) calculateMetrics() {
	e.results.mu.Lock()
	defer e.results.mu.Unlock()

	v := e.results.Variant
	for _, res := range e.results.Algorithms {
		if res.Predictions == 0 {
			continue
		}
		res.AvgHits = float64(res.TotalHits) / float64(res.Predictions)
		res.HitRate = res.AvgHits / float64(v.MainCount())
		if v.HasSpecial() {
			res.SpecialHitRate = float64(res.SpecialHits) / float64(res.Predictions*v.SpecialCount())
		}
		res.AvgConfidence = res.confidenceSum / float64(res.Predictions)
	}
}

// GetResults returns the backtest results
func (e *Engine) GetResults() *Results {
	return e.results
}

// Ranked returns the algorithm results ordered by hit rate, best first. Ties
// keep the configured order.
func (r *Results) Ranked() []*AlgorithmResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AlgorithmResult, 0, len(r.Order))
	for _, algo := range r.Order {
		if res, ok := r.Algorithms[algo]; ok {
			out = append(out, res)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HitRate > out[j].HitRate
	})
	return out
}
