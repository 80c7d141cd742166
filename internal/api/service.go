package api

import (
	"context"
	"time"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"
	"lottery-engine/internal/storage"

	"github.com/rs/zerolog/log"
)

const (
	defaultRecentCount  = 10
	maxRecentCount      = 1000
	defaultCollectDays  = 30
	ensembleMetricLabel = "ensemble"
)

// PredictionRequest asks for one prediction. HistoricalDays bounds the
// number of stored drawings given to the model.
type PredictionRequest struct {
	Variant            lottery.Variant `json:"lottery_type"`
	Algorithm          string          `json:"algorithm"`
	UseEnsemble        bool            `json:"use_ensemble"`
	EnsembleAlgorithms []string        `json:"ensemble_algorithms,omitempty"`
	HistoricalDays     int             `json:"historical_days,omitempty"`
}

// TrainingRequest trains the named algorithms on the newest HistoricalDays
// drawings, holding out the ValidationSplit tail.
type TrainingRequest struct {
	Variant         lottery.Variant `json:"lottery_type"`
	Algorithms      []string        `json:"algorithms"`
	HistoricalDays  int             `json:"historical_days"`
	ValidationSplit float64         `json:"validation_split"`
}

// AlgorithmComparison is one row of a comparison report.
type AlgorithmComparison struct {
	AlgorithmName  string  `json:"algorithm_name"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1Score        float64 `json:"f1_score"`
	TrainingTimeMs int64   `json:"training_time_ms"`
}

// DataCollectionRequest fills the store with generated drawings.
type DataCollectionRequest struct {
	Variants     []lottery.Variant `json:"lottery_types"`
	Days         int               `json:"days"`
	ForceRefresh bool              `json:"force_refresh"`
}

// DriftReport is the drift state of one variant.
type DriftReport struct {
	Variant lottery.Variant    `json:"lottery_type"`
	Scores  map[string]float64 `json:"scores"`
	Alerts  []ml.DriftAlert    `json:"alerts"`
}

// derivedMetrics fills a performance record from a self-reported accuracy.
func derivedMetrics(accuracy float64) ml.EvaluationMetrics {
	return ml.EvaluationMetrics{
		Accuracy:  accuracy,
		Precision: accuracy * 0.95,
		Recall:    accuracy * 0.98,
		F1Score:   accuracy * 0.96,
		MAE:       accuracy * 0.05,
		RMSE:      accuracy * 0.08,
		CVScores:  []float64{accuracy * 0.95, accuracy * 0.97, accuracy * 0.96},
	}
}

// Predict runs one registered model or the registry ensemble over the stored
// history. An algorithm that was never trained yields an AlgorithmError.
func (s *AppState) Predict(ctx context.Context, req PredictionRequest) (*ml.PredictionOutput, error) {
	vs, err := s.variant(req.Variant)
	if err != nil {
		return nil, err
	}
	history, err := s.history(req.Variant, req.HistoricalDays)
	if err != nil {
		return nil, err
	}
	input := &ml.PredictionInput{
		Variant:    req.Variant,
		History:    history,
		TargetDate: history[len(history)-1].DrawDate.AddDate(0, 0, 1),
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	label := ensembleMetricLabel
	var predict func() (*ml.PredictionOutput, error)
	if req.UseEnsemble {
		names, err := s.algorithmList(req.EnsembleAlgorithms, s.settings.EnsembleAlgorithms)
		if err != nil {
			return nil, err
		}
		predict = func() (*ml.PredictionOutput, error) { return vs.factory.EnsemblePredict(names, input) }
	} else {
		algo, err := ml.ParseAlgorithm(req.Algorithm)
		if err != nil {
			return nil, err
		}
		label = string(algo)
		model, ok := vs.factory.GetModel(algo)
		if !ok {
			if model, err = vs.factory.CreateAlgorithm(string(algo), s.settings.AlgorithmConfig(string(algo), req.Variant)); err != nil {
				return nil, err
			}
		}
		predict = func() (*ml.PredictionOutput, error) { return model.Predict(input) }
	}

	variant := string(req.Variant)
	start := time.Now()
	s.metrics.PredictionsInc(variant, label)
	out, err := predict()
	s.metrics.PredictionLatencyObserve(variant, label, time.Since(start).Seconds())
	if err != nil {
		s.metrics.PredictionFailuresInc(variant, label)
		return nil, err
	}

	if vec, err := s.extractor.ForPrediction(history, s.featureCfg); err == nil {
		vs.drift.Observe(vec)
	}

	rec := &storage.PredictionRecord{
		Variant:        req.Variant,
		Algorithm:      label,
		Numbers:        out.Numbers,
		SpecialNumbers: out.SpecialNumbers,
		Confidence:     out.Confidence,
		TargetDate:     input.TargetDate,
	}
	if err := s.store.StorePrediction(rec); err != nil {
		log.Warn().Err(err).Str("variant", variant).Msg("Failed to record prediction")
	}

	s.hub.Publish(Event{
		Type:      EventPrediction,
		Variant:   variant,
		Algorithm: label,
		Message:   "prediction issued",
	})
	log.Info().
		Str("variant", variant).
		Str("algorithm", label).
		Ints("numbers", out.Numbers).
		Int64("computation_ms", out.ComputationTimeMs).
		Msg("Prediction served")
	return out, nil
}

// Train trains every requested algorithm and reports accuracy per name, 0
// for the ones that failed. Successful models are registered, versioned on
// disk and recorded in storage.
func (s *AppState) Train(ctx context.Context, req TrainingRequest) (map[string]float64, error) {
	vs, err := s.variant(req.Variant)
	if err != nil {
		return nil, err
	}
	algos, err := s.algorithmList(req.Algorithms, s.settings.DefaultAlgorithms)
	if err != nil {
		return nil, err
	}
	split := req.ValidationSplit
	if split <= 0 {
		split = s.settings.ValidationSplit
	}
	if split >= 1 {
		return nil, lottery.InvalidParameter("validation split must be below 1, got %.2f", split)
	}

	history, err := s.history(req.Variant, req.HistoricalDays)
	if err != nil {
		return nil, err
	}
	data, err := s.extractor.Extract(history, s.featureCfg)
	if err != nil {
		return nil, err
	}
	train, _ := data.Split(1 - split)
	if train.Len() == 0 {
		return nil, lottery.InvalidParameter("need more than %d drawings to train, got %d", s.featureCfg.WindowSize, len(history))
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	variant := string(req.Variant)
	run := &storage.TrainingRun{
		Variant:         req.Variant,
		StartedAt:       time.Now().UTC(),
		Samples:         train.Len(),
		ValidationSplit: split,
		Results:         make(map[string]float64, len(algos)),
		Failures:        make(map[string]string),
	}
	for _, algo := range algos {
		if err := ctx.Err(); err != nil {
			return run.Results, err
		}
		cfg := s.settings.AlgorithmConfig(string(algo), req.Variant)
		start := time.Now()
		accuracy, err := vs.trainer.TrainAlgorithm(string(algo), train, cfg)
		vs.trainingTimes[algo] = time.Since(start).Milliseconds()
		if err != nil {
			run.Results[string(algo)] = 0
			run.Failures[string(algo)] = err.Error()
			s.hub.Publish(Event{Type: EventTraining, Variant: variant, Algorithm: string(algo), Message: err.Error()})
			continue
		}
		run.Results[string(algo)] = accuracy
		s.register(vs, algo, accuracy, cfg, train.Len())
		s.hub.Publish(Event{Type: EventTraining, Variant: variant, Algorithm: string(algo), Accuracy: accuracy, Message: "model trained"})
	}

	run.DurationMs = time.Since(run.StartedAt).Milliseconds()
	if err := s.store.StoreTrainingRun(run); err != nil {
		log.Warn().Err(err).Str("variant", variant).Msg("Failed to record training run")
	}
	log.Info().
		Str("variant", variant).
		Int("samples", train.Len()).
		Int("trained", len(run.Results)-len(run.Failures)).
		Int("failed", len(run.Failures)).
		Int64("duration_ms", run.DurationMs).
		Msg("Training run completed")
	return run.Results, nil
}

// register copies the trainer's model into the factory, saves a new version
// and stores its ModelInfo. Persistence failures are logged.
func (s *AppState) register(vs *variantState, algo ml.AlgorithmType, accuracy float64, cfg ml.AlgorithmConfig, samples int) {
	model, ok := vs.trainer.Model(algo)
	if !ok {
		return
	}
	em := derivedMetrics(accuracy)
	if err := vs.factory.RegisterModel(algo, model, em, cfg); err != nil {
		log.Error().Err(err).Str("algorithm", string(algo)).Msg("Failed to register trained model")
		return
	}
	if v, err := s.manager.SaveVersion(model, vs.factory.Variant(), em, samples); err != nil {
		log.Warn().Err(err).Str("algorithm", string(algo)).Msg("Failed to save model version")
	} else {
		log.Debug().Str("algorithm", string(algo)).Str("version", v.Version).Msg("Saved model version")
	}
	if info, ok := vs.factory.ModelInfo(algo); ok {
		if err := s.store.StoreModelInfo(info); err != nil {
			log.Warn().Err(err).Str("algorithm", string(algo)).Msg("Failed to store model info")
		}
	}
}

// Compare evaluates every registered model on the held-out tail of the
// stored history.
func (s *AppState) Compare(ctx context.Context, v lottery.Variant) ([]AlgorithmComparison, error) {
	vs, err := s.variant(v)
	if err != nil {
		return nil, err
	}
	history, err := s.history(v, 0)
	if err != nil {
		return nil, err
	}
	data, err := s.extractor.Extract(history, s.featureCfg)
	if err != nil {
		return nil, err
	}
	_, test := data.Split(1 - s.settings.ValidationSplit)
	if test.Len() == 0 {
		return nil, lottery.InvalidParameter("not enough drawings for a held-out set")
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	evals, err := vs.factory.Compare(test)
	if err != nil {
		return nil, err
	}
	out := make([]AlgorithmComparison, 0, len(evals))
	for _, algo := range vs.factory.ListTrained() {
		m, ok := evals[algo]
		if !ok {
			continue
		}
		out = append(out, AlgorithmComparison{
			AlgorithmName:  string(algo),
			Accuracy:       m.Accuracy,
			Precision:      m.Precision,
			Recall:         m.Recall,
			F1Score:        m.F1Score,
			TrainingTimeMs: vs.trainingTimes[algo],
		})
	}
	return out, nil
}

// ListAvailable returns the algorithms the variant's factory can build.
func (s *AppState) ListAvailable(v lottery.Variant) ([]ml.AlgorithmType, error) {
	vs, err := s.variant(v)
	if err != nil {
		return nil, err
	}
	return vs.factory.ListAvailable(), nil
}

// ListTrained returns the registered algorithms in registration order.
func (s *AppState) ListTrained(v lottery.Variant) ([]ml.AlgorithmType, error) {
	vs, err := s.variant(v)
	if err != nil {
		return nil, err
	}
	return vs.factory.ListTrained(), nil
}

func (s *AppState) Rankings(v lottery.Variant) ([]ml.Ranking, error) {
	vs, err := s.variant(v)
	if err != nil {
		return nil, err
	}
	return vs.factory.Rankings(), nil
}

// Recommend filters the catalog by data size and accuracy. A dataSize of 0
// uses the number of stored drawings.
func (s *AppState) Recommend(v lottery.Variant, dataSize int, targetAccuracy float64) ([]ml.AlgorithmType, error) {
	vs, err := s.variant(v)
	if err != nil {
		return nil, err
	}
	if dataSize < 0 || targetAccuracy < 0 || targetAccuracy > 1 {
		return nil, lottery.InvalidParameter("invalid recommendation query: data_size=%d target_accuracy=%.2f", dataSize, targetAccuracy)
	}
	if dataSize == 0 {
		if dataSize, err = s.store.CountDrawings(v); err != nil {
			return nil, err
		}
	}
	return vs.factory.Recommend(dataSize, targetAccuracy), nil
}

// Metadata returns the catalog entry of name.
func (s *AppState) Metadata(name string) (ml.AlgorithmMetadata, error) {
	algo, err := ml.ParseAlgorithm(name)
	if err != nil {
		return ml.AlgorithmMetadata{}, lottery.NotFound("algorithm %s not found", name)
	}
	meta, _ := ml.Metadata(algo)
	return meta, nil
}

// RecentDrawings returns the newest count drawings, oldest first.
func (s *AppState) RecentDrawings(v lottery.Variant, count int) ([]lottery.Drawing, error) {
	if _, err := s.variant(v); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = defaultRecentCount
	}
	if count > maxRecentCount {
		return nil, lottery.InvalidParameter("count %d exceeds the maximum of %d", count, maxRecentCount)
	}
	return s.store.RecentDrawings(v, count)
}

// CollectData fills the last Days days of each requested variant with
// generated drawings and returns how many were written per variant.
func (s *AppState) CollectData(ctx context.Context, req DataCollectionRequest) (map[string]int, error) {
	variants := req.Variants
	if len(variants) == 0 {
		variants = s.Variants()
	}
	days := req.Days
	if days <= 0 {
		days = defaultCollectDays
	}

	results := make(map[string]int, len(variants))
	for _, v := range variants {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if _, err := s.variant(v); err != nil {
			return results, err
		}
		n, err := s.collect(v, days, req.ForceRefresh)
		if err != nil {
			log.Error().Err(err).Str("variant", string(v)).Msg("Data collection failed")
			results[string(v)] = 0
			continue
		}
		results[string(v)] = n
	}
	return results, nil
}

// collect generates one drawing per day over the days ending today. Dates
// already stored are kept unless force is set, in which case the whole
// window is regenerated in place.
func (s *AppState) collect(v lottery.Variant, days int, force bool) (int, error) {
	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -(days - 1))

	stored, err := s.store.GetDrawings(v, start, end)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(stored))
	for _, d := range stored {
		have[d.DrawNumber] = true
	}

	var draws []lottery.Drawing
	for _, d := range lottery.NewGenerator(s.settings.RandomSeed+start.Unix()).Generate(v, days, start) {
		if force || !have[d.DrawNumber] {
			draws = append(draws, d)
		}
	}
	if len(draws) == 0 {
		return 0, nil
	}
	if err := s.store.StoreDrawings(draws); err != nil {
		return 0, err
	}
	s.metrics.DrawingsStoredAdd(string(v), len(draws))
	s.hub.Publish(Event{Type: EventCollection, Variant: string(v), Message: "drawings collected"})
	log.Info().
		Str("variant", string(v)).
		Int("added", len(draws)).
		Time("from", draws[0].DrawDate).
		Time("to", draws[len(draws)-1].DrawDate).
		Bool("force", force).
		Msg("Collected drawings")
	return len(draws), nil
}

// SeedIfEmpty fills an empty store for v with n generated drawings.
func (s *AppState) SeedIfEmpty(v lottery.Variant, n int) (int, error) {
	count, err := s.store.CountDrawings(v)
	if err != nil || count > 0 || n <= 0 {
		return 0, err
	}
	return s.collect(v, n, false)
}

// Drift compares recent prediction inputs with the last training baseline.
func (s *AppState) Drift(v lottery.Variant) (DriftReport, error) {
	vs, err := s.variant(v)
	if err != nil {
		return DriftReport{}, err
	}
	alerts := vs.drift.Detect()
	if alerts == nil {
		alerts = []ml.DriftAlert{}
	}
	return DriftReport{Variant: v, Scores: vs.drift.Status(), Alerts: alerts}, nil
}

// Predictions returns the newest n recorded predictions.
func (s *AppState) Predictions(v lottery.Variant, n int) ([]storage.PredictionRecord, error) {
	if _, err := s.variant(v); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = defaultRecentCount
	}
	return s.store.ListPredictions(v, n)
}

func (s *AppState) TrainingRuns(v lottery.Variant) ([]storage.TrainingRun, error) {
	if _, err := s.variant(v); err != nil {
		return nil, err
	}
	return s.store.ListTrainingRuns(v)
}

// Versions lists the saved versions of algorithm name, newest first.
func (s *AppState) Versions(v lottery.Variant, name string) ([]ml.ModelVersion, error) {
	if _, err := s.variant(v); err != nil {
		return nil, err
	}
	algo, err := ml.ParseAlgorithm(name)
	if err != nil {
		return nil, err
	}
	return s.manager.List(algo, v), nil
}

// Rollback reactivates the previous version of name and registers it in
// place of the current model.
func (s *AppState) Rollback(v lottery.Variant, name string) (ml.ModelVersion, error) {
	vs, err := s.variant(v)
	if err != nil {
		return ml.ModelVersion{}, err
	}
	algo, err := ml.ParseAlgorithm(name)
	if err != nil {
		return ml.ModelVersion{}, err
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	prev, err := s.manager.Rollback(algo, v)
	if err != nil {
		return ml.ModelVersion{}, err
	}
	cfg := s.settings.AlgorithmConfig(string(algo), v)
	model, err := vs.factory.CreateAlgorithm(string(algo), cfg)
	if err != nil {
		return ml.ModelVersion{}, err
	}
	if err := model.LoadModel(prev.Path); err != nil {
		return ml.ModelVersion{}, err
	}
	if err := vs.factory.RegisterModel(algo, model, prev.Metrics, cfg); err != nil {
		return ml.ModelVersion{}, err
	}
	log.Info().Str("variant", string(v)).Str("algorithm", string(algo)).Str("version", prev.Version).Msg("Rolled back model")
	return prev, nil
}
