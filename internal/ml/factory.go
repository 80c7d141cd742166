package ml

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lottery-engine/internal/lottery"
)

// AllAlgorithms lists every constructible algorithm, base models first.
var AllAlgorithms = append(append([]AlgorithmType(nil), BaseAlgorithms...), HybridType)

// AlgorithmMetadata describes a model family for discovery and recommendation.
type AlgorithmMetadata struct {
	Name                 string            `json:"name"`
	Family               string            `json:"algorithm_type"`
	Description          string            `json:"description"`
	SupportedVariants    []lottery.Variant `json:"supported_lottery_types"`
	RequiredDataSize     int               `json:"required_data_size"`
	TrainingComplexity   string            `json:"training_time_complexity"`
	PredictionComplexity string            `json:"prediction_time_complexity"`
	AccuracyRange        [2]float64        `json:"accuracy_range"`
	ConfigSchema         map[string]string `json:"config_schema"`
}

// Supports reports whether v is one of the supported variants.
func (m AlgorithmMetadata) Supports(v lottery.Variant) bool {
	for _, s := range m.SupportedVariants {
		if s == v {
			return true
		}
	}
	return false
}

var standardVariants = []lottery.Variant{lottery.SSQ, lottery.DLT, lottery.FC3D, lottery.PL3, lottery.PL5}

var catalog = map[AlgorithmType]AlgorithmMetadata{
	RandomForestType: {
		Name:                 "Random Forest",
		Family:               "ensemble",
		Description:          "Ensemble learning method using multiple decision trees",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     100,
		TrainingComplexity:   "O(n log n)",
		PredictionComplexity: "O(log n)",
		AccuracyRange:        [2]float64{0.65, 0.85},
		ConfigSchema: map[string]string{
			"n_estimators":      "integer",
			"max_depth":         "integer",
			"min_samples_split": "integer",
			"random_state":      "integer",
		},
	},
	NeuralNetworkType: {
		Name:                 "Deep Neural Network",
		Family:               "deep_learning",
		Description:          "Multi-layer neural network with backpropagation",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     500,
		TrainingComplexity:   "O(n²)",
		PredictionComplexity: "O(1)",
		AccuracyRange:        [2]float64{0.70, 0.90},
		ConfigSchema: map[string]string{
			"hidden_layers": "array",
			"learning_rate": "float",
			"epochs":        "integer",
			"dropout_rate":  "float",
		},
	},
	LSTMType: {
		Name:                 "LSTM Neural Network",
		Family:               "deep_learning",
		Description:          "Long Short-Term Memory network for sequence prediction",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     1000,
		TrainingComplexity:   "O(n³)",
		PredictionComplexity: "O(n)",
		AccuracyRange:        [2]float64{0.75, 0.92},
		ConfigSchema: map[string]string{
			"hidden_size":     "integer",
			"sequence_length": "integer",
			"num_layers":      "integer",
			"dropout":         "float",
		},
	},
	ARIMAType: {
		Name:                 "ARIMA Time Series",
		Family:               "time_series",
		Description:          "AutoRegressive Integrated Moving Average for time series forecasting",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     50,
		TrainingComplexity:   "O(n log n)",
		PredictionComplexity: "O(n)",
		AccuracyRange:        [2]float64{0.60, 0.80},
		ConfigSchema: map[string]string{
			"p":               "integer",
			"d":               "integer",
			"q":               "integer",
			"seasonal_period": "integer",
		},
	},
	StatisticalType: {
		Name:                 "Statistical Analysis",
		Family:               "statistical",
		Description:          "Frequency-based statistical analysis with trend detection",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     30,
		TrainingComplexity:   "O(n)",
		PredictionComplexity: "O(1)",
		AccuracyRange:        [2]float64{0.55, 0.75},
		ConfigSchema: map[string]string{
			"window_size":          "integer",
			"weight_function":      "string",
			"confidence_threshold": "float",
		},
	},
	HybridType: {
		Name:                 "Hybrid Ensemble",
		Family:               "ensemble",
		Description:          "Meta-ensemble combining multiple algorithms with optimized weights",
		SupportedVariants:    standardVariants,
		RequiredDataSize:     1000,
		TrainingComplexity:   "O(n²)",
		PredictionComplexity: "O(n)",
		AccuracyRange:        [2]float64{0.80, 0.95},
		ConfigSchema: map[string]string{
			"voting_method":        "string",
			"confidence_threshold": "float",
			"ensemble_weights":     "object",
		},
	},
}

// ParseAlgorithm resolves an algorithm name.
func ParseAlgorithm(name string) (AlgorithmType, error) {
	t := AlgorithmType(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := catalog[t]; !ok {
		return "", lottery.AlgorithmError("unknown algorithm: %s", name)
	}
	return t, nil
}

// Metadata returns the catalog entry for t.
func Metadata(t AlgorithmType) (AlgorithmMetadata, bool) {
	m, ok := catalog[t]
	return m, ok
}

func newBaseModel(t AlgorithmType, cfg AlgorithmConfig) (PredictionAlgorithm, error) {
	switch t {
	case RandomForestType:
		return NewRandomForest(cfg), nil
	case NeuralNetworkType:
		return NewNeuralNetwork(cfg), nil
	case LSTMType:
		return NewLSTM(cfg), nil
	case ARIMAType:
		return NewARIMA(cfg), nil
	case StatisticalType:
		return NewStatistical(cfg), nil
	case HybridType:
		return NewHybrid(cfg), nil
	}
	return nil, lottery.AlgorithmError("unknown algorithm: %s", t)
}

// ModelInfo describes a registered trained model.
type ModelInfo struct {
	Algorithm    AlgorithmType     `json:"algorithm_name"`
	Variant      lottery.Variant   `json:"lottery_type"`
	TrainingDate time.Time         `json:"training_date"`
	Metrics      EvaluationMetrics `json:"performance_metrics"`
	ModelSize    int64             `json:"model_size"`
	LastUpdated  time.Time         `json:"last_updated"`
	Config       AlgorithmConfig   `json:"config"`
}

// Ranking pairs an algorithm with its registered accuracy.
type Ranking struct {
	Algorithm AlgorithmType `json:"algorithm_name"`
	Accuracy  float64       `json:"accuracy"`
}

// AlgorithmFactory constructs models for one variant and keeps a registry
// of trained ones.
type AlgorithmFactory struct {
	variant lottery.Variant
	metrics MetricsInterface

	mu     sync.RWMutex
	models map[AlgorithmType]PredictionAlgorithm
	infos  map[AlgorithmType]*ModelInfo
	order  []AlgorithmType
}

// NewAlgorithmFactory returns an empty registry for v. A nil metrics
// receiver discards observations.
func NewAlgorithmFactory(v lottery.Variant, metrics MetricsInterface) *AlgorithmFactory {
	return &AlgorithmFactory{
		variant: v,
		metrics: orNop(metrics),
		models:  make(map[AlgorithmType]PredictionAlgorithm),
		infos:   make(map[AlgorithmType]*ModelInfo),
	}
}

// Variant is the lottery variant served by the factory.
func (f *AlgorithmFactory) Variant() lottery.Variant { return f.variant }

// CreateAlgorithm builds an untrained model by name.
func (f *AlgorithmFactory) CreateAlgorithm(name string, cfg AlgorithmConfig) (PredictionAlgorithm, error) {
	t, err := ParseAlgorithm(name)
	if err != nil {
		return nil, err
	}
	if !cfg.Variant.Valid() {
		cfg.Variant = f.variant
	}
	m, err := newBaseModel(t, cfg)
	if err != nil {
		return nil, err
	}
	if h, ok := m.(*Hybrid); ok {
		h.SetMetrics(f.metrics)
	}
	return m, nil
}

// RegisterModel stores a trained model and its performance record,
// replacing any earlier registration under the same name.
func (f *AlgorithmFactory) RegisterModel(t AlgorithmType, model PredictionAlgorithm, metrics EvaluationMetrics, cfg AlgorithmConfig) error {
	if model == nil {
		return lottery.InvalidParameter("model %s is nil", t)
	}
	if _, ok := catalog[t]; !ok {
		return lottery.AlgorithmError("unknown algorithm: %s", t)
	}
	now := time.Now().UTC()
	info := &ModelInfo{
		Algorithm:    t,
		Variant:      f.variant,
		TrainingDate: now,
		Metrics:      metrics,
		ModelSize:    modelSize(model),
		LastUpdated:  now,
		Config:       cfg,
	}

	f.mu.Lock()
	if _, exists := f.models[t]; !exists {
		f.order = append(f.order, t)
	} else if prev := f.infos[t]; prev != nil {
		info.TrainingDate = prev.TrainingDate
	}
	f.models[t] = model
	f.infos[t] = info
	n := len(f.models)
	f.mu.Unlock()

	f.metrics.ModelAccuracySet(string(f.variant), string(t), metrics.Accuracy)
	f.metrics.TrainedModelsSet(string(f.variant), n)
	log.Debug().Str("variant", string(f.variant)).Str("algorithm", string(t)).Float64("accuracy", metrics.Accuracy).Msg("Registered trained model")
	return nil
}

// modelSize is the length of the model's encoded state, or 0 when it cannot
// be encoded.
func modelSize(m PredictionAlgorithm) int64 {
	codec, ok := m.(stateCodec)
	if !ok || !m.IsTrained() {
		return 0
	}
	raw, err := codec.encodeState()
	if err != nil {
		return 0
	}
	return int64(len(raw))
}

// GetModel returns a deep copy of a registered model.
func (f *AlgorithmFactory) GetModel(t AlgorithmType) (PredictionAlgorithm, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.models[t]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ModelInfo returns the registration record for t.
func (f *AlgorithmFactory) ModelInfo(t AlgorithmType) (ModelInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, ok := f.infos[t]
	if !ok {
		return ModelInfo{}, false
	}
	return *info, true
}

// ListAvailable returns every algorithm the factory can construct.
func (f *AlgorithmFactory) ListAvailable() []AlgorithmType {
	return append([]AlgorithmType(nil), AllAlgorithms...)
}

// ListTrained returns the registered algorithms in registration order.
func (f *AlgorithmFactory) ListTrained() []AlgorithmType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]AlgorithmType(nil), f.order...)
}

// IsSupported reports whether t can serve variant v.
func (f *AlgorithmFactory) IsSupported(t AlgorithmType, v lottery.Variant) bool {
	meta, ok := catalog[t]
	return ok && meta.Supports(v)
}

// Recommend lists the algorithms that support the factory's variant, need no
// more than dataSize samples and can reach targetAccuracy.
func (f *AlgorithmFactory) Recommend(dataSize int, targetAccuracy float64) []AlgorithmType {
	var out []AlgorithmType
	for _, t := range AllAlgorithms {
		meta := catalog[t]
		if meta.Supports(f.variant) && meta.RequiredDataSize <= dataSize && meta.AccuracyRange[1] >= targetAccuracy {
			out = append(out, t)
		}
	}
	return out
}

// Rankings orders registered algorithms by accuracy, highest first. Ties
// keep registration order.
func (f *AlgorithmFactory) Rankings() []Ranking {
	f.mu.RLock()
	out := make([]Ranking, 0, len(f.order))
	for _, t := range f.order {
		out = append(out, Ranking{Algorithm: t, Accuracy: f.infos[t].Metrics.Accuracy})
	}
	f.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Accuracy > out[j].Accuracy })
	return out
}

// BestAlgorithm returns the highest ranked registered algorithm.
func (f *AlgorithmFactory) BestAlgorithm() (AlgorithmType, bool) {
	r := f.Rankings()
	if len(r) == 0 {
		return "", false
	}
	return r[0].Algorithm, true
}

// Compare evaluates every registered model on test. Models that fail to
// evaluate are logged and left out.
func (f *AlgorithmFactory) Compare(test *TrainingData) (map[AlgorithmType]*EvaluationMetrics, error) {
	if err := checkTrainingData(test); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[AlgorithmType]*EvaluationMetrics, len(f.models))
	for _, t := range f.order {
		m, err := f.models[t].Evaluate(test)
		if err != nil {
			log.Warn().Err(err).Str("algorithm", string(t)).Msg("Evaluation failed, excluded from comparison")
			continue
		}
		out[t] = m
	}
	return out, nil
}

// EnsemblePredict sums the confidences each named model gives a number and
// keeps the top main_count numbers. Unregistered and failing models are
// skipped.
func (f *AlgorithmFactory) EnsemblePredict(names []AlgorithmType, input *PredictionInput) (*PredictionOutput, error) {
	if err := checkInput(input); err != nil {
		return nil, err
	}
	start := time.Now()

	f.mu.RLock()
	preds := collectPredictions(f.models, names, input)
	f.mu.RUnlock()
	if len(preds) == 0 {
		return nil, lottery.AlgorithmError("no models available for ensemble prediction")
	}

	t := newTally()
	for _, p := range preds {
		for i, n := range p.out.Numbers {
			c := 0.5
			if i < len(p.out.Confidence) {
				c = p.out.Confidence[i]
			}
			t.add(n, c)
		}
	}
	return ensembleOutput(input.Variant, t.ranked(), preds, names, start), nil
}

// collectPredictions runs the named models that exist in models, skipping
// the ones that fail.
func collectPredictions(models map[AlgorithmType]PredictionAlgorithm, names []AlgorithmType, input *PredictionInput) []memberPrediction {
	var preds []memberPrediction
	for _, name := range names {
		m, ok := models[name]
		if !ok {
			continue
		}
		out, err := m.Predict(input)
		if err != nil {
			log.Warn().Err(err).Str("algorithm", string(name)).Msg("Ensemble member failed to predict, skipping")
			continue
		}
		preds = append(preds, memberPrediction{name: name, out: out})
	}
	return preds
}

// registryEnsembleConfidence is reported for every number picked by a
// registry-level ensemble.
const registryEnsembleConfidence = 0.75

func ensembleOutput(v lottery.Variant, ranked []scored, preds []memberPrediction, names []AlgorithmType, start time.Time) *PredictionOutput {
	nums, _ := finalize(ranked, v.MainCount(), v.MaxNumber())
	conf := make([]float64, len(nums))
	for i := range conf {
		conf[i] = registryEnsembleConfidence
	}
	joined := make([]string, len(names))
	for i, n := range names {
		joined[i] = string(n)
	}
	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: finalizeSpecials(v, specialVote(preds, func(AlgorithmType) float64 { return 1 })),
		Confidence:     conf,
		Metadata: map[string]any{
			"method":      "ensemble",
			"algorithms":  strings.Join(joined, ","),
			"models_used": len(preds),
		},
		ComputationTimeMs: elapsedMs(start),
	}
}

// SaveModel writes a registered model to path.
func (f *AlgorithmFactory) SaveModel(t AlgorithmType, path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.models[t]
	if !ok {
		return lottery.AlgorithmError("model %s not trained or found", t)
	}
	return m.SaveModel(path)
}

// loadedModelMetrics is the performance record given to models restored
// from disk, whose evaluation history is not persisted.
var loadedModelMetrics = EvaluationMetrics{
	Accuracy:  0.75,
	Precision: 0.73,
	Recall:    0.77,
	F1Score:   0.75,
	MAE:       0.25,
	RMSE:      0.30,
}

// LoadModel restores a model from path and registers it.
func (f *AlgorithmFactory) LoadModel(name, path string, cfg AlgorithmConfig) error {
	m, err := f.CreateAlgorithm(name, cfg)
	if err != nil {
		return err
	}
	if err := m.LoadModel(path); err != nil {
		return err
	}
	return f.RegisterModel(m.Type(), m, loadedModelMetrics, cfg)
}
