// Package ml implements the lottery prediction model zoo: a shared
// PredictionAlgorithm contract, five independent base models, a hybrid
// ensemble and the registries that construct, train, persist and compare them.
package ml

import (
	"time"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// AlgorithmType names a model family.
type AlgorithmType string

const (
	RandomForestType  AlgorithmType = "random_forest"
	NeuralNetworkType AlgorithmType = "neural_network"
	LSTMType          AlgorithmType = "lstm"
	ARIMAType         AlgorithmType = "arima"
	StatisticalType   AlgorithmType = "statistical"
	HybridType        AlgorithmType = "hybrid"
)

// BaseAlgorithms lists the five base model families in ensemble order.
var BaseAlgorithms = []AlgorithmType{RandomForestType, NeuralNetworkType, LSTMType, ARIMAType, StatisticalType}

// TrainingData is produced by the feature extractor.
type TrainingData = features.TrainingData

// PredictionAlgorithm is implemented by every model, including the hybrid ensemble.
//
// Predict and Evaluate never mutate learned state, so concurrent calls on a
// trained model are safe. Train, LoadModel and SaveModel must be serialized
// by the owner.
type PredictionAlgorithm interface {
	Name() string
	Type() AlgorithmType
	// Train fits the model and returns a self-reported accuracy estimate.
	Train(data *TrainingData, cfg AlgorithmConfig) (float64, error)
	Predict(input *PredictionInput) (*PredictionOutput, error)
	Evaluate(data *TrainingData) (*EvaluationMetrics, error)
	IsTrained() bool
	FeatureImportance() map[string]float64
	SaveModel(path string) error
	LoadModel(path string) error
	// Clone returns a deep copy sharing no mutable state with the receiver.
	Clone() PredictionAlgorithm
}

// PredictionInput is a prediction request for one variant.
type PredictionInput struct {
	Variant            lottery.Variant    `json:"lottery_type"`
	History            []lottery.Drawing  `json:"historical_data"`
	TargetDate         time.Time          `json:"target_date"`
	AdditionalFeatures map[string]float64 `json:"additional_features,omitempty"`
}

// PredictionOutput holds ranked numbers with one confidence per main number.
type PredictionOutput struct {
	Numbers           []int          `json:"predicted_numbers"`
	SpecialNumbers    []int          `json:"predicted_special_numbers,omitempty"`
	Confidence        []float64      `json:"confidence_scores"`
	Metadata          map[string]any `json:"algorithm_metadata"`
	ComputationTimeMs int64          `json:"computation_time_ms"`
}

// EvaluationMetrics summarises model quality on a data set.
type EvaluationMetrics struct {
	Accuracy          float64            `json:"accuracy"`
	Precision         float64            `json:"precision"`
	Recall            float64            `json:"recall"`
	F1Score           float64            `json:"f1_score"`
	MAE               float64            `json:"mean_absolute_error"`
	RMSE              float64            `json:"root_mean_squared_error"`
	ConfusionMatrix   [][]int            `json:"confusion_matrix,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	CVScores          []float64          `json:"cross_validation_scores,omitempty"`
}

// scaledMetrics derives precision, recall and F1 from an accuracy estimate
// using fixed per-model factors.
func scaledMetrics(accuracy, precisionFactor, recallFactor float64) *EvaluationMetrics {
	p := accuracy * precisionFactor
	r := accuracy * recallFactor
	f1 := 0.0
	if p+r > 0 {
		f1 = 2 * p * r / (p + r)
	}
	return &EvaluationMetrics{Accuracy: accuracy, Precision: p, Recall: r, F1Score: f1}
}

func checkTrainingData(data *TrainingData) error {
	return data.Validate()
}

func checkInput(input *PredictionInput) error {
	if input == nil {
		return lottery.InvalidParameter("prediction input is nil")
	}
	if !input.Variant.Valid() {
		return lottery.InvalidParameter("unknown lottery type %q", input.Variant)
	}
	return nil
}

func notTrained(name string) error {
	return lottery.AlgorithmError("%s model not trained", name)
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
