package ml

// MetricsInterface is the instrumentation surface used by the registries and
// the hybrid ensemble. The metrics package provides the Prometheus-backed
// implementation.
type MetricsInterface interface {
	TrainingsInc(variant, algorithm string)
	TrainingFailuresInc(variant, algorithm string)
	TrainingDurationObserve(variant, algorithm string, seconds float64)
	PredictionsInc(variant, algorithm string)
	PredictionFailuresInc(variant, algorithm string)
	PredictionLatencyObserve(variant, algorithm string, seconds float64)
	ModelAccuracySet(variant, algorithm string, accuracy float64)
	EnsembleMemberSkippedInc(algorithm string)
	TrainedModelsSet(variant string, n int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) TrainingsInc(string, string)                      {}
func (NopMetrics) TrainingFailuresInc(string, string)               {}
func (NopMetrics) TrainingDurationObserve(string, string, float64)  {}
func (NopMetrics) PredictionsInc(string, string)                    {}
func (NopMetrics) PredictionFailuresInc(string, string)             {}
func (NopMetrics) PredictionLatencyObserve(string, string, float64) {}
func (NopMetrics) ModelAccuracySet(string, string, float64)         {}
func (NopMetrics) EnsembleMemberSkippedInc(string)                  {}
func (NopMetrics) TrainedModelsSet(string, int)                     {}

func orNop(m MetricsInterface) MetricsInterface {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
