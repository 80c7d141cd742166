package metrics

import (
	"strconv"

	"lottery-engine/internal/ml"
)

var _ ml.MetricsInterface = (*MetricsWrapper)(nil)

// MetricsWrapper adapts Metrics to the narrow interfaces the model registries
// and the API depend on. A nil wrapper discards every observation.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) TrainingsInc(variant, algorithm string) {
	if w == nil {
		return
	}
	w.m.TrainingsTotal.WithLabelValues(variant, algorithm).Inc()
}

func (w *MetricsWrapper) TrainingFailuresInc(variant, algorithm string) {
	if w == nil {
		return
	}
	w.m.TrainingFailures.WithLabelValues(variant, algorithm).Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) TrainingDurationObserve(variant, algorithm string, seconds float64) {
	if w == nil {
		return
	}
	w.m.TrainingDuration.WithLabelValues(variant, algorithm).Observe(seconds)
}

func (w *MetricsWrapper) PredictionsInc(variant, algorithm string) {
	if w == nil {
		return
	}
	w.m.PredictionsTotal.WithLabelValues(variant, algorithm).Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc(variant, algorithm string) {
	if w == nil {
		return
	}
	w.m.PredictionFailures.WithLabelValues(variant, algorithm).Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(variant, algorithm string, seconds float64) {
	if w == nil {
		return
	}
	w.m.PredictionLatency.WithLabelValues(variant, algorithm).Observe(seconds)
}

func (w *MetricsWrapper) ModelAccuracySet(variant, algorithm string, accuracy float64) {
	if w == nil {
		return
	}
	w.m.ModelAccuracy.WithLabelValues(variant, algorithm).Set(accuracy)
}

func (w *MetricsWrapper) EnsembleMemberSkippedInc(algorithm string) {
	if w == nil {
		return
	}
	w.m.EnsembleMembersSkipped.WithLabelValues(algorithm).Inc()
}

func (w *MetricsWrapper) TrainedModelsSet(variant string, n int) {
	if w == nil {
		return
	}
	w.m.TrainedModels.WithLabelValues(variant).Set(float64(n))
}

// DrawingsStoredAdd counts n drawings written for variant.
func (w *MetricsWrapper) DrawingsStoredAdd(variant string, n int) {
	if w == nil {
		return
	}
	w.m.DrawingsStored.WithLabelValues(variant).Add(float64(n))
}

// RequestObserve records one handled API request.
func (w *MetricsWrapper) RequestObserve(route string, code int, seconds float64) {
	if w == nil {
		return
	}
	w.m.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	w.m.APILatency.WithLabelValues(route).Observe(seconds)
	if code >= 500 {
		w.m.ErrorsTotal.Inc()
	}
}

func (w *MetricsWrapper) WSClientsSet(n int) {
	if w == nil {
		return
	}
	w.m.WSClients.Set(float64(n))
}

func (w *MetricsWrapper) EventsSentInc() {
	if w == nil {
		return
	}
	w.m.EventsSent.Inc()
}

// ErrorRate reports the prediction failure ratio.
func (w *MetricsWrapper) ErrorRate() float64 {
	if w == nil {
		return 0
	}
	return w.m.ErrorRate()
}
