// Package metrics provides Prometheus metrics collection for the lottery
// prediction engine. It defines the training, prediction, storage and API
// metrics exposed via the Prometheus metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lottery"

// Metrics holds all Prometheus metrics for the engine. Model metrics are
// labelled by lottery variant and algorithm.
type Metrics struct {
	// Training metrics
	TrainingsTotal   *prometheus.CounterVec   // Training runs started
	TrainingFailures *prometheus.CounterVec   // Training runs that returned an error
	TrainingDuration *prometheus.HistogramVec // Wall time of a training run
	ModelAccuracy    *prometheus.GaugeVec     // Accuracy of the registered model
	TrainedModels    *prometheus.GaugeVec     // Trained models per variant

	// Prediction metrics
	PredictionsTotal       *prometheus.CounterVec   // Predictions requested
	PredictionFailures     *prometheus.CounterVec   // Predictions that returned an error
	PredictionLatency      *prometheus.HistogramVec // Prediction latency in seconds
	EnsembleMembersSkipped *prometheus.CounterVec   // Ensemble members left out of a vote

	// Storage and API metrics
	DrawingsStored *prometheus.CounterVec   // Drawings written to the store
	APIRequests    *prometheus.CounterVec   // HTTP requests by route and status
	APILatency     *prometheus.HistogramVec // HTTP handler latency
	WSClients      prometheus.Gauge         // Connected event stream clients
	EventsSent     prometheus.Counter       // Events broadcast to the stream

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// When the registerer is also a gatherer, ErrorRate reads from it.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	modelLabels := []string{"variant", "algorithm"}
	m := &Metrics{
		TrainingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trainings_total",
			Help:      "Total number of model training runs",
		}, modelLabels),
		TrainingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_failures_total",
			Help:      "Total number of failed model training runs",
		}, modelLabels),
		TrainingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of model training runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
		}, modelLabels),
		ModelAccuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_accuracy",
			Help:      "Accuracy reported for the registered model",
		}, modelLabels),
		TrainedModels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trained_models",
			Help:      "Number of trained models per lottery variant",
		}, []string{"variant"}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of predictions made",
		}, modelLabels),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Total number of failed predictions",
		}, modelLabels),
		PredictionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_latency_seconds",
			Help:      "Prediction latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, modelLabels),
		EnsembleMembersSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ensemble_members_skipped_total",
			Help:      "Ensemble members that failed to predict and were left out of the vote",
		}, []string{"algorithm"}),
		DrawingsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drawings_stored_total",
			Help:      "Total number of drawings written to the store",
		}, []string{"variant"}),
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		}, []string{"route", "code"}),
		APILatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_latency_seconds",
			Help:      "API handler latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Number of connected event stream clients",
		}),
		EventsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Total number of events broadcast to stream clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Gatherer is the registry the metrics were registered with, for serving
// them over HTTP.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// ErrorRate returns failed predictions over total predictions across every
// variant and algorithm, or 0 if no prediction has been recorded.
func (m *Metrics) ErrorRate() float64 {
	var total, failed float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case namespace + "_predictions_total":
			for _, metric := range mf.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
		case namespace + "_prediction_failures_total":
			for _, metric := range mf.GetMetric() {
				failed += metric.GetCounter().GetValue()
			}
		}
	}

	if total == 0 {
		return 0
	}
	return failed / total
}
