package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu               sync.Mutex
	trainings        int
	trainingFailures int
	trainingSeconds  float64
	predictions      int
	failures         int
	latencySum       float64
	skipped          map[string]int
	accuracy         map[string]float64
	trainedModels    map[string]int
}

func (m *MockMetrics) TrainingsInc(variant, algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings++
}

func (m *MockMetrics) TrainingFailuresInc(variant, algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingFailures++
}

func (m *MockMetrics) TrainingDurationObserve(variant, algorithm string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingSeconds += v
}

func (m *MockMetrics) PredictionsInc(variant, algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) PredictionFailuresInc(variant, algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) PredictionLatencyObserve(variant, algorithm string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) ModelAccuracySet(variant, algorithm string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accuracy == nil {
		m.accuracy = make(map[string]float64)
	}
	m.accuracy[variant+"/"+algorithm] = v
}

func (m *MockMetrics) EnsembleMemberSkippedInc(algorithm string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipped == nil {
		m.skipped = make(map[string]int)
	}
	m.skipped[algorithm]++
}

func (m *MockMetrics) TrainedModelsSet(variant string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trainedModels == nil {
		m.trainedModels = make(map[string]int)
	}
	m.trainedModels[variant] = n
}

// Snapshot returns the counters under the lock.
func (m *MockMetrics) Snapshot() (trainings, trainingFailures, predictions, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainings, m.trainingFailures, m.predictions, m.failures
}
