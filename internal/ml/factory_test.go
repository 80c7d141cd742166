package ml

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery-engine/internal/lottery"
)

func trainedModel(t *testing.T, v lottery.Variant, algo AlgorithmType, data *TrainingData) PredictionAlgorithm {
	t.Helper()
	m, cfg := newSmallModel(t, v, algo)
	_, err := m.Train(data, cfg)
	require.NoError(t, err)
	return m
}

func TestParseAlgorithm(t *testing.T) {
	got, err := ParseAlgorithm(" LSTM ")
	require.NoError(t, err)
	assert.Equal(t, LSTMType, got)

	_, err = ParseAlgorithm("xgboost")
	require.Error(t, err)
	assert.ErrorIs(t, err, lottery.ErrAlgorithm)
	assert.Contains(t, err.Error(), "unknown algorithm: xgboost")

	f := NewAlgorithmFactory(lottery.SSQ, nil)
	_, err = f.CreateAlgorithm("xgboost", NewAlgorithmConfig(lottery.SSQ))
	assert.ErrorIs(t, err, lottery.ErrAlgorithm)
}

func TestMetadataCatalog(t *testing.T) {
	meta, ok := Metadata(RandomForestType)
	require.True(t, ok)
	assert.Equal(t, "Random Forest", meta.Name)
	assert.Equal(t, 100, meta.RequiredDataSize)
	assert.True(t, meta.Supports(lottery.DLT))
	assert.False(t, meta.Supports(lottery.Custom))

	for _, algo := range AllAlgorithms {
		m, ok := Metadata(algo)
		require.True(t, ok, "missing metadata for %s", algo)
		assert.Less(t, m.AccuracyRange[0], m.AccuracyRange[1], algo)
		assert.NotEmpty(t, m.ConfigSchema, algo)
	}

	f := NewAlgorithmFactory(lottery.SSQ, nil)
	assert.True(t, f.IsSupported(HybridType, lottery.PL5))
	assert.False(t, f.IsSupported("xgboost", lottery.SSQ))
	assert.Equal(t, AllAlgorithms, f.ListAvailable())
}

func TestRecommend(t *testing.T) {
	f := NewAlgorithmFactory(lottery.SSQ, nil)
	assert.Contains(t, f.Recommend(1000, 0.75), LSTMType)
	assert.Equal(t, []AlgorithmType{ARIMAType}, f.Recommend(60, 0.78))
	assert.Empty(t, f.Recommend(40, 0.8))
}

func TestCreateAlgorithmDefaultsVariant(t *testing.T) {
	metrics := &MockMetrics{}
	f := NewAlgorithmFactory(lottery.DLT, metrics)
	m, err := f.CreateAlgorithm("hybrid", AlgorithmConfig{Parameters: map[string]any{}})
	require.NoError(t, err)
	h, ok := m.(*Hybrid)
	require.True(t, ok)
	assert.Equal(t, lottery.DLT, h.variant)
	assert.Equal(t, HybridType, m.Type())
	assert.False(t, m.IsTrained())
}

func TestRegisterAndRank(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 60)
	metrics := &MockMetrics{}
	f := NewAlgorithmFactory(lottery.SSQ, metrics)

	rf := trainedModel(t, lottery.SSQ, RandomForestType, data)
	stat := trainedModel(t, lottery.SSQ, StatisticalType, data)
	nn := trainedModel(t, lottery.SSQ, NeuralNetworkType, data)
	cfg := NewAlgorithmConfig(lottery.SSQ)

	require.NoError(t, f.RegisterModel(RandomForestType, rf, EvaluationMetrics{Accuracy: 0.6}, cfg))
	require.NoError(t, f.RegisterModel(StatisticalType, stat, EvaluationMetrics{Accuracy: 0.8}, cfg))
	require.NoError(t, f.RegisterModel(NeuralNetworkType, nn, EvaluationMetrics{Accuracy: 0.6}, cfg))

	assert.Equal(t, []AlgorithmType{RandomForestType, StatisticalType, NeuralNetworkType}, f.ListTrained())
	assert.Equal(t, []Ranking{
		{Algorithm: StatisticalType, Accuracy: 0.8},
		{Algorithm: RandomForestType, Accuracy: 0.6},
		{Algorithm: NeuralNetworkType, Accuracy: 0.6},
	}, f.Rankings())
	best, ok := f.BestAlgorithm()
	require.True(t, ok)
	assert.Equal(t, StatisticalType, best)

	info, ok := f.ModelInfo(StatisticalType)
	require.True(t, ok)
	assert.Equal(t, lottery.SSQ, info.Variant)
	assert.Greater(t, info.ModelSize, int64(0))

	metrics.mu.Lock()
	assert.Equal(t, 3, metrics.trainedModels["ssq"])
	assert.InDelta(t, 0.8, metrics.accuracy["ssq/statistical"], 1e-9)
	metrics.mu.Unlock()

	// Re-registering keeps the original position.
	require.NoError(t, f.RegisterModel(RandomForestType, rf, EvaluationMetrics{Accuracy: 0.9}, cfg))
	assert.Equal(t, []AlgorithmType{RandomForestType, StatisticalType, NeuralNetworkType}, f.ListTrained())
	best, _ = f.BestAlgorithm()
	assert.Equal(t, RandomForestType, best)

	assert.ErrorIs(t, f.RegisterModel(RandomForestType, nil, EvaluationMetrics{}, cfg), lottery.ErrInvalidParameter)
	assert.ErrorIs(t, f.RegisterModel("xgboost", rf, EvaluationMetrics{}, cfg), lottery.ErrAlgorithm)
}

func TestGetModelReturnsClone(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 60)
	f := NewAlgorithmFactory(lottery.SSQ, nil)
	stat := trainedModel(t, lottery.SSQ, StatisticalType, data)
	require.NoError(t, f.RegisterModel(StatisticalType, stat, EvaluationMetrics{Accuracy: 0.7}, NewAlgorithmConfig(lottery.SSQ)))

	got, ok := f.GetModel(StatisticalType)
	require.True(t, ok)
	assert.True(t, got.IsTrained())
	assert.NotSame(t, stat, got)

	_, ok = f.GetModel(LSTMType)
	assert.False(t, ok)
	_, ok = f.BestAlgorithm()
	assert.True(t, ok)
	_, ok = NewAlgorithmFactory(lottery.SSQ, nil).BestAlgorithm()
	assert.False(t, ok)
}

func TestFactoryCompare(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 80)
	train, test := data.Split(0.8)
	f := NewAlgorithmFactory(lottery.SSQ, nil)
	cfg := NewAlgorithmConfig(lottery.SSQ)
	for _, algo := range []AlgorithmType{RandomForestType, StatisticalType} {
		require.NoError(t, f.RegisterModel(algo, trainedModel(t, lottery.SSQ, algo, train), EvaluationMetrics{}, cfg))
	}
	// An untrained registration fails to evaluate and is left out.
	require.NoError(t, f.RegisterModel(ARIMAType, NewARIMA(cfg), EvaluationMetrics{}, cfg))

	results, err := f.Compare(test)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results, RandomForestType)
	assert.NotContains(t, results, ARIMAType)

	_, err = f.Compare(&TrainingData{})
	assert.ErrorIs(t, err, lottery.ErrInvalidParameter)
}

func TestFactoryEnsemblePredict(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 60)
	input := predictionInput(lottery.SSQ, draws)
	f := NewAlgorithmFactory(lottery.SSQ, nil)

	names := []AlgorithmType{RandomForestType, StatisticalType, ARIMAType}
	_, err := f.EnsemblePredict(names, input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models available for ensemble prediction")

	cfg := NewAlgorithmConfig(lottery.SSQ)
	require.NoError(t, f.RegisterModel(RandomForestType, trainedModel(t, lottery.SSQ, RandomForestType, data), EvaluationMetrics{}, cfg))
	require.NoError(t, f.RegisterModel(StatisticalType, trainedModel(t, lottery.SSQ, StatisticalType, data), EvaluationMetrics{}, cfg))

	out, err := f.EnsemblePredict(names, input)
	require.NoError(t, err)
	checkOutput(t, lottery.SSQ, out)
	assert.Equal(t, "ensemble", out.Metadata["method"])
	assert.Equal(t, "random_forest,statistical,arima", out.Metadata["algorithms"])
	assert.Equal(t, 2, out.Metadata["models_used"])
	for _, c := range out.Confidence {
		assert.Equal(t, registryEnsembleConfidence, c)
	}

	_, err = f.EnsemblePredict(names, nil)
	assert.ErrorIs(t, err, lottery.ErrInvalidParameter)
}

func TestFactorySaveAndLoad(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 60)
	input := predictionInput(lottery.SSQ, draws)
	path := filepath.Join(t.TempDir(), "rf.json")

	f := NewAlgorithmFactory(lottery.SSQ, nil)
	assert.ErrorContains(t, f.SaveModel(RandomForestType, path), "not trained or found")

	rf := trainedModel(t, lottery.SSQ, RandomForestType, data)
	require.NoError(t, f.RegisterModel(RandomForestType, rf, EvaluationMetrics{Accuracy: 0.65}, NewAlgorithmConfig(lottery.SSQ)))
	require.NoError(t, f.SaveModel(RandomForestType, path))

	restored := NewAlgorithmFactory(lottery.SSQ, nil)
	require.NoError(t, restored.LoadModel("rf", path, NewAlgorithmConfig(lottery.SSQ)))
	info, ok := restored.ModelInfo(RandomForestType)
	require.True(t, ok)
	assert.Equal(t, loadedModelMetrics, info.Metrics)

	want, err := rf.Predict(input)
	require.NoError(t, err)
	m, _ := restored.GetModel(RandomForestType)
	got, err := m.Predict(input)
	require.NoError(t, err)
	assert.Equal(t, want.Numbers, got.Numbers)

	assert.Error(t, restored.LoadModel("stat", path, NewAlgorithmConfig(lottery.SSQ)))
}
