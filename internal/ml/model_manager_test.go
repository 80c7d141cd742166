package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lottery-engine/internal/lottery"
)

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

func TestModelManagerVersions(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 60)
	stat := trainedModel(t, lottery.SSQ, StatisticalType, data)
	dir := t.TempDir()

	mm, err := NewModelManager(dir)
	require.NoError(t, err)
	mm.now = steppingClock(fixtureStart, time.Hour)

	_, ok := mm.Current(StatisticalType, lottery.SSQ)
	assert.False(t, ok)

	first, err := mm.SaveVersion(stat, lottery.SSQ, EvaluationMetrics{Accuracy: 0.6}, data.Len())
	require.NoError(t, err)
	second, err := mm.SaveVersion(stat, lottery.SSQ, EvaluationMetrics{Accuracy: 0.7}, data.Len())
	require.NoError(t, err)

	assert.Equal(t, "20240101-000000", first.Version)
	assert.Equal(t, "20240101-010000", second.Version)
	assert.FileExists(t, second.Path)
	assert.True(t, second.IsActive)

	current, ok := mm.Current(StatisticalType, lottery.SSQ)
	require.True(t, ok)
	assert.Equal(t, second.Version, current.Version)

	history := mm.List(StatisticalType, lottery.SSQ)
	require.Len(t, history, 2)
	assert.Equal(t, second.Version, history[0].Version)
	assert.False(t, history[1].IsActive)

	prev, err := mm.Rollback(StatisticalType, lottery.SSQ)
	require.NoError(t, err)
	assert.Equal(t, first.Version, prev.Version)
	current, _ = mm.Current(StatisticalType, lottery.SSQ)
	assert.Equal(t, first.Version, current.Version)

	_, err = mm.Rollback(StatisticalType, lottery.SSQ)
	assert.ErrorIs(t, err, lottery.ErrNotFound)
	_, err = mm.Rollback(LSTMType, lottery.SSQ)
	assert.ErrorIs(t, err, lottery.ErrNotFound)
	assert.ErrorIs(t, mm.Activate(StatisticalType, lottery.SSQ, "19990101-000000"), lottery.ErrNotFound)

	// The index survives a restart.
	reopened, err := NewModelManager(dir)
	require.NoError(t, err)
	current, ok = reopened.Current(StatisticalType, lottery.SSQ)
	require.True(t, ok)
	assert.Equal(t, first.Version, current.Version)
	assert.Len(t, reopened.List("", lottery.SSQ), 2)
	assert.Empty(t, reopened.List("", lottery.DLT))
}

func TestModelManagerSameSecondVersions(t *testing.T) {
	data, _ := syntheticData(t, lottery.SSQ, 60)
	stat := trainedModel(t, lottery.SSQ, StatisticalType, data)

	mm, err := NewModelManager(t.TempDir())
	require.NoError(t, err)
	mm.now = func() time.Time { return fixtureStart }

	a, err := mm.SaveVersion(stat, lottery.SSQ, EvaluationMetrics{}, 1)
	require.NoError(t, err)
	b, err := mm.SaveVersion(stat, lottery.SSQ, EvaluationMetrics{}, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Version+".1", b.Version)
	assert.NotEqual(t, a.Path, b.Path)
}

func TestModelManagerLoadActive(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 60)
	rf := trainedModel(t, lottery.SSQ, RandomForestType, data)
	stat := trainedModel(t, lottery.SSQ, StatisticalType, data)

	mm, err := NewModelManager(t.TempDir())
	require.NoError(t, err)
	_, err = mm.SaveVersion(rf, lottery.SSQ, EvaluationMetrics{Accuracy: 0.65}, data.Len())
	require.NoError(t, err)
	_, err = mm.SaveVersion(stat, lottery.SSQ, EvaluationMetrics{Accuracy: 0.55}, data.Len())
	require.NoError(t, err)

	f := NewAlgorithmFactory(lottery.SSQ, nil)
	loaded, err := mm.LoadActive(f)
	require.NoError(t, err)
	assert.Equal(t, []AlgorithmType{RandomForestType, StatisticalType}, loaded)

	ranks := f.Rankings()
	require.Len(t, ranks, 2)
	assert.Equal(t, RandomForestType, ranks[0].Algorithm)

	out, err := f.EnsemblePredict(loaded, predictionInput(lottery.SSQ, draws))
	require.NoError(t, err)
	checkOutput(t, lottery.SSQ, out)

	other, err := mm.LoadActive(NewAlgorithmFactory(lottery.DLT, nil))
	require.NoError(t, err)
	assert.Empty(t, other)
}
