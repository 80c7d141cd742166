package ml

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalRows(seed int64, n int, shift float64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		x := rng.NormFloat64() + shift
		rows[i] = []float64{x, 2*x + 1}
	}
	return rows
}

func TestDriftDetectsShift(t *testing.T) {
	d := NewDriftDetector(DriftConfig{AlertThreshold: 0.1})
	baseline := normalRows(1, 200, 0)
	require.NoError(t, d.SetBaseline([]string{"a", "b"}, baseline))

	for _, row := range normalRows(2, 200, 3) {
		d.Observe(row)
	}
	alerts := d.Detect()
	require.NotEmpty(t, alerts)
	features := map[string]bool{}
	critical := 0
	for _, a := range alerts {
		features[a.Feature] = true
		assert.Greater(t, a.Score, a.Threshold)
		assert.NotEmpty(t, a.Recommendation)
		if a.Method == DriftKolmogorovSmirnov {
			assert.Equal(t, "critical", a.Severity, "%s scored %.3f", a.Feature, a.Score)
		}
		if a.Severity == "critical" {
			critical++
		}
	}
	assert.True(t, features["a"] && features["b"], "expected both features to drift, got %v", features)
	assert.Positive(t, critical)
}

func TestDriftQuietOnSameDistribution(t *testing.T) {
	d := NewDriftDetector(DriftConfig{})
	rows := normalRows(1, 200, 0)
	require.NoError(t, d.SetBaseline([]string{"a", "b"}, rows))
	for _, row := range rows {
		d.Observe(append(row, 99))
	}
	assert.Empty(t, d.Detect())
	assert.InDelta(t, 0, d.Status()["a"], 1e-9)
}

func TestDriftNeedsMinSamples(t *testing.T) {
	d := NewDriftDetector(DriftConfig{MinSamples: 20})
	require.NoError(t, d.SetBaseline([]string{"a", "b"}, normalRows(1, 100, 0)))
	for _, row := range normalRows(2, 10, 5) {
		d.Observe(row)
	}
	assert.Empty(t, d.Detect())
	assert.Equal(t, map[string]float64{"a": 0, "b": 0}, d.Status())

	for _, row := range normalRows(3, 10, 5) {
		d.Observe(row)
	}
	assert.NotEmpty(t, d.Detect())

	d.Reset()
	assert.Empty(t, d.Detect())
}

func TestDriftBaselinePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift", "baseline.json")
	d := NewDriftDetector(DriftConfig{SavePath: path})
	require.NoError(t, d.SetBaseline([]string{"a", "b"}, normalRows(1, 50, 0)))
	assert.FileExists(t, path)

	restored := NewDriftDetector(DriftConfig{SavePath: path, Methods: []DriftMethod{DriftMoments}})
	for _, row := range normalRows(2, 50, 4) {
		restored.Observe(row)
	}
	alerts := restored.Detect()
	require.NotEmpty(t, alerts)
	for _, a := range alerts {
		assert.Equal(t, DriftMoments, a.Method)
	}
}

func TestKSStatistic(t *testing.T) {
	assert.InDelta(t, 1.0, ksStatistic([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-9)
	assert.Equal(t, 0.0, ksStatistic(nil, []float64{1}))
	same := []float64{1, 2, 3, 4}
	assert.LessOrEqual(t, ksStatistic(same, same), 0.25)
}
