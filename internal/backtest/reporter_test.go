package backtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReport(t *testing.T) {
	res := runSmall(t, lottery.SSQ, ml.StatisticalType, ml.RandomForestType)
	out := filepath.Join(t.TempDir(), "report")

	require.NoError(t, NewReporter(res, out).GenerateReport())

	for _, name := range []string{SummaryFile, PredictionsFile, ResultsFile, TimelineFile} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	summary, err := os.ReadFile(filepath.Join(out, SummaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "BACKTEST RESULTS SUMMARY")
	assert.Contains(t, string(summary), "random_forest:")
	assert.Contains(t, string(summary), "Special Hits:")

	f, err := os.Open(filepath.Join(out, PredictionsFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(res.Records)+1)
	assert.Equal(t, "draw_number", rows[0][0])
	assert.Len(t, strings.Fields(rows[1][3]), 6)

	raw, err := os.ReadFile(filepath.Join(out, ResultsFile))
	require.NoError(t, err)
	var report struct {
		Summary struct {
			Evaluated int    `json:"evaluated_drawings"`
			Variant   string `json:"lottery_type"`
		} `json:"summary"`
		Algorithms  []AlgorithmResult `json:"algorithms"`
		Predictions []Record          `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 30, report.Summary.Evaluated)
	assert.Equal(t, "ssq", report.Summary.Variant)
	assert.Len(t, report.Algorithms, 2)
	assert.Len(t, report.Predictions, len(res.Records))
}

func TestTimelineIsCumulative(t *testing.T) {
	res := &Results{
		Variant: lottery.PL3,
		Records: []Record{
			{DrawNumber: "1", Algorithm: ml.StatisticalType, Hits: 3},
			{DrawNumber: "1", Algorithm: ml.ARIMAType, Hits: 0},
			{DrawNumber: "2", Algorithm: ml.StatisticalType, Hits: 0},
		},
	}
	points := NewReporter(res, "").calculateTimeline()
	require.Len(t, points, 3)
	assert.Equal(t, 1.0, points[0].HitRate)
	assert.Equal(t, 0.0, points[1].HitRate)
	assert.Equal(t, 2, points[2].Predictions)
	assert.InDelta(t, 0.5, points[2].HitRate, 1e-9)
}

func TestWriteSummary(t *testing.T) {
	res := runSmall(t, lottery.PL3, ml.StatisticalType)
	var buf bytes.Buffer
	NewReporter(res, "").WriteSummary(&buf)
	assert.Contains(t, buf.String(), "=== BACKTEST RESULTS ===")
	assert.Contains(t, buf.String(), "statistical")
	assert.Contains(t, buf.String(), "Evaluated Drawings: 30")
}

func TestFormatDistribution(t *testing.T) {
	assert.Equal(t, "none", formatDistribution(nil))
	assert.Equal(t, "0:4 1:2 3:1", formatDistribution(map[int]int{3: 1, 0: 4, 1: 2}))
}
