package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Report file names written by GenerateReport.
const (
	SummaryFile     = "backtest_summary.txt"
	PredictionsFile = "predictions.csv"
	ResultsFile     = "backtest_results.json"
	TimelineFile    = "hit_timeline.csv"
)

// Reporter generates backtest reports
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport generates all report formats
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}

	if err := r.generatePredictionLog(); err != nil {
		return err
	}

	if err := r.generateJSONReport(); err != nil {
		return err
	}

	if err := r.generateTimeline(); err != nil {
		return err
	}

	return nil
}

// generateSummary generates a human-readable summary
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, SummaryFile)
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.results
	fmt.Fprintf(file, "BACKTEST RESULTS SUMMARY\n")
	fmt.Fprintf(file, "========================\n\n")

	fmt.Fprintf(file, "Lottery: %s (%s)\n", res.Variant.DisplayName(), res.Variant)
	fmt.Fprintf(file, "Period: %s to %s\n",
		res.StartTime.Format("2006-01-02"),
		res.EndTime.Format("2006-01-02"))
	fmt.Fprintf(file, "Drawings: %d loaded, %d evaluated\n", res.Drawings, res.Evaluated)
	fmt.Fprintf(file, "Train Window: %d, Step: %d, Feature Window: %d\n", res.TrainWindow, res.Step, res.FeatureWindow)
	fmt.Fprintf(file, "Retrains: %d\n", res.Retrains)
	fmt.Fprintf(file, "Elapsed: %s\n\n", res.Elapsed.Round(time.Millisecond))

	fmt.Fprintf(file, "RANDOM BASELINE\n")
	fmt.Fprintf(file, "---------------\n")
	fmt.Fprintf(file, "Expected Hit Rate: %.2f%%\n", res.RandomHitRate*100)
	fmt.Fprintf(file, "Expected Hits Per Draw: %.2f\n\n", res.RandomHitRate*float64(res.Variant.MainCount()))

	fmt.Fprintf(file, "ALGORITHM PERFORMANCE\n")
	fmt.Fprintf(file, "---------------------\n")
	for _, a := range res.Ranked() {
		fmt.Fprintf(file, "%s:\n", a.Algorithm)
		fmt.Fprintf(file, "  Predictions: %d (%d failed, %d training failures)\n",
			a.Predictions, a.PredictionFailures, a.TrainingFailures)
		fmt.Fprintf(file, "  Total Hits: %d, Avg Hits: %.2f, Best Hit: %d\n", a.TotalHits, a.AvgHits, a.BestHit)
		fmt.Fprintf(file, "  Hit Rate: %.2f%% (%+.2f%% vs random)\n",
			a.HitRate*100, (a.HitRate-res.RandomHitRate)*100)
		if res.Variant.HasSpecial() {
			fmt.Fprintf(file, "  Special Hits: %d (%.2f%%)\n", a.SpecialHits, a.SpecialHitRate*100)
		}
		fmt.Fprintf(file, "  Avg Confidence: %.3f\n", a.AvgConfidence)
		fmt.Fprintf(file, "  Hit Distribution: %s\n", formatDistribution(a.HitDistribution))
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func formatDistribution(dist map[int]int) string {
	keys := make([]int, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d:%d", k, dist[k]))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}

// generatePredictionLog generates a CSV log of every scored prediction
func (r *Reporter) generatePredictionLog() error {
	csvPath := filepath.Join(r.outputPath, PredictionsFile)
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create prediction log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"draw_number", "draw_date", "algorithm", "predicted", "predicted_special",
		"actual", "actual_special", "hits", "special_hits", "confidence",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range r.results.Records {
		record := []string{
			rec.DrawNumber,
			rec.DrawDate.Format("2006-01-02"),
			string(rec.Algorithm),
			joinInts(rec.Predicted),
			joinInts(rec.PredictedSpecial),
			joinInts(rec.Actual),
			joinInts(rec.ActualSpecial),
			strconv.Itoa(rec.Hits),
			strconv.Itoa(rec.SpecialHits),
			fmt.Sprintf("%.4f", rec.Confidence),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", csvPath).Int("records", len(r.results.Records)).Msg("Prediction log generated")
	return nil
}

// generateJSONReport generates a JSON report with all data
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, ResultsFile)
	res := r.results

	report := map[string]interface{}{
		"summary": map[string]interface{}{
			"lottery_type":       res.Variant,
			"start_time":         res.StartTime,
			"end_time":           res.EndTime,
			"drawings":           res.Drawings,
			"evaluated_drawings": res.Evaluated,
			"train_window":       res.TrainWindow,
			"step":               res.Step,
			"feature_window":     res.FeatureWindow,
			"retrains":           res.Retrains,
			"random_hit_rate":    res.RandomHitRate,
			"elapsed_ms":         res.Elapsed.Milliseconds(),
		},
		"algorithms":   res.Ranked(),
		"predictions":  res.Records,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// TimelinePoint is the cumulative hit rate of one algorithm after a drawing
type TimelinePoint struct {
	Date        time.Time
	DrawNumber  string
	Algorithm   string
	Predictions int
	TotalHits   int
	HitRate     float64
}

// generateTimeline writes the running hit rate per algorithm
func (r *Reporter) generateTimeline() error {
	timelinePath := filepath.Join(r.outputPath, TimelineFile)
	file, err := os.Create(timelinePath)
	if err != nil {
		return fmt.Errorf("failed to create timeline report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"draw_date", "draw_number", "algorithm", "predictions", "total_hits", "hit_rate"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range r.calculateTimeline() {
		record := []string{
			p.Date.Format("2006-01-02"),
			p.DrawNumber,
			p.Algorithm,
			strconv.Itoa(p.Predictions),
			strconv.Itoa(p.TotalHits),
			fmt.Sprintf("%.4f", p.HitRate),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", timelinePath).Msg("Timeline report generated")
	return nil
}

func (r *Reporter) calculateTimeline() []TimelinePoint {
	mainCount := float64(r.results.Variant.MainCount())
	type running struct{ predictions, hits int }
	totals := make(map[string]*running)

	points := make([]TimelinePoint, 0, len(r.results.Records))
	for _, rec := range r.results.Records {
		algo := string(rec.Algorithm)
		t, ok := totals[algo]
		if !ok {
			t = &running{}
			totals[algo] = t
		}
		t.predictions++
		t.hits += rec.Hits
		points = append(points, TimelinePoint{
			Date:        rec.DrawDate,
			DrawNumber:  rec.DrawNumber,
			Algorithm:   algo,
			Predictions: t.predictions,
			TotalHits:   t.hits,
			HitRate:     float64(t.hits) / (float64(t.predictions) * mainCount),
		})
	}
	return points
}

// PrintSummary prints a summary to console
func (r *Reporter) PrintSummary() {
	r.WriteSummary(os.Stdout)
}

// WriteSummary writes the console summary to w
func (r *Reporter) WriteSummary(w io.Writer) {
	res := r.results
	fmt.Fprintln(w, "\n=== BACKTEST RESULTS ===")
	fmt.Fprintf(w, "Lottery: %s\n", res.Variant)
	fmt.Fprintf(w, "Period: %s to %s\n",
		res.StartTime.Format("2006-01-02"),
		res.EndTime.Format("2006-01-02"))
	fmt.Fprintf(w, "Evaluated Drawings: %d\n", res.Evaluated)
	fmt.Fprintf(w, "Random Hit Rate: %.2f%%\n", res.RandomHitRate*100)
	for _, a := range res.Ranked() {
		fmt.Fprintf(w, "%-16s predictions=%d hit_rate=%.2f%% best=%d\n",
			a.Algorithm, a.Predictions, a.HitRate*100, a.BestHit)
	}
	fmt.Fprintln(w, "=======================")
}
