package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DriftMethod names a test comparing training-time and prediction-time
// feature distributions.
type DriftMethod string

const (
	DriftKolmogorovSmirnov DriftMethod = "kolmogorov_smirnov"
	DriftPSI               DriftMethod = "population_stability_index"
	DriftMoments           DriftMethod = "statistical_moments"
	DriftChiSquare         DriftMethod = "chi_square"
)

const driftBins = 10

// FeatureDistribution keeps a bounded sample of one feature.
type FeatureDistribution struct {
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	SampleCount int64     `json:"sample_count"`
	Samples     []float64 `json:"samples"`
	LastUpdated time.Time `json:"last_updated"`
}

func (d *FeatureDistribution) add(value float64, window int) {
	if d.SampleCount == 0 {
		d.Mean = value
		d.StdDev = 0
	} else {
		n := float64(d.SampleCount)
		mean := (d.Mean*n + value) / (n + 1)
		variance := ((n-1)*d.StdDev*d.StdDev + (value-mean)*(value-mean)) / n
		d.Mean = mean
		d.StdDev = math.Sqrt(variance)
	}
	d.SampleCount++
	if len(d.Samples) >= window {
		d.Samples = d.Samples[1:]
	}
	d.Samples = append(d.Samples, value)
	d.LastUpdated = time.Now()
}

func (d *FeatureDistribution) bounds() (float64, float64) {
	if len(d.Samples) == 0 {
		return 0, 0
	}
	lo, hi := d.Samples[0], d.Samples[0]
	for _, v := range d.Samples {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// DriftAlert reports one feature whose drift score passed the threshold.
type DriftAlert struct {
	Timestamp      time.Time   `json:"timestamp"`
	Feature        string      `json:"feature_name"`
	Method         DriftMethod `json:"method"`
	Score          float64     `json:"drift_score"`
	Threshold      float64     `json:"threshold"`
	Severity       string      `json:"severity"`
	Recommendation string      `json:"recommendation"`
}

// DriftConfig configures a DriftDetector.
type DriftConfig struct {
	SavePath       string        `yaml:"save_path"`
	AlertThreshold float64       `yaml:"alert_threshold"`
	WindowSize     int           `yaml:"window_size"`
	MinSamples     int           `yaml:"min_samples"`
	Methods        []DriftMethod `yaml:"methods"`
}

// DriftDetector compares the feature vectors a model was trained on with the
// vectors it is asked to predict from.
type DriftDetector struct {
	mu         sync.RWMutex
	names      []string
	baseline   map[string]*FeatureDistribution
	current    map[string]*FeatureDistribution
	threshold  float64
	window     int
	minSamples int
	methods    []DriftMethod
	savePath   string
}

// NewDriftDetector creates a detector. An existing baseline at
// cfg.SavePath is loaded.
func NewDriftDetector(cfg DriftConfig) *DriftDetector {
	d := &DriftDetector{
		baseline:   make(map[string]*FeatureDistribution),
		current:    make(map[string]*FeatureDistribution),
		threshold:  cfg.AlertThreshold,
		window:     cfg.WindowSize,
		minSamples: cfg.MinSamples,
		methods:    cfg.Methods,
		savePath:   cfg.SavePath,
	}
	if d.threshold <= 0 {
		d.threshold = 0.1
	}
	if d.window <= 0 {
		d.window = 1000
	}
	if d.minSamples <= 0 {
		d.minSamples = 10
	}
	if len(d.methods) == 0 {
		d.methods = []DriftMethod{DriftPSI, DriftKolmogorovSmirnov}
	}
	if err := d.LoadBaseline(); err != nil {
		log.Warn().Err(err).Str("path", d.savePath).Msg("Failed to load drift baseline")
	}
	return d
}

// SetBaseline replaces the baseline with the training features. names label
// the columns; extra columns are ignored.
func (d *DriftDetector) SetBaseline(names []string, rows [][]float64) error {
	d.mu.Lock()
	d.names = append([]string(nil), names...)
	d.baseline = make(map[string]*FeatureDistribution, len(names))
	d.current = make(map[string]*FeatureDistribution, len(names))
	for _, row := range rows {
		for i, v := range row {
			if i >= len(d.names) {
				break
			}
			d.dist(d.baseline, d.names[i]).add(v, d.window)
		}
	}
	d.mu.Unlock()
	return d.SaveBaseline()
}

// Observe records one prediction-time feature vector.
func (d *DriftDetector) Observe(vec []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range vec {
		if i >= len(d.names) {
			break
		}
		d.dist(d.current, d.names[i]).add(v, d.window)
	}
}

func (d *DriftDetector) dist(m map[string]*FeatureDistribution, name string) *FeatureDistribution {
	fd, ok := m[name]
	if !ok {
		fd = &FeatureDistribution{}
		m[name] = fd
	}
	return fd
}

// Detect runs every configured method over features with enough samples.
func (d *DriftDetector) Detect() []DriftAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []DriftAlert
	for _, name := range d.names {
		base, cur := d.baseline[name], d.current[name]
		if !d.comparable(base, cur) {
			continue
		}
		for _, method := range d.methods {
			score := driftScore(method, base, cur)
			if score <= d.threshold {
				continue
			}
			severity := "medium"
			if score > d.threshold*3 {
				severity = "critical"
			} else if score > d.threshold*2 {
				severity = "high"
			}
			alerts = append(alerts, DriftAlert{
				Timestamp:      time.Now(),
				Feature:        name,
				Method:         method,
				Score:          score,
				Threshold:      d.threshold,
				Severity:       severity,
				Recommendation: recommendation(severity, name),
			})
		}
	}
	return alerts
}

// Status returns the PSI of every feature, 0 when samples are too few.
func (d *DriftDetector) Status() map[string]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]float64, len(d.names))
	for _, name := range d.names {
		base, cur := d.baseline[name], d.current[name]
		if !d.comparable(base, cur) {
			out[name] = 0
			continue
		}
		out[name] = psi(base, cur)
	}
	return out
}

// Reset drops the prediction-time samples and keeps the baseline.
func (d *DriftDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = make(map[string]*FeatureDistribution, len(d.names))
}

func (d *DriftDetector) comparable(base, cur *FeatureDistribution) bool {
	return base != nil && cur != nil &&
		base.SampleCount >= int64(d.minSamples) && cur.SampleCount >= int64(d.minSamples)
}

func driftScore(method DriftMethod, base, cur *FeatureDistribution) float64 {
	switch method {
	case DriftKolmogorovSmirnov:
		return ksStatistic(base.Samples, cur.Samples)
	case DriftPSI:
		return psi(base, cur)
	case DriftMoments:
		mean := math.Abs(base.Mean-cur.Mean) / (1 + math.Abs(base.Mean))
		std := math.Abs(base.StdDev-cur.StdDev) / (1 + base.StdDev)
		return (mean + std) / 2
	case DriftChiSquare:
		return chiSquare(base, cur)
	}
	return 0
}

// ksStatistic is the largest gap between the two empirical CDFs.
func ksStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)
	maxDiff := 0.0
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		if x[i] <= y[j] {
			i++
		} else {
			j++
		}
		diff := math.Abs(float64(i)/float64(len(x)) - float64(j)/float64(len(y)))
		maxDiff = math.Max(maxDiff, diff)
	}
	return maxDiff
}

func histogram(samples []float64, lo, width float64) []float64 {
	bins := make([]float64, driftBins)
	for _, s := range samples {
		b := int((s - lo) / width)
		b = clampInt(b, 0, driftBins-1)
		bins[b]++
	}
	return bins
}

func sharedBins(base, cur *FeatureDistribution) (b, c []float64, ok bool) {
	blo, bhi := base.bounds()
	clo, chi := cur.bounds()
	lo, hi := math.Min(blo, clo), math.Max(bhi, chi)
	if hi == lo {
		return nil, nil, false
	}
	width := (hi - lo) / driftBins
	return histogram(base.Samples, lo, width), histogram(cur.Samples, lo, width), true
}

func psi(base, cur *FeatureDistribution) float64 {
	b, c, ok := sharedBins(base, cur)
	if !ok {
		return 0
	}
	bt, ct := float64(len(base.Samples)), float64(len(cur.Samples))
	out := 0.0
	for i := range b {
		bp, cp := b[i]/bt, c[i]/ct
		if bp > 0 && cp > 0 {
			out += (cp - bp) * math.Log(cp/bp)
		}
	}
	return math.Abs(out)
}

func chiSquare(base, cur *FeatureDistribution) float64 {
	b, c, ok := sharedBins(base, cur)
	if !ok {
		return 0
	}
	bt, ct := float64(len(base.Samples)), float64(len(cur.Samples))
	out := 0.0
	for i := range b {
		expected := b[i] / bt * ct
		if expected > 0 {
			out += (c[i] - expected) * (c[i] - expected) / expected
		}
	}
	return out / float64(driftBins-1)
}

func recommendation(severity, feature string) string {
	switch severity {
	case "critical":
		return fmt.Sprintf("feature %q shows severe drift, retrain the model now", feature)
	case "high":
		return fmt.Sprintf("feature %q shows significant drift, schedule retraining", feature)
	default:
		return fmt.Sprintf("feature %q shows moderate drift, keep monitoring", feature)
	}
}

type driftBaseline struct {
	Names    []string                        `json:"feature_names"`
	Baseline map[string]*FeatureDistribution `json:"baseline"`
}

// SaveBaseline writes the baseline to the configured path, if any.
func (d *DriftDetector) SaveBaseline() error {
	if d.savePath == "" {
		return nil
	}
	d.mu.RLock()
	data, err := json.MarshalIndent(driftBaseline{Names: d.names, Baseline: d.baseline}, "", "  ")
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode drift baseline: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.savePath), 0o755); err != nil {
		return fmt.Errorf("create drift baseline directory: %w", err)
	}
	return os.WriteFile(d.savePath, data, 0o600)
}

// LoadBaseline reads a saved baseline. A missing file is not an error.
func (d *DriftDetector) LoadBaseline() error {
	if d.savePath == "" {
		return nil
	}
	data, err := os.ReadFile(d.savePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var saved driftBaseline
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("decode drift baseline: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = saved.Names
	d.baseline = saved.Baseline
	if d.baseline == nil {
		d.baseline = make(map[string]*FeatureDistribution)
	}
	return nil
}
