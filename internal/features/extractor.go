// Package features turns historical lottery drawings into fixed-width
// numeric feature vectors and labelled training sets.
package features

import (
	"fmt"
	"math"
	"sort"

	"lottery-engine/internal/lottery"
)

// DefaultWindowSize is the number of preceding drawings summarised per sample.
const DefaultWindowSize = 50

// hotColdRecent is the size of the "recent" slice used by the hot/cold group.
const hotColdRecent = 10

// Config selects the feature groups and the look-back window. Hot/cold, gap,
// sum, parity and special-number groups are always emitted.
type Config struct {
	EnableFrequency   bool `json:"enable_frequency_analysis" yaml:"enableFrequency"`
	EnableTrend       bool `json:"enable_trend_analysis" yaml:"enableTrend"`
	EnableStatistical bool `json:"enable_statistical_analysis" yaml:"enableStatistical"`
	EnablePattern     bool `json:"enable_pattern_analysis" yaml:"enablePattern"`
	EnableTemporal    bool `json:"enable_temporal_analysis" yaml:"enableTemporal"`
	WindowSize        int  `json:"window_size" yaml:"windowSize"`
	IncludeSpecial    bool `json:"include_special_numbers" yaml:"includeSpecial"`
	FeatureScaling    bool `json:"feature_scaling" yaml:"featureScaling"`
}

// DefaultConfig enables every group with a 50 draw window.
func DefaultConfig() Config {
	return Config{
		EnableFrequency:   true,
		EnableTrend:       true,
		EnableStatistical: true,
		EnablePattern:     true,
		EnableTemporal:    true,
		WindowSize:        DefaultWindowSize,
		IncludeSpecial:    true,
		FeatureScaling:    true,
	}
}

// Extractor builds feature vectors. It is stateless and safe for concurrent use.
type Extractor struct{}

// NewExtractor returns a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract emits one sample per drawing at index i >= WindowSize, built from
// drawings[i-WindowSize:i] and labelled with drawing i. Sample weights grow
// linearly with i so recent samples count more.
func (e *Extractor) Extract(drawings []lottery.Drawing, cfg Config) (*TrainingData, error) {
	if len(drawings) == 0 {
		return nil, lottery.InvalidParameter("no drawings provided for feature extraction")
	}
	if cfg.WindowSize < 0 {
		return nil, lottery.InvalidParameter("window size must not be negative, got %d", cfg.WindowSize)
	}

	n := len(drawings) - cfg.WindowSize
	if n < 0 {
		n = 0
	}
	data := &TrainingData{
		Features: make([][]float64, 0, n),
		Targets:  make([][]int, 0, n),
		Weights:  make([]float64, 0, n),
		Variant:  drawings[0].Variant,
		Config:   cfg,
	}
	if cfg.IncludeSpecial {
		data.SpecialTargets = make([][]int, 0, n)
	}

	for i := cfg.WindowSize; i < len(drawings); i++ {
		vec := e.ExtractSingle(drawings[i], drawings[i-cfg.WindowSize:i], cfg)
		if !ValidateFeatures(vec) {
			return nil, lottery.AlgorithmError("invalid feature vector for drawing %s", drawings[i].DrawNumber)
		}
		data.Features = append(data.Features, vec)
		data.Targets = append(data.Targets, append([]int(nil), drawings[i].Numbers...))
		if cfg.IncludeSpecial {
			data.SpecialTargets = append(data.SpecialTargets, append([]int{}, drawings[i].SpecialNumbers...))
		}
		data.Weights = append(data.Weights, float64(i+1)/float64(len(drawings)))
	}

	return data, nil
}

// ExtractSingle builds the feature vector for target from its history window.
func (e *Extractor) ExtractSingle(target lottery.Drawing, history []lottery.Drawing, cfg Config) []float64 {
	v := target.Variant
	maxNumber := v.MaxNumber()

	out := make([]float64, 0, Length(v, cfg))
	if cfg.EnableFrequency {
		out = append(out, frequencyFeatures(history, maxNumber)...)
	}
	if cfg.EnableTrend {
		out = append(out, trendFeatures(history)...)
	}
	if cfg.EnableStatistical {
		out = append(out, statisticalFeatures(history)...)
	}
	if cfg.EnablePattern {
		out = append(out, patternFeatures(history)...)
	}
	if cfg.EnableTemporal {
		out = append(out, temporalFeatures(target)...)
	}
	out = append(out, hotColdFeatures(history, maxNumber)...)
	out = append(out, gapFeatures(history, maxNumber)...)
	out = append(out, sumFeatures(history)...)
	out = append(out, parityFeatures(history)...)
	out = append(out, specialFeatures(history, v.SpecialMax())...)
	return out
}

// ForPrediction builds the feature vector for the newest drawing in history,
// using the cfg.WindowSize drawings before it.
func (e *Extractor) ForPrediction(history []lottery.Drawing, cfg Config) ([]float64, error) {
	if len(history) == 0 {
		return nil, lottery.InvalidParameter("no historical drawings provided")
	}
	last := len(history) - 1
	start := last - cfg.WindowSize
	if start < 0 {
		start = 0
	}
	vec := e.ExtractSingle(history[last], history[start:last], cfg)
	if !ValidateFeatures(vec) {
		return nil, lottery.AlgorithmError("invalid feature vector for drawing %s", history[last].DrawNumber)
	}
	return vec, nil
}

// Sequence builds feature vectors for the newest n drawings in history, oldest
// first. Each vector uses up to cfg.WindowSize drawings before its target.
func (e *Extractor) Sequence(history []lottery.Drawing, cfg Config, n int) ([][]float64, error) {
	if n <= 0 || len(history) < n {
		return nil, lottery.InvalidParameter("need %d historical drawings, got %d", n, len(history))
	}
	out := make([][]float64, 0, n)
	for i := len(history) - n; i < len(history); i++ {
		start := i - cfg.WindowSize
		if start < 0 {
			start = 0
		}
		vec := e.ExtractSingle(history[i], history[start:i], cfg)
		if !ValidateFeatures(vec) {
			return nil, lottery.AlgorithmError("invalid feature vector for drawing %s", history[i].DrawNumber)
		}
		out = append(out, vec)
	}
	return out, nil
}

// ValidateFeatures rejects empty vectors and vectors with NaN or infinite values.
func ValidateFeatures(vec []float64) bool {
	if len(vec) == 0 {
		return false
	}
	for _, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Length is the feature vector width for a variant and configuration.
func Length(v lottery.Variant, cfg Config) int {
	return len(Names(v, cfg))
}

// Names returns the feature names in emission order.
func Names(v lottery.Variant, cfg Config) []string {
	maxNumber := v.MaxNumber()
	var names []string
	perNumber := func(prefix string, n int) {
		for i := 1; i <= n; i++ {
			names = append(names, fmt.Sprintf("%s_%d", prefix, i))
		}
	}

	if cfg.EnableFrequency {
		perNumber("freq", maxNumber)
	}
	if cfg.EnableTrend {
		names = append(names, "trend_up", "trend_down", "trend_stable")
	}
	if cfg.EnableStatistical {
		names = append(names, "mean", "std", "min", "max", "median")
	}
	if cfg.EnablePattern {
		names = append(names, "consecutive", "odd_count", "even_count", "prime_count")
	}
	if cfg.EnableTemporal {
		names = append(names, "weekday", "day_of_month", "month", "is_weekend")
	}
	perNumber("hot_cold", maxNumber)
	perNumber("gap", maxNumber)
	names = append(names, "sum_mean", "sum_std", "sum_last")
	names = append(names, "odd_ratio", "even_ratio")
	perNumber("special_freq", v.SpecialMax())
	return names
}

func frequencyFeatures(history []lottery.Drawing, maxNumber int) []float64 {
	freq := countNumbers(history, maxNumber)
	if len(history) == 0 {
		return freq
	}
	total := float64(len(history))
	for i := range freq {
		freq[i] /= total
	}
	return freq
}

// countNumbers returns per-number occurrence counts, index 0 is number 1.
func countNumbers(history []lottery.Drawing, maxNumber int) []float64 {
	counts := make([]float64, maxNumber)
	for _, d := range history {
		for _, n := range d.Numbers {
			if n >= 1 && n <= maxNumber {
				counts[n-1]++
			}
		}
	}
	return counts
}

func trendFeatures(history []lottery.Drawing) []float64 {
	if len(history) < 2 {
		return []float64{0, 0, 1}
	}
	var up, down, stable float64
	for i := 1; i < len(history); i++ {
		prev := average(history[i-1].Numbers)
		curr := average(history[i].Numbers)
		switch {
		case curr > prev:
			up++
		case curr < prev:
			down++
		default:
			stable++
		}
	}
	total := float64(len(history) - 1)
	return []float64{up / total, down / total, stable / total}
}

func statisticalFeatures(history []lottery.Drawing) []float64 {
	var all []float64
	for _, d := range history {
		for _, n := range d.Numbers {
			all = append(all, float64(n))
		}
	}
	if len(all) == 0 {
		return []float64{0, 0, 0, 0, 0}
	}

	mean, std := meanStd(all)
	sort.Float64s(all)
	var median float64
	if mid := len(all) / 2; len(all)%2 == 0 {
		median = (all[mid-1] + all[mid]) / 2
	} else {
		median = all[mid]
	}
	return []float64{mean, std, all[0], all[len(all)-1], median}
}

func patternFeatures(history []lottery.Drawing) []float64 {
	if len(history) == 0 {
		return []float64{0, 0, 0, 0}
	}
	var consecutive, odd, even, prime float64
	for _, d := range history {
		for i := 1; i < len(d.Numbers); i++ {
			if d.Numbers[i] == d.Numbers[i-1]+1 {
				consecutive++
			}
		}
		for _, n := range d.Numbers {
			if n%2 == 1 {
				odd++
			} else {
				even++
			}
			if isPrime(n) {
				prime++
			}
		}
	}
	total := float64(len(history))
	return []float64{consecutive / total, odd / total, even / total, prime / total}
}

func temporalFeatures(target lottery.Drawing) []float64 {
	date := target.DrawDate
	// Monday is 0.
	weekday := (int(date.Weekday()) + 6) % 7
	weekend := 0.0
	if weekday >= 5 {
		weekend = 1
	}
	return []float64{
		float64(weekday) / 7,
		float64(date.Day()) / 31,
		float64(date.Month()) / 12,
		weekend,
	}
}

// hotColdFeatures compares the last 10 drawings against the older ones.
// Windows of 20 or fewer drawings compare against the whole window.
func hotColdFeatures(history []lottery.Drawing, maxNumber int) []float64 {
	recent := history
	if len(history) > hotColdRecent {
		recent = history[len(history)-hotColdRecent:]
	}
	older := history
	if len(history) > 2*hotColdRecent {
		older = history[:len(history)-hotColdRecent]
	}

	hot := normalize(countNumbers(recent, maxNumber))
	cold := normalize(countNumbers(older, maxNumber))
	out := make([]float64, maxNumber)
	for i := range out {
		out[i] = hot[i] - cold[i]
	}
	return out
}

// gapFeatures measures the distance between the last two sightings of each
// number, normalised by the largest such distance.
func gapFeatures(history []lottery.Drawing, maxNumber int) []float64 {
	lastSeen := make([]float64, maxNumber)
	for i := range lastSeen {
		lastSeen[i] = float64(len(history))
	}
	gaps := make([]float64, maxNumber)
	for i, d := range history {
		for _, n := range d.Numbers {
			if n >= 1 && n <= maxNumber {
				gaps[n-1] = math.Abs(float64(i) - lastSeen[n-1])
				lastSeen[n-1] = float64(i)
			}
		}
	}

	maxGap := 0.0
	for _, g := range gaps {
		maxGap = math.Max(maxGap, g)
	}
	if maxGap > 0 {
		for i := range gaps {
			gaps[i] /= maxGap
		}
	}
	return gaps
}

func sumFeatures(history []lottery.Drawing) []float64 {
	if len(history) == 0 {
		return []float64{0, 0, 0}
	}
	sums := make([]float64, len(history))
	for i, d := range history {
		sums[i] = float64(d.Sum())
	}
	mean, std := meanStd(sums)
	return []float64{mean, std, sums[len(sums)-1]}
}

func parityFeatures(history []lottery.Drawing) []float64 {
	var oddSum, evenSum float64
	var draws int
	for _, d := range history {
		if len(d.Numbers) == 0 {
			continue
		}
		odd := 0
		for _, n := range d.Numbers {
			if n%2 == 1 {
				odd++
			}
		}
		total := float64(len(d.Numbers))
		oddSum += float64(odd) / total
		evenSum += float64(len(d.Numbers)-odd) / total
		draws++
	}
	if draws == 0 {
		return []float64{0, 0}
	}
	return []float64{oddSum / float64(draws), evenSum / float64(draws)}
}

func specialFeatures(history []lottery.Drawing, specialMax int) []float64 {
	if specialMax == 0 {
		return nil
	}
	freq := make([]float64, specialMax)
	for _, d := range history {
		for _, s := range d.SpecialNumbers {
			if s >= 1 && s <= specialMax {
				freq[s-1]++
			}
		}
	}
	if len(history) > 0 {
		total := float64(len(history))
		for i := range freq {
			freq[i] /= total
		}
	}
	return freq
}

func normalize(xs []float64) []float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	if total > 0 {
		for i := range xs {
			xs[i] /= total
		}
	}
	return xs
}

func average(nums []int) float64 {
	if len(nums) == 0 {
		return 0
	}
	s := 0
	for _, n := range nums {
		s += n
	}
	return float64(s) / float64(len(nums))
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(variance / float64(len(xs)))
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}
