package ml

import (
	"math"
	"sort"
	"time"

	"lottery-engine/internal/lottery"
)

// StatisticalParams configure the frequency and trend scorer.
type StatisticalParams struct {
	WindowSize          int     `json:"window_size"`
	WeightFunction      string  `json:"weight_function"`
	SmoothingFactor     float64 `json:"smoothing_factor"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	HotColdWeight       float64 `json:"hot_cold_weight"`
	TrendWeight         float64 `json:"trend_weight"`
	PatternWeight       float64 `json:"pattern_weight"`
}

// DefaultStatisticalParams returns the stock scorer settings.
func DefaultStatisticalParams() StatisticalParams {
	return StatisticalParams{
		WindowSize:          50,
		WeightFunction:      "linear",
		SmoothingFactor:     0.1,
		ConfidenceThreshold: 0.6,
		HotColdWeight:       0.4,
		TrendWeight:         0.3,
		PatternWeight:       0.3,
	}
}

func (p StatisticalParams) merge(cfg AlgorithmConfig) StatisticalParams {
	p.WindowSize = maxInt(0, cfg.Int("window_size", p.WindowSize))
	p.WeightFunction = cfg.String("weight_function", p.WeightFunction)
	p.SmoothingFactor = cfg.Float("smoothing_factor", p.SmoothingFactor)
	p.ConfidenceThreshold = cfg.Float("confidence_threshold", p.ConfidenceThreshold)
	p.HotColdWeight = cfg.Float("hot_cold_weight", p.HotColdWeight)
	p.TrendWeight = cfg.Float("trend_weight", p.TrendWeight)
	p.PatternWeight = cfg.Float("pattern_weight", p.PatternWeight)
	return p
}

const (
	statisticalAccuracy   = 0.58
	statisticalConfidence = 0.6
	hotBonus              = 0.1
	coldPenalty           = 0.05
)

// Statistical ranks numbers by frequency, recency and occurrence trend
// over the most recent WindowSize target drawings.
type Statistical struct {
	params         StatisticalParams
	variant        lottery.Variant
	frequency      map[int]float64
	specialFreq    map[int]float64
	hot            []int
	cold           []int
	trend          map[int]float64
	patternWeights map[string]float64
	trained        bool
}

type statisticalState struct {
	Params         StatisticalParams  `json:"params"`
	Variant        lottery.Variant    `json:"lottery_type"`
	Frequency      map[int]float64    `json:"frequency_distribution"`
	SpecialFreq    map[int]float64    `json:"special_frequency"`
	Hot            []int              `json:"hot_numbers"`
	Cold           []int              `json:"cold_numbers"`
	Trend          map[int]float64    `json:"trend_scores"`
	PatternWeights map[string]float64 `json:"pattern_weights"`
	Trained        bool               `json:"is_trained"`
}

// NewStatistical builds an untrained scorer from cfg.
func NewStatistical(cfg AlgorithmConfig) *Statistical {
	return &Statistical{
		params:  DefaultStatisticalParams().merge(cfg),
		variant: variantOr(cfg, lottery.SSQ),
	}
}

func (m *Statistical) Name() string        { return "Statistical Analysis" }
func (m *Statistical) Type() AlgorithmType { return StatisticalType }
func (m *Statistical) IsTrained() bool     { return m.trained }

// HotNumbers returns the numbers in the top third by hot/cold ratio.
func (m *Statistical) HotNumbers() []int { return cloneInts(m.hot) }

// ColdNumbers returns the numbers in the bottom third by hot/cold ratio.
func (m *Statistical) ColdNumbers() []int { return cloneInts(m.cold) }

// PatternWeights returns the diagnostic pattern aggregates.
func (m *Statistical) PatternWeights() map[string]float64 {
	out := make(map[string]float64, len(m.patternWeights))
	for k, v := range m.patternWeights {
		out[k] = v
	}
	return out
}

func (m *Statistical) window(rows [][]int) [][]int {
	if w := m.params.WindowSize; w > 0 && len(rows) > w {
		return rows[len(rows)-w:]
	}
	return rows
}

func (m *Statistical) computeFrequencies(draws [][]int) {
	max := m.variant.MaxNumber()
	counts := make([]float64, max+1)
	total := 0.0
	for _, d := range draws {
		for _, n := range d {
			if n >= 1 && n <= max {
				counts[n]++
				total++
			}
		}
	}
	m.frequency = make(map[int]float64, max)
	if total == 0 {
		return
	}
	for n := 1; n <= max; n++ {
		m.frequency[n] = counts[n] / total
	}
}

func (m *Statistical) computeSpecialFrequencies(specials [][]int) {
	max := m.variant.SpecialMax()
	m.specialFreq = make(map[int]float64, max)
	if max == 0 {
		return
	}
	counts := make([]float64, max+1)
	total := 0.0
	for _, d := range specials {
		for _, n := range d {
			if n >= 1 && n <= max {
				counts[n]++
				total++
			}
		}
	}
	for n := 1; n <= max; n++ {
		if total == 0 {
			m.specialFreq[n] = 1 / float64(max)
		} else {
			m.specialFreq[n] = counts[n] / total
		}
	}
}

// computeHotCold compares the newest 20% of draws against the rest. A number
// absent from the older window scores twice its recent count.
func (m *Statistical) computeHotCold(draws [][]int) {
	max := m.variant.MaxNumber()
	recentCount := int(float64(len(draws)) * 0.2)
	split := len(draws) - recentCount
	recent := make([]float64, max+1)
	older := make([]float64, max+1)
	for i, d := range draws {
		bucket := older
		if i >= split {
			bucket = recent
		}
		for _, n := range d {
			if n >= 1 && n <= max {
				bucket[n]++
			}
		}
	}

	cands := make([]scored, 0, max)
	for n := 1; n <= max; n++ {
		s := recent[n] * 2
		if older[n] > 0 {
			s = recent[n] / older[n]
		}
		cands = append(cands, scored{Number: n, Score: s})
	}
	ranked := topScored(cands, len(cands))
	third := len(ranked) / 3
	m.hot = m.hot[:0]
	for _, c := range ranked[:third] {
		m.hot = append(m.hot, c.Number)
	}
	m.cold = m.cold[:0]
	for _, c := range ranked[third*2:] {
		m.cold = append(m.cold, c.Number)
	}
}

// computeTrends regresses each number's draw indices against occurrence
// order. Numbers seen fewer than twice get no trend.
func (m *Statistical) computeTrends(draws [][]int) {
	max := m.variant.MaxNumber()
	positions := make(map[int][]float64)
	for i, d := range draws {
		for _, n := range d {
			if n >= 1 && n <= max {
				positions[n] = append(positions[n], float64(i))
			}
		}
	}
	m.trend = make(map[int]float64, len(positions))
	for n, ys := range positions {
		if len(ys) < 2 {
			continue
		}
		if _, slope := linearRegression(ys); !math.IsNaN(slope) && !math.IsInf(slope, 0) {
			m.trend[n] = slope
		}
	}
}

// linearRegression fits y = a + b*x with x = 0..len(ys)-1.
func linearRegression(ys []float64) (intercept, slope float64) {
	n := float64(len(ys))
	var sx, sy, sxy, sx2 float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sx2 += x * x
	}
	slope = (n*sxy - sx*sy) / (n*sx2 - sx*sx)
	intercept = (sy - slope*sx) / n
	return intercept, slope
}

func (m *Statistical) computePatterns(draws [][]int) {
	var consecutive, oddEven, sum float64
	for _, d := range draws {
		sorted := append([]int(nil), d...)
		sort.Ints(sorted)
		for i := 1; i < len(sorted); i++ {
			if sorted[i] == sorted[i-1]+1 {
				consecutive++
			}
		}
		odd := 0
		for _, n := range d {
			if n%2 == 1 {
				odd++
			}
			sum += float64(n)
		}
		oddEven += math.Abs(float64(odd - (len(d) - odd)))
	}
	total := math.Max(float64(len(draws)), 1)
	m.patternWeights = map[string]float64{
		"consecutive": consecutive / total,
		"odd_even":    oddEven / total,
		"sum":         sum / total,
	}
}

// scores combines frequency and trend with the hot bonus and cold penalty,
// floored at zero.
func (m *Statistical) scores() []float64 {
	max := m.variant.MaxNumber()
	hot := make(map[int]bool, len(m.hot))
	for _, n := range m.hot {
		hot[n] = true
	}
	cold := make(map[int]bool, len(m.cold))
	for _, n := range m.cold {
		cold[n] = true
	}
	out := make([]float64, max)
	for n := 1; n <= max; n++ {
		s := m.frequency[n]*m.params.HotColdWeight + m.trend[n]*m.params.TrendWeight
		if hot[n] {
			s += hotBonus
		}
		if cold[n] {
			s -= coldPenalty
		}
		out[n-1] = math.Max(s, 0)
	}
	return out
}

// Train rebuilds the draw sequence from the targets and computes the
// frequency tables. The reported accuracy is a fixed estimate.
func (m *Statistical) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	m.params = m.params.merge(cfg)
	m.variant = variantOr(cfg, m.variant)

	draws := m.window(data.Targets)
	m.computeFrequencies(draws)
	m.computeSpecialFrequencies(m.window(data.SpecialTargets))
	m.computeHotCold(draws)
	m.computeTrends(draws)
	m.computePatterns(draws)
	m.trained = true
	return statisticalAccuracy, nil
}

func (m *Statistical) Predict(input *PredictionInput) (*PredictionOutput, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	start := time.Now()

	v := input.Variant
	ranked := rankVector(m.scores(), v.MaxNumber())
	nums, _ := finalize(ranked, v.MainCount(), v.MaxNumber())
	conf := make([]float64, len(nums))
	for i := range conf {
		conf[i] = statisticalConfidence
	}

	var specials []int
	if v.HasSpecial() {
		sp := make([]float64, v.SpecialMax())
		for i := range sp {
			sp[i] = m.specialFreq[i+1]
		}
		for _, c := range rankVector(sp, len(sp)) {
			specials = append(specials, c.Number)
		}
	}

	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: finalizeSpecials(v, specials),
		Confidence:     conf,
		Metadata: map[string]any{
			"method":          "frequency",
			"window_size":     m.params.WindowSize,
			"pattern_weights": m.PatternWeights(),
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// Evaluate returns fixed quality estimates.
func (m *Statistical) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	return &EvaluationMetrics{
		Accuracy:  statisticalAccuracy,
		Precision: 0.55,
		Recall:    0.60,
		F1Score:   0.57,
	}, nil
}

func (m *Statistical) FeatureImportance() map[string]float64 {
	return map[string]float64{
		"frequency": 0.4,
		"hot_cold":  0.3,
		"trend":     0.2,
		"pattern":   0.1,
	}
}

func (m *Statistical) state() statisticalState {
	return statisticalState{
		Params:         m.params,
		Variant:        m.variant,
		Frequency:      m.frequency,
		SpecialFreq:    m.specialFreq,
		Hot:            m.hot,
		Cold:           m.cold,
		Trend:          m.trend,
		PatternWeights: m.patternWeights,
		Trained:        m.trained,
	}
}

func (m *Statistical) SaveModel(path string) error {
	return saveSnapshot(path, StatisticalType, m.state())
}

func (m *Statistical) LoadModel(path string) error {
	var st statisticalState
	if err := loadSnapshot(path, StatisticalType, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *Statistical) restore(st statisticalState) {
	*m = Statistical{
		params:         st.Params,
		variant:        st.Variant,
		frequency:      st.Frequency,
		specialFreq:    st.SpecialFreq,
		hot:            st.Hot,
		cold:           st.Cold,
		trend:          st.Trend,
		patternWeights: st.PatternWeights,
		trained:        st.Trained,
	}
}

func (m *Statistical) Clone() PredictionAlgorithm {
	return &Statistical{
		params:         m.params,
		variant:        m.variant,
		frequency:      cloneIntMap(m.frequency),
		specialFreq:    cloneIntMap(m.specialFreq),
		hot:            cloneInts(m.hot),
		cold:           cloneInts(m.cold),
		trend:          cloneIntMap(m.trend),
		patternWeights: m.PatternWeights(),
		trained:        m.trained,
	}
}

func cloneIntMap(in map[int]float64) map[int]float64 {
	if in == nil {
		return nil
	}
	out := make(map[int]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
