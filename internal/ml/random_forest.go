package ml

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// randomForestAccuracy is the fixed accuracy the forest reports after training.
const randomForestAccuracy = 0.85

// RandomForestParams are the forest hyperparameters. MaxFeatures 0 means
// the square root of the feature count.
type RandomForestParams struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features"`
	RandomState     int64 `json:"random_state"`
	Bootstrap       bool  `json:"bootstrap"`
}

// DefaultRandomForestParams returns the stock forest settings.
func DefaultRandomForestParams() RandomForestParams {
	return RandomForestParams{
		NEstimators:     100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		RandomState:     42,
		Bootstrap:       true,
	}
}

func (p RandomForestParams) merge(cfg AlgorithmConfig) RandomForestParams {
	p.NEstimators = maxInt(1, cfg.Int("n_estimators", p.NEstimators))
	p.MaxDepth = maxInt(1, cfg.Int("max_depth", p.MaxDepth))
	p.MinSamplesSplit = maxInt(2, cfg.Int("min_samples_split", p.MinSamplesSplit))
	p.MinSamplesLeaf = maxInt(1, cfg.Int("min_samples_leaf", p.MinSamplesLeaf))
	p.MaxFeatures = maxInt(0, cfg.Int("max_features", p.MaxFeatures))
	p.RandomState = int64(cfg.Int("random_state", int(p.RandomState)))
	p.Bootstrap = cfg.Bool("bootstrap", p.Bootstrap)
	return p
}

// treeNode is one arena slot. Leaves have Feature == -1 and carry Value.
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
	Samples   int       `json:"samples"`
	Gini      float64   `json:"gini"`
}

// decisionTree stores its nodes in an arena; node 0 is the root.
type decisionTree struct {
	Nodes          []treeNode `json:"nodes"`
	FeatureIndices []int      `json:"feature_indices"`
}

func (t *decisionTree) predict(x []float64) []float64 {
	i := 0
	for i >= 0 && i < len(t.Nodes) {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if n.Feature >= len(x) {
			return nil
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return nil
}

func (t decisionTree) clone() decisionTree {
	nodes := make([]treeNode, len(t.Nodes))
	for i, n := range t.Nodes {
		n.Value = cloneVec(n.Value)
		nodes[i] = n
	}
	return decisionTree{Nodes: nodes, FeatureIndices: cloneInts(t.FeatureIndices)}
}

// RandomForest is a bagged ensemble of gini-split decision trees over the
// observed target numbers.
type RandomForest struct {
	params     RandomForestParams
	variant    lottery.Variant
	featureCfg features.Config
	trees      []decisionTree
	classes    []int
	importance map[string]float64
	trained    bool
}

type randomForestState struct {
	Params     RandomForestParams `json:"params"`
	Variant    lottery.Variant    `json:"lottery_type"`
	FeatureCfg features.Config    `json:"feature_config"`
	Trees      []decisionTree     `json:"trees"`
	Classes    []int              `json:"classes"`
	Trained    bool               `json:"is_trained"`
}

// NewRandomForest builds an untrained forest from cfg.
func NewRandomForest(cfg AlgorithmConfig) *RandomForest {
	return &RandomForest{
		params:     DefaultRandomForestParams().merge(cfg),
		variant:    variantOr(cfg, lottery.SSQ),
		featureCfg: cfg.Features(),
	}
}

func (m *RandomForest) Name() string        { return "Random Forest" }
func (m *RandomForest) Type() AlgorithmType { return RandomForestType }
func (m *RandomForest) IsTrained() bool     { return m.trained }

// Params returns the active hyperparameters.
func (m *RandomForest) Params() RandomForestParams { return m.params }

// Train grows NEstimators trees and reports a fixed accuracy.
func (m *RandomForest) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	m.params = m.params.merge(cfg)
	m.variant = variantOr(cfg, m.variant)
	m.featureCfg = featureConfigOf(data, m.featureCfg)

	classes := uniqueClasses(data.Targets)
	classIdx := make(map[int]int, len(classes))
	for i, c := range classes {
		classIdx[c] = i
	}

	b := &treeBuilder{
		x:        data.Features,
		y:        data.Targets,
		classIdx: classIdx,
		nClasses: len(classes),
		params:   m.params,
	}

	nSamples := data.Len()
	nFeatures := data.Width()
	maxFeatures := m.params.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(nFeatures)))
	}
	maxFeatures = clampInt(maxFeatures, 1, nFeatures)

	rng := rand.New(rand.NewSource(m.params.RandomState))
	trees := make([]decisionTree, 0, m.params.NEstimators)
	for t := 0; t < m.params.NEstimators; t++ {
		idx := make([]int, nSamples)
		for i := range idx {
			if m.params.Bootstrap {
				idx[i] = rng.Intn(nSamples)
			} else {
				idx[i] = i
			}
		}

		featRng := rand.New(rand.NewSource(m.params.RandomState + int64(t)))
		feats := featRng.Perm(nFeatures)[:maxFeatures]

		tree := decisionTree{FeatureIndices: feats}
		b.tree = &tree
		b.build(idx, 0)
		trees = append(trees, tree)
	}

	m.trees = trees
	m.classes = classes
	m.importance = nil
	m.trained = true
	return randomForestAccuracy, nil
}

// classProbabilities averages the leaf distributions of every tree.
func (m *RandomForest) classProbabilities(x []float64) []float64 {
	probs := make([]float64, len(m.classes))
	if len(m.trees) == 0 {
		return probs
	}
	for i := range m.trees {
		for j, p := range m.trees[i].predict(x) {
			if j < len(probs) {
				probs[j] += p
			}
		}
	}
	for j := range probs {
		probs[j] /= float64(len(m.trees))
	}
	return probs
}

// Predict averages class probabilities over all trees and keeps the top
// MainCount classes. Special numbers reuse the class probabilities,
// restricted to the special range.
func (m *RandomForest) Predict(input *PredictionInput) (*PredictionOutput, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	start := time.Now()

	x, err := features.NewExtractor().ForPrediction(input.History, m.featureCfg)
	if err != nil {
		return nil, err
	}
	probs := m.classProbabilities(x)

	cands := make([]scored, len(m.classes))
	for i, c := range m.classes {
		cands[i] = scored{Number: c, Score: probs[i]}
	}
	v := input.Variant
	nums, conf := finalize(topScored(cands, len(cands)), v.MainCount(), v.MaxNumber())

	var specials []int
	if v.HasSpecial() {
		var pool []int
		for _, c := range topScored(cands, len(cands)) {
			if c.Number <= v.SpecialMax() {
				pool = append(pool, c.Number)
			}
		}
		specials = finalizeSpecials(v, pool)
	}

	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: specials,
		Confidence:     conf,
		Metadata: map[string]any{
			"algorithm":    string(RandomForestType),
			"n_estimators": m.params.NEstimators,
			"max_depth":    m.params.MaxDepth,
			"classes":      len(m.classes),
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// Evaluate scores top-k hits of the forest directly on the feature rows.
func (m *RandomForest) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if err := checkTrainingData(data); err != nil {
		return nil, err
	}
	k := m.variant.MainCount()
	var hitRate, precision, recall, absErr, sqErr float64
	var cells int
	for i, x := range data.Features {
		probs := m.classProbabilities(x)
		cands := make([]scored, len(m.classes))
		for j, c := range m.classes {
			cands[j] = scored{Number: c, Score: probs[j]}
		}
		target := make(map[int]bool, len(data.Targets[i]))
		for _, n := range data.Targets[i] {
			target[n] = true
		}
		top := topScored(cands, k)
		hits := 0
		for _, c := range top {
			if target[c.Number] {
				hits++
			}
		}
		if len(top) > 0 {
			precision += float64(hits) / float64(len(top))
		}
		if len(target) > 0 {
			recall += float64(hits) / float64(len(target))
			hitRate += float64(hits) / float64(len(target))
		}
		for j, c := range m.classes {
			want := 0.0
			if target[c] {
				want = 1
			}
			d := probs[j] - want
			absErr += math.Abs(d)
			sqErr += d * d
			cells++
		}
	}
	n := float64(data.Len())
	out := &EvaluationMetrics{
		Accuracy:  hitRate / n,
		Precision: precision / n,
		Recall:    recall / n,
	}
	if out.Precision+out.Recall > 0 {
		out.F1Score = 2 * out.Precision * out.Recall / (out.Precision + out.Recall)
	}
	if cells > 0 {
		out.MAE = absErr / float64(cells)
		out.RMSE = math.Sqrt(sqErr / float64(cells))
	}
	return out, nil
}

// FeatureImportance is not computed by the forest and is always empty.
func (m *RandomForest) FeatureImportance() map[string]float64 {
	return m.importance
}

func (m *RandomForest) SaveModel(path string) error {
	return saveSnapshot(path, RandomForestType, m.state())
}

func (m *RandomForest) LoadModel(path string) error {
	var st randomForestState
	if err := loadSnapshot(path, RandomForestType, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *RandomForest) state() randomForestState {
	return randomForestState{
		Params:     m.params,
		Variant:    m.variant,
		FeatureCfg: m.featureCfg,
		Trees:      m.trees,
		Classes:    m.classes,
		Trained:    m.trained,
	}
}

func (m *RandomForest) restore(st randomForestState) {
	*m = RandomForest{
		params:     st.Params,
		variant:    st.Variant,
		featureCfg: st.FeatureCfg,
		trees:      st.Trees,
		classes:    st.Classes,
		trained:    st.Trained,
	}
}

func (m *RandomForest) Clone() PredictionAlgorithm {
	trees := make([]decisionTree, len(m.trees))
	for i, t := range m.trees {
		trees[i] = t.clone()
	}
	return &RandomForest{
		params:     m.params,
		variant:    m.variant,
		featureCfg: m.featureCfg,
		trees:      trees,
		classes:    cloneInts(m.classes),
		trained:    m.trained,
	}
}

// treeBuilder grows one tree into its arena.
type treeBuilder struct {
	x        [][]float64
	y        [][]int
	classIdx map[int]int
	nClasses int
	params   RandomForestParams
	tree     *decisionTree
}

func (b *treeBuilder) leaf(idx []int) int {
	return b.push(treeNode{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Value:   b.distribution(idx),
		Samples: len(idx),
		Gini:    b.gini(idx),
	})
}

func (b *treeBuilder) push(n treeNode) int {
	b.tree.Nodes = append(b.tree.Nodes, n)
	return len(b.tree.Nodes) - 1
}

// build returns the arena index of the subtree grown from idx.
func (b *treeBuilder) build(idx []int, depth int) int {
	if len(idx) == 0 {
		return b.push(treeNode{Feature: -1, Left: -1, Right: -1, Value: make([]float64, b.nClasses), Gini: 1})
	}
	if depth >= b.params.MaxDepth || len(idx) < b.params.MinSamplesSplit {
		return b.leaf(idx)
	}

	feature, threshold, gini, ok := b.bestSplit(idx)
	if !ok {
		return b.leaf(idx)
	}
	left, right := b.split(idx, feature, threshold)
	if len(left) < b.params.MinSamplesLeaf || len(right) < b.params.MinSamplesLeaf {
		return b.leaf(idx)
	}

	self := b.push(treeNode{Feature: feature, Threshold: threshold, Left: -1, Right: -1, Samples: len(idx), Gini: gini})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[self].Left = l
	b.tree.Nodes[self].Right = r
	return self
}

// bestSplit tries the midpoint, 25th and 75th percentile of each candidate
// feature's range and keeps the lowest weighted gini below 1.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, float64, bool) {
	bestGini := 1.0
	bestFeature := -1
	bestThreshold := 0.0

	for _, f := range b.tree.FeatureIndices {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.x[i][f]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if lo >= hi {
			continue
		}
		for _, th := range []float64{(lo + hi) / 2, lo + (hi-lo)*0.25, lo + (hi-lo)*0.75} {
			left, right := b.split(idx, f, th)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			g := (float64(len(left))*b.gini(left) + float64(len(right))*b.gini(right)) / float64(len(idx))
			if g < bestGini {
				bestGini, bestFeature, bestThreshold = g, f, th
			}
		}
	}
	return bestFeature, bestThreshold, bestGini, bestFeature >= 0
}

func (b *treeBuilder) split(idx []int, feature int, threshold float64) (left, right []int) {
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func (b *treeBuilder) counts(idx []int) ([]float64, float64) {
	counts := make([]float64, b.nClasses)
	total := 0.0
	for _, i := range idx {
		for _, t := range b.y[i] {
			if c, ok := b.classIdx[t]; ok {
				counts[c]++
				total++
			}
		}
	}
	return counts, total
}

func (b *treeBuilder) gini(idx []int) float64 {
	counts, total := b.counts(idx)
	if total == 0 {
		return 1
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

func (b *treeBuilder) distribution(idx []int) []float64 {
	counts, total := b.counts(idx)
	if total > 0 {
		for i := range counts {
			counts[i] /= total
		}
	}
	return counts
}

// uniqueClasses returns the sorted distinct target numbers.
func uniqueClasses(targets [][]int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, t := range targets {
		for _, n := range t {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Ints(out)
	return out
}

// featureConfigOf returns the extraction settings the data was built with.
// Hand-assembled data without settings falls back to def.
func featureConfigOf(data *TrainingData, def features.Config) features.Config {
	if data.Config == (features.Config{}) {
		return def
	}
	return data.Config
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
