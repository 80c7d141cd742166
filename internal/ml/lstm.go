package ml

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// minLSTMSequences is the smallest number of training sequences accepted.
const minLSTMSequences = 10

// LSTMParams configure the recurrent model.
type LSTMParams struct {
	HiddenSize     int     `json:"hidden_size"`
	NumLayers      int     `json:"num_layers"`
	SequenceLength int     `json:"sequence_length"`
	LearningRate   float64 `json:"learning_rate"`
	Epochs         int     `json:"epochs"`
	DropoutRate    float64 `json:"dropout_rate"`
	Regularization float64 `json:"regularization"`
	EarlyStopping  bool    `json:"early_stopping"`
	Patience       int     `json:"patience"`
	RandomState    int64   `json:"random_state"`
}

// DefaultLSTMParams returns the stock recurrent model settings.
func DefaultLSTMParams() LSTMParams {
	return LSTMParams{
		HiddenSize:     128,
		NumLayers:      2,
		SequenceLength: 10,
		LearningRate:   0.001,
		Epochs:         100,
		DropoutRate:    0.2,
		Regularization: 0.001,
		EarlyStopping:  true,
		Patience:       10,
		RandomState:    42,
	}
}

func (p LSTMParams) merge(cfg AlgorithmConfig) LSTMParams {
	p.HiddenSize = maxInt(1, cfg.Int("hidden_size", p.HiddenSize))
	p.NumLayers = maxInt(1, cfg.Int("num_layers", p.NumLayers))
	p.SequenceLength = maxInt(1, cfg.Int("sequence_length", p.SequenceLength))
	if lr := cfg.Float("learning_rate", p.LearningRate); lr > 0 {
		p.LearningRate = lr
	}
	p.Epochs = maxInt(1, cfg.Int("epochs", p.Epochs))
	if d := cfg.Float("dropout_rate", p.DropoutRate); d >= 0 && d < 1 {
		p.DropoutRate = d
	}
	if r := cfg.Float("regularization", p.Regularization); r >= 0 {
		p.Regularization = r
	}
	p.EarlyStopping = cfg.Bool("early_stopping", p.EarlyStopping)
	p.Patience = maxInt(1, cfg.Int("patience", p.Patience))
	p.RandomState = int64(cfg.Int("random_state", int(p.RandomState)))
	return p
}

// lstmCell holds the stacked gate weights in i, f, g, o order.
type lstmCell struct {
	WeightIH matrix    `json:"weight_ih"`
	WeightHH matrix    `json:"weight_hh"`
	BiasIH   []float64 `json:"bias_ih"`
	BiasHH   []float64 `json:"bias_hh"`
	Hidden   int       `json:"hidden_size"`
}

func newLSTMCell(rng *rand.Rand, in, hidden int) lstmCell {
	scale := 1 / math.Sqrt(float64(hidden))
	return lstmCell{
		WeightIH: randomMatrix(rng, 4*hidden, in, scale),
		WeightHH: randomMatrix(rng, 4*hidden, hidden, scale),
		BiasIH:   make([]float64, 4*hidden),
		BiasHH:   make([]float64, 4*hidden),
		Hidden:   hidden,
	}
}

// step advances the cell by one timestep and returns the new hidden and
// cell state.
func (c *lstmCell) step(x, h, cs []float64) ([]float64, []float64) {
	gates := c.WeightIH.mulVec(x)
	hh := c.WeightHH.mulVec(h)
	for i := range gates {
		gates[i] += hh[i] + c.BiasIH[i] + c.BiasHH[i]
	}
	n := c.Hidden
	nh := make([]float64, n)
	nc := make([]float64, n)
	for k := 0; k < n; k++ {
		in := sigmoid(gates[k])
		forget := sigmoid(gates[n+k])
		cand := math.Tanh(gates[2*n+k])
		out := sigmoid(gates[3*n+k])
		nc[k] = forget*cs[k] + in*cand
		nh[k] = out * math.Tanh(nc[k])
	}
	return nh, nc
}

func (c lstmCell) clone() lstmCell {
	return lstmCell{
		WeightIH: c.WeightIH.clone(),
		WeightHH: c.WeightHH.clone(),
		BiasIH:   cloneVec(c.BiasIH),
		BiasHH:   cloneVec(c.BiasHH),
		Hidden:   c.Hidden,
	}
}

// targetEncoder maps observed target numbers to output columns.
type targetEncoder struct {
	Classes []int `json:"classes"`
}

func fitTargetEncoder(targets [][]int) *targetEncoder {
	return &targetEncoder{Classes: uniqueClasses(targets)}
}

func (e *targetEncoder) encode(nums []int) []float64 {
	out := make([]float64, len(e.Classes))
	for _, n := range nums {
		if i := sort.SearchInts(e.Classes, n); i < len(e.Classes) && e.Classes[i] == n {
			out[i] = 1
		}
	}
	return out
}

// decode ranks classes by activation.
func (e *targetEncoder) decode(probs []float64) []scored {
	cands := make([]scored, len(e.Classes))
	for i, c := range e.Classes {
		cands[i] = scored{Number: c, Score: probs[i]}
	}
	return topScored(cands, len(cands))
}

// LSTM is a stacked recurrent model with a sigmoid output projection.
//
// Only the output projection is fitted; the recurrent cell weights keep
// their seeded initial values. Training therefore computes the final hidden
// state of each sequence once and runs gradient descent on the projection.
type LSTM struct {
	params      LSTMParams
	variant     lottery.Variant
	featureCfg  features.Config
	cells       []lstmCell
	outW        matrix
	outB        []float64
	scaler      *Scaler
	encoder     *targetEncoder
	lossHistory []float64
	trained     bool
}

type lstmState struct {
	Params      LSTMParams      `json:"params"`
	Variant     lottery.Variant `json:"lottery_type"`
	FeatureCfg  features.Config `json:"feature_config"`
	Cells       []lstmCell      `json:"lstm_cells"`
	OutputW     matrix          `json:"output_weight"`
	OutputB     []float64       `json:"output_bias"`
	Scaler      *Scaler         `json:"feature_scaler"`
	Encoder     *targetEncoder  `json:"target_encoder"`
	LossHistory []float64       `json:"loss_history"`
	Trained     bool            `json:"is_trained"`
}

// NewLSTM builds an untrained recurrent model from cfg.
func NewLSTM(cfg AlgorithmConfig) *LSTM {
	return &LSTM{
		params:     DefaultLSTMParams().merge(cfg),
		variant:    variantOr(cfg, lottery.SSQ),
		featureCfg: cfg.Features(),
	}
}

func (m *LSTM) Name() string        { return "LSTM Neural Network" }
func (m *LSTM) Type() AlgorithmType { return LSTMType }
func (m *LSTM) IsTrained() bool     { return m.trained }

// SequenceLength is the number of drawings Predict needs.
func (m *LSTM) SequenceLength() int { return m.params.SequenceLength }

func (m *LSTM) build(rng *rand.Rand, inputSize, outputSize int) {
	m.cells = make([]lstmCell, m.params.NumLayers)
	in := inputSize
	for i := range m.cells {
		m.cells[i] = newLSTMCell(rng, in, m.params.HiddenSize)
		in = m.params.HiddenSize
	}
	m.outW = randomMatrix(rng, outputSize, m.params.HiddenSize, 1/math.Sqrt(float64(m.params.HiddenSize)))
	m.outB = make([]float64, outputSize)
}

// lastHidden runs a standardised sequence through the stack, resetting
// state at the start, and returns the top layer's final hidden state.
func (m *LSTM) lastHidden(seq [][]float64) []float64 {
	layerIn := seq
	var h []float64
	for li := range m.cells {
		c := &m.cells[li]
		h = make([]float64, c.Hidden)
		cs := make([]float64, c.Hidden)
		outs := make([][]float64, len(layerIn))
		for t, x := range layerIn {
			h, cs = c.step(x, h, cs)
			outs[t] = h
		}
		layerIn = outs
	}
	return h
}

func (m *LSTM) project(h []float64) []float64 {
	out := m.outW.mulVec(h)
	for i := range out {
		out[i] = sigmoid(out[i] + m.outB[i])
	}
	return out
}

// sequences builds sliding windows: X[i] = features[i:i+L], labelled with
// targets[i+L].
func (m *LSTM) sequences(data *TrainingData) (hidden [][]float64, ys [][]float64) {
	L := m.params.SequenceLength
	n := data.Len() - L
	if n <= 0 {
		return nil, nil
	}
	scaled := make([][]float64, data.Len())
	for i, row := range data.Features {
		scaled[i] = m.scaler.Transform(row)
	}
	hidden = make([][]float64, n)
	ys = make([][]float64, n)
	for i := 0; i < n; i++ {
		hidden[i] = m.lastHidden(scaled[i : i+L])
		ys[i] = m.encoder.encode(data.Targets[i+L])
	}
	return hidden, ys
}

func (m *LSTM) mse(hidden, ys [][]float64) float64 {
	if len(hidden) == 0 {
		return 0
	}
	total := 0.0
	cells := 0
	for i, h := range hidden {
		p := m.project(h)
		for j := range p {
			d := p[j] - ys[i][j]
			total += d * d
			cells++
		}
	}
	return total / float64(cells)
}

// epoch applies one full-batch gradient step to the output projection and
// returns the pre-update loss.
func (m *LSTM) epoch(hidden, ys [][]float64) float64 {
	gradW := newMatrix(len(m.outW), m.params.HiddenSize)
	gradB := make([]float64, len(m.outB))
	total := 0.0
	for i, h := range hidden {
		p := m.project(h)
		for j := range p {
			d := p[j] - ys[i][j]
			total += d * d
			gradB[j] += d
			for k, hv := range h {
				gradW[j][k] += d * hv
			}
		}
	}
	n := float64(len(hidden))
	lr := m.params.LearningRate
	for j := range m.outW {
		for k := range m.outW[j] {
			m.outW[j][k] -= lr * (gradW[j][k]/n + m.params.Regularization*m.outW[j][k])
		}
		m.outB[j] -= lr * gradB[j] / n
	}
	return total / (n * float64(len(m.outB)))
}

// Train fits the output projection on sliding windows of the training data.
func (m *LSTM) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	m.params = m.params.merge(cfg)
	m.variant = variantOr(cfg, m.variant)
	m.featureCfg = featureConfigOf(data, m.featureCfg)

	if n := data.Len() - m.params.SequenceLength; n < minLSTMSequences {
		return 0, lottery.AlgorithmError("insufficient data for LSTM training: %d sequences, need %d",
			maxInt(n, 0), minLSTMSequences)
	}

	rng := rand.New(rand.NewSource(m.params.RandomState))
	m.scaler = FitScaler(data.Features)
	m.encoder = fitTargetEncoder(data.Targets)
	m.build(rng, data.Width(), len(m.encoder.Classes))

	hidden, ys := m.sequences(data)
	m.lossHistory = m.lossHistory[:0]
	best := math.Inf(1)
	patience := 0
	for e := 0; e < m.params.Epochs; e++ {
		loss := m.epoch(hidden, ys)
		m.lossHistory = append(m.lossHistory, loss)
		if loss < best {
			best = loss
			patience = 0
		} else {
			patience++
		}
		if m.params.EarlyStopping && patience >= m.params.Patience {
			break
		}
	}

	m.trained = true
	return 1 - m.mse(hidden, ys), nil
}

// Predict runs the newest SequenceLength drawings through the network.
func (m *LSTM) Predict(input *PredictionInput) (*PredictionOutput, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	L := m.params.SequenceLength
	if len(input.History) < L {
		return nil, lottery.AlgorithmError("insufficient historical data for LSTM prediction: have %d drawings, need %d",
			len(input.History), L)
	}
	start := time.Now()

	seq, err := features.NewExtractor().Sequence(input.History, m.featureCfg, L)
	if err != nil {
		return nil, err
	}
	for i := range seq {
		seq[i] = m.scaler.Transform(seq[i])
	}
	probs := m.project(m.lastHidden(seq))
	ranked := m.encoder.decode(probs)

	v := input.Variant
	nums, conf := finalize(ranked, v.MainCount(), v.MaxNumber())
	var specials []int
	for _, c := range ranked {
		if c.Number <= v.SpecialMax() {
			specials = append(specials, c.Number)
		}
	}

	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: finalizeSpecials(v, specials),
		Confidence:     conf,
		Metadata: map[string]any{
			"algorithm":       string(LSTMType),
			"sequence_length": L,
			"hidden_size":     m.params.HiddenSize,
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// Evaluate scores 1 - MSE on the sliding windows of data.
func (m *LSTM) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	hidden, ys := m.sequences(data)
	if len(hidden) == 0 {
		return &EvaluationMetrics{}, nil
	}
	mse := m.mse(hidden, ys)
	metrics := scaledMetrics(1-mse, 0.95, 0.9)
	metrics.RMSE = math.Sqrt(mse)
	return metrics, nil
}

// FeatureImportance reports the architecture settings, there is no per
// feature attribution for the recurrent model.
func (m *LSTM) FeatureImportance() map[string]float64 {
	return map[string]float64{
		"sequence_length": float64(m.params.SequenceLength),
		"hidden_size":     float64(m.params.HiddenSize),
		"learning_rate":   m.params.LearningRate,
	}
}

func (m *LSTM) SaveModel(path string) error {
	return saveSnapshot(path, LSTMType, m.state())
}

func (m *LSTM) LoadModel(path string) error {
	var st lstmState
	if err := loadSnapshot(path, LSTMType, &st); err != nil {
		return err
	}
	return m.restore(st)
}

func (m *LSTM) state() lstmState {
	return lstmState{
		Params:      m.params,
		Variant:     m.variant,
		FeatureCfg:  m.featureCfg,
		Cells:       m.cells,
		OutputW:     m.outW,
		OutputB:     m.outB,
		Scaler:      m.scaler,
		Encoder:     m.encoder,
		LossHistory: m.lossHistory,
		Trained:     m.trained,
	}
}

func (m *LSTM) restore(st lstmState) error {
	if st.Trained && (st.Encoder == nil || len(st.OutputW) != len(st.Encoder.Classes)) {
		return lottery.AlgorithmError("corrupt LSTM state: output layer does not match target encoder")
	}
	*m = LSTM{
		params:      st.Params,
		variant:     st.Variant,
		featureCfg:  st.FeatureCfg,
		cells:       st.Cells,
		outW:        st.OutputW,
		outB:        st.OutputB,
		scaler:      st.Scaler,
		encoder:     st.Encoder,
		lossHistory: st.LossHistory,
		trained:     st.Trained,
	}
	return nil
}

func (m *LSTM) Clone() PredictionAlgorithm {
	cells := make([]lstmCell, len(m.cells))
	for i, c := range m.cells {
		cells[i] = c.clone()
	}
	var enc *targetEncoder
	if m.encoder != nil {
		enc = &targetEncoder{Classes: cloneInts(m.encoder.Classes)}
	}
	return &LSTM{
		params:      m.params,
		variant:     m.variant,
		featureCfg:  m.featureCfg,
		cells:       cells,
		outW:        m.outW.clone(),
		outB:        cloneVec(m.outB),
		scaler:      m.scaler.clone(),
		encoder:     enc,
		lossHistory: cloneVec(m.lossHistory),
		trained:     m.trained,
	}
}
