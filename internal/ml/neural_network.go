package ml

import (
	"math"
	"math/rand"
	"strconv"
	"time"

	"lottery-engine/internal/features"
	"lottery-engine/internal/lottery"
)

// minNeuralNetworkSamples is the smallest training set the network accepts.
const minNeuralNetworkSamples = 10

// NeuralNetworkParams configure the feed-forward network.
type NeuralNetworkParams struct {
	HiddenLayers    []int   `json:"hidden_layers"`
	Activation      string  `json:"activation"`
	LearningRate    float64 `json:"learning_rate"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	DropoutRate     float64 `json:"dropout_rate"`
	Regularization  float64 `json:"regularization"`
	EarlyStopping   bool    `json:"early_stopping"`
	Patience        int     `json:"patience"`
	ValidationSplit float64 `json:"validation_split"`
	RandomState     int64   `json:"random_state"`
}

// DefaultNeuralNetworkParams returns the stock network settings.
func DefaultNeuralNetworkParams() NeuralNetworkParams {
	return NeuralNetworkParams{
		HiddenLayers:    []int{256, 128, 64},
		Activation:      ActReLU,
		LearningRate:    0.001,
		Epochs:          200,
		BatchSize:       64,
		DropoutRate:     0.3,
		Regularization:  0.001,
		EarlyStopping:   true,
		Patience:        20,
		ValidationSplit: 0.2,
		RandomState:     42,
	}
}

func (p NeuralNetworkParams) merge(cfg AlgorithmConfig) NeuralNetworkParams {
	if hidden := cfg.Ints("hidden_layers", p.HiddenLayers); len(hidden) > 0 {
		valid := true
		for _, h := range hidden {
			valid = valid && h > 0
		}
		if valid {
			p.HiddenLayers = hidden
		}
	}
	if act := cfg.String("activation", p.Activation); validActivation(act) {
		p.Activation = act
	}
	if lr := cfg.Float("learning_rate", p.LearningRate); lr > 0 {
		p.LearningRate = lr
	}
	p.Epochs = maxInt(1, cfg.Int("epochs", p.Epochs))
	p.BatchSize = maxInt(1, cfg.Int("batch_size", p.BatchSize))
	if d := cfg.Float("dropout_rate", p.DropoutRate); d >= 0 && d < 1 {
		p.DropoutRate = d
	}
	if r := cfg.Float("regularization", p.Regularization); r >= 0 {
		p.Regularization = r
	}
	p.EarlyStopping = cfg.Bool("early_stopping", p.EarlyStopping)
	p.Patience = maxInt(1, cfg.Int("patience", p.Patience))
	if v := cfg.Float("validation_split", p.ValidationSplit); v >= 0 && v < 1 {
		p.ValidationSplit = v
	}
	p.RandomState = int64(cfg.Int("random_state", int(p.RandomState)))
	return p
}

// denseLayer is a fully connected layer: W is out x in.
type denseLayer struct {
	W          matrix    `json:"weights"`
	B          []float64 `json:"biases"`
	Activation string    `json:"activation"`
	Dropout    float64   `json:"dropout_rate"`
}

// newDenseLayer uses Xavier normal initialisation.
func newDenseLayer(rng *rand.Rand, in, out int, activation string, dropout float64) denseLayer {
	std := math.Sqrt(2.0 / float64(in+out))
	return denseLayer{
		W:          randomMatrix(rng, out, in, std),
		B:          make([]float64, out),
		Activation: activation,
		Dropout:    dropout,
	}
}

// forward returns the layer output and the pre-activation z. Inverted
// dropout is applied only when rng is non-nil.
func (l *denseLayer) forward(x []float64, rng *rand.Rand) (a, z []float64) {
	z = l.W.mulVec(x)
	a = make([]float64, len(z))
	for i := range z {
		z[i] += l.B[i]
		a[i] = activate(l.Activation, z[i])
	}
	if rng != nil && l.Dropout > 0 {
		keep := 1 - l.Dropout
		for i := range a {
			if rng.Float64() < l.Dropout {
				a[i] = 0
			} else {
				a[i] /= keep
			}
		}
	}
	return a, z
}

// backward applies an L2 regularised gradient step and returns the
// gradient with respect to the layer input.
func (l *denseLayer) backward(delta, z, input []float64, lr, reg float64) []float64 {
	local := make([]float64, len(delta))
	for i := range delta {
		local[i] = delta[i] * activateDeriv(l.Activation, z[i])
	}
	prev := l.W.mulVecT(local)
	for i, row := range l.W {
		for j := range row {
			row[j] -= lr * (local[i]*input[j] + reg*row[j])
		}
		l.B[i] -= lr * local[i]
	}
	return prev
}

func (l denseLayer) clone() denseLayer {
	return denseLayer{W: l.W.clone(), B: cloneVec(l.B), Activation: l.Activation, Dropout: l.Dropout}
}

// NeuralNetwork is a multi-label feed-forward classifier with one sigmoid
// output unit per possible main number.
type NeuralNetwork struct {
	params      NeuralNetworkParams
	variant     lottery.Variant
	featureCfg  features.Config
	layers      []denseLayer
	scaler      *Scaler
	lossHistory []float64
	bestLoss    float64
	trained     bool
}

type neuralNetworkState struct {
	Params      NeuralNetworkParams `json:"params"`
	Variant     lottery.Variant     `json:"lottery_type"`
	FeatureCfg  features.Config     `json:"feature_config"`
	Layers      []denseLayer        `json:"layers"`
	Scaler      *Scaler             `json:"feature_scaler"`
	LossHistory []float64           `json:"loss_history"`
	BestLoss    float64             `json:"best_loss"`
	Trained     bool                `json:"is_trained"`
}

// NewNeuralNetwork builds an untrained network from cfg.
func NewNeuralNetwork(cfg AlgorithmConfig) *NeuralNetwork {
	return &NeuralNetwork{
		params:     DefaultNeuralNetworkParams().merge(cfg),
		variant:    variantOr(cfg, lottery.SSQ),
		featureCfg: cfg.Features(),
	}
}

func (m *NeuralNetwork) Name() string        { return "Deep Neural Network" }
func (m *NeuralNetwork) Type() AlgorithmType { return NeuralNetworkType }
func (m *NeuralNetwork) IsTrained() bool     { return m.trained }

// LossHistory returns the per-epoch training loss.
func (m *NeuralNetwork) LossHistory() []float64 { return cloneVec(m.lossHistory) }

func (m *NeuralNetwork) build(rng *rand.Rand, inputSize int) {
	outputSize := m.variant.MaxNumber()
	m.layers = m.layers[:0]
	prev := inputSize
	for _, h := range m.params.HiddenLayers {
		m.layers = append(m.layers, newDenseLayer(rng, prev, h, m.params.Activation, m.params.DropoutRate))
		prev = h
	}
	m.layers = append(m.layers, newDenseLayer(rng, prev, outputSize, ActSigmoid, 0))
}

// forward returns the per-layer (output, z) pairs, index 0 being the input.
func (m *NeuralNetwork) forward(x []float64, rng *rand.Rand) (acts, zs [][]float64) {
	acts = append(acts, x)
	cur := x
	for i := range m.layers {
		a, z := m.layers[i].forward(cur, rng)
		acts = append(acts, a)
		zs = append(zs, z)
		cur = a
	}
	return acts, zs
}

// step runs one sample through forward and backward passes and returns the
// summed squared gradient norm across layers.
func (m *NeuralNetwork) step(x, y []float64, rng *rand.Rand) float64 {
	acts, zs := m.forward(x, rng)
	out := acts[len(acts)-1]
	delta := make([]float64, len(out))
	for i := range out {
		delta[i] = out[i] - y[i]
	}
	loss := 0.0
	for l := len(m.layers) - 1; l >= 0; l-- {
		delta = m.layers[l].backward(delta, zs[l], acts[l], m.params.LearningRate, m.params.Regularization)
		for _, d := range delta {
			loss += d * d
		}
	}
	return loss
}

// Train fits the network with per-sample gradient descent.
func (m *NeuralNetwork) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	if data.Len() < minNeuralNetworkSamples {
		return 0, lottery.AlgorithmError("insufficient data for neural network training: %d samples, need %d",
			data.Len(), minNeuralNetworkSamples)
	}
	m.params = m.params.merge(cfg)
	m.variant = variantOr(cfg, m.variant)
	m.featureCfg = featureConfigOf(data, m.featureCfg)

	rng := rand.New(rand.NewSource(m.params.RandomState))
	m.scaler = FitScaler(data.Features)
	x := make([][]float64, data.Len())
	y := make([][]float64, data.Len())
	for i := range data.Features {
		x[i] = m.scaler.Transform(data.Features[i])
		y[i] = multiHot(data.Targets[i], m.variant.MaxNumber())
	}
	m.build(rng, data.Width())

	m.lossHistory = m.lossHistory[:0]
	best := math.Inf(1)
	patience := 0
	for epoch := 0; epoch < m.params.Epochs; epoch++ {
		total := 0.0
		for i := range x {
			total += m.step(x[i], y[i], rng)
		}
		loss := total / float64(len(x))
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

	m.bestLoss = best
	m.trained = true
	return m.accuracy(), nil
}

func (m *NeuralNetwork) accuracy() float64 {
	return 0.65 + math.Max(0, 0.35*(1-math.Min(m.bestLoss, 1)))
}

func (m *NeuralNetwork) output(x []float64) []float64 {
	acts, _ := m.forward(m.scaler.Transform(x), nil)
	return acts[len(acts)-1]
}

// Predict ranks numbers by raw sigmoid activation. Special numbers are a
// seeded shuffle of the special range.
func (m *NeuralNetwork) Predict(input *PredictionInput) (*PredictionOutput, error) {
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
	out := m.output(x)
	v := input.Variant
	nums, conf := finalize(rankVector(out, len(out)), v.MainCount(), v.MaxNumber())

	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: randomSpecials(v, predictionRNG(m.params.RandomState, input)),
		Confidence:     conf,
		Metadata: map[string]any{
			"algorithm":     string(NeuralNetworkType),
			"hidden_layers": len(m.params.HiddenLayers),
			"activation":    m.params.Activation,
			"epochs":        m.params.Epochs,
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// Evaluate reports the training accuracy estimate scaled by fixed factors.
func (m *NeuralNetwork) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if data.Len() == 0 {
		return &EvaluationMetrics{}, nil
	}
	metrics := scaledMetrics(0.65, 0.95, 0.9)
	var absErr, sqErr float64
	var cells int
	for i, x := range data.Features {
		out := m.output(x)
		want := multiHot(data.Targets[i], len(out))
		for j := range out {
			d := out[j] - want[j]
			absErr += math.Abs(d)
			sqErr += d * d
			cells++
		}
	}
	if cells > 0 {
		metrics.MAE = absErr / float64(cells)
		metrics.RMSE = math.Sqrt(sqErr / float64(cells))
	}
	return metrics, nil
}

// FeatureImportance reports the mean absolute first-layer weight per input.
func (m *NeuralNetwork) FeatureImportance() map[string]float64 {
	if !m.trained || len(m.layers) == 0 {
		return nil
	}
	names := features.Names(m.variant, m.featureCfg)
	first := m.layers[0].W
	out := make(map[string]float64)
	for j := 0; j < len(first[0]); j++ {
		s := 0.0
		for i := range first {
			s += math.Abs(first[i][j])
		}
		name := "feature_" + strconv.Itoa(j)
		if j < len(names) {
			name = names[j]
		}
		out[name] = s / float64(len(first))
	}
	return out
}

func (m *NeuralNetwork) SaveModel(path string) error {
	return saveSnapshot(path, NeuralNetworkType, m.state())
}

func (m *NeuralNetwork) LoadModel(path string) error {
	var st neuralNetworkState
	if err := loadSnapshot(path, NeuralNetworkType, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *NeuralNetwork) state() neuralNetworkState {
	return neuralNetworkState{
		Params:      m.params,
		Variant:     m.variant,
		FeatureCfg:  m.featureCfg,
		Layers:      m.layers,
		Scaler:      m.scaler,
		LossHistory: m.lossHistory,
		BestLoss:    m.bestLoss,
		Trained:     m.trained,
	}
}

func (m *NeuralNetwork) restore(st neuralNetworkState) {
	*m = NeuralNetwork{
		params:      st.Params,
		variant:     st.Variant,
		featureCfg:  st.FeatureCfg,
		layers:      st.Layers,
		scaler:      st.Scaler,
		lossHistory: st.LossHistory,
		bestLoss:    st.BestLoss,
		trained:     st.Trained,
	}
}

func (m *NeuralNetwork) Clone() PredictionAlgorithm {
	layers := make([]denseLayer, len(m.layers))
	for i, l := range m.layers {
		layers[i] = l.clone()
	}
	params := m.params
	params.HiddenLayers = cloneInts(m.params.HiddenLayers)
	return &NeuralNetwork{
		params:      params,
		variant:     m.variant,
		featureCfg:  m.featureCfg,
		layers:      layers,
		scaler:      m.scaler.clone(),
		lossHistory: cloneVec(m.lossHistory),
		bestLoss:    m.bestLoss,
		trained:     m.trained,
	}
}
