package ml

import (
	"math"
	"time"

	"lottery-engine/internal/lottery"
)

// minARIMASamples is the smallest number of drawings the model fits.
const minARIMASamples = 50

// minSigma2 keeps the information criteria finite for a perfect fit.
const minSigma2 = 1e-12

// ARIMAParams configure the seasonal ARIMA(p,d,q)(P,D,Q)s model.
type ARIMAParams struct {
	P               int     `json:"p"`
	D               int     `json:"d"`
	Q               int     `json:"q"`
	SeasonalP       int     `json:"seasonal_p"`
	SeasonalD       int     `json:"seasonal_d"`
	SeasonalQ       int     `json:"seasonal_q"`
	SeasonalPeriod  int     `json:"seasonal_period"`
	ForecastHorizon int     `json:"forecast_horizon"`
	ConfidenceLevel float64 `json:"confidence_level"`
	MaxIterations   int     `json:"max_iterations"`
	Tolerance       float64 `json:"tolerance"`
	RandomState     int64   `json:"random_state"`
}

// DefaultARIMAParams returns the stock time-series settings.
func DefaultARIMAParams() ARIMAParams {
	return ARIMAParams{
		P:               2,
		D:               1,
		Q:               1,
		SeasonalP:       1,
		SeasonalD:       0,
		SeasonalQ:       1,
		SeasonalPeriod:  7,
		ForecastHorizon: 1,
		ConfidenceLevel: 0.95,
		MaxIterations:   1000,
		Tolerance:       1e-6,
		RandomState:     42,
	}
}

func (p ARIMAParams) merge(cfg AlgorithmConfig) ARIMAParams {
	p.P = maxInt(0, cfg.Int("p", p.P))
	p.D = maxInt(0, cfg.Int("d", p.D))
	p.Q = maxInt(0, cfg.Int("q", p.Q))
	p.SeasonalP = maxInt(0, cfg.Int("seasonal_p", p.SeasonalP))
	p.SeasonalD = maxInt(0, cfg.Int("seasonal_d", p.SeasonalD))
	p.SeasonalQ = maxInt(0, cfg.Int("seasonal_q", p.SeasonalQ))
	p.SeasonalPeriod = maxInt(1, cfg.Int("seasonal_period", p.SeasonalPeriod))
	p.ForecastHorizon = maxInt(1, cfg.Int("forecast_horizon", p.ForecastHorizon))
	if c := cfg.Float("confidence_level", p.ConfidenceLevel); c > 0 && c < 1 {
		p.ConfidenceLevel = c
	}
	p.MaxIterations = maxInt(1, cfg.Int("max_iterations", p.MaxIterations))
	if t := cfg.Float("tolerance", p.Tolerance); t > 0 {
		p.Tolerance = t
	}
	p.RandomState = int64(cfg.Int("random_state", int(p.RandomState)))
	return p
}

// ARIMA models the per-draw sum of winning numbers. The forecast anchors a
// neighbourhood of candidate numbers rather than picking numbers directly.
type ARIMA struct {
	params    ARIMAParams
	variant   lottery.Variant
	ar        []float64
	ma        []float64
	seasonAR  []float64
	seasonMA  []float64
	intercept float64
	sigma2    float64
	fitted    []float64
	residuals []float64
	aic       float64
	bic       float64
	accuracy  float64
	trained   bool
}

type arimaState struct {
	Params    ARIMAParams     `json:"params"`
	Variant   lottery.Variant `json:"lottery_type"`
	AR        []float64       `json:"ar_coefficients"`
	MA        []float64       `json:"ma_coefficients"`
	SeasonAR  []float64       `json:"seasonal_ar_coefficients"`
	SeasonMA  []float64       `json:"seasonal_ma_coefficients"`
	Intercept float64         `json:"intercept"`
	Sigma2    float64         `json:"sigma_squared"`
	Fitted    []float64       `json:"fitted_values"`
	Residuals []float64       `json:"residuals"`
	AIC       float64         `json:"aic"`
	BIC       float64         `json:"bic"`
	Accuracy  float64         `json:"accuracy"`
	Trained   bool            `json:"is_trained"`
}

// ARIMADiagnostics exposes the fit statistics kept after training.
type ARIMADiagnostics struct {
	AR        []float64 `json:"ar_coefficients"`
	MA        []float64 `json:"ma_coefficients"`
	Intercept float64   `json:"intercept"`
	Sigma2    float64   `json:"sigma_squared"`
	AIC       float64   `json:"aic"`
	BIC       float64   `json:"bic"`
	Fitted    []float64 `json:"fitted_values"`
	Residuals []float64 `json:"residuals"`
}

// NewARIMA builds an untrained time-series model from cfg.
func NewARIMA(cfg AlgorithmConfig) *ARIMA {
	return &ARIMA{
		params:  DefaultARIMAParams().merge(cfg),
		variant: variantOr(cfg, lottery.SSQ),
		sigma2:  1,
	}
}

func (m *ARIMA) Name() string        { return "ARIMA Time Series" }
func (m *ARIMA) Type() AlgorithmType { return ARIMAType }
func (m *ARIMA) IsTrained() bool     { return m.trained }

// Diagnostics returns a copy of the fit statistics.
func (m *ARIMA) Diagnostics() ARIMADiagnostics {
	return ARIMADiagnostics{
		AR:        cloneVec(m.ar),
		MA:        cloneVec(m.ma),
		Intercept: m.intercept,
		Sigma2:    m.sigma2,
		AIC:       m.aic,
		BIC:       m.bic,
		Fitted:    cloneVec(m.fitted),
		Residuals: cloneVec(m.residuals),
	}
}

// sumSeries turns draws into the per-draw sum of main numbers.
func sumSeries(targets [][]int) []float64 {
	out := make([]float64, len(targets))
	for i, t := range targets {
		for _, n := range t {
			out[i] += float64(n)
		}
	}
	return out
}

// Difference applies order rounds of first differencing. A series too short
// to difference collapses to [0].
func Difference(series []float64, order int) []float64 {
	out := cloneVec(series)
	for k := 0; k < order; k++ {
		if len(out) <= 1 {
			return []float64{0}
		}
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

// SeasonalDifference applies order rounds of lag-period differencing.
func SeasonalDifference(series []float64, period, order int) []float64 {
	out := cloneVec(series)
	for k := 0; k < order; k++ {
		if len(out) <= period {
			return []float64{0}
		}
		next := make([]float64, len(out)-period)
		for i := period; i < len(out); i++ {
			next[i-period] = out[i] - out[i-period]
		}
		out = next
	}
	return out
}

// InverseDifference undoes order rounds of differencing of original.
// differenced must be the tail of Difference(original, order), and the
// result is the matching tail of original.
func InverseDifference(original, differenced []float64, order int) []float64 {
	levels := make([][]float64, order)
	cur := original
	for k := 0; k < order; k++ {
		levels[k] = cur
		cur = Difference(cur, 1)
	}
	out := cloneVec(differenced)
	for k := order - 1; k >= 0; k-- {
		level := levels[k]
		idx := len(level) - len(out) - 1
		if idx < 0 {
			return out
		}
		restored := make([]float64, len(out))
		prev := level[idx]
		for i, d := range out {
			prev += d
			restored[i] = prev
		}
		out = restored
	}
	return out
}

// integrate extends the undifferenced series with forecasts made on the
// processed scale, undoing seasonal then regular differencing.
func (m *ARIMA) integrate(series, forecasts []float64) []float64 {
	levels := make([][]float64, 0, m.params.D+m.params.SeasonalD)
	lags := make([]int, 0, cap(levels))
	cur := series
	for k := 0; k < m.params.D; k++ {
		levels = append(levels, cur)
		lags = append(lags, 1)
		cur = Difference(cur, 1)
	}
	for k := 0; k < m.params.SeasonalD; k++ {
		levels = append(levels, cur)
		lags = append(lags, m.params.SeasonalPeriod)
		cur = SeasonalDifference(cur, m.params.SeasonalPeriod, 1)
	}

	out := cloneVec(forecasts)
	for k := len(levels) - 1; k >= 0; k-- {
		ext := cloneVec(levels[k])
		lag := lags[k]
		restored := make([]float64, len(out))
		for i, f := range out {
			base := 0.0
			if j := len(ext) - lag; j >= 0 {
				base = ext[j]
			}
			restored[i] = f + base
			ext = append(ext, restored[i])
		}
		out = restored
	}
	return out
}

func (m *ARIMA) preprocess(series []float64) []float64 {
	out := series
	if m.params.D > 0 {
		out = Difference(out, m.params.D)
	}
	if m.params.SeasonalD > 0 {
		out = SeasonalDifference(out, m.params.SeasonalPeriod, m.params.SeasonalD)
	}
	return out
}

// ACF returns the sample autocorrelation for lags 0..maxLag.
func ACF(series []float64, maxLag int) []float64 {
	n := len(series)
	out := make([]float64, maxLag+1)
	if n == 0 {
		return out
	}
	mean := meanOf(series)
	variance := 0.0
	for _, x := range series {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(n)
	if variance == 0 {
		out[0] = 1
		return out
	}
	for lag := 0; lag <= maxLag && lag < n; lag++ {
		cov := 0.0
		for i := 0; i < n-lag; i++ {
			cov += (series[i] - mean) * (series[i+lag] - mean)
		}
		out[lag] = cov / float64(n) / variance
	}
	return out
}

// PACF returns partial autocorrelations for lags 1..maxLag using the
// Durbin-Levinson recursion over the sample ACF.
func PACF(series []float64, maxLag int) []float64 {
	rho := ACF(series, maxLag)
	out := make([]float64, maxLag)
	phi := make([]float64, maxLag+1)
	for k := 1; k <= maxLag; k++ {
		num := rho[k]
		den := 1.0
		for j := 1; j < k; j++ {
			num -= phi[j] * rho[k-j]
			den -= phi[j] * rho[j]
		}
		if math.Abs(den) < 1e-10 {
			break
		}
		pkk := num / den
		next := cloneVec(phi)
		for j := 1; j < k; j++ {
			next[j] = phi[j] - pkk*phi[k-j]
		}
		next[k] = pkk
		phi = next
		out[k-1] = pkk
	}
	return out
}

// estimateAR solves the lagged least-squares system. A singular design
// yields zero coefficients.
func estimateAR(series []float64, p int) []float64 {
	coef := make([]float64, p)
	n := len(series)
	if p == 0 || n <= p {
		return coef
	}
	xtx := newMatrix(p, p)
	xty := make([]float64, p)
	for i := p; i < n; i++ {
		for a := 0; a < p; a++ {
			xa := series[i-1-a]
			xty[a] += xa * series[i]
			for b := 0; b < p; b++ {
				xtx[a][b] += xa * series[i-1-b]
			}
		}
	}
	inv, ok := invert(xtx)
	if !ok {
		return coef
	}
	return inv.mulVec(xty)
}

// estimateMA runs the innovations recursion on the residual ACF.
func estimateMA(residuals []float64, q int) []float64 {
	coef := make([]float64, q)
	if q == 0 || len(residuals) <= q {
		return coef
	}
	acf := ACF(residuals, q)
	psi := make([]float64, q+1)
	v := []float64{acf[0]}
	for k := 1; k <= q; k++ {
		psi[k] = acf[k]
		for j := 1; j < k; j++ {
			psi[k] -= psi[j] * v[k-j] * psi[k-j]
		}
		psi[k] /= v[0]
		nv := acf[0]
		for j := 1; j <= k; j++ {
			nv -= psi[j] * psi[j] * v[k-j]
		}
		v = append(v, nv)
	}
	copy(coef, psi[1:])
	return coef
}

// filter runs the fitted ARMA recursion over a processed series and
// returns one-step fitted values and residuals.
func (m *ARIMA) filter(series []float64) (fitted, residuals []float64) {
	fitted = make([]float64, len(series))
	residuals = make([]float64, len(series))
	for i := range series {
		v := m.intercept
		for j, c := range m.ar {
			if i > j {
				v += c * series[i-1-j]
			}
		}
		for j, c := range m.ma {
			if i > j {
				v += c * residuals[i-1-j]
			}
		}
		fitted[i] = v
		residuals[i] = series[i] - v
	}
	return fitted, residuals
}

// scoreResiduals is 1 - sum|residual| / sum(actual) over the tail of actual
// aligned with residuals.
func scoreResiduals(actual, residuals []float64) float64 {
	off := len(actual) - len(residuals)
	if off < 0 {
		return 0
	}
	var absErr, total float64
	for i, r := range residuals {
		absErr += math.Abs(r)
		total += actual[off+i]
	}
	if total <= 0 {
		return 0
	}
	return 1 - absErr/total
}

func (m *ARIMA) fit(series []float64) (float64, error) {
	processed := m.preprocess(series)
	if need := m.params.P + m.params.Q + 10; len(processed) < need {
		return 0, lottery.AlgorithmError("insufficient data for ARIMA model: processed series has %d points, need %d",
			len(processed), need)
	}

	m.ar = estimateAR(processed, m.params.P)
	arResid := make([]float64, len(processed))
	for i := range processed {
		v := 0.0
		for j, c := range m.ar {
			if i > j {
				v += c * processed[i-1-j]
			}
		}
		arResid[i] = processed[i] - v
	}
	m.ma = estimateMA(arResid, m.params.Q)
	m.seasonAR = make([]float64, m.params.SeasonalP)
	m.seasonMA = make([]float64, m.params.SeasonalQ)
	m.intercept = meanOf(processed)

	var fittedProcessed []float64
	fittedProcessed, m.residuals = m.filter(processed)
	s2 := 0.0
	for _, r := range m.residuals {
		s2 += r * r
	}
	m.sigma2 = math.Max(s2/float64(len(m.residuals)), minSigma2)

	n := float64(len(series))
	k := float64(m.params.P + m.params.Q + m.params.SeasonalP + m.params.SeasonalQ)
	m.aic = n*math.Log(m.sigma2) + 2*k
	m.bic = n*math.Log(m.sigma2) + k*math.Log(n)

	// One-step fitted values on the original scale are actual minus the
	// processed-scale residual.
	off := len(series) - len(fittedProcessed)
	m.fitted = make([]float64, len(fittedProcessed))
	for i := range fittedProcessed {
		m.fitted[i] = series[off+i] - m.residuals[i]
	}
	return scoreResiduals(series, m.residuals), nil
}

// forecast extends the processed series with the AR recursion and maps the
// result back to the original scale.
func (m *ARIMA) forecast(series []float64, steps int) []float64 {
	processed := cloneVec(m.preprocess(series))
	out := make([]float64, steps)
	for s := 0; s < steps; s++ {
		f := m.intercept
		for j, c := range m.ar {
			if idx := len(processed) - 1 - j; idx >= 0 {
				f += c * processed[idx]
			}
		}
		out[s] = f
		processed = append(processed, f)
	}
	if m.params.D > 0 || m.params.SeasonalD > 0 {
		out = m.integrate(series, out)
	}
	return out
}

// Train fits the model to the sums of the target drawings.
func (m *ARIMA) Train(data *TrainingData, cfg AlgorithmConfig) (float64, error) {
	if err := checkTrainingData(data); err != nil {
		return 0, err
	}
	if data.Len() < minARIMASamples {
		return 0, lottery.AlgorithmError("insufficient data for ARIMA training: %d samples, need %d",
			data.Len(), minARIMASamples)
	}
	m.params = m.params.merge(cfg)
	m.variant = variantOr(cfg, m.variant)

	acc, err := m.fit(sumSeries(data.Targets))
	if err != nil {
		return 0, err
	}
	m.accuracy = acc
	m.trained = true
	return acc, nil
}

// Predict forecasts the next draw sum and samples numbers from the ±10
// neighbourhood of the forecast.
func (m *ARIMA) Predict(input *PredictionInput) (*PredictionOutput, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if err := checkInput(input); err != nil {
		return nil, err
	}
	if len(input.History) == 0 {
		return nil, lottery.InvalidParameter("no historical drawings provided")
	}
	start := time.Now()

	targets := make([][]int, len(input.History))
	for i, d := range input.History {
		targets[i] = d.Numbers
	}
	fc := m.forecast(sumSeries(targets), m.params.ForecastHorizon)

	v := input.Variant
	rng := predictionRNG(m.params.RandomState, input)
	base := clampInt(int(math.Round(fc[0])), 1, v.MaxNumber())
	lo := maxInt(1, base-10)
	hi := minInt(v.MaxNumber(), base+10)
	window := make([]scored, 0, hi-lo+1)
	for _, i := range rng.Perm(hi - lo + 1) {
		window = append(window, scored{Number: lo + i, Score: 0.6})
	}
	nums, conf := finalize(window, v.MainCount(), v.MaxNumber())

	return &PredictionOutput{
		Numbers:        nums,
		SpecialNumbers: randomSpecials(v, rng),
		Confidence:     conf,
		Metadata: map[string]any{
			"algorithm": string(ARIMAType),
			"p":         m.params.P,
			"d":         m.params.D,
			"q":         m.params.Q,
			"aic":       m.aic,
			"bic":       m.bic,
			"forecast":  fc[0],
		},
		ComputationTimeMs: elapsedMs(start),
	}, nil
}

// Evaluate scores the fitted recursion on the sums of the test targets.
func (m *ARIMA) Evaluate(data *TrainingData) (*EvaluationMetrics, error) {
	if !m.trained {
		return nil, notTrained(m.Name())
	}
	if data.Len() == 0 {
		return &EvaluationMetrics{}, nil
	}
	series := sumSeries(data.Targets)
	_, resid := m.filter(m.preprocess(series))
	metrics := scaledMetrics(scoreResiduals(series, resid), 0.9, 0.95)
	if len(resid) > 0 {
		var absErr, sqErr float64
		for _, r := range resid {
			absErr += math.Abs(r)
			sqErr += r * r
		}
		metrics.MAE = absErr / float64(len(resid))
		metrics.RMSE = math.Sqrt(sqErr / float64(len(resid)))
	}
	return metrics, nil
}

func (m *ARIMA) FeatureImportance() map[string]float64 {
	return map[string]float64{
		"ar_order":           float64(m.params.P),
		"differencing_order": float64(m.params.D),
		"ma_order":           float64(m.params.Q),
		"aic":                m.aic,
		"bic":                m.bic,
	}
}

func (m *ARIMA) state() arimaState {
	return arimaState{
		Params:    m.params,
		Variant:   m.variant,
		AR:        m.ar,
		MA:        m.ma,
		SeasonAR:  m.seasonAR,
		SeasonMA:  m.seasonMA,
		Intercept: m.intercept,
		Sigma2:    m.sigma2,
		Fitted:    m.fitted,
		Residuals: m.residuals,
		AIC:       m.aic,
		BIC:       m.bic,
		Accuracy:  m.accuracy,
		Trained:   m.trained,
	}
}

func (m *ARIMA) restore(st arimaState) {
	*m = ARIMA{
		params:    st.Params,
		variant:   st.Variant,
		ar:        st.AR,
		ma:        st.MA,
		seasonAR:  st.SeasonAR,
		seasonMA:  st.SeasonMA,
		intercept: st.Intercept,
		sigma2:    st.Sigma2,
		fitted:    st.Fitted,
		residuals: st.Residuals,
		aic:       st.AIC,
		bic:       st.BIC,
		accuracy:  st.Accuracy,
		trained:   st.Trained,
	}
}

func (m *ARIMA) SaveModel(path string) error {
	return saveSnapshot(path, ARIMAType, m.state())
}

func (m *ARIMA) LoadModel(path string) error {
	var st arimaState
	if err := loadSnapshot(path, ARIMAType, &st); err != nil {
		return err
	}
	m.restore(st)
	return nil
}

func (m *ARIMA) Clone() PredictionAlgorithm {
	st := m.state()
	st.AR = cloneVec(st.AR)
	st.MA = cloneVec(st.MA)
	st.SeasonAR = cloneVec(st.SeasonAR)
	st.SeasonMA = cloneVec(st.SeasonMA)
	st.Fitted = cloneVec(st.Fitted)
	st.Residuals = cloneVec(st.Residuals)
	out := &ARIMA{}
	out.restore(st)
	return out
}
