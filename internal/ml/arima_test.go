package ml

import (
	"math"
	"math/rand"
	"testing"

	"lottery-engine/internal/lottery"
)

func TestDifferenceRoundTrip(t *testing.T) {
	x := []float64{3, 7, 2, 9, 14, 5, 8, 11, 6, 10, 4, 12}
	for d := 1; d <= 3; d++ {
		diff := Difference(x, d)
		if len(diff) != len(x)-d {
			t.Fatalf("d=%d: expected %d points, got %d", d, len(x)-d, len(diff))
		}
		got := InverseDifference(x, diff, d)
		want := x[len(x)-len(got):]
		if len(got) != len(diff) {
			t.Fatalf("d=%d: expected %d restored points, got %d", d, len(diff), len(got))
		}
		for i := range got {
			if math.Abs(got[i]-want[i]) > 1e-9 {
				t.Errorf("d=%d: point %d restored to %.6f, want %.6f", d, i, got[i], want[i])
			}
		}

		tail := diff[len(diff)-3:]
		got = InverseDifference(x, tail, d)
		for i, v := range got {
			if want := x[len(x)-3+i]; math.Abs(v-want) > 1e-9 {
				t.Errorf("d=%d tail: point %d restored to %.6f, want %.6f", d, i, v, want)
			}
		}
	}
}

func TestDifferenceShortSeries(t *testing.T) {
	if got := Difference([]float64{5}, 1); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected [0] for a single point, got %v", got)
	}
	if got := Difference([]float64{1, 4}, 0); len(got) != 2 {
		t.Errorf("order 0 must return the series unchanged, got %v", got)
	}
	if got := SeasonalDifference([]float64{1, 2, 3}, 7, 1); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected [0] for a series shorter than the period, got %v", got)
	}
	got := SeasonalDifference([]float64{1, 2, 3, 5, 8}, 2, 1)
	want := []float64{2, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SeasonalDifference = %v, want %v", got, want)
		}
	}
}

func TestACFAndPACF(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	series := make([]float64, 600)
	for i := 1; i < len(series); i++ {
		series[i] = 0.7*series[i-1] + rng.NormFloat64()
	}

	acf := ACF(series, 5)
	if math.Abs(acf[0]-1) > 1e-9 {
		t.Errorf("ACF at lag 0 should be 1, got %.4f", acf[0])
	}
	if acf[1] < 0.55 || acf[1] > 0.85 {
		t.Errorf("ACF at lag 1 should be near 0.7, got %.4f", acf[1])
	}

	pacf := PACF(series, 3)
	if math.Abs(pacf[0]-acf[1]) > 1e-9 {
		t.Errorf("PACF at lag 1 must equal ACF at lag 1: %.4f vs %.4f", pacf[0], acf[1])
	}
	if math.Abs(pacf[1]) > 0.15 {
		t.Errorf("PACF at lag 2 of an AR(1) should be near 0, got %.4f", pacf[1])
	}

	if got := ACF([]float64{2, 2, 2}, 2); got[0] != 1 || got[1] != 0 {
		t.Errorf("constant series ACF = %v", got)
	}

	coef := estimateAR(series, 1)
	if math.Abs(coef[0]-0.7) > 0.1 {
		t.Errorf("AR(1) coefficient estimated as %.4f, want about 0.7", coef[0])
	}
}

func TestARIMADiagnostics(t *testing.T) {
	data, draws := syntheticData(t, lottery.SSQ, 120)
	m := NewARIMA(NewAlgorithmConfig(lottery.SSQ))
	acc, err := m.Train(data, NewAlgorithmConfig(lottery.SSQ))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if acc <= 0 || acc > 1 {
		t.Errorf("accuracy %.3f outside (0, 1]", acc)
	}

	diag := m.Diagnostics()
	if len(diag.AR) != m.params.P || len(diag.MA) != m.params.Q {
		t.Errorf("expected %d AR and %d MA terms, got %d and %d", m.params.P, m.params.Q, len(diag.AR), len(diag.MA))
	}
	if diag.Sigma2 <= 0 {
		t.Errorf("sigma² must be positive, got %g", diag.Sigma2)
	}
	if math.IsInf(diag.AIC, 0) || math.IsNaN(diag.AIC) || math.IsInf(diag.BIC, 0) {
		t.Errorf("information criteria must be finite: aic=%g bic=%g", diag.AIC, diag.BIC)
	}
	if len(diag.Fitted) != len(diag.Residuals) {
		t.Errorf("fitted and residual lengths differ: %d vs %d", len(diag.Fitted), len(diag.Residuals))
	}

	out, err := m.Predict(predictionInput(lottery.SSQ, draws))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	fc, ok := out.Metadata["forecast"].(float64)
	if !ok {
		t.Fatalf("expected a float forecast in metadata, got %v", out.Metadata["forecast"])
	}
	base := clampInt(int(math.Round(fc)), 1, lottery.SSQ.MaxNumber())
	for _, n := range out.Numbers {
		if n < base-10 || n > base+10 {
			t.Errorf("number %d outside the ±10 window around %d", n, base)
		}
	}
}
